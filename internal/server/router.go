// Package server builds the HTTP API around the search service: routes,
// the middleware stack and the JSON handlers.
//
// SPDX-License-Identifier: AGPL-3.0-or-later
package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jsdraven/HashMiner_GoLang/internal/config"
	"github.com/jsdraven/HashMiner_GoLang/internal/logging"
	"github.com/jsdraven/HashMiner_GoLang/internal/metrics"
	"github.com/jsdraven/HashMiner_GoLang/internal/middleware/rateban"
	"github.com/jsdraven/HashMiner_GoLang/internal/middleware/security"
	"github.com/jsdraven/HashMiner_GoLang/internal/service"
)

// Server is the application handler. Close releases its background work.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	svc     *service.Service
	metrics *metrics.Recorder // nil when disabled
	guard   *rateban.Guard
	router  chi.Router
}

// New wires the service, metrics and middleware into a chi router.
func New(cfg *config.Config, logger *slog.Logger) *Server {
	s := &Server{cfg: cfg, logger: logger}
	if cfg.MetricsEnable {
		s.metrics = metrics.New()
	}
	// a nil *Recorder in a non-nil interface would still be called
	var obs service.Observer
	if s.metrics != nil {
		obs = s.metrics
	}
	s.svc = service.New(cfg, logger, obs)
	s.guard = rateban.New(cfg, logger)

	if s.metrics != nil {
		s.metrics.GaugeFunc("running", "Whether searches may run.", metrics.BoolGauge(s.svc.Running))
		s.metrics.GaugeFunc("searches_in_flight", "Searches currently running.",
			func() float64 { return float64(s.svc.InFlight()) })
		s.metrics.GaugeFunc("bans_active", "Clients currently banned.",
			func() float64 { return float64(s.guard.Active()) })
	}

	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Use(s.guard.Middleware())

	r.Use(security.RequireHTTPS(s.cfg))
	r.Use(security.AllowedHosts(s.cfg))
	r.Use(security.MaxBodyBytes(s.cfg))
	r.Use(security.Headers(s.cfg))
	r.Use(security.CORS(s.cfg))

	r.Use(logging.Middleware(s.cfg, s.logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "HashMiner is running")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/mine", s.handleMine)
		r.Post("/stop", s.handleStop)
		r.Post("/resume", s.handleResume)
		r.Get("/status", s.handleStatus)
		r.Get("/candidates", s.handleCandidates)
	})

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	if s.cfg.AdminEndpointsEnable {
		r.Get("/admin/bans", s.guard.HandleListBans())
	}
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Service exposes the search service, mainly for shutdown.
func (s *Server) Service() *service.Service { return s.svc }

// Close stops running searches so their handlers return, and ends the
// rate limiter's sweeper.
func (s *Server) Close() {
	s.svc.Stop()
	s.guard.Stop()
}
