// Package entry runs the mining daemon: it binds the listener, picks the
// TLS mode from config, serves the API and shuts down on context end.
//
// SPDX-License-Identifier: AGPL-3.0-or-later
package entry

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"

	"github.com/jsdraven/HashMiner_GoLang/internal/config"
	"github.com/jsdraven/HashMiner_GoLang/internal/logging"
	"github.com/jsdraven/HashMiner_GoLang/internal/server"
	"github.com/jsdraven/HashMiner_GoLang/internal/tlsutil"
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 5 * time.Second

// redirectAddr is where the HTTP->HTTPS redirect (and ACME HTTP-01) listens.
var redirectAddr = ":80"

// TLS serving modes, in the order they are tried.
const (
	modePlain      = "plain"
	modeAutocert   = "autocert"
	modePFX        = "pfx"
	modePEM        = "pem"
	modeSelfSigned = "self_signed"
)

// BindListener binds a TCP listener and logs failures.
func BindListener(addr string, logger *slog.Logger) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("listen_error", "err", err, "addr", addr)
		return nil, err
	}
	return ln, nil
}

// Run builds the logger, binds cfg.Addr and serves until ctx ends.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := logging.New(cfg)

	ln, err := BindListener(cfg.Addr, logger)
	if err != nil {
		return err
	}
	defer ln.Close()

	return ServeOnListener(ctx, ln, cfg, logger)
}

// tlsPlan is the chosen serving mode.
type tlsPlan struct {
	mode     string
	config   *tls.Config  // nil for plain HTTP
	redirect http.Handler // served on redirectAddr when non-nil
}

// planTLS picks the first usable mode: plain when TLS is disabled, then
// ACME, PFX, PEM and finally a generated self-signed certificate. A PFX or
// PEM pair that fails to load falls through to the next mode.
func planTLS(cfg *config.Config, logger *slog.Logger) (tlsPlan, error) {
	if cfg.TLSDisable {
		return tlsPlan{mode: modePlain}, nil
	}

	var redirect http.Handler
	if wantHTTPRedirect(cfg, false) {
		redirect = redirectToHTTPSHandler(cfg.Addr)
	}

	if cfg.TLSAutocertEnable && len(cfg.TLSAutocertHosts) > 0 {
		m := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			Cache:      autocert.DirCache(cfg.TLSAutocertCacheDir),
			HostPolicy: autocert.HostWhitelist(cfg.TLSAutocertHosts...),
			Email:      cfg.TLSAutocertEmail,
		}
		if cfg.TLSACMEDirectoryURL != "" {
			m.Client = &acme.Client{DirectoryURL: cfg.TLSACMEDirectoryURL}
		}
		// HTTP-01 challenges need port 80 whether or not we redirect
		return tlsPlan{
			mode:     modeAutocert,
			config:   tlsutil.ServerConfig(cfg, m.TLSConfig()),
			redirect: m.HTTPHandler(redirect),
		}, nil
	}

	if cfg.TLSPFXFile != "" {
		cert, err := tlsutil.LoadPFX(cfg.TLSPFXFile, cfg.TLSPFXPassword)
		if err == nil {
			return certPlan(cfg, modePFX, cert, redirect), nil
		}
		logger.Error("pfx_load_failed", "err", err)
	}

	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err == nil {
			return certPlan(cfg, modePEM, cert, redirect), nil
		}
		logger.Error("pem_load_failed", "err", err)
	}

	cert, err := tlsutil.GenerateSelfSigned()
	if err != nil {
		return tlsPlan{}, err
	}
	logger.Warn("using_self_signed_tls",
		"note", "for staging/dev; configure ACME/PFX/PEM for production",
		"sha256", tlsutil.Fingerprint(cert))
	redirect = nil
	if wantHTTPRedirect(cfg, true) {
		redirect = redirectToHTTPSHandler(cfg.Addr)
	}
	return certPlan(cfg, modeSelfSigned, cert, redirect), nil
}

func certPlan(cfg *config.Config, mode string, cert tls.Certificate, redirect http.Handler) tlsPlan {
	return tlsPlan{
		mode:     mode,
		config:   tlsutil.ServerConfig(cfg, &tls.Config{Certificates: []tls.Certificate{cert}}),
		redirect: redirect,
	}
}

// ServeOnListener serves the API on ln until ctx ends or serving fails.
// Running searches are stopped before the graceful shutdown begins.
func ServeOnListener(ctx context.Context, ln net.Listener, cfg *config.Config, logger *slog.Logger) error {
	plan, err := planTLS(cfg, logger)
	if err != nil {
		logger.Error("tls_setup_failed", "err", err)
		return err
	}

	app := server.New(cfg, logger)
	srv := &http.Server{
		Handler:           app,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	var side *http.Server
	if plan.redirect != nil {
		side = &http.Server{Addr: redirectAddr, Handler: plan.redirect, ReadHeaderTimeout: cfg.ReadHeaderTimeout}
		go func() {
			if err := side.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("http_redirect_bind_failed", "err", err, "addr", redirectAddr)
			}
		}()
	}

	serveLn := ln
	if plan.config != nil {
		serveLn = tls.NewListener(ln, plan.config)
	}
	logger.Info("server_listening", "addr", ln.Addr().String(), "tls", plan.mode)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(serveLn) }()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		}
		if serveErr != nil {
			logger.Error("server_error", "err", serveErr)
		}
	}

	app.Close()
	shutCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutCtx)
	if side != nil {
		_ = side.Shutdown(shutCtx)
	}
	logger.Info("server_stopped")
	return serveErr
}
