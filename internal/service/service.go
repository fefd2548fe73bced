// Package service runs searches on behalf of the HTTP layer. Every search
// started here shares one stop flag, so Stop halts all of them and Resume
// lets new ones run again.
//
// SPDX-License-Identifier: AGPL-3.0-or-later
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jsdraven/HashMiner_GoLang/internal/config"
	"github.com/jsdraven/HashMiner_GoLang/pkg/mining"
)

var (
	// ErrBusy means the concurrent search cap is reached.
	ErrBusy = errors.New("service: too many searches in flight")

	// ErrRangeTooLarge means a request spans more indices than allowed. It
	// also matches mining.ErrInvalidArgument.
	ErrRangeTooLarge = errors.New("service: range too large")
)

// Request is one search.
type Request struct {
	Seed     string `json:"seed"`
	Alphabet string `json:"alphabet"`
	Start    uint64 `json:"start"`
	End      uint64 `json:"end"`
	Target   string `json:"target"`
}

// Response reports how a search ended. Candidate, Digest and Index are only
// meaningful when Found is true.
type Response struct {
	Found     bool   `json:"found"`
	Status    string `json:"status"`
	Candidate string `json:"candidate,omitempty"`
	Digest    string `json:"digest,omitempty"`
	Index     uint64 `json:"index"`
	Hashes    uint64 `json:"hashes"`
}

// State is a snapshot for the status endpoint.
type State struct {
	Running  bool  `json:"running"`
	InFlight int64 `json:"in_flight"`
}

// Observer receives finished searches.
type Observer interface {
	SearchFinished(status mining.Status, hashes uint64, elapsed time.Duration)
}

// Service is safe for concurrent use.
type Service struct {
	flag      *mining.Flag
	budget    *mining.Budget
	slots     *semaphore.Weighted
	inFlight  atomic.Int64
	maxRange  uint64
	maxExport uint64
	logger    *slog.Logger
	obs       Observer
}

// New builds a Service from the search limits in cfg. obs may be nil.
func New(cfg *config.Config, logger *slog.Logger, obs Observer) *Service {
	slots := cfg.MaxConcurrent
	if slots < 1 {
		slots = 1
	}
	return &Service{
		flag:      mining.NewFlag(),
		budget:    mining.NewBudget(cfg.ScratchLimit),
		slots:     semaphore.NewWeighted(slots),
		maxRange:  cfg.MaxRange,
		maxExport: cfg.MaxExport,
		logger:    logger,
		obs:       obs,
	}
}

// Mine runs one search to completion. It returns when a candidate matches,
// the range is exhausted, Stop is called, or ctx ends.
func (s *Service) Mine(ctx context.Context, req Request) (Response, error) {
	if err := mining.Validate(req.Alphabet, req.Start, req.End, req.Target); err != nil {
		return Response{}, err
	}
	if s.maxRange > 0 && req.End-req.Start > s.maxRange {
		return Response{}, fmt.Errorf("%w: %d indices, limit %d: %w",
			ErrRangeTooLarge, req.End-req.Start, s.maxRange, mining.ErrInvalidArgument)
	}
	if !s.slots.TryAcquire(1) {
		return Response{}, ErrBusy
	}
	defer s.slots.Release(1)

	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	m := mining.NewMiner(
		mining.WithSignal(mining.All(s.flag, mining.ContextSignal(ctx))),
		mining.WithBudget(s.budget),
	)

	started := time.Now()
	out, err := m.Search([]byte(req.Seed), req.Alphabet, req.Start, req.End, req.Target)
	elapsed := time.Since(started)
	if err != nil {
		s.logger.Warn("search_failed", "error", err, "start", req.Start, "end", req.End)
		return Response{}, err
	}

	if s.obs != nil {
		s.obs.SearchFinished(out.Status, out.Hashes, elapsed)
	}

	resp := Response{Status: out.Status.String(), Hashes: out.Hashes}
	fields := []any{
		"status", resp.Status,
		"hashes", out.Hashes,
		"duration_ms", elapsed.Milliseconds(),
		"start", req.Start,
		"end", req.End,
		"target", req.Target,
	}
	if r := out.Result; r != nil {
		resp.Found = true
		resp.Candidate = r.Candidate
		resp.Digest = r.Digest
		resp.Index = r.Index
		fields = append(fields, "index", r.Index, "digest", r.Digest)
	}
	s.logger.Info("search_done", fields...)
	return resp, nil
}

// Stop asks every running search to end. New searches end immediately until
// Resume is called.
func (s *Service) Stop() {
	s.flag.RequestStop()
	s.logger.Info("searches_stopped", "in_flight", s.inFlight.Load())
}

// Resume lets searches run again.
func (s *Service) Resume() {
	s.flag.AllowRunning()
	s.logger.Info("searches_resumed")
}

// Running reports whether searches may run.
func (s *Service) Running() bool { return s.flag.Running() }

// InFlight is the number of searches currently executing.
func (s *Service) InFlight() int64 { return s.inFlight.Load() }

// Status snapshots Running and InFlight.
func (s *Service) Status() State {
	return State{Running: s.Running(), InFlight: s.InFlight()}
}
