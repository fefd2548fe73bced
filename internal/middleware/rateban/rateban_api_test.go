// SPDX-License-Identifier: AGPL-3.0-or-later
package rateban_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsdraven/HashMiner_GoLang/internal/config"
	"github.com/jsdraven/HashMiner_GoLang/internal/logging"
	"github.com/jsdraven/HashMiner_GoLang/internal/middleware/rateban"
)

func strictConfig(threshold int) *config.Config {
	cfg := config.Load()
	cfg.RateLimitRPS = 0
	cfg.RateLimitBurst = 0
	cfg.BanThreshold = threshold
	cfg.BanWindowSeconds = 60
	cfg.BanDurationSeconds = 60
	cfg.BanSilentDrop = false
	return cfg
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestGuard_BanAfterThreshold(t *testing.T) {
	cfg := strictConfig(3)
	g := rateban.New(cfg, logging.Discard())
	t.Cleanup(g.Stop)
	h := g.Middleware()(okHandler())

	req := httptest.NewRequest(http.MethodPost, "http://miner.local/api/v1/mine", nil)
	req.RemoteAddr = "203.0.113.9:12345"

	for i := 0; i < cfg.BanThreshold; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		require.Equal(t, http.StatusTooManyRequests, rr.Code, "hit %d", i+1)
		assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, 1, g.Active())

	// still banned on the next request
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestGuard_AllowsWithinBurst(t *testing.T) {
	cfg := config.Load()
	cfg.RateLimitRPS = 1
	cfg.RateLimitBurst = 2
	g := rateban.New(cfg, logging.Discard())
	t.Cleanup(g.Stop)
	h := g.Middleware()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "http://miner.local/api/v1/status", nil)
	req.RemoteAddr = "198.51.100.1:1"
	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	}
	assert.Zero(t, g.Active())
}

func TestGuard_ListBans(t *testing.T) {
	g := rateban.New(strictConfig(1), logging.Discard())
	t.Cleanup(g.Stop)
	h := g.Middleware()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "http://miner.local/x", nil)
	req.RemoteAddr = "198.51.100.7:54321"
	h.ServeHTTP(httptest.NewRecorder(), req) // 429
	h.ServeHTTP(httptest.NewRecorder(), req) // ban

	rr := httptest.NewRecorder()
	g.HandleListBans().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://miner.local/admin/bans", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var rows []rateban.Ban
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "198.51.100.7", rows[0].IP)
}

func TestGuard_SilentDropFallsBackTo403(t *testing.T) {
	cfg := strictConfig(1)
	cfg.BanSilentDrop = true // recorder cannot hijack
	g := rateban.New(cfg, logging.Discard())
	t.Cleanup(g.Stop)
	h := g.Middleware()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "http://miner.local/x", nil)
	req.RemoteAddr = "203.0.113.55:1111"

	rr1 := httptest.NewRecorder()
	h.ServeHTTP(rr1, req)
	assert.Equal(t, http.StatusTooManyRequests, rr1.Code)

	rr2 := httptest.NewRecorder()
	h.ServeHTTP(rr2, req)
	assert.Equal(t, http.StatusForbidden, rr2.Code)
}

func TestGuard_StopIdempotent(t *testing.T) {
	g := rateban.New(config.Load(), logging.Discard())
	g.Stop()
	g.Stop()
}
