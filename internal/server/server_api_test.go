// Package server tests the HTTP API
//
// SPDX-License-Identifier: AGPL-3.0-or-later
package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsdraven/HashMiner_GoLang/internal/config"
	"github.com/jsdraven/HashMiner_GoLang/internal/logging"
	"github.com/jsdraven/HashMiner_GoLang/internal/server"
	"github.com/jsdraven/HashMiner_GoLang/internal/service"
)

const unreachable = "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"

func testConfig() *config.Config {
	cfg := config.Load()
	cfg.RateLimitRPS = 1000
	cfg.RateLimitBurst = 1000
	cfg.MaxConcurrent = 4
	cfg.MaxRange = 0
	cfg.ScratchLimit = 1 << 20
	cfg.MaxExport = 1000
	cfg.MetricsEnable = true
	cfg.AdminEndpointsEnable = false
	return cfg
}

func newServer(t *testing.T, cfg *config.Config) *server.Server {
	t.Helper()
	s := server.New(cfg, logging.Discard())
	t.Cleanup(s.Close)
	return s
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestHealthzAndRoot(t *testing.T) {
	s := newServer(t, testConfig())

	rr := do(s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", strings.TrimSpace(rr.Body.String()))

	rr = do(s, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "HashMiner")
	assert.NotEmpty(t, rr.Header().Get("Content-Security-Policy"))

	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/nope", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(s, http.MethodGet, "/api/v1/mine", "").Code)
}

func TestMine_Found(t *testing.T) {
	s := newServer(t, testConfig())

	rr := do(s, http.MethodPost, "/api/v1/mine",
		`{"seed":"block-7","alphabet":"0123456789abcdef","start":0,"end":1000000,"target":"0000"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	resp := decode[service.Response](t, rr)
	assert.True(t, resp.Found)
	assert.Equal(t, "found", resp.Status)
	assert.Equal(t, "76bf", resp.Candidate)
	assert.Equal(t, uint64(68727), resp.Index)
	assert.Equal(t, "00001dbb7166e1d6518d78c227f6cb965f680e89d732d19bf9be5b1fba12bc0e", resp.Digest)
}

func TestMine_Exhausted(t *testing.T) {
	s := newServer(t, testConfig())
	rr := do(s, http.MethodPost, "/api/v1/mine", `{"seed":"seed","alphabet":"ab","start":0,"end":5,"target":"0"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[service.Response](t, rr)
	assert.False(t, resp.Found)
	assert.Equal(t, "exhausted", resp.Status)
	assert.Equal(t, uint64(5), resp.Hashes)
}

func TestMine_BadRequests(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRange = 1000
	s := newServer(t, cfg)

	cases := map[string]string{
		"malformed":      `{"seed":`,
		"unknown field":  `{"seed":"s","alphabet":"ab","end":1,"nonce":3}`,
		"empty alphabet": `{"seed":"s","alphabet":"","end":1}`,
		"duplicate":      `{"seed":"s","alphabet":"aba","end":1}`,
		"non-ASCII":      `{"seed":"s","alphabet":"éa","start":0,"end":10,"target":""}`,
		"control byte":   `{"seed":"s","alphabet":"a\u0000","end":10}`,
		"reversed range": `{"seed":"s","alphabet":"ab","start":9,"end":1}`,
		"upper target":   `{"seed":"s","alphabet":"ab","end":1,"target":"AB"}`,
		"range too big":  `{"seed":"s","alphabet":"ab","end":1001}`,
		"negative end":   `{"seed":"s","alphabet":"ab","end":-1}`,
	}
	for name, body := range cases {
		rr := do(s, http.MethodPost, "/api/v1/mine", body)
		assert.Equal(t, http.StatusBadRequest, rr.Code, name)
		assert.NotEmpty(t, decode[map[string]string](t, rr)["error"], name)
	}
}

func TestMine_OutOfMemory(t *testing.T) {
	cfg := testConfig()
	cfg.ScratchLimit = 1024
	s := newServer(t, cfg)

	rr := do(s, http.MethodPost, "/api/v1/mine", `{"seed":"s","alphabet":"x","start":0,"end":1048576}`)
	assert.Equal(t, http.StatusInsufficientStorage, rr.Code)
}

func TestMine_BodyTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBodyBytes = 16
	s := newServer(t, cfg)

	rr := do(s, http.MethodPost, "/api/v1/mine", `{"seed":"`+strings.Repeat("a", 64)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestMine_BusyThenStop(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 1
	s := newServer(t, cfg)

	first := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		first <- do(s, http.MethodPost, "/api/v1/mine",
			`{"seed":"forever","alphabet":"0123456789abcdef","start":0,"end":4611686018427387904,"target":"`+unreachable+`"}`)
	}()
	require.Eventually(t, func() bool { return s.Service().InFlight() == 1 }, 5*time.Second, time.Millisecond)

	status := decode[service.State](t, do(s, http.MethodGet, "/api/v1/status", ""))
	assert.Equal(t, service.State{Running: true, InFlight: 1}, status)

	rr := do(s, http.MethodPost, "/api/v1/mine", `{"seed":"s","alphabet":"ab","end":1}`)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusNoContent, do(s, http.MethodPost, "/api/v1/stop", "").Code)
	got := <-first
	require.Equal(t, http.StatusOK, got.Code)
	assert.Equal(t, "cancelled", decode[service.Response](t, got).Status)

	status = decode[service.State](t, do(s, http.MethodGet, "/api/v1/status", ""))
	assert.Equal(t, service.State{Running: false, InFlight: 0}, status)

	assert.Equal(t, http.StatusNoContent, do(s, http.MethodPost, "/api/v1/resume", "").Code)
	assert.True(t, decode[service.State](t, do(s, http.MethodGet, "/api/v1/status", "")).Running)
}

func TestCandidates_Attachment(t *testing.T) {
	s := newServer(t, testConfig())

	rr := do(s, http.MethodGet, "/api/v1/candidates?alphabet=abc&start=0&count=5", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "a\nb\nc\naa\nba\n", rr.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), `filename="candidates-0-5.txt"`)

	rr = do(s, http.MethodGet, "/api/v1/candidates?alphabet=ab&name=../../etc/passwd", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 100, strings.Count(rr.Body.String(), "\n"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), `filename="etc_passwd"`)
}

func TestCandidates_Errors(t *testing.T) {
	cfg := testConfig()
	cfg.MaxExport = 10
	s := newServer(t, cfg)

	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodGet, "/api/v1/candidates?alphabet=", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodGet, "/api/v1/candidates?alphabet=%C3%A9a", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodGet, "/api/v1/candidates?alphabet=ab&count=11", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodGet, "/api/v1/candidates?alphabet=ab&start=x", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodGet, "/api/v1/candidates?alphabet=ab&count=-1", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newServer(t, testConfig())
	require.Equal(t, http.StatusOK, do(s, http.MethodPost, "/api/v1/mine", `{"seed":"seed","alphabet":"ab","end":100,"target":"0"}`).Code)

	rr := do(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `hashminer_searches_total{status="found"} 1`)
	assert.Contains(t, body, "hashminer_hashes_total 6")
	assert.Contains(t, body, "hashminer_running 1")
	assert.Contains(t, body, "hashminer_searches_in_flight 0")
	assert.Contains(t, body, "hashminer_bans_active 0")
}

func TestMetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.MetricsEnable = false
	s := newServer(t, cfg)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/metrics", "").Code)
	assert.Equal(t, http.StatusOK, do(s, http.MethodPost, "/api/v1/mine", `{"seed":"s","alphabet":"ab","end":3}`).Code)
}

func TestAdminBans(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, http.StatusNotFound, do(newServer(t, cfg), http.MethodGet, "/admin/bans", "").Code)

	cfg = testConfig()
	cfg.AdminEndpointsEnable = true
	rr := do(newServer(t, cfg), http.MethodGet, "/admin/bans", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rr.Body.String()))
}

func TestRateLimitApplies(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPS = 0
	cfg.RateLimitBurst = 1
	s := newServer(t, cfg)

	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(s, http.MethodGet, "/healthz", "").Code)
}

func requestLine(t *testing.T, logs string) map[string]any {
	t.Helper()
	for _, line := range strings.Split(strings.TrimSpace(logs), "\n") {
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		if m["msg"] == "http_request" {
			return m
		}
	}
	t.Fatalf("no http_request line in %q", logs)
	return nil
}

func TestMine_RequestLogCarriesOutcome(t *testing.T) {
	cfg := testConfig()
	var buf strings.Builder
	s := server.New(cfg, logging.New(cfg, &buf))
	t.Cleanup(s.Close)

	rr := do(s, http.MethodPost, "/api/v1/mine", `{"seed":"seed","alphabet":"ab","start":0,"end":100,"target":"0"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	m := requestLine(t, buf.String())
	assert.Equal(t, "/api/v1/mine", m["route"])
	assert.Equal(t, "found", m["search_status"])
	assert.EqualValues(t, 6, m["hashes"])
	assert.EqualValues(t, 100, m["range"])

	buf.Reset()
	rr = do(s, http.MethodPost, "/api/v1/mine", `{"seed":"s","alphabet":"éa","end":10}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	m = requestLine(t, buf.String())
	assert.Contains(t, m["error"], "printable ASCII")
	assert.NotContains(t, m, "search_status")
}
