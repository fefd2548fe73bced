// Package logging_test: black-box tests for the logging package API surface.
package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsdraven/HashMiner_GoLang/internal/config"
	"github.com/jsdraven/HashMiner_GoLang/internal/logging"
)

// helper to grab and parse the last slog JSON object in buffer
func lastLogJSON(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	data := bytes.TrimSpace(buf.Bytes())
	require.NotEmpty(t, data, "expected at least one log line")
	lines := bytes.Split(data, []byte{'\n'})
	var m map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &m))
	return m
}

func TestNew_LogLevels(t *testing.T) {
	cfg := &config.Config{LogLevel: slog.LevelInfo}
	var buf bytes.Buffer
	logger := logging.New(cfg, &buf)

	logger.Debug("debug_message")
	logger.Info("info_message")
	logger.Warn("warn_message")

	out := buf.String()
	assert.Contains(t, out, `"level":"INFO","msg":"info_message"`)
	assert.Contains(t, out, `"level":"WARN","msg":"warn_message"`)
	assert.NotContains(t, out, `"level":"DEBUG","msg":"debug_message"`)
}

// TestNew_NilConfig_DefaultLevel verifies that passing a nil config defaults to LevelInfo.
func TestNew_NilConfig_DefaultLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(nil, &buf)

	logger.Debug("debug_message")
	logger.Info("info_message")

	out := buf.String()
	assert.NotContains(t, out, "debug_message")
	assert.Contains(t, out, `"level":"INFO","msg":"info_message"`)
}

func TestNew_WritesToLogFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "hashminer.log")
	logger := logging.New(&config.Config{LogLevel: slog.LevelInfo, LogFile: p})

	logger.Info("file_ok", "index", 68727)

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	out := string(bytes.TrimSpace(data))
	assert.Contains(t, out, `"msg":"file_ok"`)
	assert.Contains(t, out, `"index":68727`)
}

func TestNew_FallbackToStderr_OnOpenFailure(t *testing.T) {
	dir := t.TempDir() // a directory cannot be opened for writing

	var dflt bytes.Buffer
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&dflt, nil)))
	t.Cleanup(func() { slog.SetDefault(old) })

	logger := logging.New(&config.Config{LogLevel: slog.LevelInfo, LogFile: dir})
	require.NotNil(t, logger)
	assert.Contains(t, dflt.String(), "Failed to open log file")
}

func TestDiscard(t *testing.T) {
	l := logging.Discard()
	require.NotNil(t, l)
	l.Error("dropped")
}

func TestMiddleware_BasicRequestLogging(t *testing.T) {
	cfg := config.Load()
	var buf bytes.Buffer
	logger := logging.New(cfg, &buf)

	r := chi.NewRouter()
	r.Use(logging.Middleware(cfg, logger))
	r.Post("/api/v1/mine", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/mine", nil)
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	m := lastLogJSON(t, &buf)
	assert.Equal(t, "http_request", m["msg"])
	assert.Equal(t, "POST", m["method"])
	assert.Equal(t, "/api/v1/mine", m["path"])
	assert.Equal(t, "/api/v1/mine", m["route"])
	assert.EqualValues(t, 200, m["status"])
	assert.EqualValues(t, 2, m["bytes"])
}

func TestMiddleware_Annotations(t *testing.T) {
	cfg := config.Load()
	var buf bytes.Buffer
	logger := logging.New(cfg, &buf)

	r := chi.NewRouter()
	r.Use(logging.Middleware(cfg, logger))
	r.Post("/api/v1/mine", func(w http.ResponseWriter, r *http.Request) {
		logging.Annotate(r.Context(), "search_status", "found")
		logging.Annotate(r.Context(), "hashes", 42)
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/mine", nil))
	m := lastLogJSON(t, &buf)
	assert.Equal(t, "INFO", m["level"])
	assert.Equal(t, "found", m["search_status"])
	assert.EqualValues(t, 42, m["hashes"])

	buf.Reset()
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))
	m = lastLogJSON(t, &buf)
	assert.Equal(t, "ERROR", m["level"])
	assert.EqualValues(t, 500, m["status"])
	assert.NotContains(t, m, "search_status")

	buf.Reset()
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))
	m = lastLogJSON(t, &buf)
	assert.Equal(t, "-", m["route"])
	assert.EqualValues(t, 404, m["status"])
}

func TestAnnotate_OutsideMiddleware(t *testing.T) {
	assert.NotPanics(t, func() {
		logging.Annotate(context.Background(), "k", "v")
	})
}

func TestMiddleware_PathSkipping(t *testing.T) {
	cfg := config.Load()
	cfg.LogSkipPaths = []string{"/healthz"}

	var buf bytes.Buffer
	logger := logging.New(cfg, &buf)

	r := chi.NewRouter()
	r.Use(logging.Middleware(cfg, logger))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{}"))
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, bytes.TrimSpace(buf.Bytes()), "no logs should be emitted for /healthz")

	buf.Reset()
	rr2 := httptest.NewRecorder()
	r.ServeHTTP(rr2, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	require.Equal(t, http.StatusOK, rr2.Code)
	m := lastLogJSON(t, &buf)
	assert.Equal(t, "/api/v1/status", m["path"])
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:12345"
	req.Header.Set("X-Forwarded-For", "198.51.100.11:555, 198.51.100.12")

	assert.Equal(t, "203.0.113.9", logging.ClientIP(req, false))
	assert.Equal(t, "198.51.100.11", logging.ClientIP(req, true))

	req.Header.Del("X-Forwarded-For")
	assert.Equal(t, "203.0.113.9", logging.ClientIP(req, true))

	req.RemoteAddr = "not-an-addr"
	assert.Equal(t, "not-an-addr", logging.ClientIP(req, false))
}
