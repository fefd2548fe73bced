package logging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jsdraven/HashMiner_GoLang/internal/config"
)

type annotationsKey struct{}

// annotations collects the fields handlers attach to their request line.
type annotations struct {
	mu     sync.Mutex
	fields []any
}

// Annotate attaches key/value pairs to the http_request line Middleware
// writes for the request carried by ctx. Outside Middleware it does nothing.
func Annotate(ctx context.Context, kv ...any) {
	a, _ := ctx.Value(annotationsKey{}).(*annotations)
	if a == nil {
		return
	}
	a.mu.Lock()
	a.fields = append(a.fields, kv...)
	a.mu.Unlock()
}

// Middleware writes one http_request line per request, with the route
// pattern, whatever the handler attached through Annotate and the headers
// the config allows. 5xx responses are logged at error level.
func Middleware(cfg *config.Config, logger *slog.Logger) func(http.Handler) http.Handler {
	allowed := lowerSet(cfg.LogAllowedHeaders)
	redact := lowerSet(cfg.LogRedactHeaders)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := pathOf(r, cfg.LogIncludeQuery)
			if shouldSkip(path, cfg.LogSkipPaths) {
				next.ServeHTTP(w, r)
				return
			}

			notes := &annotations{}
			r = r.WithContext(context.WithValue(r.Context(), annotationsKey{}, notes))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			ipLabel, ipVal := ipForLog(r, cfg)
			fields := []any{
				"method", r.Method,
				"path", path,
				"route", routeOf(r),
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				ipLabel, ipVal,
				"request_id", middleware.GetReqID(r.Context()),
			}
			notes.mu.Lock()
			fields = append(fields, notes.fields...)
			notes.mu.Unlock()
			if hs := pickHeaders(r.Header, allowed, redact); hs != nil {
				fields = append(fields, "headers", hs)
			}

			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "http_request", fields...)
		})
	}
}

// routeOf returns the chi pattern that matched, or "-" when none did.
func routeOf(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "-"
}

// pathOf decides whether to log the request URI (with query) or just the path.
func pathOf(r *http.Request, includeQuery bool) string {
	if includeQuery {
		return r.URL.RequestURI()
	}
	return r.URL.Path
}

// shouldSkip checks if the request path matches any of the configured skip prefixes.
func shouldSkip(path string, skipPaths []string) bool {
	for _, pref := range skipPaths {
		pref = strings.TrimSpace(pref)
		if pref != "" && strings.HasPrefix(path, pref) {
			return true
		}
	}
	return false
}

// ClientIP gets the client IP, respecting trustProxy (first X-Forwarded-For hop) or RemoteAddr.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			ip := strings.TrimSpace(parts[0])
			if h, _, err := net.SplitHostPort(ip); err == nil && h != "" {
				return h
			}
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ipForLog determines the label and value for the IP address in the log, hashing if configured.
func ipForLog(r *http.Request, cfg *config.Config) (label string, value any) {
	ip := ClientIP(r, cfg.TrustProxy)
	if !cfg.LogHashIPs {
		return "remote", ip
	}
	sum := sha256.Sum256([]byte(cfg.LogIPHashSalt + ip))
	return "remote_hash", hex.EncodeToString(sum[:16]) // 128-bit prefix
}

func lowerSet(in []string) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for _, h := range in {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			out[h] = struct{}{}
		}
	}
	return out
}

// pickHeaders builds a compact header map based on allowlist/redact rules.
func pickHeaders(hdr http.Header, allowed, redact map[string]struct{}) map[string]string {
	if len(allowed) == 0 {
		return nil
	}
	out := make(map[string]string, len(allowed))
	for k, vals := range hdr {
		lk := strings.ToLower(k)
		if _, ok := allowed[lk]; !ok {
			continue
		}
		v := strings.Join(vals, ",")
		if _, red := redact[lk]; red {
			v = "[REDACTED]"
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
