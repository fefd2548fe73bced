// Package security: response hardening, CORS and request guards for the
// mining API.
//
// SPDX-License-Identifier: AGPL-3.0-or-later
package security

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/jsdraven/HashMiner_GoLang/internal/config"
)

// APIPolicy is the CSP sent with every response. The service only answers
// JSON, text exports and a plain index page, so nothing may load.
const APIPolicy = "default-src 'none'; base-uri 'none'; frame-ancestors 'none'; form-action 'none'"

const (
	corsMethods = "GET, POST, OPTIONS"
	corsHeaders = "Accept, Content-Type"
	permissions = "accelerometer=(), camera=(), geolocation=(), gyroscope=(), microphone=(), payment=(), usb=()"
)

func passthrough(next http.Handler) http.Handler { return next }

// Headers sets the hardening headers, and HSTS on TLS responses when enabled.
func Headers(cfg *config.Config) func(http.Handler) http.Handler {
	cspHeader := "Content-Security-Policy"
	if cfg.CSPReportOnly {
		cspHeader = "Content-Security-Policy-Report-Only"
	}
	hsts := hstsValue(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set(cspHeader, APIPolicy)
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Permissions-Policy", permissions)
			h.Set("Cross-Origin-Opener-Policy", "same-origin")
			h.Set("Cross-Origin-Resource-Policy", "same-origin")
			h.Set("Cache-Control", "no-store")
			if hsts != "" && r.TLS != nil {
				h.Set("Strict-Transport-Security", hsts)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hstsValue(cfg *config.Config) string {
	if !cfg.HSTSEnable {
		return ""
	}
	val := "max-age=" + strconv.Itoa(max(0, cfg.HSTSMaxAgeSeconds))
	if cfg.HSTSIncludeSubDom {
		val += "; includeSubDomains"
	}
	if cfg.HSTSPreload {
		val += "; preload"
	}
	return val
}

// CORS answers preflights and reflects allowed origins.
// An empty allowlist means same-origin only.
func CORS(cfg *config.Config) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(cfg.CORSAllowedOrigins))
	for _, o := range cfg.CORSAllowedOrigins {
		allowed[o] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Add("Vary", "Origin")
			w.Header().Add("Vary", "Access-Control-Request-Method")
			w.Header().Add("Vary", "Access-Control-Request-Headers")

			preflight := r.Method == http.MethodOptions
			if _, ok := allowed[origin]; !ok {
				if preflight {
					w.WriteHeader(http.StatusNoContent)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			if cfg.CORSAllowCreds {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			if preflight {
				w.Header().Set("Access-Control-Allow-Methods", corsMethods)
				w.Header().Set("Access-Control-Allow-Headers", corsHeaders)
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireHTTPS redirects plain HTTP requests when cfg.HTTPSRedirect is set.
func RequireHTTPS(cfg *config.Config) func(http.Handler) http.Handler {
	if !cfg.HTTPSRedirect {
		return passthrough
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.TLS == nil {
				http.Redirect(w, r, "https://"+r.Host+r.URL.RequestURI(), http.StatusPermanentRedirect)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AllowedHosts rejects requests whose Host is not listed (421). Entries may
// name a bare host or host:port. No list means any host.
func AllowedHosts(cfg *config.Config) func(http.Handler) http.Handler {
	if len(cfg.AllowedHosts) == 0 {
		return passthrough
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedHosts))
	for _, h := range cfg.AllowedHosts {
		allowed[strings.ToLower(h)] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, exact := allowed[strings.ToLower(r.Host)]
			_, bare := allowed[hostOnly(r.Host)]
			if !exact && !bare {
				http.Error(w, "invalid host", http.StatusMisdirectedRequest)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hostOnly(hostport string) string {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	return strings.ToLower(host)
}

// MaxBodyBytes caps request bodies. A declared Content-Length over the
// limit is refused with 413 before the handler runs.
func MaxBodyBytes(cfg *config.Config) func(http.Handler) http.Handler {
	limit := cfg.MaxBodyBytes
	if limit <= 0 {
		return passthrough
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
