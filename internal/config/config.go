// Package config loads application configuration from the environment variables
// (supports a local .env file) and applies secure defaults
//
// SPDX-License-Identifier: AGPL-3.0-or-later
package config

import (
	"crypto/tls"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults for the search parameters when nothing is configured.
const (
	DefaultSeed     = "Initial value!"
	DefaultAlphabet = `!"#$%&'()*+,-./:;<=>?@[\]^_` + "`" + `{|}~` +
		"0123456789" +
		"abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	DefaultTarget    = "00000000"
	DefaultRoundSize = 100_000_000
)

type Config struct {
	Addr              string
	LogLevel          slog.Level
	LogFile           string // empty => stdout
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration

	// Search
	Seed          string
	Alphabet      string
	Target        string
	RoundSize     uint64
	Workers       int
	ScratchLimit  int64  // bytes of scratch shared by all concurrent searches
	MaxRange      uint64 // largest end-start accepted over HTTP
	MaxConcurrent int64  // concurrent HTTP searches
	MaxExport     uint64 // candidates per export request
	MetricsEnable bool

	// Security / CORS
	Env                string // dev|prod (affects some defaults later)
	HTTPSRedirect      bool   // if true, redirect HTTP -> HTTPS
	HTTPSRedirectSet   bool   // HTTPS_REDIRECT was given explicitly
	HSTSEnable         bool   // if true, set HSTS on HTTPS responses
	HSTSMaxAgeSeconds  int    // e.g., 63072000 (2 years)
	HSTSIncludeSubDom  bool
	HSTSPreload        bool     // keep false by default unless user opts in
	CORSAllowedOrigins []string // exact origins (comma-separated list in env)
	CORSAllowCreds     bool     // allow credentials for CORS responses
	CSPReportOnly      bool     // set CSP in Report-Only mode

	// Request/host hardening
	AllowedHosts []string // exact hostnames (comma-separated)
	MaxBodyBytes int64    // 0 => unlimited
	TrustProxy   bool     // honor X-Forwarded-For

	// Rate limit + ban
	RateLimitRPS         float64
	RateLimitBurst       int
	BanThreshold         int // 429s inside the window before a ban
	BanWindowSeconds     int
	BanDurationSeconds   int
	BanSilentDrop        bool
	AdminEndpointsEnable bool

	// Request logging
	LogIncludeQuery   bool
	LogSkipPaths      []string
	LogAllowedHeaders []string
	LogRedactHeaders  []string
	LogHashIPs        bool
	LogIPHashSalt     string

	// TLS (self-termination)
	TLSDisable          bool
	TLSCertFile         string
	TLSKeyFile          string
	TLSPFXFile          string
	TLSPFXPassword      string
	TLSAutocertEnable   bool
	TLSAutocertHosts    []string
	TLSAutocertEmail    string
	TLSAutocertCacheDir string
	TLSACMEDirectoryURL string
	TLSMinVersion       uint16 // tls.VersionTLS13 or tls.VersionTLS12
	TLS12CipherSuites   []string
}

func Load() *Config {
	// Load .env if present (ignored if missing)
	_ = godotenv.Load()

	port := getenvDefault("PORT", "8080")
	addr := ":" + port

	level := parseLevel(getenvDefault("LOG_LEVEL", "INFO"))

	workers := getenvIntDefault("MINE_WORKERS", runtime.NumCPU())
	if workers < 1 {
		workers = 1
	}
	roundSize := getenvUintDefault("MINE_ROUND", DefaultRoundSize)
	if roundSize == 0 {
		roundSize = DefaultRoundSize
	}

	env := strings.ToLower(getenvDefault("ENV", "dev"))
	_, redirectSet := os.LookupEnv("HTTPS_REDIRECT")
	tlsMin := strings.TrimSpace(strings.ToUpper(getenvDefault("TLS_MIN_VERSION", "TLS1.3")))
	var tlsMinVer uint16 = tls.VersionTLS13
	if tlsMin == "TLS1.2" {
		tlsMinVer = tls.VersionTLS12
	}

	return &Config{
		Addr:              addr,
		LogLevel:          level,
		LogFile:           getenvDefault("LOG_FILE", ""),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// mining requests hold the response open for the whole search
		WriteTimeout: time.Duration(getenvIntDefault("WRITE_TIMEOUT_SECONDS", 120)) * time.Second,
		IdleTimeout:  60 * time.Second,

		Seed:          getenvDefault("MINE_SEED", DefaultSeed),
		Alphabet:      getenvDefault("MINE_ALPHABET", DefaultAlphabet),
		Target:        getenvDefault("MINE_TARGET", DefaultTarget),
		RoundSize:     roundSize,
		Workers:       workers,
		ScratchLimit:  int64(getenvIntDefault("MINE_SCRATCH_LIMIT", 1<<20)),
		MaxRange:      getenvUintDefault("MINE_MAX_RANGE", 50_000_000),
		MaxConcurrent: int64(getenvIntDefault("MINE_MAX_CONCURRENT", runtime.NumCPU())),
		MaxExport:     getenvUintDefault("MINE_MAX_EXPORT", 100_000),
		MetricsEnable: getenvBoolDefault("METRICS_ENABLE", true),

		Env:                env,
		HTTPSRedirect:      getenvBoolDefault("HTTPS_REDIRECT", false), // dev-friendly default
		HTTPSRedirectSet:   redirectSet,
		HSTSEnable:         getenvBoolDefault("HSTS_ENABLE", false), // off by default (safer for clones)
		HSTSMaxAgeSeconds:  getenvIntDefault("HSTS_MAX_AGE", 0),
		HSTSIncludeSubDom:  getenvBoolDefault("HSTS_INCLUDE_SUBDOMAINS", false),
		HSTSPreload:        getenvBoolDefault("HSTS_PRELOAD", false),
		CORSAllowedOrigins: splitCSV(getenvDefault("CORS_ALLOWED_ORIGINS", "")), // empty => same-origin only
		CORSAllowCreds:     getenvBoolDefault("CORS_ALLOW_CREDENTIALS", false),
		CSPReportOnly:      getenvBoolDefault("CSP_REPORT_ONLY", false),

		AllowedHosts: splitCSV(getenvDefault("ALLOWED_HOSTS", "")), // empty => any
		MaxBodyBytes: int64(getenvIntDefault("MAX_BODY_BYTES", 64<<10)),
		TrustProxy:   getenvBoolDefault("TRUST_PROXY", false),

		RateLimitRPS:         getenvFloatDefault("RATE_LIMIT_RPS", 5),
		RateLimitBurst:       getenvIntDefault("RATE_LIMIT_BURST", 10),
		BanThreshold:         getenvIntDefault("BAN_THRESHOLD", 20),
		BanWindowSeconds:     getenvIntDefault("BAN_WINDOW_SECONDS", 60),
		BanDurationSeconds:   getenvIntDefault("BAN_DURATION_SECONDS", 900),
		BanSilentDrop:        getenvBoolDefault("BAN_SILENT_DROP", false),
		AdminEndpointsEnable: getenvBoolDefault("ADMIN_ENDPOINTS_ENABLE", false),

		LogIncludeQuery:   getenvBoolDefault("LOG_INCLUDE_QUERY", false),
		LogSkipPaths:      splitCSV(getenvDefault("LOG_SKIP_PATHS", "/healthz,/metrics")),
		LogAllowedHeaders: splitCSV(getenvDefault("LOG_ALLOWED_HEADERS", "")),
		LogRedactHeaders:  splitCSV(getenvDefault("LOG_REDACT_HEADERS", "Authorization,Cookie")),
		LogHashIPs:        getenvBoolDefault("LOG_HASH_IPS", false),
		LogIPHashSalt:     getenvDefault("LOG_IP_HASH_SALT", ""),

		TLSDisable:          getenvBoolDefault("TLS_DISABLE", false),
		TLSCertFile:         getenvDefault("TLS_CERT_FILE", ""),
		TLSKeyFile:          getenvDefault("TLS_KEY_FILE", ""),
		TLSPFXFile:          getenvDefault("TLS_PFX_FILE", ""),
		TLSPFXPassword:      getenvDefault("TLS_PFX_PASSWORD", ""),
		TLSAutocertEnable:   getenvBoolDefault("TLS_AUTOCERT_ENABLE", false),
		TLSAutocertHosts:    splitCSV(getenvDefault("TLS_AUTOCERT_HOSTS", "")),
		TLSAutocertEmail:    getenvDefault("TLS_AUTOCERT_EMAIL", ""),
		TLSAutocertCacheDir: getenvDefault("TLS_AUTOCERT_CACHE_DIR", "certs/autocert"),
		TLSACMEDirectoryURL: getenvDefault("TLS_ACME_DIRECTORY_URL", ""),
		TLSMinVersion:       tlsMinVer,
		TLS12CipherSuites:   splitCSV(getenvDefault("TLS12_CIPHER_SUITES", "")),
	}
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvBoolDefault(k string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(k)))
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func getenvIntDefault(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return def
}

func getenvUintDefault(k string, def uint64) uint64 {
	v := strings.TrimSpace(strings.ReplaceAll(os.Getenv(k), "_", ""))
	if v == "" {
		return def
	}
	if n, err := strconv.ParseUint(v, 10, 64); err == nil {
		return n
	}
	return def
}

func getenvFloatDefault(k string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
