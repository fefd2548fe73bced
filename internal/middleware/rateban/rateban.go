// Package rateban: per-IP rate limit + auto-ban middleware guarding the
// mining API. Each client gets a token bucket; every 429 inside the window
// counts as a strike and crossing the threshold bans the address.
//
// SPDX-License-Identifier: AGPL-3.0-or-later
package rateban

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jsdraven/HashMiner_GoLang/internal/config"
	"github.com/jsdraven/HashMiner_GoLang/internal/logging"
)

// Guard holds per-client limiter state.
type Guard struct {
	mu        sync.Mutex
	limits    map[string]*rate.Limiter // ip -> bucket
	strikes   map[string][]time.Time   // ip -> times of 429s
	bans      map[string]time.Time     // ip -> ban expiry
	cfg       *config.Config
	logger    *slog.Logger
	nowFunc   func() time.Time
	stopOnce  sync.Once
	stopSweep chan struct{}
	lastSweep time.Time
}

// Ban is one row of the admin listing.
type Ban struct {
	IP     string `json:"ip"`
	Expire string `json:"expire"`
}

// New starts a Guard and its background sweeper. Call Stop on shutdown.
func New(cfg *config.Config, logger *slog.Logger) *Guard {
	g := &Guard{
		limits:    make(map[string]*rate.Limiter),
		strikes:   make(map[string][]time.Time),
		bans:      make(map[string]time.Time),
		cfg:       cfg,
		logger:    logger,
		nowFunc:   time.Now,
		stopSweep: make(chan struct{}),
	}

	interval := time.Duration(max(15, min(120, cfg.BanWindowSeconds/2))) * time.Second
	go func() {
		tk := time.NewTicker(interval)
		defer tk.Stop()
		for {
			select {
			case <-tk.C:
				g.sweep(g.now())
			case <-g.stopSweep:
				return
			}
		}
	}()
	return g
}

// Stop ends the sweeper. Safe to call more than once.
func (g *Guard) Stop() {
	g.stopOnce.Do(func() { close(g.stopSweep) })
}

func (g *Guard) window() time.Duration {
	win := time.Duration(g.cfg.BanWindowSeconds) * time.Second
	if win <= 0 {
		win = 60 * time.Second
	}
	return win
}

func (g *Guard) now() time.Time {
	if f := g.nowFunc; f != nil {
		return f()
	}
	return time.Now()
}

// sweep lifts expired bans and forgets strikes that left the window.
func (g *Guard) sweep(now time.Time) {
	win := g.window()
	var lifted []string

	g.mu.Lock()
	for ip, exp := range g.bans {
		if now.After(exp) {
			delete(g.bans, ip)
			lifted = append(lifted, ip)
		}
	}
	for ip, arr := range g.strikes {
		if kept := prune(arr, now, win); len(kept) == 0 {
			delete(g.strikes, ip)
		} else {
			g.strikes[ip] = kept
		}
	}
	g.lastSweep = now
	g.mu.Unlock()

	for _, ip := range lifted {
		g.logger.Info("ip_unbanned", "ip", ip)
	}
}

func (g *Guard) maybeSweep(now time.Time) {
	g.mu.Lock()
	due := g.lastSweep.IsZero() || now.Sub(g.lastSweep) >= g.window()
	g.mu.Unlock()
	if due {
		g.sweep(now)
	}
}

// prune compacts arr in place, keeping timestamps younger than win.
func prune(arr []time.Time, now time.Time, win time.Duration) []time.Time {
	j := 0
	for _, ts := range arr {
		if now.Sub(ts) <= win {
			arr[j] = ts
			j++
		}
	}
	return arr[:j]
}

func (g *Guard) limiterFor(ip string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	lim, ok := g.limits[ip]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(g.cfg.RateLimitRPS), g.cfg.RateLimitBurst)
		g.limits[ip] = lim
	}
	return lim
}

// strike records a 429 for ip and bans it once the count passes the threshold.
func (g *Guard) strike(ip string) (count int, until time.Time, banned bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	arr := prune(append(g.strikes[ip], now), now, g.window())
	count = len(arr)
	if count > g.cfg.BanThreshold {
		until = now.Add(time.Duration(g.cfg.BanDurationSeconds) * time.Second)
		g.bans[ip] = until
		delete(g.strikes, ip)
		return count, until, true
	}
	g.strikes[ip] = arr
	return count, time.Time{}, false
}

func (g *Guard) bannedUntil(ip string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	exp, ok := g.bans[ip]
	if !ok {
		return time.Time{}, false
	}
	if g.now().After(exp) {
		delete(g.bans, ip)
		return time.Time{}, false
	}
	return exp, true
}

// deny answers a banned client: a dropped connection when configured and
// the writer can hijack, 403 otherwise.
func (g *Guard) deny(w http.ResponseWriter) {
	if g.cfg.BanSilentDrop {
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				_ = conn.Close()
				return
			}
		}
	}
	http.Error(w, "forbidden", http.StatusForbidden)
}

// Middleware enforces the rate limit and bans abusive clients.
func (g *Guard) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.maybeSweep(g.now())
			ip := logging.ClientIP(r, g.cfg.TrustProxy)

			if until, banned := g.bannedUntil(ip); banned {
				g.logger.Warn("ip_denied_banned", "ip", ip, "ban_expires", until)
				g.deny(w)
				return
			}

			if !g.limiterFor(ip).Allow() {
				count, until, banned := g.strike(ip)
				g.logger.Warn("rate_limited", "ip", ip, "strikes", count,
					"limit_rps", g.cfg.RateLimitRPS, "burst", g.cfg.RateLimitBurst)
				if banned {
					g.logger.Error("ip_banned", "ip", ip, "ban_expires", until)
					g.deny(w)
					return
				}
				w.Header().Set("Retry-After", "1")
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Bans lists active bans ordered by IP.
func (g *Guard) Bans() []Ban {
	now := g.now()
	g.sweep(now)

	out := []Ban{}
	g.mu.Lock()
	for ip, exp := range g.bans {
		if now.Before(exp) {
			out = append(out, Ban{IP: ip, Expire: exp.UTC().Format(time.RFC3339)})
		}
	}
	g.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out
}

// Active reports how many clients are banned right now.
func (g *Guard) Active() int {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, exp := range g.bans {
		if now.Before(exp) {
			n++
		}
	}
	return n
}

// HandleListBans writes Bans as JSON.
func (g *Guard) HandleListBans() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(g.Bans())
	}
}
