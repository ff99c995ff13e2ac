// Package ratelimit provides fixed-window request limiting backed by the
// shared cache counter, with an in-memory fallback when the counter store
// is unreachable.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgequest/edgequest/internal/cache"
	"github.com/edgequest/edgequest/internal/logging"
)

// Config holds the per-client window parameters.
type Config struct {
	// Requests is the number of requests allowed per window.
	Requests int `json:"requests"`
	// Window is the fixed window length.
	Window time.Duration `json:"window"`
}

func (c Config) withDefaults() Config {
	if c.Requests <= 0 {
		c.Requests = 60
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	return c
}

// Result is the outcome of one limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per key in fixed windows on a shared counter so
// every instance sees the same budget. When the counter store errors, the
// limiter degrades to per-instance in-memory windows and periodically
// probes the store to resume shared counting.
type Limiter struct {
	counter cache.Counter
	cfg     Config

	local         *localWindows
	degraded      atomic.Bool
	probeMu       sync.Mutex
	lastProbeTime atomic.Value // time.Time
}

// New creates a limiter over the given counter.
func New(counter cache.Counter, cfg Config) *Limiter {
	l := &Limiter{
		counter: counter,
		cfg:     cfg.withDefaults(),
		local:   newLocalWindows(),
	}
	l.lastProbeTime.Store(time.Time{})
	return l
}

// probeInterval is the minimum time between health probes of the shared
// counter while degraded.
const probeInterval = 5 * time.Second

// Allow consumes one request from key's current window.
func (l *Limiter) Allow(ctx context.Context, key string) Result {
	if l.degraded.Load() {
		if last, ok := l.lastProbeTime.Load().(time.Time); ok && time.Since(last) > probeInterval {
			go l.probeAndRecover(ctx)
		}
		return l.local.allow(key, l.cfg)
	}

	n, err := l.counter.Increment(ctx, "rl:"+key, l.cfg.Window)
	if err != nil {
		logging.Op().Warn("ratelimit: shared counter unavailable, degrading to local windows", "error", err)
		l.degraded.Store(true)
		l.lastProbeTime.Store(time.Now())
		return l.local.allow(key, l.cfg)
	}

	remaining := int64(l.cfg.Requests) - n
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   n <= int64(l.cfg.Requests),
		Limit:     l.cfg.Requests,
		Remaining: int(remaining),
		// The window expires at most one full window after the first hit.
		ResetAt: time.Now().Add(l.cfg.Window),
	}
}

// probeAndRecover checks whether the shared counter is reachable again.
func (l *Limiter) probeAndRecover(ctx context.Context) {
	if !l.probeMu.TryLock() {
		return
	}
	defer l.probeMu.Unlock()

	l.lastProbeTime.Store(time.Now())
	if _, err := l.counter.Increment(ctx, "rl:probe:health", time.Second); err == nil {
		logging.Op().Info("ratelimit: shared counter recovered, resuming distributed mode")
		l.degraded.Store(false)
	}
}

// Degraded reports whether the limiter is counting per-instance.
func (l *Limiter) Degraded() bool {
	return l.degraded.Load()
}

// localWindows is the per-instance fixed-window fallback.
type localWindows struct {
	mu      sync.Mutex
	windows map[string]*localWindow
}

type localWindow struct {
	n       int
	resetAt time.Time
}

func newLocalWindows() *localWindows {
	return &localWindows{windows: make(map[string]*localWindow)}
}

func (l *localWindows) allow(key string, cfg Config) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) {
		w = &localWindow{resetAt: now.Add(cfg.Window)}
		l.windows[key] = w
	}
	w.n++

	remaining := cfg.Requests - w.n
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   w.n <= cfg.Requests,
		Limit:     cfg.Requests,
		Remaining: remaining,
		ResetAt:   w.resetAt,
	}
}
