// Package circuitbreaker implements the per-resource circuit breaker that
// guards calls to unreliable upstream dependencies (the social API, the
// scraper sidecar).
//
// # State machine
//
//	Closed ──(consecutive failures ≥ threshold)──► Open ──(RecoveryTimeout elapsed)──► HalfOpen
//	  ▲                                                                                    │
//	  └───────────────(probe succeeds)──────────────────────────────────────────────────────┘
//	                   (probe fails) ───────────────────────────────────────────────► Open
//
// # Shared state
//
// The failure counter and state transitions are persisted through a
// StateStore so the breaker is consistent across horizontally-scaled
// instances: one process tripping the breaker stops all of them from
// hammering a dependency that is already down. When the store itself is
// unreachable the breaker falls back to its last known local snapshot
// rather than failing the guarded call path.
//
// An operator can force the breaker Open or Closed through a manual
// override, which wins over the computed state until cleared.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/edgequest/edgequest/internal/logging"
	"github.com/edgequest/edgequest/internal/metrics"
)

// ErrOpen is returned by Execute when the breaker is open and no fallback
// was supplied. It marks a routed condition, not a crash: the caller turns
// it into a weaker-fidelity answer or a typed "temporarily unavailable".
var ErrOpen = errors.New("circuitbreaker: circuit open")

// State represents the breaker state.
type State int

const (
	StateClosed   State = iota // normal operation, calls pass through
	StateOpen                  // calls are short-circuited
	StateHalfOpen              // a single probe call is allowed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Override is the operator-set manual override.
type Override int

const (
	OverrideNone   Override = iota
	OverrideOpen            // force open regardless of computed state
	OverrideClosed          // force closed regardless of computed state
)

func (o Override) String() string {
	switch o {
	case OverrideOpen:
		return "open"
	case OverrideClosed:
		return "closed"
	default:
		return "none"
	}
}

// ParseOverride maps an operator-supplied string to an Override.
func ParseOverride(s string) (Override, error) {
	switch s {
	case "open":
		return OverrideOpen, nil
	case "closed":
		return OverrideClosed, nil
	case "none", "":
		return OverrideNone, nil
	default:
		return OverrideNone, fmt.Errorf("circuitbreaker: unknown override %q", s)
	}
}

// Config holds per-resource breaker tuning. Thresholds differ per resource:
// a user-facing submission path tolerates more failures before opening than
// a background batch job.
type Config struct {
	FailureThreshold int           `json:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
}

// DefaultConfig returns the breaker defaults applied when a resource has no
// explicit tuning.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  2 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = d.RecoveryTimeout
	}
	return c
}

// Snapshot is the persisted breaker state.
type Snapshot struct {
	State         State     `json:"state"`
	FailureCount  int       `json:"failure_count"`
	LastFailureAt time.Time `json:"last_failure_at"`
	OpenedAt      time.Time `json:"opened_at"`
	Override      Override  `json:"override"`
}

// Status is the admin-facing view of one breaker.
type Status struct {
	Resource      string    `json:"resource"`
	State         string    `json:"state"`
	FailureCount  int       `json:"failure_count"`
	LastFailureAt time.Time `json:"last_failure_at"`
	OpenedAt      time.Time `json:"opened_at"`
	Override      string    `json:"override,omitempty"`
	Config        Config    `json:"config"`
}

// nowFn is swapped in tests to step through recovery timeouts.
var nowFn = time.Now

// Breaker guards one named resource.
type Breaker struct {
	name  string
	cfg   Config
	store StateStore

	mu      sync.Mutex
	local   Snapshot // last known state, fallback when the store is down
	probing bool     // an in-process half-open probe is in flight
}

// New creates a breaker for the named resource backed by the given store.
func New(name string, cfg Config, store StateStore) *Breaker {
	return &Breaker{
		name:  name,
		cfg:   cfg.withDefaults(),
		store: store,
	}
}

// Name returns the guarded resource name.
func (b *Breaker) Name() string { return b.name }

// load refreshes the local snapshot from the shared store. Must be called
// under b.mu. A store failure keeps the last known local state.
func (b *Breaker) load(ctx context.Context) {
	snap, ok, err := b.store.Load(ctx, b.name)
	if err != nil {
		logging.Op().Warn("circuitbreaker: state store unreachable, using local state",
			"resource", b.name, "error", err)
		return
	}
	if ok {
		b.local = snap
	}
}

// save persists the local snapshot. Must be called under b.mu.
func (b *Breaker) save(ctx context.Context) {
	if err := b.store.Save(ctx, b.name, b.local); err != nil {
		logging.Op().Warn("circuitbreaker: failed to persist state",
			"resource", b.name, "error", err)
	}
	metrics.SetBreakerState(b.name, int(b.local.State))
}

// Allow reports whether a call may proceed. Transitions Open→HalfOpen when
// the recovery timeout has elapsed, admitting exactly one probe per
// process.
func (b *Breaker) Allow(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.load(ctx)

	switch b.local.Override {
	case OverrideOpen:
		return false
	case OverrideClosed:
		return true
	}

	switch b.local.State {
	case StateClosed:
		return true
	case StateOpen:
		if nowFn().Sub(b.local.OpenedAt) >= b.cfg.RecoveryTimeout {
			b.local.State = StateHalfOpen
			b.probing = true
			b.save(ctx)
			return true
		}
		return false
	case StateHalfOpen:
		if !b.probing {
			b.probing = true
			return true
		}
		return false
	}
	return true
}

// RecordSuccess records a successful guarded call. In half-open it closes
// the breaker; in closed it resets the consecutive failure counter.
func (b *Breaker) RecordSuccess(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.load(ctx)

	b.probing = false
	if b.local.State != StateClosed || b.local.FailureCount != 0 {
		b.local.State = StateClosed
		b.local.FailureCount = 0
		b.local.OpenedAt = time.Time{}
		b.save(ctx)
	}
}

// RecordFailure records a failed guarded call, tripping the breaker when
// the consecutive failure count reaches the threshold. A failed half-open
// probe reopens immediately with a fresh recovery window.
func (b *Breaker) RecordFailure(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.load(ctx)

	now := nowFn()
	b.probing = false
	b.local.LastFailureAt = now

	switch b.local.State {
	case StateHalfOpen:
		b.local.State = StateOpen
		b.local.OpenedAt = now
		metrics.RecordBreakerTrip(b.name)
		logging.Op().Warn("circuitbreaker: probe failed, reopening", "resource", b.name)
	default:
		b.local.FailureCount++
		if b.local.FailureCount >= b.cfg.FailureThreshold && b.local.State != StateOpen {
			b.local.State = StateOpen
			b.local.OpenedAt = now
			metrics.RecordBreakerTrip(b.name)
			logging.Op().Warn("circuitbreaker: tripped",
				"resource", b.name, "failures", b.local.FailureCount)
		}
	}
	b.save(ctx)
}

// Execute runs op through the breaker. When the breaker is open the
// fallback is invoked instead if supplied; otherwise the call fails with
// ErrOpen. op failures are counted against the breaker and returned as-is.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error, fallback func(context.Context) error) error {
	if !b.Allow(ctx) {
		if fallback != nil {
			return fallback(ctx)
		}
		return fmt.Errorf("%w: %s", ErrOpen, b.name)
	}
	if err := op(ctx); err != nil {
		b.RecordFailure(ctx)
		return err
	}
	b.RecordSuccess(ctx)
	return nil
}

// Do is the typed variant of Execute for operations that return a value.
func Do[T any](ctx context.Context, b *Breaker, op func(context.Context) (T, error), fallback func(context.Context) (T, error)) (T, error) {
	var out T
	wrapped := func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}
	var wrappedFallback func(context.Context) error
	if fallback != nil {
		wrappedFallback = func(ctx context.Context) error {
			v, err := fallback(ctx)
			if err != nil {
				return err
			}
			out = v
			return nil
		}
	}
	err := b.Execute(ctx, wrapped, wrappedFallback)
	return out, err
}

// Status returns the admin view of the breaker, reflecting any pending
// Open→HalfOpen transition without consuming the probe slot.
func (b *Breaker) Status(ctx context.Context) Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.load(ctx)

	state := b.local.State
	if state == StateOpen && nowFn().Sub(b.local.OpenedAt) >= b.cfg.RecoveryTimeout {
		state = StateHalfOpen
	}
	st := Status{
		Resource:      b.name,
		State:         state.String(),
		FailureCount:  b.local.FailureCount,
		LastFailureAt: b.local.LastFailureAt,
		OpenedAt:      b.local.OpenedAt,
		Config:        b.cfg,
	}
	if b.local.Override != OverrideNone {
		st.Override = b.local.Override.String()
	}
	return st
}

// Reset clears the breaker back to closed with a zero failure count.
// Invoked from the admin surface; the manual override is preserved.
func (b *Breaker) Reset(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.load(ctx)

	override := b.local.Override
	b.local = Snapshot{Override: override}
	b.probing = false
	b.save(ctx)
	logging.Op().Info("circuitbreaker: reset", "resource", b.name)
}

// SetOverride forces the breaker open or closed regardless of computed
// state, or clears the override with OverrideNone. The override is
// persisted, so it applies to every instance.
func (b *Breaker) SetOverride(ctx context.Context, o Override) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.load(ctx)

	b.local.Override = o
	b.save(ctx)
	logging.Op().Info("circuitbreaker: override set", "resource", b.name, "override", o.String())
}
