package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/edgequest/edgequest/internal/cache"
)

// setClock replaces the breaker clock with a steppable fake.
func setClock(t *testing.T) *time.Time {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	nowFn = func() time.Time { return now }
	t.Cleanup(func() { nowFn = time.Now })
	return &now
}

func newTestBreaker(t *testing.T, cfg Config) *Breaker {
	t.Helper()
	mem := cache.NewMemory(100)
	t.Cleanup(func() { mem.Close() })
	return New("twitter-api", cfg, NewCacheStateStore(mem))
}

var errUpstream = errors.New("upstream failed")

func failingOp(context.Context) error    { return errUpstream }
func succeedingOp(context.Context) error { return nil }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	setClock(t)
	b := newTestBreaker(t, Config{FailureThreshold: 3, RecoveryTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Execute(ctx, failingOp, nil); !errors.Is(err, errUpstream) {
			t.Fatalf("call %d: expected upstream error, got %v", i, err)
		}
	}

	st := b.Status(ctx)
	if st.State != "open" {
		t.Fatalf("expected open after 3 consecutive failures, got %s", st.State)
	}
	if st.FailureCount != 3 {
		t.Fatalf("expected failure count 3, got %d", st.FailureCount)
	}
}

func TestBreakerShortCircuitsWhenOpen(t *testing.T) {
	setClock(t)
	b := newTestBreaker(t, Config{FailureThreshold: 2, RecoveryTimeout: time.Minute})
	ctx := context.Background()

	b.RecordFailure(ctx)
	b.RecordFailure(ctx)

	invoked := false
	err := b.Execute(ctx, func(context.Context) error {
		invoked = true
		return nil
	}, nil)
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if invoked {
		t.Fatal("operation must not be invoked while the breaker is open")
	}
}

func TestBreakerOpenUsesFallback(t *testing.T) {
	setClock(t)
	b := newTestBreaker(t, Config{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	ctx := context.Background()

	b.RecordFailure(ctx)

	got, err := Do(ctx, b,
		func(context.Context) (string, error) { return "primary", nil },
		func(context.Context) (string, error) { return "degraded", nil },
	)
	if err != nil {
		t.Fatalf("Execute with fallback failed: %v", err)
	}
	if got != "degraded" {
		t.Fatalf("expected fallback result, got %q", got)
	}
}

func TestBreakerRecoveryLifecycle(t *testing.T) {
	now := setClock(t)
	b := newTestBreaker(t, Config{FailureThreshold: 3, RecoveryTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.RecordFailure(ctx)
	}
	if b.Allow(ctx) {
		t.Fatal("open breaker should not allow calls")
	}

	// After the recovery timeout the next call is allowed through as a
	// half-open probe.
	*now = now.Add(61 * time.Second)
	if !b.Allow(ctx) {
		t.Fatal("expected half-open probe to be allowed after recovery timeout")
	}
	if st := b.Status(ctx); st.State != "half_open" {
		t.Fatalf("expected half_open, got %s", st.State)
	}

	// A successful probe closes the breaker and resets the counter.
	b.RecordSuccess(ctx)
	st := b.Status(ctx)
	if st.State != "closed" {
		t.Fatalf("expected closed after successful probe, got %s", st.State)
	}
	if st.FailureCount != 0 {
		t.Fatalf("expected failure count reset to 0, got %d", st.FailureCount)
	}
}

func TestBreakerHalfOpenProbeFailureReopens(t *testing.T) {
	now := setClock(t)
	b := newTestBreaker(t, Config{FailureThreshold: 2, RecoveryTimeout: time.Minute})
	ctx := context.Background()

	b.RecordFailure(ctx)
	b.RecordFailure(ctx)

	*now = now.Add(2 * time.Minute)
	if !b.Allow(ctx) {
		t.Fatal("expected probe allowed")
	}
	b.RecordFailure(ctx)

	if st := b.Status(ctx); st.State != "open" {
		t.Fatalf("expected reopen after failed probe, got %s", st.State)
	}
	// The recovery window must restart from the probe failure.
	if b.Allow(ctx) {
		t.Fatal("breaker should stay open for a fresh recovery window")
	}
}

func TestBreakerHalfOpenAdmitsSingleProbe(t *testing.T) {
	now := setClock(t)
	b := newTestBreaker(t, Config{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	ctx := context.Background()

	b.RecordFailure(ctx)
	*now = now.Add(2 * time.Minute)

	if !b.Allow(ctx) {
		t.Fatal("first probe should be allowed")
	}
	if b.Allow(ctx) {
		t.Fatal("second concurrent probe should be rejected")
	}
}

func TestBreakerSuccessResetsConsecutiveCount(t *testing.T) {
	setClock(t)
	b := newTestBreaker(t, Config{FailureThreshold: 3, RecoveryTimeout: time.Minute})
	ctx := context.Background()

	b.RecordFailure(ctx)
	b.RecordFailure(ctx)
	b.RecordSuccess(ctx)
	b.RecordFailure(ctx)
	b.RecordFailure(ctx)

	// Failures are counted consecutively; the success in between means the
	// threshold of 3 has not been reached.
	if st := b.Status(ctx); st.State != "closed" {
		t.Fatalf("expected closed, got %s", st.State)
	}
}

func TestBreakerManualOverride(t *testing.T) {
	setClock(t)
	b := newTestBreaker(t, Config{FailureThreshold: 3, RecoveryTimeout: time.Minute})
	ctx := context.Background()

	b.SetOverride(ctx, OverrideOpen)
	if b.Allow(ctx) {
		t.Fatal("forced-open breaker must reject calls")
	}

	b.SetOverride(ctx, OverrideClosed)
	for i := 0; i < 10; i++ {
		b.RecordFailure(ctx)
	}
	if !b.Allow(ctx) {
		t.Fatal("forced-closed breaker must allow calls regardless of failures")
	}

	b.SetOverride(ctx, OverrideNone)
	if b.Allow(ctx) {
		t.Fatal("with override cleared, computed open state applies")
	}
}

func TestBreakerStateSharedThroughStore(t *testing.T) {
	setClock(t)
	mem := cache.NewMemory(100)
	defer mem.Close()
	store := NewCacheStateStore(mem)
	ctx := context.Background()

	// Two breaker instances over the same store, as in two processes.
	a := New("twitter-api", Config{FailureThreshold: 2, RecoveryTimeout: time.Minute}, store)
	b := New("twitter-api", Config{FailureThreshold: 2, RecoveryTimeout: time.Minute}, store)

	a.RecordFailure(ctx)
	a.RecordFailure(ctx)

	if b.Allow(ctx) {
		t.Fatal("second instance should observe the open state from the shared store")
	}
}

func TestBreakerReset(t *testing.T) {
	setClock(t)
	b := newTestBreaker(t, Config{FailureThreshold: 1, RecoveryTimeout: time.Hour})
	ctx := context.Background()

	b.RecordFailure(ctx)
	if b.Allow(ctx) {
		t.Fatal("expected open")
	}

	b.Reset(ctx)
	st := b.Status(ctx)
	if st.State != "closed" || st.FailureCount != 0 {
		t.Fatalf("expected clean closed state after reset, got %+v", st)
	}
	if !b.Allow(ctx) {
		t.Fatal("reset breaker should allow calls")
	}
}

func TestRegistryPerResourceConfig(t *testing.T) {
	setClock(t)
	mem := cache.NewMemory(100)
	defer mem.Close()
	ctx := context.Background()

	reg := NewRegistry(NewCacheStateStore(mem),
		Config{FailureThreshold: 5, RecoveryTimeout: time.Minute},
		map[string]Config{"scraper": {FailureThreshold: 1, RecoveryTimeout: time.Minute}},
	)

	scraper := reg.Get("scraper")
	scraper.RecordFailure(ctx)
	if scraper.Allow(ctx) {
		t.Fatal("scraper breaker should trip after 1 failure")
	}

	api := reg.Get("twitter-api")
	api.RecordFailure(ctx)
	if !api.Allow(ctx) {
		t.Fatal("default breaker should not trip after 1 failure")
	}

	if reg.Get("scraper") != scraper {
		t.Fatal("registry should return the same breaker instance per name")
	}

	statuses := reg.Statuses(ctx)
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[0].Resource != "scraper" || statuses[1].Resource != "twitter-api" {
		t.Fatalf("expected sorted statuses, got %+v", statuses)
	}
}
