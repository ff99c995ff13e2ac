// Package dedup coalesces concurrent identical resolutions: N callers
// asking for the same key while a resolution is in flight share one
// upstream call and one result. A minimum-interval guard additionally
// replays the last successful result for keys re-requested in quick bursts,
// which protects the upstream from serial re-requests the in-flight map
// cannot catch.
package dedup

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/edgequest/edgequest/internal/metrics"
)

// recentResult is the last successful value for a key, replayed while the
// minimum interval has not elapsed.
type recentResult struct {
	val any
	at  time.Time
}

// nowFn is swapped in tests to step through the minimum interval.
var nowFn = time.Now

// Deduper coalesces concurrent calls per key. The in-flight map and the
// recent-result guard are process-local: two instances may still resolve
// the same key concurrently, which is an accepted cost compared to
// cross-process locking.
type Deduper struct {
	sf          singleflight.Group
	minInterval time.Duration

	mu     sync.Mutex
	recent map[string]recentResult
}

// New creates a Deduper. minInterval is how long a fresh successful result
// suppresses a new producer invocation for the same key; zero disables the
// guard.
func New(minInterval time.Duration) *Deduper {
	return &Deduper{
		minInterval: minInterval,
		recent:      make(map[string]recentResult),
	}
}

// Do runs producer for key, unless an identical call is already in flight
// (the caller then attaches to it) or the key resolved successfully within
// the minimum interval (the last result is replayed). shared reports
// whether the returned value was produced by another caller's invocation.
//
// The producer runs on a context detached from the caller's cancellation:
// a caller may stop waiting, but the shared resolution runs to completion
// so other waiters are served and the cache still gets populated. The
// caller's own wait remains bounded by its context.
func (d *Deduper) Do(ctx context.Context, key string, producer func(context.Context) (any, error)) (val any, shared bool, err error) {
	if d.minInterval > 0 {
		d.mu.Lock()
		if r, ok := d.recent[key]; ok && nowFn().Sub(r.at) < d.minInterval {
			d.mu.Unlock()
			metrics.RecordDedupSuppressed()
			return r.val, true, nil
		}
		d.mu.Unlock()
	}

	detached := context.WithoutCancel(ctx)
	ch := d.sf.DoChan(key, func() (any, error) {
		v, err := producer(detached)
		if err != nil {
			return nil, err
		}
		if d.minInterval > 0 {
			d.mu.Lock()
			d.recent[key] = recentResult{val: v, at: nowFn()}
			d.prune()
			d.mu.Unlock()
		}
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			metrics.RecordDedupCoalesced()
		}
		return res.Val, res.Shared, res.Err
	case <-ctx.Done():
		// The shared resolution keeps running for the other waiters.
		return nil, false, ctx.Err()
	}
}

// prune drops stale recent entries. Must be called under d.mu.
func (d *Deduper) prune() {
	if len(d.recent) < 1024 {
		return
	}
	cutoff := nowFn().Add(-d.minInterval)
	for k, r := range d.recent {
		if r.at.Before(cutoff) {
			delete(d.recent, k)
		}
	}
}

// Forget drops the recent result for key so the next Do invokes the
// producer again. Used when a caller invalidates the cached value.
func (d *Deduper) Forget(key string) {
	d.sf.Forget(key)
	d.mu.Lock()
	delete(d.recent, key)
	d.mu.Unlock()
}
