package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/edgequest/edgequest/internal/metrics"
)

// Tiered composes a fast L1 (Memory) over a shared L2 (Redis). Reads check
// L1 first, fall through to L2 on miss, and promote L2 hits into L1 with a
// TTL capped by the promotion ceiling (and by the entry's remaining L2 TTL
// when the backend can report it). Writes go through to both layers.
//
// An unreachable L2 surfaces as ErrUnavailable so the caller can decide to
// degrade; it is never silently treated as a miss here.
type Tiered struct {
	l1      Cache
	l2      Cache
	ceiling time.Duration

	l1Hits atomic.Uint64
	l2Hits atomic.Uint64
	misses atomic.Uint64
}

// TieredStats holds running per-tier hit statistics.
type TieredStats struct {
	L1Hits  uint64  `json:"l1_hits"`
	L2Hits  uint64  `json:"l2_hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// NewTiered creates a two-level cache. promotionCeiling caps how long an
// entry promoted from L2 may live in L1 (default 30s); it bounds how stale
// an instance can be relative to the shared store.
func NewTiered(l1, l2 Cache, promotionCeiling time.Duration) *Tiered {
	if promotionCeiling <= 0 {
		promotionCeiling = 30 * time.Second
	}
	return &Tiered{l1: l1, l2: l2, ceiling: promotionCeiling}
}

func (t *Tiered) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := t.l1.Get(ctx, key)
	if err == nil {
		t.l1Hits.Add(1)
		metrics.RecordCacheHit("l1")
		return val, nil
	}

	val, err = t.l2.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		t.misses.Add(1)
		metrics.RecordCacheMiss()
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	t.l2Hits.Add(1)
	metrics.RecordCacheHit("l2")
	_ = t.l1.Set(ctx, key, val, t.promotionTTL(ctx, key))
	return val, nil
}

// promotionTTL is min(remaining L2 TTL, promotion ceiling) so a promoted
// entry never outlives its L2 original.
func (t *Tiered) promotionTTL(ctx context.Context, key string) time.Duration {
	ttl := t.ceiling
	if reporter, ok := t.l2.(TTLReporter); ok {
		if rem, err := reporter.TTL(ctx, key); err == nil && rem > 0 && rem < ttl {
			ttl = rem
		}
	}
	return ttl
}

func (t *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	l1TTL := t.ceiling
	if ttl > 0 && ttl < l1TTL {
		l1TTL = ttl
	}
	_ = t.l1.Set(ctx, key, value, l1TTL)
	return t.l2.Set(ctx, key, value, ttl)
}

func (t *Tiered) Delete(ctx context.Context, key string) error {
	_ = t.l1.Delete(ctx, key)
	return t.l2.Delete(ctx, key)
}

func (t *Tiered) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := t.l1.Exists(ctx, key)
	if err == nil && ok {
		return true, nil
	}
	return t.l2.Exists(ctx, key)
}

// GetMulti resolves keys across both tiers, batching the L2 lookups for
// all L1 misses into a single round trip when the backend supports it.
// Keys missing from both tiers are absent from the result.
func (t *Tiered) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	var missing []string
	for _, k := range keys {
		if val, err := t.l1.Get(ctx, k); err == nil {
			t.l1Hits.Add(1)
			metrics.RecordCacheHit("l1")
			out[k] = val
		} else {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	var fromL2 map[string][]byte
	if mg, ok := t.l2.(MultiGetter); ok {
		var err error
		fromL2, err = mg.GetMulti(ctx, missing)
		if err != nil {
			return nil, err
		}
	} else {
		fromL2 = make(map[string][]byte, len(missing))
		for _, k := range missing {
			val, err := t.l2.Get(ctx, k)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			fromL2[k] = val
		}
	}

	for _, k := range missing {
		val, ok := fromL2[k]
		if !ok {
			t.misses.Add(1)
			metrics.RecordCacheMiss()
			continue
		}
		t.l2Hits.Add(1)
		metrics.RecordCacheHit("l2")
		_ = t.l1.Set(ctx, k, val, t.promotionTTL(ctx, k))
		out[k] = val
	}
	return out, nil
}

// Stats returns running per-tier hit statistics.
func (t *Tiered) Stats() TieredStats {
	l1 := t.l1Hits.Load()
	l2 := t.l2Hits.Load()
	miss := t.misses.Load()
	s := TieredStats{L1Hits: l1, L2Hits: l2, Misses: miss}
	if total := l1 + l2 + miss; total > 0 {
		s.HitRate = float64(l1+l2) / float64(total)
	}
	return s
}

func (t *Tiered) Ping(ctx context.Context) error {
	if err := t.l1.Ping(ctx); err != nil {
		return err
	}
	return t.l2.Ping(ctx)
}

func (t *Tiered) Close() error {
	_ = t.l1.Close()
	return t.l2.Close()
}
