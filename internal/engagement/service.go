// Package engagement is the entry point HTTP handlers use to look up tweet
// engagement. It composes the pipeline: request deduplication over the
// tiered cache over the fallback resolver, with write-back on fresh
// resolutions and best-effort snapshot persistence for the points
// pipeline.
package engagement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edgequest/edgequest/internal/cache"
	"github.com/edgequest/edgequest/internal/codec"
	"github.com/edgequest/edgequest/internal/dedup"
	"github.com/edgequest/edgequest/internal/logging"
	"github.com/edgequest/edgequest/internal/observability"
	"github.com/edgequest/edgequest/internal/resolver"
	"github.com/edgequest/edgequest/internal/store"
	"github.com/edgequest/edgequest/internal/twitter"
)

const keyPrefix = "tweet:"

// Service resolves tweet engagement through cache, dedup, and the fallback
// chain.
type Service struct {
	cache     *cache.Tiered
	resolver  *resolver.Resolver
	dedup     *dedup.Deduper
	snapshots store.SnapshotStore
	ttl       time.Duration
}

// Config holds service tuning.
type Config struct {
	// CacheTTL is how long a resolved engagement snapshot stays valid in
	// the shared cache.
	CacheTTL time.Duration `json:"cache_ttl"`
}

// NewService creates the engagement service. snapshots may be store.Noop{}
// when persistence is not configured.
func NewService(c *cache.Tiered, r *resolver.Resolver, d *dedup.Deduper, snapshots store.SnapshotStore, cfg Config) *Service {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if snapshots == nil {
		snapshots = store.Noop{}
	}
	return &Service{
		cache:     c,
		resolver:  r,
		dedup:     d,
		snapshots: snapshots,
		ttl:       ttl,
	}
}

// GetTweet returns the engagement snapshot for a tweet URL or bare ID.
// Cache tiers are consulted first; a miss triggers a deduplicated
// resolution through the fallback chain, and the result is written back
// through both tiers. An unreachable cache store degrades to resolving
// directly rather than failing the request.
func (s *Service) GetTweet(ctx context.Context, urlOrID string) (*twitter.Tweet, error) {
	id, err := twitter.ParseTweetID(urlOrID)
	if err != nil {
		return nil, err
	}

	ctx, span := observability.StartSpan(ctx, "engagement.get_tweet",
		observability.AttrTweetID.String(id))
	defer span.End()

	key := keyPrefix + id
	cacheDown := false

	var cached twitter.Tweet
	switch err := cache.GetJSON(ctx, s.cache, key, &cached); {
	case err == nil:
		return &cached, nil
	case errors.Is(err, cache.ErrUnavailable):
		// Degrade: resolve fresh without the shared cache.
		cacheDown = true
		logging.Op().Warn("engagement: cache unavailable, resolving directly",
			"tweet_id", id, "error", err)
	case errors.Is(err, cache.ErrNotFound):
	default:
		return nil, err
	}

	val, _, err := s.dedup.Do(ctx, key, func(ctx context.Context) (any, error) {
		tweet, err := s.resolver.Resolve(ctx, id)
		if err != nil {
			return nil, err
		}
		if !cacheDown {
			if err := cache.SetJSON(ctx, s.cache, key, tweet, s.ttl); err != nil {
				logging.Op().Warn("engagement: cache write-back failed",
					"tweet_id", id, "error", err)
			}
		}
		s.persistSnapshot(tweet)
		return tweet, nil
	})
	if err != nil {
		observability.SetSpanError(span, err)
		return nil, err
	}

	tweet, ok := val.(*twitter.Tweet)
	if !ok {
		return nil, fmt.Errorf("engagement: unexpected resolution type %T", val)
	}
	return tweet, nil
}

// GetMany returns engagement for several tweet IDs, batching the cache
// lookups into one round trip and resolving only the misses.
func (s *Service) GetMany(ctx context.Context, ids []string) (map[string]*twitter.Tweet, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyPrefix + id
	}

	out := make(map[string]*twitter.Tweet, len(ids))
	var missing []string

	hits, err := s.cache.GetMulti(ctx, keys)
	if err != nil {
		// Batch lookup failed; fall back to per-ID resolution.
		missing = ids
	} else {
		for _, id := range ids {
			data, ok := hits[keyPrefix+id]
			if !ok {
				missing = append(missing, id)
				continue
			}
			var t twitter.Tweet
			if decErr := cacheDecode(ctx, s.cache, keyPrefix+id, data, &t); decErr != nil {
				missing = append(missing, id)
				continue
			}
			out[id] = &t
		}
	}

	for _, id := range missing {
		t, err := s.GetTweet(ctx, id)
		if err != nil {
			if resolver.IsNotFound(err) {
				continue
			}
			return out, err
		}
		out[id] = t
	}
	return out, nil
}

// cacheDecode decodes a batch-fetched payload, applying the same self-heal
// rule as single-key reads.
func cacheDecode(ctx context.Context, c *cache.Tiered, key string, data []byte, out any) error {
	if err := codec.Decode(data, out); err != nil {
		logging.Op().Warn("engagement: corrupt batch entry, self-healing", "key", key, "error", err)
		_ = c.Delete(ctx, key)
		return err
	}
	return nil
}

// Invalidate drops the cached snapshot and the dedup replay guard for a
// tweet, forcing the next read to resolve fresh.
func (s *Service) Invalidate(ctx context.Context, id string) error {
	s.dedup.Forget(keyPrefix + id)
	return s.cache.Delete(ctx, keyPrefix+id)
}

// CacheStats returns the tiered cache statistics.
func (s *Service) CacheStats() cache.TieredStats {
	return s.cache.Stats()
}

// persistSnapshot records the resolution for the points pipeline. Runs
// detached: snapshot persistence must never block or fail a resolution.
func (s *Service) persistSnapshot(t *twitter.Tweet) {
	snap := store.Snapshot{
		TweetID:    t.ID,
		Author:     t.AuthorUsername,
		Engagement: t.Engagement,
		Source:     t.Source,
		ResolvedAt: time.Now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.snapshots.SaveSnapshot(ctx, snap); err != nil {
			logging.Op().Warn("engagement: snapshot persist failed",
				"tweet_id", snap.TweetID, "error", err)
		}
	}()
}
