package circuitbreaker

import (
	"context"
	"errors"

	"github.com/edgequest/edgequest/internal/cache"
)

// StateStore persists breaker snapshots so state is shared across
// instances and survives restarts.
type StateStore interface {
	// Load returns the snapshot for a resource; ok is false when none has
	// been persisted yet.
	Load(ctx context.Context, name string) (snap Snapshot, ok bool, err error)
	// Save persists the snapshot for a resource.
	Save(ctx context.Context, name string, snap Snapshot) error
}

// CacheStateStore persists snapshots through a cache backend: Redis in a
// deployment, Memory in tests or single-instance runs. Entries never
// expire; a breaker's state outlives any one process.
//
// A snapshot that fails to deserialize is self-healed by the cache layer
// and reads as absent, which re-creates the breaker in its initial closed
// state rather than wedging the guarded resource.
type CacheStateStore struct {
	c      cache.Cache
	prefix string
}

// NewCacheStateStore creates a StateStore over c.
func NewCacheStateStore(c cache.Cache) *CacheStateStore {
	return &CacheStateStore{c: c, prefix: "breaker:"}
}

func (s *CacheStateStore) Load(ctx context.Context, name string) (Snapshot, bool, error) {
	var snap Snapshot
	err := cache.GetJSON(ctx, s.c, s.prefix+name, &snap)
	if errors.Is(err, cache.ErrNotFound) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

func (s *CacheStateStore) Save(ctx context.Context, name string, snap Snapshot) error {
	return cache.SetJSON(ctx, s.c, s.prefix+name, snap, 0)
}
