// Package cache implements the tiered caching layer in front of the
// upstream social APIs: a bounded in-process L1 (Memory), a shared Redis L2
// (Redis), and the read-through/write-through composition of the two
// (Tiered).
//
// Values cross the cache boundary as raw bytes; GetJSON/SetJSON add the
// typed serialization layer and the corruption self-heal rule: a stored
// value that fails to deserialize is deleted and reported as a miss, never
// returned to the caller.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edgequest/edgequest/internal/codec"
	"github.com/edgequest/edgequest/internal/logging"
)

// ErrNotFound is returned when a key does not exist in the cache or has
// expired. It is a normal outcome, not a failure.
var ErrNotFound = errors.New("cache: key not found")

// ErrUnavailable is returned when the backing store cannot be reached.
// Callers may choose to degrade (serve L1-only, or skip caching) rather
// than fail the request.
var ErrUnavailable = errors.New("cache: store unavailable")

// Cache abstracts a key-value cache with per-entry TTL.
// All operations are safe for concurrent use.
type Cache interface {
	// Get retrieves the value associated with key.
	// Returns ErrNotFound if the key does not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL. A zero TTL means the entry
	// does not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether the key exists and has not expired.
	Exists(ctx context.Context, key string) (bool, error)

	// Ping verifies connectivity to the underlying backend.
	Ping(ctx context.Context) error

	// Close releases all resources held by the implementation.
	Close() error
}

// Counter provides an atomic fixed-window counter, used for rate-limit
// bookkeeping. The first Increment in a window sets the value to 1 and arms
// the window expiry; subsequent calls within the window count up.
type Counter interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}

// MultiGetter retrieves several keys in one round trip where the backend
// supports batch reads. Missing keys are simply absent from the result map.
type MultiGetter interface {
	GetMulti(ctx context.Context, keys []string) (map[string][]byte, error)
}

// TTLReporter reports the remaining TTL for a key. A zero duration means
// the key has no expiry or the backend cannot report one.
type TTLReporter interface {
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// GetJSON retrieves key from c and decodes it into out. A payload that
// fails to decode is deleted from the cache and reported as ErrNotFound:
// a corrupted entry must never poison the caller with a malformed value.
func GetJSON(ctx context.Context, c Cache, key string, out any) error {
	data, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := codec.Decode(data, out); err != nil {
		if errors.Is(err, codec.ErrCorrupt) {
			logging.Op().Warn("cache: corrupt entry, self-healing", "key", key, "error", err)
			if delErr := c.Delete(ctx, key); delErr != nil {
				logging.Op().Warn("cache: failed to delete corrupt entry", "key", key, "error", delErr)
			}
			return ErrNotFound
		}
		return fmt.Errorf("cache: decode %q: %w", key, err)
	}
	return nil
}

// SetJSON encodes v and stores it under key with the given TTL.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	data, err := codec.Encode(v)
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", key, err)
	}
	return c.Set(ctx, key, data, ttl)
}
