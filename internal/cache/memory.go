package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMemoryCapacity bounds the L1 cache when no capacity is configured.
const DefaultMemoryCapacity = 10000

// Memory is the process-local L1 cache: an LRU-bounded map with per-entry
// TTL and lazy expiration. A full cache evicts the least-recently-used
// entry before inserting. Expired entries are treated as misses on read and
// removed; a background sweep additionally bounds memory between reads.
type Memory struct {
	entries *lru.Cache[string, *memEntry]

	hits   atomic.Uint64
	misses atomic.Uint64

	mu       sync.Mutex
	counters map[string]*counterWindow
	closed   bool
	stop     chan struct{}
}

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e *memEntry) expired() bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

type counterWindow struct {
	n       int64
	resetAt time.Time
}

// MemoryStats holds L1 hit/miss counters.
type MemoryStats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Len    int    `json:"entries"`
}

// NewMemory creates an L1 cache bounded to capacity entries.
// A capacity <= 0 uses DefaultMemoryCapacity.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	entries, _ := lru.New[string, *memEntry](capacity)
	m := &Memory{
		entries:  entries,
		counters: make(map[string]*counterWindow),
		stop:     make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	entry, ok := m.entries.Get(key)
	if !ok {
		m.misses.Add(1)
		return nil, ErrNotFound
	}
	if entry.expired() {
		m.entries.Remove(key)
		m.misses.Add(1)
		return nil, ErrNotFound
	}
	m.hits.Add(1)
	// Return a copy to prevent mutation of the cached value.
	cp := make([]byte, len(entry.value))
	copy(cp, entry.value)
	return cp, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	m.entries.Add(key, &memEntry{value: cp, expiresAt: expiresAt})
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.entries.Remove(key)
	return nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	entry, ok := m.entries.Peek(key)
	return ok && !entry.expired(), nil
}

func (m *Memory) Ping(_ context.Context) error { return nil }

// Clear removes all entries. Counters are preserved.
func (m *Memory) Clear() {
	m.entries.Purge()
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.stop)
	m.entries.Purge()
	return nil
}

// Len returns the number of live entries, including not-yet-swept expired
// ones.
func (m *Memory) Len() int {
	return m.entries.Len()
}

// Stats returns running hit/miss counters.
func (m *Memory) Stats() MemoryStats {
	return MemoryStats{
		Hits:   m.hits.Load(),
		Misses: m.misses.Load(),
		Len:    m.entries.Len(),
	}
}

// Increment implements Counter with a process-local fixed window. Used when
// the daemon runs without Redis; a multi-instance deployment should count
// against the shared store instead.
func (m *Memory) Increment(_ context.Context, key string, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	w, ok := m.counters[key]
	if !ok || now.After(w.resetAt) {
		w = &counterWindow{resetAt: now.Add(window)}
		m.counters[key] = w
	}
	w.n++
	return w.n, nil
}

func (m *Memory) sweepLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			for _, key := range m.entries.Keys() {
				if entry, ok := m.entries.Peek(key); ok && entry.expired() {
					m.entries.Remove(key)
				}
			}
			m.mu.Lock()
			now := time.Now()
			for key, w := range m.counters {
				if now.After(w.resetAt) {
					delete(m.counters, key)
				}
			}
			m.mu.Unlock()
		}
	}
}
