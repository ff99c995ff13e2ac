package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	c := NewRedisFromClient(client, "test:")
	t.Cleanup(func() { c.Close() })
	return c, srv
}

func TestRedisSetGet(t *testing.T) {
	c, _ := newTestRedis(t)
	ctx := context.Background()

	if err := c.Set(ctx, "key", []byte(`{"likes":10}`), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	val, err := c.Get(ctx, "key")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(val) != `{"likes":10}` {
		t.Fatalf("unexpected value: %s", string(val))
	}
}

func TestRedisMiss(t *testing.T) {
	c, _ := newTestRedis(t)

	_, err := c.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
}

func TestRedisTTLExpiry(t *testing.T) {
	c, srv := newTestRedis(t)
	ctx := context.Background()

	c.Set(ctx, "key", []byte("v"), time.Second)
	srv.FastForward(2 * time.Second)

	_, err := c.Get(ctx, "key")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after TTL, got: %v", err)
	}
}

func TestRedisTTLReporting(t *testing.T) {
	c, _ := newTestRedis(t)
	ctx := context.Background()

	c.Set(ctx, "key", []byte("v"), time.Minute)
	rem, err := c.TTL(ctx, "key")
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if rem <= 0 || rem > time.Minute {
		t.Fatalf("unexpected remaining TTL: %v", rem)
	}

	rem, err = c.TTL(ctx, "missing")
	if err != nil {
		t.Fatalf("TTL for missing key failed: %v", err)
	}
	if rem != 0 {
		t.Fatalf("expected zero TTL for missing key, got %v", rem)
	}
}

func TestRedisGetMulti(t *testing.T) {
	c, _ := newTestRedis(t)
	ctx := context.Background()

	c.Set(ctx, "a", []byte("1"), time.Minute)
	c.Set(ctx, "c", []byte("3"), time.Minute)

	got, err := c.GetMulti(ctx, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("GetMulti failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if string(got["a"]) != "1" || string(got["c"]) != "3" {
		t.Fatalf("unexpected results: %v", got)
	}
	if _, ok := got["b"]; ok {
		t.Fatal("missing key should be absent from results")
	}
}

func TestRedisCorruptionSelfHeal(t *testing.T) {
	c, srv := newTestRedis(t)
	ctx := context.Background()

	// Write a poison placeholder directly into the store, bypassing the
	// codec, the way a buggy upstream writer would.
	srv.Set("test:tweet:123", "[object Object]")

	var out map[string]any
	err := GetJSON(ctx, c, "tweet:123", &out)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected corrupted entry to read as a miss, got: %v", err)
	}

	// The bad entry must have been deleted, not left to poison every read.
	if srv.Exists("test:tweet:123") {
		t.Fatal("corrupt entry should have been deleted from the store")
	}
}

func TestRedisGetSetJSON(t *testing.T) {
	c, _ := newTestRedis(t)
	ctx := context.Background()

	type engagement struct {
		Likes    int64 `json:"likes"`
		Retweets int64 `json:"retweets"`
	}

	in := engagement{Likes: 10, Retweets: 2}
	if err := SetJSON(ctx, c, "tweet:1", in, time.Minute); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}
	var out engagement
	if err := GetJSON(ctx, c, "tweet:1", &out); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestRedisIncrementWindow(t *testing.T) {
	c, srv := newTestRedis(t)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		n, err := c.Increment(ctx, "rl:user1", 10*time.Second)
		if err != nil {
			t.Fatalf("Increment failed: %v", err)
		}
		if n != i {
			t.Fatalf("expected count %d, got %d", i, n)
		}
	}

	srv.FastForward(11 * time.Second)

	n, err := c.Increment(ctx, "rl:user1", 10*time.Second)
	if err != nil {
		t.Fatalf("Increment after window failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected fresh window to start at 1, got %d", n)
	}
}

func TestRedisScanCorrupt(t *testing.T) {
	c, srv := newTestRedis(t)
	ctx := context.Background()

	c.Set(ctx, "good", []byte(`{"ok":true}`), time.Minute)
	srv.Set("test:bad1", "[object Object]")
	srv.Set("test:bad2", "{broken")
	srv.Set("other:untouched", "not ours")

	res, err := c.ScanCorrupt(ctx)
	if err != nil {
		t.Fatalf("ScanCorrupt failed: %v", err)
	}
	if res.Checked != 3 {
		t.Fatalf("expected 3 checked, got %d", res.Checked)
	}
	if res.Healed != 2 {
		t.Fatalf("expected 2 healed, got %d", res.Healed)
	}
	if srv.Exists("test:bad1") || srv.Exists("test:bad2") {
		t.Fatal("corrupt entries should have been deleted")
	}
	if !srv.Exists("other:untouched") {
		t.Fatal("keys outside the cache prefix must not be touched")
	}
}

func TestRedisUnavailable(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	c := NewRedisFromClient(client, "test:")
	srv.Close()

	_, err := c.Get(context.Background(), "key")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got: %v", err)
	}
}
