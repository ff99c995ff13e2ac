package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edgequest/edgequest/internal/codec"
	"github.com/edgequest/edgequest/internal/logging"
)

// Redis implements Cache backed by Redis, used as the shared L2 cache and
// as the fixed-window counter backend. Combined with Memory (L1) it gives
// every instance low-latency reads over a store shared across the
// deployment.
type Redis struct {
	client *redis.Client
	prefix string
}

// RedisConfig holds connection settings for the L2 cache.
type RedisConfig struct {
	Addr      string `json:"addr"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	KeyPrefix string `json:"key_prefix"` // default "eq:cache:"
}

// NewRedis creates a Redis-backed cache.
func NewRedis(cfg RedisConfig) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisFromClient(client, cfg.KeyPrefix)
}

// NewRedisFromClient creates a Redis cache over an existing client.
func NewRedisFromClient(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "eq:cache:"
	}
	return &Redis{client: client, prefix: prefix}
}

func (c *Redis) key(k string) string {
	return c.prefix + k
}

// wrapErr maps client errors to ErrUnavailable so callers can distinguish
// "store down" from "key missing" and degrade instead of failing.
func wrapErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

func (c *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("get", err)
	}
	return val, nil
}

func (c *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return wrapErr("set", err)
	}
	return nil
}

func (c *Redis) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return wrapErr("del", err)
	}
	return nil
}

func (c *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(key)).Result()
	if err != nil {
		return false, wrapErr("exists", err)
	}
	return n > 0, nil
}

// GetMulti fetches keys in a single MGET round trip. Keys that are missing
// are absent from the result map.
func (c *Redis) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = c.key(k)
	}
	vals, err := c.client.MGet(ctx, prefixed...).Result()
	if err != nil {
		return nil, wrapErr("mget", err)
	}
	out := make(map[string][]byte, len(keys))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue // nil: key missing
		}
		out[keys[i]] = []byte(s)
	}
	return out, nil
}

// TTL reports the remaining TTL for key. Missing keys and keys without
// expiry report zero.
func (c *Redis) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := c.client.TTL(ctx, c.key(key)).Result()
	if err != nil {
		return 0, wrapErr("ttl", err)
	}
	if d < 0 {
		// -2: no such key, -1: no expiry
		return 0, nil
	}
	return d, nil
}

// incrementScript atomically increments a fixed-window counter, arming the
// window expiry only on the first increment so the window does not slide.
// KEYS[1] = counter key, ARGV[1] = window in milliseconds
var incrementScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// Increment implements Counter against the shared store, so rate-limit
// windows hold across all instances.
func (c *Redis) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := incrementScript.Run(ctx, c.client, []string{c.key(key)}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, wrapErr("incr", err)
	}
	return n, nil
}

// ScanResult summarizes a corruption scan.
type ScanResult struct {
	Checked int `json:"checked"`
	Healed  int `json:"healed"`
}

// ScanCorrupt walks every key under the cache prefix, validates the stored
// payload against the wire format, and deletes entries that will never
// decode. It is invoked from the admin surface after a bad writer has been
// identified.
func (c *Redis) ScanCorrupt(ctx context.Context) (ScanResult, error) {
	var res ScanResult
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		val, err := c.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return res, wrapErr("scan get", err)
		}
		res.Checked++
		if !codec.Valid(val) {
			if err := c.client.Del(ctx, key).Err(); err != nil {
				return res, wrapErr("scan del", err)
			}
			logging.Op().Warn("cache: scan healed corrupt entry", "key", key)
			res.Healed++
		}
	}
	if err := iter.Err(); err != nil {
		return res, wrapErr("scan", err)
	}
	return res, nil
}

func (c *Redis) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return wrapErr("ping", err)
	}
	return nil
}

func (c *Redis) Close() error {
	return c.client.Close()
}
