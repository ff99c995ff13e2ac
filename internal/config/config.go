// Package config loads daemon configuration from JSON with environment
// overrides, plus the YAML fallback-chain definition.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/edgequest/edgequest/internal/cache"
	"github.com/edgequest/edgequest/internal/circuitbreaker"
	"github.com/edgequest/edgequest/internal/engagement"
	"github.com/edgequest/edgequest/internal/ratelimit"
	"github.com/edgequest/edgequest/internal/twitter"
)

// CacheConfig holds the tiered cache settings.
type CacheConfig struct {
	// L1MaxEntries bounds the in-process tier.
	L1MaxEntries int `json:"l1_max_entries"`
	// L1PromotionCeiling caps the TTL of entries promoted into L1.
	L1PromotionCeiling time.Duration `json:"l1_promotion_ceiling"`
	// TweetTTL is how long resolved engagement stays cached.
	TweetTTL time.Duration `json:"tweet_ttl"`
}

// BreakersConfig holds circuit breaker tuning per upstream resource.
type BreakersConfig struct {
	Default   circuitbreaker.Config            `json:"default"`
	Resources map[string]circuitbreaker.Config `json:"resources"`
}

// TwitterConfig groups the fallback source clients.
type TwitterConfig struct {
	API         twitter.APIConfig         `json:"api"`
	Scraper     twitter.ScraperConfig     `json:"scraper"`
	Syndication twitter.SyndicationConfig `json:"syndication"`
	// SourceTimeout bounds each individual source attempt.
	SourceTimeout time.Duration `json:"source_timeout"`
}

// DedupConfig holds request deduplication settings.
type DedupConfig struct {
	// MinInterval suppresses repeat resolutions of the same tweet within
	// this window by replaying the previous result.
	MinInterval time.Duration `json:"min_interval"`
}

// PostgresConfig holds snapshot persistence settings. An empty DSN
// disables persistence.
type PostgresConfig struct {
	DSN string `json:"dsn"`
}

// DaemonConfig holds daemon-specific settings.
type DaemonConfig struct {
	HTTPAddr  string `json:"http_addr"`
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
}

// ObservabilityConfig mirrors observability.Config without importing it,
// to keep this package free of the otel dependency tree.
type ObservabilityConfig struct {
	Enabled     bool    `json:"enabled"`
	Endpoint    string  `json:"endpoint"`
	ServiceName string  `json:"service_name"`
	SampleRate  float64 `json:"sample_rate"`
}

// Config is the central configuration struct embedding all component
// configs.
type Config struct {
	Redis         cache.RedisConfig   `json:"redis"`
	Cache         CacheConfig         `json:"cache"`
	Breakers      BreakersConfig      `json:"breakers"`
	Twitter       TwitterConfig       `json:"twitter"`
	Dedup         DedupConfig         `json:"dedup"`
	RateLimit     ratelimit.Config    `json:"rate_limit"`
	Postgres      PostgresConfig      `json:"postgres"`
	Daemon        DaemonConfig        `json:"daemon"`
	Observability ObservabilityConfig `json:"observability"`
}

// EngagementConfig derives the engagement service settings.
func (c *Config) EngagementConfig() engagement.Config {
	return engagement.Config{CacheTTL: c.Cache.TweetTTL}
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Redis: cache.RedisConfig{
			Addr: "localhost:6379",
		},
		Cache: CacheConfig{
			L1MaxEntries:       10000,
			L1PromotionCeiling: 30 * time.Second,
			TweetTTL:           5 * time.Minute,
		},
		Breakers: BreakersConfig{
			Default: circuitbreaker.DefaultConfig(),
			Resources: map[string]circuitbreaker.Config{
				"twitter-api": {FailureThreshold: 3, RecoveryTimeout: 2 * time.Minute},
				"scraper":     {FailureThreshold: 5, RecoveryTimeout: time.Minute},
				"syndication": {FailureThreshold: 5, RecoveryTimeout: time.Minute},
			},
		},
		Twitter: TwitterConfig{
			SourceTimeout: 10 * time.Second,
		},
		Dedup: DedupConfig{
			MinInterval: 10 * time.Second,
		},
		RateLimit: ratelimit.Config{
			Requests: 60,
			Window:   time.Minute,
		},
		Daemon: DaemonConfig{
			HTTPAddr:  ":8080",
			LogLevel:  "info",
			LogFormat: "text",
		},
		Observability: ObservabilityConfig{
			ServiceName: "edgequest",
			SampleRate:  0.1,
		},
	}
}

// LoadFromFile loads configuration from a JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("EDGEQUEST_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("EDGEQUEST_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("EDGEQUEST_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}
	if v := os.Getenv("EDGEQUEST_HTTP_ADDR"); v != "" {
		cfg.Daemon.HTTPAddr = v
	}
	if v := os.Getenv("EDGEQUEST_LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
	}
	if v := os.Getenv("EDGEQUEST_LOG_FORMAT"); v != "" {
		cfg.Daemon.LogFormat = v
	}
	if v := os.Getenv("EDGEQUEST_TWITTER_BEARER_TOKEN"); v != "" {
		cfg.Twitter.API.BearerToken = v
	}
	if v := os.Getenv("EDGEQUEST_SCRAPER_URL"); v != "" {
		cfg.Twitter.Scraper.BaseURL = v
	}
	if v := os.Getenv("EDGEQUEST_POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("EDGEQUEST_OTLP_ENDPOINT"); v != "" {
		cfg.Observability.Enabled = true
		cfg.Observability.Endpoint = v
	}
}
