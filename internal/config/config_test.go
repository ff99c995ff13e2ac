package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("unexpected redis addr: %s", cfg.Redis.Addr)
	}
	if cfg.Cache.TweetTTL != 5*time.Minute {
		t.Errorf("unexpected tweet TTL: %v", cfg.Cache.TweetTTL)
	}
	if cfg.Breakers.Resources["twitter-api"].FailureThreshold != 3 {
		t.Errorf("unexpected twitter-api threshold: %+v", cfg.Breakers.Resources["twitter-api"])
	}
	if cfg.Daemon.HTTPAddr != ":8080" {
		t.Errorf("unexpected http addr: %s", cfg.Daemon.HTTPAddr)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"redis": {"addr": "redis.internal:6380", "db": 2},
		"cache": {"l1_max_entries": 500},
		"daemon": {"http_addr": ":9090"}
	}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Redis.Addr != "redis.internal:6380" || cfg.Redis.DB != 2 {
		t.Errorf("redis not loaded: %+v", cfg.Redis)
	}
	if cfg.Cache.L1MaxEntries != 500 {
		t.Errorf("cache not loaded: %+v", cfg.Cache)
	}
	// Unspecified fields keep defaults.
	if cfg.Cache.TweetTTL != 5*time.Minute {
		t.Errorf("default tweet TTL lost: %v", cfg.Cache.TweetTTL)
	}
	if cfg.Daemon.HTTPAddr != ":9090" {
		t.Errorf("daemon not loaded: %+v", cfg.Daemon)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	if _, err := LoadFromFile("/nonexistent/config.json"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("EDGEQUEST_REDIS_ADDR", "env-redis:6379")
	t.Setenv("EDGEQUEST_TWITTER_BEARER_TOKEN", "env-token")
	t.Setenv("EDGEQUEST_REDIS_DB", "3")
	t.Setenv("EDGEQUEST_OTLP_ENDPOINT", "collector:4318")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.Redis.Addr != "env-redis:6379" {
		t.Errorf("redis addr override missed: %s", cfg.Redis.Addr)
	}
	if cfg.Redis.DB != 3 {
		t.Errorf("redis db override missed: %d", cfg.Redis.DB)
	}
	if cfg.Twitter.API.BearerToken != "env-token" {
		t.Errorf("bearer token override missed")
	}
	if !cfg.Observability.Enabled || cfg.Observability.Endpoint != "collector:4318" {
		t.Errorf("otlp override missed: %+v", cfg.Observability)
	}
}

func TestLoadChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	content := `sources:
  - name: syndication
  - name: twitter-api
    enabled: false
  - name: scraper
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write sources: %v", err)
	}

	chain, err := LoadChain(path)
	if err != nil {
		t.Fatalf("LoadChain failed: %v", err)
	}

	names := chain.EnabledNames()
	if len(names) != 2 || names[0] != "syndication" || names[1] != "scraper" {
		t.Fatalf("unexpected enabled chain: %v", names)
	}
}

func TestLoadChainRejectsUnknownSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	content := "sources:\n  - name: carrier-pigeon\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write sources: %v", err)
	}
	if _, err := LoadChain(path); err == nil {
		t.Fatal("expected error for unknown source")
	}
}

func TestLoadChainRejectsDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	content := "sources:\n  - name: scraper\n  - name: scraper\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write sources: %v", err)
	}
	if _, err := LoadChain(path); err == nil {
		t.Fatal("expected error for duplicate source")
	}
}

func TestDefaultChainOrder(t *testing.T) {
	names := DefaultChain().EnabledNames()
	want := []string{"twitter-api", "scraper", "syndication"}
	if len(names) != len(want) {
		t.Fatalf("unexpected chain: %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("chain order mismatch at %d: %v", i, names)
		}
	}
}
