package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgequest/edgequest/internal/api"
	"github.com/edgequest/edgequest/internal/cache"
	"github.com/edgequest/edgequest/internal/circuitbreaker"
	"github.com/edgequest/edgequest/internal/config"
	"github.com/edgequest/edgequest/internal/dedup"
	"github.com/edgequest/edgequest/internal/engagement"
	"github.com/edgequest/edgequest/internal/logging"
	"github.com/edgequest/edgequest/internal/metrics"
	"github.com/edgequest/edgequest/internal/observability"
	"github.com/edgequest/edgequest/internal/ratelimit"
	"github.com/edgequest/edgequest/internal/resolver"
	"github.com/edgequest/edgequest/internal/store"
	"github.com/edgequest/edgequest/internal/twitter"
)

func daemonCmd() *cobra.Command {
	var (
		httpAddr    string
		logLevel    string
		sourcesPath string
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the engagement resolution daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if httpAddr != "" {
				cfg.Daemon.HTTPAddr = httpAddr
			}
			if logLevel != "" {
				cfg.Daemon.LogLevel = logLevel
			}

			logging.Init(cfg.Daemon.LogFormat, cfg.Daemon.LogLevel)
			metrics.Init("edgequest")

			ctx := context.Background()
			if cfg.Observability.Enabled {
				if err := observability.Init(ctx, observability.Config{
					Enabled:     true,
					Endpoint:    cfg.Observability.Endpoint,
					ServiceName: cfg.Observability.ServiceName,
					SampleRate:  cfg.Observability.SampleRate,
				}); err != nil {
					logging.Op().Warn("tracing disabled, exporter init failed", "error", err)
				}
			}

			chain := config.DefaultChain()
			if sourcesPath != "" {
				chain, err = config.LoadChain(sourcesPath)
				if err != nil {
					return err
				}
			}

			shared := sharedCache(cfg)
			defer shared.Close()
			if err := shared.Ping(ctx); err != nil {
				// The tiered cache and rate limiter degrade without it.
				logging.Op().Warn("shared cache unreachable at startup, running degraded",
					"addr", cfg.Redis.Addr, "error", err)
			}

			l1 := cache.NewMemory(cfg.Cache.L1MaxEntries)
			tiered := cache.NewTiered(l1, shared, cfg.Cache.L1PromotionCeiling)
			defer tiered.Close()

			breakers := circuitbreaker.NewRegistry(
				circuitbreaker.NewCacheStateStore(shared),
				cfg.Breakers.Default,
				cfg.Breakers.Resources,
			)

			sources, err := buildSources(cfg, chain)
			if err != nil {
				return err
			}
			res := resolver.New(breakers, cfg.Twitter.SourceTimeout, sources...)

			snapshots := store.SnapshotStore(store.Noop{})
			if cfg.Postgres.DSN != "" {
				pg, err := store.NewPostgresStore(ctx, cfg.Postgres.DSN)
				if err != nil {
					return err
				}
				defer pg.Close()
				snapshots = pg
			}

			svc := engagement.NewService(tiered, res, dedup.New(cfg.Dedup.MinInterval),
				snapshots, cfg.EngagementConfig())

			limiter := ratelimit.New(shared, cfg.RateLimit)

			server := api.StartHTTPServer(cfg.Daemon.HTTPAddr, api.ServerConfig{
				Engagement: svc,
				Breakers:   breakers,
				Shared:     shared,
				Snapshots:  snapshots,
				Limiter:    limiter,
			})
			logging.Op().Info("daemon started",
				"addr", cfg.Daemon.HTTPAddr,
				"sources", chain.EnabledNames(),
				"persistence", cfg.Postgres.DSN != "")

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			logging.Op().Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
			observability.Shutdown(shutdownCtx)
			return nil
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP listen address (overrides config)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (overrides config)")
	cmd.Flags().StringVar(&sourcesPath, "sources", "", "Path to YAML fallback chain definition")

	return cmd
}

// buildSources constructs the fallback chain in the configured order,
// skipping sources whose required settings are absent.
func buildSources(cfg *config.Config, chain config.ChainConfig) ([]resolver.Source, error) {
	var sources []resolver.Source
	for _, name := range chain.EnabledNames() {
		switch name {
		case "twitter-api":
			if cfg.Twitter.API.BearerToken == "" {
				logging.Op().Warn("skipping twitter-api source, no bearer token configured")
				continue
			}
			sources = append(sources, resolver.Source{
				Name:    name,
				Fetcher: twitter.NewAPIClient(cfg.Twitter.API),
			})
		case "scraper":
			if cfg.Twitter.Scraper.BaseURL == "" {
				logging.Op().Warn("skipping scraper source, no sidecar URL configured")
				continue
			}
			sources = append(sources, resolver.Source{
				Name:    name,
				Fetcher: twitter.NewScraperClient(cfg.Twitter.Scraper),
			})
		case "syndication":
			sources = append(sources, resolver.Source{
				Name:    name,
				Fetcher: twitter.NewSyndicationClient(cfg.Twitter.Syndication),
			})
		}
	}
	if len(sources) == 0 {
		// The syndication endpoint needs no credentials, so use it alone
		// rather than starting a daemon that can never resolve anything.
		logging.Op().Warn("no configured sources available, falling back to syndication only")
		sources = append(sources, resolver.Source{
			Name:    "syndication",
			Fetcher: twitter.NewSyndicationClient(cfg.Twitter.Syndication),
		})
	}
	return sources, nil
}
