package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/edgequest/edgequest/internal/cache"
	"github.com/edgequest/edgequest/internal/config"
)

var (
	configPath string
	redisAddr  string
	redisPass  string
	redisDB    int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "edgequest",
		Short: "EdgeQuest - tweet engagement resolution service",
		Long:  "Resolves tweet engagement through a tiered cache and a circuit-broken fallback chain of data sources",
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to JSON config file")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", "", "Redis address (overrides config)")
	rootCmd.PersistentFlags().StringVar(&redisPass, "redis-pass", "", "Redis password")
	rootCmd.PersistentFlags().IntVar(&redisDB, "redis-db", 0, "Redis database")

	rootCmd.AddCommand(
		daemonCmd(),
		resolveCmd(),
		breakersCmd(),
		cacheCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig merges file, environment, and flag overrides in that order.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", configPath, err)
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)

	if redisAddr != "" {
		cfg.Redis.Addr = redisAddr
	}
	if redisPass != "" {
		cfg.Redis.Password = redisPass
	}
	if redisDB != 0 {
		cfg.Redis.DB = redisDB
	}
	return cfg, nil
}

func sharedCache(cfg *config.Config) *cache.Redis {
	return cache.NewRedis(cfg.Redis)
}
