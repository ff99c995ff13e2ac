package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/edgequest/edgequest/internal/circuitbreaker"
	"github.com/edgequest/edgequest/internal/config"
	"github.com/edgequest/edgequest/internal/logging"
	"github.com/edgequest/edgequest/internal/resolver"
	"github.com/edgequest/edgequest/internal/twitter"
)

func resolveCmd() *cobra.Command {
	var sourcesPath string

	cmd := &cobra.Command{
		Use:   "resolve <tweet url or ID>",
		Short: "Resolve engagement for one tweet and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logging.Init(cfg.Daemon.LogFormat, "warn")

			chain := config.DefaultChain()
			if sourcesPath != "" {
				chain, err = config.LoadChain(sourcesPath)
				if err != nil {
					return err
				}
			}

			shared := sharedCache(cfg)
			defer shared.Close()

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

			id, err := twitter.ParseTweetID(args[0])
			if err != nil {
				return err
			}
			tweet, err := res.Resolve(context.Background(), id)
			if err != nil {
				var re *resolver.ResolutionError
				if errors.As(err, &re) && !re.NotFound {
					fmt.Fprintln(os.Stderr, "all sources failed:")
					for _, a := range re.Attempts {
						fmt.Fprintf(os.Stderr, "  %-12s %s\n", a.Source, a.Outcome)
					}
				}
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(tweet)
		},
	}

	cmd.Flags().StringVar(&sourcesPath, "sources", "", "Path to YAML fallback chain definition")
	return cmd
}
