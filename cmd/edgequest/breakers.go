package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgequest/edgequest/internal/circuitbreaker"
	"github.com/edgequest/edgequest/internal/logging"
)

// knownResources are the breaker names the daemon creates. The CLI talks
// to the shared state store directly, so it lists these rather than asking
// a running daemon.
var knownResources = []string{"twitter-api", "scraper", "syndication"}

func breakersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "breakers",
		Short: "Inspect and control circuit breakers",
	}
	cmd.AddCommand(breakersStatusCmd(), breakersResetCmd(), breakersOverrideCmd())
	return cmd
}

func openRegistry() (*circuitbreaker.Registry, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logging.Init(cfg.Daemon.LogFormat, "warn")

	shared := sharedCache(cfg)
	if err := shared.Ping(context.Background()); err != nil {
		shared.Close()
		return nil, nil, fmt.Errorf("shared state store unreachable: %w", err)
	}

	reg := circuitbreaker.NewRegistry(
		circuitbreaker.NewCacheStateStore(shared),
		cfg.Breakers.Default,
		cfg.Breakers.Resources,
	)
	return reg, func() { shared.Close() }, nil
}

func breakersStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of every breaker",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, done, err := openRegistry()
			if err != nil {
				return err
			}
			defer done()

			ctx := context.Background()
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RESOURCE\tSTATE\tFAILURES\tLAST FAILURE\tOVERRIDE")
			for _, name := range knownResources {
				st := reg.Get(name).Status(ctx)
				last := "-"
				if !st.LastFailureAt.IsZero() {
					last = st.LastFailureAt.Format(time.RFC3339)
				}
				override := st.Override
				if override == "" {
					override = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					st.Resource, st.State, st.FailureCount, last, override)
			}
			return w.Flush()
		},
	}
}

func breakersResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <resource>",
		Short: "Reset a breaker to closed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, done, err := openRegistry()
			if err != nil {
				return err
			}
			defer done()

			ctx := context.Background()
			b := reg.Get(args[0])
			b.Reset(ctx)
			st := b.Status(ctx)
			fmt.Printf("%s: %s\n", st.Resource, st.State)
			return nil
		},
	}
}

func breakersOverrideCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "override <resource> <open|closed|none>",
		Short: "Force a breaker open or closed, or clear the override",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			override, err := circuitbreaker.ParseOverride(args[1])
			if err != nil {
				return err
			}

			reg, done, err := openRegistry()
			if err != nil {
				return err
			}
			defer done()

			ctx := context.Background()
			b := reg.Get(args[0])
			b.SetOverride(ctx, override)
			st := b.Status(ctx)
			fmt.Printf("%s: state=%s override=%s\n", st.Resource, st.State, override)
			return nil
		},
	}
}
