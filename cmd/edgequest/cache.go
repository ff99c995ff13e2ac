package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/edgequest/edgequest/internal/cache"
	"github.com/edgequest/edgequest/internal/logging"
	"github.com/edgequest/edgequest/internal/twitter"
)

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the shared cache",
	}
	cmd.AddCommand(cacheGetCmd(), cacheDelCmd(), cacheScanCmd())
	return cmd
}

func openShared() (*cache.Redis, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.Daemon.LogFormat, "warn")

	shared := sharedCache(cfg)
	if err := shared.Ping(context.Background()); err != nil {
		shared.Close()
		return nil, fmt.Errorf("shared cache unreachable: %w", err)
	}
	return shared, nil
}

func cacheGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <tweet url or ID>",
		Short: "Print the raw cached engagement entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := twitter.ParseTweetID(args[0])
			if err != nil {
				return err
			}
			shared, err := openShared()
			if err != nil {
				return err
			}
			defer shared.Close()

			data, err := shared.Get(context.Background(), "tweet:"+id)
			if errors.Is(err, cache.ErrNotFound) {
				return fmt.Errorf("tweet %s is not cached", id)
			}
			if err != nil {
				return err
			}
			os.Stdout.Write(data)
			fmt.Println()
			return nil
		},
	}
}

func cacheDelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "del <tweet url or ID>",
		Short: "Drop the cached engagement entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := twitter.ParseTweetID(args[0])
			if err != nil {
				return err
			}
			shared, err := openShared()
			if err != nil {
				return err
			}
			defer shared.Close()

			if err := shared.Delete(context.Background(), "tweet:"+id); err != nil {
				return err
			}
			fmt.Printf("deleted tweet:%s\n", id)
			return nil
		},
	}
}

func cacheScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Scan the shared cache and delete undecodable entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			shared, err := openShared()
			if err != nil {
				return err
			}
			defer shared.Close()

			result, err := shared.ScanCorrupt(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("checked %d entries, healed %d\n", result.Checked, result.Healed)
			return nil
		},
	}
}
