package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and control the admission queue",
	}

	cmd.AddCommand(queueStatsCmd())
	cmd.AddCommand(queueSetActiveCmd())

	return cmd
}

func queueStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show admission queue depth, capacity, and active state",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			stats, err := httpClient.queueStats(context.Background())
			if err != nil {
				return err
			}

			out, err := formatQueueStats(stats, outputFormat)
			if err != nil {
				return fmt.Errorf("format queue stats: %w", err)
			}
			fmt.Print(out)
			return nil
		},
	}
}

func queueSetActiveCmd() *cobra.Command {
	var active bool

	cmd := &cobra.Command{
		Use:   "set-active",
		Short: "Activate or deactivate the admission queue",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			stats, err := httpClient.setQueueActive(context.Background(), active)
			if err != nil {
				return err
			}

			out, err := formatQueueStats(stats, outputFormat)
			if err != nil {
				return fmt.Errorf("format queue stats: %w", err)
			}
			fmt.Print(out)
			return nil
		},
	}

	cmd.Flags().BoolVar(&active, "active", true, "true to accept new SYNs, false to drain with RSTs")

	return cmd
}
