package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// errEntryRequired is returned when ddf is-known is called without an entry argument.
var errEntryRequired = errors.New("an entry argument (hex-encoded) is required")

func ddfCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ddf",
		Short: "Inspect the decaying duplicate filter",
	}

	cmd.AddCommand(ddfStatsCmd())
	cmd.AddCommand(ddfIsKnownCmd())

	return cmd
}

func ddfStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show duplicate filter size, duplicate count, and false-positive rate",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			stats, err := httpClient.ddfStats(context.Background())
			if err != nil {
				return err
			}

			out, err := formatDDFStats(stats, outputFormat)
			if err != nil {
				return fmt.Errorf("format ddf stats: %w", err)
			}
			fmt.Print(out)
			return nil
		},
	}
}

func ddfIsKnownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "is-known <hex-entry>",
		Short: "Check whether a hex-encoded entry is known to the duplicate filter",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if args[0] == "" {
				return errEntryRequired
			}

			resp, err := httpClient.ddfKnown(context.Background(), args[0])
			if err != nil {
				return err
			}

			out, err := formatDDFKnown(args[0], resp, outputFormat)
			if err != nil {
				return fmt.Errorf("format ddf known: %w", err)
			}
			fmt.Print(out)
			return nil
		},
	}
}
