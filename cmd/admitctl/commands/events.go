package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opnet-io/admitd/internal/server"
)

func eventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Stream periodic admission queue and connection snapshots",
		Long:  "Connects to the admitd admin API and streams the NDJSON /v1/events feed until interrupted (Ctrl+C).",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			err := httpClient.streamEvents(ctx, func(ev server.Event) {
				out, fmtErr := formatEvent(ev, outputFormat)
				if fmtErr != nil {
					fmt.Println("Error formatting event:", fmtErr)
					return
				}
				fmt.Println(out)
			})
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return fmt.Errorf("stream events: %w", err)
			}

			return nil
		},
	}
}
