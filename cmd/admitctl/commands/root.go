// Package commands implements the admitctl CLI commands.
package commands

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var (
	// httpClient talks to the admitd admin API, initialized in PersistentPreRunE.
	httpClient *apiClient

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// serverAddr is the daemon's admin API address (host:port).
	serverAddr string
)

// rootCmd is the top-level cobra command for admitctl.
var rootCmd = &cobra.Command{
	Use:   "admitctl",
	Short: "CLI client for the admitd daemon",
	Long:  "admitctl communicates with the admitd daemon's admin HTTP API to inspect the admission queue and duplicate filter.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		httpClient = newAPIClient("http://"+serverAddr, &http.Client{})
		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:8600",
		"admitd daemon admin API address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(ddfCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
