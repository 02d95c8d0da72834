// Package cmd implements the arborctl subcommands: a thin CLI wrapper
// over the run-submission HTTP API (spec.md §6).
package cmd

import (
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var serverURL string

// RootCmd builds the arborctl command tree.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "arborctl",
		Short: "Command-line client for an arborflow orchestrator",
	}

	cmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "arborflow HTTP API base URL")

	cmd.AddCommand(runCmd())
	cmd.AddCommand(statusCmd())
	cmd.AddCommand(subscribeCmd())
	cmd.AddCommand(cancelCmd())

	return cmd
}

var httpClient = &http.Client{Timeout: 30 * time.Second}
