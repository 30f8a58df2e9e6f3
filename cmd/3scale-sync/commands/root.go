package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	logLevel   string
	logFormat  string
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "3scale-sync",
		Short: "3scale-sync - declarative 3scale tenant configuration",
		Long: `3scale-sync reconciles declarative configuration documents against a
3scale tenant's Admin API.

Each document describes the desired state of one API product: its
backends, gateway settings, authentication, mapping rules, policy chain,
application plan, and consumer applications. The engine creates what is
absent, updates what differs, and leaves everything else alone.

Features:
  - YAML and Starlark configuration documents
  - OpenAPI-derived mapping rules with explicit overrides
  - Batch-wide uniqueness validation before any remote call
  - Bounded-parallel reconciliation across documents
  - Rego governance policies evaluated before syncing
  - SQLite-backed run history`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newSyncCommand(version))
	rootCmd.AddCommand(newValidateCommand(version))
	rootCmd.AddCommand(newDeleteCommand(version))
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}
