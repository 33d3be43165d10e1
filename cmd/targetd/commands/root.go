package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	configPath  string
	profileName string
	verbose     bool
	jsonOutput  bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "targetd",
		Short: "targetd - distributed workflow target scheduler",
		Long: `targetd drives directed acyclic graphs of targets through a lifecycle
state machine, dispatching their work over SSH, WASM plugins, or local
commands, and exposes a token-authenticated HTTP/JSON wire protocol for
clients to submit, query, and control execution.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "profile config file path")
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "", "profile name to select (defaults to TARGETD_PROFILE or the file's sole profile)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output flag (accepted, but no command reads it)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "JSON output flag (accepted, but no command reads it)")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newValidateConfigCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newSubmitCommand())
	rootCmd.AddCommand(newKillCommand())
	rootCmd.AddCommand(newListCommand())

	return rootCmd
}
