package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	settingsPath string
	verbose      bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kiln",
		Short: "Kiln - Incremental Build Engine",
		Long: `Kiln is an incremental build engine that rebuilds only what changed.

Rules declare their output files, input files, and the action that produces
the outputs. Kiln memoizes each rule's inputs and arguments alongside its
outputs and skips rules whose memo record still matches.

Features:
  - Typed manifests via CUE
  - Light procedural manifests via Starlark
  - Content-hash memoization with optional authenticated records
  - Serial and parallel scheduling over the dependency graph
  - Action placement in worker processes via kiln-runner
  - Build history in SQLite`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&settingsPath, "settings", "c", "", "settings file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	// Add subcommands
	rootCmd.AddCommand(newBuildCommand(version))
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newCleanCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
