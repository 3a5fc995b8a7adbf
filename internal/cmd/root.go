// Package cmd defines the ferry command tree.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opencurate/ferry/internal/config"
	"github.com/opencurate/ferry/internal/observability"
	"github.com/opencurate/ferry/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "ferry",
	Short: "Asynchronous resource transfer between storage providers",
	Long: `ferry runs long resource operations (download, upload, transfer)
as asynchronous jobs. Submission returns a ticket immediately; progress
and completion land in a persisted per-job status record.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		level, _ := cmd.Flags().GetString("log-level")
		format, _ := cmd.Flags().GetString("log-format")
		return observability.Init(level, format)
	},
}

func init() {
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)",
		version.Version, version.Commit, version.Date)

	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "console", "Log format: console or json")
	rootCmd.PersistentFlags().String("jobs-root", "", "Override the job state root directory")
}

// loadConfig resolves configuration with CLI flag overrides applied.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	overrides := map[string]any{}
	if root, _ := cmd.Flags().GetString("jobs-root"); root != "" {
		overrides["jobs"] = map[string]any{"root_dir": root}
	}
	return config.Load(cmd.Context(), overrides)
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	defer observability.Sync()
	if err := rootCmd.Execute(); err != nil {
		observability.CLILogger.Error(err.Error())
		observability.Sync()
		os.Exit(1)
	}
}
