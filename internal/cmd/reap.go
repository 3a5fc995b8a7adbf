package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opencurate/ferry/internal/observability"
	"github.com/opencurate/ferry/pkg/reaper"
)

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Delete job directories whose retention window has passed",
	Long: `Scan the job state root and delete expired job directories,
including any artifacts they hold. Intended to be invoked by cron or an
equivalent external scheduler.`,
	RunE: runReap,
}

func init() {
	rootCmd.AddCommand(reapCmd)

	reapCmd.Flags().Bool("dry-run", false, "Report what would be deleted without deleting")
	reapCmd.Flags().Bool("json", false, "Output as JSON")
}

type reapResult struct {
	Deleted     int  `json:"deleted"`
	WouldDelete int  `json:"would_delete,omitempty"`
	Retained    int  `json:"retained"`
	Skipped     int  `json:"skipped"`
	DryRun      bool `json:"dry_run"`
}

func runReap(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	r, err := reaper.New(reaper.Config{RootDir: cfg.Jobs.RootDir},
		observability.CLILogger, reaper.WithDryRun(dryRun))
	if err != nil {
		return err
	}

	res, err := r.Sweep(cmd.Context())
	if err != nil {
		return err
	}

	out := reapResult{
		Retained: len(res.Retained),
		Skipped:  len(res.Skipped),
		DryRun:   dryRun,
	}
	if dryRun {
		out.WouldDelete = len(res.Deleted)
	} else {
		out.Deleted = len(res.Deleted)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if dryRun {
		_, _ = fmt.Fprintf(os.Stdout, "would_delete=%d retained=%d skipped=%d\n",
			out.WouldDelete, out.Retained, out.Skipped)
		return nil
	}
	_, _ = fmt.Fprintf(os.Stdout, "deleted=%d retained=%d skipped=%d\n",
		out.Deleted, out.Retained, out.Skipped)
	return nil
}
