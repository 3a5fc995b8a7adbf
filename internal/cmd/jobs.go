package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencurate/ferry/pkg/jobstore"
	"github.com/opencurate/ferry/pkg/ticket"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect persisted job state",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List job records across all actions",
	RunE:  runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <ticket>",
	Short: "Show the status record for a ticket",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsStatusCmd)

	jobsListCmd.Flags().Bool("json", false, "Output as JSON")
	jobsStatusCmd.Flags().Bool("json", false, "Output as JSON")
	jobsStatusCmd.Flags().String("action", "download", "Job action: download, upload, or transfer")
}

func openStore(cmd *cobra.Command) (*jobstore.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return jobstore.NewStore(jobstore.Config{RootDir: cfg.Jobs.RootDir})
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	jobs, err := store.List()
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No jobs found")
		return nil
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(jobs)
	}

	now := time.Now().UTC()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "TICKET\tACTION\tSTATUS\tPROGRESS\tCREATED\tEXPIRES")
	for _, j := range jobs {
		status := string(j.Record.Status)
		if j.Record.Expired(now) {
			status = "expired"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			ticket.Redact(j.Identity),
			j.Action,
			status,
			j.Record.CompletedUnits,
			j.Record.TotalUnits,
			j.Record.CreatedAt.UTC().Format(time.RFC3339),
			j.Record.Expiration.UTC().Format(time.RFC3339),
		)
	}
	return nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	id := strings.TrimSpace(args[0])
	jsonOutput, _ := cmd.Flags().GetBool("json")
	actionStr, _ := cmd.Flags().GetString("action")
	action, err := jobstore.ParseAction(actionStr)
	if err != nil {
		return err
	}

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	rec, err := store.Read(id, action)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	_, _ = fmt.Fprintf(os.Stdout, "action=%s status=%s status_code=%d progress=%d/%d\n",
		rec.Action, rec.Status, rec.StatusCode, rec.CompletedUnits, rec.TotalUnits)
	if rec.Message != "" {
		_, _ = fmt.Fprintf(os.Stdout, "message=%s\n", rec.Message)
	}
	if rec.ArtifactName != "" {
		_, _ = fmt.Fprintf(os.Stdout, "artifact=%s\n", rec.ArtifactName)
	}
	if rec.Expired(time.Now().UTC()) {
		_, _ = fmt.Fprintln(os.Stdout, "expired=true")
	}
	return nil
}
