package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/vulcan-sns/vulcan-reduce/internal/journal"
	"github.com/vulcan-sns/vulcan-reduce/internal/model"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect reduction job history",
	Long:  "Commands for listing and viewing journaled reduction jobs.",
}

// -- history list --

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reduction jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openJournal(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		run, _ := cmd.Flags().GetInt("run")
		limit, _ := cmd.Flags().GetInt("limit")

		jobs, err := st.ListJobs(ctx, journal.JobFilter{
			Status:    model.JobStatus(status),
			RunNumber: run,
			Limit:     limit,
		})
		if err != nil {
			return eris.Wrap(err, "history list")
		}

		if len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}

		formatJobsList(os.Stdout, jobs)
		return nil
	},
}

// -- history show --

var historyShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show a job and its steps",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openJournal(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		job, err := st.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "history show")
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(job)
		}
		formatJob(os.Stdout, job)
		return nil
	},
}

func init() {
	historyListCmd.Flags().String("status", "", "filter by job status (running, complete, failed)")
	historyListCmd.Flags().Int("run", 0, "filter by run number")
	historyListCmd.Flags().Int("limit", 50, "max number of jobs to display")

	historyShowCmd.Flags().Bool("json", false, "print the job as JSON")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	rootCmd.AddCommand(historyCmd)
}

// formatJobsList writes a tabular list of jobs to out.
func formatJobsList(out io.Writer, jobs []model.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tRUN\tIPTS\tSTATUS\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t---\t----\t------\t-------\t--------")

	for _, j := range jobs {
		dur := j.UpdatedAt.Sub(j.CreatedAt).Round(time.Second).String()
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%s\n",
			truncateID(j.ID),
			j.RunNumber,
			j.IPTSNumber,
			j.Status,
			j.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatJob writes one job and its steps to out.
func formatJob(out io.Writer, j *model.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Job:\t%s\n", j.ID)
	_, _ = fmt.Fprintf(w, "Run:\t%d (IPTS-%d)\n", j.RunNumber, j.IPTSNumber)
	_, _ = fmt.Fprintf(w, "Event file:\t%s\n", j.EventFile)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", j.Status)
	_, _ = fmt.Fprintf(w, "Created:\t%s\n", j.CreatedAt.Format(time.RFC3339))
	_ = w.Flush()

	if len(j.Steps) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STEP\tSTATUS\tMS\tKIND\tMESSAGE")
	for _, s := range j.Steps {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", s.Name, s.Status, s.Duration, s.Kind, s.Message)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
