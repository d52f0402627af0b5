package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vulcan-sns/vulcan-reduce/internal/calib"
	"github.com/vulcan-sns/vulcan-reduce/internal/model"
	"github.com/vulcan-sns/vulcan-reduce/internal/reduction"
	"github.com/vulcan-sns/vulcan-reduce/internal/resilience"
)

var (
	batchOutput           string
	batchLimit            int
	batchLogs             bool
	batchRetryFailed      bool
	batchIncludePermanent bool
)

var batchCmd = &cobra.Command{
	Use:   "batch [<list-file>]",
	Short: "Reduce every event file listed in a file",
	Long: `Reduces the event files listed one per line in <list-file> (blank lines and # comments ignored) in order. All jobs share one engine circuit breaker.
Failed jobs are queued in the journal's dead-letter queue; --retry-failed reruns the queued jobs that are due instead of reading a list.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if batchRetryFailed {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if batchRetryFailed {
			env, err := initReduction(ctx)
			if err != nil {
				return err
			}
			defer env.Close()
			return retryDeadLetters(ctx, env.Orchestrator, batchIncludePermanent, batchLimit, os.Stdout)
		}
		if batchOutput == "" {
			return eris.New("batch: --output is required")
		}

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrapf(err, "batch: open %s", args[0])
		}
		events, err := readEventList(f, batchLimit)
		_ = f.Close()
		if err != nil {
			return err
		}

		env, err := initReduction(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		return processBatch(ctx, env.Resolver, env.Orchestrator, events, batchOutput, batchLogs, os.Stdout)
	},
}

func init() {
	batchCmd.Flags().StringVarP(&batchOutput, "output", "o", "", "output directory for every run (required unless --retry-failed)")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of event files to reduce (0 = all)")
	batchCmd.Flags().BoolVar(&batchLogs, "log", false, "export sample-environment logs")
	batchCmd.Flags().BoolVar(&batchRetryFailed, "retry-failed", false, "rerun due jobs from the dead-letter queue")
	batchCmd.Flags().BoolVar(&batchIncludePermanent, "include-permanent", false, "with --retry-failed, also rerun jobs that failed permanently")
	rootCmd.AddCommand(batchCmd)
}

// readEventList reads one event-file path per line.
func readEventList(r io.Reader, limit int) ([]string, error) {
	var events []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		events = append(events, line)
		if limit > 0 && len(events) == limit {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "batch: read event list")
	}
	return events, nil
}

// processBatch resolves and reduces each event file in order and prints a
// summary table. Files that cannot be resolved count as failures.
func processBatch(ctx context.Context, resolver *calib.Resolver, orch *reduction.Orchestrator, events []string, output string, exportLogs bool, w io.Writer) error {
	if len(events) == 0 {
		zap.L().Info("batch: no event files listed")
		return nil
	}

	var (
		setups []*model.ReductionSetup
		rows   [][]string
	)
	unresolved := 0
	for _, ev := range events {
		setup, err := resolver.ProcessConfigurations(ev, output)
		if err != nil {
			unresolved++
			zap.L().Error("batch: cannot resolve event file", zap.String("event_file", ev), zap.Error(err))
			rows = append(rows, []string{"-", ev, "unresolved", err.Error()})
			continue
		}
		setup.ExportLogs = exportLogs
		setups = append(setups, setup)
	}

	zap.L().Info("batch: processing", zap.Int("jobs", len(setups)), zap.Int("unresolved", unresolved))
	results, sum := orch.RunBatch(ctx, setups)

	for i, res := range results {
		status, detail := jobOutcome(res)
		rows = append(rows, []string{strconv.Itoa(res.RunNumber), setups[i].EventFile, status, detail})
	}
	_, _ = fmt.Fprintln(w, renderTable([]string{"Run", "Event file", "Status", "Detail"}, rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft}))
	_, _ = fmt.Fprintf(w, "%d succeeded, %d failed, %d unresolved, %d not run\n",
		sum.Succeeded, sum.Failed, unresolved, len(setups)-sum.Total)

	if sum.Failed > 0 || unresolved > 0 || sum.Total < len(setups) {
		return errJobFailed
	}
	return nil
}

// retryDeadLetters reruns due dead-letter entries, transient failures only
// unless includePermanent is set.
func retryDeadLetters(ctx context.Context, orch *reduction.Orchestrator, includePermanent bool, limit int, w io.Writer) error {
	filter := resilience.DLQFilter{ErrorType: "transient", Limit: limit}
	if includePermanent {
		filter.ErrorType = ""
	}
	results, sum, err := orch.RetryDeadLetters(ctx, filter)
	if errors.Is(err, reduction.ErrNoJournal) {
		return errJournalDisabled
	}
	if err != nil {
		return eris.Wrap(err, "batch: retry dead letters")
	}
	if len(results) == 0 {
		_, _ = fmt.Fprintln(w, "No dead-letter jobs due for retry.")
		return nil
	}

	rows := make([][]string, 0, len(results))
	for _, res := range results {
		status, detail := jobOutcome(res)
		rows = append(rows, []string{strconv.Itoa(res.RunNumber), status, detail})
	}
	_, _ = fmt.Fprintln(w, renderTable([]string{"Run", "Status", "Detail"}, rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft}))
	_, _ = fmt.Fprintf(w, "%d succeeded, %d failed\n", sum.Succeeded, sum.Failed)

	if sum.Failed > 0 {
		return errJobFailed
	}
	return nil
}

// jobOutcome returns the status column and detail for one job: the GSAS path
// on success, the failing step's message otherwise.
func jobOutcome(res model.JobResult) (string, string) {
	if res.Success {
		return "ok", res.GSASPath
	}
	st, _ := res.Failure()
	return "failed", st.Message
}
