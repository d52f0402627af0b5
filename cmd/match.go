package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/vulcan-sns/vulcan-reduce/internal/vanadium"
)

var (
	matchVanadium string
	matchRecords  string
	matchRuns     []int
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match sample runs to vanadium runs",
	Long:  "Imports a vanadium record and an experiment record and prints the vanadium run matched to each sample run using the configured criteria.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		vanPath := matchVanadium
		if vanPath == "" {
			vanPath = cfg.Vanadium.RecordFile
		}
		if vanPath == "" {
			return eris.New("match: --vanadium or vanadium.record_file is required")
		}
		criteria, err := vanadium.CriteriaFromConfig(cfg.Vanadium.Criteria)
		if err != nil {
			return err
		}

		m := vanadium.NewMatcher()
		if err := m.LoadFiles(cmd.Context(), vanPath, matchRecords); err != nil {
			return err
		}
		res, err := m.Match(matchRuns, criteria)
		if err != nil {
			return eris.Wrap(err, "match")
		}
		formatMatchResult(os.Stdout, res)
		return nil
	},
}

func init() {
	matchCmd.Flags().StringVar(&matchVanadium, "vanadium", "", "vanadium record file (default vanadium.record_file)")
	matchCmd.Flags().StringVar(&matchRecords, "records", "", "experiment record file (required)")
	matchCmd.Flags().IntSliceVar(&matchRuns, "run", nil, "sample runs to match (default all)")
	_ = matchCmd.MarkFlagRequired("records")
	rootCmd.AddCommand(matchCmd)
}

// formatMatchResult writes one row per sample run, sorted by run number.
func formatMatchResult(w io.Writer, res *vanadium.MatchResult) {
	type row struct {
		run   int
		cells []string
	}
	var rows []row
	for run, van := range res.Matches {
		rows = append(rows, row{run, []string{strconv.Itoa(run), strconv.Itoa(van), "matched"}})
	}
	for run, cands := range res.Ambiguous {
		ids := make([]string, len(cands))
		for i, c := range cands {
			ids[i] = strconv.Itoa(c)
		}
		rows = append(rows, row{run, []string{strconv.Itoa(run), strings.Join(ids, ","), "ambiguous"}})
	}
	for _, run := range res.Missing {
		rows = append(rows, row{run, []string{strconv.Itoa(run), "-", "no match"}})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].run < rows[j].run })

	cells := make([][]string, len(rows))
	for i, r := range rows {
		cells[i] = r.cells
	}
	_, _ = fmt.Fprintln(w, renderTable([]string{"Run", "Vanadium", "Status"}, cells,
		[]columnAlignment{alignRight, alignRight, alignLeft}))
	_, _ = fmt.Fprintf(w, "%d matched, %d ambiguous, %d without match\n",
		len(res.Matches), len(res.Ambiguous), len(res.Missing))
}
