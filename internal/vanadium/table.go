// Package vanadium matches sample runs to vanadium calibration runs by
// instrument state.
package vanadium

import (
	"context"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vulcan-sns/vulcan-reduce/internal/fault"
	"github.com/vulcan-sns/vulcan-reduce/internal/tabular"
)

// RunColumn is the mandatory join-key column of every record table.
const RunColumn = "RUN"

// SkippedRow is a data row dropped during import.
type SkippedRow struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// Table maps run numbers to their recorded attributes. It is read-only once
// imported.
type Table struct {
	Path    string
	Columns []string
	Skipped []SkippedRow

	runs  []int
	attrs map[int]map[string]string
}

// ImportAttributeTable reads a record file (tab-separated text or .xlsx).
// The header is the first row whose first cell is not numeric; later rows
// with a numeric first cell are data. Rows whose column count differs from
// the header are skipped and listed in Skipped. A table without a RUN column
// is a parse error.
func ImportAttributeTable(ctx context.Context, path string) (*Table, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fault.Wrap(fault.KindIOAccess, "vanadium: import", eris.Wrapf(err, "stat %s", path))
	}
	rows, err := tabular.ReadFile(ctx, path, tabular.Options{Comment: '#'})
	if err != nil {
		return nil, fault.Wrap(fault.KindParse, "vanadium: import "+path, err)
	}
	return buildTable(path, rows)
}

// NewTable builds a table from in-memory rows, such as a freshly built
// experiment-log record. source names the table in messages.
func NewTable(source string, header []string, rows [][]string) (*Table, error) {
	all := make([]tabular.Row, 0, len(rows)+1)
	all = append(all, tabular.Row{Line: 1, Fields: header})
	for i, r := range rows {
		all = append(all, tabular.Row{Line: i + 2, Fields: r})
	}
	return buildTable(source, all)
}

func buildTable(path string, rows []tabular.Row) (*Table, error) {
	t := &Table{Path: path, attrs: make(map[int]map[string]string)}

	headerAt := -1
	for i, row := range rows {
		if len(row.Fields) > 0 && !isNumeric(row.Fields[0]) {
			headerAt = i
			break
		}
	}
	if headerAt < 0 {
		return nil, fault.Errorf(fault.KindParse, "vanadium: import", "%s has no header row", path)
	}
	for _, f := range rows[headerAt].Fields {
		t.Columns = append(t.Columns, strings.TrimSpace(f))
	}
	runIdx := -1
	for i, c := range t.Columns {
		if c == RunColumn {
			runIdx = i
			break
		}
	}
	if runIdx < 0 {
		return nil, fault.Errorf(fault.KindParse, "vanadium: import", "%s has no %s column", path, RunColumn)
	}

	for _, row := range rows[headerAt+1:] {
		if len(row.Fields) == 0 || !isNumeric(row.Fields[0]) {
			continue
		}
		if len(row.Fields) != len(t.Columns) {
			t.skip(row.Line, "expected "+strconv.Itoa(len(t.Columns))+" columns, got "+strconv.Itoa(len(row.Fields)))
			continue
		}
		run, err := strconv.Atoi(strings.TrimSpace(row.Fields[runIdx]))
		if err != nil {
			t.skip(row.Line, "run number "+strconv.Quote(row.Fields[runIdx])+" is not an integer")
			continue
		}
		rec := make(map[string]string, len(t.Columns))
		for i, c := range t.Columns {
			rec[c] = strings.TrimSpace(row.Fields[i])
		}
		if _, dup := t.attrs[run]; !dup {
			t.runs = append(t.runs, run)
		}
		t.attrs[run] = rec
	}
	sort.Ints(t.runs)

	for _, s := range t.Skipped {
		zap.L().Warn("vanadium: skipped record row",
			zap.String("path", path),
			zap.Int("line", s.Line),
			zap.String("reason", s.Reason),
		)
	}
	return t, nil
}

func (t *Table) skip(line int, reason string) {
	t.Skipped = append(t.Skipped, SkippedRow{Line: line, Reason: reason})
}

// Runs returns the run numbers in ascending order.
func (t *Table) Runs() []int {
	out := make([]int, len(t.runs))
	copy(out, t.runs)
	return out
}

// Has reports whether the table holds a run.
func (t *Table) Has(run int) bool {
	_, ok := t.attrs[run]
	return ok
}

// Lookup returns one attribute of a run.
func (t *Table) Lookup(run int, name string) (string, bool) {
	rec, ok := t.attrs[run]
	if !ok {
		return "", false
	}
	v, ok := rec[name]
	return v, ok
}

// Len returns the number of runs.
func (t *Table) Len() int {
	return len(t.runs)
}

func isNumeric(s string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil
}
