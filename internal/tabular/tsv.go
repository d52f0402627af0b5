// Package tabular reads and writes the delimited, spreadsheet, XML and
// archive files that carry run records and auxiliary run metadata.
package tabular

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

const maxLineBytes = 1 << 20

// Options configures the streaming delimited-text reader.
type Options struct {
	Delimiter rune // default '\t'
	Comment   rune // comment character (0 = none)
	TrimSpace bool
}

// Row is one record of a delimited file together with its 1-based line number.
type Row struct {
	Line   int
	Fields []string
}

// StreamRows reads delimited text and sends rows to a channel. Blank lines and
// comment lines are dropped; rows may have differing field counts. Fields are
// never quoted in record files, so a double quote is an ordinary character.
// Both channels are closed when processing completes.
func StreamRows(ctx context.Context, r io.Reader, opts Options) (<-chan Row, <-chan error) {
	rowCh := make(chan Row, 64)
	errCh := make(chan error, 1)

	delim := "\t"
	if opts.Delimiter != 0 {
		delim = string(opts.Delimiter)
	}

	go func() {
		defer close(rowCh)
		defer close(errCh)

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

		line := 0
		for scanner.Scan() {
			line++
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "tabular: context cancelled")
				return
			}

			text := strings.TrimRight(scanner.Text(), "\r")
			if strings.TrimSpace(text) == "" {
				continue
			}
			if opts.Comment != 0 && strings.HasPrefix(strings.TrimLeft(text, " "), string(opts.Comment)) {
				continue
			}

			record := strings.Split(text, delim)
			if opts.TrimSpace {
				for i, field := range record {
					record[i] = strings.TrimSpace(field)
				}
			}

			select {
			case rowCh <- Row{Line: line, Fields: record}:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "tabular: context cancelled")
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- eris.Wrapf(err, "tabular: read line %d", line+1)
		}
	}()

	return rowCh, errCh
}

// ReadFile reads every row of a record file. Files ending in .xlsx are read as
// spreadsheets (first sheet); everything else is delimited text.
func ReadFile(ctx context.Context, path string, opts Options) ([]Row, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		cells, err := ReadXLSX(path, XLSXOptions{})
		if err != nil {
			return nil, err
		}
		rows := make([]Row, 0, len(cells))
		for i, c := range cells {
			if opts.TrimSpace {
				for j := range c {
					c[j] = strings.TrimSpace(c[j])
				}
			}
			if isBlank(c) || (opts.Comment != 0 && strings.HasPrefix(c[0], string(opts.Comment))) {
				continue
			}
			rows = append(rows, Row{Line: i + 1, Fields: c})
		}
		return rows, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "tabular: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	rowCh, errCh := StreamRows(ctx, f, opts)
	var rows []Row
	for row := range rowCh {
		rows = append(rows, row)
	}
	for err := range errCh {
		if err != nil {
			return rows, err
		}
	}
	return rows, nil
}

// FormatRow joins fields with the delimiter and terminates the line.
func FormatRow(fields []string, delimiter rune) string {
	if delimiter == 0 {
		delimiter = '\t'
	}
	return strings.Join(fields, string(delimiter)) + "\n"
}

func isBlank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
