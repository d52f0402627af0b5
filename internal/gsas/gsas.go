// Package gsas reads and writes focused diffraction patterns in the GSAS
// FXYE text format and normalizes them by vanadium.
package gsas

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Bank is one focused spectrum. X holds bin centres, or bin edges when it is
// one longer than Y (histogram data).
type Bank struct {
	ID int
	X  []float64
	Y  []float64
	E  []float64
}

// Histogram reports whether X holds bin edges.
func (b Bank) Histogram() bool {
	return len(b.X) == len(b.Y)+1
}

// Pattern is a multi-bank GSAS file.
type Pattern struct {
	Title    string
	Comments []string
	Banks    []Bank
}

// Bank returns the bank with the given ID.
func (p *Pattern) Bank(id int) (Bank, bool) {
	for _, b := range p.Banks {
		if b.ID == id {
			return b, true
		}
	}
	return Bank{}, false
}

// ReadFile reads a GSAS file from disk.
func ReadFile(path string) (*Pattern, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "gsas: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	p, err := Read(f)
	if err != nil {
		return nil, eris.Wrapf(err, "gsas: read %s", path)
	}
	return p, nil
}

// Read parses FXYE text: a title line, optional '#' comment lines, then
// BANK header lines each followed by "x y e" rows.
func Read(r io.Reader) (*Pattern, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	p := &Pattern{}
	var cur *Bank
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r ")
		if line == 1 {
			p.Title = strings.TrimSpace(text)
			continue
		}
		trimmed := strings.TrimSpace(text)
		switch {
		case trimmed == "":
			continue
		case strings.HasPrefix(trimmed, "#"):
			p.Comments = append(p.Comments, strings.TrimSpace(strings.TrimPrefix(trimmed, "#")))
		case strings.HasPrefix(trimmed, "BANK"):
			fields := strings.Fields(trimmed)
			if len(fields) < 2 {
				return nil, eris.Errorf("gsas: line %d: malformed BANK header", line)
			}
			id, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, eris.Wrapf(err, "gsas: line %d: bank id", line)
			}
			p.Banks = append(p.Banks, Bank{ID: id})
			cur = &p.Banks[len(p.Banks)-1]
		default:
			if cur == nil {
				return nil, eris.Errorf("gsas: line %d: data before first BANK header", line)
			}
			if err := appendPoint(cur, trimmed); err != nil {
				return nil, eris.Wrapf(err, "gsas: line %d", line)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrap(err, "gsas: scan")
	}
	if len(p.Banks) == 0 {
		return nil, eris.New("gsas: no banks")
	}
	return p, nil
}

func appendPoint(b *Bank, text string) error {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return eris.Errorf("expected x y [e], got %q", text)
	}
	vals := make([]float64, len(fields))
	for i, f := range fields[:min(len(fields), 3)] {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return eris.Wrapf(err, "parse %q", f)
		}
		vals[i] = v
	}
	b.X = append(b.X, vals[0])
	b.Y = append(b.Y, vals[1])
	if len(fields) >= 3 {
		b.E = append(b.E, vals[2])
	} else {
		b.E = append(b.E, sqrtAbs(vals[1]))
	}
	return nil
}

// WriteFile writes a pattern to path with group- and world-readable
// permissions.
func WriteFile(path string, p *Pattern) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o664)
	if err != nil {
		return eris.Wrapf(err, "gsas: create %s", path)
	}
	if err := Write(f, p); err != nil {
		_ = f.Close()
		return eris.Wrapf(err, "gsas: write %s", path)
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "gsas: close %s", path)
	}
	return nil
}

// Write renders a pattern. Histogram banks are written as bin centres.
func Write(w io.Writer, p *Pattern) error {
	bw := bufio.NewWriter(w)
	title := p.Title
	if len(title) > 80 {
		title = title[:80]
	}
	fmt.Fprintf(bw, "%-80s\n", title)
	for _, c := range p.Comments {
		fmt.Fprintf(bw, "# %s\n", c)
	}
	for _, b := range p.Banks {
		pts := Points(b)
		n := len(pts.Y)
		if n == 0 {
			return eris.Errorf("gsas: bank %d is empty", b.ID)
		}
		if step, ok := logStep(pts.X); ok {
			fmt.Fprintf(bw, "BANK %d %d %d SLOG %.1f %.1f %.7f 0 FXYE\n", b.ID, n, n, pts.X[0], pts.X[n-1], step)
		} else {
			fmt.Fprintf(bw, "BANK %d %d %d CONS %.1f %.1f 0 0 FXYE\n", b.ID, n, n, pts.X[0], pts.X[n-1])
		}
		for i := 0; i < n; i++ {
			fmt.Fprintf(bw, "%22.10f%22.10f%22.10f\n", pts.X[i], pts.Y[i], pts.E[i])
		}
	}
	return bw.Flush()
}

// Points returns b with X converted to bin centres when it holds edges.
func Points(b Bank) Bank {
	if !b.Histogram() {
		return b
	}
	x := make([]float64, len(b.Y))
	for i := range x {
		x[i] = (b.X[i] + b.X[i+1]) / 2
	}
	return Bank{ID: b.ID, X: x, Y: b.Y, E: b.E}
}
