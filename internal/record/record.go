package record

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/vulcan-sns/vulcan-reduce/internal/engine"
)

// Record is one experiment-log row. It is immutable once built.
type Record struct {
	header []string
	values []string
	index  map[string]int
}

// cellReplacer keeps every value on one tab-separated line.
var cellReplacer = strings.NewReplacer("\t", " ", "\r", " ", "\n", " ")

// New builds a record from a reduced run. Values in patch replace computed
// values with the same title. Tabs and line breaks in values become spaces.
func New(schema Schema, run *engine.Focused, ipts int, patch map[string]string) *Record {
	r := &Record{
		header: schema.Header(),
		values: make([]string, len(schema)),
		index:  make(map[string]int, len(schema)),
	}
	for i, f := range schema {
		r.index[f.Title] = i
		r.values[i] = evaluate(f, run, ipts)
		if v, ok := patch[f.Title]; ok && v != "" {
			r.values[i] = v
		}
		r.values[i] = cellReplacer.Replace(r.values[i])
	}
	return r
}

// Header returns the column titles.
func (r *Record) Header() []string {
	return append([]string(nil), r.header...)
}

// Row returns the cell values in column order.
func (r *Record) Row() []string {
	return append([]string(nil), r.values...)
}

// Get returns the value of one column.
func (r *Record) Get(title string) (string, bool) {
	i, ok := r.index[title]
	if !ok {
		return "", false
	}
	return r.values[i], true
}

// Attributes returns the record as a title-to-value map.
func (r *Record) Attributes() map[string]string {
	out := make(map[string]string, len(r.header))
	for i, h := range r.header {
		out[h] = r.values[i]
	}
	return out
}

func evaluate(f Field, run *engine.Focused, ipts int) string {
	switch f.Op {
	case OpMeta:
		switch f.Source {
		case SourceRun:
			return strconv.Itoa(run.RunNumber)
		case SourceIPTS:
			return strconv.Itoa(ipts)
		}
		return ""
	case OpAttr:
		if f.Source == SourceTitle && run.Title != "" {
			return run.Title
		}
		v, _ := run.Attribute(f.Source)
		return v
	case OpTime:
		if run.RunStart.IsZero() {
			return ""
		}
		return run.RunStart.Format(time.RFC3339)
	case OpDuration:
		if !run.RunStart.IsZero() && run.RunEnd.After(run.RunStart) {
			return formatFloat(run.RunEnd.Sub(run.RunStart).Seconds())
		}
		s, ok := run.Log(f.Source)
		if !ok || len(s.Times) == 0 {
			return ""
		}
		return formatFloat(s.Times[len(s.Times)-1] - s.Times[0])
	}

	s, ok := run.Log(f.Source)
	if !ok {
		return ""
	}
	v, ok := Aggregate(f.Op, s.Values)
	if !ok {
		return ""
	}
	return formatFloat(v)
}

// Aggregate reduces log values with a numeric op.
func Aggregate(op Op, values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	switch op {
	case OpFirst:
		return values[0], true
	case OpLast:
		return values[len(values)-1], true
	case OpSum, OpMean:
		var sum float64
		for _, v := range values {
			sum += v
		}
		if op == OpMean {
			return sum / float64(len(values)), true
		}
		return sum, true
	case OpMax:
		m := math.Inf(-1)
		for _, v := range values {
			m = math.Max(m, v)
		}
		return m, true
	case OpMin:
		m := math.Inf(1)
		for _, v := range values {
			m = math.Min(m, v)
		}
		return m, true
	default:
		return 0, false
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}
