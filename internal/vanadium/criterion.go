package vanadium

import (
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/vulcan-sns/vulcan-reduce/internal/config"
)

// FloatTolerance is the absolute difference below which two float
// attributes are considered equal.
const FloatTolerance = 1.0

// CompareType selects how a criterion compares attribute values.
type CompareType string

const (
	CompareInt    CompareType = "int"
	CompareFloat  CompareType = "float"
	CompareString CompareType = "str"
)

// Criterion is one instrument-state attribute that must agree between a
// sample run and its vanadium run.
type Criterion struct {
	LogName string      `json:"log_name"`
	Type    CompareType `json:"type"`
}

// CriteriaFromConfig converts configured criteria, rejecting unknown types.
func CriteriaFromConfig(cfgs []config.CriterionConfig) ([]Criterion, error) {
	out := make([]Criterion, 0, len(cfgs))
	for _, c := range cfgs {
		ct := CompareType(strings.ToLower(c.Type))
		switch ct {
		case CompareInt, CompareFloat, CompareString:
		default:
			return nil, eris.Errorf("vanadium: criterion %q has unknown type %q", c.LogName, c.Type)
		}
		if c.LogName == "" {
			return nil, eris.New("vanadium: criterion without log name")
		}
		out = append(out, Criterion{LogName: c.LogName, Type: ct})
	}
	return out, nil
}

// Equal compares two raw attribute values. Values that cannot be parsed as
// the criterion's type never compare equal.
func (c Criterion) Equal(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	switch c.Type {
	case CompareInt:
		x, okA := toInt(a)
		y, okB := toInt(b)
		return okA && okB && x == y
	case CompareFloat:
		x, errA := strconv.ParseFloat(a, 64)
		y, errB := strconv.ParseFloat(b, 64)
		return errA == nil && errB == nil && math.Abs(x-y) < FloatTolerance
	default:
		return a == b
	}
}

func toInt(s string) (int64, bool) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(f), true
}
