package binning

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/vulcan-sns/vulcan-reduce/internal/fault"
	"github.com/vulcan-sns/vulcan-reduce/internal/tabular"
)

const (
	lowColumn  = "lowresolution"
	highColumn = "highresolution"
)

// ExtrapolateEdges appends the trailing edge to a list of bin starts,
// repeating the relative width of the last bin: e[n] = e[n-1]^2 / e[n-2].
func ExtrapolateEdges(starts []float64) ([]float64, error) {
	n := len(starts)
	if n < 2 {
		return nil, eris.Errorf("binning: need at least 2 bin starts, got %d", n)
	}
	for i := 1; i < n; i++ {
		if starts[i] <= starts[i-1] {
			return nil, eris.Errorf("binning: bin starts not increasing at index %d", i)
		}
	}
	if starts[n-2] <= 0 {
		return nil, eris.New("binning: bin starts must be positive")
	}
	out := make([]float64, n+1)
	copy(out, starts)
	out[n] = starts[n-1] * starts[n-1] / starts[n-2]
	return out, nil
}

// readBinFile reads the low- and high-resolution bin starts from a
// tab-separated file with LowResolution and HighResolution header columns.
// The columns may differ in length; shorter ones are padded with empty cells.
func readBinFile(ctx context.Context, path string) (low, high []float64, err error) {
	rows, err := tabular.ReadFile(ctx, path, tabular.Options{Comment: '#', TrimSpace: true})
	if err != nil {
		return nil, nil, fault.Wrap(fault.KindIOAccess, "binning: read bin file", err)
	}

	lowIdx, highIdx := -1, -1
	start := 0
	for i, row := range rows {
		for j, f := range row.Fields {
			switch strings.ToLower(f) {
			case lowColumn:
				lowIdx = j
			case highColumn:
				highIdx = j
			}
		}
		if lowIdx >= 0 || highIdx >= 0 {
			start = i + 1
			break
		}
	}
	if lowIdx < 0 || highIdx < 0 {
		return nil, nil, fault.Errorf(fault.KindParse, "binning: read bin file",
			"%s has no LowResolution/HighResolution header", path)
	}

	for _, row := range rows[start:] {
		if v, ok, err := cell(row, lowIdx); err != nil {
			return nil, nil, fault.Wrap(fault.KindParse, "binning: read bin file", err)
		} else if ok {
			low = append(low, v)
		}
		if v, ok, err := cell(row, highIdx); err != nil {
			return nil, nil, fault.Wrap(fault.KindParse, "binning: read bin file", err)
		} else if ok {
			high = append(high, v)
		}
	}
	return low, high, nil
}

func cell(row tabular.Row, idx int) (float64, bool, error) {
	if idx >= len(row.Fields) || row.Fields[idx] == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(row.Fields[idx], 64)
	if err != nil {
		return 0, false, eris.Wrapf(err, "line %d column %d", row.Line, idx+1)
	}
	return v, true, nil
}
