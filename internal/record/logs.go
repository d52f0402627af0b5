package record

import (
	"path/filepath"
	"sort"
	"strconv"

	"github.com/vulcan-sns/vulcan-reduce/internal/engine"
)

// LogKind names one sample-environment log export.
type LogKind string

const (
	LogFurnace   LogKind = "furnace"
	LogGeneric   LogKind = "generic"
	LogMTS       LogKind = "mts"
	LogSampleEnv LogKind = "sampleenv"
)

// LogKinds lists the sample-environment exports in write order.
var LogKinds = []LogKind{LogFurnace, LogGeneric, LogMTS, LogSampleEnv}

var logColumns = map[LogKind][]string{
	LogFurnace: {"furnace.temp1", "furnace.temp2", "furnace.power"},
	LogGeneric: {"X", "Y", "Z", "Omega", "HROT", "VROT", "proton_charge"},
	LogMTS: {
		"loadframe.displacement", "loadframe.force", "loadframe.strain", "loadframe.stress",
		"loadframe.rot_angle", "loadframe.torque", "loadframe.laser", "loadframe.laserstrain",
	},
	LogSampleEnv: {
		"eurotherm1.power", "eurotherm1.sp", "eurotherm1.temp",
		"eurotherm2.power", "eurotherm2.sp", "eurotherm2.temp",
		"partlow1.temp", "partlow2.temp",
	},
}

// LogFileName returns the export file name for a run and kind.
func LogFileName(dir string, run int, kind LogKind) string {
	return filepath.Join(dir, strconv.Itoa(run)+"_"+string(kind)+".txt")
}

// LogTable builds the header and rows of one sample-environment export. Rows
// follow the union of sample times; each column holds the latest value at or
// before that time. ok is false when the run has none of the kind's logs.
func LogTable(run *engine.Focused, kind LogKind) (header []string, rows [][]string, ok bool) {
	var present []string
	timeSet := make(map[float64]struct{})
	for _, name := range logColumns[kind] {
		s, found := run.Log(name)
		if !found {
			continue
		}
		present = append(present, name)
		for _, t := range s.Times {
			timeSet[t] = struct{}{}
		}
	}
	if len(present) == 0 {
		return nil, nil, false
	}

	times := make([]float64, 0, len(timeSet))
	for t := range timeSet {
		times = append(times, t)
	}
	sort.Float64s(times)

	header = append([]string{"Time"}, present...)
	for _, t := range times {
		row := []string{formatFloat(t)}
		for _, name := range present {
			s, _ := run.Log(name)
			row = append(row, valueAt(s, t))
		}
		rows = append(rows, row)
	}
	return header, rows, true
}

func valueAt(s engine.Series, t float64) string {
	n := len(s.Times)
	if n > len(s.Values) {
		n = len(s.Values)
	}
	i := sort.Search(n, func(i int) bool { return s.Times[i] > t }) - 1
	if i < 0 {
		return ""
	}
	return formatFloat(s.Values[i])
}
