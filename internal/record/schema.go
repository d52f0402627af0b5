// Package record builds experiment-log records and appends them to record
// files without losing earlier rows.
package record

// Op aggregates a sample log (or selects run metadata) into one cell.
type Op string

const (
	OpFirst    Op = "first"
	OpLast     Op = "last"
	OpMean     Op = "mean"
	OpSum      Op = "sum"
	OpMax      Op = "max"
	OpMin      Op = "min"
	OpDuration Op = "duration"
	OpTime     Op = "time"
	// OpAttr copies a string attribute of the run.
	OpAttr Op = "attr"
	// OpMeta copies run or IPTS number.
	OpMeta Op = "meta"
)

// Metadata sources for OpMeta and OpAttr fields.
const (
	SourceRun   = "run_number"
	SourceIPTS  = "ipts_number"
	SourceTitle = "run_title"
)

// Field is one record column: its title, the run data it comes from and how
// that data is reduced to a single value.
type Field struct {
	Title  string `json:"title" yaml:"title"`
	Source string `json:"source" yaml:"source"`
	Op     Op     `json:"op" yaml:"op"`
}

// Schema is the ordered column list of a record file.
type Schema []Field

// Header returns the column titles.
func (s Schema) Header() []string {
	out := make([]string, len(s))
	for i, f := range s {
		out[i] = f.Title
	}
	return out
}

// PatchedFields are the columns that auxiliary metadata may override.
var PatchedFields = []string{"Sample", "Title", "Notes", "Monitor1", "TotalCounts", "Collimator", "ITEM"}

// DefaultSchema returns the VULCAN experiment-log columns.
func DefaultSchema() Schema {
	s := Schema{
		{"RUN", SourceRun, OpMeta},
		{"IPTS", SourceIPTS, OpMeta},
		{"Title", SourceTitle, OpAttr},
		{"Notes", "file_notes", OpAttr},
		{"Sample", "Sample", OpAttr},
		{"ITEM", "SampleId", OpAttr},
		{"StartTime", "run_start", OpTime},
		{"Duration", "proton_charge", OpDuration},
		{"ProtonCharge", "proton_charge", OpSum},
		{"TotalCounts", "total_counts", OpAttr},
		{"Monitor1", "monitor1_counts", OpAttr},
		{"Monitor2", "monitor2_counts", OpAttr},
		{"X", "X", OpMean},
		{"Y", "Y", OpMean},
		{"Z", "Z", OpMean},
		{"O", "Omega", OpMean},
		{"HROT", "HROT", OpMean},
		{"VROT", "VROT", OpMean},
		{"BandCentre", "lambda", OpMean},
		{"BandWidth", "bandwidth", OpMean},
		{"Frequency", "skf1.speed", OpMean},
		{"Guide", "Guide", OpMean},
		{"IX", "IX", OpMean},
		{"IY", "IY", OpMean},
		{"IZ", "IZ", OpMean},
		{"IHA", "IHA", OpMean},
		{"IVA", "IVA", OpMean},
		{"Collimator", "Vcollimator", OpMean},
	}
	for _, m := range []struct{ title, log string }{
		{"MTSDisplacement", "loadframe.displacement"},
		{"MTSForce", "loadframe.force"},
		{"MTSStrain", "loadframe.strain"},
		{"MTSStress", "loadframe.stress"},
		{"MTSAngle", "loadframe.rot_angle"},
		{"MTSTorque", "loadframe.torque"},
		{"MTSLaser", "loadframe.laser"},
		{"MTSlaserstrain", "loadframe.laserstrain"},
		{"MTSDisplaceoffset", "loadframe.x_offset"},
		{"MTSAngleceoffset", "loadframe.rot_offset"},
		{"MTST1", "loadframe.furnace1"},
		{"MTST2", "loadframe.furnace2"},
		{"MTSEvent", "loadframe.extTC3"},
		{"MTSCycle", "loadframe.extTC4"},
		{"MTSPhase", "loadframe.phase"},
		{"MTSMode", "loadframe.mode"},
		{"FurnaceT", "furnace.temp1"},
		{"FurnaceOT", "furnace.temp2"},
		{"FurnacePower", "furnace.power"},
		{"VacT", "partlow1.temp"},
		{"VacOT", "partlow2.temp"},
		{"EuroTherm1Powder", "eurotherm1.power"},
		{"EuroTherm1SP", "eurotherm1.sp"},
		{"EuroTherm1Temp", "eurotherm1.temp"},
		{"EuroTherm2Powder", "eurotherm2.power"},
		{"EuroTherm2SP", "eurotherm2.sp"},
		{"EuroTherm2Temp", "eurotherm2.temp"},
	} {
		s = append(s, Field{Title: m.title, Source: m.log, Op: OpMean})
	}
	return s
}
