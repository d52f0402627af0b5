package model

import (
	"fmt"
	"strings"
	"time"
)

// BinParams is a parametric binning specification. A negative Step means
// logarithmic binning with relative width |Step|.
type BinParams struct {
	Min  float64 `json:"min" mapstructure:"min"`
	Step float64 `json:"step" mapstructure:"step"`
	Max  float64 `json:"max" mapstructure:"max"`
}

// String renders the parameters the way the reduction engine expects them.
func (p BinParams) String() string {
	return fmt.Sprintf("%g,%g,%g", p.Min, p.Step, p.Max)
}

// IsZero reports whether no parameters were given.
func (p BinParams) IsZero() bool {
	return p.Min == 0 && p.Step == 0 && p.Max == 0
}

// CalibrationFileSet is the set of calibration inputs selected for one run.
type CalibrationFileSet struct {
	CalibrationPath      string `json:"calibration_path" yaml:"calibration"`
	CharacterizationPath string `json:"characterization_path" yaml:"characterization"`
	VDriveBinPath        string `json:"vdrive_bin_path,omitempty" yaml:"vdrive_bin,omitempty"`
}

// ReductionSetup describes one reduction job. It is populated by the CLI,
// finalized by the path resolver and read-only afterwards.
type ReductionSetup struct {
	RunNumber  int    `json:"run_number"`
	IPTSNumber int    `json:"ipts_number"`
	EventFile  string `json:"event_file"`
	OutputDir  string `json:"output_dir"`

	CalibrationFile      string    `json:"calibration_file"`
	CharacterizationFile string    `json:"characterization_file"`
	VulcanBinFile        string    `json:"vulcan_bin_file,omitempty"`
	Binning              BinParams `json:"binning"`
	FocusBanks           int       `json:"focus_banks"`
	AcquiredAt           time.Time `json:"acquired_at,omitempty"`

	AutoService         bool   `json:"auto_service"`
	StandardSample      bool   `json:"standard_sample"`
	StandardTag         string `json:"standard_tag,omitempty"`
	MergeBanks          bool   `json:"merge_banks"`
	NormalizeByVanadium bool   `json:"normalize_by_vanadium"`
	VanadiumRun         int    `json:"vanadium_run,omitempty"`
	ExportLogs          bool   `json:"export_logs"`
	DryRun              bool   `json:"dry_run"`

	// Derived paths.
	GSASPath        string `json:"gsas_path"`
	GSASArchiveDir  string `json:"gsas_archive_dir,omitempty"`
	PlotPath        string `json:"plot_path"`
	LogDir          string `json:"log_dir,omitempty"`
	RecordFile      string `json:"record_file,omitempty"`
	ArchiveRecord   string `json:"archive_record,omitempty"`
	CategoryRecords string `json:"category_records,omitempty"`

	// Optional secondary outputs requested in manual mode.
	ExtraGSASDir    string `json:"extra_gsas_dir,omitempty"`
	ExtraRecordFile string `json:"extra_record_file,omitempty"`
}

// NormalizedGSASPath is the path of the vanadium-normalized copy of the GSAS output.
func (s *ReductionSetup) NormalizedGSASPath() string {
	if s.GSASPath == "" {
		return ""
	}
	return strings.TrimSuffix(s.GSASPath, ".gda") + "_v.gda"
}
