// Package engine is the boundary to the external reduction engine that
// focuses raw event data and writes GSAS files.
package engine

import (
	"context"
	"time"

	"github.com/vulcan-sns/vulcan-reduce/internal/binning"
	"github.com/vulcan-sns/vulcan-reduce/internal/model"
)

// Engine reduces raw event files. Implementations must be safe for
// sequential reuse; the pipeline never calls one concurrently for a job.
type Engine interface {
	// Probe reads run metadata without reducing.
	Probe(ctx context.Context, eventFile string) (*RunInfo, error)
	// Reduce focuses an event file and returns a handle to the result.
	Reduce(ctx context.Context, req Request) (*Focused, error)
	// ExportGSAS writes a focused result to a GSAS file.
	ExportGSAS(ctx context.Context, req ExportRequest) error
}

// RunInfo is the metadata needed before reduction.
type RunInfo struct {
	RunNumber int       `json:"run_number"`
	Title     string    `json:"title"`
	StartTime time.Time `json:"start_time"`
}

// Request asks the engine to focus one event file.
type Request struct {
	EventFile            string          `json:"event_file"`
	CalibrationFile      string          `json:"calibration_file"`
	CharacterizationFile string          `json:"characterization_file"`
	Binning              model.BinParams `json:"binning"`
	Banks                int             `json:"banks"`
	MergeBanks           bool            `json:"merge_banks"`
	BinInDSpace          bool            `json:"bin_in_d_space"`
	PreserveEvents       bool            `json:"preserve_events"`
}

// Series is one time-stamped sample log. Times are seconds from run start.
type Series struct {
	Times  []float64 `json:"times"`
	Values []float64 `json:"values"`
}

// Focused is a reduced run held by the engine.
type Focused struct {
	Handle     string            `json:"handle"`
	RunNumber  int               `json:"run_number"`
	Title      string            `json:"title"`
	RunStart   time.Time         `json:"run_start"`
	RunEnd     time.Time         `json:"run_end"`
	Banks      int               `json:"banks"`
	Unit       string            `json:"unit"`
	Logs       map[string]Series `json:"logs"`
	Attributes map[string]string `json:"attributes"`
}

// Log returns a sample log by name.
func (f *Focused) Log(name string) (Series, bool) {
	s, ok := f.Logs[name]
	return s, ok && len(s.Values) > 0
}

// Attribute returns a string attribute by name.
func (f *Focused) Attribute(name string) (string, bool) {
	v, ok := f.Attributes[name]
	return v, ok
}

// ExportRequest asks the engine to write a focused run as GSAS in TOF.
type ExportRequest struct {
	Handle    string          `json:"handle"`
	Scheme    *binning.Scheme `json:"scheme"`
	IPTS      int             `json:"ipts"`
	ParamFile string          `json:"param_file,omitempty"`
	Path      string          `json:"path"`
	Unit      string          `json:"unit"`
}
