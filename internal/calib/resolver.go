// Package calib resolves reduction paths and selects calibration files by
// acquisition date.
package calib

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vulcan-sns/vulcan-reduce/internal/config"
	"github.com/vulcan-sns/vulcan-reduce/internal/fault"
	"github.com/vulcan-sns/vulcan-reduce/internal/model"
)

var (
	eventNamePattern = regexp.MustCompile(`^([A-Za-z]+)_(\d+)_event\.nxs$`)
	h5NamePattern    = regexp.MustCompile(`^(?:([A-Za-z]+)_)?(\d+)\.nxs\.h5$`)
	iptsPattern      = regexp.MustCompile(`^IPTS-(\d+)$`)
)

const (
	gsasSubdir   = "binned_data"
	logSubdir    = "experiment_log"
	plotSubdir   = "reduction_plots"
	sharedSubdir = "shared"
)

// Resolver turns raw event-file paths into reduction setups.
type Resolver struct {
	inst    config.InstrumentConfig
	records config.RecordConfig
}

// NewResolver creates a Resolver for the given instrument conventions.
func NewResolver(inst config.InstrumentConfig, records config.RecordConfig) *Resolver {
	return &Resolver{inst: inst, records: records}
}

// ParseRunNumber extracts the run number from an event-file base name.
func ParseRunNumber(base string) (int, error) {
	var digits string
	if m := eventNamePattern.FindStringSubmatch(base); m != nil {
		digits = m[2]
	} else if m := h5NamePattern.FindStringSubmatch(base); m != nil {
		digits = m[2]
	} else {
		return 0, fault.Errorf(fault.KindConfig, "calib: parse run",
			"event file name %q matches neither <INST>_<run>_event.nxs nor <run>.nxs.h5", base)
	}
	run, err := strconv.Atoi(digits)
	if err != nil {
		return 0, fault.Wrap(fault.KindConfig, "calib: parse run", eris.Wrapf(err, "run number %q", digits))
	}
	return run, nil
}

// ParseIPTS returns the proposal number from the nearest ancestor directory
// named IPTS-<n>, or 0 when there is none.
func ParseIPTS(dir string) int {
	for d := filepath.Clean(dir); ; d = filepath.Dir(d) {
		if m := iptsPattern.FindStringSubmatch(filepath.Base(d)); m != nil {
			n, err := strconv.Atoi(m[1])
			if err == nil {
				return n
			}
		}
		parent := filepath.Dir(d)
		if parent == d {
			return 0
		}
	}
}

// ProcessConfigurations derives run and IPTS numbers from rawPath and the
// GSAS, plot, log and record paths from outputRoot. An output root whose last
// segment is the auto-service directory marks the setup as auto-service.
func (r *Resolver) ProcessConfigurations(rawPath, outputRoot string) (*model.ReductionSetup, error) {
	rawPath = filepath.Clean(rawPath)
	dir, base := filepath.Split(rawPath)

	if _, err := os.Stat(rawPath); err != nil {
		if _, dirErr := os.Stat(dir); dirErr != nil {
			return nil, fault.Errorf(fault.KindConfig, "calib: process configurations",
				"neither event file %s nor its directory exists", rawPath)
		}
	}

	run, err := ParseRunNumber(base)
	if err != nil {
		return nil, err
	}
	ipts := ParseIPTS(dir)
	if ipts == 0 {
		zap.L().Info("calib: no IPTS directory in event path, assuming local mode",
			zap.String("event_file", rawPath))
	}

	if outputRoot == "" {
		return nil, fault.New(fault.KindConfig, "calib: process configurations", "output directory is required")
	}
	outputRoot = filepath.Clean(outputRoot)

	setup := &model.ReductionSetup{
		RunNumber:   run,
		IPTSNumber:  ipts,
		EventFile:   rawPath,
		OutputDir:   outputRoot,
		FocusBanks:  r.inst.FocusBanks,
		AutoService: filepath.Base(outputRoot) == r.autoDirName(),
		GSASPath:    filepath.Join(outputRoot, gsasSubdir, strconv.Itoa(run)+".gda"),
		PlotPath:    filepath.Join(outputRoot, plotSubdir, strconv.Itoa(run)+".png"),
		LogDir:      filepath.Join(outputRoot, logSubdir),
		RecordFile:  filepath.Join(outputRoot, r.records.FileName),
	}
	setup.CategoryRecords = outputRoot

	if setup.AutoService && ipts > 0 {
		shared := filepath.Join(r.inst.DataRoot, "IPTS-"+strconv.Itoa(ipts), sharedSubdir)
		setup.ArchiveRecord = filepath.Join(shared, r.records.FileName)
		setup.GSASArchiveDir = filepath.Join(shared, gsasSubdir)
	}
	return setup, nil
}

// IsAlignmentRun reports whether a run title starts with an alignment marker.
func (r *Resolver) IsAlignmentRun(title string) bool {
	title = strings.TrimSpace(title)
	for _, m := range r.inst.AlignmentMarkers {
		if m != "" && strings.HasPrefix(title, m) {
			return true
		}
	}
	return false
}

// CategoryRecordPath returns the alignment or data record file for a run title.
func (r *Resolver) CategoryRecordPath(setup *model.ReductionSetup, title string) string {
	name := r.records.DataFileName
	if r.IsAlignmentRun(title) {
		name = r.records.AlignmentFileName
	}
	return filepath.Join(setup.CategoryRecords, name)
}

// ResolveOutputPath redirects a path that ends in the auto-service directory
// to a sibling directory (override, or the configured manual directory). With
// create the target is made if missing; otherwise it is only checked to be
// creatable. Other paths are returned unchanged.
func (r *Resolver) ResolveOutputPath(original, override string, create bool) (string, error) {
	original = filepath.Clean(original)
	target := original
	if filepath.Base(original) == r.autoDirName() {
		name := override
		if name == "" {
			name = r.inst.ManualDirName
		}
		if name == "" {
			name = "manualreduce"
		}
		target = filepath.Join(filepath.Dir(original), name)
		zap.L().Info("calib: redirecting output away from auto-service directory",
			zap.String("from", original), zap.String("to", target))
	}
	if !create {
		if err := CheckCreatableDir(target); err != nil {
			return "", fault.Wrap(fault.KindIOAccess, "calib: resolve output path", err)
		}
		return target, nil
	}
	if err := os.MkdirAll(target, 0o775); err != nil {
		return "", fault.Wrap(fault.KindIOAccess, "calib: resolve output path",
			eris.Wrapf(err, "create %s", target))
	}
	return target, nil
}

func (r *Resolver) autoDirName() string {
	if r.inst.AutoDirName == "" {
		return "autoreduce"
	}
	return r.inst.AutoDirName
}
