package reduction

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vulcan-sns/vulcan-reduce/internal/calib"
	"github.com/vulcan-sns/vulcan-reduce/internal/engine"
	"github.com/vulcan-sns/vulcan-reduce/internal/fault"
	"github.com/vulcan-sns/vulcan-reduce/internal/record"
	"github.com/vulcan-sns/vulcan-reduce/internal/resilience"
)

// validate fills in calibration files from the era table when they were not
// given, then checks that every input is readable and the output writable.
func (o *Orchestrator) validate(ctx context.Context, j *job) (string, error) {
	s := &j.setup
	if s.FocusBanks == 0 {
		s.FocusBanks = o.cfg.Instrument.FocusBanks
	}
	if s.VulcanBinFile == "" {
		s.VulcanBinFile = o.cfg.Binning.VDriveBinFile
	}

	var selected string
	if s.CalibrationFile == "" || s.CharacterizationFile == "" {
		if s.AcquiredAt.IsZero() {
			info, err := o.engine.Probe(ctx, s.EventFile)
			if err != nil {
				return "", fault.Wrap(fault.KindEngine, "reduction: probe", err)
			}
			s.AcquiredAt = info.StartTime
		}
		set, err := o.eras.Select(s.AcquiredAt, s.FocusBanks)
		if err != nil {
			return "", err
		}
		if s.CalibrationFile == "" {
			s.CalibrationFile = set.CalibrationPath
		}
		if s.CharacterizationFile == "" {
			s.CharacterizationFile = set.CharacterizationPath
		}
		if s.VulcanBinFile == "" && s.FocusBanks == 3 {
			s.VulcanBinFile = set.VDriveBinPath
		}
		selected = fmt.Sprintf(" (selected for %s)", s.AcquiredAt.Format("2006-01-02"))
	}

	if err := calib.Validate(s); err != nil {
		return "", err
	}
	if s.VulcanBinFile != "" {
		if err := calib.CheckReadable(s.VulcanBinFile); err != nil {
			return "", fault.Wrap(fault.KindIOAccess, "calib: validate bin file", err)
		}
	}
	// A record that cannot be imported stops the job before reduction; a
	// missing record only skips normalization later.
	if s.NormalizeByVanadium && s.VanadiumRun == 0 {
		if _, err := o.vanadiumTable(ctx); err != nil && !fault.Is(err, fault.KindMatch) {
			return "", err
		}
	}
	return fmt.Sprintf("validated run %d: calibration %s, characterization %s%s",
		s.RunNumber, s.CalibrationFile, s.CharacterizationFile, selected), nil
}

func (o *Orchestrator) reduce(ctx context.Context, j *job) (string, error) {
	s := &j.setup
	params := s.Binning
	if params.IsZero() {
		params = o.cfg.Binning.Reduce
	}
	req := engine.Request{
		EventFile:            s.EventFile,
		CalibrationFile:      s.CalibrationFile,
		CharacterizationFile: s.CharacterizationFile,
		Binning:              params,
		Banks:                s.FocusBanks,
		MergeBanks:           s.MergeBanks,
		BinInDSpace:          true,
	}

	focused, err := resilience.ExecuteVal(ctx, o.breaker, func(ctx context.Context) (*engine.Focused, error) {
		return o.engine.Reduce(ctx, req)
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) || fault.KindOf(err) == fault.KindUnknown {
			return "", fault.Wrap(fault.KindEngine, "reduction: reduce", err)
		}
		return "", err
	}
	if focused == nil || focused.Handle == "" {
		return "", fault.New(fault.KindEngine, "reduction: reduce", "engine returned no focused result")
	}
	if focused.RunNumber == 0 {
		focused.RunNumber = s.RunNumber
	}
	j.focused = focused
	return fmt.Sprintf("reduction engine: run %d %q focused into %d banks", s.RunNumber, focused.Title, s.FocusBanks), nil
}

// checkTarget decides whether the GSAS output may be written.
func (o *Orchestrator) checkTarget(j *job) (string, error) {
	path := j.setup.GSASPath
	if path == "" {
		return "", fault.New(fault.KindConfig, "reduction: gsas target", "no GSAS output path")
	}
	dir := filepath.Dir(path)
	if err := calib.CheckWritableDir(dir, true); err != nil {
		return "", fault.Wrap(fault.KindIOAccess, "reduction: gsas target",
			eris.Wrapf(err, "cannot write GSAS file %s", path))
	}
	if _, err := os.Stat(path); err == nil {
		if err := calib.CheckWritableFile(path); err != nil {
			return "", fault.Wrap(fault.KindIOAccess, "reduction: gsas target",
				eris.Wrapf(err, "cannot overwrite GSAS file %s", path))
		}
		return fmt.Sprintf("overwriting existing GSAS file %s", path), nil
	}
	return "", nil
}

func (o *Orchestrator) exportGSAS(ctx context.Context, j *job) (string, error) {
	s := &j.setup
	scheme, err := o.bins.Build(ctx, s.FocusBanks, s.VulcanBinFile, o.cfg.Binning.Fallback, s.MergeBanks)
	if err != nil {
		return "", err
	}
	err = o.engine.ExportGSAS(ctx, engine.ExportRequest{
		Handle:    j.focused.Handle,
		Scheme:    scheme,
		IPTS:      s.IPTSNumber,
		ParamFile: o.cfg.Instrument.GSASParamFile,
		Path:      s.GSASPath,
		Unit:      engine.UnitTOF,
	})
	if err != nil {
		if fault.KindOf(err) == fault.KindUnknown {
			err = fault.Wrap(fault.KindEngine, "reduction: export gsas", err)
		}
		return "", err
	}
	info, err := os.Stat(s.GSASPath)
	if err != nil {
		return "", fault.Wrap(fault.KindIOAccess, "reduction: export gsas",
			eris.Wrapf(err, "engine reported success but %s is missing", s.GSASPath))
	}
	record.OpenPermissions(s.GSASPath)

	binning := "parametric"
	if scheme.Explicit() {
		binning = "explicit " + filepath.Base(scheme.Source)
	}
	return fmt.Sprintf("GSAS written to %s (%s, %d spectra, %s binning)",
		s.GSASPath, humanize.Bytes(uint64(info.Size())), scheme.Spectra(), binning), nil
}

func (o *Orchestrator) exportLogs(j *job) (string, error) {
	dir := j.setup.LogDir
	if dir == "" {
		dir = j.setup.OutputDir
	}
	if err := calib.CheckWritableDir(dir, true); err != nil {
		return "", fault.Wrap(fault.KindIOAccess, "reduction: export logs", err)
	}

	var notes, failures []string
	for _, kind := range record.LogKinds {
		header, rows, ok := record.LogTable(j.focused, kind)
		if !ok {
			notes = append(notes, fmt.Sprintf("%s: no logs", kind))
			continue
		}
		path, err := record.GenerateTabularLog(record.LogFileName(dir, j.setup.RunNumber, kind), header, rows)
		if err != nil {
			j.log.Warn("reduction: log export failed", zap.String("kind", string(kind)), zap.Error(err))
			failures = append(failures, fmt.Sprintf("%s: %v", kind, err))
			continue
		}
		notes = append(notes, fmt.Sprintf("%s: %s", kind, path))
	}
	if len(failures) > 0 {
		return "", fault.Errorf(fault.KindIOAccess, "reduction: export logs", "%s",
			strings.Join(append(failures, notes...), "; "))
	}
	return "sample logs " + strings.Join(notes, "; "), nil
}

func (o *Orchestrator) exportRecords(ctx context.Context, j *job) (string, error) {
	s := &j.setup
	rec := o.buildRecord(ctx, j)

	var notes, failures []string
	export := func(path string) bool {
		if err := o.exporter.Export(ctx, rec, path, record.ModeAppend); err != nil {
			failures = append(failures, err.Error())
			return false
		}
		notes = append(notes, "record appended to "+path)
		return true
	}

	primaryOK := export(s.RecordFile)
	category := ""
	categoryOK := false
	if s.CategoryRecords != "" {
		category = o.resolver.CategoryRecordPath(s, o.runTitle(ctx, j))
		categoryOK = export(category)
	}
	if s.ExtraRecordFile != "" {
		export(s.ExtraRecordFile)
	}

	if s.AutoService && s.ArchiveRecord != "" {
		archiveDir := filepath.Dir(s.ArchiveRecord)
		pairs := [][2]string{}
		if primaryOK {
			pairs = append(pairs, [2]string{s.RecordFile, s.ArchiveRecord})
		}
		if categoryOK {
			pairs = append(pairs, [2]string{category, filepath.Join(archiveDir, filepath.Base(category))})
		}
		if err := calib.CheckWritableDir(archiveDir, true); err != nil {
			failures = append(failures, fault.Wrap(fault.KindIOAccess, "reduction: archive records", err).Error())
			pairs = nil
		}
		for _, p := range pairs {
			if err := o.exporter.DuplicateIfAbsent(ctx, p[0], p[1], rec); err != nil {
				failures = append(failures, err.Error())
				continue
			}
			notes = append(notes, "record archived to "+p[1])
		}
	}

	if len(failures) > 0 {
		return "", fault.Errorf(fault.KindIOAccess, "reduction: export records", "%s",
			strings.Join(append(failures, notes...), "; "))
	}
	return strings.Join(notes, "; "), nil
}

// buildRecord evaluates the record schema for the focused run, overlaid with
// auxiliary metadata found next to the event file.
func (o *Orchestrator) buildRecord(ctx context.Context, j *job) *record.Record {
	if j.rec != nil {
		return j.rec
	}
	s := &j.setup
	primary := record.New(o.schema, j.focused, s.IPTSNumber, nil).Attributes()
	merged, patched := record.PatchFromAuxiliary(ctx, primary, o.auxSources(j)...)
	patch := make(map[string]string, len(patched))
	for _, title := range patched {
		patch[title] = merged[title]
	}
	if len(patched) > 0 {
		j.log.Info("reduction: record patched from auxiliary metadata", zap.Strings("fields", patched))
	}
	j.rec = record.New(o.schema, j.focused, s.IPTSNumber, patch)
	return j.rec
}

func (o *Orchestrator) auxSources(j *job) []record.AuxSource {
	inst := o.cfg.Instrument.Name
	if inst == "" {
		inst = "VULCAN"
	}
	dir := filepath.Dir(j.setup.EventFile)
	run := j.setup.RunNumber
	return []record.AuxSource{
		record.XMLSource{Path: filepath.Join(dir, fmt.Sprintf("%s_%d_runinfo.xml", inst, run))},
		record.ContainerSource{Path: filepath.Join(dir, fmt.Sprintf("%s_%d.zip", inst, run))},
	}
}

func (o *Orchestrator) exportStandard(ctx context.Context, j *job) (string, error) {
	s := &j.setup
	tag := s.StandardTag
	if tag == "" {
		tag = "Standard"
	}
	dir := filepath.Join(o.cfg.Record.StandardsDir, tag)
	if err := calib.CheckWritableDir(dir, true); err != nil {
		return "", fault.Wrap(fault.KindIOAccess, "reduction: standards", err)
	}
	dst := filepath.Join(dir, filepath.Base(s.GSASPath))
	if err := record.CopyFile(s.GSASPath, dst); err != nil {
		return "", err
	}
	recPath := filepath.Join(dir, tag+"Record.txt")
	if err := o.exporter.Export(ctx, o.buildRecord(ctx, j), recPath, record.ModeAppend); err != nil {
		return "", err
	}
	return fmt.Sprintf("standard %s: GSAS copied to %s, record appended to %s", tag, dst, recPath), nil
}

// runTitle is the record's title, which auxiliary metadata may have replaced.
func (o *Orchestrator) runTitle(ctx context.Context, j *job) string {
	if title, ok := o.buildRecord(ctx, j).Get("Title"); ok && title != "" {
		return title
	}
	return j.focused.Title
}

func (o *Orchestrator) wantsGSASArchive(ctx context.Context, j *job) bool {
	s := &j.setup
	if s.ExtraGSASDir != "" {
		return true
	}
	return s.AutoService && s.GSASArchiveDir != "" && !o.resolver.IsAlignmentRun(o.runTitle(ctx, j))
}

// archiveGSAS copies the GSAS output into the user archive and any extra
// directory. An existing copy is replaced only after the new copy succeeds.
func (o *Orchestrator) archiveGSAS(ctx context.Context, j *job) (string, error) {
	s := &j.setup
	var dirs []string
	if s.AutoService && s.GSASArchiveDir != "" && !o.resolver.IsAlignmentRun(o.runTitle(ctx, j)) {
		dirs = append(dirs, s.GSASArchiveDir)
	}
	if s.ExtraGSASDir != "" {
		dirs = append(dirs, s.ExtraGSASDir)
	}

	var notes, failures []string
	for _, dir := range dirs {
		if err := calib.CheckWritableDir(dir, true); err != nil {
			failures = append(failures, fault.Wrap(fault.KindIOAccess, "reduction: archive gsas", err).Error())
			continue
		}
		paths := []string{s.GSASPath}
		if j.result.NormalizedPath != "" {
			paths = append(paths, j.result.NormalizedPath)
		}
		for _, src := range paths {
			dst := filepath.Join(dir, filepath.Base(src))
			if err := record.CopyFile(src, dst); err != nil {
				failures = append(failures, err.Error())
				continue
			}
			notes = append(notes, "GSAS copied to "+dst)
		}
	}
	if len(failures) > 0 {
		return "", fault.Errorf(fault.KindIOAccess, "reduction: archive gsas", "%s",
			strings.Join(append(failures, notes...), "; "))
	}
	return strings.Join(notes, "; "), nil
}
