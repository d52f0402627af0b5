package reduction

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vulcan-sns/vulcan-reduce/internal/fault"
	"github.com/vulcan-sns/vulcan-reduce/internal/gsas"
	"github.com/vulcan-sns/vulcan-reduce/internal/record"
	"github.com/vulcan-sns/vulcan-reduce/internal/vanadium"
)

// normalize divides the GSAS output by the matched vanadium pattern and
// writes the _v copy. The plain GSAS file is kept whatever happens here.
func (o *Orchestrator) normalize(ctx context.Context, j *job) (string, error) {
	s := &j.setup
	vanRun := s.VanadiumRun
	if vanRun == 0 {
		run, err := o.matchVanadium(ctx, j)
		if err != nil {
			return "", err
		}
		vanRun = run
	}

	van, err := o.vanadiumPattern(vanRun, o.cfg.Vanadium.Tag)
	if err != nil {
		return "", err
	}
	sample, err := gsas.ReadFile(s.GSASPath)
	if err != nil {
		return "", fault.Wrap(fault.KindIOAccess, "reduction: vanadium", err)
	}
	out, err := gsas.Normalize(sample, van)
	if err != nil {
		return "", eris.Wrapf(err, "reduction: normalize run %d by vanadium %d", s.RunNumber, vanRun)
	}
	out.Comments = append(out.Comments, fmt.Sprintf("normalized by vanadium run %d", vanRun))

	path := s.NormalizedGSASPath()
	if err := gsas.WriteFile(path, out); err != nil {
		return "", fault.Wrap(fault.KindIOAccess, "reduction: vanadium", err)
	}
	record.OpenPermissions(path)

	j.result.NormalizedPath = path
	j.result.VanadiumRun = vanRun
	return fmt.Sprintf("normalized by vanadium run %d: %s", vanRun, path), nil
}

// matchVanadium matches the run's own record row against the vanadium record.
func (o *Orchestrator) matchVanadium(ctx context.Context, j *job) (int, error) {
	table, err := o.vanadiumTable(ctx)
	if err != nil {
		return 0, err
	}
	rec := o.buildRecord(ctx, j)
	samples, err := vanadium.NewTable(fmt.Sprintf("run %d record", j.setup.RunNumber), rec.Header(), [][]string{rec.Row()})
	if err != nil {
		return 0, err
	}
	m := vanadium.NewMatcher()
	if err := m.Load(table, samples); err != nil {
		return 0, err
	}
	return m.MatchRun(j.setup.RunNumber, o.criteria)
}

// vanadiumTable returns the vanadium record, importing it on first use.
func (o *Orchestrator) vanadiumTable(ctx context.Context) (*vanadium.Table, error) {
	o.vanTableMu.Lock()
	defer o.vanTableMu.Unlock()
	if o.vanTable != nil {
		return o.vanTable, nil
	}
	path := o.cfg.Vanadium.RecordFile
	if path == "" {
		return nil, fault.New(fault.KindMatch, "reduction: vanadium",
			"no vanadium record configured; run omitted from normalization")
	}
	t, err := vanadium.ImportAttributeTable(ctx, path)
	if err != nil {
		return nil, err
	}
	zap.L().Info("reduction: vanadium record imported",
		zap.String("path", path), zap.Int("runs", t.Len()), zap.Int("skipped_rows", len(t.Skipped)))
	o.vanTable = t
	return t, nil
}

// vanadiumPattern returns the pre-reduced vanadium pattern for (run, tag),
// reading it from disk at most once per Orchestrator.
func (o *Orchestrator) vanadiumPattern(run int, tag string) (*gsas.Pattern, error) {
	key := vanKey{run: run, tag: tag}
	o.vanMu.RLock()
	p, ok := o.vanCache[key]
	o.vanMu.RUnlock()
	if ok {
		return p, nil
	}

	v, err, _ := o.vanGroup.Do(strconv.Itoa(run)+"-"+tag, func() (any, error) {
		o.vanMu.RLock()
		p, ok := o.vanCache[key]
		o.vanMu.RUnlock()
		if ok {
			return p, nil
		}

		path := filepath.Join(o.cfg.Vanadium.GSASDir, fmt.Sprintf("%d-%s.gda", run, tag))
		p, err := gsas.ReadFile(path)
		if err != nil {
			return nil, fault.Wrap(fault.KindIOAccess, "reduction: load vanadium", err)
		}
		o.vanLoads.Add(1)
		zap.L().Info("reduction: loaded vanadium pattern", zap.Int("vanadium_run", run), zap.String("path", path))

		o.vanMu.Lock()
		o.vanCache[key] = p
		o.vanMu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*gsas.Pattern), nil
}
