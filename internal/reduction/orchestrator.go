// Package reduction sequences one full reduction job: engine focusing, GSAS
// export, vanadium normalization, sample-environment logs and records.
package reduction

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/vulcan-sns/vulcan-reduce/internal/binning"
	"github.com/vulcan-sns/vulcan-reduce/internal/calib"
	"github.com/vulcan-sns/vulcan-reduce/internal/config"
	"github.com/vulcan-sns/vulcan-reduce/internal/engine"
	"github.com/vulcan-sns/vulcan-reduce/internal/fault"
	"github.com/vulcan-sns/vulcan-reduce/internal/gsas"
	"github.com/vulcan-sns/vulcan-reduce/internal/journal"
	"github.com/vulcan-sns/vulcan-reduce/internal/model"
	"github.com/vulcan-sns/vulcan-reduce/internal/record"
	"github.com/vulcan-sns/vulcan-reduce/internal/resilience"
	"github.com/vulcan-sns/vulcan-reduce/internal/vanadium"
)

// Step names in execution order.
const (
	StepValidate  = "1_validate"
	StepReduce    = "2_reduce"
	StepTarget    = "3_gsas_target"
	StepExport    = "4_gsas_export"
	StepVanadium  = "5_vanadium"
	StepLogs      = "6_logs"
	StepRecords   = "7_records"
	StepStandards = "8_standards"
	StepArchive   = "9_archive_gsas"
)

// Deps are the collaborators of an Orchestrator. Only Engine is required.
// Eras defaults to the built-in calibration table, Schema to the VULCAN
// record schema and Vanadium to the configured vanadium record, imported on
// first use. Journal may be nil.
type Deps struct {
	Engine   engine.Engine
	Resolver *calib.Resolver
	Eras     *calib.EraTable
	Bins     *binning.Builder
	Vanadium *vanadium.Table
	Exporter *record.Exporter
	Journal  journal.Store
	Schema   record.Schema
}

// Orchestrator runs reduction jobs. One Orchestrator may run many jobs in
// sequence; the vanadium pattern cache and engine circuit breaker are shared
// between them.
type Orchestrator struct {
	cfg      *config.Config
	engine   engine.Engine
	resolver *calib.Resolver
	eras     *calib.EraTable
	bins     *binning.Builder
	exporter *record.Exporter
	journal  journal.Store
	schema   record.Schema
	criteria []vanadium.Criterion
	breaker  *resilience.CircuitBreaker

	vanTableMu sync.Mutex
	vanTable   *vanadium.Table

	vanMu    sync.RWMutex
	vanCache map[vanKey]*gsas.Pattern
	vanGroup singleflight.Group
	vanLoads atomic.Int64
}

type vanKey struct {
	run int
	tag string
}

// New creates an Orchestrator from configuration and collaborators.
func New(cfg *config.Config, deps Deps) (*Orchestrator, error) {
	if deps.Engine == nil {
		return nil, eris.New("reduction: engine is required")
	}
	criteria, err := vanadium.CriteriaFromConfig(cfg.Vanadium.Criteria)
	if err != nil {
		return nil, eris.Wrap(err, "reduction: vanadium criteria")
	}
	o := &Orchestrator{
		cfg:      cfg,
		engine:   deps.Engine,
		resolver: deps.Resolver,
		eras:     deps.Eras,
		bins:     deps.Bins,
		vanTable: deps.Vanadium,
		exporter: deps.Exporter,
		journal:  deps.Journal,
		schema:   deps.Schema,
		criteria: criteria,
		vanCache: make(map[vanKey]*gsas.Pattern),
	}
	if o.resolver == nil {
		o.resolver = calib.NewResolver(cfg.Instrument, cfg.Record)
	}
	if o.eras == nil {
		o.eras = calib.DefaultEraTable()
	}
	if o.bins == nil {
		o.bins = binning.NewBuilder(cfg.Binning)
	}
	if o.exporter == nil {
		o.exporter = record.NewExporter(cfg.Record)
	}
	if o.schema == nil {
		o.schema = record.DefaultSchema()
	}

	breakerCfg := resilience.BreakerFromEngineConfig(cfg.Engine)
	breakerCfg.ShouldTrip = func(err error) bool { return fault.Is(err, fault.KindEngine) }
	breakerCfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("reduction: engine circuit breaker state change",
			zap.String("from", from.String()), zap.String("to", to.String()))
	}
	o.breaker = resilience.NewCircuitBreaker(breakerCfg)
	return o, nil
}

// Breaker returns the circuit breaker guarding engine calls.
func (o *Orchestrator) Breaker() *resilience.CircuitBreaker {
	return o.breaker
}

// VanadiumLoads reports how many vanadium GSAS files were read from disk.
func (o *Orchestrator) VanadiumLoads() int64 {
	return o.vanLoads.Load()
}

// job carries the mutable state of one Run call.
type job struct {
	setup   model.ReductionSetup
	result  *model.JobResult
	jobID   string
	focused *engine.Focused
	rec     *record.Record
	gsasOK  bool
	log     *zap.Logger
}

// Run executes one reduction job. It never returns an error: failures are
// reported through the result's Success flag and step messages.
func (o *Orchestrator) Run(ctx context.Context, setup *model.ReductionSetup) model.JobResult {
	if setup == nil {
		return model.JobResult{Steps: []model.StepResult{{
			Name:    StepValidate,
			Status:  model.StepStatusFailed,
			Message: "no reduction setup",
			Kind:    fault.KindConfig.String(),
			Fatal:   true,
		}}}
	}

	j := &job{
		setup:  *setup,
		result: &model.JobResult{RunNumber: setup.RunNumber, IPTSNumber: setup.IPTSNumber},
		log:    zap.L().With(zap.Int("run", setup.RunNumber), zap.Int("ipts", setup.IPTSNumber)),
	}
	j.log.Info("reduction: starting job", zap.String("event_file", setup.EventFile))

	if o.journal != nil && !setup.DryRun {
		jb, err := o.journal.CreateJob(ctx, setup)
		if err != nil {
			j.log.Warn("reduction: failed to journal job", zap.Error(err))
		} else {
			j.jobID = jb.ID
			j.result.JobID = jb.ID
		}
	}

	o.execute(ctx, j)

	if o.journal != nil && j.jobID != "" {
		if err := o.journal.CompleteJob(ctx, j.jobID, j.result); err != nil {
			j.log.Warn("reduction: failed to complete journal job", zap.Error(err))
		}
	}
	j.log.Info("reduction: job finished", zap.Bool("success", j.result.Success))
	return *j.result
}

func (o *Orchestrator) execute(ctx context.Context, j *job) {
	if st := o.trackStep(ctx, j, StepValidate, true, func() (string, error) {
		return o.validate(ctx, j)
	}); st.Status == model.StepStatusFailed {
		return
	}
	if j.setup.DryRun {
		o.skipStep(ctx, j, StepReduce, "dry run")
		j.result.Success = true
		return
	}

	if st := o.trackStep(ctx, j, StepReduce, true, func() (string, error) {
		return o.reduce(ctx, j)
	}); st.Status == model.StepStatusFailed {
		return
	}
	j.result.Success = true

	if st := o.trackStep(ctx, j, StepTarget, true, func() (string, error) {
		return o.checkTarget(j)
	}); st.Status != model.StepStatusFailed {
		if st := o.trackStep(ctx, j, StepExport, true, func() (string, error) {
			return o.exportGSAS(ctx, j)
		}); st.Status != model.StepStatusFailed {
			j.gsasOK = true
			j.result.GSASPath = j.setup.GSASPath
		}
	}

	switch {
	case !j.setup.NormalizeByVanadium:
	case !j.gsasOK:
		o.skipStep(ctx, j, StepVanadium, "vanadium normalization skipped: no GSAS output")
	default:
		o.trackStep(ctx, j, StepVanadium, false, func() (string, error) {
			return o.normalize(ctx, j)
		})
	}

	if j.setup.ExportLogs {
		o.trackStep(ctx, j, StepLogs, false, func() (string, error) {
			return o.exportLogs(j)
		})
	}

	if j.setup.RecordFile != "" {
		o.trackStep(ctx, j, StepRecords, false, func() (string, error) {
			return o.exportRecords(ctx, j)
		})
	}

	if j.setup.StandardSample {
		if j.gsasOK {
			o.trackStep(ctx, j, StepStandards, false, func() (string, error) {
				return o.exportStandard(ctx, j)
			})
		} else {
			o.skipStep(ctx, j, StepStandards, "standard copy skipped: no GSAS output")
		}
	}

	if j.gsasOK && o.wantsGSASArchive(ctx, j) {
		o.trackStep(ctx, j, StepArchive, false, func() (string, error) {
			return o.archiveGSAS(ctx, j)
		})
	}
}

// trackStep runs fn as one named step and records its outcome. A failed
// step's error text becomes the step message. The failure is fatal when the
// job cannot go on without the step or when the error's kind aborts jobs on
// its own; a fatal failure clears the job's Success. Unkinded errors from
// optional steps stay non-fatal. Match errors mark the step skipped.
func (o *Orchestrator) trackStep(ctx context.Context, j *job, name string, required bool, fn func() (string, error)) model.StepResult {
	start := time.Now()
	msg, err := fn()
	duration := time.Since(start).Milliseconds()

	st := model.StepResult{Name: name, Duration: duration, Message: msg}
	switch {
	case fault.Is(err, fault.KindMatch):
		st.Status = model.StepStatusSkipped
		st.Message = err.Error()
		st.Kind = fault.KindMatch.String()
		j.log.Warn("reduction: step skipped", zap.String("step", name), zap.Error(err))
	case err != nil:
		kind := fault.KindOf(err)
		st.Status = model.StepStatusFailed
		st.Message = err.Error()
		st.Kind = kind.String()
		st.ErrorType = resilience.ClassifyError(err)
		st.Fatal = required || (kind != fault.KindUnknown && fault.IsFatal(err))
		fields := []zap.Field{
			zap.String("step", name),
			zap.Int64("duration_ms", duration),
			zap.String("error_type", st.ErrorType),
			zap.Error(err),
		}
		if st.Fatal {
			j.result.Success = false
			j.log.Error("reduction: step failed", fields...)
		} else {
			j.log.Warn("reduction: step failed", fields...)
		}
	default:
		st.Status = model.StepStatusComplete
		j.log.Info("reduction: step complete",
			zap.String("step", name),
			zap.Int64("duration_ms", duration),
		)
	}
	o.appendStep(ctx, j, st)
	return st
}

func (o *Orchestrator) skipStep(ctx context.Context, j *job, name, reason string) {
	j.log.Info("reduction: step skipped", zap.String("step", name), zap.String("reason", reason))
	o.appendStep(ctx, j, model.StepResult{Name: name, Status: model.StepStatusSkipped, Message: reason})
}

func (o *Orchestrator) appendStep(ctx context.Context, j *job, st model.StepResult) {
	j.result.Steps = append(j.result.Steps, st)
	if o.journal != nil && j.jobID != "" {
		if err := o.journal.RecordStep(ctx, j.jobID, st); err != nil {
			j.log.Warn("reduction: failed to journal step", zap.String("step", st.Name), zap.Error(err))
		}
	}
}
