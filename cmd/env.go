package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/vulcan-sns/vulcan-reduce/internal/calib"
	"github.com/vulcan-sns/vulcan-reduce/internal/engine"
	"github.com/vulcan-sns/vulcan-reduce/internal/journal"
	"github.com/vulcan-sns/vulcan-reduce/internal/reduction"
)

// reduceEnv holds the collaborators needed by the reduce and batch commands.
type reduceEnv struct {
	Journal      journal.Store // may be nil
	Resolver     *calib.Resolver
	Orchestrator *reduction.Orchestrator
}

// Close releases resources held by the environment.
func (re *reduceEnv) Close() {
	if re.Journal != nil {
		_ = re.Journal.Close()
	}
}

// initReduction opens the journal, loads the calibration-era table and builds
// the orchestrator around the engine executable. A journal that cannot be
// opened is logged and skipped. Callers should defer env.Close().
func initReduction(ctx context.Context) (*reduceEnv, error) {
	return initReductionWith(ctx, engine.NewCommand(cfg.Engine))
}

func initReductionWith(ctx context.Context, eng engine.Engine) (*reduceEnv, error) {
	env := &reduceEnv{Resolver: calib.NewResolver(cfg.Instrument, cfg.Record)}

	st, err := journal.Open(ctx, cfg.Journal)
	if err != nil {
		zap.L().Warn("journal unavailable, jobs will not be recorded",
			zap.String("driver", cfg.Journal.Driver), zap.Error(err))
	} else if st != nil {
		env.Journal = st
	}

	eras, err := calib.LoadEraTable(cfg.Instrument.EraTable)
	if err != nil {
		env.Close()
		return nil, err
	}

	orch, err := reduction.New(cfg, reduction.Deps{
		Engine:   eng,
		Resolver: env.Resolver,
		Eras:     eras,
		Journal:  env.Journal,
	})
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Orchestrator = orch
	return env, nil
}

// openJournal opens the configured journal for the read-only commands.
func openJournal(ctx context.Context) (journal.Store, error) {
	st, err := journal.Open(ctx, cfg.Journal)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errJournalDisabled
	}
	return st, nil
}
