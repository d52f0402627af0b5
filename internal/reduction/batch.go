package reduction

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vulcan-sns/vulcan-reduce/internal/model"
	"github.com/vulcan-sns/vulcan-reduce/internal/resilience"
)

// ErrNoJournal is returned by dead-letter operations when no journal is configured.
var ErrNoJournal = eris.New("reduction: dead-letter queue needs a journal")

// BatchSummary counts the outcomes of a batch.
type BatchSummary struct {
	Total        int `json:"total"`
	Succeeded    int `json:"succeeded"`
	Failed       int `json:"failed"`
	DeadLettered int `json:"dead_lettered,omitempty"`
}

// RunBatch reduces setups one after another. All jobs share the engine
// circuit breaker, so once the engine keeps failing the remaining jobs fail
// fast at the reduce step instead of invoking it. Failed jobs are queued in
// the journal's dead-letter queue for a later retry. Cancelling ctx stops the
// batch before the next job.
func (o *Orchestrator) RunBatch(ctx context.Context, setups []*model.ReductionSetup) ([]model.JobResult, BatchSummary) {
	results := make([]model.JobResult, 0, len(setups))
	var sum BatchSummary
	for i, setup := range setups {
		if err := ctx.Err(); err != nil {
			zap.L().Warn("reduction: batch cancelled", zap.Int("remaining", len(setups)-i), zap.Error(err))
			break
		}
		res := o.Run(ctx, setup)
		results = append(results, res)
		sum.Total++
		if res.Success {
			sum.Succeeded++
			continue
		}
		sum.Failed++
		if o.deadLetter(ctx, setup, res) {
			sum.DeadLettered++
		}
	}

	fields := []zap.Field{
		zap.Int("total", sum.Total),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
		zap.Int("dead_lettered", sum.DeadLettered),
		zap.String("breaker", o.breaker.State().String()),
	}
	if o.journal != nil {
		if depth, err := o.journal.CountDLQ(ctx); err == nil {
			fields = append(fields, zap.Int("dlq_depth", depth))
		}
	}
	zap.L().Info("reduction: batch finished", fields...)
	return results, sum
}

// deadLetter queues a failed job for retry. It reports whether the job was queued.
func (o *Orchestrator) deadLetter(ctx context.Context, setup *model.ReductionSetup, res model.JobResult) bool {
	if o.journal == nil || setup.DryRun {
		return false
	}
	st, _ := res.Failure()
	errorType := st.ErrorType
	if errorType == "" {
		errorType = "permanent"
	}
	maxRetries := o.cfg.Journal.DLQMaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	now := time.Now().UTC()
	entry := resilience.DLQEntry{
		Setup:        *setup,
		Error:        st.Message,
		ErrorType:    errorType,
		FailedStep:   st.Name,
		MaxRetries:   maxRetries,
		NextRetryAt:  resilience.NextRetry(now, o.dlqBackoff(), 0),
		CreatedAt:    now,
		LastFailedAt: now,
	}
	if err := o.journal.EnqueueDLQ(ctx, entry); err != nil {
		zap.L().Warn("reduction: failed to dead-letter job",
			zap.Int("run", setup.RunNumber), zap.Error(err))
		return false
	}
	zap.L().Info("reduction: job dead-lettered",
		zap.Int("run", setup.RunNumber),
		zap.String("step", st.Name),
		zap.String("error_type", errorType),
	)
	return true
}

// RetryDeadLetters reruns the due entries of the dead-letter queue. Entries
// that succeed are removed; entries that fail again are rescheduled with a
// doubled backoff until their retries run out.
func (o *Orchestrator) RetryDeadLetters(ctx context.Context, filter resilience.DLQFilter) ([]model.JobResult, BatchSummary, error) {
	if o.journal == nil {
		return nil, BatchSummary{}, ErrNoJournal
	}
	entries, err := o.journal.DequeueDLQ(ctx, filter)
	if err != nil {
		return nil, BatchSummary{}, err
	}

	results := make([]model.JobResult, 0, len(entries))
	var sum BatchSummary
	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			zap.L().Warn("reduction: dead-letter retry cancelled", zap.Int("remaining", len(entries)-i), zap.Error(err))
			break
		}
		setup := e.Setup
		res := o.Run(ctx, &setup)
		results = append(results, res)
		sum.Total++

		if res.Success {
			sum.Succeeded++
			if err := o.journal.RemoveDLQ(ctx, e.ID); err != nil {
				zap.L().Warn("reduction: failed to remove dead letter", zap.String("id", e.ID), zap.Error(err))
			}
			continue
		}
		sum.Failed++
		st, _ := res.Failure()
		next := resilience.NextRetry(time.Now().UTC(), o.dlqBackoff(), e.RetryCount+1)
		if err := o.journal.IncrementDLQRetry(ctx, e.ID, next, st.Message); err != nil {
			zap.L().Warn("reduction: failed to reschedule dead letter", zap.String("id", e.ID), zap.Error(err))
		}
	}
	zap.L().Info("reduction: dead-letter retry finished",
		zap.Int("total", sum.Total),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
	)
	return results, sum, nil
}

func (o *Orchestrator) dlqBackoff() time.Duration {
	return time.Duration(o.cfg.Journal.DLQBackoffSecs) * time.Second
}
