// Package journal persists reduction jobs and their step results.
package journal

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/vulcan-sns/vulcan-reduce/internal/config"
	"github.com/vulcan-sns/vulcan-reduce/internal/model"
	"github.com/vulcan-sns/vulcan-reduce/internal/resilience"
)

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status    model.JobStatus `json:"status,omitempty"`
	RunNumber int             `json:"run_number,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Offset    int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for reduction jobs.
type Store interface {
	CreateJob(ctx context.Context, setup *model.ReductionSetup) (*model.Job, error)
	RecordStep(ctx context.Context, jobID string, step model.StepResult) error
	CompleteJob(ctx context.Context, jobID string, result *model.JobResult) error
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)

	// Dead letter queue
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error
	CountDLQ(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates the store selected by cfg and runs its migration. Driver
// "none" returns a nil store.
func Open(ctx context.Context, cfg config.JournalConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "sqlite":
		s, err = NewSQLite(cfg.DatabaseURL)
	case "postgres":
		s, err = NewPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("journal: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func jobStatus(result *model.JobResult) model.JobStatus {
	if result.Success {
		return model.JobStatusComplete
	}
	return model.JobStatusFailed
}

func listLimit(filter JobFilter) int {
	if filter.Limit <= 0 {
		return 50
	}
	return filter.Limit
}

func dlqLimit(filter resilience.DLQFilter) int {
	if filter.Limit <= 0 {
		return 100
	}
	return filter.Limit
}
