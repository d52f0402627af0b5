package journal

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulcan-sns/vulcan-reduce/internal/config"
	"github.com/vulcan-sns/vulcan-reduce/internal/model"
	"github.com/vulcan-sns/vulcan-reduce/internal/resilience"
)

func testSetup(run int) *model.ReductionSetup {
	return &model.ReductionSetup{
		RunNumber:  run,
		IPTSNumber: 21356,
		EventFile:  fmt.Sprintf("/SNS/VULCAN/IPTS-21356/nexus/VULCAN_%d.nxs.h5", run),
	}
}

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLiteStore_JobLifecycle(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, testSetup(160989))
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobStatusRunning, job.Status)

	steps := []model.StepResult{
		{Name: "validate", Status: model.StepStatusComplete, Duration: 3},
		{Name: "reduce", Status: model.StepStatusComplete, Duration: 4200},
		{Name: "gsas", Status: model.StepStatusFailed, Message: "output not writable", Kind: "io_access", ErrorType: "permanent", Fatal: true},
	}
	for _, st := range steps {
		require.NoError(t, s.RecordStep(ctx, job.ID, st))
	}
	result := &model.JobResult{Success: false, Steps: steps}
	require.NoError(t, s.CompleteJob(ctx, job.ID, result))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 160989, got.RunNumber)
	assert.Equal(t, 21356, got.IPTSNumber)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, "output not writable", got.Message)
	assert.Equal(t, steps, got.Steps)
}

func TestSQLiteStore_GetJobNotFound(t *testing.T) {
	s := newTestSQLite(t)
	_, err := s.GetJob(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job not found")

	err = s.CompleteJob(context.Background(), "missing", &model.JobResult{Success: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLiteStore_ListJobs(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	var ids []string
	for _, run := range []int{100, 101, 102} {
		j, err := s.CreateJob(ctx, testSetup(run))
		require.NoError(t, err)
		ids = append(ids, j.ID)
	}
	require.NoError(t, s.CompleteJob(ctx, ids[0], &model.JobResult{Success: true}))
	require.NoError(t, s.CompleteJob(ctx, ids[1], &model.JobResult{Success: false}))

	all, err := s.ListJobs(ctx, JobFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	failed, err := s.ListJobs(ctx, JobFilter{Status: model.JobStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 101, failed[0].RunNumber)

	byRun, err := s.ListJobs(ctx, JobFilter{RunNumber: 102})
	require.NoError(t, err)
	require.Len(t, byRun, 1)
	assert.Equal(t, model.JobStatusRunning, byRun[0].Status)

	limited, err := s.ListJobs(ctx, JobFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), config.JournalConfig{Driver: "none"})
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = Open(context.Background(), config.JournalConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "j.db")})
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.NoError(t, s.Close())

	_, err = Open(context.Background(), config.JournalConfig{Driver: "mongo"})
	assert.Error(t, err)
}

func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return &PostgresStore{pool: mock}, mock
}

func TestPostgresStore_CreateJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO jobs`).
		WithArgs(pgxmock.AnyArg(), 160989, 21356, pgxmock.AnyArg(), "running", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	job, err := s.CreateJob(context.Background(), testSetup(160989))
	require.NoError(t, err)
	assert.Len(t, job.ID, 36)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordStep(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO job_steps`).
		WithArgs(pgxmock.AnyArg(), "job-1", "reduce", "complete", int64(12), "", "", "", false).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.RecordStep(context.Background(), "job-1", model.StepResult{Name: "reduce", Status: model.StepStatusComplete, Duration: 12})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteJob_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET status = \$1`).
		WithArgs("complete", "", pgxmock.AnyArg(), "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteJob(context.Background(), "ghost", &model.JobResult{Success: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, run_number, ipts_number, event_file, status, message, created_at, updated_at FROM jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "run_number", "ipts_number", "event_file", "status", "message", "created_at", "updated_at"}).
			AddRow("job-1", 160989, 21356, "/data/VULCAN_160989.nxs.h5", "complete", "", now, now))
	mock.ExpectQuery(`SELECT name, status, duration_ms, message, error_kind, error_type, fatal FROM job_steps`).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"name", "status", "duration_ms", "message", "error_kind", "error_type", "fatal"}).
			AddRow("validate", "complete", int64(2), "", "", "", false).
			AddRow("records", "failed", int64(9), "record not writable", "io_access", "permanent", false))

	job, err := s.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusComplete, job.Status)
	require.Len(t, job.Steps, 2)
	assert.Equal(t, model.StepStatusFailed, job.Steps[1].Status)
	assert.Equal(t, "io_access", job.Steps[1].Kind)
	assert.Equal(t, "permanent", job.Steps[1].ErrorType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM jobs WHERE id = \$1`).
		WithArgs("nonexistent").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetJob(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get job")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListJobs_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`AND status = \$1 AND run_number = \$2 ORDER BY created_at DESC LIMIT \$3`).
		WithArgs("failed", 101, 50).
		WillReturnRows(pgxmock.NewRows([]string{"id", "run_number", "ipts_number", "event_file", "status", "message", "created_at", "updated_at"}).
			AddRow("job-2", 101, 0, "/data/VULCAN_101_event.nxs", "failed", "engine failed", now, now))

	jobs, err := s.ListJobs(context.Background(), JobFilter{Status: model.JobStatusFailed, RunNumber: 101})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "engine failed", jobs[0].Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func dlqEntry(run int, errorType string, due time.Time) resilience.DLQEntry {
	now := time.Now().UTC()
	return resilience.DLQEntry{
		Setup:        *testSetup(run),
		Error:        "reduction: reduce: circuit breaker is open",
		ErrorType:    errorType,
		FailedStep:   "2_reduce",
		MaxRetries:   2,
		NextRetryAt:  due,
		CreatedAt:    now,
		LastFailedAt: now,
	}
}

func TestSQLiteStore_DLQLifecycle(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Minute)

	require.NoError(t, s.EnqueueDLQ(ctx, dlqEntry(100, "transient", past)))
	require.NoError(t, s.EnqueueDLQ(ctx, dlqEntry(101, "permanent", past.Add(-time.Minute))))
	require.NoError(t, s.EnqueueDLQ(ctx, dlqEntry(102, "transient", time.Now().UTC().Add(time.Hour))))

	n, err := s.CountDLQ(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	due, err := s.DequeueDLQ(ctx, resilience.DLQFilter{})
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, 101, due[0].Setup.RunNumber)
	assert.Equal(t, 100, due[1].Setup.RunNumber)
	assert.Equal(t, "2_reduce", due[1].FailedStep)
	assert.Equal(t, testSetup(100).EventFile, due[1].Setup.EventFile)

	transient, err := s.DequeueDLQ(ctx, resilience.DLQFilter{ErrorType: "transient"})
	require.NoError(t, err)
	require.Len(t, transient, 1)
	id := transient[0].ID

	// Failing twice exhausts the entry's retries.
	require.NoError(t, s.IncrementDLQRetry(ctx, id, past, "engine crashed"))
	again, err := s.DequeueDLQ(ctx, resilience.DLQFilter{ErrorType: "transient"})
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, 1, again[0].RetryCount)
	assert.Equal(t, "engine crashed", again[0].Error)

	require.NoError(t, s.IncrementDLQRetry(ctx, id, past, "engine crashed"))
	again, err = s.DequeueDLQ(ctx, resilience.DLQFilter{ErrorType: "transient"})
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, s.RemoveDLQ(ctx, id))
	n, err = s.CountDLQ(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	err = s.IncrementDLQRetry(ctx, "missing", past, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	limited, err := s.DequeueDLQ(ctx, resilience.DLQFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestPostgresStore_EnqueueDLQ(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	entry := dlqEntry(100, "transient", time.Now().UTC())
	entry.ID = "dlq-1"

	mock.ExpectExec(`INSERT INTO dead_letter_queue`).
		WithArgs("dlq-1", pgxmock.AnyArg(), entry.Error, "transient", "2_reduce", 0, 2,
			entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.EnqueueDLQ(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DequeueDLQ(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`WHERE next_retry_at <= now\(\) AND retry_count < max_retries AND error_type = \$1 ORDER BY next_retry_at ASC LIMIT \$2`).
		WithArgs("transient", 100).
		WillReturnRows(pgxmock.NewRows([]string{"id", "setup", "error", "error_type", "failed_step", "retry_count", "max_retries", "next_retry_at", "created_at", "last_failed_at"}).
			AddRow("dlq-1", []byte(`{"run_number":100,"event_file":"/data/VULCAN_100.nxs.h5","output_dir":"/out"}`),
				"engine crashed", "transient", "2_reduce", 1, 3, now, now, now))

	entries, err := s.DequeueDLQ(context.Background(), resilience.DLQFilter{ErrorType: "transient"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 100, entries[0].Setup.RunNumber)
	assert.Equal(t, "/out", entries[0].Setup.OutputDir)
	assert.True(t, entries[0].CanRetry())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IncrementDLQRetry_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	next := time.Now().UTC()

	mock.ExpectExec(`UPDATE dead_letter_queue`).
		WithArgs(next, "boom", "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.IncrementDLQRetry(context.Background(), "ghost", next, "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dlq_entry not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountDLQ(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM dead_letter_queue`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(4))

	n, err := s.CountDLQ(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
