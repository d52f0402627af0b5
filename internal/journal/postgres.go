package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/vulcan-sns/vulcan-reduce/internal/model"
	"github.com/vulcan-sns/vulcan-reduce/internal/resilience"
)

// Pool is the subset of pgxpool.Pool used by PostgresStore.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a small connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 4
	pgxCfg.MinConns = 1
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_number  INTEGER NOT NULL,
	ipts_number INTEGER NOT NULL DEFAULT 0,
	event_file  TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	message     TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS job_steps (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	job_id      TEXT NOT NULL REFERENCES jobs(id),
	seq         INTEGER NOT NULL,
	name        TEXT NOT NULL,
	status      TEXT NOT NULL,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	message     TEXT NOT NULL DEFAULT '',
	error_kind  TEXT NOT NULL DEFAULT '',
	error_type  TEXT NOT NULL DEFAULT '',
	fatal       BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	setup          JSONB NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	failed_step    TEXT NOT NULL DEFAULT '',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_run ON jobs(run_number);
CREATE INDEX IF NOT EXISTS idx_job_steps_job_id ON job_steps(job_id);
CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, setup *model.ReductionSetup) (*model.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, run_number, ipts_number, event_file, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, setup.RunNumber, setup.IPTSNumber, setup.EventFile, string(model.JobStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
	}

	return &model.Job{
		ID:         id,
		RunNumber:  setup.RunNumber,
		IPTSNumber: setup.IPTSNumber,
		EventFile:  setup.EventFile,
		Status:     model.JobStatusRunning,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *PostgresStore) RecordStep(ctx context.Context, jobID string, step model.StepResult) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_steps (id, job_id, seq, name, status, duration_ms, message, error_kind, error_type, fatal)
		 VALUES ($1, $2, (SELECT COUNT(*) FROM job_steps WHERE job_id = $2), $3, $4, $5, $6, $7, $8, $9)`,
		uuid.New().String(), jobID, step.Name, string(step.Status), step.Duration, step.Message, step.Kind, step.ErrorType, step.Fatal,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: record step %s for job %s", step.Name, jobID)
	}
	return nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, jobID string, result *model.JobResult) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, message = $2, updated_at = $3 WHERE id = $4`,
		string(jobStatus(result)), result.Message(), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	var j model.Job
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT id, run_number, ipts_number, event_file, status, message, created_at, updated_at FROM jobs WHERE id = $1`,
		jobID,
	).Scan(&j.ID, &j.RunNumber, &j.IPTSNumber, &j.EventFile, &status, &j.Message, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("postgres: get job: job not found: %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	j.Status = model.JobStatus(status)

	rows, err := s.pool.Query(ctx,
		`SELECT name, status, duration_ms, message, error_kind, error_type, fatal FROM job_steps WHERE job_id = $1 ORDER BY seq`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list steps for job %s", jobID)
	}
	defer rows.Close()

	for rows.Next() {
		var st model.StepResult
		var stepStatus string
		if err := rows.Scan(&st.Name, &stepStatus, &st.Duration, &st.Message, &st.Kind, &st.ErrorType, &st.Fatal); err != nil {
			return nil, eris.Wrap(err, "postgres: scan step")
		}
		st.Status = model.StepStatus(stepStatus)
		j.Steps = append(j.Steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list steps iterate")
	}
	return &j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT id, run_number, ipts_number, event_file, status, message, created_at, updated_at FROM jobs WHERE 1=1`
	var args []any
	argN := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argN)
		args = append(args, string(filter.Status))
		argN++
	}
	if filter.RunNumber > 0 {
		query += fmt.Sprintf(` AND run_number = $%d`, argN)
		args = append(args, filter.RunNumber)
		argN++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argN)
	args = append(args, listLimit(filter))
	argN++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argN)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		var j model.Job
		var status string
		if err := rows.Scan(&j.ID, &j.RunNumber, &j.IPTSNumber, &j.EventFile, &status, &j.Message, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		j.Status = model.JobStatus(status)
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs iterate")
	}
	return jobs, nil
}

// Dead letter queue methods

func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	setupJSON, err := json.Marshal(entry.Setup)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal dlq setup")
	}

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue
		 (id, setup, error, error_type, failed_step, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   error = $3, error_type = $4, failed_step = $5, retry_count = $6,
		   next_retry_at = $8, last_failed_at = $10`,
		entry.ID, setupJSON, entry.Error, entry.ErrorType,
		entry.FailedStep, entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "postgres: enqueue dlq")
}

func (s *PostgresStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, setup, error, error_type, failed_step, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM dead_letter_queue
	          WHERE next_retry_at <= now() AND retry_count < max_retries`
	args := []any{}
	argIdx := 1

	if filter.ErrorType != "" {
		query += fmt.Sprintf(` AND error_type = $%d`, argIdx)
		args = append(args, filter.ErrorType)
		argIdx++
	}

	query += fmt.Sprintf(` ORDER BY next_retry_at ASC LIMIT $%d`, argIdx)
	args = append(args, dlqLimit(filter))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: dequeue dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var setupJSON []byte
		if err := rows.Scan(&e.ID, &setupJSON, &e.Error, &e.ErrorType,
			&e.FailedStep, &e.RetryCount, &e.MaxRetries,
			&e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		if err := json.Unmarshal(setupJSON, &e.Setup); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal dlq setup")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: dequeue dlq iterate")
}

func (s *PostgresStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE dead_letter_queue
		 SET retry_count = retry_count + 1, next_retry_at = $1, error = $2, last_failed_at = now()
		 WHERE id = $3`,
		nextRetryAt, lastErr, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment dlq retry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("dlq_entry not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE id = $1`, id)
	return eris.Wrap(err, "postgres: remove dlq")
}

func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dlq")
}
