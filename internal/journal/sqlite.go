package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/vulcan-sns/vulcan-reduce/internal/model"
	"github.com/vulcan-sns/vulcan-reduce/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	run_number  INTEGER NOT NULL,
	ipts_number INTEGER NOT NULL DEFAULT 0,
	event_file  TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	message     TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS job_steps (
	id          TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL REFERENCES jobs(id),
	seq         INTEGER NOT NULL,
	name        TEXT NOT NULL,
	status      TEXT NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	message     TEXT NOT NULL DEFAULT '',
	error_kind  TEXT NOT NULL DEFAULT '',
	error_type  TEXT NOT NULL DEFAULT '',
	fatal       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	setup          TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	failed_step    TEXT NOT NULL DEFAULT '',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  DATETIME NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	last_failed_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_run ON jobs(run_number);
CREATE INDEX IF NOT EXISTS idx_job_steps_job_id ON job_steps(job_id);
CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, setup *model.ReductionSetup) (*model.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, run_number, ipts_number, event_file, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, setup.RunNumber, setup.IPTSNumber, setup.EventFile, string(model.JobStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
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

func (s *SQLiteStore) RecordStep(ctx context.Context, jobID string, step model.StepResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_steps (id, job_id, seq, name, status, duration_ms, message, error_kind, error_type, fatal)
		 VALUES (?, ?, (SELECT COUNT(*) FROM job_steps WHERE job_id = ?), ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), jobID, jobID, step.Name, string(step.Status), step.Duration, step.Message, step.Kind, step.ErrorType, step.Fatal,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record step %s for job %s", step.Name, jobID)
	}
	return nil
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, jobID string, result *model.JobResult) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, message = ?, updated_at = ? WHERE id = ?`,
		string(jobStatus(result)), result.Message(), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, run_number, ipts_number, event_file, status, message, created_at, updated_at FROM jobs WHERE id = ?`,
		jobID,
	)
	j, err := scanJob(row)
	if err != nil {
		return nil, err
	}
	if j.Steps, err = s.steps(ctx, jobID); err != nil {
		return nil, err
	}
	return j, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT id, run_number, ipts_number, event_file, status, message, created_at, updated_at FROM jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.RunNumber > 0 {
		query += ` AND run_number = ?`
		args = append(args, filter.RunNumber)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, listLimit(filter))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close() //nolint:errcheck

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs iterate")
	}
	return jobs, nil
}

func (s *SQLiteStore) steps(ctx context.Context, jobID string) ([]model.StepResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, status, duration_ms, message, error_kind, error_type, fatal FROM job_steps WHERE job_id = ? ORDER BY seq`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list steps for job %s", jobID)
	}
	defer rows.Close() //nolint:errcheck

	var steps []model.StepResult
	for rows.Next() {
		var st model.StepResult
		if err := rows.Scan(&st.Name, &st.Status, &st.Duration, &st.Message, &st.Kind, &st.ErrorType, &st.Fatal); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan step")
		}
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list steps iterate")
	}
	return steps, nil
}

// Dead letter queue methods

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	setupJSON, err := json.Marshal(entry.Setup)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal dlq setup")
	}

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_queue
		 (id, setup, error, error_type, failed_step, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   error = excluded.error, error_type = excluded.error_type, failed_step = excluded.failed_step,
		   retry_count = excluded.retry_count, next_retry_at = excluded.next_retry_at,
		   last_failed_at = excluded.last_failed_at`,
		entry.ID, string(setupJSON), entry.Error, entry.ErrorType,
		entry.FailedStep, entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt.UTC(), entry.CreatedAt.UTC(), entry.LastFailedAt.UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: enqueue dlq")
	}
	return nil
}

// DequeueDLQ returns retryable entries whose next retry time has passed,
// oldest due first. Due times are compared in Go since SQLite stores them as
// text.
func (s *SQLiteStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, setup, error, error_type, failed_step, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM dead_letter_queue
	          WHERE retry_count < max_retries`
	var args []any
	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: dequeue dlq")
	}
	defer rows.Close() //nolint:errcheck

	now := time.Now().UTC()
	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var setupJSON string
		if err := rows.Scan(&e.ID, &setupJSON, &e.Error, &e.ErrorType, &e.FailedStep,
			&e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		if e.NextRetryAt.After(now) {
			continue
		}
		if err := json.Unmarshal([]byte(setupJSON), &e.Setup); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal dlq setup")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: dequeue dlq iterate")
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].NextRetryAt.Before(entries[j].NextRetryAt)
	})
	if limit := dlqLimit(filter); len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *SQLiteStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dead_letter_queue
		 SET retry_count = retry_count + 1, next_retry_at = ?, error = ?, last_failed_at = ?
		 WHERE id = ?`,
		nextRetryAt.UTC(), lastErr, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment dlq retry %s", id)
	}
	return checkRowsAffected(res, "dlq_entry", id)
}

func (s *SQLiteStore) RemoveDLQ(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_queue WHERE id = ?`, id); err != nil {
		return eris.Wrap(err, "sqlite: remove dlq")
	}
	return nil
}

func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count); err != nil {
		return 0, eris.Wrap(err, "sqlite: count dlq")
	}
	return count, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*model.Job, error) {
	var j model.Job
	err := row.Scan(&j.ID, &j.RunNumber, &j.IPTSNumber, &j.EventFile, &j.Status, &j.Message, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.New("job not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}
	return &j, nil
}
