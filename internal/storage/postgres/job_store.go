package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"ledger-sync/internal/domain"
	"ledger-sync/internal/storage"
)

// JobStore is a PostgreSQL implementation of storage.JobStore.
// ClaimNext uses FOR UPDATE SKIP LOCKED so workers in several processes
// never claim the same job.
type JobStore struct {
	pool *Pool
}

// NewJobStore creates a new PostgreSQL job store.
func NewJobStore(pool *Pool) *JobStore {
	return &JobStore{pool: pool}
}

// Compile-time interface check.
var _ storage.JobStore = (*JobStore)(nil)

const jobColumns = `
	id, start_date, end_date, page, parent_run_id, status,
	attempts, max_attempts, initial_delay_ms, multiplier,
	next_run_at, locked_until, last_error, created_at, updated_at
`

// Enqueue stores a new pending job. Returns ErrDuplicateKey if the id exists.
func (s *JobStore) Enqueue(ctx context.Context, job *domain.JobRecord) error {
	if job == nil || job.ID == "" {
		return storage.ErrInvalidInput
	}

	status := job.Status
	if status == "" {
		status = domain.JobStatusPending
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO page_jobs (
			id, start_date, end_date, page, parent_run_id, status,
			attempts, max_attempts, initial_delay_ms, multiplier,
			next_run_at, last_error, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
	`,
		job.ID, job.Job.StartDate, job.Job.EndDate, job.Job.Page, job.Job.ParentRunID, string(status),
		job.Attempts, job.MaxAttempts, job.InitialDelay.Milliseconds(), job.Multiplier,
		job.NextRunAt, job.LastError, job.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// ClaimNext atomically picks the oldest due job and marks it running.
func (s *JobStore) ClaimNext(ctx context.Context, now, lockedUntil time.Time) (*domain.JobRecord, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE page_jobs
		SET status = 'running',
		    attempts = attempts + 1,
		    locked_until = $2,
		    updated_at = $1
		WHERE id = (
			SELECT id FROM page_jobs
			WHERE (status = 'pending' AND next_run_at <= $1)
			   OR (status = 'running' AND locked_until < $1)
			ORDER BY next_run_at, created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns, now, lockedUntil)

	job, err := scanJob(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// Complete discards a finished job.
func (s *JobStore) Complete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM page_jobs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// Reschedule puts a failed attempt back to pending until nextRunAt.
func (s *JobStore) Reschedule(ctx context.Context, id string, nextRunAt time.Time, lastErr string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE page_jobs
		SET status = 'pending', next_run_at = $2, locked_until = NULL,
		    last_error = $3, updated_at = NOW()
		WHERE id = $1
	`, id, nextRunAt, lastErr)
	if err != nil {
		return fmt.Errorf("reschedule job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Fail marks a job as terminally failed.
func (s *JobStore) Fail(ctx context.Context, id string, lastErr string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE page_jobs
		SET status = 'failed', locked_until = NULL,
		    last_error = $2, updated_at = NOW()
		WHERE id = $1
	`, id, lastErr)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Get retrieves a job by id.
func (s *JobStore) Get(ctx context.Context, id string) (*domain.JobRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM page_jobs WHERE id = $1`, id)

	job, err := scanJob(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListFailed returns terminally failed jobs, oldest first.
func (s *JobStore) ListFailed(ctx context.Context) ([]*domain.JobRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM page_jobs
		WHERE status = 'failed'
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list failed jobs: %w", err)
	}
	defer rows.Close()

	var result []*domain.JobRecord
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		result = append(result, job)
	}
	return result, rows.Err()
}

func scanJob(row pgx.Row) (*domain.JobRecord, error) {
	var (
		j           domain.JobRecord
		status      string
		delayMs     int64
		lockedUntil *time.Time
	)
	err := row.Scan(
		&j.ID, &j.Job.StartDate, &j.Job.EndDate, &j.Job.Page, &j.Job.ParentRunID, &status,
		&j.Attempts, &j.MaxAttempts, &delayMs, &j.Multiplier,
		&j.NextRunAt, &lockedUntil, &j.LastError, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Status = domain.JobStatus(status)
	j.InitialDelay = time.Duration(delayMs) * time.Millisecond
	j.Job.StartDate = j.Job.StartDate.UTC()
	j.Job.EndDate = j.Job.EndDate.UTC()
	if lockedUntil != nil {
		j.LockedUntil = lockedUntil.UTC()
	}
	return &j, nil
}
