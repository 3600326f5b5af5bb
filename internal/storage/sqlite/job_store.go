package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"ledger-sync/internal/domain"
	"ledger-sync/internal/storage"
)

// JobStore is a SQLite implementation of storage.JobStore.
type JobStore struct {
	db *sql.DB
}

// NewJobStore creates a job store backed by d.
func NewJobStore(d *DB) *JobStore {
	return &JobStore{db: d.db}
}

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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO page_jobs (
			id, start_date, end_date, page, parent_run_id, status,
			attempts, max_attempts, initial_delay_ms, multiplier,
			next_run_at, last_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID, toMillis(job.Job.StartDate), toMillis(job.Job.EndDate), job.Job.Page, job.Job.ParentRunID, string(status),
		job.Attempts, job.MaxAttempts, job.InitialDelay.Milliseconds(), job.Multiplier,
		toMillis(job.NextRunAt), job.LastError, toMillis(job.CreatedAt), toMillis(job.CreatedAt),
	)
	if err != nil {
		if isConstraintError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// ClaimNext picks the oldest due job and marks it running.
func (s *JobStore) ClaimNext(ctx context.Context, now, lockedUntil time.Time) (*domain.JobRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM page_jobs
		WHERE (status = 'pending' AND next_run_at <= ?1)
		   OR (status = 'running' AND locked_until < ?1)
		ORDER BY next_run_at, created_at
		LIMIT 1
	`, toMillis(now)).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("select due job: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE page_jobs
		SET status = 'running', attempts = attempts + 1, locked_until = ?, updated_at = ?
		WHERE id = ?
		RETURNING `+jobColumns, toMillis(lockedUntil), toMillis(now), id)

	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return job, nil
}

// Complete discards a finished job.
func (s *JobStore) Complete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM page_jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// Reschedule puts a failed attempt back to pending until nextRunAt.
func (s *JobStore) Reschedule(ctx context.Context, id string, nextRunAt time.Time, lastErr string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE page_jobs
		SET status = 'pending', next_run_at = ?, locked_until = NULL, last_error = ?, updated_at = ?
		WHERE id = ?
	`, toMillis(nextRunAt), lastErr, toMillis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("reschedule job: %w", err)
	}
	return requireJob(res)
}

// Fail marks a job as terminally failed.
func (s *JobStore) Fail(ctx context.Context, id string, lastErr string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE page_jobs
		SET status = 'failed', locked_until = NULL, last_error = ?, updated_at = ?
		WHERE id = ?
	`, lastErr, toMillis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return requireJob(res)
}

// Get retrieves a job by id.
func (s *JobStore) Get(ctx context.Context, id string) (*domain.JobRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM page_jobs WHERE id = ?`, id)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListFailed returns terminally failed jobs, oldest first.
func (s *JobStore) ListFailed(ctx context.Context) ([]*domain.JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM page_jobs
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

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.JobRecord, error) {
	var (
		j                                     domain.JobRecord
		status                                string
		start, end, nextRun, created, updated int64
		delayMs                               int64
		lockedUntil                           sql.NullInt64
	)
	err := row.Scan(
		&j.ID, &start, &end, &j.Job.Page, &j.Job.ParentRunID, &status,
		&j.Attempts, &j.MaxAttempts, &delayMs, &j.Multiplier,
		&nextRun, &lockedUntil, &j.LastError, &created, &updated,
	)
	if err != nil {
		return nil, err
	}

	j.Status = domain.JobStatus(status)
	j.Job.StartDate = fromMillis(start)
	j.Job.EndDate = fromMillis(end)
	j.InitialDelay = time.Duration(delayMs) * time.Millisecond
	j.NextRunAt = fromMillis(nextRun)
	j.LockedUntil = fromNullMillis(lockedUntil)
	j.CreatedAt = fromMillis(created)
	j.UpdatedAt = fromMillis(updated)
	return &j, nil
}

func requireJob(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// isConstraintError reports a primary key or unique violation.
func isConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
