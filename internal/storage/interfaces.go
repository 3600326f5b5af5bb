package storage

import (
	"context"
	"time"

	"ledger-sync/internal/domain"
)

// LedgerWriter persists transaction records idempotently.
type LedgerWriter interface {
	// UpsertBatch inserts records keyed by natural id. A record whose id already
	// exists is counted as a duplicate and skipped, never returned as an error.
	// Any other failure aborts the batch; records written before it stay written.
	UpsertBatch(ctx context.Context, records []*domain.TransactionRecord) (domain.UpsertResult, error)
}

// LedgerReader serves read-only views over the ledger.
type LedgerReader interface {
	// GetByID retrieves a record by natural id. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, naturalID string) (*domain.TransactionRecord, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int64, error)

	// KindTotals sums amounts by kind for one user in a single grouped pass.
	// A user without records yields zero totals.
	KindTotals(ctx context.Context, userID string) (domain.KindTotals, error)

	// PayoutTotals sums payout amounts per user, ordered by user id ASC.
	PayoutTotals(ctx context.Context) ([]domain.PayoutRequest, error)
}

// LedgerStore is the append-only transaction ledger.
type LedgerStore interface {
	LedgerWriter
	LedgerReader
}

// WatermarkStore persists sync watermarks and the per-stream single-flight lease.
// All mutations are conditional so that concurrent processes need no shared memory.
type WatermarkStore interface {
	// Get returns the watermark for a stream. Returns ErrNotFound if never created.
	Get(ctx context.Context, streamKey string) (*domain.SyncWatermark, error)

	// AcquireRun takes the stream's lease for runID if no unexpired run holds it,
	// creating the watermark at domain.Epoch when missing.
	// Returns ErrRunInProgress when the lease is held by another run.
	AcquireRun(ctx context.Context, streamKey, runID string, now time.Time, lease time.Duration) (*domain.SyncWatermark, error)

	// ExtendRun pushes the lease expiry of runID to until.
	// Returns ErrLeaseLost when runID no longer owns the stream.
	ExtendRun(ctx context.Context, streamKey, runID string, until time.Time) error

	// Advance sets LastSyncTime to syncTime (never backwards) and releases the lease.
	// Returns ErrLeaseLost when runID no longer owns the stream.
	Advance(ctx context.Context, streamKey, runID string, syncTime time.Time) error

	// Release drops the lease of runID without moving the watermark.
	// Releasing a lease that is not held is a no-op.
	Release(ctx context.Context, streamKey, runID string) error
}

// JobStore is the durable backing of the page-job queue.
type JobStore interface {
	// Enqueue stores a new pending job. Returns ErrDuplicateKey if the id exists.
	Enqueue(ctx context.Context, job *domain.JobRecord) error

	// ClaimNext atomically picks the oldest due job (pending with NextRunAt <= now,
	// or running with an expired lease), marks it running until lockedUntil and
	// increments Attempts. Returns ErrNotFound if nothing is due.
	ClaimNext(ctx context.Context, now, lockedUntil time.Time) (*domain.JobRecord, error)

	// Complete discards a finished job.
	Complete(ctx context.Context, id string) error

	// Reschedule puts a failed attempt back to pending until nextRunAt.
	Reschedule(ctx context.Context, id string, nextRunAt time.Time, lastErr string) error

	// Fail marks a job as terminally failed and keeps it for inspection.
	Fail(ctx context.Context, id string, lastErr string) error

	// Get retrieves a job by id. Returns ErrNotFound for unknown or completed jobs.
	Get(ctx context.Context, id string) (*domain.JobRecord, error)

	// ListFailed returns terminally failed jobs, oldest first.
	ListFailed(ctx context.Context) ([]*domain.JobRecord, error)
}
