package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ledger-sync/internal/domain"
	"ledger-sync/internal/storage"
)

// WatermarkStore is a SQLite implementation of storage.WatermarkStore.
type WatermarkStore struct {
	db *sql.DB
}

// NewWatermarkStore creates a watermark store backed by d.
func NewWatermarkStore(d *DB) *WatermarkStore {
	return &WatermarkStore{db: d.db}
}

var _ storage.WatermarkStore = (*WatermarkStore)(nil)

// Get returns the watermark for a stream. Returns ErrNotFound if never created.
func (s *WatermarkStore) Get(ctx context.Context, streamKey string) (*domain.SyncWatermark, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT stream_key, last_sync_time, run_id, run_started_at, run_expires_at
		FROM sync_watermarks
		WHERE stream_key = ?
	`, streamKey)

	var (
		wm        domain.SyncWatermark
		lastSync  int64
		runID     sql.NullString
		startedAt sql.NullInt64
		expiresAt sql.NullInt64
	)
	if err := row.Scan(&wm.StreamKey, &lastSync, &runID, &startedAt, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get watermark: %w", err)
	}

	wm.LastSyncTime = fromMillis(lastSync)
	wm.RunID = runID.String
	wm.RunStartedAt = fromNullMillis(startedAt)
	wm.RunExpiresAt = fromNullMillis(expiresAt)
	return &wm, nil
}

// AcquireRun takes the stream lease if it is free or expired.
func (s *WatermarkStore) AcquireRun(ctx context.Context, streamKey, runID string, now time.Time, lease time.Duration) (*domain.SyncWatermark, error) {
	if streamKey == "" || runID == "" {
		return nil, storage.ErrInvalidInput
	}

	expiresAt := now.Add(lease)
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO sync_watermarks (stream_key, last_sync_time, run_id, run_started_at, run_expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (stream_key) DO UPDATE
		SET run_id = excluded.run_id,
		    run_started_at = excluded.run_started_at,
		    run_expires_at = excluded.run_expires_at
		WHERE sync_watermarks.run_id IS NULL
		   OR sync_watermarks.run_expires_at <= excluded.run_started_at
		RETURNING last_sync_time
	`, streamKey, toMillis(domain.Epoch), runID, toMillis(now), toMillis(expiresAt))

	var lastSync int64
	if err := row.Scan(&lastSync); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrRunInProgress
		}
		return nil, fmt.Errorf("acquire run: %w", err)
	}

	return &domain.SyncWatermark{
		StreamKey:    streamKey,
		LastSyncTime: fromMillis(lastSync),
		RunID:        runID,
		RunStartedAt: now,
		RunExpiresAt: expiresAt,
	}, nil
}

// ExtendRun pushes the lease expiry of runID.
func (s *WatermarkStore) ExtendRun(ctx context.Context, streamKey, runID string, until time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_watermarks SET run_expires_at = ?
		WHERE stream_key = ? AND run_id = ?
	`, toMillis(until), streamKey, runID)
	if err != nil {
		return fmt.Errorf("extend run: %w", err)
	}
	return requireOneRow(res)
}

// Advance moves the watermark forward and releases the lease.
func (s *WatermarkStore) Advance(ctx context.Context, streamKey, runID string, syncTime time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_watermarks
		SET last_sync_time = MAX(last_sync_time, ?),
		    run_id = NULL, run_started_at = NULL, run_expires_at = NULL
		WHERE stream_key = ? AND run_id = ?
	`, toMillis(syncTime), streamKey, runID)
	if err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}
	return requireOneRow(res)
}

// Release drops the lease of runID without moving the watermark.
func (s *WatermarkStore) Release(ctx context.Context, streamKey, runID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_watermarks
		SET run_id = NULL, run_started_at = NULL, run_expires_at = NULL
		WHERE stream_key = ? AND run_id = ?
	`, streamKey, runID)
	if err != nil {
		return fmt.Errorf("release run: %w", err)
	}
	return nil
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrLeaseLost
	}
	return nil
}
