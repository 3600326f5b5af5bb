package postgres

import (
	"context"
	"fmt"
	"time"

	"ledger-sync/internal/domain"
	"ledger-sync/internal/storage"
)

// WatermarkStore is a PostgreSQL implementation of storage.WatermarkStore.
// The single-flight lease lives in the same row as the watermark, so acquiring
// and advancing are single conditional statements shared by all processes.
type WatermarkStore struct {
	pool *Pool
}

// NewWatermarkStore creates a new PostgreSQL watermark store.
func NewWatermarkStore(pool *Pool) *WatermarkStore {
	return &WatermarkStore{pool: pool}
}

// Compile-time interface check.
var _ storage.WatermarkStore = (*WatermarkStore)(nil)

// Get returns the watermark for a stream. Returns ErrNotFound if never created.
func (s *WatermarkStore) Get(ctx context.Context, streamKey string) (*domain.SyncWatermark, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT stream_key, last_sync_time, run_id, run_started_at, run_expires_at
		FROM sync_watermarks
		WHERE stream_key = $1
	`, streamKey)

	var (
		wm        domain.SyncWatermark
		runID     *string
		startedAt *time.Time
		expiresAt *time.Time
	)
	if err := row.Scan(&wm.StreamKey, &wm.LastSyncTime, &runID, &startedAt, &expiresAt); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get watermark: %w", err)
	}

	wm.LastSyncTime = wm.LastSyncTime.UTC()
	if runID != nil {
		wm.RunID = *runID
	}
	if startedAt != nil {
		wm.RunStartedAt = startedAt.UTC()
	}
	if expiresAt != nil {
		wm.RunExpiresAt = expiresAt.UTC()
	}
	return &wm, nil
}

// AcquireRun takes the stream lease if it is free or expired.
// Returns ErrRunInProgress when another unexpired run holds it.
func (s *WatermarkStore) AcquireRun(ctx context.Context, streamKey, runID string, now time.Time, lease time.Duration) (*domain.SyncWatermark, error) {
	if streamKey == "" || runID == "" {
		return nil, storage.ErrInvalidInput
	}

	expiresAt := now.Add(lease)
	row := s.pool.QueryRow(ctx, `
		INSERT INTO sync_watermarks (stream_key, last_sync_time, run_id, run_started_at, run_expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (stream_key) DO UPDATE
		SET run_id = EXCLUDED.run_id,
		    run_started_at = EXCLUDED.run_started_at,
		    run_expires_at = EXCLUDED.run_expires_at,
		    updated_at = NOW()
		WHERE sync_watermarks.run_id IS NULL
		   OR sync_watermarks.run_expires_at <= EXCLUDED.run_started_at
		RETURNING last_sync_time
	`, streamKey, domain.Epoch, runID, now, expiresAt)

	var lastSync time.Time
	if err := row.Scan(&lastSync); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrRunInProgress
		}
		return nil, fmt.Errorf("acquire run: %w", err)
	}

	return &domain.SyncWatermark{
		StreamKey:    streamKey,
		LastSyncTime: lastSync.UTC(),
		RunID:        runID,
		RunStartedAt: now,
		RunExpiresAt: expiresAt,
	}, nil
}

// ExtendRun pushes the lease expiry of runID.
func (s *WatermarkStore) ExtendRun(ctx context.Context, streamKey, runID string, until time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_watermarks
		SET run_expires_at = $3, updated_at = NOW()
		WHERE stream_key = $1 AND run_id = $2
	`, streamKey, runID, until)
	if err != nil {
		return fmt.Errorf("extend run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrLeaseLost
	}
	return nil
}

// Advance moves the watermark forward and releases the lease in one statement.
func (s *WatermarkStore) Advance(ctx context.Context, streamKey, runID string, syncTime time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_watermarks
		SET last_sync_time = GREATEST(last_sync_time, $3),
		    run_id = NULL,
		    run_started_at = NULL,
		    run_expires_at = NULL,
		    updated_at = NOW()
		WHERE stream_key = $1 AND run_id = $2
	`, streamKey, runID, syncTime)
	if err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrLeaseLost
	}
	return nil
}

// Release drops the lease of runID without moving the watermark.
func (s *WatermarkStore) Release(ctx context.Context, streamKey, runID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_watermarks
		SET run_id = NULL,
		    run_started_at = NULL,
		    run_expires_at = NULL,
		    updated_at = NOW()
		WHERE stream_key = $1 AND run_id = $2
	`, streamKey, runID)
	if err != nil {
		return fmt.Errorf("release run: %w", err)
	}
	return nil
}
