package memory

import (
	"context"
	"sync"
	"time"

	"ledger-sync/internal/domain"
	"ledger-sync/internal/storage"
)

// WatermarkStore is an in-memory implementation of storage.WatermarkStore.
// The lease only coordinates callers inside one process.
type WatermarkStore struct {
	mu   sync.Mutex
	data map[string]*domain.SyncWatermark // keyed by stream_key
}

// NewWatermarkStore creates a new in-memory watermark store.
func NewWatermarkStore() *WatermarkStore {
	return &WatermarkStore{
		data: make(map[string]*domain.SyncWatermark),
	}
}

// Get returns the watermark for a stream.
func (s *WatermarkStore) Get(_ context.Context, streamKey string) (*domain.SyncWatermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wm, exists := s.data[streamKey]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *wm
	return &copy, nil
}

// AcquireRun takes the stream lease if it is free or expired.
func (s *WatermarkStore) AcquireRun(_ context.Context, streamKey, runID string, now time.Time, lease time.Duration) (*domain.SyncWatermark, error) {
	if streamKey == "" || runID == "" {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	wm, exists := s.data[streamKey]
	if !exists {
		wm = &domain.SyncWatermark{StreamKey: streamKey, LastSyncTime: domain.Epoch}
		s.data[streamKey] = wm
	}

	if wm.RunID != "" && wm.RunExpiresAt.After(now) {
		return nil, storage.ErrRunInProgress
	}

	wm.RunID = runID
	wm.RunStartedAt = now
	wm.RunExpiresAt = now.Add(lease)

	copy := *wm
	return &copy, nil
}

// ExtendRun pushes the lease expiry of runID.
func (s *WatermarkStore) ExtendRun(_ context.Context, streamKey, runID string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wm, exists := s.data[streamKey]
	if !exists || wm.RunID != runID {
		return storage.ErrLeaseLost
	}

	wm.RunExpiresAt = until
	return nil
}

// Advance moves the watermark forward and releases the lease.
func (s *WatermarkStore) Advance(_ context.Context, streamKey, runID string, syncTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wm, exists := s.data[streamKey]
	if !exists || wm.RunID != runID {
		return storage.ErrLeaseLost
	}

	if syncTime.After(wm.LastSyncTime) {
		wm.LastSyncTime = syncTime
	}
	clearRun(wm)
	return nil
}

// Release drops the lease of runID without moving the watermark.
func (s *WatermarkStore) Release(_ context.Context, streamKey, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wm, exists := s.data[streamKey]
	if exists && wm.RunID == runID {
		clearRun(wm)
	}
	return nil
}

func clearRun(wm *domain.SyncWatermark) {
	wm.RunID = ""
	wm.RunStartedAt = time.Time{}
	wm.RunExpiresAt = time.Time{}
}

var _ storage.WatermarkStore = (*WatermarkStore)(nil)
