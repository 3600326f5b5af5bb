package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"ledger-sync/internal/domain"
	"ledger-sync/internal/storage"
)

// JobStore is an in-memory implementation of storage.JobStore.
// Data is lost on restart; use the postgres or sqlite store for durability.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*domain.JobRecord
}

// NewJobStore creates a new in-memory job store.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]*domain.JobRecord),
	}
}

// Enqueue stores a new pending job.
func (s *JobStore) Enqueue(_ context.Context, job *domain.JobRecord) error {
	if job == nil || job.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *job
	if copy.Status == "" {
		copy.Status = domain.JobStatusPending
	}
	s.jobs[job.ID] = &copy
	return nil
}

// ClaimNext picks the oldest due job and marks it running.
func (s *JobStore) ClaimNext(_ context.Context, now, lockedUntil time.Time) (*domain.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*domain.JobRecord
	for _, j := range s.jobs {
		switch {
		case j.Status == domain.JobStatusPending && !j.NextRunAt.After(now):
			due = append(due, j)
		case j.Status == domain.JobStatusRunning && j.LockedUntil.Before(now):
			due = append(due, j)
		}
	}
	if len(due) == 0 {
		return nil, storage.ErrNotFound
	}

	sort.Slice(due, func(i, k int) bool {
		if !due[i].NextRunAt.Equal(due[k].NextRunAt) {
			return due[i].NextRunAt.Before(due[k].NextRunAt)
		}
		return due[i].CreatedAt.Before(due[k].CreatedAt)
	})

	j := due[0]
	j.Status = domain.JobStatusRunning
	j.Attempts++
	j.LockedUntil = lockedUntil
	j.UpdatedAt = now

	copy := *j
	return &copy, nil
}

// Complete discards a finished job.
func (s *JobStore) Complete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobs, id)
	return nil
}

// Reschedule puts a failed attempt back to pending.
func (s *JobStore) Reschedule(_ context.Context, id string, nextRunAt time.Time, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, exists := s.jobs[id]
	if !exists {
		return storage.ErrNotFound
	}

	j.Status = domain.JobStatusPending
	j.NextRunAt = nextRunAt
	j.LockedUntil = time.Time{}
	j.LastError = lastErr
	j.UpdatedAt = time.Now()
	return nil
}

// Fail marks a job as terminally failed.
func (s *JobStore) Fail(_ context.Context, id string, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, exists := s.jobs[id]
	if !exists {
		return storage.ErrNotFound
	}

	j.Status = domain.JobStatusFailed
	j.LockedUntil = time.Time{}
	j.LastError = lastErr
	j.UpdatedAt = time.Now()
	return nil
}

// Get retrieves a job by id.
func (s *JobStore) Get(_ context.Context, id string) (*domain.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, exists := s.jobs[id]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *j
	return &copy, nil
}

// ListFailed returns terminally failed jobs, oldest first.
func (s *JobStore) ListFailed(_ context.Context) ([]*domain.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*domain.JobRecord
	for _, j := range s.jobs {
		if j.Status == domain.JobStatusFailed {
			copy := *j
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	return result, nil
}

var _ storage.JobStore = (*JobStore)(nil)
