package ratelimit

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	member string
	at     time.Time
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.Mutex
	logs    map[string][]entry
	expires map[string]time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		logs:    make(map[string][]entry),
		expires: make(map[string]time.Time),
	}
}

// Record implements Store.
func (s *MemoryStore) Record(_ context.Context, key, member string, at time.Time, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if exp, ok := s.expires[key]; ok && !at.Before(exp) {
		delete(s.logs, key)
	}

	cutoff := at.Add(-window)
	kept := s.logs[key][:0]
	for _, e := range s.logs[key] {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	kept = append(kept, entry{member: member, at: at})

	s.logs[key] = kept
	s.expires[key] = at.Add(window)
	return len(kept), nil
}

var _ Store = (*MemoryStore)(nil)
