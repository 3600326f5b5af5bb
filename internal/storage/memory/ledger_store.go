package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"ledger-sync/internal/domain"
	"ledger-sync/internal/storage"
)

// LedgerStore is an in-memory implementation of storage.LedgerStore.
type LedgerStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TransactionRecord // keyed by natural_id
}

// NewLedgerStore creates a new in-memory ledger.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		data: make(map[string]*domain.TransactionRecord),
	}
}

// UpsertBatch inserts records, skipping ids that already exist.
func (s *LedgerStore) UpsertBatch(_ context.Context, records []*domain.TransactionRecord) (domain.UpsertResult, error) {
	var result domain.UpsertResult
	if len(records) == 0 {
		return result, nil
	}

	for _, r := range records {
		if err := r.Validate(); err != nil {
			return result, storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if _, exists := s.data[r.NaturalID]; exists {
			result.Duplicates++
			continue
		}
		copy := *r
		s.data[r.NaturalID] = &copy
		result.Inserted++
	}

	return result, nil
}

// GetByID retrieves a record by natural id. Returns ErrNotFound if not exists.
func (s *LedgerStore) GetByID(_ context.Context, naturalID string) (*domain.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[naturalID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *r
	return &copy, nil
}

// Count returns the number of stored records.
func (s *LedgerStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.data)), nil
}

// KindTotals sums amounts by kind for one user.
func (s *LedgerStore) KindTotals(_ context.Context, userID string) (domain.KindTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := domain.KindTotals{
		Earned: decimal.Zero,
		Spent:  decimal.Zero,
		Payout: decimal.Zero,
	}
	for _, r := range s.data {
		if r.UserID != userID {
			continue
		}
		switch r.Kind {
		case domain.KindEarned:
			totals.Earned = totals.Earned.Add(r.Amount)
		case domain.KindSpent:
			totals.Spent = totals.Spent.Add(r.Amount)
		case domain.KindPayout:
			totals.Payout = totals.Payout.Add(r.Amount)
		}
	}

	return totals, nil
}

// PayoutTotals sums payout amounts per user, ordered by user id ASC.
func (s *LedgerStore) PayoutTotals(_ context.Context) ([]domain.PayoutRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sums := make(map[string]decimal.Decimal)
	for _, r := range s.data {
		if r.Kind != domain.KindPayout {
			continue
		}
		sums[r.UserID] = sums[r.UserID].Add(r.Amount)
	}

	result := make([]domain.PayoutRequest, 0, len(sums))
	for userID, amount := range sums {
		result = append(result, domain.PayoutRequest{UserID: userID, Amount: amount})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].UserID < result[j].UserID
	})

	return result, nil
}

var _ storage.LedgerStore = (*LedgerStore)(nil)
