// Package aggregation serves read views derived from the ledger.
package aggregation

import (
	"context"
	"fmt"
	"sort"

	"ledger-sync/internal/domain"
	"ledger-sync/internal/storage"
)

// Engine computes balances and payout totals from a ledger reader.
// It never writes and never depends on sync state.
type Engine struct {
	ledger storage.LedgerReader
}

// NewEngine creates a new aggregation engine.
func NewEngine(ledger storage.LedgerReader) *Engine {
	return &Engine{ledger: ledger}
}

// BalanceFor returns the balance view of one user, matched on the exact id.
// A user without records gets an all-zero balance.
func (e *Engine) BalanceFor(ctx context.Context, userID string) (*domain.AggregatedBalance, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", storage.ErrInvalidInput)
	}

	totals, err := e.ledger.KindTotals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("kind totals for %s: %w", userID, err)
	}

	return domain.NewAggregatedBalance(userID, totals), nil
}

// PendingPayouts returns summed payouts per user, ascending by user id.
// Users without payouts are omitted; no payouts yields an empty slice.
func (e *Engine) PendingPayouts(ctx context.Context) ([]domain.PayoutRequest, error) {
	payouts, err := e.ledger.PayoutTotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("payout totals: %w", err)
	}
	if payouts == nil {
		return []domain.PayoutRequest{}, nil
	}

	// Backends order by user id already; collations differ, byte order wins.
	sort.SliceStable(payouts, func(i, j int) bool {
		return payouts[i].UserID < payouts[j].UserID
	})
	return payouts, nil
}
