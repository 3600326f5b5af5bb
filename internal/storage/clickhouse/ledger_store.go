package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"ledger-sync/internal/domain"
	"ledger-sync/internal/storage"
)

// LedgerStore implements storage.LedgerStore on a ReplacingMergeTree table.
// Existing ids are filtered before insert so duplicates are reported, not merged.
// Reads use FINAL to hide rows a background merge has not collapsed yet.
type LedgerStore struct {
	conn *Conn
}

// NewLedgerStore creates a new ClickHouse ledger.
func NewLedgerStore(conn *Conn) *LedgerStore {
	return &LedgerStore{conn: conn}
}

// Compile-time interface check.
var _ storage.LedgerStore = (*LedgerStore)(nil)

// UpsertBatch inserts records whose natural id is not yet stored.
func (s *LedgerStore) UpsertBatch(ctx context.Context, records []*domain.TransactionRecord) (domain.UpsertResult, error) {
	var result domain.UpsertResult
	if len(records) == 0 {
		return result, nil
	}

	ids := make([]string, 0, len(records))
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return result, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
		ids = append(ids, r.NaturalID)
	}

	existing, err := s.existingIDs(ctx, ids)
	if err != nil {
		return result, fmt.Errorf("check existing ids: %w", err)
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO transactions (natural_id, user_id, occurred_at, kind, amount)
	`)
	if err != nil {
		return result, fmt.Errorf("prepare batch: %w", err)
	}

	pending := 0
	for _, r := range records {
		if _, dup := existing[r.NaturalID]; dup {
			result.Duplicates++
			continue
		}
		// Same id twice in one batch: first one wins.
		existing[r.NaturalID] = struct{}{}

		if err := batch.Append(r.NaturalID, r.UserID, r.OccurredAt.UTC(), string(r.Kind), r.Amount); err != nil {
			_ = batch.Abort()
			return domain.UpsertResult{}, fmt.Errorf("append %s: %w", r.NaturalID, err)
		}
		pending++
	}

	if pending == 0 {
		_ = batch.Abort()
		return result, nil
	}

	if err := batch.Send(); err != nil {
		return domain.UpsertResult{}, fmt.Errorf("send batch: %w", err)
	}
	result.Inserted = pending
	return result, nil
}

func (s *LedgerStore) existingIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT natural_id FROM transactions WHERE has(?, natural_id)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	existing := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		existing[id] = struct{}{}
	}
	return existing, rows.Err()
}

// GetByID retrieves a record by natural id.
func (s *LedgerStore) GetByID(ctx context.Context, naturalID string) (*domain.TransactionRecord, error) {
	row := s.conn.QueryRow(ctx, `
		SELECT natural_id, user_id, occurred_at, kind, amount
		FROM transactions FINAL
		WHERE natural_id = ?
	`, naturalID)

	var (
		r    domain.TransactionRecord
		kind string
	)
	if err := row.Scan(&r.NaturalID, &r.UserID, &r.OccurredAt, &kind, &r.Amount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	r.Kind = domain.Kind(kind)
	r.OccurredAt = r.OccurredAt.UTC()
	return &r, nil
}

// Count returns the number of distinct stored records.
func (s *LedgerStore) Count(ctx context.Context) (int64, error) {
	var count uint64
	if err := s.conn.QueryRow(ctx, `SELECT count() FROM transactions FINAL`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return int64(count), nil
}

// KindTotals sums amounts by kind for one user.
func (s *LedgerStore) KindTotals(ctx context.Context, userID string) (domain.KindTotals, error) {
	totals := domain.KindTotals{Earned: decimal.Zero, Spent: decimal.Zero, Payout: decimal.Zero}

	rows, err := s.conn.Query(ctx, `
		SELECT kind, sum(amount)
		FROM transactions FINAL
		WHERE user_id = ?
		GROUP BY kind
	`, userID)
	if err != nil {
		return totals, fmt.Errorf("query kind totals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kind string
			sum  decimal.Decimal
		)
		if err := rows.Scan(&kind, &sum); err != nil {
			return totals, fmt.Errorf("scan kind totals: %w", err)
		}
		switch domain.Kind(kind) {
		case domain.KindEarned:
			totals.Earned = sum
		case domain.KindSpent:
			totals.Spent = sum
		case domain.KindPayout:
			totals.Payout = sum
		}
	}
	return totals, rows.Err()
}

// PayoutTotals sums payout amounts per user, ordered by user id ASC.
func (s *LedgerStore) PayoutTotals(ctx context.Context) ([]domain.PayoutRequest, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT user_id, sum(amount)
		FROM transactions FINAL
		WHERE kind = 'payout'
		GROUP BY user_id
		ORDER BY user_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query payout totals: %w", err)
	}
	defer rows.Close()

	result := []domain.PayoutRequest{}
	for rows.Next() {
		var p domain.PayoutRequest
		if err := rows.Scan(&p.UserID, &p.Amount); err != nil {
			return nil, fmt.Errorf("scan payout totals: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}
