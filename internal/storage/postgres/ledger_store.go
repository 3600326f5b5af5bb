package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"ledger-sync/internal/domain"
	"ledger-sync/internal/storage"
)

// LedgerStore is a PostgreSQL implementation of storage.LedgerStore.
// Amounts travel as text and are cast to NUMERIC so no precision is lost.
type LedgerStore struct {
	pool *Pool
}

// NewLedgerStore creates a new PostgreSQL ledger.
func NewLedgerStore(pool *Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Compile-time interface check.
var _ storage.LedgerStore = (*LedgerStore)(nil)

const insertTransaction = `
	INSERT INTO transactions (natural_id, user_id, occurred_at, kind, amount)
	VALUES ($1, $2, $3, $4, $5::numeric)
	ON CONFLICT (natural_id) DO NOTHING
`

// UpsertBatch inserts records in one transaction. Conflicting ids count as duplicates.
func (s *LedgerStore) UpsertBatch(ctx context.Context, records []*domain.TransactionRecord) (domain.UpsertResult, error) {
	var result domain.UpsertResult
	if len(records) == 0 {
		return result, nil
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return result, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
		batch.Queue(insertTransaction, r.NaturalID, r.UserID, r.OccurredAt.UTC(), string(r.Kind), r.Amount.String())
	}

	err := s.pool.inTx(ctx, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, batch)
		for _, r := range records {
			tag, err := br.Exec()
			if err != nil {
				br.Close()
				return fmt.Errorf("insert transaction %s: %w", r.NaturalID, err)
			}
			if tag.RowsAffected() == 1 {
				result.Inserted++
			} else {
				result.Duplicates++
			}
		}
		return br.Close()
	})
	if err != nil {
		return domain.UpsertResult{}, err
	}

	return result, nil
}

// GetByID retrieves a record by natural id. Returns ErrNotFound if not exists.
func (s *LedgerStore) GetByID(ctx context.Context, naturalID string) (*domain.TransactionRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT natural_id, user_id, occurred_at, kind, amount::text
		FROM transactions
		WHERE natural_id = $1
	`, naturalID)

	var (
		r          domain.TransactionRecord
		occurredAt time.Time
		kind       string
		amount     string
	)
	if err := row.Scan(&r.NaturalID, &r.UserID, &occurredAt, &kind, &amount); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}

	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	r.OccurredAt = occurredAt.UTC()
	r.Kind = domain.Kind(kind)
	r.Amount = parsed
	return &r, nil
}

// Count returns the number of stored records.
func (s *LedgerStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return count, nil
}

// KindTotals sums amounts by kind for one user in a single grouped query.
func (s *LedgerStore) KindTotals(ctx context.Context, userID string) (domain.KindTotals, error) {
	totals := domain.KindTotals{Earned: decimal.Zero, Spent: decimal.Zero, Payout: decimal.Zero}

	rows, err := s.pool.Query(ctx, `
		SELECT kind, SUM(amount)::text
		FROM transactions
		WHERE user_id = $1
		GROUP BY kind
	`, userID)
	if err != nil {
		return totals, fmt.Errorf("query kind totals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind, sum string
		if err := rows.Scan(&kind, &sum); err != nil {
			return totals, fmt.Errorf("scan kind totals: %w", err)
		}
		amount, err := decimal.NewFromString(sum)
		if err != nil {
			return totals, fmt.Errorf("parse sum %q: %w", sum, err)
		}
		switch domain.Kind(kind) {
		case domain.KindEarned:
			totals.Earned = amount
		case domain.KindSpent:
			totals.Spent = amount
		case domain.KindPayout:
			totals.Payout = amount
		}
	}

	return totals, rows.Err()
}

// PayoutTotals sums payout amounts per user, ordered by user id ASC.
func (s *LedgerStore) PayoutTotals(ctx context.Context) ([]domain.PayoutRequest, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, SUM(amount)::text
		FROM transactions
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
		var userID, sum string
		if err := rows.Scan(&userID, &sum); err != nil {
			return nil, fmt.Errorf("scan payout totals: %w", err)
		}
		amount, err := decimal.NewFromString(sum)
		if err != nil {
			return nil, fmt.Errorf("parse sum %q: %w", sum, err)
		}
		result = append(result, domain.PayoutRequest{UserID: userID, Amount: amount})
	}

	return result, rows.Err()
}
