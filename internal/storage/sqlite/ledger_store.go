package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ledger-sync/internal/domain"
	"ledger-sync/internal/storage"
)

// LedgerStore is a SQLite implementation of storage.LedgerStore.
type LedgerStore struct {
	db *sql.DB
}

// NewLedgerStore creates a ledger backed by d.
func NewLedgerStore(d *DB) *LedgerStore {
	return &LedgerStore{db: d.db}
}

var _ storage.LedgerStore = (*LedgerStore)(nil)

// UpsertBatch inserts records in one transaction. Existing ids count as duplicates.
func (s *LedgerStore) UpsertBatch(ctx context.Context, records []*domain.TransactionRecord) (domain.UpsertResult, error) {
	var result domain.UpsertResult
	if len(records) == 0 {
		return result, nil
	}

	for _, r := range records {
		if err := r.Validate(); err != nil {
			return result, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO transactions (natural_id, user_id, occurred_at, kind, amount, synced_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return result, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	syncedAt := toMillis(time.Now())
	for _, r := range records {
		res, err := stmt.ExecContext(ctx,
			r.NaturalID, r.UserID, toMillis(r.OccurredAt), string(r.Kind), r.Amount.String(), syncedAt,
		)
		if err != nil {
			return domain.UpsertResult{}, fmt.Errorf("insert transaction %s: %w", r.NaturalID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return domain.UpsertResult{}, fmt.Errorf("rows affected: %w", err)
		}
		if n == 1 {
			result.Inserted++
		} else {
			result.Duplicates++
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.UpsertResult{}, fmt.Errorf("commit tx: %w", err)
	}
	return result, nil
}

// GetByID retrieves a record by natural id. Returns ErrNotFound if not exists.
func (s *LedgerStore) GetByID(ctx context.Context, naturalID string) (*domain.TransactionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT natural_id, user_id, occurred_at, kind, amount
		FROM transactions
		WHERE natural_id = ?
	`, naturalID)

	var (
		r          domain.TransactionRecord
		occurredAt int64
		kind       string
		amount     string
	)
	if err := row.Scan(&r.NaturalID, &r.UserID, &occurredAt, &kind, &amount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}

	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	r.OccurredAt = fromMillis(occurredAt)
	r.Kind = domain.Kind(kind)
	r.Amount = parsed
	return &r, nil
}

// Count returns the number of stored records.
func (s *LedgerStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return count, nil
}

// KindTotals sums amounts by kind for one user.
// SQLite SUM works in floating point, so amounts are added here.
func (s *LedgerStore) KindTotals(ctx context.Context, userID string) (domain.KindTotals, error) {
	totals := domain.KindTotals{Earned: decimal.Zero, Spent: decimal.Zero, Payout: decimal.Zero}

	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, amount FROM transactions WHERE user_id = ?
	`, userID)
	if err != nil {
		return totals, fmt.Errorf("query kind totals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind, amount string
		if err := rows.Scan(&kind, &amount); err != nil {
			return totals, fmt.Errorf("scan kind totals: %w", err)
		}
		value, err := decimal.NewFromString(amount)
		if err != nil {
			return totals, fmt.Errorf("parse amount %q: %w", amount, err)
		}
		switch domain.Kind(kind) {
		case domain.KindEarned:
			totals.Earned = totals.Earned.Add(value)
		case domain.KindSpent:
			totals.Spent = totals.Spent.Add(value)
		case domain.KindPayout:
			totals.Payout = totals.Payout.Add(value)
		}
	}
	return totals, rows.Err()
}

// PayoutTotals sums payout amounts per user, ordered by user id ASC.
func (s *LedgerStore) PayoutTotals(ctx context.Context) ([]domain.PayoutRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, amount FROM transactions
		WHERE kind = 'payout'
		ORDER BY user_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query payout totals: %w", err)
	}
	defer rows.Close()

	result := []domain.PayoutRequest{}
	for rows.Next() {
		var userID, amount string
		if err := rows.Scan(&userID, &amount); err != nil {
			return nil, fmt.Errorf("scan payout totals: %w", err)
		}
		value, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parse amount %q: %w", amount, err)
		}
		// Rows arrive grouped by user id.
		if n := len(result); n > 0 && result[n-1].UserID == userID {
			result[n-1].Amount = result[n-1].Amount.Add(value)
			continue
		}
		result = append(result, domain.PayoutRequest{UserID: userID, Amount: value})
	}
	return result, rows.Err()
}
