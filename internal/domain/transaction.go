package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidRecord is returned by Validate for malformed records.
var ErrInvalidRecord = errors.New("invalid transaction record")

// TransactionRecord is one immutable ledger entry synced from the source.
// NaturalID is assigned by the source and is the idempotency key.
type TransactionRecord struct {
	NaturalID  string
	UserID     string
	OccurredAt time.Time
	Kind       Kind
	Amount     decimal.Decimal // non-negative
}

// Validate checks the record invariants enforced at the ledger boundary.
func (r *TransactionRecord) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	if r.NaturalID == "" {
		return fmt.Errorf("%w: empty natural id", ErrInvalidRecord)
	}
	if r.UserID == "" {
		return fmt.Errorf("%w: %s: empty user id", ErrInvalidRecord, r.NaturalID)
	}
	if !r.Kind.IsValid() {
		return fmt.Errorf("%w: %s: unknown kind %q", ErrInvalidRecord, r.NaturalID, r.Kind)
	}
	if r.Amount.IsNegative() {
		return fmt.Errorf("%w: %s: negative amount %s", ErrInvalidRecord, r.NaturalID, r.Amount)
	}
	if r.OccurredAt.IsZero() {
		return fmt.Errorf("%w: %s: missing timestamp", ErrInvalidRecord, r.NaturalID)
	}
	return nil
}

// UpsertResult reports how a batch was absorbed by the ledger.
type UpsertResult struct {
	Inserted   int
	Duplicates int // already synced, skipped
}

// Add accumulates another result.
func (u UpsertResult) Add(other UpsertResult) UpsertResult {
	return UpsertResult{
		Inserted:   u.Inserted + other.Inserted,
		Duplicates: u.Duplicates + other.Duplicates,
	}
}
