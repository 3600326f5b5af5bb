package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func validRecord() *TransactionRecord {
	return &TransactionRecord{
		NaturalID:  "tx1",
		UserID:     "074092",
		OccurredAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Kind:       KindEarned,
		Amount:     decimal.RequireFromString("12.34"),
	}
}

func TestTransactionRecord_Validate(t *testing.T) {
	if err := validRecord().Validate(); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*TransactionRecord)
	}{
		{"empty natural id", func(r *TransactionRecord) { r.NaturalID = "" }},
		{"empty user", func(r *TransactionRecord) { r.UserID = "" }},
		{"unknown kind", func(r *TransactionRecord) { r.Kind = "refund" }},
		{"negative amount", func(r *TransactionRecord) { r.Amount = decimal.NewFromInt(-1) }},
		{"zero time", func(r *TransactionRecord) { r.OccurredAt = time.Time{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRecord()
			tt.mutate(r)
			if err := r.Validate(); !errors.Is(err, ErrInvalidRecord) {
				t.Errorf("expected ErrInvalidRecord, got %v", err)
			}
		})
	}

	var nilRecord *TransactionRecord
	if err := nilRecord.Validate(); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("nil record: expected ErrInvalidRecord, got %v", err)
	}
}

func TestTransactionRecord_ZeroAmountIsValid(t *testing.T) {
	r := validRecord()
	r.Amount = decimal.Zero
	if err := r.Validate(); err != nil {
		t.Errorf("zero amount rejected: %v", err)
	}
}

func TestKind_IsValid(t *testing.T) {
	for _, k := range []Kind{KindEarned, KindSpent, KindPayout} {
		if !k.IsValid() {
			t.Errorf("%s should be valid", k)
		}
	}
	if Kind("EARNED").IsValid() {
		t.Error("kinds are case sensitive")
	}
}

func TestUpsertResult_Add(t *testing.T) {
	got := UpsertResult{Inserted: 3, Duplicates: 1}.Add(UpsertResult{Inserted: 2, Duplicates: 4})
	if got.Inserted != 5 || got.Duplicates != 5 {
		t.Errorf("got %+v", got)
	}
}

func TestNewAggregatedBalance(t *testing.T) {
	b := NewAggregatedBalance("u1", KindTotals{
		Earned: decimal.RequireFromString("100.10"),
		Spent:  decimal.RequireFromString("0.05"),
		Payout: decimal.RequireFromString("50"),
	})

	if !b.Balance.Equal(decimal.RequireFromString("50.05")) {
		t.Errorf("balance = %s", b.Balance)
	}
	if !b.PaidOut.Equal(b.Payout) {
		t.Errorf("paidOut %s != payout %s", b.PaidOut, b.Payout)
	}
}

func TestAggregatedBalance_JSONFields(t *testing.T) {
	data, err := json.Marshal(NewAggregatedBalance("u1", KindTotals{}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"userId", "balance", "earned", "spent", "payout", "paidOut"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("missing field %q in %s", key, data)
		}
	}
}

func TestJobRecord_Exhausted(t *testing.T) {
	j := &JobRecord{MaxAttempts: 3}
	for attempts, want := range map[int]bool{0: false, 2: false, 3: true, 4: true} {
		j.Attempts = attempts
		if got := j.Exhausted(); got != want {
			t.Errorf("attempts=%d: Exhausted() = %v, want %v", attempts, got, want)
		}
	}
}

func TestEpoch(t *testing.T) {
	if !Epoch.Equal(time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Epoch = %s", Epoch)
	}
}
