package aggregation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ledger-sync/internal/domain"
	"ledger-sync/internal/storage"
	"ledger-sync/internal/storage/memory"
)

func record(id, user string, kind domain.Kind, amount string) *domain.TransactionRecord {
	return &domain.TransactionRecord{
		NaturalID:  id,
		UserID:     user,
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Kind:       kind,
		Amount:     decimal.RequireFromString(amount),
	}
}

func seed(t *testing.T, records ...*domain.TransactionRecord) *memory.LedgerStore {
	t.Helper()
	store := memory.NewLedgerStore()
	if _, err := store.UpsertBatch(context.Background(), records); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}
	return store
}

func TestEngine_BalanceFor(t *testing.T) {
	store := seed(t,
		record("1", "074092", domain.KindEarned, "100.50"),
		record("2", "074092", domain.KindEarned, "20"),
		record("3", "074092", domain.KindSpent, "30.25"),
		record("4", "074092", domain.KindPayout, "40"),
		record("5", "074093", domain.KindEarned, "999"),
	)
	engine := NewEngine(store)

	got, err := engine.BalanceFor(context.Background(), "074092")
	if err != nil {
		t.Fatalf("BalanceFor: %v", err)
	}

	want := map[string]string{
		"earned":  "120.5",
		"spent":   "30.25",
		"payout":  "40",
		"paidOut": "40",
		"balance": "50.25",
	}
	gotFields := map[string]decimal.Decimal{
		"earned":  got.Earned,
		"spent":   got.Spent,
		"payout":  got.Payout,
		"paidOut": got.PaidOut,
		"balance": got.Balance,
	}
	for field, w := range want {
		if !gotFields[field].Equal(decimal.RequireFromString(w)) {
			t.Errorf("%s = %s, want %s", field, gotFields[field], w)
		}
	}
	if got.UserID != "074092" {
		t.Errorf("UserID = %q", got.UserID)
	}
}

func TestEngine_BalanceFor_UnknownUserIsZero(t *testing.T) {
	engine := NewEngine(memory.NewLedgerStore())

	got, err := engine.BalanceFor(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("BalanceFor: %v", err)
	}
	for _, v := range []decimal.Decimal{got.Earned, got.Spent, got.Payout, got.PaidOut, got.Balance} {
		if !v.IsZero() {
			t.Errorf("expected zero, got %s", v)
		}
	}
}

func TestEngine_BalanceFor_CanBeNegative(t *testing.T) {
	store := seed(t,
		record("1", "u1", domain.KindEarned, "10"),
		record("2", "u1", domain.KindSpent, "15"),
	)

	got, err := NewEngine(store).BalanceFor(context.Background(), "u1")
	if err != nil {
		t.Fatalf("BalanceFor: %v", err)
	}
	if !got.Balance.Equal(decimal.NewFromInt(-5)) {
		t.Errorf("balance = %s, want -5", got.Balance)
	}
}

func TestEngine_BalanceFor_EmptyUserID(t *testing.T) {
	_, err := NewEngine(memory.NewLedgerStore()).BalanceFor(context.Background(), "")
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestEngine_BalanceFor_MatchesExactUserID(t *testing.T) {
	store := seed(t, record("1", "074092", domain.KindEarned, "100"))

	got, err := NewEngine(store).BalanceFor(context.Background(), " 074092")
	if err != nil {
		t.Fatalf("BalanceFor: %v", err)
	}
	if got.UserID != " 074092" {
		t.Errorf("user id = %q, want it unchanged", got.UserID)
	}
	if !got.Earned.IsZero() || !got.Balance.IsZero() {
		t.Errorf("padded id matched another user: earned %s, balance %s", got.Earned, got.Balance)
	}
}

func TestEngine_PendingPayouts(t *testing.T) {
	store := seed(t,
		record("1", "074094", domain.KindPayout, "5"),
		record("2", "074092", domain.KindPayout, "10"),
		record("3", "074092", domain.KindPayout, "2.5"),
		record("4", "074093", domain.KindEarned, "100"),
	)

	got, err := NewEngine(store).PendingPayouts(context.Background())
	if err != nil {
		t.Fatalf("PendingPayouts: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 payouts, got %d", len(got))
	}
	if got[0].UserID != "074092" || !got[0].Amount.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("got[0] = %s %s", got[0].UserID, got[0].Amount)
	}
	if got[1].UserID != "074094" || !got[1].Amount.Equal(decimal.NewFromInt(5)) {
		t.Errorf("got[1] = %s %s", got[1].UserID, got[1].Amount)
	}
}

func TestEngine_PendingPayouts_Empty(t *testing.T) {
	got, err := NewEngine(memory.NewLedgerStore()).PendingPayouts(context.Background())
	if err != nil {
		t.Fatalf("PendingPayouts: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
}

type failingReader struct{ storage.LedgerReader }

func (failingReader) PayoutTotals(context.Context) ([]domain.PayoutRequest, error) {
	return nil, errors.New("db down")
}

func TestEngine_PendingPayouts_PropagatesStoreError(t *testing.T) {
	_, err := NewEngine(failingReader{}).PendingPayouts(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
}
