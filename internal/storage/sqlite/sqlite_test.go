package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ledger-sync/internal/domain"
	"ledger-sync/internal/storage"
)

// createTestDB opens a fresh database file under t.TempDir.
func createTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	d, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func txRecord(id, user string, kind domain.Kind, amount string) *domain.TransactionRecord {
	return &domain.TransactionRecord{
		NaturalID:  id,
		UserID:     user,
		OccurredAt: time.Date(2025, 2, 1, 8, 30, 0, 0, time.UTC),
		Kind:       kind,
		Amount:     decimal.RequireFromString(amount),
	}
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	d1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	if _, err := NewLedgerStore(d1).UpsertBatch(ctx, []*domain.TransactionRecord{
		txRecord("tx1", "u1", domain.KindEarned, "5"),
	}); err != nil {
		t.Fatalf("UpsertBatch() failed: %v", err)
	}
	d1.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("database file missing: %v", err)
	}

	d2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer d2.Close()

	count, err := NewLedgerStore(d2).Count(ctx)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Count() = %d, want 1", count)
	}
}

func TestLedgerStore_UpsertAndTotals(t *testing.T) {
	store := NewLedgerStore(createTestDB(t))
	ctx := context.Background()

	res, err := store.UpsertBatch(ctx, []*domain.TransactionRecord{
		txRecord("tx1", "u1", domain.KindEarned, "0.1"),
		txRecord("tx2", "u1", domain.KindEarned, "0.2"),
		txRecord("tx3", "u1", domain.KindSpent, "0.15"),
		txRecord("tx4", "u1", domain.KindPayout, "0.05"),
		txRecord("tx5", "u2", domain.KindPayout, "3"),
		txRecord("tx5", "u2", domain.KindPayout, "3"),
	})
	if err != nil {
		t.Fatalf("UpsertBatch() failed: %v", err)
	}
	if res.Inserted != 5 || res.Duplicates != 1 {
		t.Errorf("UpsertBatch() = %+v, want 5 inserted 1 duplicate", res)
	}

	totals, err := store.KindTotals(ctx, "u1")
	if err != nil {
		t.Fatalf("KindTotals() failed: %v", err)
	}
	if !totals.Earned.Equal(decimal.RequireFromString("0.3")) {
		t.Errorf("Earned = %s, want 0.3", totals.Earned)
	}
	if !totals.Spent.Equal(decimal.RequireFromString("0.15")) {
		t.Errorf("Spent = %s, want 0.15", totals.Spent)
	}

	payouts, err := store.PayoutTotals(ctx)
	if err != nil {
		t.Fatalf("PayoutTotals() failed: %v", err)
	}
	if len(payouts) != 2 || payouts[0].UserID != "u1" || payouts[1].UserID != "u2" {
		t.Fatalf("PayoutTotals() = %+v", payouts)
	}
	if !payouts[1].Amount.Equal(decimal.NewFromInt(3)) {
		t.Errorf("u2 payout = %s, want 3", payouts[1].Amount)
	}

	got, err := store.GetByID(ctx, "tx3")
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	if !got.OccurredAt.Equal(time.Date(2025, 2, 1, 8, 30, 0, 0, time.UTC)) {
		t.Errorf("OccurredAt = %v", got.OccurredAt)
	}

	if _, err := store.GetByID(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetByID(missing) error = %v, want ErrNotFound", err)
	}
}

func TestWatermarkStore_Lease(t *testing.T) {
	store := NewWatermarkStore(createTestDB(t))
	ctx := context.Background()
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	wm, err := store.AcquireRun(ctx, "s", "run-1", now, time.Minute)
	if err != nil {
		t.Fatalf("AcquireRun() failed: %v", err)
	}
	if !wm.LastSyncTime.Equal(domain.Epoch) {
		t.Errorf("LastSyncTime = %v, want epoch", wm.LastSyncTime)
	}

	if _, err := store.AcquireRun(ctx, "s", "run-2", now, time.Minute); !errors.Is(err, storage.ErrRunInProgress) {
		t.Errorf("second AcquireRun() error = %v, want ErrRunInProgress", err)
	}

	if err := store.ExtendRun(ctx, "s", "run-1", now.Add(5*time.Minute)); err != nil {
		t.Fatalf("ExtendRun() failed: %v", err)
	}
	if _, err := store.AcquireRun(ctx, "s", "run-2", now.Add(2*time.Minute), time.Minute); !errors.Is(err, storage.ErrRunInProgress) {
		t.Errorf("AcquireRun() on extended lease error = %v, want ErrRunInProgress", err)
	}

	if err := store.Advance(ctx, "s", "run-1", now); err != nil {
		t.Fatalf("Advance() failed: %v", err)
	}
	if err := store.Advance(ctx, "s", "run-1", now); !errors.Is(err, storage.ErrLeaseLost) {
		t.Errorf("repeated Advance() error = %v, want ErrLeaseLost", err)
	}

	got, err := store.Get(ctx, "s")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !got.LastSyncTime.Equal(now) || got.RunID != "" {
		t.Errorf("Get() = %+v", got)
	}
}

func TestWatermarkStore_AdvanceNeverRewinds(t *testing.T) {
	store := NewWatermarkStore(createTestDB(t))
	ctx := context.Background()
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	_, _ = store.AcquireRun(ctx, "s", "run-1", now, time.Minute)
	_ = store.Advance(ctx, "s", "run-1", now)
	_, _ = store.AcquireRun(ctx, "s", "run-2", now, time.Minute)
	if err := store.Advance(ctx, "s", "run-2", now.Add(-time.Hour)); err != nil {
		t.Fatalf("Advance() failed: %v", err)
	}

	got, _ := store.Get(ctx, "s")
	if !got.LastSyncTime.Equal(now) {
		t.Errorf("LastSyncTime = %v, want %v", got.LastSyncTime, now)
	}
}

func TestJobStore_Lifecycle(t *testing.T) {
	store := NewJobStore(createTestDB(t))
	ctx := context.Background()
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	job := &domain.JobRecord{
		ID:           "j1",
		Job:          domain.PageJob{StartDate: now.Add(-time.Hour), EndDate: now, Page: 3, ParentRunID: "run-1"},
		MaxAttempts:  3,
		InitialDelay: time.Second,
		Multiplier:   2,
		NextRunAt:    now,
		CreatedAt:    now,
	}
	if err := store.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	if err := store.Enqueue(ctx, job); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("duplicate Enqueue() error = %v, want ErrDuplicateKey", err)
	}

	claimed, err := store.ClaimNext(ctx, now, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("ClaimNext() failed: %v", err)
	}
	if claimed.Attempts != 1 || claimed.Job.Page != 3 || claimed.Status != domain.JobStatusRunning {
		t.Errorf("ClaimNext() = %+v", claimed)
	}
	if !claimed.Job.EndDate.Equal(now) {
		t.Errorf("EndDate = %v, want %v", claimed.Job.EndDate, now)
	}

	if _, err := store.ClaimNext(ctx, now, now.Add(time.Minute)); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("ClaimNext() on running job error = %v, want ErrNotFound", err)
	}

	if err := store.Reschedule(ctx, "j1", now.Add(time.Second), "boom"); err != nil {
		t.Fatalf("Reschedule() failed: %v", err)
	}
	claimed, err = store.ClaimNext(ctx, now.Add(time.Second), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("ClaimNext() after delay failed: %v", err)
	}
	if claimed.Attempts != 2 || claimed.LastError != "boom" {
		t.Errorf("ClaimNext() = %+v", claimed)
	}

	if err := store.Fail(ctx, "j1", "exhausted"); err != nil {
		t.Fatalf("Fail() failed: %v", err)
	}
	failed, err := store.ListFailed(ctx)
	if err != nil {
		t.Fatalf("ListFailed() failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "j1" {
		t.Errorf("ListFailed() = %+v", failed)
	}

	if err := store.Complete(ctx, "j1"); err != nil {
		t.Fatalf("Complete() failed: %v", err)
	}
	if _, err := store.Get(ctx, "j1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get() after Complete error = %v, want ErrNotFound", err)
	}
}
