package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"ledger-sync/internal/domain"
	"ledger-sync/internal/storage"
)

func newJob(id string, nextRunAt time.Time) *domain.JobRecord {
	return &domain.JobRecord{
		ID:           id,
		Job:          domain.PageJob{Page: 2, ParentRunID: "run-1"},
		Status:       domain.JobStatusPending,
		MaxAttempts:  3,
		InitialDelay: time.Second,
		Multiplier:   2,
		NextRunAt:    nextRunAt,
		CreatedAt:    nextRunAt,
	}
}

func TestJobStore_ClaimLifecycle(t *testing.T) {
	store := NewJobStore()
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := store.Enqueue(ctx, newJob("j1", now)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := store.Enqueue(ctx, newJob("j1", now)); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}

	claimed, err := store.ClaimNext(ctx, now, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if claimed.Status != domain.JobStatusRunning || claimed.Attempts != 1 {
		t.Errorf("unexpected claimed job: %+v", claimed)
	}

	if _, err := store.ClaimNext(ctx, now, now.Add(time.Minute)); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("running job claimed twice: %v", err)
	}

	if err := store.Complete(ctx, "j1"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if _, err := store.Get(ctx, "j1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("completed job still present: %v", err)
	}
}

func TestJobStore_RescheduleDelaysClaim(t *testing.T) {
	store := NewJobStore()
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_ = store.Enqueue(ctx, newJob("j1", now))
	if _, err := store.ClaimNext(ctx, now, now.Add(time.Minute)); err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if err := store.Reschedule(ctx, "j1", now.Add(time.Second), "boom"); err != nil {
		t.Fatalf("Reschedule failed: %v", err)
	}

	if _, err := store.ClaimNext(ctx, now, now.Add(time.Minute)); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("job claimed before its delay: %v", err)
	}

	claimed, err := store.ClaimNext(ctx, now.Add(time.Second), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if claimed.Attempts != 2 || claimed.LastError != "boom" {
		t.Errorf("unexpected job: %+v", claimed)
	}
}

func TestJobStore_ExpiredLeaseIsReclaimed(t *testing.T) {
	store := NewJobStore()
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_ = store.Enqueue(ctx, newJob("j1", now))
	if _, err := store.ClaimNext(ctx, now, now.Add(time.Minute)); err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}

	claimed, err := store.ClaimNext(ctx, now.Add(2*time.Minute), now.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}
	if claimed.Attempts != 2 {
		t.Errorf("Attempts: got %d, want 2", claimed.Attempts)
	}
}

func TestJobStore_ClaimOrder(t *testing.T) {
	store := NewJobStore()
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_ = store.Enqueue(ctx, newJob("late", now.Add(time.Second)))
	_ = store.Enqueue(ctx, newJob("early", now))

	claimed, err := store.ClaimNext(ctx, now.Add(time.Minute), now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if claimed.ID != "early" {
		t.Errorf("expected early job first, got %s", claimed.ID)
	}
}

func TestJobStore_FailAndList(t *testing.T) {
	store := NewJobStore()
	ctx := context.Background()
	now := time.Now()

	_ = store.Enqueue(ctx, newJob("j1", now))
	_ = store.Enqueue(ctx, newJob("j2", now))

	if err := store.Fail(ctx, "j1", "exhausted"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	if err := store.Fail(ctx, "missing", "x"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	failed, err := store.ListFailed(ctx)
	if err != nil {
		t.Fatalf("ListFailed failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "j1" || failed[0].LastError != "exhausted" {
		t.Errorf("unexpected failed jobs: %+v", failed)
	}

	got, _ := store.Get(ctx, "j1")
	if got.Status != domain.JobStatusFailed {
		t.Errorf("Status: got %s", got.Status)
	}
}
