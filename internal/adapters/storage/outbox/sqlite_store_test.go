package outbox

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"academy/internal/adapters/storage"
	"academy/internal/adapters/storage/storagetest"
	domain "academy/internal/domain/outbox"
)

func TestClaimDue_ClaimsOnce(t *testing.T) {
	db := storagetest.Open(t)
	store := NewSQLiteStore(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	due := domain.NewEntry("due", domain.ActionTypeBatchEmail, `{}`, now.Add(-time.Minute))
	later := domain.NewEntry("later", domain.ActionTypeBatchEmail, `{}`, now)
	later.NextAttemptAt = now.Add(time.Hour)
	for _, e := range []domain.Entry{due, later} {
		if err := store.Save(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	claimed, err := store.ClaimDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != "due" {
		t.Fatalf("claimed = %+v, want only due", claimed)
	}
	if claimed[0].Status != domain.StatusRunning || claimed[0].Attempts != 1 {
		t.Errorf("claimed entry = %+v", claimed[0])
	}

	again, err := store.ClaimDue(ctx, now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Errorf("second ClaimDue returned %d entries", len(again))
	}
}

// TestListStale_ExhaustedEntry tests that a run lost on its last attempt is listed and can be failed.
// POST: the stale row moves to failed once; a second swap from running conflicts
func TestListStale_ExhaustedEntry(t *testing.T) {
	db := storagetest.Open(t)
	store := NewSQLiteStore(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	fresh := domain.NewEntry("fresh", domain.ActionTypeBatchEmail, `{}`, now)
	fresh.MarkAttempt(now.Add(-time.Minute))
	stuck := domain.NewEntry("stuck", domain.ActionTypeDripLesson, `{}`, now.Add(-24*time.Hour))
	stuck.Attempts = stuck.MaxAttempts - 1
	stuck.MarkAttempt(now.Add(-24 * time.Hour))
	for _, e := range []domain.Entry{fresh, stuck} {
		if err := store.Save(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	stale, err := store.ListStale(ctx, now.Add(-10*time.Minute), 10)
	if err != nil {
		t.Fatalf("ListStale: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "stuck" || stale[0].Attempts != stale[0].MaxAttempts {
		t.Fatalf("stale = %+v, want only the exhausted entry", stale)
	}

	next := stale[0]
	next.MarkFailed(domain.ErrWorkerLost, now)
	if err := store.CompareAndSwap(ctx, stale[0], next); err != nil {
		t.Fatalf("CompareAndSwap: %v", err)
	}
	if err := store.CompareAndSwap(ctx, stale[0], next); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("second swap = %v, want ErrConflict", err)
	}
	failed, err := store.ListFailed(ctx, 10)
	if err != nil || len(failed) != 1 || failed[0].ID != "stuck" {
		t.Errorf("ListFailed = %+v, %v", failed, err)
	}
}

// TestListFinished_Delete tests the purge queries.
// POST: only done and abandoned rows older than the cutoff are listed; Delete leaves others alone
func TestListFinished_Delete(t *testing.T) {
	db := storagetest.Open(t)
	store := NewSQLiteStore(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	old := now.Add(-60 * 24 * time.Hour)

	done := domain.NewEntry("done", domain.ActionTypeCourseGift, `{}`, old)
	done.MarkSuccess("msg-1")
	abandoned := domain.NewEntry("abandoned", domain.ActionTypeCourseGift, `{}`, old)
	abandoned.MarkAbandoned()
	failed := domain.NewEntry("failed", domain.ActionTypeCourseGift, `{}`, old)
	failed.Status = domain.StatusFailed
	recent := domain.NewEntry("recent", domain.ActionTypeCourseGift, `{}`, now)
	recent.MarkSuccess("msg-2")
	for _, e := range []domain.Entry{done, abandoned, failed, recent} {
		if err := store.Save(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	finished, err := store.ListFinished(ctx, now.Add(-30*24*time.Hour), 10)
	if err != nil {
		t.Fatalf("ListFinished: %v", err)
	}
	if len(finished) != 2 {
		t.Fatalf("finished = %+v, want done and abandoned", finished)
	}
	for _, id := range []string{"done", "failed"} {
		if err := store.Delete(ctx, id); err != nil {
			t.Fatalf("Delete %s: %v", id, err)
		}
	}
	if _, err := store.GetByID(ctx, "done"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("done entry still present: %v", err)
	}
	if _, err := store.GetByID(ctx, "failed"); err != nil {
		t.Errorf("failed entry was deleted: %v", err)
	}
}

func TestCountByStatus(t *testing.T) {
	db := storagetest.Open(t)
	store := NewSQLiteStore(db)
	ctx := context.Background()
	now := time.Now()

	done := domain.NewEntry("a", domain.ActionTypeCourseGift, `{}`, now)
	done.MarkSuccess("msg-1")
	for _, e := range []domain.Entry{done, domain.NewEntry("b", domain.ActionTypeCourseGift, `{}`, now)} {
		if err := store.Save(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	counts, err := store.CountByStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[domain.StatusDone] != 1 || counts[domain.StatusPending] != 1 {
		t.Errorf("counts = %v", counts)
	}
}
