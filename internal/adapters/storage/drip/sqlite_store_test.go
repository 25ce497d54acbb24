package drip

import (
	"context"
	"errors"
	"testing"
	"time"

	"academy/internal/adapters/storage"
	"academy/internal/adapters/storage/storagetest"
	domain "academy/internal/domain/drip"
	outboxDomain "academy/internal/domain/outbox"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newSub(id, userID, courseID string) domain.Subscription {
	return domain.Subscription{
		ID: id, UserID: userID, CourseID: courseID, SubscribedAt: t0, Status: domain.StatusActive,
		UnsubscribeToken: "tok-" + id, CreatedAt: t0, UpdatedAt: t0,
	}
}

func TestCreate_DuplicatePair(t *testing.T) {
	db := storagetest.Open(t)
	storagetest.SeedAccount(t, db, "u1", "a@example.com", "member")
	storagetest.SeedCourse(t, db, "c1", "drip", 3)
	store := NewSQLiteStore(db)
	ctx := context.Background()

	if err := store.Create(ctx, newSub("s1", "u1", "c1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, newSub("s2", "u1", "c1")); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second Create err = %v, want ErrDuplicate", err)
	}
	got, err := store.GetByToken(ctx, "tok-s1")
	if err != nil {
		t.Fatalf("GetByToken: %v", err)
	}
	if !got.SubscribedAt.Equal(t0) || got.Status != domain.StatusActive {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestAdvance_CompareAndSwap(t *testing.T) {
	db := storagetest.Open(t)
	storagetest.SeedAccount(t, db, "u1", "a@example.com", "member")
	storagetest.SeedCourse(t, db, "c1", "drip", 1)
	store := NewSQLiteStore(db)
	ctx := context.Background()

	sub := newSub("s1", "u1", "c1")
	sub.EmailsSent = 1
	if err := store.Create(ctx, sub); err != nil {
		t.Fatalf("Create: %v", err)
	}

	next := sub
	next.EmailsSent = 3
	entries := []outboxDomain.Entry{
		outboxDomain.NewEntry("e1", outboxDomain.ActionTypeDripLesson, `{"lesson":1}`, t0),
		outboxDomain.NewEntry("e2", outboxDomain.ActionTypeDripLesson, `{"lesson":2}`, t0),
	}
	if err := store.Advance(ctx, next, 1, entries); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	// A second writer still holding the old count loses and writes nothing.
	stale := sub
	stale.EmailsSent = 2
	extra := []outboxDomain.Entry{outboxDomain.NewEntry("e3", outboxDomain.ActionTypeDripLesson, `{"lesson":1}`, t0)}
	if err := store.Advance(ctx, stale, 1, extra); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("stale Advance err = %v, want ErrConflict", err)
	}

	got, _ := store.GetByID(ctx, "s1")
	if got.EmailsSent != 3 {
		t.Errorf("EmailsSent = %d, want 3", got.EmailsSent)
	}
	var queued int
	if err := db.QueryRow(`SELECT COUNT(*) FROM outbox`).Scan(&queued); err != nil {
		t.Fatal(err)
	}
	if queued != 2 {
		t.Errorf("outbox rows = %d, want 2", queued)
	}
}

func TestTransition_OnlyFromExpectedStatus(t *testing.T) {
	db := storagetest.Open(t)
	storagetest.SeedAccount(t, db, "u1", "a@example.com", "member")
	storagetest.SeedCourse(t, db, "c1", "drip", 1)
	store := NewSQLiteStore(db)
	ctx := context.Background()

	sub := newSub("s1", "u1", "c1")
	if err := store.Create(ctx, sub); err != nil {
		t.Fatal(err)
	}
	if err := sub.Unsubscribe(t0.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := store.Transition(ctx, sub, domain.StatusActive); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := store.Transition(ctx, sub, domain.StatusActive); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("repeat Transition err = %v, want ErrConflict", err)
	}
}

func TestListSweepable_FiltersCourseAndStatus(t *testing.T) {
	db := storagetest.Open(t)
	storagetest.SeedAccount(t, db, "u1", "a@example.com", "member")
	storagetest.SeedAccount(t, db, "u2", "b@example.com", "member")
	storagetest.SeedCourse(t, db, "live", "drip", 1)
	storagetest.SeedCourse(t, db, "hidden", "drip", 1)
	if _, err := db.Exec(`UPDATE course SET is_published = 0 WHERE id = 'hidden'`); err != nil {
		t.Fatal(err)
	}
	store := NewSQLiteStore(db)
	ctx := context.Background()

	for _, s := range []domain.Subscription{newSub("a", "u1", "live"), newSub("b", "u1", "hidden"), newSub("c", "u2", "live")} {
		if err := store.Create(ctx, s); err != nil {
			t.Fatal(err)
		}
	}
	converted := newSub("c", "u2", "live")
	_ = converted.Convert(t0)
	if err := store.Transition(ctx, converted, domain.StatusActive); err != nil {
		t.Fatal(err)
	}

	subs, err := store.ListSweepable(ctx)
	if err != nil {
		t.Fatalf("ListSweepable: %v", err)
	}
	if len(subs) != 1 || subs[0].ID != "a" {
		t.Errorf("ListSweepable = %+v, want only a", subs)
	}
}

func TestConversionTargets(t *testing.T) {
	db := storagetest.Open(t)
	storagetest.SeedAccount(t, db, "u1", "a@example.com", "member")
	storagetest.SeedCourse(t, db, "drip-a", "drip", 2)
	storagetest.SeedCourse(t, db, "full-b", "standard", 0)
	storagetest.SeedCourse(t, db, "full-c", "standard", 0)
	store := NewSQLiteStore(db)
	ctx := context.Background()

	if err := store.ReplaceTargets(ctx, "drip-a", []string{"full-b", "full-c"}); err != nil {
		t.Fatal(err)
	}
	if err := store.ReplaceTargets(ctx, "drip-a", []string{"full-b"}); err != nil {
		t.Fatal(err)
	}
	targets, _ := store.ListTargets(ctx, "drip-a")
	if len(targets) != 1 || targets[0] != "full-b" {
		t.Errorf("targets = %v, want [full-b]", targets)
	}

	if err := store.Create(ctx, newSub("s1", "u1", "drip-a")); err != nil {
		t.Fatal(err)
	}
	subs, err := store.ListConvertible(ctx, "u1", "full-b")
	if err != nil || len(subs) != 1 {
		t.Fatalf("ListConvertible(full-b) = %v, %v", subs, err)
	}
	subs, _ = store.ListConvertible(ctx, "u1", "full-c")
	if len(subs) != 0 {
		t.Errorf("ListConvertible(full-c) = %v, want none", subs)
	}

	counts, _ := store.CountByStatus(ctx, "drip-a")
	if counts[domain.StatusActive] != 1 {
		t.Errorf("counts = %v", counts)
	}
}
