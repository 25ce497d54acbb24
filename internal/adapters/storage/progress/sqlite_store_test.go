package progress

import (
	"context"
	"testing"
	"time"

	"academy/internal/adapters/storage/storagetest"
	domain "academy/internal/domain/progress"
)

func TestMarkUnmark(t *testing.T) {
	db := storagetest.Open(t)
	storagetest.SeedAccount(t, db, "u1", "a@example.com", "member")
	storagetest.SeedCourse(t, db, "c1", "standard", 0)
	now := time.Now()
	for _, id := range []string{"l1", "l2"} {
		if _, err := db.Exec(`INSERT INTO lesson (id, course_id, title, created_at, updated_at) VALUES (?, 'c1', ?, '', '')`, id, id); err != nil {
			t.Fatal(err)
		}
	}
	store := NewSQLiteStore(db)
	ctx := context.Background()

	mark := domain.LessonProgress{UserID: "u1", LessonID: "l1", CreatedAt: now}
	for i := 0; i < 2; i++ {
		if err := store.Mark(ctx, mark); err != nil {
			t.Fatalf("Mark #%d: %v", i, err)
		}
	}
	done, _ := store.CompletedLessonIDs(ctx, "u1", "c1")
	if len(done) != 1 || !done["l1"] {
		t.Errorf("completed = %v", done)
	}
	counts, _ := store.CountCompletedByCourse(ctx, "u1")
	if counts["c1"] != 1 {
		t.Errorf("counts = %v", counts)
	}

	if err := store.Unmark(ctx, "u1", "l1"); err != nil {
		t.Fatal(err)
	}
	if err := store.Unmark(ctx, "u1", "l1"); err != nil {
		t.Fatalf("second Unmark: %v", err)
	}
	done, _ = store.CompletedLessonIDs(ctx, "u1", "c1")
	if len(done) != 0 {
		t.Errorf("completed after unmark = %v", done)
	}
}
