package orchestrators

import (
	"errors"
	"testing"
	"time"

	courseStore "academy/internal/adapters/storage/course"
	courseDomain "academy/internal/domain/course"
	purchaseDomain "academy/internal/domain/purchase"
	"academy/internal/domain/video"
)

func (h *harness) admin() string {
	h.t.Helper()
	a := h.member("admin@example.com")
	if _, err := h.db.Exec(`UPDATE account SET role = 'admin' WHERE id = ?`, a.ID); err != nil {
		h.t.Fatalf("promote: %v", err)
	}
	return a.ID
}

// TestCreateCourse_AssignsCreator tests the draft plus system_assigned purchase.
func TestCreateCourse_AssignsCreator(t *testing.T) {
	h := newHarness(t)
	adminID := h.admin()

	c, err := ExecuteCreateCourse(h.ctx(), adminID, CourseInput{Name: "  Go Basics ", Price: 1800}, h.adminDeps())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.Name != "Go Basics" || c.Status != courseDomain.StatusDraft || c.IsPublished || c.CourseType != courseDomain.TypeStandard {
		t.Errorf("unexpected course %+v", c)
	}
	p, err := h.purchases.GetByUserAndCourse(h.ctx(), adminID, c.ID)
	if err != nil || p.Type != purchaseDomain.TypeSystemAssigned {
		t.Errorf("expected system_assigned purchase, got %+v, %v", p, err)
	}

	if _, err := ExecuteCreateCourse(h.ctx(), adminID, CourseInput{Name: "Drip", CourseType: courseDomain.TypeDrip}, h.adminDeps()); !errors.Is(err, courseDomain.ErrDripIntervalRequired) {
		t.Errorf("expected ErrDripIntervalRequired, got %v", err)
	}
}

// TestUpdateCourse_SyncsTargets tests target filtering and the switch to standard.
func TestUpdateCourse_SyncsTargets(t *testing.T) {
	h := newHarness(t)
	drip := h.course(courseDomain.TypeDrip, 3, 1)
	otherDrip := h.course(courseDomain.TypeDrip, 1, 1)
	standard := h.course(courseDomain.TypeStandard, 0, 1)

	input := CourseInput{
		Name: drip.Name, CourseType: courseDomain.TypeDrip, DripIntervalDays: 5,
		TargetCourseIDs: []string{drip.ID, otherDrip.ID, standard.ID, standard.ID, "missing"},
	}
	updated, err := ExecuteUpdateCourse(h.ctx(), drip.ID, input, h.adminDeps())
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.DripIntervalDays != 5 {
		t.Errorf("expected interval 5, got %d", updated.DripIntervalDays)
	}
	targets, _ := h.subs.ListTargets(h.ctx(), drip.ID)
	if len(targets) != 1 || targets[0] != standard.ID {
		t.Errorf("expected only the standard course as target, got %v", targets)
	}

	updated, err = ExecuteUpdateCourse(h.ctx(), drip.ID, CourseInput{Name: drip.Name, CourseType: courseDomain.TypeStandard, DripIntervalDays: 5}, h.adminDeps())
	if err != nil {
		t.Fatalf("switch to standard: %v", err)
	}
	if updated.DripIntervalDays != 0 {
		t.Errorf("expected drip interval cleared, got %d", updated.DripIntervalDays)
	}
	if targets, _ := h.subs.ListTargets(h.ctx(), drip.ID); len(targets) != 0 {
		t.Errorf("expected targets cleared, got %v", targets)
	}
}

// TestPublishAndPromote tests preorder publication and the minutely flip.
func TestPublishAndPromote(t *testing.T) {
	h := newHarness(t)
	adminID := h.admin()
	c, _ := ExecuteCreateCourse(h.ctx(), adminID, CourseInput{Name: "Soon", SaleAt: startTime.Add(2 * time.Hour)}, h.adminDeps())

	c, err := ExecutePublishCourse(h.ctx(), c.ID, h.adminDeps())
	if err != nil || c.Status != courseDomain.StatusPreorder || !c.IsPublished {
		t.Fatalf("expected preorder, got %+v, %v", c, err)
	}
	if n, _ := ExecuteUpdateCourseStatus(h.ctx(), h.courses, h.clock.Now()); n != 0 {
		t.Errorf("expected nothing due yet, got %d", n)
	}
	h.clock.Advance(2 * time.Hour)
	if n, err := ExecuteUpdateCourseStatus(h.ctx(), h.courses, h.clock.Now()); err != nil || n != 1 {
		t.Fatalf("expected 1 promoted, got %d, %v", n, err)
	}
	got, _ := h.courses.GetByID(h.ctx(), c.ID)
	if got.Status != courseDomain.StatusSelling {
		t.Errorf("expected selling, got %s", got.Status)
	}

	got, _ = ExecuteUnpublishCourse(h.ctx(), c.ID, h.adminDeps())
	if got.Status != courseDomain.StatusDraft || got.IsPublished {
		t.Errorf("expected draft, got %+v", got)
	}
}

// TestDeleteCourse tests the purchase guard and soft delete.
func TestDeleteCourse(t *testing.T) {
	h := newHarness(t)
	adminID := h.admin()
	c, _ := ExecuteCreateCourse(h.ctx(), adminID, CourseInput{Name: "Temp"}, h.adminDeps())

	if err := ExecuteDeleteCourse(h.ctx(), c.ID, h.adminDeps()); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ := h.courses.GetByID(h.ctx(), c.ID)
	if !got.IsDeleted() {
		t.Error("expected soft delete")
	}
	if _, err := h.purchases.GetByUserAndCourse(h.ctx(), adminID, c.ID); err == nil {
		t.Error("expected system_assigned purchase removed")
	}
	listed, _ := h.courses.List(h.ctx(), courseStore.ListFilter{})
	for _, l := range listed {
		if l.ID == c.ID {
			t.Error("expected deleted course hidden from default listing")
		}
	}

	sold := h.course(courseDomain.TypeStandard, 0, 1)
	buyer := h.member("buyer@example.com")
	h.purchases.Create(h.ctx(), purchaseDomain.Purchase{
		ID: "p-sold", UserID: buyer.ID, CourseID: sold.ID, Currency: "TWD",
		Type: purchaseDomain.TypePaid, Status: purchaseDomain.StatusPaid, CreatedAt: startTime,
	})
	if err := ExecuteDeleteCourse(h.ctx(), sold.ID, h.adminDeps()); err != nil {
		t.Fatalf("delete sold course: %v", err)
	}
	if got, _ := h.courses.GetByID(h.ctx(), sold.ID); !got.IsDeleted() {
		t.Error("expected sold course soft-deleted")
	}
	if ok, _ := h.purchases.HasAccess(h.ctx(), buyer.ID, sold.ID); !ok {
		t.Error("expected buyer to keep the purchase")
	}
}

// TestSaveLesson_VideoAndOrder tests URL parsing and dense ordering.
func TestSaveLesson_VideoAndOrder(t *testing.T) {
	h := newHarness(t)
	c := h.course(courseDomain.TypeStandard, 0, 2)
	ch, err := ExecuteSaveChapter(h.ctx(), c.ID, "", "Part 1", h.adminDeps())
	if err != nil {
		t.Fatalf("chapter: %v", err)
	}

	l, err := ExecuteSaveLesson(h.ctx(), c.ID, "", LessonInput{
		ChapterID: ch.ID, Title: "Intro", VideoURL: "https://youtu.be/dQw4w9WgXcQ",
	}, h.adminDeps())
	if err != nil {
		t.Fatalf("lesson: %v", err)
	}
	if l.SortOrder != 2 || l.VideoPlatform != video.PlatformYouTube || l.VideoID != "dQw4w9WgXcQ" || l.PromoDelaySeconds != -1 {
		t.Errorf("unexpected lesson %+v", l)
	}

	if _, err := ExecuteSaveLesson(h.ctx(), c.ID, l.ID, LessonInput{Title: "Intro", VideoURL: "https://example.com/v.mp4"}, h.adminDeps()); !errors.Is(err, video.ErrUnsupportedURL) {
		t.Errorf("expected ErrUnsupportedURL, got %v", err)
	}
	l, err = ExecuteSaveLesson(h.ctx(), c.ID, l.ID, LessonInput{Title: "Intro"}, h.adminDeps())
	if err != nil || l.HasVideo() || l.ChapterID != "" {
		t.Errorf("expected video and chapter cleared, got %+v, %v", l, err)
	}

	lessons, _ := h.lessons.ListLessons(h.ctx(), c.ID)
	ids := []string{lessons[2].ID, lessons[0].ID, lessons[1].ID}
	if err := ExecuteReorderLessons(h.ctx(), c.ID, ids, h.adminDeps()); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	lessons, _ = h.lessons.ListLessons(h.ctx(), c.ID)
	if lessons[0].ID != ids[0] || lessons[2].SortOrder != 2 {
		t.Errorf("unexpected order after reorder")
	}
	if err := ExecuteReorderLessons(h.ctx(), c.ID, ids[:2], h.adminDeps()); !errors.Is(err, ErrReorderMismatch) {
		t.Error("expected error for a partial reorder")
	}
}

// TestReorderChapters tests that chapter order changes while lesson order stays.
func TestReorderChapters(t *testing.T) {
	h := newHarness(t)
	c := h.course(courseDomain.TypeStandard, 0, 2)
	other := h.course(courseDomain.TypeStandard, 0, 0)
	var ids []string
	for _, title := range []string{"One", "Two", "Three"} {
		ch, err := ExecuteSaveChapter(h.ctx(), c.ID, "", title, h.adminDeps())
		if err != nil {
			t.Fatalf("chapter: %v", err)
		}
		ids = append(ids, ch.ID)
	}
	foreign, err := ExecuteSaveChapter(h.ctx(), other.ID, "", "Elsewhere", h.adminDeps())
	if err != nil {
		t.Fatalf("chapter: %v", err)
	}
	before, _ := h.lessons.ListLessons(h.ctx(), c.ID)

	order := []string{ids[2], ids[0], ids[1]}
	if err := ExecuteReorderChapters(h.ctx(), c.ID, order, h.adminDeps()); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	chapters, _ := h.lessons.ListChapters(h.ctx(), c.ID)
	for i, ch := range chapters {
		if ch.ID != order[i] || ch.SortOrder != i {
			t.Errorf("position %d = %s (sort %d), want %s", i, ch.ID, ch.SortOrder, order[i])
		}
	}
	after, _ := h.lessons.ListLessons(h.ctx(), c.ID)
	if len(after) != len(before) || after[0].ID != before[0].ID || after[1].ID != before[1].ID {
		t.Errorf("lesson order changed: %+v", after)
	}

	tests := []struct {
		name string
		ids  []string
	}{
		{"partial", order[:2]},
		{"duplicate", []string{ids[0], ids[0], ids[1]}},
		{"foreign chapter", []string{ids[0], ids[1], foreign.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ExecuteReorderChapters(h.ctx(), c.ID, tt.ids, h.adminDeps()); !errors.Is(err, ErrReorderMismatch) {
				t.Errorf("expected ErrReorderMismatch, got %v", err)
			}
		})
	}
}

// TestDeleteLessonAndChapter tests course scoping and dense renumbering.
func TestDeleteLessonAndChapter(t *testing.T) {
	h := newHarness(t)
	c := h.course(courseDomain.TypeStandard, 0, 3)
	other := h.course(courseDomain.TypeStandard, 0, 1)
	lessons, _ := h.lessons.ListLessons(h.ctx(), c.ID)

	if err := ExecuteDeleteLesson(h.ctx(), other.ID, lessons[0].ID, h.adminDeps()); !errors.Is(err, ErrLessonNotInCourse) {
		t.Errorf("expected ErrLessonNotInCourse, got %v", err)
	}
	if err := ExecuteDeleteLesson(h.ctx(), c.ID, lessons[1].ID, h.adminDeps()); err != nil {
		t.Fatalf("delete lesson: %v", err)
	}
	left, _ := h.lessons.ListLessons(h.ctx(), c.ID)
	if len(left) != 2 || left[0].SortOrder != 0 || left[1].SortOrder != 1 || left[1].ID != lessons[2].ID {
		t.Errorf("expected dense order after delete, got %+v", left)
	}

	ch, err := ExecuteSaveChapter(h.ctx(), c.ID, "", "Part 1", h.adminDeps())
	if err != nil {
		t.Fatalf("chapter: %v", err)
	}
	if _, err := ExecuteSaveChapter(h.ctx(), other.ID, ch.ID, "Stolen", h.adminDeps()); !errors.Is(err, ErrChapterNotInCourse) {
		t.Errorf("expected ErrChapterNotInCourse, got %v", err)
	}
	if _, err := ExecuteSaveLesson(h.ctx(), c.ID, left[0].ID, LessonInput{ChapterID: ch.ID, Title: "Moved"}, h.adminDeps()); err != nil {
		t.Fatalf("move lesson: %v", err)
	}
	if err := ExecuteDeleteChapter(h.ctx(), c.ID, ch.ID, h.adminDeps()); err != nil {
		t.Fatalf("delete chapter: %v", err)
	}
	left, _ = h.lessons.ListLessons(h.ctx(), c.ID)
	if len(left) != 1 || left[0].SortOrder != 0 {
		t.Errorf("expected chapter lessons removed, got %+v", left)
	}
}
