package orchestrators

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	courseStore "academy/internal/adapters/storage/course"
	dripStore "academy/internal/adapters/storage/drip"
	purchaseStore "academy/internal/adapters/storage/purchase"
	courseDomain "academy/internal/domain/course"
	outboxDomain "academy/internal/domain/outbox"
	purchaseDomain "academy/internal/domain/purchase"
	"academy/internal/domain/video"
)

// CourseAdminDeps holds dependencies for the course back office.
type CourseAdminDeps struct {
	Courses       courseStore.Store
	Lessons       courseStore.LessonStore
	Purchases     purchaseStore.Store
	Subscriptions dripStore.Store
	GenerateID    func() string
	Now           func() time.Time
}

// CourseInput carries the editable fields of a course.
type CourseInput struct {
	Name             string
	Tagline          string
	Description      string
	Price            int64
	OriginalPrice    int64
	PromoEndsAt      time.Time
	Thumbnail        string
	InstructorName   string
	SaleAt           time.Time
	SortOrder        int
	CourseType       string
	DripIntervalDays int
	PortalyURL       string
	PortalyProductID string
	DurationMinutes  int
	// TargetCourseIDs replaces the drip conversion targets when non-nil.
	TargetCourseIDs []string
}

func (in CourseInput) apply(c *courseDomain.Course) error {
	c.Name = strings.TrimSpace(in.Name)
	c.Tagline = in.Tagline
	c.Description = in.Description
	c.Price = in.Price
	c.OriginalPrice = in.OriginalPrice
	c.PromoEndsAt = in.PromoEndsAt
	c.Thumbnail = in.Thumbnail
	c.InstructorName = in.InstructorName
	c.SaleAt = in.SaleAt
	c.SortOrder = in.SortOrder
	c.PortalyURL = in.PortalyURL
	c.PortalyProductID = strings.TrimSpace(in.PortalyProductID)
	c.DurationMinutes = in.DurationMinutes
	return c.SetCourseType(cmp.Or(in.CourseType, courseDomain.TypeStandard), in.DripIntervalDays)
}

// ExecuteCreateCourse creates a draft course and assigns it to its creator.
// PRE: creatorID names a staff account
// POST: Course is a hidden draft; the creator holds a system_assigned purchase of it
func ExecuteCreateCourse(ctx context.Context, creatorID string, input CourseInput, deps CourseAdminDeps) (courseDomain.Course, error) {
	now := deps.Now()
	c := courseDomain.Course{
		ID:        deps.GenerateID(),
		Status:    courseDomain.StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := input.apply(&c); err != nil {
		return courseDomain.Course{}, err
	}
	if err := c.Validate(); err != nil {
		return courseDomain.Course{}, err
	}
	assignment := purchaseDomain.Purchase{
		ID:        deps.GenerateID(),
		UserID:    creatorID,
		CourseID:  c.ID,
		Currency:  courseDomain.DefaultCurrency,
		Type:      purchaseDomain.TypeSystemAssigned,
		Status:    purchaseDomain.StatusPaid,
		CreatedAt: now,
	}
	if err := deps.Courses.CreateWithAssignment(ctx, c, assignment); err != nil {
		return courseDomain.Course{}, fmt.Errorf("create course: %w", err)
	}
	if c.IsDrip() && input.TargetCourseIDs != nil {
		if err := syncTargets(ctx, c, input.TargetCourseIDs, deps); err != nil {
			return c, err
		}
	}
	slog.Info("course_event", "event", "created", "course_id", c.ID, "creator_id", creatorID, "course_type", c.CourseType)
	return c, nil
}

// ExecuteUpdateCourse edits a course. Switching to standard clears the drip
// cadence and the conversion targets.
// PRE: courseID names a live course
// POST: Course saved; conversion targets synced for drip courses
func ExecuteUpdateCourse(ctx context.Context, courseID string, input CourseInput, deps CourseAdminDeps) (courseDomain.Course, error) {
	c, err := deps.Courses.GetByID(ctx, courseID)
	if err != nil {
		return courseDomain.Course{}, err
	}
	if c.IsDeleted() {
		return courseDomain.Course{}, courseDomain.ErrDeleted
	}
	if err := input.apply(&c); err != nil {
		return courseDomain.Course{}, err
	}
	c.UpdatedAt = deps.Now()
	if err := c.Validate(); err != nil {
		return courseDomain.Course{}, err
	}
	if err := deps.Courses.Save(ctx, c); err != nil {
		return courseDomain.Course{}, err
	}

	switch {
	case !c.IsDrip():
		err = deps.Subscriptions.ReplaceTargets(ctx, c.ID, nil)
	case input.TargetCourseIDs != nil:
		err = syncTargets(ctx, c, input.TargetCourseIDs, deps)
	}
	if err != nil {
		return c, fmt.Errorf("sync conversion targets: %w", err)
	}
	slog.Info("course_event", "event", "updated", "course_id", c.ID)
	return c, nil
}

// syncTargets keeps only live standard courses other than the drip course itself.
func syncTargets(ctx context.Context, c courseDomain.Course, targetIDs []string, deps CourseAdminDeps) error {
	var valid []string
	if len(targetIDs) > 0 {
		candidates, err := deps.Courses.List(ctx, courseStore.ListFilter{IDs: targetIDs})
		if err != nil {
			return err
		}
		for _, t := range candidates {
			if t.ID == c.ID || t.IsDrip() || slices.Contains(valid, t.ID) {
				continue
			}
			valid = append(valid, t.ID)
		}
	}
	return deps.Subscriptions.ReplaceTargets(ctx, c.ID, valid)
}

// ExecutePublishCourse lists a course as preorder (future sale date) or selling.
func ExecutePublishCourse(ctx context.Context, courseID string, deps CourseAdminDeps) (courseDomain.Course, error) {
	c, err := deps.Courses.GetByID(ctx, courseID)
	if err != nil {
		return courseDomain.Course{}, err
	}
	if err := c.Publish(deps.Now()); err != nil {
		return courseDomain.Course{}, err
	}
	if err := deps.Courses.Save(ctx, c); err != nil {
		return courseDomain.Course{}, err
	}
	slog.Info("course_event", "event", "published", "course_id", c.ID, "status", c.Status)
	return c, nil
}

// ExecuteUnpublishCourse returns a course to draft.
func ExecuteUnpublishCourse(ctx context.Context, courseID string, deps CourseAdminDeps) (courseDomain.Course, error) {
	c, err := deps.Courses.GetByID(ctx, courseID)
	if err != nil {
		return courseDomain.Course{}, err
	}
	c.Unpublish(deps.Now())
	if err := deps.Courses.Save(ctx, c); err != nil {
		return courseDomain.Course{}, err
	}
	slog.Info("course_event", "event", "unpublished", "course_id", c.ID)
	return c, nil
}

// ExecuteDeleteCourse soft-deletes a course. Buyers keep their purchases; a
// course nobody bought also loses its system_assigned rows.
// PRE: courseID names a course
// POST: Course is soft-deleted
func ExecuteDeleteCourse(ctx context.Context, courseID string, deps CourseAdminDeps) error {
	c, err := deps.Courses.GetByID(ctx, courseID)
	if err != nil {
		return err
	}
	if c.IsDeleted() {
		return nil
	}
	owned, err := deps.Purchases.CountPaid(ctx, courseID)
	if err != nil {
		return err
	}
	if owned == 0 {
		if err := deps.Purchases.DeleteSystemAssigned(ctx, courseID); err != nil {
			return err
		}
	}
	c.SoftDelete(deps.Now())
	if err := deps.Courses.Save(ctx, c); err != nil {
		return err
	}
	slog.Info("course_event", "event", "deleted", "course_id", c.ID, "purchases_kept", owned)
	return nil
}

// ExecuteUpdateCourseStatus flips preorder courses whose sale time has passed to selling.
// POST: Returns the number of courses promoted
func ExecuteUpdateCourseStatus(ctx context.Context, courses courseStore.Store, now time.Time) (int, error) {
	ids, err := courses.PromoteDueForSale(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("promote preorder courses: %w", err)
	}
	for _, id := range ids {
		slog.Info("course_event", "event", "sale_started", "course_id", id)
	}
	return len(ids), nil
}

// ExecuteQueueCourseGift queues a gift job granting the course to members.
// PRE: memberIDs non-empty
// POST: One course_gift job is pending
func ExecuteQueueCourseGift(ctx context.Context, courseID string, memberIDs []string, deps CourseAdminDeps, queue Enqueuer) error {
	if len(memberIDs) == 0 {
		return errors.New("at least one member is required")
	}
	c, err := deps.Courses.GetByID(ctx, courseID)
	if err != nil {
		return err
	}
	if c.IsDeleted() {
		return courseDomain.ErrDeleted
	}
	_, err = queue.Enqueue(ctx, outboxDomain.ActionTypeCourseGift, CourseGiftPayload{CourseID: c.ID, MemberIDs: memberIDs})
	return err
}

// --- Chapters ---

// ErrChapterNotInCourse is returned when a chapter id belongs to another course.
var ErrChapterNotInCourse = errors.New("chapter does not belong to this course")

// chapterOf loads a chapter and checks it belongs to courseID.
func chapterOf(ctx context.Context, courseID, chapterID string, deps CourseAdminDeps) (courseDomain.Chapter, error) {
	ch, err := deps.Lessons.GetChapter(ctx, chapterID)
	if err != nil {
		return courseDomain.Chapter{}, err
	}
	if ch.CourseID != courseID {
		return courseDomain.Chapter{}, fmt.Errorf("chapter %s: %w", chapterID, ErrChapterNotInCourse)
	}
	return ch, nil
}

// lessonOf loads a lesson and checks it belongs to courseID.
func lessonOf(ctx context.Context, courseID, lessonID string, deps CourseAdminDeps) (courseDomain.Lesson, error) {
	l, err := deps.Lessons.GetLesson(ctx, lessonID)
	if err != nil {
		return courseDomain.Lesson{}, err
	}
	if l.CourseID != courseID {
		return courseDomain.Lesson{}, fmt.Errorf("lesson %s: %w", lessonID, ErrLessonNotInCourse)
	}
	return l, nil
}

// ExecuteSaveChapter creates (empty chapterID) or renames a chapter.
func ExecuteSaveChapter(ctx context.Context, courseID, chapterID, title string, deps CourseAdminDeps) (courseDomain.Chapter, error) {
	var ch courseDomain.Chapter
	if chapterID == "" {
		next, err := deps.Lessons.NextChapterSortOrder(ctx, courseID)
		if err != nil {
			return ch, err
		}
		ch = courseDomain.Chapter{ID: deps.GenerateID(), CourseID: courseID, SortOrder: next}
	} else {
		var err error
		if ch, err = chapterOf(ctx, courseID, chapterID, deps); err != nil {
			return ch, err
		}
	}
	ch.Title = strings.TrimSpace(title)
	if err := ch.Validate(); err != nil {
		return courseDomain.Chapter{}, err
	}
	return ch, deps.Lessons.SaveChapter(ctx, ch)
}

// ExecuteDeleteChapter removes a chapter with its lessons; the remaining
// chapters and lessons are renumbered densely.
// PRE: chapterID belongs to courseID
func ExecuteDeleteChapter(ctx context.Context, courseID, chapterID string, deps CourseAdminDeps) error {
	if _, err := chapterOf(ctx, courseID, chapterID, deps); err != nil {
		return err
	}
	if err := deps.Lessons.DeleteChapter(ctx, chapterID); err != nil {
		return err
	}
	slog.Info("course_event", "event", "chapter_deleted", "course_id", courseID, "chapter_id", chapterID)
	return nil
}

// --- Lessons ---

// LessonInput carries the editable fields of a lesson.
type LessonInput struct {
	ChapterID         string
	Title             string
	VideoURL          string
	Body              string
	PromoDelaySeconds *int
	PromoHTML         string
	DurationSeconds   int
}

// ExecuteSaveLesson creates (empty lessonID) or edits a lesson. A video URL is
// normalized to platform and id; an empty one clears the video.
// PRE: courseID names the lesson's course
// POST: New lessons are appended at the end of the course order
func ExecuteSaveLesson(ctx context.Context, courseID, lessonID string, input LessonInput, deps CourseAdminDeps) (courseDomain.Lesson, error) {
	now := deps.Now()
	var l courseDomain.Lesson
	if lessonID == "" {
		next, err := deps.Lessons.NextLessonSortOrder(ctx, courseID)
		if err != nil {
			return l, err
		}
		l = courseDomain.Lesson{ID: deps.GenerateID(), CourseID: courseID, SortOrder: next, CreatedAt: now}
	} else {
		var err error
		if l, err = lessonOf(ctx, courseID, lessonID, deps); err != nil {
			return l, err
		}
	}

	if input.ChapterID != "" {
		if _, err := chapterOf(ctx, courseID, input.ChapterID, deps); err != nil {
			return courseDomain.Lesson{}, err
		}
	}
	l.ChapterID = input.ChapterID
	l.Title = strings.TrimSpace(input.Title)
	l.Body = input.Body
	l.DurationSeconds = input.DurationSeconds
	l.PromoHTML = input.PromoHTML
	l.PromoDelaySeconds = -1
	if input.PromoDelaySeconds != nil {
		l.PromoDelaySeconds = *input.PromoDelaySeconds
	}

	l.VideoURL, l.VideoPlatform, l.VideoID = "", "", ""
	if u := strings.TrimSpace(input.VideoURL); u != "" {
		ref, err := video.Parse(u)
		if err != nil {
			return courseDomain.Lesson{}, err
		}
		l.VideoURL, l.VideoPlatform, l.VideoID = u, ref.Platform, ref.ID
	}
	l.UpdatedAt = now

	if err := l.Validate(); err != nil {
		return courseDomain.Lesson{}, err
	}
	if err := deps.Lessons.SaveLesson(ctx, l); err != nil {
		return courseDomain.Lesson{}, err
	}
	slog.Info("course_event", "event", "lesson_saved", "course_id", courseID, "lesson_id", l.ID, "sort_order", l.SortOrder)
	return l, nil
}

// ExecuteDeleteLesson removes a lesson and closes the gap in the course order.
// On a drip course the following lessons move one rank earlier.
// PRE: lessonID belongs to courseID
func ExecuteDeleteLesson(ctx context.Context, courseID, lessonID string, deps CourseAdminDeps) error {
	if _, err := lessonOf(ctx, courseID, lessonID, deps); err != nil {
		return err
	}
	if err := deps.Lessons.DeleteLesson(ctx, lessonID); err != nil {
		return err
	}
	slog.Info("course_event", "event", "lesson_deleted", "course_id", courseID, "lesson_id", lessonID)
	return nil
}

// ErrReorderMismatch is returned when a reorder does not list every row of the course once.
var ErrReorderMismatch = errors.New("reorder must list every item of the course exactly once")

// checkPermutation reports ErrReorderMismatch unless ids holds exactly the current ids.
func checkPermutation(kind string, current, ids []string) error {
	if len(ids) != len(current) {
		return fmt.Errorf("%w: course has %d %ss, got %d", ErrReorderMismatch, len(current), kind, len(ids))
	}
	for _, id := range current {
		if !slices.Contains(ids, id) {
			return fmt.Errorf("%w: missing %s %s", ErrReorderMismatch, kind, id)
		}
	}
	return nil
}

// ExecuteReorderLessons sets the course order to the given lesson ids.
// PRE: ids is a permutation of the course's lesson ids
func ExecuteReorderLessons(ctx context.Context, courseID string, ids []string, deps CourseAdminDeps) error {
	lessons, err := deps.Lessons.ListLessons(ctx, courseID)
	if err != nil {
		return err
	}
	current := make([]string, len(lessons))
	for i, l := range lessons {
		current[i] = l.ID
	}
	if err := checkPermutation("lesson", current, ids); err != nil {
		return err
	}
	return deps.Lessons.ReorderLessons(ctx, courseID, ids)
}

// ExecuteReorderChapters sets the chapter order. Lessons keep their course-wide positions.
// PRE: ids is a permutation of the course's chapter ids
func ExecuteReorderChapters(ctx context.Context, courseID string, ids []string, deps CourseAdminDeps) error {
	chapters, err := deps.Lessons.ListChapters(ctx, courseID)
	if err != nil {
		return err
	}
	current := make([]string, len(chapters))
	for i, ch := range chapters {
		current[i] = ch.ID
	}
	if err := checkPermutation("chapter", current, ids); err != nil {
		return err
	}
	if err := deps.Lessons.ReorderChapters(ctx, courseID, ids); err != nil {
		return err
	}
	slog.Info("course_event", "event", "chapters_reordered", "course_id", courseID, "chapters", len(ids))
	return nil
}
