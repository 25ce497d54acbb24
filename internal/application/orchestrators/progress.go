package orchestrators

import (
	"context"
	"database/sql"
	"errors"
	"time"

	courseStore "academy/internal/adapters/storage/course"
	dripStore "academy/internal/adapters/storage/drip"
	progressStore "academy/internal/adapters/storage/progress"
	purchaseStore "academy/internal/adapters/storage/purchase"
	progressDomain "academy/internal/domain/progress"
)

// Classroom access errors.
var (
	ErrNoCourseAccess    = errors.New("you do not have access to this course")
	ErrLessonNotInCourse = errors.New("lesson does not belong to this course")
)

// ProgressDeps holds dependencies for lesson progress marking.
type ProgressDeps struct {
	Courses       courseStore.Store
	Lessons       courseStore.LessonStore
	Purchases     purchaseStore.Store
	Subscriptions dripStore.Store
	Progress      progressStore.Store
	Now           func() time.Time
}

// MarkLessonInput identifies one lesson for one member.
type MarkLessonInput struct {
	UserID    string
	CourseID  string
	LessonID  string
	Completed bool
}

// ExecuteMarkLesson records or clears completion of a lesson.
// PRE: The user owns the course or subscribes to it
// POST: Completion matches input.Completed; repeating the call changes nothing
func ExecuteMarkLesson(ctx context.Context, input MarkLessonInput, deps ProgressDeps) error {
	l, err := deps.Lessons.GetLesson(ctx, input.LessonID)
	if err != nil {
		return err
	}
	if l.CourseID != input.CourseID {
		return ErrLessonNotInCourse
	}
	ok, err := CanEnterClassroom(ctx, input.UserID, input.CourseID, deps.Purchases, deps.Subscriptions)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoCourseAccess
	}

	if !input.Completed {
		return deps.Progress.Unmark(ctx, input.UserID, input.LessonID)
	}
	p := progressDomain.LessonProgress{UserID: input.UserID, LessonID: input.LessonID, CreatedAt: deps.Now()}
	if err := p.Validate(); err != nil {
		return err
	}
	return deps.Progress.Mark(ctx, p)
}

// CanEnterClassroom reports whether the user holds a paid-status purchase of
// the course or any drip subscription to it.
func CanEnterClassroom(ctx context.Context, userID, courseID string, purchases purchaseStore.Store, subs dripStore.Store) (bool, error) {
	owned, err := purchases.HasAccess(ctx, userID, courseID)
	if err != nil || owned {
		return owned, err
	}
	_, err = subs.GetByUserAndCourse(ctx, userID, courseID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	}
	return false, err
}
