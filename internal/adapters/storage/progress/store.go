package progress

import (
	"context"

	domain "academy/internal/domain/progress"
)

// Store persists lesson completion markers.
type Store interface {
	// Mark records completion; marking twice keeps the first timestamp.
	Mark(ctx context.Context, value domain.LessonProgress) error
	Unmark(ctx context.Context, userID, lessonID string) error
	// CompletedLessonIDs returns the set of lessons of a course the user completed.
	CompletedLessonIDs(ctx context.Context, userID, courseID string) (map[string]bool, error)
	// CountCompletedByCourse returns completed lesson counts keyed by course ID.
	CountCompletedByCourse(ctx context.Context, userID string) (map[string]int, error)
}
