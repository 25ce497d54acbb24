package course

import (
	"context"
	"time"

	domain "academy/internal/domain/course"
	purchaseDomain "academy/internal/domain/purchase"
)

// Store persists Course state.
type Store interface {
	// GetByID returns the course, including soft-deleted ones.
	GetByID(ctx context.Context, id string) (domain.Course, error)
	// GetByPortalyProductID returns the live course sold under the given product.
	GetByPortalyProductID(ctx context.Context, productID string) (domain.Course, error)
	Save(ctx context.Context, value domain.Course) error
	// CreateWithAssignment inserts a course and the creator's system_assigned
	// purchase in one transaction.
	CreateWithAssignment(ctx context.Context, value domain.Course, assignment purchaseDomain.Purchase) error
	List(ctx context.Context, filter ListFilter) ([]domain.Course, error)
	// PromoteDueForSale flips preorder courses whose sale time has passed to selling.
	PromoteDueForSale(ctx context.Context, now time.Time) ([]string, error)
}

// ListFilter carries filtering parameters for List operations.
type ListFilter struct {
	ListedOnly     bool // published, not draft, not deleted
	IncludeDeleted bool
	CourseType     string
	IDs            []string
}

// LessonStore persists chapters and lessons. Lesson sort_order is course-wide
// and kept dense from 0.
type LessonStore interface {
	GetChapter(ctx context.Context, id string) (domain.Chapter, error)
	ListChapters(ctx context.Context, courseID string) ([]domain.Chapter, error)
	SaveChapter(ctx context.Context, value domain.Chapter) error
	// DeleteChapter removes the chapter together with its lessons.
	DeleteChapter(ctx context.Context, id string) error
	NextChapterSortOrder(ctx context.Context, courseID string) (int, error)
	// ReorderChapters assigns chapter sort_order by position in ids.
	ReorderChapters(ctx context.Context, courseID string, ids []string) error

	GetLesson(ctx context.Context, id string) (domain.Lesson, error)
	// ListLessons returns lessons in course order: sort_order, then creation.
	ListLessons(ctx context.Context, courseID string) ([]domain.Lesson, error)
	CountLessons(ctx context.Context, courseID string) (int, error)
	SaveLesson(ctx context.Context, value domain.Lesson) error
	DeleteLesson(ctx context.Context, id string) error
	NextLessonSortOrder(ctx context.Context, courseID string) (int, error)
	// ReorderLessons assigns sort_order by position in ids.
	ReorderLessons(ctx context.Context, courseID string, ids []string) error
}
