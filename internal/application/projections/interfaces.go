package projections

import (
	"context"

	"academy/internal/adapters/storage/account"
	"academy/internal/adapters/storage/course"
	domainAccount "academy/internal/domain/account"
	domainCourse "academy/internal/domain/course"
	domainDrip "academy/internal/domain/drip"
	domainPurchase "academy/internal/domain/purchase"
)

// CourseStore interface for course queries.
type CourseStore interface {
	GetByID(ctx context.Context, id string) (domainCourse.Course, error)
	List(ctx context.Context, filter course.ListFilter) ([]domainCourse.Course, error)
}

// LessonStore interface for chapter and lesson queries.
type LessonStore interface {
	ListChapters(ctx context.Context, courseID string) ([]domainCourse.Chapter, error)
	ListLessons(ctx context.Context, courseID string) ([]domainCourse.Lesson, error)
	CountLessons(ctx context.Context, courseID string) (int, error)
}

// PurchaseStore interface for ownership queries.
type PurchaseStore interface {
	HasAccess(ctx context.Context, userID, courseID string) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]domainPurchase.Purchase, error)
}

// SubscriptionStore interface for drip subscription queries.
type SubscriptionStore interface {
	GetByUserAndCourse(ctx context.Context, userID, courseID string) (domainDrip.Subscription, error)
	ListByCourse(ctx context.Context, courseID, status string) ([]domainDrip.Subscription, error)
	CountByStatus(ctx context.Context, courseID string) (map[string]int, error)
}

// ProgressStore interface for completion queries.
type ProgressStore interface {
	CompletedLessonIDs(ctx context.Context, userID, courseID string) (map[string]bool, error)
	CountCompletedByCourse(ctx context.Context, userID string) (map[string]int, error)
}

// AccountStore interface for account lookups.
type AccountStore interface {
	List(ctx context.Context, filter account.ListFilter) ([]domainAccount.Account, error)
}
