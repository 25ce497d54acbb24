package drip

import (
	"context"
	"errors"

	domain "academy/internal/domain/drip"
	outboxDomain "academy/internal/domain/outbox"
)

// ErrDuplicate is returned when the user already has a subscription to the course.
var ErrDuplicate = errors.New("subscription already exists")

// Store persists drip subscriptions and conversion targets.
type Store interface {
	GetByID(ctx context.Context, id string) (domain.Subscription, error)
	GetByToken(ctx context.Context, token string) (domain.Subscription, error)
	GetByUserAndCourse(ctx context.Context, userID, courseID string) (domain.Subscription, error)
	// Create inserts a subscription, returning ErrDuplicate for a second (user, course) row.
	Create(ctx context.Context, value domain.Subscription) error

	// ListSweepable returns active subscriptions whose course is a published, live drip course.
	ListSweepable(ctx context.Context) ([]domain.Subscription, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Subscription, error)
	// ListByCourse returns the course's subscriptions, optionally limited to one status.
	ListByCourse(ctx context.Context, courseID, status string) ([]domain.Subscription, error)
	CountByStatus(ctx context.Context, courseID string) (map[string]int, error)
	// ListConvertible returns the user's active subscriptions to drip courses
	// that declare targetCourseID as a conversion target.
	ListConvertible(ctx context.Context, userID, targetCourseID string) ([]domain.Subscription, error)

	// Advance stores the new emails_sent and status of an active subscription
	// and enqueues entries, all in one transaction. It returns storage.ErrConflict
	// when the row no longer matches prevEmailsSent or is no longer active.
	Advance(ctx context.Context, value domain.Subscription, prevEmailsSent int, entries []outboxDomain.Entry) error
	// Transition stores a status change guarded on the row still holding fromStatus.
	Transition(ctx context.Context, value domain.Subscription, fromStatus string) error

	ListTargets(ctx context.Context, dripCourseID string) ([]string, error)
	// ReplaceTargets makes targetIDs the complete target set of the drip course.
	ReplaceTargets(ctx context.Context, dripCourseID string, targetIDs []string) error
}
