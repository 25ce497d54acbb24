package purchase

import (
	"context"
	"errors"

	domain "academy/internal/domain/purchase"
)

// Uniqueness errors returned by Create.
var (
	ErrDuplicateOrder = errors.New("order already recorded")
	ErrDuplicate      = errors.New("user already owns this course")
)

// Store persists Purchase state. Rows are never deleted except system_assigned
// ones removed together with their course.
type Store interface {
	GetByID(ctx context.Context, id string) (domain.Purchase, error)
	GetByOrderID(ctx context.Context, orderID string) (domain.Purchase, error)
	GetByUserAndCourse(ctx context.Context, userID, courseID string) (domain.Purchase, error)
	// Create inserts a purchase, returning ErrDuplicateOrder or ErrDuplicate on conflict.
	Create(ctx context.Context, value domain.Purchase) error
	UpdateStatus(ctx context.Context, id, status string) error
	ListByUser(ctx context.Context, userID string) ([]domain.Purchase, error)
	ListByCourse(ctx context.Context, courseID string) ([]domain.Purchase, error)
	// HasAccess reports whether the user holds a non-refunded purchase of the course.
	HasAccess(ctx context.Context, userID, courseID string) (bool, error)
	// CountPaid counts webhook and gift purchases of the course, ignoring system_assigned.
	CountPaid(ctx context.Context, courseID string) (int, error)
	// CountSales counts webhook and gift purchases across all courses.
	CountSales(ctx context.Context) (int, error)
	DeleteSystemAssigned(ctx context.Context, courseID string) error
}
