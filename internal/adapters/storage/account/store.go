package account

import (
	"context"
	"errors"

	domain "academy/internal/domain/account"
)

// ErrDuplicate is returned when the email is already registered.
var ErrDuplicate = errors.New("email already registered")

// Store persists Account state.
type Store interface {
	GetByID(ctx context.Context, id string) (domain.Account, error)
	GetByEmail(ctx context.Context, email string) (domain.Account, error)
	// Create inserts a new account, returning ErrDuplicate if the email is taken.
	Create(ctx context.Context, value domain.Account) error
	Save(ctx context.Context, value domain.Account) error
	List(ctx context.Context, filter ListFilter) ([]domain.Account, error)
	// CountMatching counts the accounts List would return without Limit and Offset.
	CountMatching(ctx context.Context, filter ListFilter) (int, error)
	Count(ctx context.Context) (int, error)
}

// ListFilter carries filtering parameters for List operations.
type ListFilter struct {
	Limit  int
	Offset int
	Role   string
	IDs    []string
	Search string // substring of email, nickname or real name
	// CourseID keeps accounts holding a paid-status purchase of the course.
	CourseID string
}
