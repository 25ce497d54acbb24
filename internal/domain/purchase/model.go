package purchase

import (
	"errors"
	"time"
)

// Purchase type constants.
const (
	TypePaid           = "paid"
	TypeSystemAssigned = "system_assigned"
	TypeGift           = "gift"
)

// Purchase status constants.
const (
	StatusPaid     = "paid"
	StatusRefunded = "refunded"
)

// Domain errors
var (
	ErrEmptyUserID     = errors.New("user ID cannot be empty")
	ErrEmptyCourseID   = errors.New("course ID cannot be empty")
	ErrInvalidType     = errors.New("type must be one of: paid, system_assigned, gift")
	ErrInvalidStatus   = errors.New("status must be one of: paid, refunded")
	ErrNegativeAmount  = errors.New("amount cannot be negative")
	ErrAlreadyRefunded = errors.New("purchase is already refunded")
)

// Purchase records that a user owns a course.
// Only Status changes after creation.
type Purchase struct {
	ID                string
	UserID            string
	CourseID          string
	PortalyOrderID    string // empty for non-webhook purchases
	BuyerEmail        string
	Amount            int64
	Currency          string
	CouponCode        string
	DiscountAmount    int64
	Type              string
	Status            string
	WebhookReceivedAt time.Time
	CreatedAt         time.Time
}

// Validate checks if the Purchase has valid data.
// PRE: Purchase struct is populated
// POST: Returns nil if valid, error otherwise
func (p *Purchase) Validate() error {
	if p.UserID == "" {
		return ErrEmptyUserID
	}
	if p.CourseID == "" {
		return ErrEmptyCourseID
	}
	if p.Amount < 0 || p.DiscountAmount < 0 {
		return ErrNegativeAmount
	}
	switch p.Type {
	case TypePaid, TypeSystemAssigned, TypeGift:
	default:
		return ErrInvalidType
	}
	switch p.Status {
	case StatusPaid, StatusRefunded:
	default:
		return ErrInvalidStatus
	}
	return nil
}

// GrantsAccess returns true while the purchase opens the classroom.
// INVARIANT: Purchase fields are not mutated
func (p *Purchase) GrantsAccess() bool {
	return p.Status == StatusPaid
}

// Refund flips the purchase to refunded.
// PRE: Status is paid
// POST: Status is refunded
func (p *Purchase) Refund() error {
	if p.Status == StatusRefunded {
		return ErrAlreadyRefunded
	}
	p.Status = StatusRefunded
	return nil
}
