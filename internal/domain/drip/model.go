package drip

import (
	"errors"
	"time"
)

// Subscription status constants. A subscription only ever leaves active.
const (
	StatusActive       = "active"
	StatusConverted    = "converted"
	StatusCompleted    = "completed"
	StatusUnsubscribed = "unsubscribed"
)

// Statuses lists every subscription status.
var Statuses = []string{StatusActive, StatusConverted, StatusCompleted, StatusUnsubscribed}

// NeverUnlocks is returned by DaysUntilUnlock for lessons an unsubscribed member will never receive.
const NeverUnlocks = -1

// Domain errors
var (
	ErrNotDripCourse       = errors.New("course is not a drip course")
	ErrAlreadySubscribed   = errors.New("already subscribed to this course")
	ErrAlreadyUnsubscribed = errors.New("unsubscribed from this course and cannot re-subscribe")
	ErrInvalidTransition   = errors.New("subscription is no longer active")
	ErrEmptyUserID         = errors.New("user ID cannot be empty")
	ErrEmptyCourseID       = errors.New("course ID cannot be empty")
	ErrEmptyToken          = errors.New("unsubscribe token cannot be empty")
	ErrSelfConversion      = errors.New("a drip course cannot convert into itself")
)

// Subscription is one member's enrolment in one drip course.
type Subscription struct {
	ID               string
	UserID           string
	CourseID         string
	SubscribedAt     time.Time
	EmailsSent       int
	Status           string
	StatusChangedAt  time.Time
	UnsubscribeToken string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ConversionTarget declares that buying TargetCourseID converts subscriptions to DripCourseID.
type ConversionTarget struct {
	DripCourseID   string
	TargetCourseID string
}

// Plan is the course-side input to unlock arithmetic.
type Plan struct {
	IntervalDays int
	TotalLessons int
}

// Validate checks if the Subscription has valid data.
// PRE: Subscription struct is populated
// POST: Returns nil if valid, error otherwise
func (s *Subscription) Validate() error {
	if s.UserID == "" {
		return ErrEmptyUserID
	}
	if s.CourseID == "" {
		return ErrEmptyCourseID
	}
	if s.UnsubscribeToken == "" {
		return ErrEmptyToken
	}
	if s.EmailsSent < 0 {
		return errors.New("emails sent cannot be negative")
	}
	switch s.Status {
	case StatusActive, StatusConverted, StatusCompleted, StatusUnsubscribed:
	default:
		return errors.New("status must be one of: active, converted, completed, unsubscribed")
	}
	return nil
}

// Validate checks the conversion target pair.
func (c ConversionTarget) Validate() error {
	if c.DripCourseID == "" || c.TargetCourseID == "" {
		return ErrEmptyCourseID
	}
	if c.DripCourseID == c.TargetCourseID {
		return ErrSelfConversion
	}
	return nil
}

// DaysElapsed returns whole 24-hour periods between since and now, never negative.
func DaysElapsed(since, now time.Time) int {
	if !now.After(since) {
		return 0
	}
	return int(now.Sub(since) / (24 * time.Hour))
}

// IsActive reports whether the subscription still receives lessons.
// INVARIANT: Subscription fields are not mutated
func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

// HasFullAccess reports whether every lesson is open regardless of elapsed time.
// INVARIANT: Subscription fields are not mutated
func (s *Subscription) HasFullAccess() bool {
	return s.Status == StatusConverted || s.Status == StatusCompleted
}

// UnlockedCount returns how many lessons the elapsed time entitles the subscriber to.
// PRE: plan.TotalLessons >= 0
// POST: 0 <= result <= plan.TotalLessons; result >= 1 when the course has lessons
// INVARIANT: monotonic non-decreasing in now
func (s *Subscription) UnlockedCount(plan Plan, now time.Time) int {
	if plan.IntervalDays <= 0 {
		return plan.TotalLessons
	}
	unlocked := DaysElapsed(s.SubscribedAt, now)/plan.IntervalDays + 1
	if unlocked > plan.TotalLessons {
		return plan.TotalLessons
	}
	return unlocked
}

// IsUnlocked reports whether the lesson at rank sortOrder is visible to the subscriber.
// Unsubscribed members keep exactly what they had been sent.
// INVARIANT: Subscription fields are not mutated
func (s *Subscription) IsUnlocked(sortOrder int, plan Plan, now time.Time) bool {
	switch s.Status {
	case StatusConverted, StatusCompleted:
		return true
	case StatusUnsubscribed:
		return sortOrder < s.EmailsSent
	default:
		return sortOrder < s.UnlockedCount(plan, now)
	}
}

// DaysUntilUnlock returns the days remaining before the lesson opens,
// 0 when already open and NeverUnlocks after unsubscribing.
// INVARIANT: Subscription fields are not mutated
func (s *Subscription) DaysUntilUnlock(sortOrder int, plan Plan, now time.Time) int {
	if s.IsUnlocked(sortOrder, plan, now) {
		return 0
	}
	if s.Status == StatusUnsubscribed {
		return NeverUnlocks
	}
	remaining := sortOrder*plan.IntervalDays - DaysElapsed(s.SubscribedAt, now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Pending returns the half-open range [from, to) of lesson ranks still owed to an active subscriber.
// POST: from == to when nothing is owed
func (s *Subscription) Pending(plan Plan, now time.Time) (from, to int) {
	from = s.EmailsSent
	to = s.UnlockedCount(plan, now)
	if to < from {
		to = from
	}
	return from, to
}

// RecordSent advances EmailsSent by n, capped at the course's lesson count, and
// completes the subscription once every lesson has gone out. A course without
// lessons never completes; lessons added later are still dripped.
// PRE: subscription is active, n >= 0
// POST: EmailsSent <= plan.TotalLessons
func (s *Subscription) RecordSent(n int, plan Plan, now time.Time) error {
	if !s.IsActive() {
		return ErrInvalidTransition
	}
	s.EmailsSent = min(s.EmailsSent+n, plan.TotalLessons)
	if plan.TotalLessons > 0 && s.EmailsSent >= plan.TotalLessons {
		s.transition(StatusCompleted, now)
	}
	s.UpdatedAt = now
	return nil
}

// Convert grants full access after a qualifying purchase.
// PRE: subscription is active
// POST: Status is converted, StatusChangedAt is now
func (s *Subscription) Convert(now time.Time) error {
	if !s.IsActive() {
		return ErrInvalidTransition
	}
	s.transition(StatusConverted, now)
	return nil
}

// Unsubscribe freezes the subscriber's view at the lessons already sent.
// PRE: subscription is active
// POST: Status is unsubscribed, StatusChangedAt is now
func (s *Subscription) Unsubscribe(now time.Time) error {
	if !s.IsActive() {
		return ErrInvalidTransition
	}
	s.transition(StatusUnsubscribed, now)
	return nil
}

func (s *Subscription) transition(status string, now time.Time) {
	s.Status = status
	s.StatusChangedAt = now
	s.UpdatedAt = now
}
