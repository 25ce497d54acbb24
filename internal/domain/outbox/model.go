package outbox

import (
	"errors"
	"time"
)

// Status constants for outbox entry lifecycle.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusRetrying  = "retrying"
	StatusDone      = "done"
	StatusFailed    = "failed"
	StatusAbandoned = "abandoned"
)

// Action type constants, one per queued job kind.
const (
	ActionTypeDripLesson       = "drip_lesson"
	ActionTypeCourseGift       = "course_gift"
	ActionTypeBatchEmail       = "batch_email"
	ActionTypeVerificationCode = "verification_code"
)

// Domain errors.
var (
	ErrEmptyActionType = errors.New("action type is required")
	ErrEmptyPayload    = errors.New("payload is required")
	ErrInvalidStatus   = errors.New("invalid status transition")
	ErrWorkerLost      = errors.New("worker did not report back")
)

// Policy bounds how often and how patiently an action type is retried.
type Policy struct {
	MaxAttempts int
	Backoff     []time.Duration // delay after the nth failure; the last value repeats
}

// DefaultPolicy applies to action types without their own entry.
var DefaultPolicy = Policy{MaxAttempts: 3, Backoff: []time.Duration{time.Minute}}

var policies = map[string]Policy{
	ActionTypeDripLesson: {MaxAttempts: 3, Backoff: []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}},
}

// PolicyFor returns the retry policy for an action type.
func PolicyFor(actionType string) Policy {
	if p, ok := policies[actionType]; ok {
		return p
	}
	return DefaultPolicy
}

// Delay returns the wait after the given number of failed attempts.
// PRE: attempts >= 1
func (p Policy) Delay(attempts int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	i := attempts - 1
	if i < 0 {
		i = 0
	}
	if i >= len(p.Backoff) {
		i = len(p.Backoff) - 1
	}
	return p.Backoff[i]
}

// Entry is one queued job, persisted so a restart does not lose it.
type Entry struct {
	ID              string
	ActionType      string
	Payload         string // JSON payload for replay
	Status          string
	Attempts        int
	MaxAttempts     int
	NextAttemptAt   time.Time
	LastAttemptedAt time.Time
	CreatedAt       time.Time
	ExternalID      string // provider message id once delivered
	ErrorMessage    string
}

// NewEntry builds a pending entry using the action type's policy.
// POST: Entry is due immediately
func NewEntry(id, actionType, payload string, now time.Time) Entry {
	return Entry{
		ID:            id,
		ActionType:    actionType,
		Payload:       payload,
		Status:        StatusPending,
		MaxAttempts:   PolicyFor(actionType).MaxAttempts,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
}

// Validate checks that the Entry has valid data.
// PRE: Entry struct is populated
// POST: Returns nil if valid, error otherwise
func (e *Entry) Validate() error {
	if e.ActionType == "" {
		return ErrEmptyActionType
	}
	if e.Payload == "" {
		return ErrEmptyPayload
	}
	if e.CreatedAt.IsZero() {
		return errors.New("created_at must be set")
	}
	if e.MaxAttempts <= 0 {
		e.MaxAttempts = PolicyFor(e.ActionType).MaxAttempts
	}
	return nil
}

// CanRetry reports whether the attempt budget allows another run.
// INVARIANT: Entry fields are not mutated
func (e *Entry) CanRetry() bool {
	return e.Attempts < e.MaxAttempts
}

// IsDue returns true when a worker may pick the entry up.
// INVARIANT: Entry fields are not mutated
func (e *Entry) IsDue(now time.Time) bool {
	return (e.Status == StatusPending || e.Status == StatusRetrying) && !now.Before(e.NextAttemptAt)
}

// IsTerminal reports whether nothing can happen to the entry any more.
// Failed entries are not terminal: an admin may still requeue them.
func (e *Entry) IsTerminal() bool {
	return e.Status == StatusDone || e.Status == StatusAbandoned
}

// MarkAttempt records that a worker has started the entry.
// PRE: Entry is due
// POST: Attempts incremented, LastAttemptedAt updated, status set to running
func (e *Entry) MarkAttempt(now time.Time) {
	e.Attempts++
	e.LastAttemptedAt = now
	e.Status = StatusRunning
}

// MarkSuccess marks the entry as successfully completed.
// PRE: Action completed successfully
// POST: Status set to done
func (e *Entry) MarkSuccess(externalID string) {
	e.Status = StatusDone
	e.ExternalID = externalID
	e.ErrorMessage = ""
}

// MarkFailed records the error and either schedules the next attempt or gives up.
// PRE: Action failed
// POST: Status is retrying with NextAttemptAt set, or failed once attempts are exhausted
func (e *Entry) MarkFailed(err error, now time.Time) {
	e.ErrorMessage = err.Error()
	if !e.CanRetry() {
		e.Status = StatusFailed
		return
	}
	e.Status = StatusRetrying
	e.NextAttemptAt = now.Add(PolicyFor(e.ActionType).Delay(e.Attempts))
}

// Requeue makes a failed entry eligible again with a fresh attempt budget.
// PRE: Entry is failed
// POST: Status is pending and due now
func (e *Entry) Requeue(now time.Time) error {
	if e.Status != StatusFailed {
		return ErrInvalidStatus
	}
	e.Status = StatusPending
	e.MaxAttempts = e.Attempts + PolicyFor(e.ActionType).MaxAttempts
	e.NextAttemptAt = now
	return nil
}

// MarkAbandoned marks the entry as abandoned by admin.
// PRE: Admin explicitly abandons the entry
// POST: Status set to abandoned
func (e *Entry) MarkAbandoned() error {
	if e.IsTerminal() {
		return ErrInvalidStatus
	}
	e.Status = StatusAbandoned
	return nil
}
