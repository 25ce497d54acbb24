package orchestrators

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"academy/internal/adapters/storage"
	courseStore "academy/internal/adapters/storage/course"
	dripStore "academy/internal/adapters/storage/drip"
	courseDomain "academy/internal/domain/course"
	dripDomain "academy/internal/domain/drip"
	outboxDomain "academy/internal/domain/outbox"
)

// casAttempts bounds how often one subscription is re-read after losing a race.
const casAttempts = 3

// ErrFirstLessonDeferred wraps a failed first-lesson send. The subscription
// exists and the daily sweep delivers the lesson.
var ErrFirstLessonDeferred = errors.New("first lesson could not be sent, it will follow with the next daily send")

// SyncDispatcher runs a job inline. *Dispatcher satisfies it.
type SyncDispatcher interface {
	DispatchNow(ctx context.Context, actionType string, payload any) (string, error)
}

// DripEngineDeps holds dependencies for the drip engine.
type DripEngineDeps struct {
	Courses       courseStore.Store
	Lessons       courseStore.LessonStore
	Subscriptions dripStore.Store
	Dispatcher    SyncDispatcher
	GenerateID    func() string
	GenerateToken func() string
	Now           func() time.Time
}

// DripEngine owns subscription state: subscribing, the catch-up sweep,
// conversion on purchase and unsubscribing.
type DripEngine struct {
	deps DripEngineDeps
}

// NewUnsubscribeToken returns a random 64-character hex token for unsubscribe links.
func NewUnsubscribeToken() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// NewDripEngine creates a drip engine.
func NewDripEngine(deps DripEngineDeps) *DripEngine {
	return &DripEngine{deps: deps}
}

// loadPlan returns the course and its lessons in unlock order.
func (e *DripEngine) loadPlan(ctx context.Context, courseID string) (courseDomain.Course, []courseDomain.Lesson, dripDomain.Plan, error) {
	c, err := e.deps.Courses.GetByID(ctx, courseID)
	if err != nil {
		return courseDomain.Course{}, nil, dripDomain.Plan{}, err
	}
	lessons, err := e.deps.Lessons.ListLessons(ctx, courseID)
	if err != nil {
		return courseDomain.Course{}, nil, dripDomain.Plan{}, err
	}
	return c, lessons, dripDomain.Plan{IntervalDays: c.DripIntervalDays, TotalLessons: len(lessons)}, nil
}

// Subscribe enrols a user in a drip course and sends the first lesson before returning.
// PRE: userID names an existing account
// POST: On success a subscription exists with emails_sent = 1, completed only
// for a one-lesson course. An empty course leaves it active with emails_sent = 0.
// If the first mail fails the subscription stays active with emails_sent = 0 and
// the error is returned.
func (e *DripEngine) Subscribe(ctx context.Context, userID, courseID string) (dripDomain.Subscription, error) {
	c, lessons, plan, err := e.loadPlan(ctx, courseID)
	if err != nil {
		return dripDomain.Subscription{}, err
	}
	if c.IsDeleted() {
		return dripDomain.Subscription{}, courseDomain.ErrDeleted
	}
	if !c.IsDrip() {
		return dripDomain.Subscription{}, dripDomain.ErrNotDripCourse
	}

	existing, err := e.deps.Subscriptions.GetByUserAndCourse(ctx, userID, courseID)
	switch {
	case err == nil && existing.Status == dripDomain.StatusUnsubscribed:
		return existing, dripDomain.ErrAlreadyUnsubscribed
	case err == nil:
		return existing, dripDomain.ErrAlreadySubscribed
	case !errors.Is(err, sql.ErrNoRows):
		return dripDomain.Subscription{}, err
	}

	now := e.deps.Now()
	sub := dripDomain.Subscription{
		ID:               e.deps.GenerateID(),
		UserID:           userID,
		CourseID:         courseID,
		SubscribedAt:     now,
		Status:           dripDomain.StatusActive,
		UnsubscribeToken: e.deps.GenerateToken(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := sub.Validate(); err != nil {
		return dripDomain.Subscription{}, err
	}
	if err := e.deps.Subscriptions.Create(ctx, sub); err != nil {
		if errors.Is(err, dripStore.ErrDuplicate) {
			return dripDomain.Subscription{}, dripDomain.ErrAlreadySubscribed
		}
		return dripDomain.Subscription{}, err
	}
	slog.Info("drip_event", "event", "subscribed", "subscription_id", sub.ID, "user_id", userID, "course_id", courseID)

	if plan.TotalLessons == 0 {
		return sub, nil
	}

	// Claim the first lesson before sending so a concurrent sweep cannot queue it
	// too. The claim stays active; completion waits for a delivered mail.
	claimed := sub
	claimed.EmailsSent = 1
	claimed.UpdatedAt = now
	if err := e.deps.Subscriptions.Advance(ctx, claimed, 0, nil); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			slog.Warn("drip_first_lesson_claimed_elsewhere", "subscription_id", sub.ID)
			return e.deps.Subscriptions.GetByID(ctx, sub.ID)
		}
		return sub, err
	}

	_, sendErr := e.deps.Dispatcher.DispatchNow(ctx, outboxDomain.ActionTypeDripLesson,
		DripLessonPayload{SubscriptionID: sub.ID, LessonID: lessons[0].ID})
	if sendErr != nil {
		slog.Error("drip_first_lesson_failed", "subscription_id", sub.ID, "error", sendErr)
		rewound := sub
		rewound.UpdatedAt = e.deps.Now()
		if err := e.deps.Subscriptions.Advance(ctx, rewound, claimed.EmailsSent, nil); err != nil {
			slog.Error("drip_first_lesson_rewind_failed", "subscription_id", sub.ID, "error", err)
		}
		return sub, fmt.Errorf("%w: %w", ErrFirstLessonDeferred, sendErr)
	}

	done := claimed
	if err := done.RecordSent(0, plan, e.deps.Now()); err != nil {
		return claimed, err
	}
	if done.Status == claimed.Status {
		return claimed, nil
	}
	if err := e.deps.Subscriptions.Advance(ctx, done, claimed.EmailsSent, nil); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return e.deps.Subscriptions.GetByID(ctx, sub.ID)
		}
		return claimed, err
	}
	slog.Info("drip_event", "event", "completed", "subscription_id", sub.ID)
	return done, nil
}

// ProcessDailyEmails runs the catch-up step for every active subscription of
// a published drip course. One bad subscription never stops the sweep.
// POST: Returns the number of lesson mails newly queued
func (e *DripEngine) ProcessDailyEmails(ctx context.Context) (int, error) {
	subs, err := e.deps.Subscriptions.ListSweepable(ctx)
	if err != nil {
		return 0, fmt.Errorf("list drip subscriptions: %w", err)
	}

	var total, failed int
	for _, sub := range subs {
		n, err := e.ProcessSubscription(ctx, sub)
		if err != nil {
			failed++
			slog.Error("drip_process_subscription_failed", "subscription_id", sub.ID, "error", err)
			continue
		}
		total += n
	}
	slog.Info("drip_event", "event", "daily_sweep_complete", "subscriptions", len(subs), "queued", total, "failed", failed)
	return total, nil
}

// ProcessSubscription queues every lesson the subscriber is owed, oldest first,
// and records the new emails_sent in the same transaction. Losing a race to
// another writer re-reads the row and tries again.
// POST: emails_sent == min(unlockedCount, total) for an active subscription; returns mails queued
func (e *DripEngine) ProcessSubscription(ctx context.Context, sub dripDomain.Subscription) (int, error) {
	for attempt := 1; ; attempt++ {
		queued, err := e.catchUp(ctx, sub)
		if !errors.Is(err, storage.ErrConflict) {
			return queued, err
		}
		if attempt == casAttempts {
			return 0, fmt.Errorf("subscription %s kept changing: %w", sub.ID, err)
		}
		sub, err = e.deps.Subscriptions.GetByID(ctx, sub.ID)
		if err != nil {
			return 0, err
		}
		if !sub.IsActive() {
			return 0, nil
		}
	}
}

func (e *DripEngine) catchUp(ctx context.Context, sub dripDomain.Subscription) (int, error) {
	c, lessons, plan, err := e.loadPlan(ctx, sub.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			slog.Warn("drip_course_missing", "subscription_id", sub.ID, "course_id", sub.CourseID)
			return 0, nil
		}
		return 0, err
	}
	if !c.IsDrip() || !sub.IsActive() {
		return 0, nil
	}

	now := e.deps.Now()
	from, to := sub.Pending(plan, now)
	if from >= to {
		return 0, nil
	}

	entries := make([]outboxDomain.Entry, 0, to-from)
	for rank := from; rank < to; rank++ {
		entry, err := NewOutboxEntry(e.deps.GenerateID(), outboxDomain.ActionTypeDripLesson,
			DripLessonPayload{SubscriptionID: sub.ID, LessonID: lessons[rank].ID}, now)
		if err != nil {
			return 0, err
		}
		// Ascending NextAttemptAt keeps lessons in rank order in the queue.
		entry.NextAttemptAt = now.Add(time.Duration(rank-from) * time.Millisecond)
		entries = append(entries, entry)
	}

	prev := sub.EmailsSent
	if err := sub.RecordSent(len(entries), plan, now); err != nil {
		return 0, err
	}
	if err := e.deps.Subscriptions.Advance(ctx, sub, prev, entries); err != nil {
		return 0, err
	}
	slog.Info("drip_event", "event", "lessons_queued", "subscription_id", sub.ID, "from", from, "to", to, "status", sub.Status)
	return len(entries), nil
}

// CheckAndConvert converts the user's active subscriptions to every drip
// course that declares purchasedCourseID as a conversion target.
// POST: Returns the number of subscriptions converted
func (e *DripEngine) CheckAndConvert(ctx context.Context, userID, purchasedCourseID string) (int, error) {
	subs, err := e.deps.Subscriptions.ListConvertible(ctx, userID, purchasedCourseID)
	if err != nil {
		return 0, err
	}
	now := e.deps.Now()
	var converted int
	for _, sub := range subs {
		if err := sub.Convert(now); err != nil {
			continue
		}
		if err := e.deps.Subscriptions.Transition(ctx, sub, dripDomain.StatusActive); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				continue
			}
			return converted, err
		}
		converted++
		slog.Info("drip_event", "event", "converted", "subscription_id", sub.ID, "user_id", userID, "target_course_id", purchasedCourseID)
	}
	return converted, nil
}

// UnsubscribeResult reports what an unsubscribe link did.
type UnsubscribeResult struct {
	Subscription        dripDomain.Subscription
	CourseName          string
	AlreadyUnsubscribed bool
}

// Unsubscribe freezes the subscription behind token. Repeat visits and
// subscriptions that already left active are returned unchanged.
// PRE: token is non-empty
// POST: An active subscription is unsubscribed exactly once; unknown token wraps sql.ErrNoRows
func (e *DripEngine) Unsubscribe(ctx context.Context, token string) (UnsubscribeResult, error) {
	if token == "" {
		return UnsubscribeResult{}, dripDomain.ErrEmptyToken
	}
	for attempt := 1; ; attempt++ {
		sub, err := e.deps.Subscriptions.GetByToken(ctx, token)
		if err != nil {
			return UnsubscribeResult{}, err
		}
		result := UnsubscribeResult{Subscription: sub, AlreadyUnsubscribed: sub.Status == dripDomain.StatusUnsubscribed}
		if c, err := e.deps.Courses.GetByID(ctx, sub.CourseID); err == nil {
			result.CourseName = c.Name
		}
		if !sub.IsActive() {
			return result, nil
		}
		if err := sub.Unsubscribe(e.deps.Now()); err != nil {
			return result, err
		}
		err = e.deps.Subscriptions.Transition(ctx, sub, dripDomain.StatusActive)
		if err == nil {
			result.Subscription = sub
			slog.Info("drip_event", "event", "unsubscribed", "subscription_id", sub.ID, "emails_sent", sub.EmailsSent)
			return result, nil
		}
		if !errors.Is(err, storage.ErrConflict) || attempt == casAttempts {
			return result, err
		}
	}
}

// LessonUnlock is the drip state of one lesson for one subscriber.
type LessonUnlock struct {
	LessonID     string
	Rank         int
	IsUnlocked   bool
	UnlockInDays int // 0 when unlocked, dripDomain.NeverUnlocks after unsubscribing
}

// SubscriptionView is a subscriber's per-lesson unlock map.
type SubscriptionView struct {
	Subscription dripDomain.Subscription
	Plan         dripDomain.Plan
	Lessons      map[string]LessonUnlock
}

// SubscriptionView computes the unlock map for the classroom.
// POST: Returns an error wrapping sql.ErrNoRows when the user has no subscription
func (e *DripEngine) SubscriptionView(ctx context.Context, userID, courseID string) (SubscriptionView, error) {
	sub, err := e.deps.Subscriptions.GetByUserAndCourse(ctx, userID, courseID)
	if err != nil {
		return SubscriptionView{}, err
	}
	_, lessons, plan, err := e.loadPlan(ctx, courseID)
	if err != nil {
		return SubscriptionView{}, err
	}
	return BuildSubscriptionView(sub, lessons, plan, e.deps.Now()), nil
}

// BuildSubscriptionView maps each lesson, by its position in course order, to its unlock state.
func BuildSubscriptionView(sub dripDomain.Subscription, lessons []courseDomain.Lesson, plan dripDomain.Plan, now time.Time) SubscriptionView {
	view := SubscriptionView{Subscription: sub, Plan: plan, Lessons: make(map[string]LessonUnlock, len(lessons))}
	for rank, l := range lessons {
		view.Lessons[l.ID] = LessonUnlock{
			LessonID:     l.ID,
			Rank:         rank,
			IsUnlocked:   sub.IsUnlocked(rank, plan, now),
			UnlockInDays: sub.DaysUntilUnlock(rank, plan, now),
		}
	}
	return view
}
