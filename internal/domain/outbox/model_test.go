package outbox_test

import (
	"errors"
	"testing"
	"time"

	"academy/internal/domain/outbox"
)

var t0 = time.Date(2026, 2, 16, 9, 0, 0, 0, time.UTC)

// TestPolicyFor tests per-kind retry limits and backoff.
func TestPolicyFor(t *testing.T) {
	drip := outbox.PolicyFor(outbox.ActionTypeDripLesson)
	if drip.MaxAttempts != 3 {
		t.Errorf("drip MaxAttempts = %d, want 3", drip.MaxAttempts)
	}
	want := []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute, 15 * time.Minute}
	for i, w := range want {
		if got := drip.Delay(i + 1); got != w {
			t.Errorf("drip Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
	gift := outbox.PolicyFor(outbox.ActionTypeCourseGift)
	if gift.MaxAttempts != 3 || gift.Delay(2) != time.Minute {
		t.Errorf("gift policy = %+v", gift)
	}
}

// TestEntry_RetryLifecycle tests backoff scheduling then exhaustion.
// PRE: new drip lesson entry
// POST: retried twice with 60s and 300s gaps, then failed
func TestEntry_RetryLifecycle(t *testing.T) {
	e := outbox.NewEntry("e1", outbox.ActionTypeDripLesson, `{"subscription_id":"s"}`, t0)
	if !e.IsDue(t0) {
		t.Fatal("new entry should be due")
	}

	e.MarkAttempt(t0)
	e.MarkFailed(errors.New("smtp down"), t0)
	if e.Status != outbox.StatusRetrying || !e.NextAttemptAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("after 1st failure: %s next=%v", e.Status, e.NextAttemptAt)
	}
	if e.IsDue(t0.Add(59 * time.Second)) {
		t.Error("should wait out backoff")
	}

	at := t0.Add(time.Minute)
	e.MarkAttempt(at)
	e.MarkFailed(errors.New("smtp down"), at)
	if !e.NextAttemptAt.Equal(at.Add(5 * time.Minute)) {
		t.Fatalf("after 2nd failure next=%v", e.NextAttemptAt)
	}

	at = at.Add(5 * time.Minute)
	e.MarkAttempt(at)
	e.MarkFailed(errors.New("smtp down"), at)
	if e.Status != outbox.StatusFailed || e.CanRetry() || e.IsTerminal() {
		t.Fatalf("after 3rd failure: %s retry=%v terminal=%v", e.Status, e.CanRetry(), e.IsTerminal())
	}
	if e.IsDue(at.Add(time.Hour)) {
		t.Error("failed entry should never be due")
	}

	if err := e.Requeue(at); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	if !e.CanRetry() || !e.IsDue(at) {
		t.Error("requeued entry should be retryable and due")
	}
}

// TestEntry_MarkSuccess tests the done transition.
func TestEntry_MarkSuccess(t *testing.T) {
	e := outbox.NewEntry("e2", outbox.ActionTypeBatchEmail, `{}`, t0)
	e.MarkAttempt(t0)
	e.MarkSuccess("msg-1")
	if e.Status != outbox.StatusDone || e.ExternalID != "msg-1" || !e.IsTerminal() {
		t.Errorf("entry = %+v", e)
	}
	if err := e.MarkAbandoned(); !errors.Is(err, outbox.ErrInvalidStatus) {
		t.Errorf("abandon done = %v, want ErrInvalidStatus", err)
	}
}

// TestEntry_LostWorker tests failing a running entry whose worker vanished.
// POST: the lost run counts as an attempt; the last one fails the entry
func TestEntry_LostWorker(t *testing.T) {
	e := outbox.NewEntry("e3", outbox.ActionTypeCourseGift, `{}`, t0)
	e.MarkAttempt(t0)
	e.MarkFailed(outbox.ErrWorkerLost, t0.Add(time.Hour))
	if e.Status != outbox.StatusRetrying || !e.NextAttemptAt.Equal(t0.Add(time.Hour+time.Minute)) {
		t.Fatalf("after lost run: %s next=%v", e.Status, e.NextAttemptAt)
	}

	e.Attempts = e.MaxAttempts
	e.Status = outbox.StatusRunning
	e.MarkFailed(outbox.ErrWorkerLost, t0.Add(2*time.Hour))
	if e.Status != outbox.StatusFailed || e.ErrorMessage != outbox.ErrWorkerLost.Error() {
		t.Errorf("after lost last run: %s %q", e.Status, e.ErrorMessage)
	}
}

// TestEntry_AbandonTerminal tests that finished entries cannot be abandoned.
func TestEntry_AbandonTerminal(t *testing.T) {
	e := outbox.NewEntry("e4", outbox.ActionTypeBatchEmail, `{}`, t0)
	if err := e.MarkAbandoned(); err != nil || !e.IsTerminal() {
		t.Fatalf("abandon pending = %v terminal=%v", err, e.IsTerminal())
	}
	if err := e.MarkAbandoned(); !errors.Is(err, outbox.ErrInvalidStatus) {
		t.Errorf("abandon twice = %v, want ErrInvalidStatus", err)
	}
}

// TestEntry_Validate tests required fields.
func TestEntry_Validate(t *testing.T) {
	e := outbox.Entry{Payload: "{}", CreatedAt: t0}
	if err := e.Validate(); !errors.Is(err, outbox.ErrEmptyActionType) {
		t.Errorf("missing type = %v", err)
	}
	e = outbox.Entry{ActionType: outbox.ActionTypeCourseGift, CreatedAt: t0}
	if err := e.Validate(); !errors.Is(err, outbox.ErrEmptyPayload) {
		t.Errorf("missing payload = %v", err)
	}
	e = outbox.Entry{ActionType: outbox.ActionTypeCourseGift, Payload: "{}", CreatedAt: t0}
	if err := e.Validate(); err != nil || e.MaxAttempts != 3 {
		t.Errorf("defaulted entry = %v max=%d", err, e.MaxAttempts)
	}
}
