package orchestrators

import (
	"errors"
	"fmt"
	"testing"

	courseDomain "academy/internal/domain/course"
	outboxDomain "academy/internal/domain/outbox"
	purchaseDomain "academy/internal/domain/purchase"
)

// TestCourseGift_SkipsOwnersAndStaff tests the gift job.
// POST: Members without the course get a gift purchase and a mail; owners and staff are skipped
func TestCourseGift_SkipsOwnersAndStaff(t *testing.T) {
	h := newHarness(t)
	c := h.course(courseDomain.TypeStandard, 0, 1)
	fresh := h.member("fresh@example.com")
	owner := h.member("owner@example.com")
	staff := h.member("staff@example.com")
	if _, err := h.db.Exec(`UPDATE account SET role = 'editor' WHERE id = ?`, staff.ID); err != nil {
		t.Fatalf("promote: %v", err)
	}
	if err := h.purchases.Create(h.ctx(), purchaseDomain.Purchase{
		ID: "p-own", UserID: owner.ID, CourseID: c.ID, Currency: "TWD",
		Type: purchaseDomain.TypePaid, Status: purchaseDomain.StatusPaid, CreatedAt: startTime,
	}); err != nil {
		t.Fatalf("seed purchase: %v", err)
	}

	if err := ExecuteQueueCourseGift(h.ctx(), c.ID, []string{fresh.ID, owner.ID, staff.ID}, h.adminDeps(), h.queue); err != nil {
		t.Fatalf("queue gift: %v", err)
	}
	h.drain()

	p, err := h.purchases.GetByUserAndCourse(h.ctx(), fresh.ID, c.ID)
	if err != nil || p.Type != purchaseDomain.TypeGift || p.Amount != 0 {
		t.Fatalf("expected gift purchase, got %+v, %v", p, err)
	}
	if _, err := h.purchases.GetByUserAndCourse(h.ctx(), staff.ID, c.ID); err == nil {
		t.Error("expected staff skipped")
	}
	sent := h.sender.Sent()
	if len(sent) != 1 || sent[0].To[0] != "fresh@example.com" {
		t.Errorf("expected one gift mail to fresh@example.com, got %+v", sent)
	}
}

// TestQueueBatchEmail_Chunks tests recipient chunking.
func TestQueueBatchEmail_Chunks(t *testing.T) {
	h := newHarness(t)
	var ids []string
	for i := range BatchChunkSize + 1 {
		ids = append(ids, h.member(fmt.Sprintf("m%02d@example.com", i)).ID)
	}

	jobs, err := ExecuteQueueBatchEmail(h.ctx(), QueueBatchEmailInput{Subject: "News", Body: "**Hello**", MemberIDs: ids}, h.queue)
	if err != nil || jobs != 2 {
		t.Fatalf("expected 2 jobs, got %d, %v", jobs, err)
	}
	if _, err := ExecuteQueueBatchEmail(h.ctx(), QueueBatchEmailInput{Subject: "", Body: "x", MemberIDs: ids}, h.queue); err == nil {
		t.Error("expected validation error for empty subject")
	}

	h.drain()
	sent := h.sender.Sent()
	if len(sent) != BatchChunkSize+1 {
		t.Fatalf("expected %d mails, got %d", BatchChunkSize+1, len(sent))
	}
	if sent[0].Subject != "News" {
		t.Errorf("unexpected subject %q", sent[0].Subject)
	}
}

// TestBatchEmail_FailsOnlyWhenAllFail tests the retry contract of a chunk.
func TestBatchEmail_FailsOnlyWhenAllFail(t *testing.T) {
	h := newHarness(t)
	m := h.member("solo@example.com")
	h.sender.FailWith(errors.New("quota"))
	_, err := h.dispatcher.DispatchNow(h.ctx(), outboxDomain.ActionTypeBatchEmail,
		BatchEmailPayload{Subject: "s", Body: "b", MemberIDs: []string{m.ID}})
	if err == nil {
		t.Error("expected error when every send failed")
	}
}

// TestDripLessonMail_SkipsMissingRows tests that stale jobs do not retry.
func TestDripLessonMail_SkipsMissingRows(t *testing.T) {
	h := newHarness(t)
	_, err := h.dispatcher.DispatchNow(h.ctx(), outboxDomain.ActionTypeDripLesson,
		DripLessonPayload{SubscriptionID: "gone", LessonID: "gone"})
	if err != nil {
		t.Errorf("expected skip without error, got %v", err)
	}
	if len(h.sender.Sent()) != 0 {
		t.Error("expected no mail")
	}
}
