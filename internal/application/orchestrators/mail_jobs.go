package orchestrators

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	emailAdapter "academy/internal/adapters/email"
	accountStore "academy/internal/adapters/storage/account"
	courseStore "academy/internal/adapters/storage/course"
	dripStore "academy/internal/adapters/storage/drip"
	purchaseStore "academy/internal/adapters/storage/purchase"
	accountDomain "academy/internal/domain/account"
	courseDomain "academy/internal/domain/course"
	dripDomain "academy/internal/domain/drip"
	outboxDomain "academy/internal/domain/outbox"
	purchaseDomain "academy/internal/domain/purchase"
	verificationDomain "academy/internal/domain/verification"
)

// BatchChunkSize is the most recipients one queued batch job carries.
const BatchChunkSize = 50

// DripLessonPayload queues one lesson notice.
type DripLessonPayload struct {
	SubscriptionID string `json:"subscription_id"`
	LessonID       string `json:"lesson_id"`
}

// CourseGiftPayload grants a course to members and tells them about it.
type CourseGiftPayload struct {
	CourseID  string   `json:"course_id"`
	MemberIDs []string `json:"member_ids"`
}

// BatchEmailPayload is one chunk of an admin broadcast.
type BatchEmailPayload struct {
	Subject   string   `json:"subject"`
	Body      string   `json:"body"` // Markdown
	MemberIDs []string `json:"member_ids"`
}

// VerificationCodePayload mails a one-time code.
type VerificationCodePayload struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// MailDeps holds dependencies shared by the mail job executors.
type MailDeps struct {
	Sender        emailAdapter.Sender
	Renderer      *emailAdapter.Renderer
	BaseURL       string // public site URL without trailing slash
	ReplyTo       string
	Accounts      accountStore.Store
	Courses       courseStore.Store
	Lessons       courseStore.LessonStore
	Subscriptions dripStore.Store
	Purchases     purchaseStore.Store
	GenerateID    func() string
	Now           func() time.Time
}

// MailExecutors returns the executor for every mail action type.
func MailExecutors(deps MailDeps) map[string]ActionExecutor {
	return map[string]ActionExecutor{
		outboxDomain.ActionTypeDripLesson: jsonExecutor(func(ctx context.Context, p DripLessonPayload) (string, error) {
			return ExecuteDripLessonMail(ctx, p, deps)
		}),
		outboxDomain.ActionTypeCourseGift: jsonExecutor(func(ctx context.Context, p CourseGiftPayload) (string, error) {
			return ExecuteCourseGift(ctx, p, deps)
		}),
		outboxDomain.ActionTypeBatchEmail: jsonExecutor(func(ctx context.Context, p BatchEmailPayload) (string, error) {
			return ExecuteBatchEmail(ctx, p, deps)
		}),
		outboxDomain.ActionTypeVerificationCode: jsonExecutor(func(ctx context.Context, p VerificationCodePayload) (string, error) {
			return ExecuteVerificationCodeMail(ctx, p, deps)
		}),
	}
}

func jsonExecutor[T any](fn func(ctx context.Context, payload T) (string, error)) ActionExecutor {
	return ActionExecutorFunc(func(ctx context.Context, raw string) (string, error) {
		var payload T
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return "", fmt.Errorf("unmarshal payload: %w", err)
		}
		return fn(ctx, payload)
	})
}

// --- Drip lesson ---

// ExecuteDripLessonMail sends one lesson notice to a subscriber.
// Missing rows and opted-out subscribers are logged and skipped without error
// so the queue does not retry them.
// PRE: payload names a subscription and a lesson
// POST: Mail handed to the sender, or skipped with a log entry
func ExecuteDripLessonMail(ctx context.Context, payload DripLessonPayload, deps MailDeps) (string, error) {
	sub, err := deps.Subscriptions.GetByID(ctx, payload.SubscriptionID)
	if err != nil {
		return skipIfMissing(err, "drip_lesson_subscription_missing", "subscription_id", payload.SubscriptionID)
	}
	if sub.Status == dripDomain.StatusUnsubscribed || sub.Status == dripDomain.StatusConverted {
		slog.Info("drip_event", "event", "lesson_mail_skipped", "subscription_id", sub.ID, "status", sub.Status)
		return "", nil
	}
	lesson, err := deps.Lessons.GetLesson(ctx, payload.LessonID)
	if err != nil {
		return skipIfMissing(err, "drip_lesson_lesson_missing", "lesson_id", payload.LessonID)
	}
	user, err := deps.Accounts.GetByID(ctx, sub.UserID)
	if err != nil {
		return skipIfMissing(err, "drip_lesson_user_missing", "user_id", sub.UserID)
	}
	c, err := deps.Courses.GetByID(ctx, lesson.CourseID)
	if err != nil {
		return skipIfMissing(err, "drip_lesson_course_missing", "course_id", lesson.CourseID)
	}
	total, err := deps.Lessons.CountLessons(ctx, c.ID)
	if err != nil {
		return "", err
	}

	unsubscribeURL := deps.BaseURL + "/drip/unsubscribe/" + sub.UnsubscribeToken
	msg, err := deps.Renderer.DripLesson(emailAdapter.DripLesson{
		CourseName:     c.Name,
		LessonTitle:    lesson.Title,
		LessonNumber:   lesson.SortOrder + 1,
		TotalLessons:   total,
		BodyMarkdown:   lesson.Body,
		HasVideo:       lesson.HasVideo(),
		ClassroomURL:   fmt.Sprintf("%s/member/classroom/%s?lesson_id=%s", deps.BaseURL, c.ID, lesson.ID),
		UnsubscribeURL: unsubscribeURL,
	})
	if err != nil {
		return "", err
	}
	res, err := deps.Sender.Send(ctx, emailAdapter.SendRequest{
		To:      []string{user.Email},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		ReplyTo: deps.ReplyTo,
		Headers: map[string]string{"List-Unsubscribe": "<" + unsubscribeURL + ">"},
	})
	if err != nil {
		return "", fmt.Errorf("send drip lesson %s: %w", lesson.ID, err)
	}
	slog.Info("drip_event", "event", "lesson_mail_sent", "subscription_id", sub.ID, "lesson_id", lesson.ID, "course_id", c.ID)
	return res.MessageID, nil
}

func skipIfMissing(err error, event, key, id string) (string, error) {
	if errors.Is(err, sql.ErrNoRows) {
		slog.Warn(event, key, id)
		return "", nil
	}
	return "", err
}

// --- Gift ---

// ExecuteCourseGift creates a gift purchase for every listed member that does
// not own the course yet and mails them. Per-member failures are logged and the
// batch continues.
// PRE: payload.CourseID names a course
// POST: Each eligible member owns the course
func ExecuteCourseGift(ctx context.Context, payload CourseGiftPayload, deps MailDeps) (string, error) {
	c, err := deps.Courses.GetByID(ctx, payload.CourseID)
	if err != nil {
		return skipIfMissing(err, "gift_course_missing", "course_id", payload.CourseID)
	}
	members, err := deps.Accounts.List(ctx, accountStore.ListFilter{Role: accountDomain.RoleMember, IDs: payload.MemberIDs})
	if err != nil {
		return "", err
	}

	var gifted int
	for _, m := range members {
		if err := giftOne(ctx, c, m, deps); err != nil {
			slog.Error("gift_course_member_failed", "member_id", m.ID, "course_id", c.ID, "error", err)
			continue
		}
		gifted++
	}
	slog.Info("gift_event", "event", "course_gifted", "course_id", c.ID, "requested", len(payload.MemberIDs), "gifted", gifted)
	return "", nil
}

func giftOne(ctx context.Context, c courseDomain.Course, m accountDomain.Account, deps MailDeps) error {
	p := purchaseDomain.Purchase{
		ID:         deps.GenerateID(),
		UserID:     m.ID,
		CourseID:   c.ID,
		BuyerEmail: m.Email,
		Currency:   courseDomain.DefaultCurrency,
		Type:       purchaseDomain.TypeGift,
		Status:     purchaseDomain.StatusPaid,
		CreatedAt:  deps.Now(),
	}
	if err := deps.Purchases.Create(ctx, p); err != nil {
		if errors.Is(err, purchaseStore.ErrDuplicate) {
			slog.Info("gift_event", "event", "gift_skipped_owned", "member_id", m.ID, "course_id", c.ID)
			return nil
		}
		return err
	}
	if m.Email == "" {
		return nil
	}
	msg, err := deps.Renderer.CourseGift(emailAdapter.CourseGift{
		CourseName:          c.Name,
		DescriptionMarkdown: c.Description,
		ClassroomURL:        deps.BaseURL + "/member/classroom/" + c.ID,
	})
	if err != nil {
		return err
	}
	_, err = deps.Sender.Send(ctx, emailAdapter.SendRequest{To: []string{m.Email}, Subject: msg.Subject, HTML: msg.HTML, ReplyTo: deps.ReplyTo})
	return err
}

// --- Batch email ---

// ExecuteBatchEmail mails one chunk of a broadcast to the members that have an
// address. It fails only when every send failed, so a retry cannot resend to
// members who already received it.
// PRE: len(payload.MemberIDs) <= BatchChunkSize
// POST: Each reachable member was mailed once, or the error is returned for retry
func ExecuteBatchEmail(ctx context.Context, payload BatchEmailPayload, deps MailDeps) (string, error) {
	members, err := deps.Accounts.List(ctx, accountStore.ListFilter{Role: accountDomain.RoleMember, IDs: payload.MemberIDs})
	if err != nil {
		return "", err
	}
	msg, err := deps.Renderer.Batch(emailAdapter.Batch{Subject: payload.Subject, BodyMarkdown: payload.Body})
	if err != nil {
		return "", err
	}

	var sent, failed int
	var lastErr error
	for _, m := range members {
		if strings.TrimSpace(m.Email) == "" {
			continue
		}
		if _, err := deps.Sender.Send(ctx, emailAdapter.SendRequest{To: []string{m.Email}, Subject: msg.Subject, HTML: msg.HTML, ReplyTo: deps.ReplyTo}); err != nil {
			slog.Error("batch_email_member_failed", "member_id", m.ID, "error", err)
			failed++
			lastErr = err
			continue
		}
		sent++
	}
	slog.Info("batch_email_event", "event", "chunk_sent", "sent", sent, "failed", failed)
	if sent == 0 && failed > 0 {
		return "", fmt.Errorf("batch email: all %d sends failed: %w", failed, lastErr)
	}
	return "", nil
}

// QueueBatchEmailInput carries an admin broadcast request.
type QueueBatchEmailInput struct {
	Subject   string
	Body      string
	MemberIDs []string
}

// ExecuteQueueBatchEmail splits the recipients into chunks and queues one job per chunk.
// PRE: Subject and Body are non-empty, MemberIDs non-empty
// POST: ceil(len(MemberIDs)/BatchChunkSize) batch jobs are pending; returns that count
func ExecuteQueueBatchEmail(ctx context.Context, input QueueBatchEmailInput, queue Enqueuer) (int, error) {
	if strings.TrimSpace(input.Subject) == "" || strings.TrimSpace(input.Body) == "" {
		return 0, errors.New("subject and body are required")
	}
	if len(input.MemberIDs) == 0 {
		return 0, errors.New("at least one member is required")
	}
	var jobs int
	for start := 0; start < len(input.MemberIDs); start += BatchChunkSize {
		end := min(start+BatchChunkSize, len(input.MemberIDs))
		payload := BatchEmailPayload{Subject: input.Subject, Body: input.Body, MemberIDs: input.MemberIDs[start:end]}
		if _, err := queue.Enqueue(ctx, outboxDomain.ActionTypeBatchEmail, payload); err != nil {
			return jobs, err
		}
		jobs++
	}
	return jobs, nil
}

// --- Verification code ---

// ExecuteVerificationCodeMail mails a one-time code.
// POST: Mail handed to the sender
func ExecuteVerificationCodeMail(ctx context.Context, payload VerificationCodePayload, deps MailDeps) (string, error) {
	msg, err := deps.Renderer.VerificationCode(emailAdapter.VerificationCode{
		Code:         payload.Code,
		ValidMinutes: int(verificationDomain.TTL / time.Minute),
	})
	if err != nil {
		return "", err
	}
	res, err := deps.Sender.Send(ctx, emailAdapter.SendRequest{To: []string{payload.Email}, Subject: msg.Subject, HTML: msg.HTML, ReplyTo: deps.ReplyTo})
	if err != nil {
		return "", fmt.Errorf("send verification code: %w", err)
	}
	return res.MessageID, nil
}
