package orchestrators

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	accountStore "academy/internal/adapters/storage/account"
	courseStore "academy/internal/adapters/storage/course"
	dripStore "academy/internal/adapters/storage/drip"
	verificationStore "academy/internal/adapters/storage/verification"
	accountDomain "academy/internal/domain/account"
	dripDomain "academy/internal/domain/drip"
	outboxDomain "academy/internal/domain/outbox"
	verificationDomain "academy/internal/domain/verification"
)

// ErrTermsRequired is returned when a first-time member logs in without accepting the terms.
var ErrTermsRequired = errors.New("please accept the terms of service and privacy policy")

// VerificationDeps holds dependencies for the verification service.
type VerificationDeps struct {
	Codes         verificationStore.Store
	Accounts      accountStore.Store
	Courses       courseStore.Store
	Subscriptions dripStore.Store
	Drip          DripEnroller
	Dispatcher    SyncDispatcher
	Rand          io.Reader // nil means crypto/rand
	GenerateID    func() string
	Now           func() time.Time
}

// VerificationService issues and redeems one-time email codes, and drives
// the code-based member login and guest drip subscription flows.
type VerificationService struct {
	deps VerificationDeps
}

// NewVerificationService creates a verification service.
func NewVerificationService(deps VerificationDeps) *VerificationService {
	return &VerificationService{deps: deps}
}

// Generate issues a new code for email.
// PRE: email is non-empty
// POST: On success a fresh code is stored; a locked or rate-limited address gets a *WaitError
func (s *VerificationService) Generate(ctx context.Context, email string) (verificationDomain.Code, error) {
	email = verificationDomain.NormalizeEmail(email)
	if email == "" {
		return verificationDomain.Code{}, verificationDomain.ErrEmptyEmail
	}
	now := s.deps.Now()

	last, err := s.deps.Codes.Latest(ctx, email)
	switch {
	case err == nil:
		if err := last.CheckReissue(now); err != nil {
			slog.Info("verification_event", "event", "issue_refused", "reason", errors.Unwrap(err))
			return verificationDomain.Code{}, err
		}
	case !errors.Is(err, sql.ErrNoRows):
		return verificationDomain.Code{}, err
	}

	digits, err := verificationDomain.GenerateCode(s.deps.Rand)
	if err != nil {
		return verificationDomain.Code{}, err
	}
	code := verificationDomain.New(email, digits, now)
	code.ID = s.deps.GenerateID()
	if err := s.deps.Codes.Save(ctx, code); err != nil {
		return verificationDomain.Code{}, fmt.Errorf("save verification code: %w", err)
	}
	slog.Info("verification_event", "event", "code_issued", "code_id", code.ID)
	return code, nil
}

// Validate redeems a code.
// POST: On success every code for the email is deleted; on mismatch the attempt is counted
func (s *VerificationService) Validate(ctx context.Context, email, submitted string) error {
	email = verificationDomain.NormalizeEmail(email)
	code, err := s.deps.Codes.Latest(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return verificationDomain.ErrNoCode
		}
		return err
	}

	verifyErr := code.Verify(submitted, s.deps.Now())
	if verifyErr == nil {
		if err := s.deps.Codes.DeleteByEmail(ctx, email); err != nil {
			return fmt.Errorf("delete used codes: %w", err)
		}
		slog.Info("verification_event", "event", "code_redeemed", "code_id", code.ID)
		return nil
	}

	var mismatch *verificationDomain.MismatchError
	if errors.As(verifyErr, &mismatch) || (errors.Is(verifyErr, verificationDomain.ErrLocked) && code.Attempts >= verificationDomain.MaxAttempts) {
		if err := s.deps.Codes.Save(ctx, code); err != nil {
			return fmt.Errorf("record failed attempt: %w", err)
		}
	}
	slog.Info("verification_event", "event", "code_rejected", "code_id", code.ID, "attempts", code.Attempts, "error", verifyErr.Error())
	return verifyErr
}

// SendCode issues a code and mails it before returning.
// POST: The code is stored even if the mail fails; the send error is returned
func (s *VerificationService) SendCode(ctx context.Context, email string) error {
	code, err := s.Generate(ctx, email)
	if err != nil {
		return err
	}
	if _, err := s.deps.Dispatcher.DispatchNow(ctx, outboxDomain.ActionTypeVerificationCode,
		VerificationCodePayload{Email: code.Email, Code: code.Code}); err != nil {
		slog.Error("verification_mail_failed", "code_id", code.ID, "error", err)
		return fmt.Errorf("send verification code: %w", err)
	}
	return nil
}

// CodeLoginInput carries a member's code login.
type CodeLoginInput struct {
	Email      string
	Code       string
	IP         string
	AgreeTerms bool
}

// LoginWithCode redeems a code and logs the member in, creating the account on first login.
// PRE: A code was sent to Email
// POST: The account exists and its login is recorded
func (s *VerificationService) LoginWithCode(ctx context.Context, input CodeLoginInput) (LoginResult, error) {
	email := accountDomain.NormalizeEmail(input.Email)
	_, err := s.deps.Accounts.GetByEmail(ctx, email)
	isNew := errors.Is(err, sql.ErrNoRows)
	if err != nil && !isNew {
		return LoginResult{}, err
	}
	if isNew && !input.AgreeTerms {
		return LoginResult{}, ErrTermsRequired
	}
	if err := s.Validate(ctx, email, input.Code); err != nil {
		return LoginResult{}, err
	}

	acct, _, err := ExecuteResolveMember(ctx, MemberProfile{Email: email}, s.memberDeps())
	if err != nil {
		return LoginResult{}, err
	}
	return recordLogin(ctx, acct, input.IP, s.deps.Now(), s.deps.Accounts, "code"), nil
}

// RequestDripSubscription starts a guest subscription by mailing a code.
// PRE: courseID names a drip course
// POST: A code was mailed unless the email already has a subscription to the course
func (s *VerificationService) RequestDripSubscription(ctx context.Context, email, courseID string) error {
	c, err := s.deps.Courses.GetByID(ctx, courseID)
	if err != nil {
		return err
	}
	if !c.IsDrip() || c.IsDeleted() {
		return dripDomain.ErrNotDripCourse
	}

	acct, err := s.deps.Accounts.GetByEmail(ctx, accountDomain.NormalizeEmail(email))
	switch {
	case err == nil:
		existing, err := s.deps.Subscriptions.GetByUserAndCourse(ctx, acct.ID, courseID)
		switch {
		case err == nil && existing.Status == dripDomain.StatusUnsubscribed:
			return dripDomain.ErrAlreadyUnsubscribed
		case err == nil:
			return dripDomain.ErrAlreadySubscribed
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}
	return s.SendCode(ctx, email)
}

// DripVerifyInput carries the second step of a guest subscription.
type DripVerifyInput struct {
	Email    string
	CourseID string
	Code     string
	IP       string
}

// DripVerifyResult reports the logged-in member and the new subscription.
type DripVerifyResult struct {
	Login        LoginResult
	Subscription dripDomain.Subscription
	NewMember    bool
}

// VerifyDripSubscription redeems the code, logs the guest in (creating the
// member when needed) and subscribes them. A failed subscribe still leaves the
// member logged in; the error is returned alongside the login.
// POST: On nil error the member holds an active or completed subscription
func (s *VerificationService) VerifyDripSubscription(ctx context.Context, input DripVerifyInput) (DripVerifyResult, error) {
	if err := s.Validate(ctx, input.Email, input.Code); err != nil {
		return DripVerifyResult{}, err
	}
	acct, created, err := ExecuteResolveMember(ctx, MemberProfile{Email: input.Email}, s.memberDeps())
	if err != nil {
		return DripVerifyResult{}, err
	}
	result := DripVerifyResult{
		Login:     recordLogin(ctx, acct, input.IP, s.deps.Now(), s.deps.Accounts, "drip_code"),
		NewMember: created,
	}
	result.Subscription, err = s.deps.Drip.Subscribe(ctx, acct.ID, input.CourseID)
	return result, err
}

// ExecuteCleanupVerificationCodes removes expired, unlocked codes.
// POST: Returns the number of rows removed
func ExecuteCleanupVerificationCodes(ctx context.Context, codes verificationStore.Store, now time.Time) (int, error) {
	n, err := codes.DeleteExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("cleanup verification codes: %w", err)
	}
	if n > 0 {
		slog.Info("verification_event", "event", "expired_codes_removed", "count", n)
	}
	return n, nil
}

func (s *VerificationService) memberDeps() CreateAccountDeps {
	return CreateAccountDeps{AccountStore: s.deps.Accounts, GenerateID: s.deps.GenerateID, Now: s.deps.Now}
}
