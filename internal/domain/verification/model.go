package verification

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"
)

// Issuance policy.
const (
	CodeLength  = 6
	TTL         = 10 * time.Minute
	ResendAfter = 60 * time.Second
	MaxAttempts = 5
	LockFor     = 15 * time.Minute
)

// Domain errors
var (
	ErrNoCode      = errors.New("no verification code on file")
	ErrLocked      = errors.New("too many attempts, try again later")
	ErrRateLimited = errors.New("a code was sent recently, wait before requesting another")
	ErrExpired     = errors.New("verification code has expired, request a new one")
	ErrMismatch    = errors.New("verification code is incorrect")
	ErrEmptyEmail  = errors.New("email cannot be empty")
)

// WaitError reports a rejection that clears after Wait.
type WaitError struct {
	Reason error
	Wait   time.Duration
}

// Error implements error.
func (e *WaitError) Error() string {
	return fmt.Sprintf("%s (retry in %s)", e.Reason, e.Wait.Round(time.Second))
}

// Unwrap exposes the sentinel reason to errors.Is.
func (e *WaitError) Unwrap() error { return e.Reason }

// MismatchError reports a wrong code with the attempts left before lockout.
type MismatchError struct {
	Remaining int
}

// Error implements error.
func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s (%d attempts remaining)", ErrMismatch, e.Remaining)
}

// Unwrap exposes ErrMismatch to errors.Is.
func (e *MismatchError) Unwrap() error { return ErrMismatch }

// Code is a one-time login code issued to an email address.
type Code struct {
	ID          string
	Email       string
	Code        string
	Attempts    int
	LockedUntil time.Time
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// NormalizeEmail trims and lowercases an address so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// New issues a fresh code for email.
// PRE: email is non-empty
// POST: Code has zero attempts and expires TTL after now
func New(email, code string, now time.Time) Code {
	return Code{
		Email:     NormalizeEmail(email),
		Code:      code,
		ExpiresAt: now.Add(TTL),
		CreatedAt: now,
	}
}

// IsLocked returns true while the lockout window is open.
// INVARIANT: Code fields are not mutated
func (c *Code) IsLocked(now time.Time) bool {
	return !c.LockedUntil.IsZero() && now.Before(c.LockedUntil)
}

// IsExpired returns true once the code can no longer be redeemed.
// INVARIANT: Code fields are not mutated
func (c *Code) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// CheckReissue decides whether a new code may replace this one.
// Lockout is checked before the resend window so a locked address cannot reset itself.
// POST: Returns nil, or a *WaitError wrapping ErrLocked or ErrRateLimited
func (c *Code) CheckReissue(now time.Time) error {
	if c.IsLocked(now) {
		return &WaitError{Reason: ErrLocked, Wait: c.LockedUntil.Sub(now)}
	}
	if c.IsExpired(now) {
		return nil
	}
	if since := now.Sub(c.CreatedAt); since < ResendAfter {
		return &WaitError{Reason: ErrRateLimited, Wait: ResendAfter - since}
	}
	return nil
}

// Verify checks a submitted code, counting mismatches toward lockout.
// PRE: c is the most recent code for the address
// POST: On mismatch Attempts is incremented and LockedUntil is set at MaxAttempts
func (c *Code) Verify(submitted string, now time.Time) error {
	if c.IsLocked(now) {
		return &WaitError{Reason: ErrLocked, Wait: c.LockedUntil.Sub(now)}
	}
	if c.IsExpired(now) {
		return ErrExpired
	}
	if subtle.ConstantTimeCompare([]byte(c.Code), []byte(strings.TrimSpace(submitted))) == 1 {
		return nil
	}
	c.Attempts++
	if c.Attempts >= MaxAttempts {
		c.LockedUntil = now.Add(LockFor)
		return &WaitError{Reason: ErrLocked, Wait: LockFor}
	}
	return &MismatchError{Remaining: MaxAttempts - c.Attempts}
}

// GenerateCode draws a uniformly random zero-padded numeric code.
// PRE: r is a cryptographic source; nil means crypto/rand
// POST: Returns exactly CodeLength digits
func GenerateCode(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	n, err := rand.Int(r, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}
