package orchestrators

import (
	"context"
	"errors"
	"log/slog"
	"time"

	accountStore "academy/internal/adapters/storage/account"
	"academy/internal/domain/account"
)

// Login errors.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountLocked      = errors.New("account is locked due to too many failed attempts")
)

// LoginInput carries input for the login orchestrator.
type LoginInput struct {
	Email    string
	Password string
	IP       string
}

// LoginResult carries the result of a successful login.
type LoginResult struct {
	AccountID string
	Email     string
	Role      string
}

// LoginDeps holds dependencies for Login.
type LoginDeps struct {
	AccountStore accountStore.Store
	Now          func() time.Time
}

// ExecuteLogin validates a password and returns account info for session creation.
// PRE: Valid email and password provided
// POST: Returns account info on success, records failed login on failure
// INVARIANT: Account must not be locked
func ExecuteLogin(ctx context.Context, input LoginInput, deps LoginDeps) (LoginResult, error) {
	email := account.NormalizeEmail(input.Email)
	if email == "" || input.Password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}

	acct, err := deps.AccountStore.GetByEmail(ctx, email)
	if err != nil {
		slog.Info("auth_event", "event", "login_failed", "reason", "not_found")
		return LoginResult{}, ErrInvalidCredentials
	}

	now := deps.Now()
	if acct.IsLocked(now) {
		slog.Info("auth_event", "event", "login_blocked", "account_id", acct.ID, "reason", "locked")
		return LoginResult{}, ErrAccountLocked
	}

	if err := acct.CheckPassword(input.Password); err != nil {
		acct.RecordFailedLogin(now)
		_ = deps.AccountStore.Save(ctx, acct)
		slog.Info("auth_event", "event", "login_failed", "account_id", acct.ID, "reason", "wrong_password", "failed_logins", acct.FailedLogins)
		return LoginResult{}, ErrInvalidCredentials
	}

	return recordLogin(ctx, acct, input.IP, now, deps.AccountStore, "password"), nil
}

func recordLogin(ctx context.Context, acct account.Account, ip string, now time.Time, store accountStore.Store, method string) LoginResult {
	acct.RecordLogin(ip, now)
	if err := store.Save(ctx, acct); err != nil {
		slog.Error("auth_login_stamp_failed", "account_id", acct.ID, "error", err)
	}
	slog.Info("auth_event", "event", "login_success", "account_id", acct.ID, "role", acct.Role, "method", method)
	return LoginResult{AccountID: acct.ID, Email: acct.Email, Role: acct.Role}
}
