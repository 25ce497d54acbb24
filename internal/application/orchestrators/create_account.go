package orchestrators

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	accountStore "academy/internal/adapters/storage/account"
	"academy/internal/domain/account"
)

// ErrEmailAlreadyExists is returned when creating an account for a taken email.
var ErrEmailAlreadyExists = errors.New("an account with this email already exists")

// CreateAccountInput carries input for staff account creation.
type CreateAccountInput struct {
	Email    string
	Password string
	Nickname string
	Role     string
}

// CreateAccountDeps holds dependencies for CreateAccount and ResolveMember.
type CreateAccountDeps struct {
	AccountStore accountStore.Store
	GenerateID   func() string
	Now          func() time.Time
}

// ExecuteCreateAccount creates an account with a password (admin and editor seeding).
// PRE: Valid email, password >= MinPasswordLength, valid role
// POST: Account created with hashed password
// INVARIANT: Email must be unique
func ExecuteCreateAccount(ctx context.Context, input CreateAccountInput, deps CreateAccountDeps) (account.Account, error) {
	acct := account.Account{
		ID:        deps.GenerateID(),
		Email:     account.NormalizeEmail(input.Email),
		Nickname:  input.Nickname,
		Role:      input.Role,
		CreatedAt: deps.Now(),
	}
	if err := acct.Validate(); err != nil {
		return account.Account{}, err
	}
	if err := acct.SetPassword(input.Password); err != nil {
		return account.Account{}, err
	}
	if err := deps.AccountStore.Create(ctx, acct); err != nil {
		if errors.Is(err, accountStore.ErrDuplicate) {
			return account.Account{}, ErrEmailAlreadyExists
		}
		return account.Account{}, err
	}
	slog.Info("auth_event", "event", "account_created", "account_id", acct.ID, "role", acct.Role)
	return acct, nil
}

// ExecuteSeedAdmin creates the first admin when the account table is empty.
// PRE: Database is migrated
// POST: Admin account created if count == 0
func ExecuteSeedAdmin(ctx context.Context, deps CreateAccountDeps, email, password string) error {
	count, err := deps.AccountStore.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if _, err := ExecuteCreateAccount(ctx, CreateAccountInput{Email: email, Password: password, Role: account.RoleAdmin}, deps); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	slog.Info("auth_event", "event", "admin_seeded", "email", account.NormalizeEmail(email))
	return nil
}

// MemberProfile is what an external source knows about a buyer or guest.
type MemberProfile struct {
	Email    string
	RealName string
	Phone    string
}

// ExecuteResolveMember returns the account for an email, creating a password-less
// member when none exists. Blank profile fields of an existing account are filled in.
// PRE: profile.Email is a valid address
// POST: Exactly one account exists for the normalized email; created reports whether it is new
func ExecuteResolveMember(ctx context.Context, profile MemberProfile, deps CreateAccountDeps) (acct account.Account, created bool, err error) {
	email := account.NormalizeEmail(profile.Email)
	acct, err = deps.AccountStore.GetByEmail(ctx, email)
	if err == nil {
		changed := false
		if acct.RealName == "" && profile.RealName != "" {
			acct.RealName, changed = profile.RealName, true
		}
		if acct.Phone == "" && profile.Phone != "" {
			acct.Phone, changed = profile.Phone, true
		}
		if changed {
			if err := deps.AccountStore.Save(ctx, acct); err != nil {
				return account.Account{}, false, err
			}
		}
		return acct, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return account.Account{}, false, err
	}

	acct = account.Account{
		ID:        deps.GenerateID(),
		Email:     email,
		RealName:  profile.RealName,
		Phone:     profile.Phone,
		Role:      account.RoleMember,
		CreatedAt: deps.Now(),
	}
	if err := acct.Validate(); err != nil {
		return account.Account{}, false, err
	}
	if err := deps.AccountStore.Create(ctx, acct); err != nil {
		if errors.Is(err, accountStore.ErrDuplicate) {
			// Another request created it first.
			acct, err = deps.AccountStore.GetByEmail(ctx, email)
			return acct, false, err
		}
		return account.Account{}, false, fmt.Errorf("create member: %w", err)
	}
	slog.Info("auth_event", "event", "member_created", "account_id", acct.ID)
	return acct, true, nil
}
