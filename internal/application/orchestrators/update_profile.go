package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	accountStore "academy/internal/adapters/storage/account"
	"academy/internal/domain/account"
)

// UpdateProfileInput carries the member-editable account fields.
type UpdateProfileInput struct {
	AccountID string
	Nickname  string
	RealName  string
	Phone     string
}

// ExecuteUpdateProfile replaces a member's display details.
// PRE: AccountID names an existing account
// POST: Nickname, RealName and Phone hold the trimmed input; nothing else changes
func ExecuteUpdateProfile(ctx context.Context, input UpdateProfileInput, accounts accountStore.Store) error {
	acct, err := accounts.GetByID(ctx, input.AccountID)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	acct.Nickname = strings.TrimSpace(input.Nickname)
	acct.RealName = strings.TrimSpace(input.RealName)
	acct.Phone = strings.TrimSpace(input.Phone)
	if err := acct.Validate(); err != nil {
		return err
	}
	if err := accounts.Save(ctx, acct); err != nil {
		return err
	}
	slog.Info("auth_event", "event", "profile_updated", "account_id", acct.ID)
	return nil
}

// ErrNotMember is returned when a member-only back-office action targets a staff account.
var ErrNotMember = errors.New("only member accounts can be edited here")

// UpdateMemberInput carries the fields staff may edit on a member. An empty
// Email keeps the current address.
type UpdateMemberInput struct {
	MemberID string
	Email    string
	Nickname string
	RealName string
	Phone    string
}

// ExecuteUpdateMember applies a back-office edit to a member account.
// PRE: MemberID names an account with role member
// POST: Email is unique across accounts; role and credentials are unchanged
func ExecuteUpdateMember(ctx context.Context, input UpdateMemberInput, accounts accountStore.Store) (account.Account, error) {
	acct, err := accounts.GetByID(ctx, input.MemberID)
	if err != nil {
		return account.Account{}, err
	}
	if acct.Role != account.RoleMember {
		return account.Account{}, ErrNotMember
	}
	previous := acct.Email
	if email := account.NormalizeEmail(input.Email); email != "" {
		acct.Email = email
	}
	acct.Nickname = strings.TrimSpace(input.Nickname)
	acct.RealName = strings.TrimSpace(input.RealName)
	acct.Phone = strings.TrimSpace(input.Phone)
	if err := acct.Validate(); err != nil {
		return account.Account{}, err
	}
	if err := accounts.Save(ctx, acct); err != nil {
		if errors.Is(err, accountStore.ErrDuplicate) {
			return account.Account{}, ErrEmailAlreadyExists
		}
		return account.Account{}, err
	}
	slog.Info("auth_event", "event", "member_updated", "account_id", acct.ID, "email_changed", acct.Email != previous)
	return acct, nil
}
