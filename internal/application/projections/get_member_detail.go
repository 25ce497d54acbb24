package projections

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	domainAccount "academy/internal/domain/account"
)

// MemberDetail is the back-office view of one member.
type MemberDetail struct {
	ID          string
	Email       string
	Nickname    string
	RealName    string
	Phone       string
	CreatedAt   time.Time
	LastLoginAt time.Time
	LastLoginIP string
	Courses     []LearningCourse
}

// AccountLookup loads a single account.
type AccountLookup interface {
	GetByID(ctx context.Context, id string) (domainAccount.Account, error)
}

// GetMemberDetailDeps holds dependencies for GetMemberDetail.
type GetMemberDetailDeps struct {
	AccountStore  AccountLookup
	CourseStore   CourseStore
	LessonStore   LessonStore
	PurchaseStore PurchaseStore
	ProgressStore ProgressStore
}

// QueryGetMemberDetail returns a member with progress on every course they own.
// Staff accounts are reported as not found.
// POST: Courses lists purchases granting access; drip subscriptions are not included
func QueryGetMemberDetail(ctx context.Context, memberID string, deps GetMemberDetailDeps) (MemberDetail, error) {
	acct, err := deps.AccountStore.GetByID(ctx, memberID)
	if err != nil {
		return MemberDetail{}, err
	}
	if acct.Role != domainAccount.RoleMember {
		return MemberDetail{}, fmt.Errorf("member %s: %w", memberID, sql.ErrNoRows)
	}
	courses, err := QueryGetMyLearning(ctx, acct.ID, GetMyLearningDeps{
		CourseStore:   deps.CourseStore,
		LessonStore:   deps.LessonStore,
		PurchaseStore: deps.PurchaseStore,
		ProgressStore: deps.ProgressStore,
	})
	if err != nil {
		return MemberDetail{}, err
	}
	return MemberDetail{
		ID:          acct.ID,
		Email:       acct.Email,
		Nickname:    acct.Nickname,
		RealName:    acct.RealName,
		Phone:       acct.Phone,
		CreatedAt:   acct.CreatedAt,
		LastLoginAt: acct.LastLoginAt,
		LastLoginIP: acct.LastLoginIP,
		Courses:     courses,
	}, nil
}
