package projections

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	domainAccount "academy/internal/domain/account"
	domainCourse "academy/internal/domain/course"
	domainDrip "academy/internal/domain/drip"
	domainPurchase "academy/internal/domain/purchase"
)

// TestQueryGetMemberDetail tests owned-course progress and the staff filter.
func TestQueryGetMemberDetail(t *testing.T) {
	m := dripFixture()
	m.courses = append(m.courses, domainCourse.Course{ID: "std", Name: "Std", CourseType: domainCourse.TypeStandard})
	m.lessons = append(m.lessons, domainCourse.Lesson{ID: "s0", CourseID: "std"}, domainCourse.Lesson{ID: "s1", CourseID: "std"})
	m.accounts = []domainAccount.Account{
		{ID: "u", Email: "ann@example.com", Nickname: "Ann", Role: domainAccount.RoleMember, LastLoginIP: "1.2.3.4"},
		{ID: "boss", Email: "boss@example.com", Role: domainAccount.RoleAdmin},
	}
	m.purchases = []domainPurchase.Purchase{
		{UserID: "u", CourseID: "std", Status: domainPurchase.StatusPaid, CreatedAt: testNow},
		{UserID: "u", CourseID: "drip", Status: domainPurchase.StatusRefunded, CreatedAt: testNow},
	}
	m.subs = []domainDrip.Subscription{{UserID: "u", CourseID: "drip", Status: domainDrip.StatusActive}}
	m.completed["u/s1"] = true
	deps := GetMemberDetailDeps{
		AccountStore: mockAccounts{m}, CourseStore: m, LessonStore: m, PurchaseStore: m, ProgressStore: m,
	}

	got, err := QueryGetMemberDetail(context.Background(), "u", deps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Email != "ann@example.com" || got.LastLoginIP != "1.2.3.4" {
		t.Errorf("unexpected member %+v", got)
	}
	if len(got.Courses) != 1 {
		t.Fatalf("expected only the paid course, got %+v", got.Courses)
	}
	if c := got.Courses[0]; c.CourseID != "std" || c.CompletedLessons != 1 || c.TotalLessons != 2 || c.ProgressPercent != 50 {
		t.Errorf("unexpected course %+v", c)
	}

	for _, id := range []string{"boss", "missing"} {
		if _, err := QueryGetMemberDetail(context.Background(), id, deps); !errors.Is(err, sql.ErrNoRows) {
			t.Errorf("%s: expected sql.ErrNoRows, got %v", id, err)
		}
	}
}
