package projections

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"academy/internal/adapters/storage/account"
	"academy/internal/adapters/storage/course"
	domainAccount "academy/internal/domain/account"
	domainCourse "academy/internal/domain/course"
	domainDrip "academy/internal/domain/drip"
	domainPurchase "academy/internal/domain/purchase"
)

var testNow = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

// mockCatalog backs every projection store interface with in-memory slices.
type mockCatalog struct {
	courses   []domainCourse.Course
	chapters  []domainCourse.Chapter
	lessons   []domainCourse.Lesson
	purchases []domainPurchase.Purchase
	subs      []domainDrip.Subscription
	completed map[string]bool // userID + "/" + lessonID
	accounts  []domainAccount.Account
}

// GetByID returns the seeded course or a wrapped sql.ErrNoRows.
func (m *mockCatalog) GetByID(_ context.Context, id string) (domainCourse.Course, error) {
	for _, c := range m.courses {
		if c.ID == id {
			return c, nil
		}
	}
	return domainCourse.Course{}, fmt.Errorf("course not found: %w", sql.ErrNoRows)
}

// List returns listed courses when requested, else the live ones.
func (m *mockCatalog) List(_ context.Context, f course.ListFilter) ([]domainCourse.Course, error) {
	var out []domainCourse.Course
	for _, c := range m.courses {
		if f.ListedOnly && !c.IsListed() {
			continue
		}
		if !f.IncludeDeleted && c.IsDeleted() {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *mockCatalog) ListChapters(_ context.Context, courseID string) ([]domainCourse.Chapter, error) {
	var out []domainCourse.Chapter
	for _, ch := range m.chapters {
		if ch.CourseID == courseID {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (m *mockCatalog) ListLessons(_ context.Context, courseID string) ([]domainCourse.Lesson, error) {
	var out []domainCourse.Lesson
	for _, l := range m.lessons {
		if l.CourseID == courseID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockCatalog) CountLessons(ctx context.Context, courseID string) (int, error) {
	ls, _ := m.ListLessons(ctx, courseID)
	return len(ls), nil
}

func (m *mockCatalog) HasAccess(_ context.Context, userID, courseID string) (bool, error) {
	for _, p := range m.purchases {
		if p.UserID == userID && p.CourseID == courseID && p.GrantsAccess() {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockCatalog) ListByUser(_ context.Context, userID string) ([]domainPurchase.Purchase, error) {
	var out []domainPurchase.Purchase
	for _, p := range m.purchases {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockCatalog) GetByUserAndCourse(_ context.Context, userID, courseID string) (domainDrip.Subscription, error) {
	for _, s := range m.subs {
		if s.UserID == userID && s.CourseID == courseID {
			return s, nil
		}
	}
	return domainDrip.Subscription{}, fmt.Errorf("subscription not found: %w", sql.ErrNoRows)
}

func (m *mockCatalog) ListByCourse(_ context.Context, courseID, status string) ([]domainDrip.Subscription, error) {
	var out []domainDrip.Subscription
	for _, s := range m.subs {
		if s.CourseID == courseID && (status == "" || s.Status == status) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockCatalog) CountByStatus(_ context.Context, courseID string) (map[string]int, error) {
	counts := make(map[string]int)
	for _, s := range m.subs {
		if s.CourseID == courseID {
			counts[s.Status]++
		}
	}
	return counts, nil
}

func (m *mockCatalog) CompletedLessonIDs(_ context.Context, userID, courseID string) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, l := range m.lessons {
		if l.CourseID == courseID && m.completed[userID+"/"+l.ID] {
			out[l.ID] = true
		}
	}
	return out, nil
}

func (m *mockCatalog) CountCompletedByCourse(_ context.Context, userID string) (map[string]int, error) {
	out := make(map[string]int)
	for _, l := range m.lessons {
		if m.completed[userID+"/"+l.ID] {
			out[l.CourseID]++
		}
	}
	return out, nil
}

// mockAccounts adapts the mock to AccountStore, whose List clashes with CourseStore.List.
type mockAccounts struct{ m *mockCatalog }

func (a mockAccounts) List(_ context.Context, f account.ListFilter) ([]domainAccount.Account, error) {
	var out []domainAccount.Account
	for _, acct := range a.m.accounts {
		for _, id := range f.IDs {
			if acct.ID == id {
				out = append(out, acct)
			}
		}
	}
	return out, nil
}

func (a mockAccounts) GetByID(_ context.Context, id string) (domainAccount.Account, error) {
	for _, acct := range a.m.accounts {
		if acct.ID == id {
			return acct, nil
		}
	}
	return domainAccount.Account{}, fmt.Errorf("account not found: %w", sql.ErrNoRows)
}

func (a mockAccounts) CountMatching(_ context.Context, f account.ListFilter) (int, error) {
	n := 0
	for _, acct := range a.m.accounts {
		if f.Role == "" || acct.Role == f.Role {
			n++
		}
	}
	return n, nil
}

func (m *mockCatalog) CountSales(context.Context) (int, error) {
	n := 0
	for _, p := range m.purchases {
		if p.Type != domainPurchase.TypeSystemAssigned {
			n++
		}
	}
	return n, nil
}

// mockSubs adapts the mock to SubscriptionListStore, whose ListByUser clashes with PurchaseStore.ListByUser.
type mockSubs struct{ m *mockCatalog }

func (s mockSubs) ListByUser(_ context.Context, userID string) ([]domainDrip.Subscription, error) {
	var out []domainDrip.Subscription
	for _, sub := range s.m.subs {
		if sub.UserID == userID {
			out = append(out, sub)
		}
	}
	return out, nil
}

// dripFixture is one selling drip course (3-day interval) with a chapter and three lessons.
func dripFixture() *mockCatalog {
	return &mockCatalog{
		courses: []domainCourse.Course{{
			ID: "drip", Name: "Drip", IsPublished: true, Status: domainCourse.StatusSelling,
			CourseType: domainCourse.TypeDrip, DripIntervalDays: 3,
		}},
		chapters: []domainCourse.Chapter{{ID: "ch1", CourseID: "drip", Title: "Week 1"}},
		lessons: []domainCourse.Lesson{
			{ID: "l0", CourseID: "drip", ChapterID: "ch1", Title: "One", Body: "first", VideoPlatform: "vimeo", VideoID: "1", PromoDelaySeconds: -1, SortOrder: 0},
			{ID: "l1", CourseID: "drip", ChapterID: "ch1", Title: "Two", Body: "second", VideoPlatform: "vimeo", VideoID: "2", PromoDelaySeconds: -1, SortOrder: 1},
			{ID: "l2", CourseID: "drip", Title: "Three", Body: "third", PromoDelaySeconds: 30, PromoHTML: "<b>buy</b>", SortOrder: 2},
		},
		completed: make(map[string]bool),
	}
}

func wrapParagraph(s string) (string, error) { return "<p>" + s + "</p>", nil }
