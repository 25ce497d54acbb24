package projections

import (
	"context"
	"testing"
	"time"

	domainAccount "academy/internal/domain/account"
	domainDrip "academy/internal/domain/drip"
)

// TestQueryGetSubscribers tests status filtering and per-status counts.
func TestQueryGetSubscribers(t *testing.T) {
	m := dripFixture()
	m.accounts = []domainAccount.Account{{ID: "a", Email: "a@example.com", Nickname: "Ace"}, {ID: "b", Email: "b@example.com"}}
	m.subs = []domainDrip.Subscription{
		{ID: "s1", UserID: "a", CourseID: "drip", Status: domainDrip.StatusActive, SubscribedAt: testNow.Add(-72 * time.Hour), EmailsSent: 2},
		{ID: "s2", UserID: "b", CourseID: "drip", Status: domainDrip.StatusUnsubscribed, EmailsSent: 1},
	}
	deps := GetSubscribersDeps{CourseStore: m, LessonStore: m, SubscriptionStore: m, AccountStore: mockAccounts{m}}

	res, err := QueryGetSubscribers(context.Background(), GetSubscribersQuery{CourseID: "drip", Status: domainDrip.StatusActive, Now: testNow}, deps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Subscribers) != 1 || res.Subscribers[0].Name != "Ace" || res.Subscribers[0].UnlockedCount != 2 {
		t.Errorf("unexpected rows %+v", res.Subscribers)
	}
	if res.Total != 2 || res.StatusCounts[domainDrip.StatusUnsubscribed] != 1 || res.StatusCounts[domainDrip.StatusConverted] != 0 {
		t.Errorf("unexpected counts %+v", res.StatusCounts)
	}
	if _, ok := res.StatusCounts[domainDrip.StatusCompleted]; !ok {
		t.Error("expected zero counts present")
	}
}
