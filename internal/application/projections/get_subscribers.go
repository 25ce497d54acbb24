package projections

import (
	"context"
	"time"

	"academy/internal/adapters/storage/account"
	domainDrip "academy/internal/domain/drip"
)

// GetSubscribersQuery carries query parameters.
type GetSubscribersQuery struct {
	CourseID string
	Status   string // empty lists every status
	Now      time.Time
}

// Subscriber is one row of the admin subscriber list.
type Subscriber struct {
	SubscriptionID  string
	UserID          string
	Email           string
	Name            string
	Status          string
	EmailsSent      int
	UnlockedCount   int
	SubscribedAt    time.Time
	StatusChangedAt time.Time
}

// GetSubscribersResult carries the list and per-status counts of the whole course.
type GetSubscribersResult struct {
	Subscribers  []Subscriber
	StatusCounts map[string]int
	Total        int
}

// GetSubscribersDeps holds dependencies for GetSubscribers.
type GetSubscribersDeps struct {
	CourseStore       CourseStore
	LessonStore       LessonStore
	SubscriptionStore SubscriptionStore
	AccountStore      AccountStore
}

// QueryGetSubscribers lists a drip course's subscribers for the back office.
// PRE: Valid course ID
// POST: StatusCounts covers every status, including zero counts
func QueryGetSubscribers(ctx context.Context, query GetSubscribersQuery, deps GetSubscribersDeps) (GetSubscribersResult, error) {
	c, err := deps.CourseStore.GetByID(ctx, query.CourseID)
	if err != nil {
		return GetSubscribersResult{}, err
	}
	total, err := deps.LessonStore.CountLessons(ctx, c.ID)
	if err != nil {
		return GetSubscribersResult{}, err
	}
	plan := domainDrip.Plan{IntervalDays: c.DripIntervalDays, TotalLessons: total}

	counts, err := deps.SubscriptionStore.CountByStatus(ctx, c.ID)
	if err != nil {
		return GetSubscribersResult{}, err
	}
	result := GetSubscribersResult{StatusCounts: make(map[string]int)}
	for _, s := range domainDrip.Statuses {
		result.StatusCounts[s] = counts[s]
		result.Total += counts[s]
	}

	subs, err := deps.SubscriptionStore.ListByCourse(ctx, c.ID, query.Status)
	if err != nil {
		return GetSubscribersResult{}, err
	}
	if len(subs) == 0 {
		return result, nil
	}
	ids := make([]string, 0, len(subs))
	for _, s := range subs {
		ids = append(ids, s.UserID)
	}
	accounts, err := deps.AccountStore.List(ctx, account.ListFilter{IDs: ids})
	if err != nil {
		return GetSubscribersResult{}, err
	}
	byID := make(map[string]int, len(accounts))
	for i, a := range accounts {
		byID[a.ID] = i
	}

	for _, s := range subs {
		row := Subscriber{
			SubscriptionID:  s.ID,
			UserID:          s.UserID,
			Status:          s.Status,
			EmailsSent:      s.EmailsSent,
			SubscribedAt:    s.SubscribedAt,
			StatusChangedAt: s.StatusChangedAt,
		}
		switch {
		case s.HasFullAccess():
			row.UnlockedCount = total
		case s.IsActive():
			row.UnlockedCount = s.UnlockedCount(plan, query.Now)
		default:
			row.UnlockedCount = min(s.EmailsSent, total)
		}
		if i, ok := byID[s.UserID]; ok {
			row.Email = accounts[i].Email
			row.Name = accounts[i].DisplayName()
		}
		result.Subscribers = append(result.Subscribers, row)
	}
	return result, nil
}
