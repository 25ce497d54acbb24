package projections

import (
	"context"
	"database/sql"
	"errors"
	"time"

	domainDrip "academy/internal/domain/drip"
	domainProgress "academy/internal/domain/progress"
)

// LearningCourse is one owned or subscribed course with the member's progress.
type LearningCourse struct {
	CourseID           string
	Name               string
	Thumbnail          string
	InstructorName     string
	CourseType         string
	ProgressPercent    int
	CompletedLessons   int
	TotalLessons       int
	SubscriptionStatus string // drip courses only
	AcquiredAt         time.Time
}

// GetMyLearningDeps holds dependencies for GetMyLearning.
type GetMyLearningDeps struct {
	CourseStore       CourseStore
	LessonStore       LessonStore
	PurchaseStore     PurchaseStore
	SubscriptionStore SubscriptionListStore
	ProgressStore     ProgressStore
}

// SubscriptionListStore lists a member's drip subscriptions.
type SubscriptionListStore interface {
	ListByUser(ctx context.Context, userID string) ([]domainDrip.Subscription, error)
}

// QueryGetMyLearning lists the member's courses: paid-status purchases first,
// then drip subscriptions without a purchase, newest first within each.
// POST: Deleted courses are omitted; refunded purchases do not appear
func QueryGetMyLearning(ctx context.Context, userID string, deps GetMyLearningDeps) ([]LearningCourse, error) {
	purchases, err := deps.PurchaseStore.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	completed, err := deps.ProgressStore.CountCompletedByCourse(ctx, userID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var result []LearningCourse
	add := func(courseID string, at time.Time, subStatus string) error {
		if seen[courseID] {
			return nil
		}
		seen[courseID] = true
		c, err := deps.CourseStore.GetByID(ctx, courseID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if c.IsDeleted() {
			return nil
		}
		total, err := deps.LessonStore.CountLessons(ctx, courseID)
		if err != nil {
			return err
		}
		done := min(completed[courseID], total)
		result = append(result, LearningCourse{
			CourseID:           c.ID,
			Name:               c.Name,
			Thumbnail:          c.Thumbnail,
			InstructorName:     c.InstructorName,
			CourseType:         c.CourseType,
			ProgressPercent:    domainProgress.Percent(done, total),
			CompletedLessons:   done,
			TotalLessons:       total,
			SubscriptionStatus: subStatus,
			AcquiredAt:         at,
		})
		return nil
	}

	for _, p := range purchases {
		if !p.GrantsAccess() {
			continue
		}
		if err := add(p.CourseID, p.CreatedAt, ""); err != nil {
			return nil, err
		}
	}
	if deps.SubscriptionStore != nil {
		subs, err := deps.SubscriptionStore.ListByUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		for _, s := range subs {
			if err := add(s.CourseID, s.SubscribedAt, s.Status); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}
