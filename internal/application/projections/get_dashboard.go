package projections

import (
	"cmp"
	"context"
	"slices"
	"time"

	"academy/internal/adapters/storage/account"
	"academy/internal/adapters/storage/course"
	domainAccount "academy/internal/domain/account"
	domainCourse "academy/internal/domain/course"
)

// recentCourseCount bounds Dashboard.RecentCourses.
const recentCourseCount = 5

// DashboardStats are the back-office headline counts. Deleted courses are not counted.
type DashboardStats struct {
	TotalCourses     int
	PublishedCourses int
	DraftCourses     int
	Members          int
	Sales            int // webhook and gift purchases
}

// RecentCourse is one row of the dashboard's newest-courses list.
type RecentCourse struct {
	ID          string
	Name        string
	Status      string
	IsPublished bool
	CreatedAt   time.Time
}

// Dashboard is the back-office landing view.
type Dashboard struct {
	Stats         DashboardStats
	RecentCourses []RecentCourse
}

// AccountCounter counts accounts by filter.
type AccountCounter interface {
	CountMatching(ctx context.Context, filter account.ListFilter) (int, error)
}

// SalesCounter counts purchases other than automatic creator grants.
type SalesCounter interface {
	CountSales(ctx context.Context) (int, error)
}

// GetDashboardDeps holds dependencies for GetDashboard.
type GetDashboardDeps struct {
	CourseStore  CourseStore
	AccountStore AccountCounter
	SalesStore   SalesCounter
}

// QueryGetDashboard gathers the headline counts and the newest courses.
// POST: RecentCourses holds at most five courses, newest first
func QueryGetDashboard(ctx context.Context, deps GetDashboardDeps) (Dashboard, error) {
	courses, err := deps.CourseStore.List(ctx, course.ListFilter{})
	if err != nil {
		return Dashboard{}, err
	}
	members, err := deps.AccountStore.CountMatching(ctx, account.ListFilter{Role: domainAccount.RoleMember})
	if err != nil {
		return Dashboard{}, err
	}
	sales, err := deps.SalesStore.CountSales(ctx)
	if err != nil {
		return Dashboard{}, err
	}

	d := Dashboard{Stats: DashboardStats{TotalCourses: len(courses), Members: members, Sales: sales}}
	for _, c := range courses {
		if c.IsPublished {
			d.Stats.PublishedCourses++
		}
		if c.Status == domainCourse.StatusDraft {
			d.Stats.DraftCourses++
		}
	}

	slices.SortStableFunc(courses, func(a, b domainCourse.Course) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	for _, c := range courses[:min(len(courses), recentCourseCount)] {
		d.RecentCourses = append(d.RecentCourses, RecentCourse{
			ID:          c.ID,
			Name:        c.Name,
			Status:      c.Status,
			IsPublished: c.IsPublished,
			CreatedAt:   c.CreatedAt,
		})
	}
	return d, nil
}
