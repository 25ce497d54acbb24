package projections

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"academy/internal/adapters/storage/course"
	domainCourse "academy/internal/domain/course"
)

// CatalogCourse is one card in the public catalog.
type CatalogCourse struct {
	ID                   string
	Name                 string
	Tagline              string
	Thumbnail            string
	InstructorName       string
	Price                int64
	DisplayOriginalPrice int64 // 0 when no promo is running
	Status               string
	SaleAt               time.Time
	CourseType           string
	DripIntervalDays     int
	DurationMinutes      int
	PortalyURL           string
}

// GetCatalogDeps holds dependencies for GetCatalog.
type GetCatalogDeps struct {
	CourseStore CourseStore
}

// QueryGetCatalog lists published, live courses in catalog order.
// POST: Drafts, hidden and deleted courses are excluded
func QueryGetCatalog(ctx context.Context, now time.Time, deps GetCatalogDeps) ([]CatalogCourse, error) {
	courses, err := deps.CourseStore.List(ctx, course.ListFilter{ListedOnly: true})
	if err != nil {
		return nil, err
	}
	result := make([]CatalogCourse, 0, len(courses))
	for _, c := range courses {
		result = append(result, toCatalogCourse(c, now))
	}
	return result, nil
}

func toCatalogCourse(c domainCourse.Course, now time.Time) CatalogCourse {
	return CatalogCourse{
		ID:                   c.ID,
		Name:                 c.Name,
		Tagline:              c.Tagline,
		Thumbnail:            c.Thumbnail,
		InstructorName:       c.InstructorName,
		Price:                c.Price,
		DisplayOriginalPrice: c.DisplayOriginalPrice(now),
		Status:               c.Status,
		SaleAt:               c.SaleAt,
		CourseType:           c.CourseType,
		DripIntervalDays:     c.DripIntervalDays,
		DurationMinutes:      c.DurationMinutes,
		PortalyURL:           c.PortalyURL,
	}
}

// GetCourseDetailQuery carries query parameters.
type GetCourseDetailQuery struct {
	CourseID string
	UserID   string // empty for guests
	Preview  bool   // staff may view unlisted courses
	Now      time.Time
}

// OutlineChapter is a chapter in the sales page outline.
type OutlineChapter struct {
	ID      string
	Title   string
	Lessons []OutlineLesson
}

// OutlineLesson is a lesson title in the sales page outline; content is never exposed here.
type OutlineLesson struct {
	ID                string
	Title             string
	DurationFormatted string
}

// GetCourseDetailResult carries the sales page.
type GetCourseDetailResult struct {
	Course             CatalogCourse
	DescriptionHTML    string
	Chapters           []OutlineChapter
	StandaloneLessons  []OutlineLesson
	LessonCount        int
	Owned              bool
	SubscriptionStatus string // empty when not subscribed
}

// GetCourseDetailDeps holds dependencies for GetCourseDetail.
type GetCourseDetailDeps struct {
	CourseStore       CourseStore
	LessonStore       LessonStore
	PurchaseStore     PurchaseStore
	SubscriptionStore SubscriptionStore
	RenderMarkdown    func(string) (string, error)
}

// QueryGetCourseDetail builds the sales page of a listed course.
// PRE: Valid course ID
// POST: Unlisted courses wrap sql.ErrNoRows unless Preview is set
func QueryGetCourseDetail(ctx context.Context, query GetCourseDetailQuery, deps GetCourseDetailDeps) (GetCourseDetailResult, error) {
	c, err := deps.CourseStore.GetByID(ctx, query.CourseID)
	if err != nil {
		return GetCourseDetailResult{}, err
	}
	if c.IsDeleted() || (!c.IsListed() && !query.Preview) {
		return GetCourseDetailResult{}, fmt.Errorf("course not listed: %w", sql.ErrNoRows)
	}

	result := GetCourseDetailResult{Course: toCatalogCourse(c, query.Now)}
	if deps.RenderMarkdown != nil {
		if result.DescriptionHTML, err = deps.RenderMarkdown(c.Description); err != nil {
			return GetCourseDetailResult{}, err
		}
	}

	chapters, err := deps.LessonStore.ListChapters(ctx, c.ID)
	if err != nil {
		return GetCourseDetailResult{}, err
	}
	lessons, err := deps.LessonStore.ListLessons(ctx, c.ID)
	if err != nil {
		return GetCourseDetailResult{}, err
	}
	result.LessonCount = len(lessons)
	byChapter := make(map[string][]OutlineLesson)
	for _, l := range lessons {
		ol := OutlineLesson{ID: l.ID, Title: l.Title, DurationFormatted: l.DurationFormatted()}
		if l.ChapterID == "" {
			result.StandaloneLessons = append(result.StandaloneLessons, ol)
			continue
		}
		byChapter[l.ChapterID] = append(byChapter[l.ChapterID], ol)
	}
	for _, ch := range chapters {
		result.Chapters = append(result.Chapters, OutlineChapter{ID: ch.ID, Title: ch.Title, Lessons: byChapter[ch.ID]})
	}

	if query.UserID == "" {
		return result, nil
	}
	if result.Owned, err = deps.PurchaseStore.HasAccess(ctx, query.UserID, c.ID); err != nil {
		return GetCourseDetailResult{}, err
	}
	if c.IsDrip() {
		sub, err := deps.SubscriptionStore.GetByUserAndCourse(ctx, query.UserID, c.ID)
		switch {
		case err == nil:
			result.SubscriptionStatus = sub.Status
		case !errors.Is(err, sql.ErrNoRows):
			return GetCourseDetailResult{}, err
		}
	}
	return result, nil
}
