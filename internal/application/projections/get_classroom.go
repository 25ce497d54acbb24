package projections

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	domainCourse "academy/internal/domain/course"
	domainDrip "academy/internal/domain/drip"
	"academy/internal/domain/video"
)

// ErrNoClassroomAccess is returned when the member neither owns nor subscribes to the course.
var ErrNoClassroomAccess = errors.New("you do not have access to this course")

// GetClassroomQuery carries query parameters.
type GetClassroomQuery struct {
	UserID   string
	CourseID string
	LessonID string // requested lesson; empty picks the first open, unfinished one
	Now      time.Time
}

// ClassroomLesson is one lesson as the member sees it. Locked lessons carry
// no video or body.
type ClassroomLesson struct {
	ID                string
	ChapterID         string
	Title             string
	DurationFormatted string
	IsCompleted       bool
	IsUnlocked        bool
	UnlockInDays      int
	VideoPlatform     string
	VideoID           string
	EmbedURL          string
	BodyHTML          string
	PromoDelaySeconds int
	PromoHTML         string
}

// ClassroomChapter groups lessons.
type ClassroomChapter struct {
	ID      string
	Title   string
	Lessons []ClassroomLesson
}

// GetClassroomResult carries the classroom page.
type GetClassroomResult struct {
	CourseID          string
	CourseName        string
	IsDrip            bool
	Chapters          []ClassroomChapter
	StandaloneLessons []ClassroomLesson
	Current           *ClassroomLesson
	Subscription      *domainDrip.Subscription
	CompletedCount    int
	TotalLessons      int
}

// GetClassroomDeps holds dependencies for GetClassroom.
type GetClassroomDeps struct {
	CourseStore       CourseStore
	LessonStore       LessonStore
	PurchaseStore     PurchaseStore
	SubscriptionStore SubscriptionStore
	ProgressStore     ProgressStore
	RenderMarkdown    func(string) (string, error)
}

// QueryGetClassroom assembles a member's view of a course.
// PRE: Valid user and course IDs
// POST: Returns ErrNoClassroomAccess without a paid-status purchase or a drip subscription;
// locked drip lessons never carry content
func QueryGetClassroom(ctx context.Context, query GetClassroomQuery, deps GetClassroomDeps) (GetClassroomResult, error) {
	c, err := deps.CourseStore.GetByID(ctx, query.CourseID)
	if err != nil {
		return GetClassroomResult{}, err
	}
	owned, err := deps.PurchaseStore.HasAccess(ctx, query.UserID, c.ID)
	if err != nil {
		return GetClassroomResult{}, err
	}

	result := GetClassroomResult{CourseID: c.ID, CourseName: c.Name, IsDrip: c.IsDrip()}
	if c.IsDrip() {
		sub, err := deps.SubscriptionStore.GetByUserAndCourse(ctx, query.UserID, c.ID)
		switch {
		case err == nil:
			result.Subscription = &sub
		case !errors.Is(err, sql.ErrNoRows):
			return GetClassroomResult{}, err
		}
	}
	if !owned && result.Subscription == nil {
		return GetClassroomResult{}, ErrNoClassroomAccess
	}

	lessons, err := deps.LessonStore.ListLessons(ctx, c.ID)
	if err != nil {
		return GetClassroomResult{}, err
	}
	chapters, err := deps.LessonStore.ListChapters(ctx, c.ID)
	if err != nil {
		return GetClassroomResult{}, err
	}
	completed, err := deps.ProgressStore.CompletedLessonIDs(ctx, query.UserID, c.ID)
	if err != nil {
		return GetClassroomResult{}, err
	}
	result.TotalLessons = len(lessons)

	gate := func(rank int) (bool, int) { return true, 0 }
	if result.Subscription != nil {
		sub := *result.Subscription
		plan := domainDrip.Plan{IntervalDays: c.DripIntervalDays, TotalLessons: len(lessons)}
		gate = func(rank int) (bool, int) {
			return sub.IsUnlocked(rank, plan, query.Now), sub.DaysUntilUnlock(rank, plan, query.Now)
		}
	}

	all := make([]ClassroomLesson, 0, len(lessons))
	byChapter := make(map[string][]ClassroomLesson)
	for rank, l := range lessons {
		cl, err := toClassroomLesson(l, rank, completed[l.ID], gate, deps.RenderMarkdown)
		if err != nil {
			return GetClassroomResult{}, fmt.Errorf("render lesson %s: %w", l.ID, err)
		}
		if cl.IsCompleted {
			result.CompletedCount++
		}
		all = append(all, cl)
		if l.ChapterID == "" {
			result.StandaloneLessons = append(result.StandaloneLessons, cl)
		} else {
			byChapter[l.ChapterID] = append(byChapter[l.ChapterID], cl)
		}
	}
	for _, ch := range chapters {
		result.Chapters = append(result.Chapters, ClassroomChapter{ID: ch.ID, Title: ch.Title, Lessons: byChapter[ch.ID]})
	}
	result.Current = pickCurrent(all, query.LessonID)
	return result, nil
}

func toClassroomLesson(l domainCourse.Lesson, rank int, done bool, gate func(int) (bool, int), render func(string) (string, error)) (ClassroomLesson, error) {
	unlocked, inDays := gate(rank)
	cl := ClassroomLesson{
		ID:                l.ID,
		ChapterID:         l.ChapterID,
		Title:             l.Title,
		DurationFormatted: l.DurationFormatted(),
		IsCompleted:       done,
		IsUnlocked:        unlocked,
		UnlockInDays:      inDays,
		PromoDelaySeconds: -1,
	}
	if !unlocked {
		return cl, nil
	}
	cl.VideoPlatform, cl.VideoID = l.VideoPlatform, l.VideoID
	cl.EmbedURL = video.Ref{Platform: l.VideoPlatform, ID: l.VideoID}.EmbedURL()
	if l.HasPromoBlock() {
		cl.PromoDelaySeconds, cl.PromoHTML = l.PromoDelaySeconds, l.PromoHTML
	}
	if render != nil && l.Body != "" {
		html, err := render(l.Body)
		if err != nil {
			return ClassroomLesson{}, err
		}
		cl.BodyHTML = html
	}
	return cl, nil
}

// pickCurrent returns the requested lesson when it is open, else the first
// open unfinished lesson, else the first open one.
func pickCurrent(lessons []ClassroomLesson, requested string) *ClassroomLesson {
	if requested != "" {
		for i := range lessons {
			if lessons[i].ID == requested && lessons[i].IsUnlocked {
				return &lessons[i]
			}
		}
	}
	for i := range lessons {
		if lessons[i].IsUnlocked && !lessons[i].IsCompleted {
			return &lessons[i]
		}
	}
	for i := range lessons {
		if lessons[i].IsUnlocked {
			return &lessons[i]
		}
	}
	return nil
}
