package web

import (
	"net/http"
	"time"

	courseStore "academy/internal/adapters/storage/course"
	"academy/internal/application/orchestrators"
	"academy/internal/application/projections"
	courseDomain "academy/internal/domain/course"
)

type courseRequest struct {
	Name             string    `json:"Name" validate:"required,max=255"`
	Tagline          string    `json:"Tagline" validate:"max=255"`
	Description      string    `json:"Description"`
	Price            int64     `json:"Price" validate:"gte=0"`
	OriginalPrice    int64     `json:"OriginalPrice" validate:"gte=0"`
	PromoEndsAt      time.Time `json:"PromoEndsAt"`
	Thumbnail        string    `json:"Thumbnail" validate:"max=500"`
	InstructorName   string    `json:"InstructorName" validate:"max=100"`
	SaleAt           time.Time `json:"SaleAt"`
	SortOrder        int       `json:"SortOrder" validate:"gte=0"`
	CourseType       string    `json:"CourseType" validate:"omitempty,oneof=standard drip"`
	DripIntervalDays int       `json:"DripIntervalDays" validate:"gte=0"`
	PortalyURL       string    `json:"PortalyURL" validate:"omitempty,url"`
	PortalyProductID string    `json:"PortalyProductID" validate:"max=100"`
	DurationMinutes  int       `json:"DurationMinutes" validate:"gte=0"`
	TargetCourseIDs  []string  `json:"TargetCourseIDs" validate:"omitempty,dive,required"`
}

func (req courseRequest) input() orchestrators.CourseInput {
	return orchestrators.CourseInput{
		Name:             req.Name,
		Tagline:          req.Tagline,
		Description:      req.Description,
		Price:            req.Price,
		OriginalPrice:    req.OriginalPrice,
		PromoEndsAt:      req.PromoEndsAt,
		Thumbnail:        req.Thumbnail,
		InstructorName:   req.InstructorName,
		SaleAt:           req.SaleAt,
		SortOrder:        req.SortOrder,
		CourseType:       req.CourseType,
		DripIntervalDays: req.DripIntervalDays,
		PortalyURL:       req.PortalyURL,
		PortalyProductID: req.PortalyProductID,
		DurationMinutes:  req.DurationMinutes,
		TargetCourseIDs:  req.TargetCourseIDs,
	}
}

func courseAdminDeps() orchestrators.CourseAdminDeps {
	return orchestrators.CourseAdminDeps{
		Courses:       app.Courses,
		Lessons:       app.Lessons,
		Purchases:     app.Purchases,
		Subscriptions: app.Subscriptions,
		GenerateID:    app.GenerateID,
		Now:           app.Now,
	}
}

func handleAdminDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := projections.QueryGetDashboard(r.Context(), projections.GetDashboardDeps{
		CourseStore:  app.Courses,
		AccountStore: app.Accounts,
		SalesStore:   app.Purchases,
	})
	if err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleAdminListCourses lists every course; ?deleted=1 includes soft-deleted ones.
func handleAdminListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := app.Courses.List(r.Context(), courseStore.ListFilter{
		IncludeDeleted: r.URL.Query().Get("deleted") == "1",
		CourseType:     r.URL.Query().Get("type"),
	})
	if err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, courses)
}

// adminCourseView is the editor's view of one course.
type adminCourseView struct {
	Course          courseDomain.Course
	Chapters        []courseDomain.Chapter
	Lessons         []courseDomain.Lesson
	TargetCourseIDs []string `json:",omitempty"`
	PaidPurchases   int
}

func handleAdminGetCourse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	c, err := app.Courses.GetByID(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	view := adminCourseView{Course: c}
	if view.Chapters, err = app.Lessons.ListChapters(ctx, id); err != nil {
		internalError(w, err)
		return
	}
	if view.Lessons, err = app.Lessons.ListLessons(ctx, id); err != nil {
		internalError(w, err)
		return
	}
	if c.IsDrip() {
		if view.TargetCourseIDs, err = app.Subscriptions.ListTargets(ctx, id); err != nil {
			internalError(w, err)
			return
		}
	}
	if view.PaidPurchases, err = app.Purchases.CountPaid(ctx, id); err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func handleAdminCreateCourse(w http.ResponseWriter, r *http.Request) {
	var req courseRequest
	if !decodeValid(w, r, &req) {
		return
	}
	c, err := orchestrators.ExecuteCreateCourse(r.Context(), currentSession(r).AccountID, req.input(), courseAdminDeps())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func handleAdminUpdateCourse(w http.ResponseWriter, r *http.Request) {
	var req courseRequest
	if !decodeValid(w, r, &req) {
		return
	}
	c, err := orchestrators.ExecuteUpdateCourse(r.Context(), r.PathValue("id"), req.input(), courseAdminDeps())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func handleAdminPublishCourse(w http.ResponseWriter, r *http.Request) {
	c, err := orchestrators.ExecutePublishCourse(r.Context(), r.PathValue("id"), courseAdminDeps())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func handleAdminUnpublishCourse(w http.ResponseWriter, r *http.Request) {
	c, err := orchestrators.ExecuteUnpublishCourse(r.Context(), r.PathValue("id"), courseAdminDeps())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func handleAdminDeleteCourse(w http.ResponseWriter, r *http.Request) {
	if err := orchestrators.ExecuteDeleteCourse(r.Context(), r.PathValue("id"), courseAdminDeps()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAdminSubscribers lists a drip course's subscribers; ?status= filters them.
func handleAdminSubscribers(w http.ResponseWriter, r *http.Request) {
	result, err := projections.QueryGetSubscribers(r.Context(), projections.GetSubscribersQuery{
		CourseID: r.PathValue("id"),
		Status:   r.URL.Query().Get("status"),
		Now:      app.Now(),
	}, projections.GetSubscribersDeps{
		CourseStore:       app.Courses,
		LessonStore:       app.Lessons,
		SubscriptionStore: app.Subscriptions,
		AccountStore:      app.Accounts,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Chapters and lessons ---

type chapterRequest struct {
	Title string `json:"Title" validate:"required,max=255"`
}

// handleAdminSaveChapter creates a chapter (POST) or renames one (PUT).
func handleAdminSaveChapter(w http.ResponseWriter, r *http.Request) {
	var req chapterRequest
	if !decodeValid(w, r, &req) {
		return
	}
	chapterID := r.PathValue("chapterID")
	ch, err := orchestrators.ExecuteSaveChapter(r.Context(), r.PathValue("id"), chapterID, req.Title, courseAdminDeps())
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if chapterID == "" {
		status = http.StatusCreated
	}
	writeJSON(w, status, ch)
}

func handleAdminDeleteChapter(w http.ResponseWriter, r *http.Request) {
	if err := orchestrators.ExecuteDeleteChapter(r.Context(), r.PathValue("id"), r.PathValue("chapterID"), courseAdminDeps()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type lessonRequest struct {
	ChapterID         string `json:"ChapterID"`
	Title             string `json:"Title" validate:"required,max=255"`
	VideoURL          string `json:"VideoURL" validate:"video_url"`
	Body              string `json:"Body"`
	PromoDelaySeconds *int   `json:"PromoDelaySeconds" validate:"omitempty,gte=0"`
	PromoHTML         string `json:"PromoHTML"`
	DurationSeconds   int    `json:"DurationSeconds" validate:"gte=0"`
}

// handleAdminSaveLesson creates a lesson (POST) or edits one (PUT).
func handleAdminSaveLesson(w http.ResponseWriter, r *http.Request) {
	var req lessonRequest
	if !decodeValid(w, r, &req) {
		return
	}
	lessonID := r.PathValue("lessonID")
	l, err := orchestrators.ExecuteSaveLesson(r.Context(), r.PathValue("id"), lessonID, orchestrators.LessonInput{
		ChapterID:         req.ChapterID,
		Title:             req.Title,
		VideoURL:          req.VideoURL,
		Body:              req.Body,
		PromoDelaySeconds: req.PromoDelaySeconds,
		PromoHTML:         req.PromoHTML,
		DurationSeconds:   req.DurationSeconds,
	}, courseAdminDeps())
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if lessonID == "" {
		status = http.StatusCreated
	}
	writeJSON(w, status, l)
}

func handleAdminDeleteLesson(w http.ResponseWriter, r *http.Request) {
	if err := orchestrators.ExecuteDeleteLesson(r.Context(), r.PathValue("id"), r.PathValue("lessonID"), courseAdminDeps()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reorderRequest struct {
	LessonIDs []string `json:"LessonIDs" validate:"required,min=1,dive,required"`
}

type chapterReorderRequest struct {
	ChapterIDs []string `json:"ChapterIDs" validate:"required,min=1,dive,required"`
}

func handleAdminReorderChapters(w http.ResponseWriter, r *http.Request) {
	var req chapterReorderRequest
	if !decodeValid(w, r, &req) {
		return
	}
	if err := orchestrators.ExecuteReorderChapters(r.Context(), r.PathValue("id"), req.ChapterIDs, courseAdminDeps()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleAdminReorderLessons(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if !decodeValid(w, r, &req) {
		return
	}
	if err := orchestrators.ExecuteReorderLessons(r.Context(), r.PathValue("id"), req.LessonIDs, courseAdminDeps()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
