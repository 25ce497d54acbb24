package web

import (
	"net/http"

	"academy/internal/adapters/http/middleware"
	"academy/internal/application/orchestrators"
	"academy/internal/application/projections"
)

func handleCatalog(w http.ResponseWriter, r *http.Request) {
	courses, err := projections.QueryGetCatalog(r.Context(), app.Now(), projections.GetCatalogDeps{CourseStore: app.Courses})
	if err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, courses)
}

// handleCourseDetail renders the sales page. Staff may pass ?preview=1 for unlisted courses.
func handleCourseDetail(w http.ResponseWriter, r *http.Request) {
	query := projections.GetCourseDetailQuery{CourseID: r.PathValue("id"), Now: app.Now()}
	if sess, ok := middleware.GetSessionFromContext(r.Context()); ok {
		query.UserID = sess.AccountID
		query.Preview = sess.IsStaff() && r.URL.Query().Get("preview") == "1"
	}
	result, err := projections.QueryGetCourseDetail(r.Context(), query, projections.GetCourseDetailDeps{
		CourseStore:       app.Courses,
		LessonStore:       app.Lessons,
		PurchaseStore:     app.Purchases,
		SubscriptionStore: app.Subscriptions,
		RenderMarkdown:    app.RenderMarkdown,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func handleMyLearning(w http.ResponseWriter, r *http.Request) {
	courses, err := projections.QueryGetMyLearning(r.Context(), currentSession(r).AccountID, projections.GetMyLearningDeps{
		CourseStore:       app.Courses,
		LessonStore:       app.Lessons,
		PurchaseStore:     app.Purchases,
		SubscriptionStore: app.Subscriptions,
		ProgressStore:     app.Progress,
	})
	if err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, courses)
}

// handleClassroom returns the course as the member sees it; ?lesson= picks the current lesson.
func handleClassroom(w http.ResponseWriter, r *http.Request) {
	result, err := projections.QueryGetClassroom(r.Context(), projections.GetClassroomQuery{
		UserID:   currentSession(r).AccountID,
		CourseID: r.PathValue("courseID"),
		LessonID: r.URL.Query().Get("lesson"),
		Now:      app.Now(),
	}, projections.GetClassroomDeps{
		CourseStore:       app.Courses,
		LessonStore:       app.Lessons,
		PurchaseStore:     app.Purchases,
		SubscriptionStore: app.Subscriptions,
		ProgressStore:     app.Progress,
		RenderMarkdown:    app.RenderMarkdown,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type markLessonRequest struct {
	Completed bool `json:"Completed"`
}

func handleMarkLesson(w http.ResponseWriter, r *http.Request) {
	var req markLessonRequest
	if !decodeValid(w, r, &req) {
		return
	}
	err := orchestrators.ExecuteMarkLesson(r.Context(), orchestrators.MarkLessonInput{
		UserID:    currentSession(r).AccountID,
		CourseID:  r.PathValue("courseID"),
		LessonID:  r.PathValue("lessonID"),
		Completed: req.Completed,
	}, orchestrators.ProgressDeps{
		Courses:       app.Courses,
		Lessons:       app.Lessons,
		Purchases:     app.Purchases,
		Subscriptions: app.Subscriptions,
		Progress:      app.Progress,
		Now:           app.Now,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}
