package web

import (
	"cmp"
	"context"
	"net/http"
	"time"

	"github.com/gorilla/csrf"

	"academy/internal/adapters/http/middleware"
	accountStore "academy/internal/adapters/storage/account"
	courseStore "academy/internal/adapters/storage/course"
	dripStore "academy/internal/adapters/storage/drip"
	outboxStore "academy/internal/adapters/storage/outbox"
	progressStore "academy/internal/adapters/storage/progress"
	purchaseStore "academy/internal/adapters/storage/purchase"
	"academy/internal/application/orchestrators"
	"academy/internal/domain/account"
)

// App holds the stores and services the handlers use.
type App struct {
	Accounts      accountStore.Store
	Courses       courseStore.Store
	Lessons       courseStore.LessonStore
	Purchases     purchaseStore.Store
	Subscriptions dripStore.Store
	Progress      progressStore.Store
	Outbox        outboxStore.Store

	Drip         *orchestrators.DripEngine
	Verification *orchestrators.VerificationService
	Webhook      *orchestrators.WebhookService
	Queue        orchestrators.Enqueuer
	Processor    *orchestrators.OutboxProcessor
	Jobs         JobRunner

	RenderMarkdown func(string) (string, error)
	GenerateID     func() string
	Now            func() time.Time
}

// JobRunner triggers scheduled jobs on demand. *cron.Scheduler satisfies it.
type JobRunner interface {
	Run(ctx context.Context, name string) (int, error)
	Next() map[string]time.Time
}

// Options configures the middleware stack.
type Options struct {
	CSRFKey            []byte
	Secure             bool
	TrustedOrigins     []string
	RateLimitPerSecond float64
	RateLimitBurst     int
	SlowRequest        time.Duration
	SessionTTL         time.Duration
}

// Globals set by NewMux.
var (
	app        *App
	sessions   *middleware.SessionStore
	limiter    *middleware.RateLimiter
	sessionTTL time.Duration
)

// NewMux wires HTTP handlers for the app.
func NewMux(a *App, opts Options) http.Handler {
	app = a
	sessionTTL = cmp.Or(opts.SessionTTL, middleware.DefaultSessionTTL)
	sessions = middleware.NewSessionStore(sessionTTL)
	limiter = middleware.NewRateLimiter(cmp.Or(opts.RateLimitPerSecond, 10), cmp.Or(opts.RateLimitBurst, 20))
	middleware.SecureCookies = opts.Secure

	mux := http.NewServeMux()
	registerRoutes(mux)

	// Request: RequestLog -> SecurityHeaders -> RateLimit -> Auth -> CSRF -> mux
	return middleware.Chain(mux,
		middleware.CSRF(opts.CSRFKey, opts.Secure, opts.TrustedOrigins, "/webhooks/"),
		middleware.Auth(sessions),
		middleware.RateLimit(limiter),
		middleware.SecurityHeaders,
		middleware.RequestLog(cmp.Or(opts.SlowRequest, middleware.DefaultSlowRequest)),
	)
}

// SweepIdle drops expired sessions and idle rate-limit visitors.
// POST: Returns how many entries were removed
func SweepIdle() int {
	if sessions == nil {
		return 0
	}
	return sessions.Sweep() + limiter.Sweep()
}

func member(h http.HandlerFunc) http.Handler { return middleware.RequireAuth(h) }
func staff(h http.HandlerFunc) http.Handler  { return middleware.RequireStaff(h) }
func admin(h http.HandlerFunc) http.Handler {
	return middleware.RequireRole(account.RoleAdmin)(h)
}

func registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /csrf", handleCSRFToken)

	// Catalog
	mux.HandleFunc("GET /courses", handleCatalog)
	mux.HandleFunc("GET /courses/{id}", handleCourseDetail)

	// Payment provider
	mux.HandleFunc("POST /webhooks/portaly", handlePortalyWebhook)

	// Auth
	mux.HandleFunc("POST /login", handleLogin)
	mux.HandleFunc("POST /login/code", handleLoginSendCode)
	mux.HandleFunc("POST /login/verify", handleLoginVerify)
	mux.HandleFunc("POST /logout", handleLogout)

	// Drip subscriptions
	mux.HandleFunc("POST /drip/subscribe", handleDripSubscribe)
	mux.HandleFunc("POST /drip/verify", handleDripVerify)
	mux.HandleFunc("GET /drip/unsubscribe/{token}", handleUnsubscribeStatus)
	mux.HandleFunc("POST /drip/unsubscribe/{token}", handleUnsubscribe)

	// Member
	mux.Handle("GET /me", member(handleMe))
	mux.Handle("PUT /me", member(handleUpdateProfile))
	mux.Handle("POST /me/password", member(handleChangePassword))
	mux.Handle("GET /member/learning", member(handleMyLearning))
	mux.Handle("GET /classroom/{courseID}", member(handleClassroom))
	mux.Handle("PUT /classroom/{courseID}/lessons/{lessonID}/progress", member(handleMarkLesson))

	// Back office
	mux.Handle("GET /admin/dashboard", staff(handleAdminDashboard))
	mux.Handle("GET /admin/courses", staff(handleAdminListCourses))
	mux.Handle("POST /admin/courses", staff(handleAdminCreateCourse))
	mux.Handle("GET /admin/courses/{id}", staff(handleAdminGetCourse))
	mux.Handle("PUT /admin/courses/{id}", staff(handleAdminUpdateCourse))
	mux.Handle("DELETE /admin/courses/{id}", staff(handleAdminDeleteCourse))
	mux.Handle("POST /admin/courses/{id}/publish", staff(handleAdminPublishCourse))
	mux.Handle("POST /admin/courses/{id}/unpublish", staff(handleAdminUnpublishCourse))
	mux.Handle("GET /admin/courses/{id}/subscribers", staff(handleAdminSubscribers))
	mux.Handle("POST /admin/courses/{id}/gift", staff(handleAdminGiftCourse))

	mux.Handle("POST /admin/courses/{id}/chapters", staff(handleAdminSaveChapter))
	mux.Handle("PUT /admin/courses/{id}/chapters/{chapterID}", staff(handleAdminSaveChapter))
	mux.Handle("DELETE /admin/courses/{id}/chapters/{chapterID}", staff(handleAdminDeleteChapter))
	mux.Handle("POST /admin/courses/{id}/chapters/reorder", staff(handleAdminReorderChapters))
	mux.Handle("POST /admin/courses/{id}/lessons", staff(handleAdminSaveLesson))
	mux.Handle("PUT /admin/courses/{id}/lessons/{lessonID}", staff(handleAdminSaveLesson))
	mux.Handle("DELETE /admin/courses/{id}/lessons/{lessonID}", staff(handleAdminDeleteLesson))
	mux.Handle("POST /admin/courses/{id}/lessons/reorder", staff(handleAdminReorderLessons))

	mux.Handle("GET /admin/members", staff(handleAdminListMembers))
	mux.Handle("GET /admin/members/count", staff(handleAdminCountMembers))
	mux.Handle("GET /admin/members/{id}", staff(handleAdminGetMember))
	mux.Handle("PUT /admin/members/{id}", staff(handleAdminUpdateMember))
	mux.Handle("POST /admin/emails", staff(handleAdminBatchEmail))

	mux.Handle("GET /admin/outbox", admin(handleAdminOutboxList))
	mux.Handle("POST /admin/outbox/{id}/retry", admin(handleAdminOutboxRetry))
	mux.Handle("POST /admin/outbox/{id}/abandon", admin(handleAdminOutboxAbandon))
	mux.Handle("GET /admin/jobs", admin(handleAdminJobs))
	mux.Handle("POST /admin/jobs/{name}/run", admin(handleAdminRunJob))
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCSRFToken hands browser clients the token for form and bodiless requests.
func handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]string{"Token": csrf.Token(r)})
}

// currentSession returns the caller's session; routes wrapped by member or staff always have one.
func currentSession(r *http.Request) middleware.Session {
	sess, _ := middleware.GetSessionFromContext(r.Context())
	return sess
}
