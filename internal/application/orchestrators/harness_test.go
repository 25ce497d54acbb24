package orchestrators

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	emailAdapter "academy/internal/adapters/email"
	accountStore "academy/internal/adapters/storage/account"
	courseStore "academy/internal/adapters/storage/course"
	dripStore "academy/internal/adapters/storage/drip"
	outboxStore "academy/internal/adapters/storage/outbox"
	progressStore "academy/internal/adapters/storage/progress"
	purchaseStore "academy/internal/adapters/storage/purchase"
	"academy/internal/adapters/storage/storagetest"
	verificationStore "academy/internal/adapters/storage/verification"
	accountDomain "academy/internal/domain/account"
	courseDomain "academy/internal/domain/course"
)

var startTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// testClock is a settable clock shared by every dependency of a harness.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// harness wires real SQLite stores, the noop sender and the queue together.
type harness struct {
	t            *testing.T
	db           *sql.DB
	clock        *testClock
	mu           sync.Mutex
	seq          int
	accounts     *accountStore.SQLiteStore
	courses      *courseStore.SQLiteStore
	lessons      *courseStore.SQLiteLessonStore
	subs         *dripStore.SQLiteStore
	purchases    *purchaseStore.SQLiteStore
	progress     *progressStore.SQLiteStore
	codes        *verificationStore.SQLiteStore
	outbox       *outboxStore.SQLiteStore
	sender       *emailAdapter.NoopSender
	queue        *Queue
	dispatcher   *Dispatcher
	processor    *OutboxProcessor
	drip         *DripEngine
	verification *VerificationService
	webhook      *WebhookService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := storagetest.Open(t)
	h := &harness{
		t:         t,
		db:        db,
		clock:     &testClock{now: startTime},
		accounts:  accountStore.NewSQLiteStore(db),
		courses:   courseStore.NewSQLiteStore(db),
		lessons:   courseStore.NewSQLiteLessonStore(db),
		subs:      dripStore.NewSQLiteStore(db),
		purchases: purchaseStore.NewSQLiteStore(db),
		progress:  progressStore.NewSQLiteStore(db),
		codes:     verificationStore.NewSQLiteStore(db),
		outbox:    outboxStore.NewSQLiteStore(db),
		sender:    emailAdapter.NewNoopSender(),
	}
	renderer, err := emailAdapter.NewRenderer("Academy", h.clock.Now)
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}
	executors := MailExecutors(MailDeps{
		Sender:        h.sender,
		Renderer:      renderer,
		BaseURL:       "https://academy.test",
		Accounts:      h.accounts,
		Courses:       h.courses,
		Lessons:       h.lessons,
		Subscriptions: h.subs,
		Purchases:     h.purchases,
		GenerateID:    h.nextID,
		Now:           h.clock.Now,
	})
	h.queue = &Queue{Store: h.outbox, GenerateID: h.nextID, Now: h.clock.Now}
	h.dispatcher = &Dispatcher{Executors: executors}
	h.processor = NewOutboxProcessor(h.outbox, executors, OutboxConfig{Concurrency: 2, Now: h.clock.Now})
	h.drip = NewDripEngine(DripEngineDeps{
		Courses:       h.courses,
		Lessons:       h.lessons,
		Subscriptions: h.subs,
		Dispatcher:    h.dispatcher,
		GenerateID:    h.nextID,
		GenerateToken: func() string { return "tok-" + h.nextID() },
		Now:           h.clock.Now,
	})
	h.verification = NewVerificationService(VerificationDeps{
		Codes:         h.codes,
		Accounts:      h.accounts,
		Courses:       h.courses,
		Subscriptions: h.subs,
		Drip:          h.drip,
		Dispatcher:    h.dispatcher,
		GenerateID:    h.nextID,
		Now:           h.clock.Now,
	})
	h.webhook = NewWebhookService(WebhookDeps{
		Secret:     "whsec",
		Accounts:   h.accounts,
		Courses:    h.courses,
		Purchases:  h.purchases,
		Drip:       h.drip,
		GenerateID: h.nextID,
		Now:        h.clock.Now,
	})
	return h
}

func (h *harness) nextID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	return fmt.Sprintf("id-%03d", h.seq)
}

func (h *harness) ctx() context.Context { return context.Background() }

func (h *harness) member(email string) accountDomain.Account {
	h.t.Helper()
	a := accountDomain.Account{ID: h.nextID(), Email: email, Role: accountDomain.RoleMember, CreatedAt: h.clock.Now()}
	if err := h.accounts.Create(h.ctx(), a); err != nil {
		h.t.Fatalf("create member: %v", err)
	}
	return a
}

func (h *harness) adminDeps() CourseAdminDeps {
	return CourseAdminDeps{
		Courses:       h.courses,
		Lessons:       h.lessons,
		Purchases:     h.purchases,
		Subscriptions: h.subs,
		GenerateID:    h.nextID,
		Now:           h.clock.Now,
	}
}

// course inserts a published, selling course with n lessons.
func (h *harness) course(courseType string, intervalDays, n int) courseDomain.Course {
	h.t.Helper()
	id := storagetest.SeedCourse(h.t, h.db, h.nextID(), courseType, intervalDays)
	for i := range n {
		_, err := ExecuteSaveLesson(h.ctx(), id, "", LessonInput{
			Title: fmt.Sprintf("Lesson %d", i+1),
			Body:  fmt.Sprintf("Body of lesson %d", i+1),
		}, h.adminDeps())
		if err != nil {
			h.t.Fatalf("seed lesson: %v", err)
		}
	}
	c, err := h.courses.GetByID(h.ctx(), id)
	if err != nil {
		h.t.Fatalf("get seeded course: %v", err)
	}
	return c
}

// drain runs the outbox until nothing is due.
func (h *harness) drain() {
	h.t.Helper()
	h.clock.Advance(time.Second)
	for range 10 {
		n, err := h.processor.ProcessPending(h.ctx())
		if err != nil {
			h.t.Fatalf("process outbox: %v", err)
		}
		if n == 0 {
			return
		}
	}
}
