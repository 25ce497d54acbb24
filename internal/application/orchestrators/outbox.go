package orchestrators

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"academy/internal/adapters/storage"
	outboxStore "academy/internal/adapters/storage/outbox"
	domain "academy/internal/domain/outbox"
)

// ErrNoExecutor is returned when an action type has no registered executor.
var ErrNoExecutor = errors.New("no executor registered for action type")

// ActionExecutor runs one kind of queued job.
type ActionExecutor interface {
	// Execute runs the job with the given JSON payload.
	// Returns the provider's external ID (e.g. a message id) and any error.
	Execute(ctx context.Context, payload string) (string, error)
}

// ActionExecutorFunc adapts a function to ActionExecutor.
type ActionExecutorFunc func(ctx context.Context, payload string) (string, error)

// Execute calls f.
func (f ActionExecutorFunc) Execute(ctx context.Context, payload string) (string, error) {
	return f(ctx, payload)
}

// --- Queue ---

// Enqueuer is the producer side of the job queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, actionType string, payload any) (domain.Entry, error)
}

// Queue persists jobs in the outbox table for the background worker.
type Queue struct {
	Store      outboxStore.Store
	GenerateID func() string
	Now        func() time.Time
}

// Enqueue stores a job to run as soon as a worker is free.
// PRE: payload marshals to JSON
// POST: A pending entry exists for the job
func (q *Queue) Enqueue(ctx context.Context, actionType string, payload any) (domain.Entry, error) {
	entry, err := NewOutboxEntry(q.GenerateID(), actionType, payload, q.Now())
	if err != nil {
		return domain.Entry{}, err
	}
	if err := q.Store.Save(ctx, entry); err != nil {
		return domain.Entry{}, fmt.Errorf("enqueue %s: %w", actionType, err)
	}
	slog.Info("outbox_event", "event", "job_enqueued", "entry_id", entry.ID, "action_type", actionType)
	return entry, nil
}

// NewOutboxEntry marshals payload into a validated pending entry.
func NewOutboxEntry(id, actionType string, payload any, now time.Time) (domain.Entry, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Entry{}, fmt.Errorf("marshal %s payload: %w", actionType, err)
	}
	entry := domain.NewEntry(id, actionType, string(body), now)
	if err := entry.Validate(); err != nil {
		return domain.Entry{}, err
	}
	return entry, nil
}

// --- Dispatcher ---

// Dispatcher runs a job's executor in the caller's goroutine, bypassing the queue.
type Dispatcher struct {
	Executors map[string]ActionExecutor
}

// DispatchNow executes the job synchronously and returns its result.
// POST: Nothing is written to the outbox
func (d *Dispatcher) DispatchNow(ctx context.Context, actionType string, payload any) (string, error) {
	executor, ok := d.Executors[actionType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoExecutor, actionType)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", actionType, err)
	}
	return executor.Execute(ctx, string(body))
}

// --- Processor ---

// OutboxConfig tunes the background processor.
type OutboxConfig struct {
	BatchSize   int           // entries claimed per tick
	Concurrency int           // executors running at once
	StaleAfter  time.Duration // running entries older than this are requeued
	Now         func() time.Time
}

// OutboxProcessor claims due entries and runs them on a bounded worker pool.
type OutboxProcessor struct {
	store     outboxStore.Store
	executors map[string]ActionExecutor
	cfg       OutboxConfig
}

// NewOutboxProcessor creates a new outbox processor; zero config values get defaults.
func NewOutboxProcessor(store outboxStore.Store, executors map[string]ActionExecutor, cfg OutboxConfig) *OutboxProcessor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 15 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &OutboxProcessor{store: store, executors: executors, cfg: cfg}
}

// ProcessPending runs one batch of due entries.
// PRE: Context is valid
// POST: Every claimed entry ends done, retrying or failed; returns how many were claimed
func (p *OutboxProcessor) ProcessPending(ctx context.Context) (int, error) {
	now := p.cfg.Now()
	p.releaseStale(ctx, now)

	entries, err := p.store.ClaimDue(ctx, now, p.cfg.BatchSize)
	if err != nil {
		return len(entries), fmt.Errorf("claim due outbox entries: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for _, group := range groupByOrderingKey(entries) {
		g.Go(func() error {
			for _, entry := range group {
				p.run(ctx, entry)
			}
			return nil
		})
	}
	_ = g.Wait()
	return len(entries), nil
}

// releaseStale treats a running entry whose worker never reported back as a
// failed attempt: it is rescheduled, or dropped when that was its last attempt.
func (p *OutboxProcessor) releaseStale(ctx context.Context, now time.Time) {
	stale, err := p.store.ListStale(ctx, now.Add(-p.cfg.StaleAfter), p.cfg.BatchSize)
	if err != nil {
		slog.Error("outbox_release_stale_failed", "error", err)
		return
	}
	for _, prev := range stale {
		next := prev
		next.MarkFailed(domain.ErrWorkerLost, now)
		if err := p.store.CompareAndSwap(ctx, prev, next); err != nil {
			if !errors.Is(err, storage.ErrConflict) {
				slog.Error("outbox_release_stale_failed", "entry_id", prev.ID, "error", err)
			}
			continue
		}
		logFailure(next, domain.ErrWorkerLost)
	}
}

func logFailure(entry domain.Entry, err error) {
	if entry.Status == domain.StatusFailed {
		slog.Error("outbox_action_dropped", "entry_id", entry.ID, "action_type", entry.ActionType,
			"attempts", entry.Attempts, "error", err.Error())
		return
	}
	slog.Warn("outbox_action_failed", "entry_id", entry.ID, "action_type", entry.ActionType,
		"attempt", entry.Attempts, "next_attempt_at", entry.NextAttemptAt, "error", err.Error())
}

// groupByOrderingKey keeps entries that must not overtake each other on one
// worker, in claim order. Lesson mails of one subscription share a key.
func groupByOrderingKey(entries []domain.Entry) [][]domain.Entry {
	index := make(map[string]int)
	var groups [][]domain.Entry
	for _, e := range entries {
		key := "entry:" + e.ID
		if e.ActionType == domain.ActionTypeDripLesson {
			var p DripLessonPayload
			if json.Unmarshal([]byte(e.Payload), &p) == nil && p.SubscriptionID != "" {
				key = "subscription:" + p.SubscriptionID
			}
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], e)
	}
	return groups
}

// run executes one claimed entry and records the outcome.
// PRE: entry was claimed (status running, attempt already counted)
func (p *OutboxProcessor) run(ctx context.Context, entry domain.Entry) {
	var externalID string
	err := ErrNoExecutor
	if executor, ok := p.executors[entry.ActionType]; ok {
		externalID, err = executor.Execute(ctx, entry.Payload)
	}

	now := p.cfg.Now()
	if err != nil {
		entry.MarkFailed(err, now)
		logFailure(entry, err)
	} else {
		entry.MarkSuccess(externalID)
		slog.Info("outbox_action_succeeded", "entry_id", entry.ID, "action_type", entry.ActionType, "external_id", externalID)
	}

	if saveErr := p.store.Save(ctx, entry); saveErr != nil {
		slog.Error("outbox_save_failed", "entry_id", entry.ID, "error", saveErr)
	}
}

// RetryEntry gives a failed entry a fresh attempt budget (admin action).
// PRE: entryID names a failed entry
// POST: Entry is pending and due now
func (p *OutboxProcessor) RetryEntry(ctx context.Context, entryID string) error {
	entry, err := p.store.GetByID(ctx, entryID)
	if err != nil {
		return fmt.Errorf("get outbox entry: %w", err)
	}
	if err := entry.Requeue(p.cfg.Now()); err != nil {
		return fmt.Errorf("entry %s: %w", entryID, err)
	}
	slog.Info("outbox_event", "event", "entry_requeued", "entry_id", entryID)
	return p.store.Save(ctx, entry)
}

// AbandonEntry marks an entry as abandoned by admin.
// PRE: entryID is non-empty
// POST: Entry status set to abandoned
func (p *OutboxProcessor) AbandonEntry(ctx context.Context, entryID string) error {
	entry, err := p.store.GetByID(ctx, entryID)
	if err != nil {
		return fmt.Errorf("get outbox entry: %w", err)
	}
	if err := entry.MarkAbandoned(); err != nil {
		return fmt.Errorf("entry %s: %w", entryID, err)
	}
	slog.Info("outbox_event", "event", "entry_abandoned", "entry_id", entryID)
	return p.store.Save(ctx, entry)
}

// purgePage bounds one ListFinished read during Purge.
const purgePage = 500

// Purge deletes done and abandoned entries created before cutoff.
// Failed entries stay listed for admins until retried or abandoned.
// POST: Returns the number of entries deleted
func (p *OutboxProcessor) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	for {
		entries, err := p.store.ListFinished(ctx, cutoff, purgePage)
		if err != nil {
			return deleted, fmt.Errorf("list finished outbox entries: %w", err)
		}
		page := 0
		for _, e := range entries {
			if !e.IsTerminal() {
				continue
			}
			if err := p.store.Delete(ctx, e.ID); err != nil {
				return deleted, fmt.Errorf("delete outbox entry %s: %w", e.ID, err)
			}
			page++
		}
		deleted += page
		if len(entries) < purgePage || page == 0 {
			break
		}
	}
	slog.Info("outbox_event", "event", "purged", "count", deleted, "cutoff", cutoff)
	return deleted, nil
}

// --- Background Worker ---

// StartBackgroundWorker starts a background goroutine that periodically processes due outbox entries.
// PRE: stopCh is provided to signal shutdown
// POST: Worker runs until stopCh is closed
func StartBackgroundWorker(processor *OutboxProcessor, interval time.Duration, stopCh <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
				if _, err := processor.ProcessPending(ctx); err != nil {
					slog.Error("outbox_background_process_failed", "error", err.Error())
				}
				cancel()
			case <-stopCh:
				slog.Info("outbox_background_worker_stopped")
				return
			}
		}
	}()
}
