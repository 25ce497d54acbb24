// Package cron runs the periodic jobs: course status flips, the daily drip
// sweep and verification code pruning.
package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// ErrUnknownJob is returned by Run for a name that was never registered.
var ErrUnknownJob = errors.New("unknown job")

// Job is one scheduled task. Run returns how many items it touched.
type Job struct {
	Name    string
	Spec    string // standard five-field cron expression or @descriptor
	Timeout time.Duration
	Run     func(ctx context.Context) (int, error)
}

// Scheduler owns the cron runner and the registered jobs.
type Scheduler struct {
	cron *cronlib.Cron
	jobs map[string]Job
	ids  map[string]cronlib.EntryID

	// locks serialize scheduled and manual runs of the same job.
	locks map[string]*sync.Mutex
}

// New parses every job's spec in loc. Overlapping ticks of a slow job are skipped.
// PRE: job names are unique
// POST: Returns an error naming the first unparsable spec
func New(loc *time.Location, jobs []Job) (*Scheduler, error) {
	logger := slogLogger{}
	s := &Scheduler{
		cron: cronlib.New(
			cronlib.WithLocation(loc),
			cronlib.WithLogger(logger),
			cronlib.WithChain(cronlib.Recover(logger), cronlib.SkipIfStillRunning(logger)),
		),
		jobs:  make(map[string]Job, len(jobs)),
		ids:   make(map[string]cronlib.EntryID, len(jobs)),
		locks: make(map[string]*sync.Mutex, len(jobs)),
	}
	for _, j := range jobs {
		if _, dup := s.jobs[j.Name]; dup {
			return nil, fmt.Errorf("job %s registered twice", j.Name)
		}
		s.jobs[j.Name] = j
		s.locks[j.Name] = &sync.Mutex{}
		name := j.Name
		id, err := s.cron.AddFunc(j.Spec, func() { _, _ = s.Run(context.Background(), name) })
		if err != nil {
			return nil, fmt.Errorf("job %s spec %q: %w", j.Name, j.Spec, err)
		}
		s.ids[name] = id
	}
	return s, nil
}

// Start begins firing jobs in a background goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("cron_started", "jobs", len(s.jobs))
}

// Stop prevents new runs and waits for running jobs or ctx, whichever ends first.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		slog.Info("cron_stopped")
	case <-ctx.Done():
		slog.Warn("cron_stop_timeout")
	}
}

// Run executes a job now, waiting for any in-flight run of the same job.
// PRE: name was registered
// POST: The outcome is logged as cron_job_finished or cron_job_failed
func (s *Scheduler) Run(ctx context.Context, name string) (int, error) {
	job, ok := s.jobs[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	mu := s.locks[name]
	mu.Lock()
	defer mu.Unlock()

	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}
	start := time.Now()
	n, err := job.Run(ctx)
	if err != nil {
		slog.Error("cron_job_failed", "job", name, "count", n, "duration_ms", time.Since(start).Milliseconds(), "error", err)
		return n, err
	}
	slog.Info("cron_job_finished", "job", name, "count", n, "duration_ms", time.Since(start).Milliseconds())
	return n, nil
}

// Next returns when each job fires next; zero times before Start.
func (s *Scheduler) Next() map[string]time.Time {
	out := make(map[string]time.Time, len(s.ids))
	for name, id := range s.ids {
		out[name] = s.cron.Entry(id).Next
	}
	return out
}

// slogLogger routes the runner's own messages through slog.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron_"+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron_"+msg, append(keysAndValues, "error", err)...)
}
