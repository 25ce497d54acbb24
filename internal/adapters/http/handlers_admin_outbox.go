package web

import (
	"errors"
	"net/http"
	"time"

	"academy/internal/adapters/cron"
	"academy/internal/application/listutil"
	"academy/internal/domain/outbox"
)

type outboxListResponse struct {
	Entries []outbox.Entry
	Counts  map[string]int
}

// handleAdminOutboxList lists failed entries by default. ?type= narrows to one
// action type, optionally with ?status=.
func handleAdminOutboxList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := listutil.Limit(r.URL.Query(), "limit", 50, 100)

	var entries []outbox.Entry
	var err error
	if actionType := r.URL.Query().Get("type"); actionType != "" {
		entries, err = app.Outbox.ListByActionType(ctx, actionType, r.URL.Query().Get("status"), limit)
	} else {
		entries, err = app.Outbox.ListFailed(ctx, limit)
	}
	if err != nil {
		internalError(w, err)
		return
	}
	counts, err := app.Outbox.CountByStatus(ctx)
	if err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outboxListResponse{Entries: entries, Counts: counts})
}

// handleAdminOutboxRetry gives a failed entry a fresh attempt budget.
func handleAdminOutboxRetry(w http.ResponseWriter, r *http.Request) {
	if err := app.Processor.RetryEntry(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "requeued"})
}

func handleAdminOutboxAbandon(w http.ResponseWriter, r *http.Request) {
	if err := app.Processor.AbandonEntry(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "abandoned"})
}

// handleAdminJobs reports the next run of every scheduled job.
func handleAdminJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, app.Jobs.Next())
}

type jobRunResponse struct {
	Job      string
	Affected int
	Duration time.Duration
}

// handleAdminRunJob runs a scheduled job now, waiting for it to finish.
func handleAdminRunJob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	start := time.Now()
	n, err := app.Jobs.Run(r.Context(), name)
	if errors.Is(err, cron.ErrUnknownJob) {
		writeMessage(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobRunResponse{Job: name, Affected: n, Duration: time.Since(start)})
}
