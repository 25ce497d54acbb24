package outbox

import (
	"context"
	"time"

	domain "academy/internal/domain/outbox"
)

// Store defines the interface for outbox entry persistence.
type Store interface {
	// GetByID retrieves an outbox entry by its ID.
	// PRE: id is non-empty
	// POST: Returns the entry or an error wrapping sql.ErrNoRows
	GetByID(ctx context.Context, id string) (domain.Entry, error)

	// Save persists an outbox entry to the database.
	// PRE: entity has been validated
	// POST: Entity is persisted (insert or update)
	Save(ctx context.Context, e domain.Entry) error

	// ClaimDue moves up to limit due entries to running and returns them.
	// PRE: limit > 0
	// POST: Each returned entry was claimed by this call only; attempts already incremented
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.Entry, error)

	// CompareAndSwap writes next if the stored row still has prev's status and attempts.
	// POST: Returns storage.ErrConflict when another writer got there first
	CompareAndSwap(ctx context.Context, prev, next domain.Entry) error

	// ListStale returns running entries last attempted before cutoff, oldest first.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.Entry, error)

	// ListFinished returns done and abandoned entries created before cutoff.
	ListFinished(ctx context.Context, cutoff time.Time, limit int) ([]domain.Entry, error)

	// ListFailed returns entries that have permanently failed.
	// PRE: limit > 0
	// POST: Returns up to limit failed entries ordered by last_attempted_at desc
	ListFailed(ctx context.Context, limit int) ([]domain.Entry, error)

	// ListByActionType returns entries filtered by action type and optional status.
	// PRE: actionType is non-empty
	// POST: Returns matching entries ordered by created_at
	ListByActionType(ctx context.Context, actionType string, status string, limit int) ([]domain.Entry, error)

	// CountByStatus returns the number of entries in each status.
	CountByStatus(ctx context.Context) (map[string]int, error)

	// Delete removes a done or abandoned entry.
	// POST: Entries in any other status are left in place
	Delete(ctx context.Context, id string) error
}
