package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"academy/internal/adapters/storage"
	domain "academy/internal/domain/outbox"
)

const entryColumns = `id, action_type, payload, status, attempts, max_attempts, next_attempt_at,
	last_attempted_at, created_at, external_id, error_message`

// SQLiteStore implements the outbox Store interface using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new outbox store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// InsertTx enqueues an entry inside a caller's transaction so the job
// commits or rolls back together with the state change that produced it.
// PRE: e has been validated
// POST: Row inserted within tx
func InsertTx(ctx context.Context, tx *sql.Tx, e domain.Entry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO outbox (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entryArgs(e)...)
	return err
}

// GetByID retrieves an outbox entry by its ID.
// PRE: id is non-empty
// POST: Returns the entry or an error wrapping sql.ErrNoRows
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (domain.Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM outbox WHERE id = ?`, id)
	e, err := scanEntry(row.Scan)
	if err == sql.ErrNoRows {
		return domain.Entry{}, fmt.Errorf("outbox entry not found: %w", err)
	}
	return e, err
}

// Save persists an outbox entry to the database.
// PRE: entity has been validated
// POST: Entity is persisted (insert or update)
func (s *SQLiteStore) Save(ctx context.Context, e domain.Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outbox (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   action_type=excluded.action_type, payload=excluded.payload, status=excluded.status,
		   attempts=excluded.attempts, max_attempts=excluded.max_attempts,
		   next_attempt_at=excluded.next_attempt_at, last_attempted_at=excluded.last_attempted_at,
		   external_id=excluded.external_id, error_message=excluded.error_message`,
		entryArgs(e)...)
	return err
}

// ClaimDue selects due entries and flips each to running with a guarded update.
// An entry another worker claimed first is skipped.
// PRE: limit > 0
// POST: Returned entries are running with attempts incremented
func (s *SQLiteStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.Entry, error) {
	candidates, err := s.list(ctx,
		`SELECT `+entryColumns+` FROM outbox WHERE status IN (?, ?) AND next_attempt_at <= ?
		 ORDER BY next_attempt_at ASC, created_at ASC LIMIT ?`,
		domain.StatusPending, domain.StatusRetrying, storage.FormatTime(now), limit)
	if err != nil {
		return nil, err
	}

	var claimed []domain.Entry
	for _, prev := range candidates {
		if !prev.IsDue(now) {
			continue
		}
		next := prev
		next.MarkAttempt(now)
		if err := s.CompareAndSwap(ctx, prev, next); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				continue
			}
			return claimed, err
		}
		claimed = append(claimed, next)
	}
	return claimed, nil
}

// CompareAndSwap writes next if the stored row still has prev's status and attempts.
// POST: Returns storage.ErrConflict when another writer got there first
func (s *SQLiteStore) CompareAndSwap(ctx context.Context, prev, next domain.Entry) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET status = ?, attempts = ?, max_attempts = ?, next_attempt_at = ?,
		   last_attempted_at = ?, external_id = ?, error_message = ?
		 WHERE id = ? AND status = ? AND attempts = ?`,
		next.Status, next.Attempts, next.MaxAttempts, storage.FormatTime(next.NextAttemptAt),
		storage.FormatTime(next.LastAttemptedAt), next.ExternalID, next.ErrorMessage,
		prev.ID, prev.Status, prev.Attempts)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrConflict
	}
	return nil
}

// ListStale returns running entries last attempted before cutoff, oldest first.
func (s *SQLiteStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.Entry, error) {
	return s.list(ctx,
		`SELECT `+entryColumns+` FROM outbox WHERE status = ? AND last_attempted_at < ?
		 ORDER BY last_attempted_at ASC LIMIT ?`,
		domain.StatusRunning, storage.FormatTime(cutoff), limit)
}

// ListFinished returns done and abandoned entries created before cutoff.
func (s *SQLiteStore) ListFinished(ctx context.Context, cutoff time.Time, limit int) ([]domain.Entry, error) {
	return s.list(ctx,
		`SELECT `+entryColumns+` FROM outbox WHERE status IN (?, ?) AND created_at < ?
		 ORDER BY created_at ASC LIMIT ?`,
		domain.StatusDone, domain.StatusAbandoned, storage.FormatTime(cutoff), limit)
}

// ListFailed returns entries that have permanently failed.
// PRE: limit > 0
// POST: Returns up to limit failed entries ordered by last_attempted_at desc
func (s *SQLiteStore) ListFailed(ctx context.Context, limit int) ([]domain.Entry, error) {
	return s.list(ctx,
		`SELECT `+entryColumns+` FROM outbox WHERE status = ? ORDER BY last_attempted_at DESC LIMIT ?`,
		domain.StatusFailed, limit)
}

// ListByActionType returns entries filtered by action type and optional status.
// PRE: actionType is non-empty
// POST: Returns matching entries ordered by created_at
func (s *SQLiteStore) ListByActionType(ctx context.Context, actionType string, status string, limit int) ([]domain.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM outbox WHERE action_type = ?`
	args := []any{actionType}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at ASC LIMIT ?`
	args = append(args, limit)

	return s.list(ctx, query, args...)
}

// CountByStatus returns the number of entries in each status.
func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM outbox GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// Delete removes a done or abandoned entry.
// POST: Entries in any other status are left in place
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE id = ? AND status IN (?, ?)`,
		id, domain.StatusDone, domain.StatusAbandoned)
	return err
}

func (s *SQLiteStore) list(ctx context.Context, query string, args ...any) ([]domain.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func entryArgs(e domain.Entry) []any {
	return []any{
		e.ID, e.ActionType, e.Payload, e.Status, e.Attempts, e.MaxAttempts,
		storage.FormatTime(e.NextAttemptAt), storage.FormatTime(e.LastAttemptedAt),
		storage.FormatTime(e.CreatedAt), e.ExternalID, e.ErrorMessage,
	}
}

func scanEntry(scan func(dest ...any) error) (domain.Entry, error) {
	var e domain.Entry
	var nextAttemptAt, lastAttemptedAt, createdAt string
	err := scan(&e.ID, &e.ActionType, &e.Payload, &e.Status, &e.Attempts, &e.MaxAttempts,
		&nextAttemptAt, &lastAttemptedAt, &createdAt, &e.ExternalID, &e.ErrorMessage)
	if err != nil {
		return domain.Entry{}, err
	}
	e.NextAttemptAt = storage.ParseTime(nextAttemptAt)
	e.LastAttemptedAt = storage.ParseTime(lastAttemptedAt)
	e.CreatedAt = storage.ParseTime(createdAt)
	return e, nil
}

func scanEntries(rows *sql.Rows) ([]domain.Entry, error) {
	var entries []domain.Entry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
