package drip

import (
	"context"
	"database/sql"
	"fmt"

	"academy/internal/adapters/storage"
	outboxStore "academy/internal/adapters/storage/outbox"
	domain "academy/internal/domain/drip"
	outboxDomain "academy/internal/domain/outbox"
)

const subscriptionColumns = `s.id, s.user_id, s.course_id, s.subscribed_at, s.emails_sent, s.status,
	s.status_changed_at, s.unsubscribe_token, s.created_at, s.updated_at`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new drip subscription store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// GetByID retrieves a Subscription by its ID.
// PRE: id is non-empty
// POST: Returns the entity or an error wrapping sql.ErrNoRows
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (domain.Subscription, error) {
	return s.getOne(ctx, "s.id = ?", id)
}

// GetByToken retrieves the subscription an unsubscribe link points at.
// PRE: token is non-empty
// POST: Returns the entity or an error wrapping sql.ErrNoRows
func (s *SQLiteStore) GetByToken(ctx context.Context, token string) (domain.Subscription, error) {
	return s.getOne(ctx, "s.unsubscribe_token = ?", token)
}

// GetByUserAndCourse retrieves the only subscription a user can hold for a course.
// POST: Returns the entity or an error wrapping sql.ErrNoRows
func (s *SQLiteStore) GetByUserAndCourse(ctx context.Context, userID, courseID string) (domain.Subscription, error) {
	return s.getOne(ctx, "s.user_id = ? AND s.course_id = ?", userID, courseID)
}

func (s *SQLiteStore) getOne(ctx context.Context, where string, args ...any) (domain.Subscription, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+subscriptionColumns+" FROM drip_subscription s WHERE "+where, args...)
	sub, err := scanSubscription(row.Scan)
	if err == sql.ErrNoRows {
		return domain.Subscription{}, fmt.Errorf("drip subscription not found: %w", err)
	}
	return sub, err
}

// Create inserts a new subscription.
// PRE: entity has been validated
// POST: Row inserted, or ErrDuplicate for an existing (user, course) pair
func (s *SQLiteStore) Create(ctx context.Context, sub domain.Subscription) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO drip_subscription (id, user_id, course_id, subscribed_at, emails_sent, status,
		   status_changed_at, unsubscribe_token, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.UserID, sub.CourseID, storage.FormatTime(sub.SubscribedAt), sub.EmailsSent, sub.Status,
		storage.FormatTime(sub.StatusChangedAt), sub.UnsubscribeToken,
		storage.FormatTime(sub.CreatedAt), storage.FormatTime(sub.UpdatedAt))
	if storage.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// ListSweepable returns every subscription the daily sweep should look at.
func (s *SQLiteStore) ListSweepable(ctx context.Context) ([]domain.Subscription, error) {
	return s.list(ctx,
		`SELECT `+subscriptionColumns+` FROM drip_subscription s
		 JOIN course c ON c.id = s.course_id
		 WHERE s.status = ? AND c.course_type = 'drip' AND c.is_published = 1 AND c.deleted_at = ''
		 ORDER BY s.subscribed_at ASC`,
		domain.StatusActive)
}

// ListByUser returns a user's subscriptions, newest first.
func (s *SQLiteStore) ListByUser(ctx context.Context, userID string) ([]domain.Subscription, error) {
	return s.list(ctx,
		`SELECT `+subscriptionColumns+` FROM drip_subscription s WHERE s.user_id = ? ORDER BY s.subscribed_at DESC`,
		userID)
}

// ListByCourse returns a course's subscriptions, newest first.
func (s *SQLiteStore) ListByCourse(ctx context.Context, courseID, status string) ([]domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM drip_subscription s WHERE s.course_id = ?`
	args := []any{courseID}
	if status != "" {
		query += ` AND s.status = ?`
		args = append(args, status)
	}
	return s.list(ctx, query+` ORDER BY s.subscribed_at DESC`, args...)
}

// CountByStatus returns subscriber counts per status for a course.
func (s *SQLiteStore) CountByStatus(ctx context.Context, courseID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM drip_subscription WHERE course_id = ? GROUP BY status`, courseID)
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

// ListConvertible returns active subscriptions a purchase of targetCourseID converts.
func (s *SQLiteStore) ListConvertible(ctx context.Context, userID, targetCourseID string) ([]domain.Subscription, error) {
	return s.list(ctx,
		`SELECT `+subscriptionColumns+` FROM drip_subscription s
		 JOIN drip_conversion_target t ON t.drip_course_id = s.course_id
		 WHERE t.target_course_id = ? AND s.user_id = ? AND s.status = ?`,
		targetCourseID, userID, domain.StatusActive)
}

func (s *SQLiteStore) list(ctx context.Context, query string, args ...any) ([]domain.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}
	return result, rows.Err()
}

// Advance is the compare-and-swap step of the catch-up sweep.
// PRE: sub is the state after RecordSent; entries are validated
// POST: On success the new counters and every entry are committed together;
// on ErrConflict nothing is written
func (s *SQLiteStore) Advance(ctx context.Context, sub domain.Subscription, prevEmailsSent int, entries []outboxDomain.Entry) error {
	return storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE drip_subscription SET emails_sent = ?, status = ?, status_changed_at = ?, updated_at = ?
			 WHERE id = ? AND status = ? AND emails_sent = ?`,
			sub.EmailsSent, sub.Status, storage.FormatTime(sub.StatusChangedAt), storage.FormatTime(sub.UpdatedAt),
			sub.ID, domain.StatusActive, prevEmailsSent)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return storage.ErrConflict
		}
		for _, e := range entries {
			if err := outboxStore.InsertTx(ctx, tx, e); err != nil {
				return fmt.Errorf("enqueue %s: %w", e.ActionType, err)
			}
		}
		return nil
	})
}

// Transition writes a status change if nobody changed the status first.
// POST: Returns storage.ErrConflict when the stored status is not fromStatus
func (s *SQLiteStore) Transition(ctx context.Context, sub domain.Subscription, fromStatus string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE drip_subscription SET status = ?, status_changed_at = ?, emails_sent = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		sub.Status, storage.FormatTime(sub.StatusChangedAt), sub.EmailsSent, storage.FormatTime(sub.UpdatedAt),
		sub.ID, fromStatus)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrConflict
	}
	return nil
}

// ListTargets returns the course IDs whose purchase converts the drip course.
func (s *SQLiteStore) ListTargets(ctx context.Context, dripCourseID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT target_course_id FROM drip_conversion_target WHERE drip_course_id = ? ORDER BY target_course_id`,
		dripCourseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReplaceTargets swaps the whole target set in one transaction.
// PRE: targetIDs excludes dripCourseID
// POST: Exactly targetIDs are stored for the drip course
func (s *SQLiteStore) ReplaceTargets(ctx context.Context, dripCourseID string, targetIDs []string) error {
	return storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM drip_conversion_target WHERE drip_course_id = ?`, dripCourseID); err != nil {
			return err
		}
		for _, id := range targetIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO drip_conversion_target (drip_course_id, target_course_id) VALUES (?, ?)`,
				dripCourseID, id); err != nil {
				return err
			}
		}
		return nil
	})
}

func scanSubscription(scan func(dest ...any) error) (domain.Subscription, error) {
	var sub domain.Subscription
	var subscribedAt, changedAt, createdAt, updatedAt string
	err := scan(&sub.ID, &sub.UserID, &sub.CourseID, &subscribedAt, &sub.EmailsSent, &sub.Status,
		&changedAt, &sub.UnsubscribeToken, &createdAt, &updatedAt)
	if err != nil {
		return domain.Subscription{}, err
	}
	sub.SubscribedAt = storage.ParseTime(subscribedAt)
	sub.StatusChangedAt = storage.ParseTime(changedAt)
	sub.CreatedAt = storage.ParseTime(createdAt)
	sub.UpdatedAt = storage.ParseTime(updatedAt)
	return sub, nil
}
