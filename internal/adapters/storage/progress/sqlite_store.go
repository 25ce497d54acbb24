package progress

import (
	"context"

	"academy/internal/adapters/storage"
	domain "academy/internal/domain/progress"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new progress store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Mark records that the user completed a lesson.
// PRE: entity has been validated
// POST: Exactly one row exists for (user, lesson)
func (s *SQLiteStore) Mark(ctx context.Context, p domain.LessonProgress) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lesson_progress (user_id, lesson_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, lesson_id) DO NOTHING`,
		p.UserID, p.LessonID, storage.FormatTime(p.CreatedAt))
	return err
}

// Unmark clears a completion marker; unmarking an absent marker is a no-op.
func (s *SQLiteStore) Unmark(ctx context.Context, userID, lessonID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM lesson_progress WHERE user_id = ? AND lesson_id = ?`, userID, lessonID)
	return err
}

// CompletedLessonIDs returns the lessons of courseID the user completed.
func (s *SQLiteStore) CompletedLessonIDs(ctx context.Context, userID, courseID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.lesson_id FROM lesson_progress p JOIN lesson l ON l.id = p.lesson_id
		 WHERE p.user_id = ? AND l.course_id = ?`, userID, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	done := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		done[id] = true
	}
	return done, rows.Err()
}

// CountCompletedByCourse groups a user's completion markers by course.
func (s *SQLiteStore) CountCompletedByCourse(ctx context.Context, userID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT l.course_id, COUNT(*) FROM lesson_progress p JOIN lesson l ON l.id = p.lesson_id
		 WHERE p.user_id = ? GROUP BY l.course_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var courseID string
		var n int
		if err := rows.Scan(&courseID, &n); err != nil {
			return nil, err
		}
		counts[courseID] = n
	}
	return counts, rows.Err()
}
