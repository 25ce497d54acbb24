package course

import (
	"context"
	"database/sql"
	"fmt"

	"academy/internal/adapters/storage"
	domain "academy/internal/domain/course"
)

const lessonColumns = `id, course_id, chapter_id, title, video_platform, video_id, video_url, body,
	promo_delay_seconds, promo_html, duration_seconds, sort_order, created_at, updated_at`

// SQLiteLessonStore implements LessonStore using SQLite.
type SQLiteLessonStore struct {
	db storage.SQLDB
}

// NewSQLiteLessonStore creates a new LessonStore.
func NewSQLiteLessonStore(db storage.SQLDB) *SQLiteLessonStore {
	return &SQLiteLessonStore{db: db}
}

// GetChapter retrieves a Chapter by its ID.
// PRE: id is non-empty
// POST: Returns the entity or an error wrapping sql.ErrNoRows
func (s *SQLiteLessonStore) GetChapter(ctx context.Context, id string) (domain.Chapter, error) {
	var c domain.Chapter
	err := s.db.QueryRowContext(ctx,
		`SELECT id, course_id, title, sort_order FROM chapter WHERE id = ?`, id,
	).Scan(&c.ID, &c.CourseID, &c.Title, &c.SortOrder)
	if err == sql.ErrNoRows {
		return domain.Chapter{}, fmt.Errorf("chapter not found: %w", err)
	}
	return c, err
}

// ListChapters returns a course's chapters in display order.
func (s *SQLiteLessonStore) ListChapters(ctx context.Context, courseID string) ([]domain.Chapter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, course_id, title, sort_order FROM chapter WHERE course_id = ? ORDER BY sort_order ASC, id ASC`,
		courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Chapter
	for rows.Next() {
		var c domain.Chapter
		if err := rows.Scan(&c.ID, &c.CourseID, &c.Title, &c.SortOrder); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// SaveChapter persists a Chapter to the database.
// PRE: entity has been validated
// POST: Entity is persisted (insert or update)
func (s *SQLiteLessonStore) SaveChapter(ctx context.Context, c domain.Chapter) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chapter (id, course_id, title, sort_order) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title=excluded.title, sort_order=excluded.sort_order`,
		c.ID, c.CourseID, c.Title, c.SortOrder)
	return err
}

// DeleteChapter removes a chapter and its lessons, then closes the gaps they
// leave in both orderings.
// POST: Remaining chapters and lessons of the course are densely ordered
func (s *SQLiteLessonStore) DeleteChapter(ctx context.Context, id string) error {
	return storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var courseID string
		if err := tx.QueryRowContext(ctx, `SELECT course_id FROM chapter WHERE id = ?`, id).Scan(&courseID); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("chapter not found: %w", err)
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM lesson WHERE chapter_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chapter WHERE id = ?`, id); err != nil {
			return err
		}
		if err := renumber(ctx, tx, `SELECT id FROM chapter WHERE course_id = ? ORDER BY sort_order ASC, id ASC`,
			`UPDATE chapter SET sort_order = ? WHERE id = ?`, courseID); err != nil {
			return err
		}
		return renumberLessons(ctx, tx, courseID)
	})
}

// NextChapterSortOrder returns the sort order a new chapter should take.
func (s *SQLiteLessonStore) NextChapterSortOrder(ctx context.Context, courseID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sort_order) + 1, 0) FROM chapter WHERE course_id = ?`, courseID).Scan(&n)
	return n, err
}

// GetLesson retrieves a Lesson by its ID.
// PRE: id is non-empty
// POST: Returns the entity or an error wrapping sql.ErrNoRows
func (s *SQLiteLessonStore) GetLesson(ctx context.Context, id string) (domain.Lesson, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+lessonColumns+" FROM lesson WHERE id = ?", id)
	l, err := scanLesson(row.Scan)
	if err == sql.ErrNoRows {
		return domain.Lesson{}, fmt.Errorf("lesson not found: %w", err)
	}
	return l, err
}

// ListLessons returns a course's lessons in unlock order.
// POST: Position i in the result is the lesson's drip rank
func (s *SQLiteLessonStore) ListLessons(ctx context.Context, courseID string) ([]domain.Lesson, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+lessonColumns+" FROM lesson WHERE course_id = ? ORDER BY sort_order ASC, created_at ASC, id ASC",
		courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Lesson
	for rows.Next() {
		l, err := scanLesson(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

// CountLessons returns how many lessons a course has.
func (s *SQLiteLessonStore) CountLessons(ctx context.Context, courseID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM lesson WHERE course_id = ?`, courseID).Scan(&n)
	return n, err
}

// SaveLesson persists a Lesson to the database.
// PRE: entity has been validated
// POST: Entity is persisted (insert or update)
func (s *SQLiteLessonStore) SaveLesson(ctx context.Context, l domain.Lesson) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lesson (`+lessonColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   chapter_id=excluded.chapter_id, title=excluded.title, video_platform=excluded.video_platform,
		   video_id=excluded.video_id, video_url=excluded.video_url, body=excluded.body,
		   promo_delay_seconds=excluded.promo_delay_seconds, promo_html=excluded.promo_html,
		   duration_seconds=excluded.duration_seconds, sort_order=excluded.sort_order,
		   updated_at=excluded.updated_at`,
		l.ID, l.CourseID, nullable(l.ChapterID), l.Title, l.VideoPlatform, l.VideoID, l.VideoURL, l.Body,
		l.PromoDelaySeconds, l.PromoHTML, l.DurationSeconds, l.SortOrder,
		storage.FormatTime(l.CreatedAt), storage.FormatTime(l.UpdatedAt))
	return err
}

// DeleteLesson removes a lesson and closes the gap in the course ordering.
// POST: Remaining lessons of the course are densely ordered
func (s *SQLiteLessonStore) DeleteLesson(ctx context.Context, id string) error {
	return storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var courseID string
		if err := tx.QueryRowContext(ctx, `SELECT course_id FROM lesson WHERE id = ?`, id).Scan(&courseID); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("lesson not found: %w", err)
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM lesson WHERE id = ?`, id); err != nil {
			return err
		}
		return renumberLessons(ctx, tx, courseID)
	})
}

// NextLessonSortOrder returns the sort order a new lesson should take.
func (s *SQLiteLessonStore) NextLessonSortOrder(ctx context.Context, courseID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sort_order) + 1, 0) FROM lesson WHERE course_id = ?`, courseID).Scan(&n)
	return n, err
}

// ReorderLessons rewrites sort_order from the given sequence.
// PRE: ids lists every lesson of the course exactly once
// POST: Lesson ids[i] has sort_order i
func (s *SQLiteLessonStore) ReorderLessons(ctx context.Context, courseID string, ids []string) error {
	return reorder(ctx, s.db, "lesson", courseID, ids)
}

// ReorderChapters rewrites chapter sort_order from the given sequence.
// Lesson order is course-wide and does not move with its chapter.
// PRE: ids lists every chapter of the course exactly once
// POST: Chapter ids[i] has sort_order i
func (s *SQLiteLessonStore) ReorderChapters(ctx context.Context, courseID string, ids []string) error {
	return reorder(ctx, s.db, "chapter", courseID, ids)
}

// reorder sets sort_order = position for every row of table in one transaction.
func reorder(ctx context.Context, db storage.SQLDB, table, courseID string, ids []string) error {
	return storage.WithTx(ctx, db, func(tx *sql.Tx) error {
		var total int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE course_id = ?`, courseID).Scan(&total); err != nil {
			return err
		}
		if total != len(ids) {
			return fmt.Errorf("reorder lists %d rows, course has %d %ss", len(ids), total, table)
		}
		for i, id := range ids {
			res, err := tx.ExecContext(ctx, `UPDATE `+table+` SET sort_order = ? WHERE id = ? AND course_id = ?`, i, id, courseID)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("%s %s not in course: %w", table, id, sql.ErrNoRows)
			}
		}
		return nil
	})
}

func renumberLessons(ctx context.Context, tx *sql.Tx, courseID string) error {
	return renumber(ctx, tx,
		`SELECT id FROM lesson WHERE course_id = ? ORDER BY sort_order ASC, created_at ASC, id ASC`,
		`UPDATE lesson SET sort_order = ? WHERE id = ?`, courseID)
}

// renumber reads ids in order, then rewrites their positions as 0..n-1.
func renumber(ctx context.Context, tx *sql.Tx, selectQuery, updateQuery, courseID string) error {
	rows, err := tx.QueryContext(ctx, selectQuery, courseID)
	if err != nil {
		return err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, updateQuery, i, id); err != nil {
			return err
		}
	}
	return nil
}

func scanLesson(scan func(dest ...any) error) (domain.Lesson, error) {
	var l domain.Lesson
	var chapterID sql.NullString
	var createdAt, updatedAt string
	err := scan(&l.ID, &l.CourseID, &chapterID, &l.Title, &l.VideoPlatform, &l.VideoID, &l.VideoURL, &l.Body,
		&l.PromoDelaySeconds, &l.PromoHTML, &l.DurationSeconds, &l.SortOrder, &createdAt, &updatedAt)
	if err != nil {
		return domain.Lesson{}, err
	}
	l.ChapterID = chapterID.String
	l.CreatedAt = storage.ParseTime(createdAt)
	l.UpdatedAt = storage.ParseTime(updatedAt)
	return l, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
