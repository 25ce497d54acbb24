package course

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"academy/internal/adapters/storage"
	domain "academy/internal/domain/course"
	purchaseDomain "academy/internal/domain/purchase"
)

const courseColumns = `id, name, tagline, description, price, original_price, promo_ends_at, thumbnail,
	instructor_name, is_published, status, sale_at, sort_order, course_type, drip_interval_days,
	portaly_url, portaly_product_id, duration_minutes, created_at, updated_at, deleted_at`

const courseUpsert = `INSERT INTO course (` + courseColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
	  name=excluded.name, tagline=excluded.tagline, description=excluded.description,
	  price=excluded.price, original_price=excluded.original_price, promo_ends_at=excluded.promo_ends_at,
	  thumbnail=excluded.thumbnail, instructor_name=excluded.instructor_name,
	  is_published=excluded.is_published, status=excluded.status, sale_at=excluded.sale_at,
	  sort_order=excluded.sort_order, course_type=excluded.course_type,
	  drip_interval_days=excluded.drip_interval_days, portaly_url=excluded.portaly_url,
	  portaly_product_id=excluded.portaly_product_id, duration_minutes=excluded.duration_minutes,
	  updated_at=excluded.updated_at, deleted_at=excluded.deleted_at`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new CourseStore.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// GetByID retrieves a Course by its ID.
// PRE: id is non-empty
// POST: Returns the entity or an error wrapping sql.ErrNoRows
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (domain.Course, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+courseColumns+" FROM course WHERE id = ?", id)
	c, err := scanCourse(row.Scan)
	if err == sql.ErrNoRows {
		return domain.Course{}, fmt.Errorf("course not found: %w", err)
	}
	return c, err
}

// GetByPortalyProductID finds the live course mapped to a storefront product.
// PRE: productID is non-empty
// POST: Returns the entity or an error wrapping sql.ErrNoRows
func (s *SQLiteStore) GetByPortalyProductID(ctx context.Context, productID string) (domain.Course, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+courseColumns+" FROM course WHERE portaly_product_id = ? AND deleted_at = '' ORDER BY created_at ASC LIMIT 1",
		productID)
	c, err := scanCourse(row.Scan)
	if err == sql.ErrNoRows {
		return domain.Course{}, fmt.Errorf("course for product %s not found: %w", productID, err)
	}
	return c, err
}

// Save persists a Course to the database.
// PRE: entity has been validated
// POST: Entity is persisted (insert or update)
func (s *SQLiteStore) Save(ctx context.Context, entity domain.Course) error {
	_, err := s.db.ExecContext(ctx, courseUpsert, courseArgs(entity)...)
	return err
}

// CreateWithAssignment inserts the course and its creator's access row atomically.
// PRE: both entities have been validated
// POST: Both rows exist, or neither does
func (s *SQLiteStore) CreateWithAssignment(ctx context.Context, entity domain.Course, assignment purchaseDomain.Purchase) error {
	return storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, courseUpsert, courseArgs(entity)...); err != nil {
			return fmt.Errorf("insert course: %w", err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO purchase (id, user_id, course_id, portaly_order_id, buyer_email, amount, currency,
			   coupon_code, discount_amount, type, status, webhook_received_at, created_at)
			 VALUES (?, ?, ?, NULL, ?, 0, ?, '', 0, ?, ?, '', ?)`,
			assignment.ID, assignment.UserID, assignment.CourseID, assignment.BuyerEmail, assignment.Currency,
			assignment.Type, assignment.Status, storage.FormatTime(assignment.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert assignment: %w", err)
		}
		return nil
	})
}

// List returns courses matching the filter in catalog order.
// POST: Returns matching courses ordered by sort_order, then creation
func (s *SQLiteStore) List(ctx context.Context, filter ListFilter) ([]domain.Course, error) {
	var where []string
	var args []any
	if filter.ListedOnly {
		where = append(where, "is_published = 1", "status != ?", "deleted_at = ''")
		args = append(args, domain.StatusDraft)
	} else if !filter.IncludeDeleted {
		where = append(where, "deleted_at = ''")
	}
	if filter.CourseType != "" {
		where = append(where, "course_type = ?")
		args = append(args, filter.CourseType)
	}
	if len(filter.IDs) > 0 {
		where = append(where, "id IN ("+placeholders(len(filter.IDs))+")")
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}
	query := "SELECT " + courseColumns + " FROM course"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY sort_order ASC, created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Course
	for rows.Next() {
		c, err := scanCourse(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// PromoteDueForSale moves every due preorder course to selling.
// POST: Returns the IDs that changed status
func (s *SQLiteStore) PromoteDueForSale(ctx context.Context, now time.Time) ([]string, error) {
	ts := storage.FormatTime(now)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM course WHERE status = ? AND sale_at != '' AND sale_at <= ? AND deleted_at = ''`,
		domain.StatusPreorder, ts)
	if err != nil {
		return nil, err
	}
	var due []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		due = append(due, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var promoted []string
	for _, id := range due {
		res, err := s.db.ExecContext(ctx,
			`UPDATE course SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			domain.StatusSelling, ts, id, domain.StatusPreorder)
		if err != nil {
			return promoted, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			promoted = append(promoted, id)
		}
	}
	return promoted, nil
}

func courseArgs(c domain.Course) []any {
	return []any{
		c.ID, c.Name, c.Tagline, c.Description, c.Price, c.OriginalPrice, storage.FormatTime(c.PromoEndsAt),
		c.Thumbnail, c.InstructorName, storage.BoolToInt(c.IsPublished), c.Status, storage.FormatTime(c.SaleAt),
		c.SortOrder, c.CourseType, c.DripIntervalDays, c.PortalyURL, c.PortalyProductID, c.DurationMinutes,
		storage.FormatTime(c.CreatedAt), storage.FormatTime(c.UpdatedAt), storage.FormatTime(c.DeletedAt),
	}
}

func scanCourse(scan func(dest ...any) error) (domain.Course, error) {
	var c domain.Course
	var promoEndsAt, saleAt, createdAt, updatedAt, deletedAt string
	var published int
	err := scan(&c.ID, &c.Name, &c.Tagline, &c.Description, &c.Price, &c.OriginalPrice, &promoEndsAt,
		&c.Thumbnail, &c.InstructorName, &published, &c.Status, &saleAt, &c.SortOrder, &c.CourseType,
		&c.DripIntervalDays, &c.PortalyURL, &c.PortalyProductID, &c.DurationMinutes,
		&createdAt, &updatedAt, &deletedAt)
	if err != nil {
		return domain.Course{}, err
	}
	c.IsPublished = published == 1
	c.PromoEndsAt = storage.ParseTime(promoEndsAt)
	c.SaleAt = storage.ParseTime(saleAt)
	c.CreatedAt = storage.ParseTime(createdAt)
	c.UpdatedAt = storage.ParseTime(updatedAt)
	c.DeletedAt = storage.ParseTime(deletedAt)
	return c, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
