package purchase

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"academy/internal/adapters/storage"
	domain "academy/internal/domain/purchase"
)

const purchaseColumns = `id, user_id, course_id, portaly_order_id, buyer_email, amount, currency,
	coupon_code, discount_amount, type, status, webhook_received_at, created_at`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new PurchaseStore.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// GetByID retrieves a Purchase by its ID.
// PRE: id is non-empty
// POST: Returns the entity or an error wrapping sql.ErrNoRows
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (domain.Purchase, error) {
	return s.getOne(ctx, "id = ?", id)
}

// GetByOrderID retrieves the purchase recorded for a storefront order.
// PRE: orderID is non-empty
// POST: Returns the entity or an error wrapping sql.ErrNoRows
func (s *SQLiteStore) GetByOrderID(ctx context.Context, orderID string) (domain.Purchase, error) {
	return s.getOne(ctx, "portaly_order_id = ?", orderID)
}

// GetByUserAndCourse retrieves the single purchase linking a user and course.
// POST: Returns the entity or an error wrapping sql.ErrNoRows
func (s *SQLiteStore) GetByUserAndCourse(ctx context.Context, userID, courseID string) (domain.Purchase, error) {
	return s.getOne(ctx, "user_id = ? AND course_id = ?", userID, courseID)
}

func (s *SQLiteStore) getOne(ctx context.Context, where string, args ...any) (domain.Purchase, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+purchaseColumns+" FROM purchase WHERE "+where, args...)
	p, err := scanPurchase(row.Scan)
	if err == sql.ErrNoRows {
		return domain.Purchase{}, fmt.Errorf("purchase not found: %w", err)
	}
	return p, err
}

// Create inserts a new purchase.
// PRE: entity has been validated
// POST: Row inserted, or a duplicate error naming the violated constraint
func (s *SQLiteStore) Create(ctx context.Context, p domain.Purchase) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO purchase (`+purchaseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.CourseID, nullable(p.PortalyOrderID), p.BuyerEmail, p.Amount, p.Currency,
		p.CouponCode, p.DiscountAmount, p.Type, p.Status,
		storage.FormatTime(p.WebhookReceivedAt), storage.FormatTime(p.CreatedAt))
	if storage.IsUniqueViolation(err) {
		if strings.Contains(err.Error(), "portaly_order_id") {
			return ErrDuplicateOrder
		}
		return ErrDuplicate
	}
	return err
}

// UpdateStatus changes only the status column.
// POST: Returns an error wrapping sql.ErrNoRows when id is unknown
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE purchase SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("purchase not found: %w", sql.ErrNoRows)
	}
	return nil
}

// ListByUser returns a user's purchases, newest first.
func (s *SQLiteStore) ListByUser(ctx context.Context, userID string) ([]domain.Purchase, error) {
	return s.list(ctx, "user_id = ? ORDER BY created_at DESC", userID)
}

// ListByCourse returns a course's purchases, newest first.
func (s *SQLiteStore) ListByCourse(ctx context.Context, courseID string) ([]domain.Purchase, error) {
	return s.list(ctx, "course_id = ? ORDER BY created_at DESC", courseID)
}

func (s *SQLiteStore) list(ctx context.Context, clause string, args ...any) ([]domain.Purchase, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+purchaseColumns+" FROM purchase WHERE "+clause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// HasAccess reports whether a paid-status purchase exists.
func (s *SQLiteStore) HasAccess(ctx context.Context, userID, courseID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM purchase WHERE user_id = ? AND course_id = ? AND status = ?`,
		userID, courseID, domain.StatusPaid).Scan(&n)
	return n > 0, err
}

// CountPaid counts purchases other than the creator's automatic one.
func (s *SQLiteStore) CountPaid(ctx context.Context, courseID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM purchase WHERE course_id = ? AND type != ?`,
		courseID, domain.TypeSystemAssigned).Scan(&n)
	return n, err
}

// CountSales counts every purchase except the automatic creator ones.
func (s *SQLiteStore) CountSales(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM purchase WHERE type != ?`, domain.TypeSystemAssigned).Scan(&n)
	return n, err
}

// DeleteSystemAssigned removes the automatic purchases of a course being deleted.
func (s *SQLiteStore) DeleteSystemAssigned(ctx context.Context, courseID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM purchase WHERE course_id = ? AND type = ?`, courseID, domain.TypeSystemAssigned)
	return err
}

func scanPurchase(scan func(dest ...any) error) (domain.Purchase, error) {
	var p domain.Purchase
	var orderID sql.NullString
	var receivedAt, createdAt string
	err := scan(&p.ID, &p.UserID, &p.CourseID, &orderID, &p.BuyerEmail, &p.Amount, &p.Currency,
		&p.CouponCode, &p.DiscountAmount, &p.Type, &p.Status, &receivedAt, &createdAt)
	if err != nil {
		return domain.Purchase{}, err
	}
	p.PortalyOrderID = orderID.String
	p.WebhookReceivedAt = storage.ParseTime(receivedAt)
	p.CreatedAt = storage.ParseTime(createdAt)
	return p, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
