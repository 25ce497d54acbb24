package account

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"academy/internal/adapters/storage"
	domain "academy/internal/domain/account"
)

const accountColumns = `id, email, password_hash, nickname, real_name, phone, role, created_at,
	last_login_at, last_login_ip, failed_logins, locked_until`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new AccountStore.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// GetByID retrieves an Account by its ID.
// PRE: id is non-empty
// POST: Returns the entity or an error wrapping sql.ErrNoRows
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (domain.Account, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM account WHERE id = ?", id)
	entity, err := scanAccount(row.Scan)
	if err == sql.ErrNoRows {
		return domain.Account{}, fmt.Errorf("account not found: %w", err)
	}
	return entity, err
}

// GetByEmail retrieves an Account by email, case-insensitively.
// PRE: email is non-empty
// POST: Returns the entity or an error wrapping sql.ErrNoRows
func (s *SQLiteStore) GetByEmail(ctx context.Context, email string) (domain.Account, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM account WHERE email = ?", domain.NormalizeEmail(email))
	entity, err := scanAccount(row.Scan)
	if err == sql.ErrNoRows {
		return domain.Account{}, fmt.Errorf("account not found: %w", err)
	}
	return entity, err
}

// Create inserts a new account.
// PRE: entity has been validated
// POST: Row inserted, or ErrDuplicate when the email exists
func (s *SQLiteStore) Create(ctx context.Context, entity domain.Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO account (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		accountArgs(entity)...)
	if storage.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// Save persists an Account to the database.
// PRE: entity has been validated
// POST: Entity is persisted (insert or update)
func (s *SQLiteStore) Save(ctx context.Context, entity domain.Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO account (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   email=excluded.email, password_hash=excluded.password_hash, nickname=excluded.nickname,
		   real_name=excluded.real_name, phone=excluded.phone, role=excluded.role,
		   last_login_at=excluded.last_login_at, last_login_ip=excluded.last_login_ip,
		   failed_logins=excluded.failed_logins, locked_until=excluded.locked_until`,
		accountArgs(entity)...)
	if storage.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// List returns accounts matching the filter ordered by creation.
// PRE: filter.Limit >= 0
// POST: Returns matching accounts
func (s *SQLiteStore) List(ctx context.Context, filter ListFilter) ([]domain.Account, error) {
	where, args := filterClause(filter)
	query := "SELECT " + accountColumns + " FROM account" + where
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Account
	for rows.Next() {
		entity, err := scanAccount(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, entity)
	}
	return result, rows.Err()
}

// CountMatching counts accounts matching filter, ignoring paging.
func (s *SQLiteStore) CountMatching(ctx context.Context, filter ListFilter) (int, error) {
	where, args := filterClause(filter)
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM account"+where, args...).Scan(&n)
	return n, err
}

func filterClause(filter ListFilter) (string, []any) {
	var where []string
	var args []any
	if filter.Role != "" {
		where = append(where, "role = ?")
		args = append(args, filter.Role)
	}
	if len(filter.IDs) > 0 {
		where = append(where, "id IN ("+placeholders(len(filter.IDs))+")")
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}
	if filter.CourseID != "" {
		where = append(where, "id IN (SELECT user_id FROM purchase WHERE course_id = ? AND status = 'paid')")
		args = append(args, filter.CourseID)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		like := "%" + strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(strings.ToLower(search)) + "%"
		where = append(where, `(email LIKE ? ESCAPE '\' OR lower(nickname) LIKE ? ESCAPE '\' OR lower(real_name) LIKE ? ESCAPE '\')`)
		args = append(args, like, like, like)
	}
	if len(where) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

// Count returns the total number of accounts.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM account").Scan(&n)
	return n, err
}

func accountArgs(a domain.Account) []any {
	return []any{
		a.ID, domain.NormalizeEmail(a.Email), a.PasswordHash, a.Nickname, a.RealName, a.Phone, a.Role,
		storage.FormatTime(a.CreatedAt), storage.FormatTime(a.LastLoginAt), a.LastLoginIP,
		a.FailedLogins, storage.FormatTime(a.LockedUntil),
	}
}

func scanAccount(scan func(dest ...any) error) (domain.Account, error) {
	var a domain.Account
	var createdAt, lastLoginAt, lockedUntil string
	err := scan(&a.ID, &a.Email, &a.PasswordHash, &a.Nickname, &a.RealName, &a.Phone, &a.Role,
		&createdAt, &lastLoginAt, &a.LastLoginIP, &a.FailedLogins, &lockedUntil)
	if err != nil {
		return domain.Account{}, err
	}
	a.CreatedAt = storage.ParseTime(createdAt)
	a.LastLoginAt = storage.ParseTime(lastLoginAt)
	a.LockedUntil = storage.ParseTime(lockedUntil)
	return a, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
