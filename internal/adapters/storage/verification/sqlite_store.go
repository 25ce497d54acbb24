package verification

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"academy/internal/adapters/storage"
	domain "academy/internal/domain/verification"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new verification code store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Latest retrieves the newest code issued to email.
// PRE: email is non-empty
// POST: Returns the entity or an error wrapping sql.ErrNoRows
func (s *SQLiteStore) Latest(ctx context.Context, email string) (domain.Code, error) {
	var c domain.Code
	var lockedUntil, expiresAt, createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, code, attempts, locked_until, expires_at, created_at
		 FROM verification_code WHERE email = ? ORDER BY created_at DESC LIMIT 1`,
		domain.NormalizeEmail(email),
	).Scan(&c.ID, &c.Email, &c.Code, &c.Attempts, &lockedUntil, &expiresAt, &createdAt)
	if err == sql.ErrNoRows {
		return domain.Code{}, fmt.Errorf("verification code not found: %w", err)
	}
	if err != nil {
		return domain.Code{}, err
	}
	c.LockedUntil = storage.ParseTime(lockedUntil)
	c.ExpiresAt = storage.ParseTime(expiresAt)
	c.CreatedAt = storage.ParseTime(createdAt)
	return c, nil
}

// Save persists a code, updating attempts and lock on an existing row.
// PRE: c.ID and c.Email are non-empty
// POST: Entity is persisted (insert or update)
func (s *SQLiteStore) Save(ctx context.Context, c domain.Code) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO verification_code (id, email, code, attempts, locked_until, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET attempts=excluded.attempts, locked_until=excluded.locked_until`,
		c.ID, domain.NormalizeEmail(c.Email), c.Code, c.Attempts, storage.FormatTime(c.LockedUntil),
		storage.FormatTime(c.ExpiresAt), storage.FormatTime(c.CreatedAt))
	return err
}

// DeleteByEmail removes every code issued to email.
func (s *SQLiteStore) DeleteByEmail(ctx context.Context, email string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM verification_code WHERE email = ?`, domain.NormalizeEmail(email))
	return err
}

// DeleteExpired purges dead codes; locked codes survive until their lock lifts.
// POST: Returns the number of rows removed
func (s *SQLiteStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	ts := storage.FormatTime(cutoff)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM verification_code WHERE expires_at <= ? AND (locked_until = '' OR locked_until <= ?)`, ts, ts)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
