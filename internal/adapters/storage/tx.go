package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// TimeLayout is the TEXT encoding used for every timestamp column. Values are
// written in UTC with fixed-width fractions so string order matches time order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrConflict is returned when a guarded update loses a race with another writer.
var ErrConflict = errors.New("row changed concurrently")

// Beginner is satisfied by *sql.DB and SQLDB.
type Beginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// WithTx runs fn inside a transaction, committing on nil and rolling back otherwise.
// PRE: db is a valid connection
// POST: either every statement in fn is committed or none is
func WithTx(ctx context.Context, db Beginner, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// FormatTime encodes t for a TEXT column; the zero time becomes "".
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

// ParseTime decodes a TEXT column written by FormatTime.
func ParseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(TimeLayout, s)
	return t
}

// IsUniqueViolation reports whether err came from a UNIQUE or PRIMARY KEY constraint.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY constraint failed")
}

// BoolToInt maps a bool onto SQLite's integer booleans.
func BoolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
