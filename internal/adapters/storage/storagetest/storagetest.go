// Package storagetest opens migrated in-memory databases for store tests.
package storagetest

import (
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"academy/internal/adapters/storage"
)

var seq atomic.Int64

// Open returns a fully migrated in-memory database private to the test.
// Each call gets its own shared-cache name so the pool's connections agree on contents.
func Open(t *testing.T) *sql.DB {
	t.Helper()
	name := fmt.Sprintf("file:storagetest%d?mode=memory&cache=shared&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", seq.Add(1))
	db, err := sql.Open("sqlite", name)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := storage.MigrateDB(db, ""); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

// SeedAccount inserts a bare account row and returns its id.
func SeedAccount(t *testing.T, db *sql.DB, id, email, role string) string {
	t.Helper()
	_, err := db.Exec(`INSERT INTO account (id, email, role, created_at) VALUES (?, ?, ?, ?)`,
		id, email, role, storage.FormatTime(time.Now()))
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return id
}

// SeedCourse inserts a bare course row and returns its id.
func SeedCourse(t *testing.T, db *sql.DB, id, courseType string, intervalDays int) string {
	t.Helper()
	now := storage.FormatTime(time.Now())
	_, err := db.Exec(`INSERT INTO course (id, name, status, is_published, course_type, drip_interval_days, created_at, updated_at)
		VALUES (?, ?, 'selling', 1, ?, ?, ?, ?)`, id, "Course "+id, courseType, intervalDays, now, now)
	if err != nil {
		t.Fatalf("seed course: %v", err)
	}
	return id
}
