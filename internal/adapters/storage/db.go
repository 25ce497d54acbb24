package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// migration is one forward-only schema step. Steps run in order inside a transaction.
type migration struct {
	version     int
	description string
	statements  []string
}

var migrations = []migration{
	{
		version:     1,
		description: "baseline catalog, purchases and progress",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS account (
				id TEXT PRIMARY KEY,
				email TEXT NOT NULL UNIQUE,
				password_hash TEXT NOT NULL DEFAULT '',
				nickname TEXT NOT NULL DEFAULT '',
				real_name TEXT NOT NULL DEFAULT '',
				phone TEXT NOT NULL DEFAULT '',
				role TEXT NOT NULL,
				created_at TEXT NOT NULL,
				last_login_at TEXT NOT NULL DEFAULT '',
				last_login_ip TEXT NOT NULL DEFAULT '',
				failed_logins INTEGER NOT NULL DEFAULT 0,
				locked_until TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE TABLE IF NOT EXISTS course (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				tagline TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				price INTEGER NOT NULL DEFAULT 0,
				original_price INTEGER NOT NULL DEFAULT 0,
				promo_ends_at TEXT NOT NULL DEFAULT '',
				thumbnail TEXT NOT NULL DEFAULT '',
				instructor_name TEXT NOT NULL DEFAULT '',
				is_published INTEGER NOT NULL DEFAULT 0,
				status TEXT NOT NULL DEFAULT 'draft',
				sale_at TEXT NOT NULL DEFAULT '',
				sort_order INTEGER NOT NULL DEFAULT 0,
				portaly_url TEXT NOT NULL DEFAULT '',
				portaly_product_id TEXT NOT NULL DEFAULT '',
				duration_minutes INTEGER NOT NULL DEFAULT 0,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				deleted_at TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE INDEX IF NOT EXISTS idx_course_portaly_product ON course(portaly_product_id)`,
			`CREATE INDEX IF NOT EXISTS idx_course_status_sale ON course(status, sale_at)`,
			`CREATE TABLE IF NOT EXISTS chapter (
				id TEXT PRIMARY KEY,
				course_id TEXT NOT NULL,
				title TEXT NOT NULL,
				sort_order INTEGER NOT NULL DEFAULT 0,
				FOREIGN KEY (course_id) REFERENCES course(id) ON DELETE CASCADE
			)`,
			`CREATE TABLE IF NOT EXISTS lesson (
				id TEXT PRIMARY KEY,
				course_id TEXT NOT NULL,
				chapter_id TEXT,
				title TEXT NOT NULL,
				video_platform TEXT NOT NULL DEFAULT '',
				video_id TEXT NOT NULL DEFAULT '',
				video_url TEXT NOT NULL DEFAULT '',
				body TEXT NOT NULL DEFAULT '',
				promo_delay_seconds INTEGER NOT NULL DEFAULT -1,
				promo_html TEXT NOT NULL DEFAULT '',
				duration_seconds INTEGER NOT NULL DEFAULT 0,
				sort_order INTEGER NOT NULL DEFAULT 0,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				FOREIGN KEY (course_id) REFERENCES course(id) ON DELETE CASCADE,
				FOREIGN KEY (chapter_id) REFERENCES chapter(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_lesson_course_order ON lesson(course_id, sort_order)`,
			`CREATE TABLE IF NOT EXISTS purchase (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				course_id TEXT NOT NULL,
				portaly_order_id TEXT UNIQUE,
				buyer_email TEXT NOT NULL DEFAULT '',
				amount INTEGER NOT NULL DEFAULT 0,
				currency TEXT NOT NULL DEFAULT 'TWD',
				coupon_code TEXT NOT NULL DEFAULT '',
				discount_amount INTEGER NOT NULL DEFAULT 0,
				type TEXT NOT NULL DEFAULT 'paid',
				status TEXT NOT NULL DEFAULT 'paid',
				webhook_received_at TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL,
				UNIQUE (user_id, course_id),
				FOREIGN KEY (user_id) REFERENCES account(id) ON DELETE CASCADE,
				FOREIGN KEY (course_id) REFERENCES course(id)
			)`,
			`CREATE TABLE IF NOT EXISTS lesson_progress (
				user_id TEXT NOT NULL,
				lesson_id TEXT NOT NULL,
				created_at TEXT NOT NULL,
				PRIMARY KEY (user_id, lesson_id),
				FOREIGN KEY (user_id) REFERENCES account(id) ON DELETE CASCADE,
				FOREIGN KEY (lesson_id) REFERENCES lesson(id) ON DELETE CASCADE
			)`,
		},
	},
	{
		version:     2,
		description: "drip courses",
		statements: []string{
			`ALTER TABLE course ADD COLUMN course_type TEXT NOT NULL DEFAULT 'standard'`,
			`ALTER TABLE course ADD COLUMN drip_interval_days INTEGER NOT NULL DEFAULT 0`,
			`CREATE TABLE IF NOT EXISTS drip_subscription (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				course_id TEXT NOT NULL,
				subscribed_at TEXT NOT NULL,
				emails_sent INTEGER NOT NULL DEFAULT 0,
				status TEXT NOT NULL DEFAULT 'active',
				status_changed_at TEXT NOT NULL DEFAULT '',
				unsubscribe_token TEXT NOT NULL UNIQUE,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				UNIQUE (user_id, course_id),
				FOREIGN KEY (user_id) REFERENCES account(id) ON DELETE CASCADE,
				FOREIGN KEY (course_id) REFERENCES course(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_drip_subscription_course_status ON drip_subscription(course_id, status)`,
			`CREATE TABLE IF NOT EXISTS drip_conversion_target (
				drip_course_id TEXT NOT NULL,
				target_course_id TEXT NOT NULL,
				PRIMARY KEY (drip_course_id, target_course_id),
				FOREIGN KEY (drip_course_id) REFERENCES course(id) ON DELETE CASCADE,
				FOREIGN KEY (target_course_id) REFERENCES course(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_drip_conversion_target ON drip_conversion_target(target_course_id)`,
		},
	},
	{
		version:     3,
		description: "verification codes and job outbox",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS verification_code (
				id TEXT PRIMARY KEY,
				email TEXT NOT NULL,
				code TEXT NOT NULL,
				attempts INTEGER NOT NULL DEFAULT 0,
				locked_until TEXT NOT NULL DEFAULT '',
				expires_at TEXT NOT NULL,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_verification_code_email ON verification_code(email, created_at)`,
			`CREATE TABLE IF NOT EXISTS outbox (
				id TEXT PRIMARY KEY,
				action_type TEXT NOT NULL,
				payload TEXT NOT NULL,
				status TEXT NOT NULL,
				attempts INTEGER NOT NULL DEFAULT 0,
				max_attempts INTEGER NOT NULL DEFAULT 3,
				next_attempt_at TEXT NOT NULL DEFAULT '',
				last_attempted_at TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL,
				external_id TEXT NOT NULL DEFAULT '',
				error_message TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE INDEX IF NOT EXISTS idx_outbox_due ON outbox(status, next_attempt_at)`,
		},
	},
}

// LatestSchemaVersion returns the version the migration chain ends at.
func LatestSchemaVersion() int {
	return migrations[len(migrations)-1].version
}

// SchemaVersion returns the currently applied version, 0 for an empty database.
// PRE: db is a valid database connection
func SchemaVersion(db *sql.DB) (int, error) {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return 0, fmt.Errorf("create schema_version: %w", err)
	}
	var version sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
	return int(version.Int64), nil
}

// MigrateDB applies every pending migration. When dbPath names a file and the
// database already holds data, a copy is taken with VACUUM INTO first.
// PRE: db is a valid database connection with foreign keys enabled
// POST: SchemaVersion(db) == LatestSchemaVersion()
func MigrateDB(db *sql.DB, dbPath string) error {
	current, err := SchemaVersion(db)
	if err != nil {
		return err
	}
	if current >= LatestSchemaVersion() {
		return nil
	}

	if current > 0 && dbPath != "" && !strings.HasPrefix(dbPath, ":memory:") {
		backup := fmt.Sprintf("%s.v%d.bak", dbPath, current)
		if _, err := db.Exec(`VACUUM INTO ?`, backup); err != nil {
			return fmt.Errorf("backup before migration: %w", err)
		}
		slog.Info("schema_backup_written", "path", backup, "version", current)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
		}
		slog.Info("schema_migrated", "version", m.version, "description", m.description)
	}
	return nil
}

func applyMigration(db *sql.DB, m migration) error {
	return WithTx(context.Background(), db, func(tx *sql.Tx) error {
		for _, stmt := range m.statements {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}
		_, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, m.version)
		return err
	})
}
