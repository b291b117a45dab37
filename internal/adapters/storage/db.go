package storage

import (
	"database/sql"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
)

// migration is one forward-only schema step. Steps run in a transaction and
// must be safe on a database that already has the objects (IF NOT EXISTS),
// except ALTER TABLE, which relies on the recorded version to run once.
type migration struct {
	version     int
	description string
	stmts       []string
}

var migrations = []migration{
	{
		version:     1,
		description: "baseline email pipeline schema",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS member (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				first_name TEXT NOT NULL,
				last_name TEXT NOT NULL DEFAULT '',
				email TEXT NOT NULL UNIQUE,
				country TEXT NOT NULL DEFAULT '',
				membership_type TEXT NOT NULL,
				status TEXT NOT NULL,
				membership_end_date TEXT,
				payment_amount INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS member_renewal (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				member_id INTEGER NOT NULL,
				renewed_at TEXT NOT NULL,
				FOREIGN KEY (member_id) REFERENCES member(id)
			)`,
			`CREATE TABLE IF NOT EXISTS email_templates (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				template_key TEXT NOT NULL UNIQUE,
				name TEXT NOT NULL DEFAULT '',
				active INTEGER NOT NULL DEFAULT 1,
				subject_en TEXT NOT NULL DEFAULT '',
				body_en TEXT NOT NULL DEFAULT '',
				subject_es TEXT NOT NULL DEFAULT '',
				body_es TEXT NOT NULL DEFAULT '',
				subject_ca TEXT NOT NULL DEFAULT '',
				body_ca TEXT NOT NULL DEFAULT '',
				updated_at TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS email_automation_rules (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				trigger_type TEXT NOT NULL,
				template_id INTEGER,
				days_offset INTEGER NOT NULL DEFAULT 0,
				active INTEGER NOT NULL DEFAULT 1,
				FOREIGN KEY (template_id) REFERENCES email_templates(id)
			)`,
			`CREATE TABLE IF NOT EXISTS email_queue (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				recipient_email TEXT NOT NULL,
				recipient_name TEXT NOT NULL DEFAULT '',
				subject TEXT NOT NULL,
				body TEXT NOT NULL,
				template_key TEXT NOT NULL,
				member_id INTEGER,
				priority TEXT NOT NULL DEFAULT 'normal',
				status TEXT NOT NULL DEFAULT 'pending',
				scheduled_for TEXT,
				retry_count INTEGER NOT NULL DEFAULT 0,
				max_retries INTEGER NOT NULL DEFAULT 3,
				error_message TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL,
				sent_at TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS email_logs (
				id TEXT PRIMARY KEY,
				queue_id INTEGER,
				member_id INTEGER,
				recipient TEXT NOT NULL,
				template_key TEXT NOT NULL,
				subject TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				error_message TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL
			)`,
		},
	},
	{
		version:     2,
		description: "indexes for due-message scans and reminder de-duplication",
		stmts: []string{
			`CREATE INDEX IF NOT EXISTS idx_email_queue_due ON email_queue (status, scheduled_for)`,
			`CREATE INDEX IF NOT EXISTS idx_email_queue_member ON email_queue (member_id, template_key, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_email_logs_member ON email_logs (member_id, template_key, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_email_logs_created ON email_logs (created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_rules_trigger ON email_automation_rules (trigger_type, active)`,
			`CREATE INDEX IF NOT EXISTS idx_member_expiry ON member (status, membership_end_date)`,
		},
	},
	{
		version:     3,
		description: "claim stamp on queued messages for stale claim recovery",
		stmts: []string{
			`ALTER TABLE email_queue ADD COLUMN claimed_at TEXT`,
			`CREATE INDEX IF NOT EXISTS idx_email_queue_claimed ON email_queue (status, claimed_at)`,
			`CREATE INDEX IF NOT EXISTS idx_member_renewal_member ON member_renewal (member_id, renewed_at)`,
		},
	},
}

// LatestSchemaVersion returns the version the migration chain ends at.
func LatestSchemaVersion() int {
	return migrations[len(migrations)-1].version
}

// SchemaVersion returns the applied schema version, 0 for an empty database.
// PRE: db is a valid database connection
// POST: database is not modified
func SchemaVersion(db *sql.DB) (int, error) {
	var n int
	err := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='schema_version'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("check schema_version table: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	var v sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return int(v.Int64), nil
}

// MigrateDB brings the schema up to LatestSchemaVersion. When dbPath names a
// file that already holds data, a copy is written next to it before the
// first pending step.
// PRE: db is a valid SQLite connection
// POST: All migrations applied, WAL mode and foreign keys enabled
func MigrateDB(db *sql.DB, dbPath string) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create schema_version: %w", err)
	}

	current, err := SchemaVersion(db)
	if err != nil {
		return err
	}
	if current >= LatestSchemaVersion() {
		return nil
	}
	if current > 0 {
		if err := backupFile(dbPath, current); err != nil {
			return err
		}
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return err
		}
		zap.L().Info("schema_migrated",
			zap.Int("version", m.version),
			zap.String("description", m.description))
	}
	return nil
}

func applyMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migration %d: begin: %w", m.version, err)
	}
	defer tx.Rollback()

	for _, stmt := range m.stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO schema_version (version, applied_at) VALUES (?, datetime('now'))`, m.version); err != nil {
		return fmt.Errorf("migration %d: record version: %w", m.version, err)
	}
	return tx.Commit()
}

// backupFile copies the database file before an upgrade. In-memory and
// missing files are skipped.
func backupFile(dbPath string, version int) error {
	if dbPath == "" || dbPath == ":memory:" {
		return nil
	}
	src, err := os.Open(dbPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open db for backup: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(fmt.Sprintf("%s.v%d.bak", dbPath, version))
	if err != nil {
		return fmt.Errorf("create db backup: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy db backup: %w", err)
	}
	return dst.Sync()
}
