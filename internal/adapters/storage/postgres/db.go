// Package postgres implements the pipeline's store contracts on PostgreSQL
// through a pgx connection pool.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DB is the subset of *pgxpool.Pool used by the stores.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

var _ DB = (*pgxpool.Pool)(nil)

// PoolConfig bounds the connection pool.
type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultPoolConfig suits a single worker process.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
	}
}

// Open connects a pool and verifies it with a ping.
// PRE: url is a postgres connection string
// POST: Returns a live pool; caller closes it
func Open(ctx context.Context, url string, pc PoolConfig) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	config.MaxConns = pc.MaxConns
	config.MinConns = pc.MinConns
	config.MaxConnLifetime = pc.MaxConnLifetime
	config.MaxConnIdleTime = pc.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	zap.L().Info("postgres_connected", zap.Int32("max_conns", pc.MaxConns))
	return pool, nil
}

// schema is applied in order; each step is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS member (
		id BIGSERIAL PRIMARY KEY,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL UNIQUE,
		country TEXT NOT NULL DEFAULT '',
		membership_type TEXT NOT NULL,
		status TEXT NOT NULL,
		membership_end_date DATE,
		payment_amount BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS member_renewal (
		id BIGSERIAL PRIMARY KEY,
		member_id BIGINT NOT NULL REFERENCES member(id),
		renewed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS email_templates (
		id BIGSERIAL PRIMARY KEY,
		template_key TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		subject_en TEXT NOT NULL DEFAULT '',
		body_en TEXT NOT NULL DEFAULT '',
		subject_es TEXT NOT NULL DEFAULT '',
		body_es TEXT NOT NULL DEFAULT '',
		subject_ca TEXT NOT NULL DEFAULT '',
		body_ca TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS email_automation_rules (
		id BIGSERIAL PRIMARY KEY,
		trigger_type TEXT NOT NULL,
		template_id BIGINT REFERENCES email_templates(id) ON DELETE SET NULL,
		days_offset INTEGER NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS email_queue (
		id BIGSERIAL PRIMARY KEY,
		recipient_email TEXT NOT NULL,
		recipient_name TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL,
		body TEXT NOT NULL,
		template_key TEXT NOT NULL,
		member_id BIGINT,
		priority TEXT NOT NULL DEFAULT 'normal',
		status TEXT NOT NULL DEFAULT 'pending',
		scheduled_for TIMESTAMPTZ,
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 3,
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		sent_at TIMESTAMPTZ,
		claimed_at TIMESTAMPTZ
	)`,
	`ALTER TABLE email_queue ADD COLUMN IF NOT EXISTS claimed_at TIMESTAMPTZ`,
	`CREATE TABLE IF NOT EXISTS email_logs (
		id UUID PRIMARY KEY,
		queue_id BIGINT,
		member_id BIGINT,
		recipient TEXT NOT NULL,
		template_key TEXT NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_email_queue_due ON email_queue (status, scheduled_for)`,
	`CREATE INDEX IF NOT EXISTS idx_email_queue_member ON email_queue (member_id, template_key, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_email_logs_member ON email_logs (member_id, template_key, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_email_logs_created ON email_logs (created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_rules_trigger ON email_automation_rules (trigger_type, active)`,
	`CREATE INDEX IF NOT EXISTS idx_member_expiry ON member (status, membership_end_date)`,
	`CREATE INDEX IF NOT EXISTS idx_email_queue_claimed ON email_queue (status, claimed_at)`,
	`CREATE INDEX IF NOT EXISTS idx_member_renewal_member ON member_renewal (member_id, renewed_at)`,
}

// SchemaVersion is recorded once the schema above is in place.
const SchemaVersion = 2

// migrationLockID serialises concurrent Migrate calls across processes.
const migrationLockID = 72_001

// Migrate creates the schema inside one transaction holding an advisory lock.
// PRE: pool is connected
// POST: All tables and indexes exist; schema_version records SchemaVersion
func Migrate(ctx context.Context, db DB) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("migration lock: %w", err)
	}
	for _, stmt := range schema {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement failed: %w", err)
		}
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO schema_version (version) VALUES ($1) ON CONFLICT (version) DO NOTHING`, SchemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	zap.L().Info("postgres_migrated", zap.Int("version", SchemaVersion))
	return nil
}

// nullTime maps the zero time to NULL.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

// nullID maps 0 to NULL for optional references.
func nullID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

func derefID(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}
