package storage

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"assocmail/internal/adapters/http/perf"
)

// SQLDB is the database interface used by all stores.
// Both *sql.DB and *TimedDB satisfy this interface.
type SQLDB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

var _ SQLDB = (*sql.DB)(nil)

// DefaultSlowQuery is the threshold above which a statement is logged as slow.
const DefaultSlowQuery = 50 * time.Millisecond

// unlabelled is recorded for statements issued without WithQueryLabel.
const unlabelled = "unlabelled"

type queryLabelKey struct{}

// WithQueryLabel names the store operation that issues the statements run
// under ctx, e.g. "queue.claim". The label is what the perf collector groups by.
func WithQueryLabel(ctx context.Context, label string) context.Context {
	return context.WithValue(ctx, queryLabelKey{}, label)
}

// QueryLabel returns the label set by WithQueryLabel, or "unlabelled".
func QueryLabel(ctx context.Context) string {
	if label, ok := ctx.Value(queryLabelKey{}).(string); ok && label != "" {
		return label
	}
	return unlabelled
}

// TimedDB times every statement against the store operation that issued it.
// Statements slower than the threshold are logged with their first line.
type TimedDB struct {
	db        *sql.DB
	collector *perf.Collector
	slow      time.Duration
}

var _ SQLDB = (*TimedDB)(nil)

// NewTimedDB wraps db. A nil collector only logs.
// PRE: db is open
// POST: slow <= 0 uses DefaultSlowQuery
func NewTimedDB(db *sql.DB, collector *perf.Collector, slow time.Duration) *TimedDB {
	if slow <= 0 {
		slow = DefaultSlowQuery
	}
	return &TimedDB{db: db, collector: collector, slow: slow}
}

// RawDB returns the underlying *sql.DB for migrations and pool settings.
func (t *TimedDB) RawDB() *sql.DB {
	return t.db
}

func (t *TimedDB) observe(ctx context.Context, query string, start time.Time, err error) {
	elapsed := time.Since(start)
	label := QueryLabel(ctx)

	if elapsed >= t.slow {
		zap.L().Warn("slow_query",
			zap.String("label", label),
			zap.String("query", firstLine(query)),
			zap.Duration("duration", elapsed),
			zap.Error(err))
	} else if ce := zap.L().Check(zap.DebugLevel, "query"); ce != nil {
		ce.Write(zap.String("label", label), zap.Duration("duration", elapsed))
	}

	if t.collector != nil {
		t.collector.Record(perf.Entry{
			Kind:       perf.KindQuery,
			Path:       label,
			DurationMs: float64(elapsed.Microseconds()) / 1000.0,
			Timestamp:  start,
		})
	}
}

func (t *TimedDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	start := time.Now()
	res, err := t.db.ExecContext(ctx, query, args...)
	t.observe(ctx, query, start, err)
	return res, err
}

func (t *TimedDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := t.db.QueryContext(ctx, query, args...)
	t.observe(ctx, query, start, err)
	return rows, err
}

// QueryRowContext defers its error to Scan, so only the round trip is timed.
func (t *TimedDB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	start := time.Now()
	row := t.db.QueryRowContext(ctx, query, args...)
	t.observe(ctx, query, start, row.Err())
	return row
}

// BeginTx times acquiring the transaction. Statements run on the returned
// *sql.Tx are not timed.
func (t *TimedDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	start := time.Now()
	tx, err := t.db.BeginTx(ctx, opts)
	t.observe(ctx, "BEGIN", start, err)
	return tx, err
}

func (t *TimedDB) Close() error {
	return t.db.Close()
}

func firstLine(query string) string {
	for i, r := range query {
		if r == '\n' {
			return query[:i]
		}
	}
	return query
}
