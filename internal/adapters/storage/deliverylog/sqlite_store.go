package deliverylog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"assocmail/internal/adapters/storage"
	domain "assocmail/internal/domain/deliverylog"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new delivery log store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Append inserts a log entry. Entries are never updated.
func (s *SQLiteStore) Append(ctx context.Context, e domain.Entry) error {
	ctx = storage.WithQueryLabel(ctx, "deliverylog.append")
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO email_logs (id, queue_id, member_id, recipient, template_key, subject, status, error_message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, storage.NullInt64(e.MessageID), storage.NullInt64(e.MemberID), e.Recipient, e.TemplateKey,
		e.Subject, e.Status, e.Error, storage.FormatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("append delivery log: %w", err)
	}
	return nil
}

// ExistsForMember reports whether the pair was logged in [from, to).
func (s *SQLiteStore) ExistsForMember(ctx context.Context, memberID int64, templateKey string, from, to time.Time) (bool, error) {
	ctx = storage.WithQueryLabel(ctx, "deliverylog.exists_for_member")
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM email_logs
		 WHERE member_id = ? AND template_key = ? AND created_at >= ? AND created_at < ?`,
		memberID, templateKey, storage.FormatTime(from).String, storage.FormatTime(to).String).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check logged duplicate: %w", err)
	}
	return n > 0, nil
}

// Statistics aggregates outcomes per template since the given instant.
func (s *SQLiteStore) Statistics(ctx context.Context, since time.Time) ([]domain.TemplateStat, error) {
	ctx = storage.WithQueryLabel(ctx, "deliverylog.statistics")
	rows, err := s.db.QueryContext(ctx,
		`SELECT template_key,
		        count(*) AS total,
		        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END),
		        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END)
		 FROM email_logs
		 WHERE created_at >= ?
		 GROUP BY template_key
		 ORDER BY total DESC, template_key ASC`,
		domain.StatusSent, domain.StatusFailed, storage.FormatTime(since).String)
	if err != nil {
		return nil, fmt.Errorf("delivery statistics: %w", err)
	}
	defer rows.Close()

	stats := []domain.TemplateStat{}
	for rows.Next() {
		var st domain.TemplateStat
		if err := rows.Scan(&st.TemplateKey, &st.Total, &st.Sent, &st.Failed); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// ListByMember returns a member's log entries, newest first.
// PRE: limit > 0
func (s *SQLiteStore) ListByMember(ctx context.Context, memberID int64, limit int) ([]domain.Entry, error) {
	ctx = storage.WithQueryLabel(ctx, "deliverylog.list_by_member")
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, queue_id, member_id, recipient, template_key, subject, status, error_message, created_at
		 FROM email_logs WHERE member_id = ? ORDER BY created_at DESC LIMIT ?`, memberID, limit)
	if err != nil {
		return nil, fmt.Errorf("list delivery log: %w", err)
	}
	defer rows.Close()

	var out []domain.Entry
	for rows.Next() {
		var e domain.Entry
		var queueID, member sql.NullInt64
		var created sql.NullString
		if err := rows.Scan(&e.ID, &queueID, &member, &e.Recipient, &e.TemplateKey, &e.Subject,
			&e.Status, &e.Error, &created); err != nil {
			return nil, err
		}
		e.MessageID = queueID.Int64
		e.MemberID = member.Int64
		e.CreatedAt = storage.ParseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}
