package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	logStore "assocmail/internal/adapters/storage/deliverylog"
	domain "assocmail/internal/domain/deliverylog"
)

// LogStore implements deliverylog.Store on PostgreSQL.
type LogStore struct {
	db DB
}

var _ logStore.Store = (*LogStore)(nil)

// NewLogStore creates a new delivery log store.
func NewLogStore(db DB) *LogStore {
	return &LogStore{db: db}
}

// Append inserts a log entry.
func (s *LogStore) Append(ctx context.Context, e domain.Entry) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO email_logs (id, queue_id, member_id, recipient, template_key, subject, status, error_message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, nullID(e.MessageID), nullID(e.MemberID), e.Recipient, e.TemplateKey, e.Subject, e.Status, e.Error, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("append delivery log: %w", err)
	}
	return nil
}

// ExistsForMember reports whether the pair was logged in [from, to).
func (s *LogStore) ExistsForMember(ctx context.Context, memberID int64, templateKey string, from, to time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM email_logs
		   WHERE member_id = $1 AND template_key = $2 AND created_at >= $3 AND created_at < $4)`,
		memberID, templateKey, from.UTC(), to.UTC()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check logged duplicate: %w", err)
	}
	return exists, nil
}

// Statistics aggregates outcomes per template since the given instant.
func (s *LogStore) Statistics(ctx context.Context, since time.Time) ([]domain.TemplateStat, error) {
	rows, err := s.db.Query(ctx,
		`SELECT template_key, count(*) AS total,
		        count(*) FILTER (WHERE status = $1),
		        count(*) FILTER (WHERE status = $2)
		 FROM email_logs
		 WHERE created_at >= $3
		 GROUP BY template_key
		 ORDER BY total DESC, template_key`,
		domain.StatusSent, domain.StatusFailed, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("delivery statistics: %w", err)
	}
	stats, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.TemplateStat, error) {
		var st domain.TemplateStat
		err := row.Scan(&st.TemplateKey, &st.Total, &st.Sent, &st.Failed)
		return st, err
	})
	if err != nil {
		return nil, fmt.Errorf("delivery statistics: %w", err)
	}
	if stats == nil {
		stats = []domain.TemplateStat{}
	}
	return stats, nil
}

// ListByMember returns a member's entries, newest first.
func (s *LogStore) ListByMember(ctx context.Context, memberID int64, limit int) ([]domain.Entry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id::text, queue_id, member_id, recipient, template_key, subject, status, error_message, created_at
		 FROM email_logs WHERE member_id = $1 ORDER BY created_at DESC LIMIT $2`, memberID, limit)
	if err != nil {
		return nil, fmt.Errorf("list delivery log: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Entry, error) {
		var e domain.Entry
		var queueID, member *int64
		var created time.Time
		err := row.Scan(&e.ID, &queueID, &member, &e.Recipient, &e.TemplateKey, &e.Subject, &e.Status, &e.Error, &created)
		e.MessageID = derefID(queueID)
		e.MemberID = derefID(member)
		e.CreatedAt = created.UTC()
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("list delivery log: %w", err)
	}
	return entries, nil
}
