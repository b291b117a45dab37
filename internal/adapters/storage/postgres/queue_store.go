package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	queueStore "assocmail/internal/adapters/storage/queue"
	domain "assocmail/internal/domain/queue"
)

const messageColumns = `id, recipient_email, recipient_name, subject, body, template_key, member_id, priority,
	status, scheduled_for, retry_count, max_retries, error_message, created_at, sent_at, claimed_at`

// QueueStore implements queue.Store on PostgreSQL.
type QueueStore struct {
	db DB
}

var _ queueStore.Store = (*QueueStore)(nil)

// NewQueueStore creates a new queue store.
func NewQueueStore(db DB) *QueueStore {
	return &QueueStore{db: db}
}

// Insert persists a new message.
func (s *QueueStore) Insert(ctx context.Context, m domain.Message) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx,
		`INSERT INTO email_queue (recipient_email, recipient_name, subject, body, template_key, member_id, priority,
		   status, scheduled_for, retry_count, max_retries, error_message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING id`,
		m.RecipientEmail, m.RecipientName, m.Subject, m.Body, m.TemplateKey, nullID(m.MemberID), string(m.Priority),
		m.Status, nullTime(m.ScheduledFor), m.RetryCount, m.MaxRetries, m.ErrorMessage, m.CreatedAt.UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert queued message: %w", err)
	}
	return id, nil
}

// GetByID retrieves a message.
func (s *QueueStore) GetByID(ctx context.Context, id int64) (domain.Message, error) {
	m, err := scanMessage(s.db.QueryRow(ctx, "SELECT "+messageColumns+" FROM email_queue WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Message{}, fmt.Errorf("message %d: %w", id, domain.ErrNotFound)
	}
	return m, err
}

// ListDue returns due pending messages, high before normal before low, then FIFO.
func (s *QueueStore) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Message, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+messageColumns+` FROM email_queue
		 WHERE status = $1 AND (scheduled_for IS NULL OR scheduled_for <= $2)
		 ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'normal' THEN 1 ELSE 2 END, created_at, id
		 LIMIT $3`,
		domain.StatusPending, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list due messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Claim moves a due pending message to processing and returns the row as
// updated. The row is locked with SKIP LOCKED so a concurrent claimer sees
// nothing instead of waiting.
func (s *QueueStore) Claim(ctx context.Context, id int64, now time.Time) (domain.Message, error) {
	at := claimStamp(now)
	m, err := scanMessage(s.db.QueryRow(ctx,
		`WITH due AS (
		   SELECT id AS claim_id FROM email_queue
		   WHERE id = $2 AND status = $3 AND (scheduled_for IS NULL OR scheduled_for <= $4)
		   FOR UPDATE SKIP LOCKED
		 )
		 UPDATE email_queue SET status = $1, claimed_at = $4
		 FROM due WHERE email_queue.id = due.claim_id
		 RETURNING `+messageColumns,
		domain.StatusProcessing, id, domain.StatusPending, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Message{}, domain.ErrNotClaimed
	}
	if err != nil {
		return domain.Message{}, fmt.Errorf("claim message %d: %w", id, err)
	}
	return m, nil
}

// Complete writes the outcome of an attempt on a message still held under
// the claim stamp m carries.
func (s *QueueStore) Complete(ctx context.Context, m domain.Message) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE email_queue SET status = $1, scheduled_for = $2, retry_count = $3, error_message = $4, sent_at = $5,
		   claimed_at = NULL
		 WHERE id = $6 AND status = $7 AND claimed_at IS NOT DISTINCT FROM $8`,
		m.Status, nullTime(m.ScheduledFor), m.RetryCount, m.ErrorMessage, nullTime(m.SentAt), m.ID,
		domain.StatusProcessing, nullTime(m.ClaimedAt))
	if err != nil {
		return fmt.Errorf("complete message %d: %w", m.ID, err)
	}
	if tag.RowsAffected() != 1 {
		return domain.ErrNotClaimed
	}
	return nil
}

// ListStale returns processing messages claimed before cutoff.
func (s *QueueStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.Message, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+messageColumns+` FROM email_queue
		 WHERE status = $1 AND (claimed_at IS NULL OR claimed_at < $2)
		 ORDER BY claimed_at NULLS FIRST, id
		 LIMIT $3`,
		domain.StatusProcessing, cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale claims: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// claimStamp truncates to the microsecond precision of timestamptz so the
// stamp read back equals the one written.
func claimStamp(now time.Time) time.Time {
	return now.UTC().Truncate(time.Microsecond)
}

// ExistsForMember reports whether a message was queued for the pair in [from, to).
func (s *QueueStore) ExistsForMember(ctx context.Context, memberID int64, templateKey string, from, to time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM email_queue
		   WHERE member_id = $1 AND template_key = $2 AND created_at >= $3 AND created_at < $4)`,
		memberID, templateKey, from.UTC(), to.UTC()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check queued duplicate: %w", err)
	}
	return exists, nil
}

// CountByStatus returns message counts per status.
func (s *QueueStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.Query(ctx, `SELECT status, count(*) FROM email_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	defer rows.Close()

	out := map[string]int{
		domain.StatusPending:    0,
		domain.StatusProcessing: 0,
		domain.StatusSent:       0,
		domain.StatusFailed:     0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

func scanMessage(row pgx.Row) (domain.Message, error) {
	var m domain.Message
	var memberID *int64
	var priority string
	var scheduled, sent, claimed *time.Time
	var created time.Time
	err := row.Scan(&m.ID, &m.RecipientEmail, &m.RecipientName, &m.Subject, &m.Body, &m.TemplateKey, &memberID,
		&priority, &m.Status, &scheduled, &m.RetryCount, &m.MaxRetries, &m.ErrorMessage, &created, &sent, &claimed)
	if err != nil {
		return domain.Message{}, err
	}
	m.MemberID = derefID(memberID)
	m.Priority = domain.Priority(priority)
	m.ScheduledFor = derefTime(scheduled)
	m.CreatedAt = created.UTC()
	m.SentAt = derefTime(sent)
	m.ClaimedAt = derefTime(claimed)
	return m, nil
}
