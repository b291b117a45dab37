package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"assocmail/internal/adapters/storage"
	domain "assocmail/internal/domain/queue"
)

const messageColumns = `id, recipient_email, recipient_name, subject, body, template_key, member_id, priority,
	status, scheduled_for, retry_count, max_retries, error_message, created_at, sent_at, claimed_at`

// priorityOrder ranks priority bands for ORDER BY; it mirrors Priority.Rank.
const priorityOrder = `CASE priority WHEN 'high' THEN 0 WHEN 'normal' THEN 1 ELSE 2 END`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new queue store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Insert persists a new message.
// PRE: m has been validated
// POST: Row inserted; returns its ID
func (s *SQLiteStore) Insert(ctx context.Context, m domain.Message) (int64, error) {
	ctx = storage.WithQueryLabel(ctx, "queue.insert")
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO email_queue (recipient_email, recipient_name, subject, body, template_key, member_id, priority,
		   status, scheduled_for, retry_count, max_retries, error_message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.RecipientEmail, m.RecipientName, m.Subject, m.Body, m.TemplateKey, storage.NullInt64(m.MemberID),
		string(m.Priority), m.Status, storage.FormatTime(m.ScheduledFor), m.RetryCount, m.MaxRetries,
		m.ErrorMessage, storage.FormatTime(m.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert queued message: %w", err)
	}
	return res.LastInsertId()
}

// GetByID retrieves a message by ID.
func (s *SQLiteStore) GetByID(ctx context.Context, id int64) (domain.Message, error) {
	ctx = storage.WithQueryLabel(ctx, "queue.get_by_id")
	row := s.db.QueryRowContext(ctx, "SELECT "+messageColumns+" FROM email_queue WHERE id = ?", id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Message{}, fmt.Errorf("message %d: %w", id, domain.ErrNotFound)
	}
	return m, err
}

// ListDue returns due pending messages in service order.
// PRE: limit > 0
// POST: Returns at most limit messages; the rows are not claimed
func (s *SQLiteStore) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Message, error) {
	ctx = storage.WithQueryLabel(ctx, "queue.list_due")
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+messageColumns+` FROM email_queue
		 WHERE status = ? AND (scheduled_for IS NULL OR scheduled_for <= ?)
		 ORDER BY `+priorityOrder+`, created_at ASC, id ASC
		 LIMIT ?`,
		domain.StatusPending, storage.FormatTime(now).String, limit)
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

// Claim moves a message to processing if it is still pending and due at now,
// stamps claimed_at and returns the row as it is after the update.
// POST: Exactly one concurrent caller succeeds; the rest get domain.ErrNotClaimed
func (s *SQLiteStore) Claim(ctx context.Context, id int64, now time.Time) (domain.Message, error) {
	ctx = storage.WithQueryLabel(ctx, "queue.claim")
	at := storage.FormatTime(now)
	row := s.db.QueryRowContext(ctx,
		`UPDATE email_queue SET status = ?, claimed_at = ?
		 WHERE id = ? AND status = ? AND (scheduled_for IS NULL OR scheduled_for <= ?)
		 RETURNING `+messageColumns,
		domain.StatusProcessing, at, id, domain.StatusPending, at.String)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Message{}, domain.ErrNotClaimed
	}
	if err != nil {
		return domain.Message{}, fmt.Errorf("claim message %d: %w", id, err)
	}
	return m, nil
}

// Complete writes the outcome of an attempt on a processing message.
// PRE: m.Status is sent, failed or pending (retry or release)
// POST: Row updated only if it is still processing under the claim m holds
func (s *SQLiteStore) Complete(ctx context.Context, m domain.Message) error {
	ctx = storage.WithQueryLabel(ctx, "queue.complete")
	res, err := s.db.ExecContext(ctx,
		`UPDATE email_queue SET status = ?, scheduled_for = ?, retry_count = ?, error_message = ?, sent_at = ?,
		   claimed_at = NULL
		 WHERE id = ? AND status = ? AND claimed_at IS ?`,
		m.Status, storage.FormatTime(m.ScheduledFor), m.RetryCount, m.ErrorMessage, storage.FormatTime(m.SentAt),
		m.ID, domain.StatusProcessing, storage.FormatTime(m.ClaimedAt))
	if err != nil {
		return fmt.Errorf("complete message %d: %w", m.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete message %d: %w", m.ID, err)
	}
	if n != 1 {
		return domain.ErrNotClaimed
	}
	return nil
}

// ListStale returns processing messages claimed before cutoff, oldest claim
// first. Rows without a claim stamp predate it and are always stale.
func (s *SQLiteStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.Message, error) {
	ctx = storage.WithQueryLabel(ctx, "queue.list_stale")
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+messageColumns+` FROM email_queue
		 WHERE status = ? AND (claimed_at IS NULL OR claimed_at < ?)
		 ORDER BY claimed_at ASC, id ASC
		 LIMIT ?`,
		domain.StatusProcessing, storage.FormatTime(cutoff).String, limit)
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

// ExistsForMember reports whether a message was queued for the pair in [from, to).
func (s *SQLiteStore) ExistsForMember(ctx context.Context, memberID int64, templateKey string, from, to time.Time) (bool, error) {
	ctx = storage.WithQueryLabel(ctx, "queue.exists_for_member")
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM email_queue
		 WHERE member_id = ? AND template_key = ? AND created_at >= ? AND created_at < ?`,
		memberID, templateKey, storage.FormatTime(from).String, storage.FormatTime(to).String).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check queued duplicate: %w", err)
	}
	return n > 0, nil
}

// CountByStatus returns message counts grouped by status.
func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	ctx = storage.WithQueryLabel(ctx, "queue.count_by_status")
	rows, err := s.db.QueryContext(ctx, `SELECT status, count(*) FROM email_queue GROUP BY status`)
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

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (domain.Message, error) {
	var m domain.Message
	var memberID sql.NullInt64
	var priority string
	var scheduled, created, sent, claimed sql.NullString
	err := row.Scan(&m.ID, &m.RecipientEmail, &m.RecipientName, &m.Subject, &m.Body, &m.TemplateKey, &memberID,
		&priority, &m.Status, &scheduled, &m.RetryCount, &m.MaxRetries, &m.ErrorMessage, &created, &sent, &claimed)
	if err != nil {
		return domain.Message{}, err
	}
	m.MemberID = memberID.Int64
	m.Priority = domain.Priority(priority)
	m.ScheduledFor = storage.ParseTime(scheduled)
	m.CreatedAt = storage.ParseTime(created)
	m.SentAt = storage.ParseTime(sent)
	m.ClaimedAt = storage.ParseTime(claimed)
	return m, nil
}
