package member

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"assocmail/internal/adapters/storage"
	domain "assocmail/internal/domain/member"
	"assocmail/internal/domain/tax"
)

const memberColumns = "id, first_name, last_name, email, country, membership_type, status, membership_end_date, payment_amount"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new member store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// GetByID retrieves a Member by its ID.
// PRE: id > 0
// POST: Returns the entity or domain.ErrNotFound
func (s *SQLiteStore) GetByID(ctx context.Context, id int64) (domain.Member, error) {
	ctx = storage.WithQueryLabel(ctx, "member.get_by_id")
	row := s.db.QueryRowContext(ctx, "SELECT "+memberColumns+" FROM member WHERE id = ?", id)
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Member{}, fmt.Errorf("member %d: %w", id, domain.ErrNotFound)
	}
	return m, err
}

// Save persists a Member.
// PRE: m has been validated
// POST: Row inserted or updated; returns its ID
func (s *SQLiteStore) Save(ctx context.Context, m domain.Member) (int64, error) {
	ctx = storage.WithQueryLabel(ctx, "member.save")
	args := []any{
		m.FirstName, m.LastName, m.Email, m.Country, string(m.MembershipType), string(m.Status),
		storage.FormatDate(m.MembershipEndDate), int64(m.PaymentAmount),
	}
	if m.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO member (first_name, last_name, email, country, membership_type, status, membership_end_date, payment_amount)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, args...)
		if err != nil {
			return 0, fmt.Errorf("insert member: %w", err)
		}
		return res.LastInsertId()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE member SET first_name = ?, last_name = ?, email = ?, country = ?, membership_type = ?,
		   status = ?, membership_end_date = ?, payment_amount = ?
		 WHERE id = ?`, append(args, m.ID)...)
	if err != nil {
		return 0, fmt.Errorf("update member %d: %w", m.ID, err)
	}
	return m.ID, nil
}

// ListExpiringOn returns approved members of the given types whose membership
// ends on day.
// PRE: types is non-empty
// POST: Returns members ordered by ID
func (s *SQLiteStore) ListExpiringOn(ctx context.Context, day time.Time, types []domain.MembershipType) ([]domain.Member, error) {
	ctx = storage.WithQueryLabel(ctx, "member.list_expiring_on")
	if len(types) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(types)), ",")
	args := []any{string(domain.StatusApproved), day.Format(storage.DateLayout)}
	for _, t := range types {
		args = append(args, string(t))
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+memberColumns+` FROM member
		 WHERE status = ? AND membership_end_date = ? AND membership_type IN (`+placeholders+`)
		 ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list expiring members: %w", err)
	}
	defer rows.Close()

	var out []domain.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecordRenewal inserts a renewal unless the member already renewed on the
// same local day. The check and insert are one statement.
func (s *SQLiteStore) RecordRenewal(ctx context.Context, memberID int64, at time.Time) (bool, error) {
	ctx = storage.WithQueryLabel(ctx, "member.record_renewal")
	from, to := storage.DayBounds(at)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO member_renewal (member_id, renewed_at)
		 SELECT ?, ? WHERE NOT EXISTS (
		   SELECT 1 FROM member_renewal WHERE member_id = ? AND renewed_at >= ? AND renewed_at < ?)`,
		memberID, storage.FormatTime(at), memberID, storage.FormatTime(from).String, storage.FormatTime(to).String)
	if err != nil {
		return false, fmt.Errorf("record renewal for member %d: %w", memberID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record renewal for member %d: %w", memberID, err)
	}
	return n == 1, nil
}

// RenewalTimes returns renewal instants in UTC, newest first.
func (s *SQLiteStore) RenewalTimes(ctx context.Context, memberID int64) ([]time.Time, error) {
	ctx = storage.WithQueryLabel(ctx, "member.renewal_times")
	rows, err := s.db.QueryContext(ctx,
		`SELECT renewed_at FROM member_renewal WHERE member_id = ? ORDER BY renewed_at DESC`, memberID)
	if err != nil {
		return nil, fmt.Errorf("renewals for member %d: %w", memberID, err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var at sql.NullString
		if err := rows.Scan(&at); err != nil {
			return nil, err
		}
		if t := storage.ParseTime(at); !t.IsZero() {
			out = append(out, t)
		}
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMember(row scanner) (domain.Member, error) {
	var m domain.Member
	var mtype, status string
	var endDate sql.NullString
	var payment int64
	err := row.Scan(&m.ID, &m.FirstName, &m.LastName, &m.Email, &m.Country, &mtype, &status, &endDate, &payment)
	if err != nil {
		return domain.Member{}, err
	}
	m.MembershipType = domain.MembershipType(mtype)
	m.Status = domain.Status(status)
	m.MembershipEndDate = storage.ParseDate(endDate)
	m.PaymentAmount = tax.Money(payment)
	return m, nil
}
