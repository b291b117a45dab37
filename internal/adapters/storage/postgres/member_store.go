package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"assocmail/internal/adapters/storage"
	memberStore "assocmail/internal/adapters/storage/member"
	domain "assocmail/internal/domain/member"
	"assocmail/internal/domain/tax"
)

const memberColumns = "id, first_name, last_name, email, country, membership_type, status, membership_end_date, payment_amount"

// MemberStore implements member.Store on PostgreSQL.
type MemberStore struct {
	db DB
}

var _ memberStore.Store = (*MemberStore)(nil)

// NewMemberStore creates a new member store.
func NewMemberStore(db DB) *MemberStore {
	return &MemberStore{db: db}
}

// GetByID retrieves a member.
func (s *MemberStore) GetByID(ctx context.Context, id int64) (domain.Member, error) {
	m, err := scanMember(s.db.QueryRow(ctx, "SELECT "+memberColumns+" FROM member WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Member{}, fmt.Errorf("member %d: %w", id, domain.ErrNotFound)
	}
	return m, err
}

// Save inserts or updates a member.
func (s *MemberStore) Save(ctx context.Context, m domain.Member) (int64, error) {
	var end *time.Time
	if m.HasEndDate() {
		d := time.Date(m.MembershipEndDate.Year(), m.MembershipEndDate.Month(), m.MembershipEndDate.Day(), 0, 0, 0, 0, time.UTC)
		end = &d
	}
	if m.ID == 0 {
		var id int64
		err := s.db.QueryRow(ctx,
			`INSERT INTO member (first_name, last_name, email, country, membership_type, status, membership_end_date, payment_amount)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
			m.FirstName, m.LastName, m.Email, m.Country, string(m.MembershipType), string(m.Status), end, int64(m.PaymentAmount),
		).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("insert member: %w", err)
		}
		return id, nil
	}
	_, err := s.db.Exec(ctx,
		`UPDATE member SET first_name = $1, last_name = $2, email = $3, country = $4, membership_type = $5,
		   status = $6, membership_end_date = $7, payment_amount = $8
		 WHERE id = $9`,
		m.FirstName, m.LastName, m.Email, m.Country, string(m.MembershipType), string(m.Status), end, int64(m.PaymentAmount), m.ID)
	if err != nil {
		return 0, fmt.Errorf("update member %d: %w", m.ID, err)
	}
	return m.ID, nil
}

// ListExpiringOn returns approved members of the given types ending on day.
func (s *MemberStore) ListExpiringOn(ctx context.Context, day time.Time, types []domain.MembershipType) ([]domain.Member, error) {
	if len(types) == 0 {
		return nil, nil
	}
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	rows, err := s.db.Query(ctx,
		"SELECT "+memberColumns+` FROM member
		 WHERE status = $1 AND membership_end_date = $2::date AND membership_type = ANY($3)
		 ORDER BY id`,
		string(domain.StatusApproved), day.Format("2006-01-02"), names)
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
// same local day of at.
func (s *MemberStore) RecordRenewal(ctx context.Context, memberID int64, at time.Time) (bool, error) {
	from, to := storage.DayBounds(at)
	tag, err := s.db.Exec(ctx,
		`INSERT INTO member_renewal (member_id, renewed_at)
		 SELECT $1, $2 WHERE NOT EXISTS (
		   SELECT 1 FROM member_renewal WHERE member_id = $1 AND renewed_at >= $3 AND renewed_at < $4)`,
		memberID, at.UTC(), from.UTC(), to.UTC())
	if err != nil {
		return false, fmt.Errorf("record renewal for member %d: %w", memberID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// RenewalTimes returns renewal instants in UTC, newest first.
func (s *MemberStore) RenewalTimes(ctx context.Context, memberID int64) ([]time.Time, error) {
	rows, err := s.db.Query(ctx,
		`SELECT renewed_at FROM member_renewal WHERE member_id = $1 ORDER BY renewed_at DESC`, memberID)
	if err != nil {
		return nil, fmt.Errorf("renewals for member %d: %w", memberID, err)
	}
	times, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (time.Time, error) {
		var at time.Time
		err := row.Scan(&at)
		return at.UTC(), err
	})
	if err != nil {
		return nil, fmt.Errorf("renewals for member %d: %w", memberID, err)
	}
	return times, nil
}

func scanMember(row pgx.Row) (domain.Member, error) {
	var m domain.Member
	var mtype, status string
	var end *time.Time
	var payment int64
	if err := row.Scan(&m.ID, &m.FirstName, &m.LastName, &m.Email, &m.Country, &mtype, &status, &end, &payment); err != nil {
		return domain.Member{}, err
	}
	m.MembershipType = domain.MembershipType(mtype)
	m.Status = domain.Status(status)
	m.MembershipEndDate = derefTime(end)
	m.PaymentAmount = tax.Money(payment)
	return m, nil
}
