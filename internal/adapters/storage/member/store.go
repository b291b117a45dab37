package member

import (
	"context"
	"time"

	domain "assocmail/internal/domain/member"
)

// Store reads member snapshots for the email pipeline. Writes exist for
// seeding and tests; member management proper lives elsewhere.
type Store interface {
	// GetByID retrieves a member.
	// PRE: id > 0
	// POST: Returns domain.ErrNotFound (wrapped) when absent
	GetByID(ctx context.Context, id int64) (domain.Member, error)

	// Save inserts a member when ID is 0, otherwise updates it.
	// PRE: m has been validated
	// POST: Returns the persisted ID
	Save(ctx context.Context, m domain.Member) (int64, error)

	// ListExpiringOn returns approved members of the given types whose
	// membership ends on the calendar date of day.
	ListExpiringOn(ctx context.Context, day time.Time, types []domain.MembershipType) ([]domain.Member, error)

	// RecordRenewal appends a renewal for the member. The calendar day of at,
	// in at's own location, holds at most one renewal per member.
	// POST: Returns false when that day already had a renewal
	RecordRenewal(ctx context.Context, memberID int64, at time.Time) (bool, error)

	// RenewalTimes returns every renewal instant, newest first.
	RenewalTimes(ctx context.Context, memberID int64) ([]time.Time, error)
}
