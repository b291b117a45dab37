package member

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"assocmail/internal/domain/tax"
)

// Max length constants for identity fields.
const (
	MaxNameLength = 100
)

// MembershipType is the closed set of membership plans.
type MembershipType string

const (
	TypeIndividual MembershipType = "individual"
	TypeFamily     MembershipType = "family"
	TypeStudent    MembershipType = "student"
	TypeArtist     MembershipType = "artist"
	TypeSponsor    MembershipType = "sponsor"
	TypeHonorary   MembershipType = "honorary"
)

// AllTypes lists every membership type in display order.
var AllTypes = []MembershipType{TypeIndividual, TypeFamily, TypeStudent, TypeArtist, TypeSponsor, TypeHonorary}

// Status is the approval state of a member.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusInactive Status = "inactive"
)

// Domain errors
var (
	ErrNotFound        = errors.New("member not found")
	ErrUnknownType     = errors.New("unknown membership type")
	ErrUnknownStatus   = errors.New("unknown member status")
	ErrNegativePayment = errors.New("payment amount must not be negative")
	ErrEmptyName       = errors.New("member first name cannot be empty")
	ErrInvalidEmail    = errors.New("member email must be valid")
)

// Member is a read-only snapshot of a member as seen by the email pipeline.
// The member-management subsystem owns the record.
type Member struct {
	ID                int64
	FirstName         string
	LastName          string
	Email             string
	Country           string
	MembershipType    MembershipType
	Status            Status
	MembershipEndDate time.Time // zero when the membership has no end date
	PaymentAmount     tax.Money
	// RecurringYears is the count of consecutive renewal years ending this
	// year, filled from renewal history before variables are built. It is
	// never persisted on the member row.
	RecurringYears int
}

// ParseMembershipType converts a stored string into a MembershipType.
// PRE: none
// POST: Returns ErrUnknownType for anything outside AllTypes
func ParseMembershipType(s string) (MembershipType, error) {
	t := MembershipType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllTypes {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// ParseStatus converts a stored string into a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusApproved, StatusRejected, StatusInactive:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// PaysDues reports whether the membership type is billed periodically.
// Honorary memberships never expire into a renewal reminder.
func (t MembershipType) PaysDues() bool {
	return t != TypeHonorary && t != ""
}

// DuesPayingTypes returns the membership types covered by expiration reminders.
func DuesPayingTypes() []MembershipType {
	var out []MembershipType
	for _, t := range AllTypes {
		if t.PaysDues() {
			out = append(out, t)
		}
	}
	return out
}

// Validate checks if the Member has valid data.
// PRE: Member struct is initialized
// POST: Returns error if validation fails, nil otherwise
func (m *Member) Validate() error {
	if strings.TrimSpace(m.FirstName) == "" {
		return ErrEmptyName
	}
	if len(m.FirstName)+len(m.LastName) > MaxNameLength {
		return fmt.Errorf("member name cannot exceed %d characters", MaxNameLength)
	}
	if !strings.Contains(m.Email, "@") {
		return ErrInvalidEmail
	}
	if _, err := ParseMembershipType(string(m.MembershipType)); err != nil {
		return err
	}
	if _, err := ParseStatus(string(m.Status)); err != nil {
		return err
	}
	if m.PaymentAmount < 0 {
		return ErrNegativePayment
	}
	return nil
}

// FullName joins first and last name.
// INVARIANT: Member fields are not mutated
func (m *Member) FullName() string {
	return strings.TrimSpace(m.FirstName + " " + m.LastName)
}

// CountryName satisfies locale.CountryHolder. A nil member has no country.
func (m *Member) CountryName() string {
	if m == nil {
		return ""
	}
	return m.Country
}

// IsApproved returns true if the member has been approved.
func (m *Member) IsApproved() bool {
	return m.Status == StatusApproved
}

// HasEndDate returns true if the membership carries an end date.
func (m *Member) HasEndDate() bool {
	return !m.MembershipEndDate.IsZero()
}

// IsSponsorPayment reports whether a tax receipt applies to the last payment.
func (m *Member) IsSponsorPayment() bool {
	return m.MembershipType == TypeSponsor && m.PaymentAmount > 0
}

// RenewalYearsIn buckets renewal instants into calendar years as seen in loc.
// A nil loc means UTC.
func RenewalYearsIn(renewals []time.Time, loc *time.Location) []int {
	if loc == nil {
		loc = time.UTC
	}
	years := make([]int, 0, len(renewals))
	for _, at := range renewals {
		years = append(years, at.In(loc).Year())
	}
	return years
}

// ConsecutiveYears counts the unbroken run of renewal years ending at
// currentYear. years may be unsorted and contain duplicates.
// PRE: none
// POST: Returns 0 when currentYear has no renewal
func ConsecutiveYears(years []int, currentYear int) int {
	seen := make(map[int]bool, len(years))
	for _, y := range years {
		seen[y] = true
	}
	n := 0
	for seen[currentYear-n] {
		n++
	}
	return n
}
