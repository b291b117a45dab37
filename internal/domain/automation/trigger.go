package automation

import (
	"errors"
	"fmt"
	"strings"
)

// TriggerType is the closed set of events that can fire automation rules.
type TriggerType string

const (
	TriggerMemberRegistered    TriggerType = "member_registered"
	TriggerMemberApproved      TriggerType = "member_approved"
	TriggerMemberRejected      TriggerType = "member_rejected"
	TriggerMembershipRenewed   TriggerType = "membership_renewed"
	TriggerPaymentReceived     TriggerType = "payment_received"
	TriggerSponsorTaxReceipt   TriggerType = "sponsor_tax_receipt"
	TriggerMembershipExpiring7 TriggerType = "membership_expiring_7d"
	TriggerMembershipExpiring3 TriggerType = "membership_expiring_3d"
	TriggerMembershipExpiring1 TriggerType = "membership_expiring_1d"
	TriggerMembershipExpired   TriggerType = "membership_expired"
)

// AllTriggers lists every trigger type.
var AllTriggers = []TriggerType{
	TriggerMemberRegistered,
	TriggerMemberApproved,
	TriggerMemberRejected,
	TriggerMembershipRenewed,
	TriggerPaymentReceived,
	TriggerSponsorTaxReceipt,
	TriggerMembershipExpiring7,
	TriggerMembershipExpiring3,
	TriggerMembershipExpiring1,
	TriggerMembershipExpired,
}

// Domain errors
var (
	ErrUnknownTrigger = errors.New("unknown trigger type")
	ErrEmptyTemplate  = errors.New("rule template key is required")
	ErrInvalidOffset  = errors.New("rule days offset out of range")
	ErrRuleNotFound   = errors.New("automation rule not found")
)

// MaxDaysOffset bounds how far a rule may schedule from its trigger instant.
const MaxDaysOffset = 365

// ParseTriggerType converts an external event name into a TriggerType.
// PRE: none
// POST: Returns ErrUnknownTrigger for names outside AllTriggers
func ParseTriggerType(s string) (TriggerType, error) {
	t := TriggerType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllTriggers {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTrigger, s)
}

// ExpirationWindow pairs a reminder trigger with the days before expiry it covers.
type ExpirationWindow struct {
	Label   string // "7d", "3d", "1d"
	Days    int
	Trigger TriggerType
}

// ExpirationWindows are the reminder periods swept each day, longest first.
var ExpirationWindows = []ExpirationWindow{
	{Label: "7d", Days: 7, Trigger: TriggerMembershipExpiring7},
	{Label: "3d", Days: 3, Trigger: TriggerMembershipExpiring3},
	{Label: "1d", Days: 1, Trigger: TriggerMembershipExpiring1},
}

// IsReminder reports whether the trigger is produced by the expiration sweep.
// Reminders carry their own per-day de-duplication.
func (t TriggerType) IsReminder() bool {
	for _, w := range ExpirationWindows {
		if w.Trigger == t {
			return true
		}
	}
	return false
}

// TemplateKey is the default template bound to a trigger. The sweep sends
// reminders straight to these keys without consulting rules.
func (t TriggerType) TemplateKey() string {
	return string(t)
}

func (t TriggerType) String() string { return string(t) }

// Rule binds a trigger to a template and a scheduling offset in days.
type Rule struct {
	ID          int64
	Trigger     TriggerType
	TemplateKey string
	DaysOffset  int // 0 sends immediately; negative schedules before a future date
	Active      bool
}

// Validate checks that the Rule has valid data.
// PRE: Rule struct is populated
// POST: Returns nil if valid, error otherwise
func (r *Rule) Validate() error {
	if _, err := ParseTriggerType(string(r.Trigger)); err != nil {
		return err
	}
	if strings.TrimSpace(r.TemplateKey) == "" {
		return ErrEmptyTemplate
	}
	if r.DaysOffset > MaxDaysOffset || r.DaysOffset < -MaxDaysOffset {
		return fmt.Errorf("%w: %d", ErrInvalidOffset, r.DaysOffset)
	}
	return nil
}

// IsImmediate returns true if the rule sends as soon as possible.
func (r *Rule) IsImmediate() bool {
	return r.DaysOffset == 0
}
