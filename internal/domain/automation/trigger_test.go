package automation

import (
	"errors"
	"testing"
)

// TestParseTriggerType tests the closed trigger set.
func TestParseTriggerType(t *testing.T) {
	for _, tr := range AllTriggers {
		got, err := ParseTriggerType(string(tr))
		if err != nil || got != tr {
			t.Errorf("ParseTriggerType(%q) = %q, %v", tr, got, err)
		}
	}
	if got, err := ParseTriggerType(" Member_Approved "); err != nil || got != TriggerMemberApproved {
		t.Errorf("normalisation failed: %q, %v", got, err)
	}
	if _, err := ParseTriggerType("member_promoted"); !errors.Is(err, ErrUnknownTrigger) {
		t.Errorf("expected ErrUnknownTrigger, got %v", err)
	}
}

// TestTriggerType_IsReminder tests which triggers come from the sweep.
func TestTriggerType_IsReminder(t *testing.T) {
	reminders := map[TriggerType]bool{
		TriggerMembershipExpiring7: true,
		TriggerMembershipExpiring3: true,
		TriggerMembershipExpiring1: true,
	}
	for _, tr := range AllTriggers {
		if tr.IsReminder() != reminders[tr] {
			t.Errorf("%s.IsReminder() = %v", tr, tr.IsReminder())
		}
	}
	if len(ExpirationWindows) != 3 || ExpirationWindows[0].Days != 7 || ExpirationWindows[2].Label != "1d" {
		t.Errorf("unexpected windows: %+v", ExpirationWindows)
	}
}

// TestRuleValidation tests rule validation.
func TestRuleValidation(t *testing.T) {
	tests := []struct {
		name    string
		rule    Rule
		wantErr error
	}{
		{"valid", Rule{Trigger: TriggerMemberApproved, TemplateKey: "welcome"}, nil},
		{"negative offset", Rule{Trigger: TriggerMembershipExpired, TemplateKey: "x", DaysOffset: -7}, nil},
		{"unknown trigger", Rule{Trigger: "nope", TemplateKey: "x"}, ErrUnknownTrigger},
		{"no template", Rule{Trigger: TriggerMemberApproved}, ErrEmptyTemplate},
		{"offset too large", Rule{Trigger: TriggerMemberApproved, TemplateKey: "x", DaysOffset: 400}, ErrInvalidOffset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if tt.wantErr == nil && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
