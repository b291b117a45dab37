package automation

import (
	"context"

	domain "assocmail/internal/domain/automation"
)

// Store persists automation rules.
type Store interface {
	// ListActiveByTrigger returns active rules for a trigger joined to their
	// template key. A rule whose template row is gone has an empty TemplateKey.
	// PRE: trigger is a known TriggerType
	// POST: Returns rules ordered by ID
	ListActiveByTrigger(ctx context.Context, trigger domain.TriggerType) ([]domain.Rule, error)

	// Save inserts a rule bound to the template with r.TemplateKey.
	// PRE: r has been validated
	// POST: Returns the rule ID
	Save(ctx context.Context, r domain.Rule) (int64, error)

	// Count returns the number of stored rules.
	Count(ctx context.Context) (int, error)
}
