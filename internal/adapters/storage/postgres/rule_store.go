package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	automationStore "assocmail/internal/adapters/storage/automation"
	domain "assocmail/internal/domain/automation"
)

// RuleStore implements automation.Store on PostgreSQL.
type RuleStore struct {
	db DB
}

var _ automationStore.Store = (*RuleStore)(nil)

// NewRuleStore creates a new rule store.
func NewRuleStore(db DB) *RuleStore {
	return &RuleStore{db: db}
}

// ListActiveByTrigger returns active rules joined to their template key.
func (s *RuleStore) ListActiveByTrigger(ctx context.Context, trigger domain.TriggerType) ([]domain.Rule, error) {
	rows, err := s.db.Query(ctx,
		`SELECT r.id, r.trigger_type, COALESCE(t.template_key, ''), r.days_offset, r.active
		 FROM email_automation_rules r
		 LEFT JOIN email_templates t ON t.id = r.template_id
		 WHERE r.trigger_type = $1 AND r.active
		 ORDER BY r.id`, string(trigger))
	if err != nil {
		return nil, fmt.Errorf("list rules for %s: %w", trigger, err)
	}
	rules, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Rule, error) {
		var r domain.Rule
		var tr string
		err := row.Scan(&r.ID, &tr, &r.TemplateKey, &r.DaysOffset, &r.Active)
		r.Trigger = domain.TriggerType(tr)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("list rules for %s: %w", trigger, err)
	}
	return rules, nil
}

// Save inserts a rule, resolving the template by key in the same statement.
func (s *RuleStore) Save(ctx context.Context, r domain.Rule) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx,
		`INSERT INTO email_automation_rules (trigger_type, template_id, days_offset, active)
		 VALUES ($1, (SELECT id FROM email_templates WHERE template_key = $2), $3, $4)
		 RETURNING id`,
		string(r.Trigger), r.TemplateKey, r.DaysOffset, r.Active).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert rule: %w", err)
	}
	return id, nil
}

// Count returns the number of rules.
func (s *RuleStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM email_automation_rules`).Scan(&n)
	return n, err
}
