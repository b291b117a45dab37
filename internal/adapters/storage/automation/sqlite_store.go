package automation

import (
	"context"
	"database/sql"
	"fmt"

	"assocmail/internal/adapters/storage"
	domain "assocmail/internal/domain/automation"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new rule store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// ListActiveByTrigger returns active rules for trigger with their template key.
// PRE: trigger is a known TriggerType
// POST: Returns rules ordered by ID; TemplateKey is empty for dangling rules
func (s *SQLiteStore) ListActiveByTrigger(ctx context.Context, trigger domain.TriggerType) ([]domain.Rule, error) {
	ctx = storage.WithQueryLabel(ctx, "automation.list_active_by_trigger")
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.trigger_type, COALESCE(t.template_key, ''), r.days_offset, r.active
		 FROM email_automation_rules r
		 LEFT JOIN email_templates t ON t.id = r.template_id
		 WHERE r.trigger_type = ? AND r.active = 1
		 ORDER BY r.id`, string(trigger))
	if err != nil {
		return nil, fmt.Errorf("list rules for %s: %w", trigger, err)
	}
	defer rows.Close()

	var out []domain.Rule
	for rows.Next() {
		var r domain.Rule
		var tr string
		var active int
		if err := rows.Scan(&r.ID, &tr, &r.TemplateKey, &r.DaysOffset, &active); err != nil {
			return nil, err
		}
		r.Trigger = domain.TriggerType(tr)
		r.Active = active == 1
		out = append(out, r)
	}
	return out, rows.Err()
}

// Save inserts a rule. The template is resolved by key at insert time; an
// unknown key stores a NULL template reference.
// PRE: r has been validated
// POST: Rule persisted; returns its ID
func (s *SQLiteStore) Save(ctx context.Context, r domain.Rule) (int64, error) {
	ctx = storage.WithQueryLabel(ctx, "automation.save")
	var templateID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM email_templates WHERE template_key = ?`, r.TemplateKey).Scan(&templateID)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("resolve template %q: %w", r.TemplateKey, err)
	}
	active := 0
	if r.Active {
		active = 1
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO email_automation_rules (trigger_type, template_id, days_offset, active) VALUES (?, ?, ?, ?)`,
		string(r.Trigger), templateID, r.DaysOffset, active)
	if err != nil {
		return 0, fmt.Errorf("insert rule: %w", err)
	}
	return res.LastInsertId()
}

// Count returns the number of stored rules.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	ctx = storage.WithQueryLabel(ctx, "automation.count")
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM email_automation_rules`).Scan(&n)
	return n, err
}
