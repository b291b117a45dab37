package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	emailStore "assocmail/internal/adapters/storage/email"
	domain "assocmail/internal/domain/email"
	"assocmail/internal/domain/locale"
)

// localeColumns maps each locale onto its subject/body column pair.
var localeColumns = []struct {
	locale  locale.Locale
	subject string
	body    string
}{
	{locale.English, "subject_en", "body_en"},
	{locale.Spanish, "subject_es", "body_es"},
	{locale.Catalan, "subject_ca", "body_ca"},
}

var templateColumns = func() string {
	cols := []string{"id", "template_key", "name", "active", "updated_at"}
	for _, lc := range localeColumns {
		cols = append(cols, lc.subject, lc.body)
	}
	return strings.Join(cols, ", ")
}()

// TemplateStore implements email.Store on PostgreSQL.
type TemplateStore struct {
	db DB
}

var _ emailStore.Store = (*TemplateStore)(nil)

// NewTemplateStore creates a new template store.
func NewTemplateStore(db DB) *TemplateStore {
	return &TemplateStore{db: db}
}

// GetActiveByKey retrieves the active template for key.
func (s *TemplateStore) GetActiveByKey(ctx context.Context, key string) (domain.Template, error) {
	t, err := scanTemplate(s.db.QueryRow(ctx,
		"SELECT "+templateColumns+" FROM email_templates WHERE template_key = $1 AND active", key))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Template{}, fmt.Errorf("template %q: %w", key, domain.ErrTemplateNotFound)
	}
	return t, err
}

// Save upserts a template by key.
func (s *TemplateStore) Save(ctx context.Context, t domain.Template) (int64, error) {
	cols := []string{"template_key", "name", "active", "updated_at"}
	args := []any{t.Key, t.Name, t.Active, t.UpdatedAt.UTC()}
	sets := []string{"name = EXCLUDED.name", "active = EXCLUDED.active", "updated_at = EXCLUDED.updated_at"}
	for _, lc := range localeColumns {
		c := t.Content[lc.locale]
		cols = append(cols, lc.subject, lc.body)
		args = append(args, c.Subject, c.Body)
		sets = append(sets, lc.subject+" = EXCLUDED."+lc.subject, lc.body+" = EXCLUDED."+lc.body)
	}
	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	var id int64
	err := s.db.QueryRow(ctx,
		"INSERT INTO email_templates ("+strings.Join(cols, ", ")+") VALUES ("+strings.Join(placeholders, ", ")+")"+
			" ON CONFLICT (template_key) DO UPDATE SET "+strings.Join(sets, ", ")+" RETURNING id",
		args...).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save template %q: %w", t.Key, err)
	}
	return id, nil
}

// List returns every template ordered by key.
func (s *TemplateStore) List(ctx context.Context) ([]domain.Template, error) {
	rows, err := s.db.Query(ctx, "SELECT "+templateColumns+" FROM email_templates ORDER BY template_key")
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []domain.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Count returns the number of templates.
func (s *TemplateStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM email_templates`).Scan(&n)
	return n, err
}

func scanTemplate(row pgx.Row) (domain.Template, error) {
	var t domain.Template
	var updated time.Time
	pairs := make([]domain.Content, len(localeColumns))
	dest := []any{&t.ID, &t.Key, &t.Name, &t.Active, &updated}
	for i := range pairs {
		dest = append(dest, &pairs[i].Subject, &pairs[i].Body)
	}
	if err := row.Scan(dest...); err != nil {
		return domain.Template{}, err
	}
	t.UpdatedAt = updated.UTC()
	for i, lc := range localeColumns {
		t.SetContent(lc.locale, pairs[i].Subject, pairs[i].Body)
	}
	return t, nil
}
