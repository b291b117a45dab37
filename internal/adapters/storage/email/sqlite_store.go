package email

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"assocmail/internal/adapters/storage"
	domain "assocmail/internal/domain/email"
	"assocmail/internal/domain/locale"
)

// localeColumn maps a locale onto its subject/body column pair.
type localeColumn struct {
	locale  locale.Locale
	subject string
	body    string
}

var localeColumns = []localeColumn{
	{locale.English, "subject_en", "body_en"},
	{locale.Spanish, "subject_es", "body_es"},
	{locale.Catalan, "subject_ca", "body_ca"},
}

var (
	contentColumns = func() string {
		cols := make([]string, 0, len(localeColumns)*2)
		for _, lc := range localeColumns {
			cols = append(cols, lc.subject, lc.body)
		}
		return strings.Join(cols, ", ")
	}()
	templateColumns = "id, template_key, name, active, updated_at, " + contentColumns
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new template store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// GetActiveByKey retrieves the active template for key.
// PRE: key is non-empty
// POST: Returns the template or domain.ErrTemplateNotFound
func (s *SQLiteStore) GetActiveByKey(ctx context.Context, key string) (domain.Template, error) {
	ctx = storage.WithQueryLabel(ctx, "email.get_active_by_key")
	row := s.db.QueryRowContext(ctx,
		"SELECT "+templateColumns+" FROM email_templates WHERE template_key = ? AND active = 1", key)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Template{}, fmt.Errorf("template %q: %w", key, domain.ErrTemplateNotFound)
	}
	return t, err
}

// Save inserts or updates a template keyed by template_key.
// PRE: t has been validated
// POST: Template persisted; returns its ID
func (s *SQLiteStore) Save(ctx context.Context, t domain.Template) (int64, error) {
	ctx = storage.WithQueryLabel(ctx, "email.save")
	args := []any{t.Key, t.Name, boolToInt(t.Active), storage.FormatTime(t.UpdatedAt).String}
	sets := []string{"name = excluded.name", "active = excluded.active", "updated_at = excluded.updated_at"}
	for _, lc := range localeColumns {
		c := t.Content[lc.locale]
		args = append(args, c.Subject, c.Body)
		sets = append(sets, lc.subject+" = excluded."+lc.subject, lc.body+" = excluded."+lc.body)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", ")

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO email_templates (template_key, name, active, updated_at, "+contentColumns+") VALUES ("+placeholders+")"+
			" ON CONFLICT(template_key) DO UPDATE SET "+strings.Join(sets, ", "),
		args...)
	if err != nil {
		return 0, fmt.Errorf("save template %q: %w", t.Key, err)
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM email_templates WHERE template_key = ?`, t.Key).Scan(&id); err != nil {
		return 0, fmt.Errorf("read template id %q: %w", t.Key, err)
	}
	return id, nil
}

// List returns every template ordered by key.
func (s *SQLiteStore) List(ctx context.Context) ([]domain.Template, error) {
	ctx = storage.WithQueryLabel(ctx, "email.list")
	rows, err := s.db.QueryContext(ctx, "SELECT "+templateColumns+" FROM email_templates ORDER BY template_key")
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

// Count returns the number of stored templates.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	ctx = storage.WithQueryLabel(ctx, "email.count")
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM email_templates`).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row scanner) (domain.Template, error) {
	var t domain.Template
	var active int
	var updated sql.NullString
	pairs := make([]domain.Content, len(localeColumns))
	dest := []any{&t.ID, &t.Key, &t.Name, &active, &updated}
	for i := range pairs {
		dest = append(dest, &pairs[i].Subject, &pairs[i].Body)
	}
	if err := row.Scan(dest...); err != nil {
		return domain.Template{}, err
	}
	t.Active = active == 1
	t.UpdatedAt = storage.ParseTime(updated)
	for i, lc := range localeColumns {
		t.SetContent(lc.locale, pairs[i].Subject, pairs[i].Body)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
