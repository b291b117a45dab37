package email

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"assocmail/internal/domain/locale"
)

// Domain errors
var (
	ErrTemplateNotFound = errors.New("email template not found")
	ErrEmptyKey         = errors.New("template key is required")
	ErrNoEnglish        = errors.New("template must have an English subject and body")
)

// Content is one subject/body pair in a single locale.
type Content struct {
	Subject string
	Body    string
}

// IsEmpty reports whether either half of the pair is missing.
func (c Content) IsEmpty() bool {
	return strings.TrimSpace(c.Subject) == "" || strings.TrimSpace(c.Body) == ""
}

// Template is a named notification with one Content per supported locale.
// Admin tooling owns templates; the pipeline only reads active ones.
type Template struct {
	ID        int64
	Key       string
	Name      string
	Active    bool
	Content   map[locale.Locale]Content
	UpdatedAt time.Time
}

// Validate checks that the Template has valid data.
// PRE: Template struct is populated
// POST: Returns nil if valid, error otherwise
func (t *Template) Validate() error {
	if strings.TrimSpace(t.Key) == "" {
		return ErrEmptyKey
	}
	if t.Content[locale.English].IsEmpty() {
		return fmt.Errorf("template %q: %w", t.Key, ErrNoEnglish)
	}
	for l := range t.Content {
		if !l.Valid() {
			return fmt.Errorf("template %q: unsupported locale %q", t.Key, l)
		}
	}
	return nil
}

// Localized returns the content for l, falling back to English when the
// translation is missing or incomplete.
// INVARIANT: Template is not mutated
func (t *Template) Localized(l locale.Locale) Content {
	if c, ok := t.Content[l]; ok && !c.IsEmpty() {
		return c
	}
	return t.Content[locale.English]
}

// SetContent stores the pair for l, allocating the map if needed.
func (t *Template) SetContent(l locale.Locale, subject, body string) {
	if t.Content == nil {
		t.Content = make(map[locale.Locale]Content, len(locale.All))
	}
	t.Content[l] = Content{Subject: subject, Body: body}
}
