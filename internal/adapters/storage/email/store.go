package email

import (
	"context"

	domain "assocmail/internal/domain/email"
)

// Store persists localized email templates.
type Store interface {
	// GetActiveByKey retrieves the active template for key.
	// PRE: key is non-empty
	// POST: Returns domain.ErrTemplateNotFound (wrapped) when missing or inactive
	GetActiveByKey(ctx context.Context, key string) (domain.Template, error)

	// Save inserts or updates a template by key.
	// PRE: t has been validated
	// POST: Returns the template ID
	Save(ctx context.Context, t domain.Template) (int64, error)

	// List returns every template ordered by key.
	List(ctx context.Context) ([]domain.Template, error)

	// Count returns the number of stored templates.
	Count(ctx context.Context) (int, error)
}
