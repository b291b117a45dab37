package deliverylog

import (
	"context"
	"time"

	domain "assocmail/internal/domain/deliverylog"
)

// Store is the append-only delivery log.
type Store interface {
	// Append records one final delivery outcome.
	// PRE: e has been validated and carries an ID
	Append(ctx context.Context, e domain.Entry) error

	// ExistsForMember reports whether an entry for the member and template
	// was written in [from, to).
	ExistsForMember(ctx context.Context, memberID int64, templateKey string, from, to time.Time) (bool, error)

	// Statistics aggregates entries created at or after since, per template.
	// POST: Returns stats ordered by total descending, then key
	Statistics(ctx context.Context, since time.Time) ([]domain.TemplateStat, error)

	// ListByMember returns a member's entries, newest first.
	ListByMember(ctx context.Context, memberID int64, limit int) ([]domain.Entry, error)
}
