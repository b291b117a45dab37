package queue

import (
	"context"
	"time"

	domain "assocmail/internal/domain/queue"
)

// Store persists queued messages. Only the queue manager inserts and only the
// delivery worker claims and completes.
type Store interface {
	// Insert persists a new pending message.
	// PRE: m has been validated; m.Status is pending
	// POST: Returns the autoincrement ID
	Insert(ctx context.Context, m domain.Message) (int64, error)

	// GetByID retrieves a message.
	// POST: Returns domain.ErrNotFound (wrapped) when absent
	GetByID(ctx context.Context, id int64) (domain.Message, error)

	// ListDue returns pending messages with no schedule or a schedule at or
	// before now, ordered high→normal→low then oldest first.
	// PRE: limit > 0
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Message, error)

	// Claim atomically moves a due pending message to processing, stamps the
	// claim time and returns the row as stored after the update.
	// POST: Returns domain.ErrNotClaimed when the row is no longer pending or
	// its retry backoff has not elapsed at now
	Claim(ctx context.Context, id int64, now time.Time) (domain.Message, error)

	// Complete writes the outcome of a delivery attempt for a claimed message.
	// PRE: m came from Claim or ListStale
	// POST: Returns domain.ErrNotClaimed when the row is no longer processing
	// under the same claim stamp
	Complete(ctx context.Context, m domain.Message) error

	// ListStale returns processing messages claimed before cutoff.
	// PRE: limit > 0
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.Message, error)

	// ExistsForMember reports whether a message for the member and template
	// was queued in [from, to).
	ExistsForMember(ctx context.Context, memberID int64, templateKey string, from, to time.Time) (bool, error)

	// CountByStatus returns the number of messages per status.
	CountByStatus(ctx context.Context) (map[string]int, error)
}
