package queue

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// Priority is the service band of a queued message.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Status constants for the message lifecycle.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusSent       = "sent"
	StatusFailed     = "failed"
)

// Retry policy defaults.
const (
	DefaultMaxRetries = 3
	BackoffBase       = 60 * time.Second
)

// Domain errors
var (
	ErrEmptyRecipient  = errors.New("recipient email is required")
	ErrInvalidAddress  = errors.New("recipient email is not a valid address")
	ErrEmptyTemplate   = errors.New("template key is required")
	ErrUnknownPriority = errors.New("unknown priority")
	ErrNotClaimed      = errors.New("message is no longer pending")
	ErrTerminal        = errors.New("message is in a terminal state")
	ErrNotFound        = errors.New("queued message not found")
)

// ParsePriority converts a string into a Priority. Empty means normal.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return p, nil
	case "":
		return PriorityNormal, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPriority, s)
}

// Rank orders priorities for service: lower ranks are delivered first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityNormal:
		return 1
	default:
		return 2
	}
}

// Message is one rendered, addressed email waiting for delivery.
// Messages are never deleted; sent and failed rows form the audit trail.
type Message struct {
	ID             int64
	RecipientEmail string
	RecipientName  string
	Subject        string
	Body           string
	TemplateKey    string
	MemberID       int64 // 0 when not tied to a member
	Priority       Priority
	Status         string
	ScheduledFor   time.Time // zero means deliver as soon as possible
	RetryCount     int
	MaxRetries     int
	ErrorMessage   string
	CreatedAt      time.Time
	SentAt         time.Time
	// ClaimedAt is stamped by the store when a worker claims the row and
	// identifies that claim when the outcome is written back.
	ClaimedAt time.Time
}

// Validate checks that the Message has valid data.
// PRE: Message struct is populated
// POST: Returns nil if valid, error otherwise; MaxRetries defaulted when unset
func (m *Message) Validate() error {
	if strings.TrimSpace(m.RecipientEmail) == "" {
		return ErrEmptyRecipient
	}
	if _, err := mail.ParseAddress(m.RecipientEmail); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAddress, m.RecipientEmail)
	}
	if strings.TrimSpace(m.TemplateKey) == "" {
		return ErrEmptyTemplate
	}
	if _, err := ParsePriority(string(m.Priority)); err != nil {
		return err
	}
	if m.CreatedAt.IsZero() {
		return errors.New("created_at must be set")
	}
	if m.MaxRetries <= 0 {
		m.MaxRetries = DefaultMaxRetries
	}
	return nil
}

// IsDue returns true if the message is pending and its scheduled time has passed.
// INVARIANT: Message is not mutated
func (m *Message) IsDue(now time.Time) bool {
	if m.Status != StatusPending {
		return false
	}
	return m.ScheduledFor.IsZero() || !m.ScheduledFor.After(now)
}

// IsTerminal returns true for sent and failed messages.
func (m *Message) IsTerminal() bool {
	return m.Status == StatusSent || m.Status == StatusFailed
}

// Claim transitions a pending message to processing.
// PRE: Status is pending
// POST: Status is processing
func (m *Message) Claim() error {
	if m.Status != StatusPending {
		return ErrNotClaimed
	}
	m.Status = StatusProcessing
	return nil
}

// Release hands a claimed message back to the queue without counting an
// attempt, used when the worker stops before the send completed.
// PRE: Status is processing
// POST: Status is pending; RetryCount and ScheduledFor unchanged
func (m *Message) Release() error {
	if m.Status != StatusProcessing {
		return ErrNotClaimed
	}
	m.Status = StatusPending
	return nil
}

// MarkSent records a successful delivery.
// PRE: Status is processing
// POST: Status is sent, SentAt is set, ErrorMessage cleared
func (m *Message) MarkSent(at time.Time) error {
	if m.IsTerminal() {
		return ErrTerminal
	}
	m.Status = StatusSent
	m.SentAt = at
	m.ErrorMessage = ""
	return nil
}

// RegisterFailure applies the retry policy to a failed delivery attempt.
// Transient failures return the message to pending with a backoff delay until
// RetryCount reaches MaxRetries; fatal and not-found failures end it at once.
// PRE: Status is processing
// POST: RetryCount incremented; Status is pending (retry scheduled) or failed
func (m *Message) RegisterFailure(cause error, now time.Time) error {
	if m.IsTerminal() {
		return ErrTerminal
	}
	m.RetryCount++
	if cause != nil {
		m.ErrorMessage = cause.Error()
	}
	if Classify(cause) != FailureTransient || m.RetryCount >= m.MaxRetries {
		m.Status = StatusFailed
		return nil
	}
	m.Status = StatusPending
	m.ScheduledFor = now.Add(BackoffDelay(m.RetryCount))
	return nil
}

// BackoffDelay returns 2^retryCount minutes: 2m after the first failure,
// then 4m, 8m and so on.
func BackoffDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 20 {
		retryCount = 20
	}
	return BackoffBase * time.Duration(1<<retryCount)
}
