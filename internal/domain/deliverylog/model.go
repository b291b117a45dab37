package deliverylog

import (
	"errors"
	"time"

	"assocmail/internal/domain/queue"
)

// Status values recorded for a finished delivery.
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// DefaultWindowDays is the reporting window used when none is given.
const DefaultWindowDays = 30

// Domain errors
var (
	ErrEmptyTemplate = errors.New("log entry template key is required")
	ErrInvalidStatus = errors.New("log entry status must be sent or failed")
)

// Entry is the immutable record of one message's final delivery outcome.
type Entry struct {
	ID          string
	MessageID   int64
	MemberID    int64 // 0 when not tied to a member
	Recipient   string
	TemplateKey string
	Subject     string
	Status      string
	Error       string
	CreatedAt   time.Time
}

// TemplateStat aggregates outcomes for one template over a reporting window.
type TemplateStat struct {
	TemplateKey string `json:"template_key"`
	Total       int    `json:"total"`
	Sent        int    `json:"sent"`
	Failed      int    `json:"failed"`
}

// FromMessage builds the log entry for a message that reached a terminal state.
// PRE: msg.Status is sent or failed
// POST: Entry mirrors the message outcome; caller assigns ID
func FromMessage(msg queue.Message, at time.Time) Entry {
	return Entry{
		MessageID:   msg.ID,
		MemberID:    msg.MemberID,
		Recipient:   msg.RecipientEmail,
		TemplateKey: msg.TemplateKey,
		Subject:     msg.Subject,
		Status:      msg.Status,
		Error:       msg.ErrorMessage,
		CreatedAt:   at,
	}
}

// Validate checks that the Entry has valid data.
func (e *Entry) Validate() error {
	if e.TemplateKey == "" {
		return ErrEmptyTemplate
	}
	if e.Status != StatusSent && e.Status != StatusFailed {
		return ErrInvalidStatus
	}
	if e.CreatedAt.IsZero() {
		return errors.New("created_at must be set")
	}
	return nil
}

// DayBounds returns the [start, end) instants of the calendar day containing
// t in loc. Reminder de-duplication uses it as its window.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// Window returns the start of a trailing reporting window of days ending at now.
func Window(now time.Time, days int) time.Time {
	if days <= 0 {
		days = DefaultWindowDays
	}
	return now.AddDate(0, 0, -days)
}
