package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"assocmail/internal/domain/automation"
	"assocmail/internal/domain/email"
	"assocmail/internal/domain/locale"
	"assocmail/internal/domain/member"
	"assocmail/internal/domain/queue"
)

// TemplateStoreForQueue defines the template lookup needed to render a message.
type TemplateStoreForQueue interface {
	GetActiveByKey(ctx context.Context, key string) (email.Template, error)
}

// QueueStoreForEnqueue defines the queue writes needed by the Queue Manager.
type QueueStoreForEnqueue interface {
	Insert(ctx context.Context, m queue.Message) (int64, error)
}

// MemberReader loads member snapshots and their renewal history.
type MemberReader interface {
	GetByID(ctx context.Context, id int64) (member.Member, error)
	RenewalTimes(ctx context.Context, memberID int64) ([]time.Time, error)
}

// --- Queue Email ---

// QueueEmailInput carries input for queueing a single templated email.
type QueueEmailInput struct {
	RecipientEmail string // Empty uses the member's address when MemberID is set
	RecipientName  string
	TemplateKey    string
	Variables      email.Variables // Override member-derived values
	MemberID       int64           // 0 for mail not tied to a member
	Priority       queue.Priority  // Empty means normal
	ScheduledFor   time.Time       // Zero means as soon as possible
	Locale         locale.Locale   // Empty resolves from the member, else English
}

// QueueEmailDeps holds dependencies for QueueEmail.
type QueueEmailDeps struct {
	TemplateStore TemplateStoreForQueue
	QueueStore    QueueStoreForEnqueue
	MemberStore   MemberReader // Optional; required when MemberID is set
	Now           func() time.Time
	Location      *time.Location
	MaxRetries    int
}

// ExecuteQueueEmail renders the active template for the recipient's locale and
// queues the result as a pending message.
// PRE: TemplateKey is non-empty; RecipientEmail or MemberID is set
// POST: Exactly one pending message persisted, or none on error
func ExecuteQueueEmail(ctx context.Context, input QueueEmailInput, deps QueueEmailDeps) (queue.Message, error) {
	if strings.TrimSpace(input.TemplateKey) == "" {
		return queue.Message{}, queue.ErrEmptyTemplate
	}
	priority, err := queue.ParsePriority(string(input.Priority))
	if err != nil {
		return queue.Message{}, err
	}
	now := localNow(deps.Now, deps.Location)

	req := enqueueRequest{
		RecipientEmail: input.RecipientEmail,
		RecipientName:  input.RecipientName,
		TemplateKey:    input.TemplateKey,
		Locale:         input.Locale,
		MemberID:       input.MemberID,
		Priority:       priority,
		ScheduledFor:   input.ScheduledFor,
	}

	if input.MemberID != 0 {
		if deps.MemberStore == nil {
			return queue.Message{}, errors.New("member store is required to queue member mail")
		}
		m, err := loadMember(ctx, deps.MemberStore, input.MemberID, now)
		if err != nil {
			return queue.Message{}, err
		}
		if req.RecipientEmail == "" {
			req.RecipientEmail = m.Email
		}
		if req.RecipientName == "" {
			req.RecipientName = m.FullName()
		}
		if req.Locale == "" {
			req.Locale = locale.Resolve(&m)
		}
		req.Variables = automation.ResolveVariables(&m, req.Locale, now)
	}
	if !req.Locale.Valid() {
		req.Locale = locale.Default
	}
	req.Variables.Merge(input.Variables)

	return enqueue(ctx, req, deps.TemplateStore, deps.QueueStore, now, deps.MaxRetries)
}

// enqueueRequest is a message about to be rendered and queued.
type enqueueRequest struct {
	RecipientEmail string
	RecipientName  string
	TemplateKey    string
	Locale         locale.Locale
	Variables      email.Variables
	MemberID       int64
	Priority       queue.Priority
	ScheduledFor   time.Time
}

// enqueue is the Queue Manager: look up the active template, render it and
// insert a pending message.
// PRE: req.Priority is valid
// POST: Returns email.ErrTemplateNotFound (wrapped) without persisting anything
// when the template is missing or inactive
func enqueue(ctx context.Context, req enqueueRequest, templates TemplateStoreForQueue, messages QueueStoreForEnqueue, now time.Time, maxRetries int) (queue.Message, error) {
	tmpl, err := templates.GetActiveByKey(ctx, req.TemplateKey)
	if err != nil {
		return queue.Message{}, err
	}
	rendered := email.RenderContent(tmpl.Localized(req.Locale), req.Variables)

	msg := queue.Message{
		RecipientEmail: strings.TrimSpace(req.RecipientEmail),
		RecipientName:  req.RecipientName,
		Subject:        rendered.Subject,
		Body:           rendered.Body,
		TemplateKey:    req.TemplateKey,
		MemberID:       req.MemberID,
		Priority:       req.Priority,
		Status:         queue.StatusPending,
		ScheduledFor:   req.ScheduledFor,
		MaxRetries:     maxRetries,
		CreatedAt:      now,
	}
	if err := msg.Validate(); err != nil {
		return queue.Message{}, err
	}

	id, err := messages.Insert(ctx, msg)
	if err != nil {
		return queue.Message{}, fmt.Errorf("queue %q for %s: %w", req.TemplateKey, msg.RecipientEmail, err)
	}
	msg.ID = id

	zap.L().Info("email_queued",
		zap.Int64("queue_id", msg.ID),
		zap.String("template_key", msg.TemplateKey),
		zap.Int64("member_id", msg.MemberID),
		zap.String("priority", string(msg.Priority)),
		zap.String("locale", string(req.Locale)),
		zap.Time("scheduled_for", msg.ScheduledFor))
	return msg, nil
}

// loadMember reads a member and, for sponsors, refreshes RecurringYears from
// the renewal history. The count is never cached between calls.
// PRE: now is in the association's location; renewal years are read there
func loadMember(ctx context.Context, members MemberReader, id int64, now time.Time) (member.Member, error) {
	m, err := members.GetByID(ctx, id)
	if err != nil {
		return member.Member{}, err
	}
	if err := refreshRecurringYears(ctx, members, &m, now); err != nil {
		return member.Member{}, err
	}
	return m, nil
}

func refreshRecurringYears(ctx context.Context, members MemberReader, m *member.Member, now time.Time) error {
	if !m.IsSponsorPayment() {
		return nil
	}
	renewals, err := members.RenewalTimes(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("renewal history for member %d: %w", m.ID, err)
	}
	years := member.RenewalYearsIn(renewals, now.Location())
	m.RecurringYears = member.ConsecutiveYears(years, now.Year())
	return nil
}

// localNow reads the clock in loc; a nil loc means UTC.
func localNow(now func() time.Time, loc *time.Location) time.Time {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	return now().In(loc)
}
