package email

import (
	"context"
	"net/mail"
	"time"
)

// SendRequest contains the data needed to send an email via an external provider.
type SendRequest struct {
	To          string // Recipient email address
	ToName      string // Recipient display name, may be empty
	From        string // Sender address; empty uses the sender's default
	Subject     string
	Body        string // Rendered template body (markdown)
	ReplyTo     string
	TemplateKey string // Originating template, used for tagging and timing
}

// Recipient returns the To header value with the display name when present.
func (r SendRequest) Recipient() string {
	if r.ToName == "" {
		return r.To
	}
	return (&mail.Address{Name: r.ToName, Address: r.To}).String()
}

// SendResult contains the response from the email provider.
type SendResult struct {
	MessageID string    // Provider's message ID for tracking
	SentAt    time.Time // When the send was accepted
}

// Sender is the delivery transport used by the queue worker.
// Failures are reported as *queue.DeliveryError where the kind is known;
// any other error is treated as transient.
type Sender interface {
	Send(ctx context.Context, req SendRequest) (SendResult, error)
}
