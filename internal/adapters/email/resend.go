package email

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"

	"assocmail/internal/domain/queue"
)

// ResendSender sends emails via the Resend API.
type ResendSender struct {
	client  *resend.Client
	from    string
	replyTo string
	now     func() time.Time
}

// NewResendSender creates a new ResendSender with the given API key and default from address.
// PRE: apiKey is a valid Resend API key; from is a valid sender address
// POST: Returns a ready-to-use sender
func NewResendSender(apiKey, from, replyTo string) *ResendSender {
	return &ResendSender{
		client:  resend.NewClient(apiKey),
		from:    from,
		replyTo: replyTo,
		now:     time.Now,
	}
}

// Send sends a single email via Resend. The body is sent both as text and as
// HTML converted from markdown.
// PRE: req has a recipient and a subject
// POST: Email accepted by Resend; returns the Resend message ID.
// Request problems are returned as fatal delivery errors, everything else
// (network, rate limit, provider outage) as transient.
func (s *ResendSender) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	params, err := s.buildRequest(req)
	if err != nil {
		return SendResult{}, queue.Fatal(err)
	}

	sent, err := s.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		zap.L().Error("resend_send_failed",
			zap.Error(err), zap.String("to", req.To), zap.String("template_key", req.TemplateKey))
		if isValidationError(err) {
			return SendResult{}, queue.Fatal(fmt.Errorf("resend rejected message: %w", err))
		}
		return SendResult{}, queue.Transient(fmt.Errorf("resend send failed: %w", err))
	}

	zap.L().Info("resend_sent",
		zap.String("message_id", sent.Id), zap.String("to", req.To), zap.String("template_key", req.TemplateKey))
	return SendResult{
		MessageID: sent.Id,
		SentAt:    s.now(),
	}, nil
}

func (s *ResendSender) buildRequest(req SendRequest) (*resend.SendEmailRequest, error) {
	if _, err := mail.ParseAddress(req.To); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", req.To, err)
	}
	if strings.TrimSpace(req.Subject) == "" {
		return nil, errors.New("subject is required")
	}
	from := req.From
	if from == "" {
		from = s.from
	}
	if from == "" {
		return nil, errors.New("from address is not configured")
	}

	html, err := MarkdownToHTML(req.Body)
	if err != nil {
		return nil, err
	}

	params := &resend.SendEmailRequest{
		From:    from,
		To:      []string{req.Recipient()},
		Subject: req.Subject,
		Html:    html,
		Text:    req.Body,
	}
	replyTo := req.ReplyTo
	if replyTo == "" {
		replyTo = s.replyTo
	}
	if replyTo != "" {
		params.ReplyTo = replyTo
	}
	if req.TemplateKey != "" {
		params.Tags = []resend.Tag{{Name: "template", Value: req.TemplateKey}}
	}
	return params, nil
}

// isValidationError reports provider rejections that will never succeed on
// retry. The Resend client surfaces API errors as plain text.
func isValidationError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "validation_error") || strings.Contains(msg, "invalid_")
}
