package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"assocmail/internal/adapters/http/middleware"
	"assocmail/internal/application/orchestrators"
	"assocmail/internal/domain/automation"
	"assocmail/internal/domain/deliverylog"
	"assocmail/internal/domain/email"
	"assocmail/internal/domain/locale"
	"assocmail/internal/domain/member"
	"assocmail/internal/domain/queue"
)

const (
	maxBodyBytes        = 1 << 20
	maxProcessLimit     = 500
	maxStatisticsDays   = 365
	defaultHistoryLimit = 50
	defaultPerfWindow   = time.Hour
	perfTopN            = 10
)

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("response_encode_failed", zap.Error(err))
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, RequestID: middleware.RequestIDFromContext(r.Context())})
}

// internalError logs the cause and hides it from the client.
func internalError(w http.ResponseWriter, r *http.Request, err error) {
	zap.L().Error("internal_error",
		zap.String("request_id", middleware.RequestIDFromContext(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Error(err))
	writeError(w, r, http.StatusInternalServerError, "internal server error")
}

// respondError maps domain errors onto status codes.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, member.ErrNotFound),
		errors.Is(err, email.ErrTemplateNotFound),
		errors.Is(err, queue.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, automation.ErrUnknownTrigger),
		errors.Is(err, queue.ErrEmptyRecipient),
		errors.Is(err, queue.ErrInvalidAddress),
		errors.Is(err, queue.ErrEmptyTemplate),
		errors.Is(err, queue.ErrUnknownPriority):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		internalError(w, r, err)
	}
}

// strictDecode decodes JSON from the request body, rejecting unknown fields.
func strictDecode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// intParam parses an optional non-negative integer query parameter.
func intParam(r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Queue Email ---

type queueEmailRequest struct {
	RecipientEmail string            `json:"recipient_email"`
	RecipientName  string            `json:"recipient_name"`
	TemplateKey    string            `json:"template_key"`
	Variables      map[string]string `json:"variables"`
	MemberID       int64             `json:"member_id"`
	Priority       string            `json:"priority"`
	ScheduledFor   *time.Time        `json:"scheduled_for"`
	Locale         string            `json:"locale"`
}

type messageResponse struct {
	ID           int64      `json:"id"`
	Status       string     `json:"status"`
	TemplateKey  string     `json:"template_key"`
	Recipient    string     `json:"recipient_email"`
	Subject      string     `json:"subject"`
	Priority     string     `json:"priority"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
}

// handleQueueEmail handles POST /admin/emails.
func (s *server) handleQueueEmail(w http.ResponseWriter, r *http.Request) {
	var req queueEmailRequest
	if err := strictDecode(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	lc := locale.Locale(req.Locale)
	if lc != "" && !lc.Valid() {
		writeError(w, r, http.StatusBadRequest, "unsupported locale")
		return
	}
	input := orchestrators.QueueEmailInput{
		RecipientEmail: req.RecipientEmail,
		RecipientName:  req.RecipientName,
		TemplateKey:    req.TemplateKey,
		Variables:      email.NewVariables(req.Variables),
		MemberID:       req.MemberID,
		Priority:       queue.Priority(req.Priority),
		Locale:         lc,
	}
	if req.ScheduledFor != nil {
		input.ScheduledFor = req.ScheduledFor.UTC()
	}

	msg, err := orchestrators.ExecuteQueueEmail(r.Context(), input, orchestrators.QueueEmailDeps{
		TemplateStore: s.stores.TemplateStore,
		QueueStore:    s.stores.QueueStore,
		MemberStore:   s.stores.MemberStore,
		Now:           s.opts.Now,
		Location:      s.opts.Location,
		MaxRetries:    s.opts.MaxRetries,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	resp := messageResponse{
		ID:          msg.ID,
		Status:      msg.Status,
		TemplateKey: msg.TemplateKey,
		Recipient:   msg.RecipientEmail,
		Subject:     msg.Subject,
		Priority:    string(msg.Priority),
	}
	if !msg.ScheduledFor.IsZero() {
		at := msg.ScheduledFor.UTC()
		resp.ScheduledFor = &at
	}
	writeJSON(w, http.StatusCreated, resp)
}

// --- Delivery Worker ---

// handleProcessQueue handles POST /admin/queue/process?limit=N.
func (s *server) handleProcessQueue(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(r, "limit", s.opts.BatchSize)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	limit = min(limit, maxProcessLimit)

	result, err := orchestrators.ExecuteProcessQueue(r.Context(), orchestrators.ProcessQueueInput{Limit: limit},
		orchestrators.ProcessQueueDeps{
			QueueStore: s.stores.QueueStore,
			LogStore:   s.stores.LogStore,
			Sender:     s.opts.Sender,
			Now:        s.opts.Now,
			GenerateID: uuid.NewString,
		})
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleQueueDepth handles GET /admin/queue.
func (s *server) handleQueueDepth(w http.ResponseWriter, r *http.Request) {
	depth, err := orchestrators.ExecuteGetQueueDepth(r.Context(), s.stores.QueueStore)
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, depth)
}

// --- Trigger / Rule Engine ---

type triggerRequest struct {
	Trigger  string `json:"trigger"`
	MemberID int64  `json:"member_id"`
}

// handleTrigger handles POST /admin/automation/trigger.
func (s *server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := strictDecode(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.MemberID <= 0 {
		writeError(w, r, http.StatusBadRequest, "member_id is required")
		return
	}

	result, err := orchestrators.ExecuteTriggerAutomation(r.Context(),
		orchestrators.TriggerInput{Trigger: automation.TriggerType(req.Trigger), MemberID: req.MemberID},
		s.triggerDeps())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *server) triggerDeps() orchestrators.TriggerDeps {
	return orchestrators.TriggerDeps{
		MemberStore:   s.stores.MemberStore,
		RuleStore:     s.stores.RuleStore,
		TemplateStore: s.stores.TemplateStore,
		QueueStore:    s.stores.QueueStore,
		Now:           s.opts.Now,
		Location:      s.opts.Location,
		MaxRetries:    s.opts.MaxRetries,
	}
}

type sweepResponse struct {
	Queued orchestrators.ExpirationCounts `json:"queued"`
	Error  string                         `json:"error,omitempty"`
}

// handleExpiringSweep handles POST /admin/sweeps/expiring.
// A partially failed sweep still reports what it queued.
func (s *server) handleExpiringSweep(w http.ResponseWriter, r *http.Request) {
	counts, err := orchestrators.ExecuteCheckExpiringMemberships(r.Context(), orchestrators.ExpiringDeps{
		MemberStore:   s.stores.MemberStore,
		TemplateStore: s.stores.TemplateStore,
		QueueStore:    s.stores.QueueStore,
		LogStore:      s.stores.LogStore,
		Now:           s.opts.Now,
		Location:      s.opts.Location,
		MaxRetries:    s.opts.MaxRetries,
	})
	if err != nil {
		zap.L().Error("expiring_sweep_incomplete",
			zap.String("request_id", middleware.RequestIDFromContext(r.Context())),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, sweepResponse{Queued: counts, Error: "sweep incomplete"})
		return
	}
	writeJSON(w, http.StatusOK, sweepResponse{Queued: counts})
}

// --- Delivery Log ---

type statisticsResponse struct {
	Days      int                        `json:"days"`
	Since     time.Time                  `json:"since"`
	Templates []deliverylog.TemplateStat `json:"templates"`
	Queue     map[string]int             `json:"queue"`
}

// handleStatistics handles GET /admin/statistics?days=N.
func (s *server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	days, ok := intParam(r, "days", deliverylog.DefaultWindowDays)
	if !ok || days > maxStatisticsDays {
		writeError(w, r, http.StatusBadRequest, "days must be between 0 and 365")
		return
	}
	if days == 0 {
		days = deliverylog.DefaultWindowDays
	}

	ctx := r.Context()
	stats, err := orchestrators.ExecuteGetStatistics(ctx, orchestrators.StatisticsInput{Days: days},
		orchestrators.StatisticsDeps{LogStore: s.stores.LogStore, Now: s.opts.Now})
	if err != nil {
		internalError(w, r, err)
		return
	}
	depth, err := orchestrators.ExecuteGetQueueDepth(ctx, s.stores.QueueStore)
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statisticsResponse{
		Days:      days,
		Since:     deliverylog.Window(s.opts.Now(), days),
		Templates: stats,
		Queue:     depth,
	})
}

type deliveryResponse struct {
	ID          string    `json:"id"`
	QueueID     int64     `json:"queue_id,omitempty"`
	TemplateKey string    `json:"template_key"`
	Recipient   string    `json:"recipient"`
	Subject     string    `json:"subject"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// handleMemberDeliveries handles GET /admin/members/{id}/deliveries?limit=N.
func (s *server) handleMemberDeliveries(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "invalid member id")
		return
	}
	limit, ok := intParam(r, "limit", defaultHistoryLimit)
	if !ok || limit == 0 {
		limit = defaultHistoryLimit
	}

	entries, err := s.stores.LogStore.ListByMember(r.Context(), id, min(limit, maxProcessLimit))
	if err != nil {
		internalError(w, r, err)
		return
	}
	out := make([]deliveryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, deliveryResponse{
			ID:          e.ID,
			QueueID:     e.MessageID,
			TemplateKey: e.TemplateKey,
			Recipient:   e.Recipient,
			Subject:     e.Subject,
			Status:      e.Status,
			Error:       e.Error,
			CreatedAt:   e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handlePerf handles GET /admin/perf?minutes=N.
func (s *server) handlePerf(w http.ResponseWriter, r *http.Request) {
	if s.opts.Collector == nil {
		writeError(w, r, http.StatusNotFound, "performance collection disabled")
		return
	}
	minutes, ok := intParam(r, "minutes", int(defaultPerfWindow/time.Minute))
	if !ok || minutes == 0 {
		writeError(w, r, http.StatusBadRequest, "minutes must be a positive integer")
		return
	}
	since := s.opts.Now().Add(-time.Duration(minutes) * time.Minute)
	writeJSON(w, http.StatusOK, s.opts.Collector.Snapshot(since, perfTopN))
}
