// Package web exposes the pipeline's operations as an authenticated JSON
// admin API.
package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"assocmail/internal/adapters/email"
	"assocmail/internal/adapters/http/middleware"
	"assocmail/internal/adapters/http/perf"
	automationStore "assocmail/internal/adapters/storage/automation"
	logStore "assocmail/internal/adapters/storage/deliverylog"
	emailStore "assocmail/internal/adapters/storage/email"
	memberStore "assocmail/internal/adapters/storage/member"
	queueStore "assocmail/internal/adapters/storage/queue"
)

// Stores holds all storage dependencies.
type Stores struct {
	MemberStore   memberStore.Store
	TemplateStore emailStore.Store
	RuleStore     automationStore.Store
	QueueStore    queueStore.Store
	LogStore      logStore.Store
}

// Options configures the admin API.
type Options struct {
	AdminKeyHash       string
	CSRFKey            []byte // nil disables form CSRF protection
	SecureCookies      bool
	TrustedOrigins     []string
	RateLimitPerSecond int
	RequestTimeout     time.Duration
	SlowRequest        time.Duration

	Sender     email.Sender
	Collector  *perf.Collector
	Now        func() time.Time
	Location   *time.Location
	MaxRetries int
	BatchSize  int
}

// DefaultRateLimitPerSecond controls the per-IP rate limit.
const DefaultRateLimitPerSecond = 10

// server carries dependencies for the handlers.
type server struct {
	stores Stores
	opts   Options
}

// NewRouter wires HTTP handlers for the admin API.
// PRE: every store in s is non-nil; opts.Sender is non-nil
// POST: /health is public; everything under /admin requires the admin key
func NewRouter(s Stores, opts Options) http.Handler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.RateLimitPerSecond <= 0 {
		opts.RateLimitPerSecond = DefaultRateLimitPerSecond
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = time.Minute
	}
	srv := &server{stores: s, opts: opts}
	limiter := middleware.NewRateLimiter(opts.RateLimitPerSecond, time.Second)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.Timing(opts.Collector, opts.SlowRequest))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RateLimit(limiter))

	r.Get("/health", srv.handleHealth)

	r.Route("/admin", func(r chi.Router) {
		if opts.CSRFKey != nil {
			r.Use(middleware.CSRF(opts.CSRFKey, opts.SecureCookies, opts.TrustedOrigins))
		}
		r.Use(middleware.AdminKey(opts.AdminKeyHash))
		r.Use(chiMiddleware.Timeout(opts.RequestTimeout))

		r.Post("/emails", srv.handleQueueEmail)
		r.Post("/queue/process", srv.handleProcessQueue)
		r.Get("/queue", srv.handleQueueDepth)
		r.Post("/automation/trigger", srv.handleTrigger)
		r.Post("/sweeps/expiring", srv.handleExpiringSweep)
		r.Get("/statistics", srv.handleStatistics)
		r.Get("/members/{id}/deliveries", srv.handleMemberDeliveries)
		r.Get("/perf", srv.handlePerf)
	})
	return r
}
