package email

import (
	"context"
	"time"

	"go.uber.org/zap"

	"assocmail/internal/adapters/http/perf"
)

// TimedSender records the latency and outcome of every send.
type TimedSender struct {
	next      Sender
	collector *perf.Collector
	threshold time.Duration
}

// NewTimedSender wraps next with timing instrumentation.
// PRE: next and collector are non-nil
func NewTimedSender(next Sender, collector *perf.Collector, slow time.Duration) *TimedSender {
	return &TimedSender{next: next, collector: collector, threshold: slow}
}

// Send forwards to the wrapped sender and records a delivery timing entry.
func (s *TimedSender) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	start := time.Now()
	res, err := s.next.Send(ctx, req)
	elapsed := time.Since(start)

	status := 0
	if err != nil {
		status = 1
	}
	s.collector.Record(perf.Entry{
		Kind:       perf.KindDelivery,
		Path:       req.TemplateKey,
		StatusCode: status,
		DurationMs: float64(elapsed.Microseconds()) / 1000,
		Timestamp:  start,
	})
	if s.threshold > 0 && elapsed > s.threshold {
		zap.L().Warn("slow_delivery",
			zap.String("template_key", req.TemplateKey), zap.Duration("elapsed", elapsed))
	}
	return res, err
}
