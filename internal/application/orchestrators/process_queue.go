package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	emailAdapter "assocmail/internal/adapters/email"
	"assocmail/internal/domain/deliverylog"
	"assocmail/internal/domain/queue"
)

// DefaultBatchSize is used when a drain pass is requested without a limit.
const DefaultBatchSize = 50

// DefaultStaleAfter is how long a claim may stay in processing before a
// later pass treats the attempt as lost. It exceeds the scheduler job timeout.
const DefaultStaleAfter = 15 * time.Minute

// ErrClaimExpired is recorded on a message whose claim outlived DefaultStaleAfter.
var ErrClaimExpired = errors.New("delivery claim expired before the outcome was recorded")

// QueueStoreForWorker defines the queue operations owned by the Delivery Worker.
type QueueStoreForWorker interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]queue.Message, error)
	Claim(ctx context.Context, id int64, now time.Time) (queue.Message, error)
	Complete(ctx context.Context, m queue.Message) error
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]queue.Message, error)
}

// LogStoreForWorker defines the delivery log writes needed by the worker.
type LogStoreForWorker interface {
	Append(ctx context.Context, e deliverylog.Entry) error
}

// ProcessQueueInput carries input for one drain pass.
type ProcessQueueInput struct {
	Limit int
}

// ProcessQueueDeps holds dependencies for ProcessQueue.
type ProcessQueueDeps struct {
	QueueStore QueueStoreForWorker
	LogStore   LogStoreForWorker
	Sender     emailAdapter.Sender
	Now        func() time.Time
	GenerateID func() string
	StaleAfter time.Duration // 0 uses DefaultStaleAfter
}

// ProcessResult aggregates the outcome of one drain pass.
// Total counts the messages this worker claimed. Retried ones went back to
// pending with a backoff; Released ones went back untouched because the pass
// was cancelled mid-send; Unsettled ones could not be written back and stay
// in processing until a later pass recovers them. Skipped ones were claimed
// by another worker or were not yet due. Recovered counts stale claims
// settled before the batch.
type ProcessResult struct {
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Retried   int `json:"retried"`
	Released  int `json:"released"`
	Unsettled int `json:"unsettled"`
	Skipped   int `json:"skipped"`
	Recovered int `json:"recovered"`
	Total     int `json:"total"`
}

// outcome is how one claimed message was settled.
type outcome int

const (
	outcomeSent outcome = iota
	outcomeFailed
	outcomeRetried
	outcomeReleased
	outcomeUnsettled
)

// ExecuteProcessQueue delivers due messages in priority then FIFO order.
// A failure on one message never aborts the rest of the batch.
// PRE: Limit >= 0 (0 uses DefaultBatchSize)
// POST: Every claimed message is sent, rescheduled, released or failed, or is
// reported Unsettled; terminal outcomes are appended to the delivery log
func ExecuteProcessQueue(ctx context.Context, input ProcessQueueInput, deps ProcessQueueDeps) (ProcessResult, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = DefaultBatchSize
	}

	var result ProcessResult
	result.Recovered = recoverStaleClaims(ctx, limit, deps)

	due, err := deps.QueueStore.ListDue(ctx, deps.Now(), limit)
	if err != nil {
		return result, fmt.Errorf("list due messages: %w", err)
	}

	for _, listed := range due {
		if ctx.Err() != nil {
			break
		}
		// The listed row may be stale; only the claimed row is delivered.
		msg, err := deps.QueueStore.Claim(ctx, listed.ID, deps.Now())
		if err != nil {
			result.Skipped++
			if !errors.Is(err, queue.ErrNotClaimed) {
				zap.L().Error("queue_claim_failed", zap.Int64("queue_id", listed.ID), zap.Error(err))
			}
			continue
		}
		result.Total++

		switch deliver(ctx, &msg, deps) {
		case outcomeSent:
			result.Sent++
		case outcomeFailed:
			result.Failed++
		case outcomeRetried:
			result.Retried++
		case outcomeReleased:
			result.Released++
		default:
			result.Unsettled++
		}
	}

	if result.Total > 0 || result.Skipped > 0 || result.Recovered > 0 {
		zap.L().Info("queue_processed",
			zap.Int("sent", result.Sent),
			zap.Int("failed", result.Failed),
			zap.Int("retried", result.Retried),
			zap.Int("released", result.Released),
			zap.Int("unsettled", result.Unsettled),
			zap.Int("skipped", result.Skipped),
			zap.Int("recovered", result.Recovered),
			zap.Int("total", result.Total))
	}
	return result, nil
}

// deliver attempts one claimed message and persists the outcome. Writes after
// the send ignore cancellation of ctx so a shutdown or request timeout during
// the send cannot strand the row in processing.
// PRE: msg is processing and claimed by this worker
// POST: Returns how the message was settled
func deliver(ctx context.Context, msg *queue.Message, deps ProcessQueueDeps) outcome {
	_, sendErr := deps.Sender.Send(ctx, emailAdapter.SendRequest{
		To:          msg.RecipientEmail,
		ToName:      msg.RecipientName,
		Subject:     msg.Subject,
		Body:        msg.Body,
		TemplateKey: msg.TemplateKey,
	})
	settleCtx := context.WithoutCancel(ctx)
	now := deps.Now()

	var err error
	released := false
	switch {
	case sendErr == nil:
		err = msg.MarkSent(now)
	case ctx.Err() != nil && errors.Is(sendErr, ctx.Err()):
		released = true
		err = msg.Release()
	default:
		err = msg.RegisterFailure(sendErr, now)
	}
	if err != nil {
		zap.L().Error("queue_transition_invalid",
			zap.Int64("queue_id", msg.ID), zap.String("status", msg.Status), zap.NamedError("send_error", sendErr), zap.Error(err))
		return outcomeUnsettled
	}

	if err := deps.QueueStore.Complete(settleCtx, *msg); err != nil {
		zap.L().Error("queue_complete_failed",
			zap.Int64("queue_id", msg.ID), zap.String("status", msg.Status), zap.Error(err))
		return outcomeUnsettled
	}

	switch msg.Status {
	case queue.StatusSent:
		appendLog(settleCtx, msg, deps, now)
		return outcomeSent
	case queue.StatusFailed:
		zap.L().Warn("queue_message_failed",
			zap.Int64("queue_id", msg.ID),
			zap.String("template_key", msg.TemplateKey),
			zap.Int("retry_count", msg.RetryCount),
			zap.Stringer("kind", queue.Classify(sendErr)),
			zap.Error(sendErr))
		appendLog(settleCtx, msg, deps, now)
		return outcomeFailed
	}
	if released {
		zap.L().Info("queue_message_released", zap.Int64("queue_id", msg.ID), zap.Error(sendErr))
		return outcomeReleased
	}
	zap.L().Info("queue_retry_scheduled",
		zap.Int64("queue_id", msg.ID),
		zap.Int("retry_count", msg.RetryCount),
		zap.Time("scheduled_for", msg.ScheduledFor),
		zap.Error(sendErr))
	return outcomeRetried
}

// recoverStaleClaims settles messages left in processing by a worker that
// never wrote an outcome. Each counts as one failed attempt, so a message
// that was actually sent may be delivered again.
// POST: Returns the number of rows this pass settled
func recoverStaleClaims(ctx context.Context, limit int, deps ProcessQueueDeps) int {
	staleAfter := deps.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	now := deps.Now()
	stale, err := deps.QueueStore.ListStale(ctx, now.Add(-staleAfter), limit)
	if err != nil {
		zap.L().Error("queue_stale_list_failed", zap.Error(err))
		return 0
	}

	recovered := 0
	for i := range stale {
		msg := &stale[i]
		if err := msg.RegisterFailure(ErrClaimExpired, now); err != nil {
			zap.L().Error("queue_transition_invalid", zap.Int64("queue_id", msg.ID), zap.Error(err))
			continue
		}
		if err := deps.QueueStore.Complete(ctx, *msg); err != nil {
			if !errors.Is(err, queue.ErrNotClaimed) {
				zap.L().Error("queue_stale_recover_failed", zap.Int64("queue_id", msg.ID), zap.Error(err))
			}
			continue
		}
		recovered++
		zap.L().Warn("queue_stale_claim_recovered",
			zap.Int64("queue_id", msg.ID),
			zap.Time("claimed_at", msg.ClaimedAt),
			zap.String("status", msg.Status),
			zap.Int("retry_count", msg.RetryCount))
		if msg.Status == queue.StatusFailed {
			appendLog(ctx, msg, deps, now)
		}
	}
	return recovered
}

func appendLog(ctx context.Context, msg *queue.Message, deps ProcessQueueDeps, now time.Time) {
	entry := deliverylog.FromMessage(*msg, now)
	entry.ID = deps.GenerateID()
	if err := deps.LogStore.Append(ctx, entry); err != nil {
		zap.L().Error("delivery_log_append_failed", zap.Int64("queue_id", msg.ID), zap.Error(err))
	}
}
