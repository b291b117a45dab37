package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"assocmail/internal/domain/automation"
	"assocmail/internal/domain/deliverylog"
	"assocmail/internal/domain/locale"
	"assocmail/internal/domain/member"
	"assocmail/internal/domain/queue"
)

// MemberStoreForSweep defines the member queries needed by the expiration sweep.
type MemberStoreForSweep interface {
	MemberReader
	ListExpiringOn(ctx context.Context, day time.Time, types []member.MembershipType) ([]member.Member, error)
}

// DuplicateChecker reports whether a member already got a template in [from, to).
// Both the queue and the delivery log implement it.
type DuplicateChecker interface {
	ExistsForMember(ctx context.Context, memberID int64, templateKey string, from, to time.Time) (bool, error)
}

// QueueStoreForSweep defines the queue operations needed by the sweep.
type QueueStoreForSweep interface {
	QueueStoreForEnqueue
	DuplicateChecker
}

// ExpiringDeps holds dependencies for CheckExpiringMemberships.
type ExpiringDeps struct {
	MemberStore   MemberStoreForSweep
	TemplateStore TemplateStoreForQueue
	QueueStore    QueueStoreForSweep
	LogStore      DuplicateChecker
	Now           func() time.Time
	Location      *time.Location
	MaxRetries    int
}

// ExpirationCounts maps a window label ("7d", "3d", "1d") to the number of
// reminders queued for it.
type ExpirationCounts map[string]int

// ExecuteCheckExpiringMemberships queues high-priority reminders for approved
// dues-paying members whose membership ends exactly 7, 3 or 1 days from today.
// Members who already received (or have queued) the window's template today
// are skipped, so the sweep can run any number of times a day.
// PRE: none
// POST: Every window has a count, even when it failed; the returned error
// joins per-window failures
func ExecuteCheckExpiringMemberships(ctx context.Context, deps ExpiringDeps) (ExpirationCounts, error) {
	now := localNow(deps.Now, deps.Location)
	dayStart, dayEnd := deliverylog.DayBounds(now, now.Location())

	counts := make(ExpirationCounts, len(automation.ExpirationWindows))
	var errs []error
	for _, w := range automation.ExpirationWindows {
		n, err := sweepWindow(ctx, w, now, dayStart, dayEnd, deps)
		counts[w.Label] = n
		if err != nil {
			zap.L().Error("expiration_window_failed", zap.String("window", w.Label), zap.Error(err))
			errs = append(errs, fmt.Errorf("window %s: %w", w.Label, err))
		}
	}

	zap.L().Info("expiration_sweep_complete",
		zap.Int("7d", counts["7d"]), zap.Int("3d", counts["3d"]), zap.Int("1d", counts["1d"]))
	return counts, errors.Join(errs...)
}

// sweepWindow queues reminders for one window.
// POST: Returns the number queued; a member-level failure is logged and skipped
func sweepWindow(ctx context.Context, w automation.ExpirationWindow, now, dayStart, dayEnd time.Time, deps ExpiringDeps) (int, error) {
	target := time.Date(now.Year(), now.Month(), now.Day()+w.Days, 0, 0, 0, 0, time.UTC)
	members, err := deps.MemberStore.ListExpiringOn(ctx, target, member.DuesPayingTypes())
	if err != nil {
		return 0, err
	}

	key := w.Trigger.TemplateKey()
	queued := 0
	for i := range members {
		m := &members[i]
		dup, err := alreadySentToday(ctx, deps, m.ID, key, dayStart, dayEnd)
		if err != nil {
			zap.L().Error("expiration_dedup_failed", zap.Int64("member_id", m.ID), zap.String("template_key", key), zap.Error(err))
			continue
		}
		if dup {
			zap.L().Debug("expiration_reminder_duplicate", zap.Int64("member_id", m.ID), zap.String("template_key", key))
			continue
		}
		if err := refreshRecurringYears(ctx, deps.MemberStore, m, now); err != nil {
			zap.L().Error("expiration_member_failed", zap.Int64("member_id", m.ID), zap.Error(err))
			continue
		}

		l := locale.Resolve(m)
		_, err = enqueue(ctx, enqueueRequest{
			RecipientEmail: m.Email,
			RecipientName:  m.FullName(),
			TemplateKey:    key,
			Locale:         l,
			Variables:      automation.ResolveVariables(m, l, now),
			MemberID:       m.ID,
			Priority:       queue.PriorityHigh,
		}, deps.TemplateStore, deps.QueueStore, now, deps.MaxRetries)
		if err != nil {
			zap.L().Error("expiration_enqueue_failed", zap.Int64("member_id", m.ID), zap.String("template_key", key), zap.Error(err))
			continue
		}
		queued++
	}
	return queued, nil
}

// alreadySentToday checks the delivery log and the queue. The queue check
// covers reminders queued earlier today that the worker has not drained yet.
func alreadySentToday(ctx context.Context, deps ExpiringDeps, memberID int64, key string, from, to time.Time) (bool, error) {
	logged, err := deps.LogStore.ExistsForMember(ctx, memberID, key, from, to)
	if err != nil || logged {
		return logged, err
	}
	return deps.QueueStore.ExistsForMember(ctx, memberID, key, from, to)
}
