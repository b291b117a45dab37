package orchestrators

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"assocmail/internal/domain/automation"
	"assocmail/internal/domain/locale"
	"assocmail/internal/domain/queue"
)

// RuleStoreForAutomation defines the rule lookup needed by the trigger engine.
type RuleStoreForAutomation interface {
	ListActiveByTrigger(ctx context.Context, trigger automation.TriggerType) ([]automation.Rule, error)
}

// RenewalRecorder records a membership renewal, at most once per local day.
type RenewalRecorder interface {
	RecordRenewal(ctx context.Context, memberID int64, at time.Time) (bool, error)
}

// MemberStoreForTrigger defines the member operations needed by TriggerAutomation.
type MemberStoreForTrigger interface {
	MemberReader
	RenewalRecorder
}

// --- Trigger Automation ---

// TriggerInput carries a lifecycle event.
type TriggerInput struct {
	Trigger  automation.TriggerType
	MemberID int64
}

// TriggerDeps holds dependencies for TriggerAutomation.
type TriggerDeps struct {
	MemberStore   MemberStoreForTrigger
	RuleStore     RuleStoreForAutomation
	TemplateStore TemplateStoreForQueue
	QueueStore    QueueStoreForEnqueue
	Now           func() time.Time
	Location      *time.Location
	MaxRetries    int
}

// TriggerResult reports what the active rules produced.
type TriggerResult struct {
	Rules  int     `json:"rules"`
	Queued int     `json:"queued"`
	Failed int     `json:"failed"`
	IDs    []int64 `json:"queue_ids"`
}

// ExecuteTriggerAutomation fires every active rule bound to the trigger for
// one member. A failing rule is logged and skipped; the rest still run.
// PRE: MemberID > 0
// POST: Returns member.ErrNotFound (wrapped) and queues nothing when the
// member is absent; otherwise one pending message per successful rule
func ExecuteTriggerAutomation(ctx context.Context, input TriggerInput, deps TriggerDeps) (TriggerResult, error) {
	trigger, err := automation.ParseTriggerType(string(input.Trigger))
	if err != nil {
		return TriggerResult{}, err
	}
	now := localNow(deps.Now, deps.Location)

	m, err := deps.MemberStore.GetByID(ctx, input.MemberID)
	if err != nil {
		return TriggerResult{}, err
	}

	if trigger == automation.TriggerMembershipRenewed {
		recorded, err := deps.MemberStore.RecordRenewal(ctx, m.ID, now)
		if err != nil {
			return TriggerResult{}, err
		}
		if !recorded {
			zap.L().Info("renewal_already_recorded", zap.Int64("member_id", m.ID), zap.Time("at", now))
		}
	}
	if err := refreshRecurringYears(ctx, deps.MemberStore, &m, now); err != nil {
		return TriggerResult{}, err
	}

	rules, err := deps.RuleStore.ListActiveByTrigger(ctx, trigger)
	if err != nil {
		return TriggerResult{}, fmt.Errorf("load rules for %s: %w", trigger, err)
	}

	result := TriggerResult{Rules: len(rules)}
	l := locale.Resolve(&m)
	vars := automation.ResolveVariables(&m, l, now)

	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			result.Failed++
			zap.L().Error("automation_rule_invalid",
				zap.Int64("rule_id", rule.ID), zap.String("trigger", trigger.String()), zap.Error(err))
			continue
		}

		var scheduled time.Time
		if !rule.IsImmediate() {
			scheduled = now.AddDate(0, 0, rule.DaysOffset)
		}
		msg, err := enqueue(ctx, enqueueRequest{
			RecipientEmail: m.Email,
			RecipientName:  m.FullName(),
			TemplateKey:    rule.TemplateKey,
			Locale:         l,
			Variables:      vars,
			MemberID:       m.ID,
			Priority:       queue.PriorityNormal,
			ScheduledFor:   scheduled,
		}, deps.TemplateStore, deps.QueueStore, now, deps.MaxRetries)
		if err != nil {
			result.Failed++
			zap.L().Error("automation_rule_failed",
				zap.Int64("rule_id", rule.ID),
				zap.String("trigger", trigger.String()),
				zap.String("template_key", rule.TemplateKey),
				zap.Int64("member_id", m.ID),
				zap.Error(err))
			continue
		}
		result.Queued++
		result.IDs = append(result.IDs, msg.ID)
	}

	zap.L().Info("automation_triggered",
		zap.String("trigger", trigger.String()),
		zap.Int64("member_id", m.ID),
		zap.Int("rules", result.Rules),
		zap.Int("queued", result.Queued),
		zap.Int("failed", result.Failed))
	return result, nil
}
