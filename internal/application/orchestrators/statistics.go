package orchestrators

import (
	"context"
	"time"

	"assocmail/internal/domain/deliverylog"
)

// LogStoreForStatistics defines the aggregation needed for reporting.
type LogStoreForStatistics interface {
	Statistics(ctx context.Context, since time.Time) ([]deliverylog.TemplateStat, error)
}

// QueueCounter reports queue depth per status.
type QueueCounter interface {
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// StatisticsInput carries the reporting window.
type StatisticsInput struct {
	Days int // 0 means 30
}

// StatisticsDeps holds dependencies for GetStatistics.
type StatisticsDeps struct {
	LogStore LogStoreForStatistics
	Now      func() time.Time
}

// ExecuteGetStatistics aggregates delivery outcomes per template over the
// trailing window.
// PRE: Days >= 0
// POST: Returns one stat per template with at least one entry in the window
func ExecuteGetStatistics(ctx context.Context, input StatisticsInput, deps StatisticsDeps) ([]deliverylog.TemplateStat, error) {
	since := deliverylog.Window(deps.Now(), input.Days)
	return deps.LogStore.Statistics(ctx, since)
}

// ExecuteGetQueueDepth returns the number of queued messages per status.
func ExecuteGetQueueDepth(ctx context.Context, counter QueueCounter) (map[string]int, error) {
	return counter.CountByStatus(ctx)
}
