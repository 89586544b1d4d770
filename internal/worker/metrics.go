package worker

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/medtracker/medtracker/internal/telemetry"
)

const meterName = "github.com/medtracker/medtracker/internal/worker"

// DispatchStats are cumulative dispatcher statistics for the ops endpoint.
type DispatchStats struct {
	TotalRuns           int64
	FailedRuns          int64
	RemindersProcessed  int64
	RemindersDeleted    int64
	NotificationsSent   int64
	NotificationsFailed int64
	TokensPruned        int64

	LastRunAt       time.Time
	LastSuccessAt   time.Time
	LastRunDuration time.Duration
	LastError       string
}

// Metrics records dispatcher runs in memory and as OpenTelemetry instruments.
type Metrics struct {
	mu    sync.RWMutex
	stats DispatchStats

	runs                metric.Int64Counter
	remindersDispatched metric.Int64Counter
	notificationsSent   metric.Int64Counter
	notificationsFailed metric.Int64Counter
	tokensPruned        metric.Int64Counter
	runDuration         metric.Float64Histogram
}

// NewMetrics creates dispatcher metrics on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := telemetry.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.runs, err = meter.Int64Counter("dispatch.runs",
		metric.WithDescription("Dispatcher runs by outcome"),
		metric.WithUnit("{run}")); err != nil {
		return nil, err
	}
	if m.remindersDispatched, err = meter.Int64Counter("reminders.dispatched",
		metric.WithDescription("Due reminders processed by the dispatcher"),
		metric.WithUnit("{reminder}")); err != nil {
		return nil, err
	}
	if m.notificationsSent, err = meter.Int64Counter("notifications.sent",
		metric.WithDescription("Notifications accepted by the push gateway"),
		metric.WithUnit("{message}")); err != nil {
		return nil, err
	}
	if m.notificationsFailed, err = meter.Int64Counter("notifications.failed",
		metric.WithDescription("Notifications rejected by the push gateway"),
		metric.WithUnit("{message}")); err != nil {
		return nil, err
	}
	if m.tokensPruned, err = meter.Int64Counter("fcm_tokens.pruned",
		metric.WithDescription("Invalid FCM tokens deleted"),
		metric.WithUnit("{token}")); err != nil {
		return nil, err
	}
	if m.runDuration, err = meter.Float64Histogram("dispatch.duration",
		metric.WithDescription("Duration of dispatcher runs"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}

	return m, nil
}

// Record adds one run to the metrics. A nil Metrics ignores the call.
func (m *Metrics) Record(ctx context.Context, result *RunResult, runErr error) {
	if m == nil || result == nil {
		return
	}

	outcome := "success"
	if runErr != nil {
		outcome = "failure"
	}
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("stage", string(result.Stage)),
	)

	if m.runs != nil {
		m.runs.Add(ctx, 1, attrs)
		m.remindersDispatched.Add(ctx, int64(result.RemindersFetched))
		m.notificationsSent.Add(ctx, int64(result.MessagesSent))
		m.notificationsFailed.Add(ctx, int64(result.MessagesFailed))
		m.tokensPruned.Add(ctx, int64(result.TokensDeleted))
		m.runDuration.Record(ctx, result.Duration.Seconds(), attrs)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.TotalRuns++
	m.stats.RemindersProcessed += int64(result.RemindersFetched)
	m.stats.RemindersDeleted += int64(result.RemindersDeleted)
	m.stats.NotificationsSent += int64(result.MessagesSent)
	m.stats.NotificationsFailed += int64(result.MessagesFailed)
	m.stats.TokensPruned += int64(result.TokensDeleted)
	m.stats.LastRunAt = result.StartTime
	m.stats.LastRunDuration = result.Duration
	if runErr != nil {
		m.stats.FailedRuns++
		m.stats.LastError = runErr.Error()
	} else {
		m.stats.LastSuccessAt = result.StartTime
		m.stats.LastError = ""
	}
}

// Snapshot returns a copy of the cumulative statistics.
func (m *Metrics) Snapshot() DispatchStats {
	if m == nil {
		return DispatchStats{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// SnapshotMap returns the statistics as a map for JSON status documents.
func (m *Metrics) SnapshotMap() map[string]interface{} {
	s := m.Snapshot()
	out := map[string]interface{}{
		"total_runs":           s.TotalRuns,
		"failed_runs":          s.FailedRuns,
		"reminders_processed":  s.RemindersProcessed,
		"reminders_deleted":    s.RemindersDeleted,
		"notifications_sent":   s.NotificationsSent,
		"notifications_failed": s.NotificationsFailed,
		"tokens_pruned":        s.TokensPruned,
		"last_run_duration":    s.LastRunDuration.String(),
	}
	if !s.LastRunAt.IsZero() {
		out["last_run_at"] = s.LastRunAt.UTC().Format(time.RFC3339)
	}
	if !s.LastSuccessAt.IsZero() {
		out["last_success_at"] = s.LastSuccessAt.UTC().Format(time.RFC3339)
	}
	if s.LastError != "" {
		out["last_error"] = s.LastError
	}
	return out
}
