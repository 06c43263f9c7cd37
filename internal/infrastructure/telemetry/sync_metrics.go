package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// SyncMetrics tracks reconciliation throughput, conflict activity, webhook
// intake and recovery health.
type SyncMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	sessionsTotal      *Counter
	recordsSynced      *Counter
	conflictsDetected  *Counter
	conflictsResolved  *Counter
	webhookEvents      *Counter
	recoveryAttempts   *Counter
	breakerTransitions *Counter

	pendingConflicts *Gauge
	openBreakers     *Gauge

	sessionDuration *Histogram
}

// NewSyncMetrics creates a new SyncMetrics instance.
func NewSyncMetrics(meter metric.Meter, logger *zap.Logger) (*SyncMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sm := &SyncMetrics{meter: meter, logger: logger}

	var err error
	if sm.sessionsTotal, err = NewCounter(meter,
		"sync_sessions_total", "Total number of sync sessions by outcome", "{sessions}"); err != nil {
		return nil, err
	}
	if sm.recordsSynced, err = NewCounter(meter,
		"sync_records_total", "Total records reconciled by entity type and direction", "{records}"); err != nil {
		return nil, err
	}
	if sm.conflictsDetected, err = NewCounter(meter,
		"sync_conflicts_detected_total", "Total field conflicts detected", "{conflicts}"); err != nil {
		return nil, err
	}
	if sm.conflictsResolved, err = NewCounter(meter,
		"sync_conflicts_resolved_total", "Total field conflicts resolved by strategy", "{conflicts}"); err != nil {
		return nil, err
	}
	if sm.webhookEvents, err = NewCounter(meter,
		"webhook_events_total", "Total webhook deliveries by outcome", "{events}"); err != nil {
		return nil, err
	}
	if sm.recoveryAttempts, err = NewCounter(meter,
		"recovery_attempts_total", "Total recovery attempts by category and outcome", "{attempts}"); err != nil {
		return nil, err
	}
	if sm.breakerTransitions, err = NewCounter(meter,
		"circuit_breaker_transitions_total", "Total circuit breaker state transitions", "{transitions}"); err != nil {
		return nil, err
	}
	if sm.pendingConflicts, err = NewGauge(meter,
		"sync_conflicts_pending", "Conflicts currently awaiting resolution", "{conflicts}"); err != nil {
		return nil, err
	}
	if sm.openBreakers, err = NewGauge(meter,
		"circuit_breakers_open", "Circuit breakers currently open", "{breakers}"); err != nil {
		return nil, err
	}
	if sm.sessionDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "sync_session_duration_seconds",
		Description: "Duration of sync sessions",
		Unit:        "s",
		Boundaries:  SyncDurationBuckets,
	}); err != nil {
		return nil, err
	}

	return sm, nil
}

// RecordSession records a completed or failed sync session
func (m *SyncMetrics) RecordSession(ctx context.Context, outcome string, duration time.Duration) {
	m.sessionsTotal.Inc(ctx, AttrOutcome.String(outcome))
	m.sessionDuration.RecordDuration(ctx, duration, AttrOutcome.String(outcome))
}

// RecordSynced records reconciled records for an entity type and direction
func (m *SyncMetrics) RecordSynced(ctx context.Context, entityType, direction string, count int64) {
	if count <= 0 {
		return
	}
	m.recordsSynced.Add(ctx, count,
		AttrEntityType.String(entityType),
		AttrDirection.String(direction),
	)
}

// RecordConflictDetected records one detected conflict
func (m *SyncMetrics) RecordConflictDetected(ctx context.Context, entityType, field string) {
	m.conflictsDetected.Inc(ctx, AttrEntityType.String(entityType))
}

// RecordConflictResolved records one resolved conflict
func (m *SyncMetrics) RecordConflictResolved(ctx context.Context, strategy string) {
	m.conflictsResolved.Inc(ctx, AttrStrategy.String(strategy))
}

// RecordWebhookEvent records one webhook delivery outcome
func (m *SyncMetrics) RecordWebhookEvent(ctx context.Context, eventType, outcome string) {
	m.webhookEvents.Inc(ctx,
		AttrEventType.String(eventType),
		AttrOutcome.String(outcome),
	)
}

// RecordRecoveryAttempt records one recovery attempt outcome
func (m *SyncMetrics) RecordRecoveryAttempt(ctx context.Context, category string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.recoveryAttempts.Inc(ctx,
		AttrCategory.String(category),
		AttrOutcome.String(outcome),
	)
}

// RecordBreakerTransition records one breaker state change
func (m *SyncMetrics) RecordBreakerTransition(ctx context.Context, operationName, to string) {
	m.breakerTransitions.Inc(ctx,
		AttrOperationName.String(operationName),
		AttrOutcome.String(to),
	)
}

// SetPendingConflicts records the current pending conflict backlog
func (m *SyncMetrics) SetPendingConflicts(ctx context.Context, count int64) {
	m.pendingConflicts.Record(ctx, count)
}

// SetOpenBreakers records the number of currently open breakers
func (m *SyncMetrics) SetOpenBreakers(ctx context.Context, count int64) {
	m.openBreakers.Record(ctx, count)
}
