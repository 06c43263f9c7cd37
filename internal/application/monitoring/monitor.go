package monitoring

import (
	"context"
	"time"

	"github.com/erp/sync-engine/internal/domain/batch"
	"github.com/erp/sync-engine/internal/domain/recovery"
	"github.com/erp/sync-engine/internal/domain/shared"
	"github.com/erp/sync-engine/internal/domain/sync"
	"github.com/erp/sync-engine/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Config holds monitoring tuning
type Config struct {
	// CollectInterval is the gauge sampling cadence
	CollectInterval time.Duration
	// PendingConflictAlert is the backlog size that triggers a warning
	PendingConflictAlert int64
}

func (c *Config) applyDefaults() {
	if c.CollectInterval <= 0 {
		c.CollectInterval = 30 * time.Second
	}
	if c.PendingConflictAlert <= 0 {
		c.PendingConflictAlert = 100
	}
}

// Monitor translates domain events into metrics and alert logs, and samples
// backlog gauges on a fixed cadence. It subscribes to the event bus like any
// other handler; the services it observes never depend on it.
type Monitor struct {
	conflictRepo sync.ConflictRepository
	breakerRepo  recovery.CircuitBreakerRepository
	metrics      *telemetry.SyncMetrics
	logger       *zap.Logger
	config       Config

	stop chan struct{}
	done chan struct{}
}

// NewMonitor creates a monitor
func NewMonitor(
	conflictRepo sync.ConflictRepository,
	breakerRepo recovery.CircuitBreakerRepository,
	metrics *telemetry.SyncMetrics,
	cfg Config,
	logger *zap.Logger,
) *Monitor {
	cfg.applyDefaults()
	return &Monitor{
		conflictRepo: conflictRepo,
		breakerRepo:  breakerRepo,
		metrics:      metrics,
		config:       cfg,
		logger:       logger.Named("monitoring"),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// EventTypes returns the event types the monitor observes
func (m *Monitor) EventTypes() []string {
	return []string{
		sync.EventTypeSyncCompleted,
		sync.EventTypeSyncFailed,
		sync.EventTypeConflictDetected,
		sync.EventTypeConflictResolved,
		recovery.EventTypeBreakerStateChanged,
		recovery.EventTypeRecoveryExhausted,
		batch.EventTypeJobFailed,
	}
}

// Handle translates one domain event into metrics and alert logs
func (m *Monitor) Handle(ctx context.Context, event shared.DomainEvent) error {
	switch e := event.(type) {
	case *sync.SessionCompletedEvent:
		m.record(func() { m.metrics.RecordSession(ctx, "completed", e.Duration) })
		for entityType, result := range e.Results {
			m.record(func() {
				m.metrics.RecordSynced(ctx, entityType.String(), "pull", int64(result.Pulled))
				m.metrics.RecordSynced(ctx, entityType.String(), "push", int64(result.Pushed))
			})
		}

	case *sync.SessionFailedEvent:
		m.record(func() { m.metrics.RecordSession(ctx, "failed", e.Duration) })
		m.logger.Warn("sync session failed",
			zap.String("sync_id", e.SyncID.String()),
			zap.String("error_details", e.ErrorDetails),
		)

	case *sync.ConflictDetectedEvent:
		m.record(func() { m.metrics.RecordConflictDetected(ctx, e.EntityType.String(), e.FieldName) })

	case *sync.ConflictResolvedEvent:
		m.record(func() { m.metrics.RecordConflictResolved(ctx, e.Strategy.String()) })

	case *recovery.BreakerStateChangedEvent:
		m.record(func() { m.metrics.RecordBreakerTransition(ctx, e.OperationName, e.To.String()) })
		if e.To == recovery.BreakerOpen {
			m.logger.Warn("circuit breaker opened",
				zap.String("service", e.ServiceName),
				zap.String("operation", e.OperationName),
			)
		}

	case *recovery.RecoveryExhaustedEvent:
		m.logger.Warn("recovery attempts exhausted",
			zap.String("record_id", e.RecordID.String()),
			zap.String("category", e.Category.String()),
		)

	case *batch.JobEvent:
		if e.EventType() == batch.EventTypeJobFailed {
			m.logger.Warn("batch job failed",
				zap.String("job_id", e.JobID.String()),
				zap.String("job_type", string(e.JobType)),
			)
		}
	}
	return nil
}

// Start launches the gauge collection loop
func (m *Monitor) Start() {
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.config.CollectInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.Collect(context.Background())
			}
		}
	}()
}

// Stop shuts down the collection loop
func (m *Monitor) Stop() {
	close(m.stop)
	<-m.done
}

// Collect samples backlog gauges once
func (m *Monitor) Collect(ctx context.Context) {
	counts, err := m.conflictRepo.CountByStatus(ctx)
	if err != nil {
		m.logger.Warn("failed to count conflicts", zap.Error(err))
	} else {
		pending := counts[sync.ConflictStatusPending]
		m.record(func() { m.metrics.SetPendingConflicts(ctx, pending) })
		if pending >= m.config.PendingConflictAlert {
			m.logger.Warn("pending conflict backlog above threshold",
				zap.Int64("pending", pending),
				zap.Int64("threshold", m.config.PendingConflictAlert),
			)
		}
	}

	open, err := m.breakerRepo.FindOpen(ctx)
	if err != nil {
		m.logger.Warn("failed to list open breakers", zap.Error(err))
		return
	}
	m.record(func() { m.metrics.SetOpenBreakers(ctx, int64(len(open))) })
}

// record runs a metric update only when metrics are wired
func (m *Monitor) record(fn func()) {
	if m.metrics == nil {
		return
	}
	fn()
}

var _ shared.EventHandler = (*Monitor)(nil)
