package recovery

import (
	"context"
	"errors"
	gosync "sync"
	"time"

	"github.com/erp/sync-engine/internal/domain/recovery"
	"github.com/erp/sync-engine/internal/domain/shared"
	"github.com/erp/sync-engine/internal/infrastructure/platform"
	"github.com/erp/sync-engine/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNoHandler is returned when no retry handler is registered for an
// operation type
var ErrNoHandler = errors.New("recovery: no handler registered for operation type")

// ManagerConfig holds recovery tuning
type ManagerConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// RetryHandler re-executes one failed operation identified by its ID
type RetryHandler func(ctx context.Context, operationID string) error

// Manager classifies failures, persists error records and drives their
// recovery lifecycle. Every attempt is durably logged before its outcome is
// applied, so the audit trail survives crashes mid-recovery.
type Manager struct {
	classifier     *recovery.Classifier
	recordRepo     recovery.ErrorRecordRepository
	attemptRepo    recovery.AttemptLogRepository
	eventPublisher shared.EventPublisher
	metrics        *telemetry.SyncMetrics
	logger         *zap.Logger
	config         ManagerConfig

	mu       gosync.Mutex
	handlers map[string]RetryHandler
	coercers map[string]RetryHandler
}

// NewManager creates a recovery manager with the default classifier
func NewManager(
	recordRepo recovery.ErrorRecordRepository,
	attemptRepo recovery.AttemptLogRepository,
	cfg ManagerConfig,
	logger *zap.Logger,
) *Manager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	return &Manager{
		classifier:  recovery.DefaultClassifier(),
		recordRepo:  recordRepo,
		attemptRepo: attemptRepo,
		config:      cfg,
		logger:      logger.Named("recovery"),
		handlers:    make(map[string]RetryHandler),
		coercers:    make(map[string]RetryHandler),
	}
}

// SetEventPublisher sets the event publisher for publishing domain events
func (m *Manager) SetEventPublisher(publisher shared.EventPublisher) {
	m.eventPublisher = publisher
}

// SetMetrics wires recovery attempt metrics
func (m *Manager) SetMetrics(metrics *telemetry.SyncMetrics) {
	m.metrics = metrics
}

// RegisterHandler installs the retry handler for an operation type
func (m *Manager) RegisterHandler(operationType string, handler RetryHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[operationType] = handler
}

// RegisterCoercer installs the repairing handler used for coerce-retry
// records of an operation type. It replaces the plain handler for those
// records only.
func (m *Manager) RegisterCoercer(operationType string, handler RetryHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coercers[operationType] = handler
}

// Classify exposes the classifier for callers that only need the category
func (m *Manager) Classify(err error) recovery.ErrorCategory {
	return m.classifier.Classify(err)
}

// Handle classifies a failure and opens a pending error record scheduled
// for its first recovery attempt. Unrecoverable categories are recorded
// terminally failed.
func (m *Manager) Handle(ctx context.Context, operationType, operationID string, opErr error) (*recovery.ErrorRecord, error) {
	category := m.classifier.Classify(opErr)
	strategy, maxAttempts := m.planFor(category)

	record := recovery.NewErrorRecord(category, operationType, operationID, opErr.Error(), strategy, maxAttempts)

	switch strategy {
	case recovery.RecoveryNone:
		record.MarkTerminal()
	case recovery.RecoveryManual:
		// Left pending with no schedule; operators pick these up
	default:
		next := time.Now().Add(m.initialDelay(category, opErr))
		record.NextRetryAt = &next
	}

	if err := m.recordRepo.Save(ctx, record); err != nil {
		return nil, err
	}

	m.logger.Info("failure recorded",
		zap.String("operation_type", operationType),
		zap.String("operation_id", operationID),
		zap.String("category", category.String()),
		zap.String("strategy", string(strategy)),
	)
	return record, nil
}

// ProcessDue drains error records whose retry time has elapsed, re-running
// each through its registered handler
func (m *Manager) ProcessDue(ctx context.Context, limit int) (int, error) {
	records, err := m.recordRepo.FindDue(ctx, time.Now(), limit)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for i := range records {
		record := &records[i]
		if err := m.Attempt(ctx, record); err == nil && record.RecoveryStatus == recovery.RecoveryStatusRecovered {
			recovered++
		}
	}
	return recovered, nil
}

// Attempt runs one recovery attempt for a record. The attempt outcome is
// appended to the audit log before the record state is updated.
func (m *Manager) Attempt(ctx context.Context, record *recovery.ErrorRecord) error {
	if !record.CanAttempt() {
		return recovery.ErrRecordNotRetryable
	}

	m.mu.Lock()
	handler, ok := m.handlers[record.OperationType]
	if record.RecoveryStrategy == recovery.RecoveryCoerce {
		// Coerce records repair the payload before re-running; the plain
		// handler already failed on exactly this input
		if coercer, found := m.coercers[record.OperationType]; found {
			handler, ok = coercer, true
		}
	}
	m.mu.Unlock()
	if !ok {
		return ErrNoHandler
	}

	start := time.Now()
	opErr := handler(ctx, record.OperationID)
	elapsed := time.Since(start)
	success := opErr == nil

	if err := m.attemptRepo.Append(ctx, &recovery.AttemptLog{
		ID:        uuid.New(),
		RecordID:  record.ID,
		Category:  record.Category,
		Strategy:  record.RecoveryStrategy,
		Success:   success,
		Duration:  elapsed,
		CreatedAt: start,
	}); err != nil {
		m.logger.Warn("failed to append attempt log", zap.Error(err))
	}
	if m.metrics != nil {
		m.metrics.RecordRecoveryAttempt(ctx, record.Category.String(), success)
	}

	attemptErr := record.RecordAttempt(success, m.nextDelay(record))
	if saveErr := m.recordRepo.Save(ctx, record); saveErr != nil {
		return saveErr
	}

	if errors.Is(attemptErr, recovery.ErrRecordExhausted) {
		m.logger.Warn("recovery attempts exhausted",
			zap.String("record_id", record.ID.String()),
			zap.String("category", record.Category.String()),
		)
		if m.eventPublisher != nil {
			evt := recovery.NewRecoveryExhaustedEvent(record)
			if err := m.eventPublisher.Publish(ctx, evt); err != nil {
				m.logger.Warn("failed to publish exhaustion event", zap.Error(err))
			}
		}
		return attemptErr
	}
	return opErr
}

// Stats returns per-category recovery statistics since the given time
func (m *Manager) Stats(ctx context.Context, since time.Time) ([]recovery.RecoveryStats, error) {
	return m.attemptRepo.Stats(ctx, since)
}

// PendingManual returns records awaiting operator intervention
func (m *Manager) PendingManual(ctx context.Context, limit int) ([]recovery.ErrorRecord, error) {
	return m.recordRepo.FindPendingManual(ctx, limit)
}

// planFor maps a failure category onto its recovery strategy and attempt
// budget
func (m *Manager) planFor(category recovery.ErrorCategory) (recovery.RecoveryStrategy, int) {
	switch category {
	case recovery.CategoryTimeout, recovery.CategoryNetwork:
		return recovery.RecoveryRetryBackoff, m.config.MaxAttempts
	case recovery.CategoryRateLimit:
		return recovery.RecoveryRetryAfter, m.config.MaxAttempts
	case recovery.CategoryValidation:
		// One deterministic repair attempt, then operators take over
		return recovery.RecoveryCoerce, 1
	case recovery.CategoryDatabase:
		return recovery.RecoveryConnectionRetry, m.config.MaxAttempts
	case recovery.CategoryConstraint:
		// Key collisions replay identically on every retry
		return recovery.RecoveryManual, 0
	case recovery.CategoryWebhook:
		return recovery.RecoveryFlatRetry, m.config.MaxAttempts
	case recovery.CategoryAuth, recovery.CategoryConflict:
		return recovery.RecoveryManual, 0
	default:
		return recovery.RecoveryNone, 0
	}
}

// initialDelay computes the first retry delay. Rate-limit failures honor the
// server-advertised Retry-After when the platform error carries one.
func (m *Manager) initialDelay(category recovery.ErrorCategory, opErr error) time.Duration {
	if category == recovery.CategoryRateLimit {
		var apiErr *platform.APIError
		if errors.As(opErr, &apiErr) && apiErr.RetryAfter > 0 {
			return apiErr.RetryAfter
		}
		return 10 * m.config.BaseDelay
	}
	return m.config.BaseDelay
}

// nextDelay computes the delay before the following attempt
func (m *Manager) nextDelay(record *recovery.ErrorRecord) time.Duration {
	switch record.RecoveryStrategy {
	case recovery.RecoveryRetryAfter:
		return 10 * m.config.BaseDelay
	case recovery.RecoveryFlatRetry:
		return m.config.BaseDelay
	default:
		// Exponential: base, 2x, 4x, ...
		delay := m.config.BaseDelay
		for i := 0; i < record.Attempts; i++ {
			delay *= 2
		}
		return delay
	}
}
