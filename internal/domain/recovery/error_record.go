package recovery

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrRecordNotFound     = errors.New("recovery: error record not found")
	ErrRecordExhausted    = errors.New("recovery: recovery attempts exhausted")
	ErrRecordNotRetryable = errors.New("recovery: record is not pending recovery")
)

// ---------------------------------------------------------------------------
// Recovery enums
// ---------------------------------------------------------------------------

// RecoveryStrategy names the handler applied to a failure category
type RecoveryStrategy string

const (
	// RecoveryRetryBackoff retries with exponential backoff (timeout, network)
	RecoveryRetryBackoff RecoveryStrategy = "retry_backoff"
	// RecoveryRetryAfter waits for the server-advertised delay (rate limit)
	RecoveryRetryAfter RecoveryStrategy = "retry_after"
	// RecoveryManual flags for operator intervention (auth, conflict)
	RecoveryManual RecoveryStrategy = "manual"
	// RecoveryCoerce applies one deterministic repair then retries (validation)
	RecoveryCoerce RecoveryStrategy = "coerce_retry"
	// RecoveryConnectionRetry retries only connection-level database errors
	RecoveryConnectionRetry RecoveryStrategy = "connection_retry"
	// RecoveryFlatRetry retries without growing delay (webhook)
	RecoveryFlatRetry RecoveryStrategy = "flat_retry"
	// RecoveryNone marks the failure terminal with no automatic handling
	RecoveryNone RecoveryStrategy = "none"
)

// RecoveryStatus is the lifecycle state of an error record
type RecoveryStatus string

const (
	RecoveryStatusPending   RecoveryStatus = "pending"
	RecoveryStatusRecovered RecoveryStatus = "recovered"
	RecoveryStatusFailed    RecoveryStatus = "failed"
)

// ---------------------------------------------------------------------------
// ErrorRecord Entity
// ---------------------------------------------------------------------------

// ErrorRecord is the durable audit row for one failed operation and its
// recovery lifecycle.
type ErrorRecord struct {
	ID               uuid.UUID
	Category         ErrorCategory
	OperationType    string
	OperationID      string
	Message          string
	RecoveryStrategy RecoveryStrategy
	RecoveryStatus   RecoveryStatus
	Attempts         int
	MaxAttempts      int
	NextRetryAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewErrorRecord creates a pending error record
func NewErrorRecord(category ErrorCategory, operationType, operationID, message string, strategy RecoveryStrategy, maxAttempts int) *ErrorRecord {
	now := time.Now()
	return &ErrorRecord{
		ID:               uuid.New(),
		Category:         category,
		OperationType:    operationType,
		OperationID:      operationID,
		Message:          message,
		RecoveryStrategy: strategy,
		RecoveryStatus:   RecoveryStatusPending,
		MaxAttempts:      maxAttempts,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// CanAttempt reports whether another recovery attempt is allowed
func (r *ErrorRecord) CanAttempt() bool {
	return r.RecoveryStatus == RecoveryStatusPending && r.Attempts < r.MaxAttempts
}

// RecordAttempt registers one recovery attempt and its outcome. On failure
// the next retry is scheduled after delay; exhausted records become failed.
func (r *ErrorRecord) RecordAttempt(success bool, delay time.Duration) error {
	if r.RecoveryStatus != RecoveryStatusPending {
		return ErrRecordNotRetryable
	}
	r.Attempts++
	now := time.Now()
	r.UpdatedAt = now

	if success {
		r.RecoveryStatus = RecoveryStatusRecovered
		r.NextRetryAt = nil
		return nil
	}
	if r.Attempts >= r.MaxAttempts {
		r.RecoveryStatus = RecoveryStatusFailed
		r.NextRetryAt = nil
		return ErrRecordExhausted
	}
	next := now.Add(delay)
	r.NextRetryAt = &next
	return nil
}

// MarkTerminal closes the record without further attempts
func (r *ErrorRecord) MarkTerminal() {
	r.RecoveryStatus = RecoveryStatusFailed
	r.NextRetryAt = nil
	r.UpdatedAt = time.Now()
}

// ---------------------------------------------------------------------------
// Attempt log and repositories
// ---------------------------------------------------------------------------

// AttemptLog is the durable audit entry for one recovery attempt
type AttemptLog struct {
	ID        uuid.UUID
	RecordID  uuid.UUID
	Category  ErrorCategory
	Strategy  RecoveryStrategy
	Success   bool
	Duration  time.Duration
	CreatedAt time.Time
}

// RecoveryStats aggregates attempt outcomes per category
type RecoveryStats struct {
	Category         ErrorCategory
	Attempts         int64
	Successes        int64
	SuccessRate      float64
	MeanRecoveryTime time.Duration
}

// ErrorRecordRepository defines persistence for error records
type ErrorRecordRepository interface {
	// Save creates or updates an error record
	Save(ctx context.Context, record *ErrorRecord) error

	// FindByID finds a record by ID
	FindByID(ctx context.Context, id uuid.UUID) (*ErrorRecord, error)

	// FindDue returns pending records whose next retry time has elapsed
	FindDue(ctx context.Context, before time.Time, limit int) ([]ErrorRecord, error)

	// FindPendingManual returns records awaiting operator intervention
	FindPendingManual(ctx context.Context, limit int) ([]ErrorRecord, error)
}

// AttemptLogRepository defines persistence for the recovery audit trail
type AttemptLogRepository interface {
	// Append durably records one attempt
	Append(ctx context.Context, log *AttemptLog) error

	// Stats aggregates success rate and mean recovery time per category
	Stats(ctx context.Context, since time.Time) ([]RecoveryStats, error)
}
