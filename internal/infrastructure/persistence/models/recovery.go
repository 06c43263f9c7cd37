package models

import (
	"time"

	"github.com/erp/sync-engine/internal/domain/recovery"
	"github.com/google/uuid"
)

// ErrorRecordModel is the persistence model for the ErrorRecord domain entity.
type ErrorRecordModel struct {
	ID               uuid.UUID                 `gorm:"type:uuid;primary_key"`
	Category         recovery.ErrorCategory    `gorm:"type:varchar(20);not null;index:idx_error_record_category"`
	OperationType    string                    `gorm:"type:varchar(50);not null"`
	OperationID      string                    `gorm:"type:varchar(100);not null;index:idx_error_record_operation"`
	Message          string                    `gorm:"type:text"`
	RecoveryStrategy recovery.RecoveryStrategy `gorm:"type:varchar(20);not null"`
	RecoveryStatus   recovery.RecoveryStatus   `gorm:"type:varchar(20);not null;index:idx_error_record_status"`
	Attempts         int                       `gorm:"not null;default:0"`
	MaxAttempts      int                       `gorm:"not null"`
	NextRetryAt      *time.Time                `gorm:"index"`
	CreatedAt        time.Time                 `gorm:"not null;index"`
	UpdatedAt        time.Time                 `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ErrorRecordModel) TableName() string {
	return "error_records"
}

// ToDomain converts the persistence model to a domain ErrorRecord entity.
func (m *ErrorRecordModel) ToDomain() *recovery.ErrorRecord {
	return &recovery.ErrorRecord{
		ID:               m.ID,
		Category:         m.Category,
		OperationType:    m.OperationType,
		OperationID:      m.OperationID,
		Message:          m.Message,
		RecoveryStrategy: m.RecoveryStrategy,
		RecoveryStatus:   m.RecoveryStatus,
		Attempts:         m.Attempts,
		MaxAttempts:      m.MaxAttempts,
		NextRetryAt:      m.NextRetryAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain ErrorRecord entity.
func (m *ErrorRecordModel) FromDomain(r *recovery.ErrorRecord) {
	m.ID = r.ID
	m.Category = r.Category
	m.OperationType = r.OperationType
	m.OperationID = r.OperationID
	m.Message = r.Message
	m.RecoveryStrategy = r.RecoveryStrategy
	m.RecoveryStatus = r.RecoveryStatus
	m.Attempts = r.Attempts
	m.MaxAttempts = r.MaxAttempts
	m.NextRetryAt = r.NextRetryAt
	m.CreatedAt = r.CreatedAt
	m.UpdatedAt = r.UpdatedAt
}

// ErrorRecordModelFromDomain creates a new persistence model from a domain entity.
func ErrorRecordModelFromDomain(r *recovery.ErrorRecord) *ErrorRecordModel {
	m := &ErrorRecordModel{}
	m.FromDomain(r)
	return m
}

// AttemptLogModel is the persistence model for the recovery attempt audit trail.
type AttemptLogModel struct {
	ID         uuid.UUID                 `gorm:"type:uuid;primary_key"`
	RecordID   uuid.UUID                 `gorm:"type:uuid;not null;index:idx_attempt_log_record"`
	Category   recovery.ErrorCategory    `gorm:"type:varchar(20);not null;index:idx_attempt_log_category"`
	Strategy   recovery.RecoveryStrategy `gorm:"type:varchar(20);not null"`
	Success    bool                      `gorm:"not null"`
	DurationMs int64                     `gorm:"not null"`
	CreatedAt  time.Time                 `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (AttemptLogModel) TableName() string {
	return "recovery_attempt_logs"
}

// ToDomain converts the persistence model to a domain AttemptLog entry.
func (m *AttemptLogModel) ToDomain() *recovery.AttemptLog {
	return &recovery.AttemptLog{
		ID:        m.ID,
		RecordID:  m.RecordID,
		Category:  m.Category,
		Strategy:  m.Strategy,
		Success:   m.Success,
		Duration:  time.Duration(m.DurationMs) * time.Millisecond,
		CreatedAt: m.CreatedAt,
	}
}

// FromDomain populates the persistence model from a domain AttemptLog entry.
func (m *AttemptLogModel) FromDomain(l *recovery.AttemptLog) {
	m.ID = l.ID
	m.RecordID = l.RecordID
	m.Category = l.Category
	m.Strategy = l.Strategy
	m.Success = l.Success
	m.DurationMs = l.Duration.Milliseconds()
	m.CreatedAt = l.CreatedAt
}

// CircuitBreakerModel is the persistence model for breaker states.
type CircuitBreakerModel struct {
	ServiceName      string                `gorm:"type:varchar(50);primary_key"`
	OperationName    string                `gorm:"type:varchar(50);primary_key"`
	State            recovery.BreakerState `gorm:"type:varchar(10);not null;index:idx_breaker_state"`
	FailureCount     int                   `gorm:"not null;default:0"`
	FailureThreshold int                   `gorm:"not null"`
	CooldownMs       int64                 `gorm:"not null"`
	LastFailure      *time.Time
	NextAttempt      *time.Time
	UpdatedAt        time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CircuitBreakerModel) TableName() string {
	return "circuit_breakers"
}

// ToDomain converts the persistence model to a domain CircuitBreakerState.
func (m *CircuitBreakerModel) ToDomain() *recovery.CircuitBreakerState {
	return &recovery.CircuitBreakerState{
		ServiceName:      m.ServiceName,
		OperationName:    m.OperationName,
		State:            m.State,
		FailureCount:     m.FailureCount,
		FailureThreshold: m.FailureThreshold,
		Cooldown:         time.Duration(m.CooldownMs) * time.Millisecond,
		LastFailure:      m.LastFailure,
		NextAttempt:      m.NextAttempt,
		UpdatedAt:        m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain CircuitBreakerState.
func (m *CircuitBreakerModel) FromDomain(b *recovery.CircuitBreakerState) {
	m.ServiceName = b.ServiceName
	m.OperationName = b.OperationName
	m.State = b.State
	m.FailureCount = b.FailureCount
	m.FailureThreshold = b.FailureThreshold
	m.CooldownMs = b.Cooldown.Milliseconds()
	m.LastFailure = b.LastFailure
	m.NextAttempt = b.NextAttempt
	m.UpdatedAt = b.UpdatedAt
}
