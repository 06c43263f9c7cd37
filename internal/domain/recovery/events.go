package recovery

import (
	"github.com/erp/sync-engine/internal/domain/shared"
	"github.com/google/uuid"
)

// Event type constants for the recovery aggregate
const (
	EventTypeBreakerStateChanged = "recovery.breaker.state_changed"
	EventTypeRecoveryExhausted   = "recovery.record.exhausted"
)

// BreakerStateChangedEvent is emitted on every breaker transition so
// operators see opens before automatic retries resume.
type BreakerStateChangedEvent struct {
	shared.BaseDomainEvent
	ServiceName   string       `json:"service_name"`
	OperationName string       `json:"operation_name"`
	From          BreakerState `json:"from"`
	To            BreakerState `json:"to"`
}

// NewBreakerStateChangedEvent creates a BreakerStateChangedEvent
func NewBreakerStateChangedEvent(state *CircuitBreakerState, from BreakerState) *BreakerStateChangedEvent {
	return &BreakerStateChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeBreakerStateChanged, "CircuitBreaker", uuid.New()),
		ServiceName:     state.ServiceName,
		OperationName:   state.OperationName,
		From:            from,
		To:              state.State,
	}
}

// RecoveryExhaustedEvent is emitted when a record runs out of attempts
type RecoveryExhaustedEvent struct {
	shared.BaseDomainEvent
	RecordID uuid.UUID     `json:"record_id"`
	Category ErrorCategory `json:"category"`
}

// NewRecoveryExhaustedEvent creates a RecoveryExhaustedEvent
func NewRecoveryExhaustedEvent(record *ErrorRecord) *RecoveryExhaustedEvent {
	return &RecoveryExhaustedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeRecoveryExhausted, "ErrorRecord", record.ID),
		RecordID:        record.ID,
		Category:        record.Category,
	}
}
