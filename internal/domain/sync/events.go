package sync

import (
	"time"

	"github.com/erp/sync-engine/internal/domain/shared"
	"github.com/google/uuid"
)

// Event type constants for the sync aggregate
const (
	EventTypeSyncCompleted    = "sync.session.completed"
	EventTypeSyncFailed       = "sync.session.failed"
	EventTypeConflictDetected = "sync.conflict.detected"
	EventTypeConflictResolved = "sync.conflict.resolved"
)

// SessionCompletedEvent is emitted when a session completes
type SessionCompletedEvent struct {
	shared.BaseDomainEvent
	SyncID   uuid.UUID     `json:"sync_id"`
	Results  Results       `json:"results"`
	Duration time.Duration `json:"duration"`
}

// NewSessionCompletedEvent creates a SessionCompletedEvent
func NewSessionCompletedEvent(session *Session) *SessionCompletedEvent {
	return &SessionCompletedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSyncCompleted, "SyncSession", session.SyncID),
		SyncID:          session.SyncID,
		Results:         session.Results,
		Duration:        session.Duration(),
	}
}

// SessionFailedEvent is emitted when a session fails
type SessionFailedEvent struct {
	shared.BaseDomainEvent
	SyncID       uuid.UUID     `json:"sync_id"`
	ErrorDetails string        `json:"error_details"`
	Duration     time.Duration `json:"duration"`
}

// NewSessionFailedEvent creates a SessionFailedEvent
func NewSessionFailedEvent(session *Session) *SessionFailedEvent {
	return &SessionFailedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSyncFailed, "SyncSession", session.SyncID),
		SyncID:          session.SyncID,
		ErrorDetails:    session.ErrorDetails,
		Duration:        session.Duration(),
	}
}

// ConflictDetectedEvent is emitted when a significant divergence is recorded
type ConflictDetectedEvent struct {
	shared.BaseDomainEvent
	ConflictID uuid.UUID  `json:"conflict_id"`
	EntityType EntityType `json:"entity_type"`
	FieldName  string     `json:"field_name"`
}

// NewConflictDetectedEvent creates a ConflictDetectedEvent
func NewConflictDetectedEvent(c *Conflict) *ConflictDetectedEvent {
	return &ConflictDetectedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeConflictDetected, "Conflict", c.ID),
		ConflictID:      c.ID,
		EntityType:      c.EntityType,
		FieldName:       c.FieldName,
	}
}

// ConflictResolvedEvent is emitted when a conflict reaches resolved state
type ConflictResolvedEvent struct {
	shared.BaseDomainEvent
	ConflictID   uuid.UUID          `json:"conflict_id"`
	Strategy     ResolutionStrategy `json:"strategy"`
	AutoResolved bool               `json:"auto_resolved"`
}

// NewConflictResolvedEvent creates a ConflictResolvedEvent
func NewConflictResolvedEvent(c *Conflict) *ConflictResolvedEvent {
	return &ConflictResolvedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeConflictResolved, "Conflict", c.ID),
		ConflictID:      c.ID,
		Strategy:        c.Strategy,
		AutoResolved:    c.AutoResolved,
	}
}
