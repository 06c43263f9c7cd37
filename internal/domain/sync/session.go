package sync

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("sync: session not found")
	ErrSessionTerminal = errors.New("sync: session already reached a terminal state")
	ErrSessionLocked   = errors.New("sync: another session holds the sync lock")
)

// ---------------------------------------------------------------------------
// Session enums and option types
// ---------------------------------------------------------------------------

// SessionStatus is the lifecycle state of a sync session
type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
)

// IsTerminal returns true for completed and failed
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed
}

// SessionType distinguishes full syncs from targeted ones
type SessionType string

const (
	SessionTypeFull   SessionType = "full"
	SessionTypeEntity SessionType = "entity"
)

// Options configures a sync session
type Options struct {
	// Direction limits the session to pull, push or both phases
	Direction SyncDirection `json:"direction"`
	// EntityTypes limits the session to the given types; empty means all
	EntityTypes []EntityType `json:"entity_types,omitempty"`
	// Force disables conflict short-circuiting; remote values overwrite
	// local ones unconditionally
	Force bool `json:"force"`
	// BatchSize is the remote page size
	BatchSize int `json:"batch_size"`
}

// Normalize fills defaults and validates the options
func (o *Options) Normalize() error {
	if o.Direction == "" {
		o.Direction = SyncDirectionBoth
	}
	if !o.Direction.IsValid() {
		return errors.New("sync: invalid direction")
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if len(o.EntityTypes) == 0 {
		o.EntityTypes = AllEntityTypes()
	}
	for _, t := range o.EntityTypes {
		if !t.IsValid() {
			return ErrUnknownEntityType
		}
	}
	return nil
}

// EntityResult accumulates per-entity-type outcomes of a session
type EntityResult struct {
	Pulled    int      `json:"pulled"`
	Pushed    int      `json:"pushed"`
	Conflicts int      `json:"conflicts"`
	Errors    []string `json:"errors,omitempty"`
}

// Results maps entity type to its accumulated result
type Results map[EntityType]*EntityResult

// Ensure returns the result bucket for an entity type, creating it if needed
func (r Results) Ensure(entityType EntityType) *EntityResult {
	if res, ok := r[entityType]; ok {
		return res
	}
	res := &EntityResult{}
	r[entityType] = res
	return res
}

// ---------------------------------------------------------------------------
// Session Entity
// ---------------------------------------------------------------------------

// Session tracks one sync run. It transitions to a terminal state exactly
// once; further phase scheduling is refused after that.
type Session struct {
	SyncID       uuid.UUID
	Type         SessionType
	Status       SessionStatus
	Options      Options
	Results      Results
	ErrorDetails string
	StartedAt    time.Time
	CompletedAt  *time.Time
}

// NewSession creates a running session
func NewSession(sessionType SessionType, opts Options) *Session {
	return &Session{
		SyncID:    uuid.New(),
		Type:      sessionType,
		Status:    SessionStatusRunning,
		Options:   opts,
		Results:   make(Results),
		StartedAt: time.Now(),
	}
}

// Complete marks the session completed. Terminal transitions happen once.
func (s *Session) Complete() error {
	if s.Status.IsTerminal() {
		return ErrSessionTerminal
	}
	now := time.Now()
	s.Status = SessionStatusCompleted
	s.CompletedAt = &now
	return nil
}

// Duration returns the session's elapsed time, live for running sessions
func (s *Session) Duration() time.Duration {
	if s.CompletedAt != nil {
		return s.CompletedAt.Sub(s.StartedAt)
	}
	return time.Since(s.StartedAt)
}

// Fail marks the session failed with captured detail
func (s *Session) Fail(detail string) error {
	if s.Status.IsTerminal() {
		return ErrSessionTerminal
	}
	now := time.Now()
	s.Status = SessionStatusFailed
	s.ErrorDetails = detail
	s.CompletedAt = &now
	return nil
}

// ---------------------------------------------------------------------------
// Repository and lock interfaces
// ---------------------------------------------------------------------------

// SessionRepository defines persistence for sync sessions
type SessionRepository interface {
	// Save creates or updates a session
	Save(ctx context.Context, session *Session) error

	// FindByID finds a session by sync ID
	FindByID(ctx context.Context, syncID uuid.UUID) (*Session, error)

	// FindRunning returns sessions still in the running state
	FindRunning(ctx context.Context) ([]Session, error)
}

// SessionLock serializes full-sync sessions per scope. Implementations use
// the database's advisory locking primitives.
type SessionLock interface {
	// TryAcquire attempts to take the named lock without blocking.
	// Returns false when another holder owns it.
	TryAcquire(ctx context.Context, scope string) (bool, error)

	// Release releases the named lock
	Release(ctx context.Context, scope string) error
}
