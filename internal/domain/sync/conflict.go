package sync

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrConflictNotFound      = errors.New("sync: conflict not found")
	ErrConflictAlreadyClosed = errors.New("sync: conflict already resolved or failed")
	ErrUnknownStrategy       = errors.New("sync: unknown resolution strategy")
)

// ---------------------------------------------------------------------------
// Conflict enums
// ---------------------------------------------------------------------------

// ConflictType classifies how the two sides diverge
type ConflictType string

const (
	// ConflictTypeValueMismatch indicates both sides hold different values
	// of the same kind
	ConflictTypeValueMismatch ConflictType = "value_mismatch"
	// ConflictTypeTypeMismatch indicates the two sides hold values of
	// incompatible kinds
	ConflictTypeTypeMismatch ConflictType = "type_mismatch"
)

// ConflictStatus is the lifecycle state of a conflict
type ConflictStatus string

const (
	ConflictStatusPending  ConflictStatus = "pending"
	ConflictStatusResolved ConflictStatus = "resolved"
	ConflictStatusFailed   ConflictStatus = "failed"
)

// ResolutionStrategy is the tagged set of supported resolution strategies
type ResolutionStrategy string

const (
	// StrategyTimestamp resolves to the newer side; remote wins when both
	// timestamps are absent
	StrategyTimestamp ResolutionStrategy = "timestamp"
	// StrategyPriority resolves via the fixed source-wins table
	StrategyPriority ResolutionStrategy = "priority"
	// StrategyMerge unions objects/arrays and keeps the longer string;
	// all-or-nothing, falling back to timestamp on any type mismatch
	StrategyMerge ResolutionStrategy = "merge"
	// StrategyManual returns the remote value and flags the conflict for
	// human review; never auto-resolves
	StrategyManual ResolutionStrategy = "manual"
	// StrategyRemoteWins always takes the remote value
	StrategyRemoteWins ResolutionStrategy = "remote_wins"
	// StrategyLocalWins always takes the local value
	StrategyLocalWins ResolutionStrategy = "local_wins"
)

// IsValid returns true if the strategy is a known one
func (s ResolutionStrategy) IsValid() bool {
	switch s {
	case StrategyTimestamp, StrategyPriority, StrategyMerge,
		StrategyManual, StrategyRemoteWins, StrategyLocalWins:
		return true
	default:
		return false
	}
}

// String returns the string representation of ResolutionStrategy
func (s ResolutionStrategy) String() string {
	return string(s)
}

// ---------------------------------------------------------------------------
// Conflict Entity
// ---------------------------------------------------------------------------

// Conflict is a detected, significant divergence between local and remote
// values for one logical field of one entity.
type Conflict struct {
	ID            uuid.UUID
	SyncID        uuid.UUID
	EntityType    EntityType
	EntityID      uuid.UUID
	FieldName     string
	ConflictType  ConflictType
	LocalValue    any
	RemoteValue   any
	ResolvedValue any
	Strategy      ResolutionStrategy
	Status        ConflictStatus
	AutoResolved  bool
	ResolvedAt    *time.Time
	CreatedAt     time.Time
}

// NewConflict creates a pending conflict for one field
func NewConflict(syncID uuid.UUID, entityType EntityType, entityID uuid.UUID, fieldName string, conflictType ConflictType, localValue, remoteValue any) *Conflict {
	return &Conflict{
		ID:           uuid.New(),
		SyncID:       syncID,
		EntityType:   entityType,
		EntityID:     entityID,
		FieldName:    fieldName,
		ConflictType: conflictType,
		LocalValue:   localValue,
		RemoteValue:  remoteValue,
		Status:       ConflictStatusPending,
		CreatedAt:    time.Now(),
	}
}

// MarkResolved records the winning value. The transition is terminal.
func (c *Conflict) MarkResolved(value any, strategy ResolutionStrategy, auto bool) error {
	if c.Status != ConflictStatusPending {
		return ErrConflictAlreadyClosed
	}
	now := time.Now()
	c.ResolvedValue = value
	c.Strategy = strategy
	c.Status = ConflictStatusResolved
	c.AutoResolved = auto
	c.ResolvedAt = &now
	return nil
}

// MarkFailed records a resolution failure. The transition is terminal.
func (c *Conflict) MarkFailed(strategy ResolutionStrategy) error {
	if c.Status != ConflictStatusPending {
		return ErrConflictAlreadyClosed
	}
	now := time.Now()
	c.Strategy = strategy
	c.Status = ConflictStatusFailed
	c.ResolvedAt = &now
	return nil
}

// ---------------------------------------------------------------------------
// Strategy selection tables
// ---------------------------------------------------------------------------

// ResolutionRule is one entry of the custom rule table. Rules are matched
// by (entity type, field, conflict type) in descending priority order;
// empty fields act as wildcards.
type ResolutionRule struct {
	EntityType   EntityType
	FieldName    string
	ConflictType ConflictType
	Strategy     ResolutionStrategy
	Priority     int
}

// Matches reports whether the rule applies to the given conflict
func (r ResolutionRule) Matches(c *Conflict) bool {
	if r.EntityType != "" && r.EntityType != c.EntityType {
		return false
	}
	if r.FieldName != "" && r.FieldName != c.FieldName {
		return false
	}
	if r.ConflictType != "" && r.ConflictType != c.ConflictType {
		return false
	}
	return true
}

// FieldPriorityTable maps entity type and field name to a static strategy,
// consulted after the custom rule table.
type FieldPriorityTable map[EntityType]map[string]ResolutionStrategy

// Lookup returns the static strategy for an entity field, if configured
func (t FieldPriorityTable) Lookup(entityType EntityType, fieldName string) (ResolutionStrategy, bool) {
	fields, ok := t[entityType]
	if !ok {
		return "", false
	}
	s, ok := fields[fieldName]
	return s, ok
}

// ---------------------------------------------------------------------------
// ConflictRepository Interface
// ---------------------------------------------------------------------------

// ConflictRepository defines persistence for conflicts
type ConflictRepository interface {
	// Save creates or updates a conflict
	Save(ctx context.Context, conflict *Conflict) error

	// FindByID finds a conflict by ID
	FindByID(ctx context.Context, id uuid.UUID) (*Conflict, error)

	// FindPending returns pending conflicts, oldest first
	FindPending(ctx context.Context, limit int) ([]Conflict, error)

	// FindBySync returns all conflicts recorded during a sync session
	FindBySync(ctx context.Context, syncID uuid.UUID) ([]Conflict, error)

	// CountByStatus returns conflict counts per status
	CountByStatus(ctx context.Context) (map[ConflictStatus]int64, error)
}
