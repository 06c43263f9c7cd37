package sync

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMappingNotFound        = errors.New("sync: entity mapping not found")
	ErrMappingInvalidEntity   = errors.New("sync: invalid entity type")
	ErrMappingInvalidLocalID  = errors.New("sync: invalid local ID")
	ErrMappingInvalidRemoteID = errors.New("sync: invalid remote ID")
)

// ---------------------------------------------------------------------------
// SyncDirection
// ---------------------------------------------------------------------------

// SyncDirection controls which way records flow for a mapping
type SyncDirection string

const (
	// SyncDirectionPull indicates the record is only pulled from the platform
	SyncDirectionPull SyncDirection = "pull"
	// SyncDirectionPush indicates the record is only pushed to the platform
	SyncDirectionPush SyncDirection = "push"
	// SyncDirectionBoth indicates the record flows both ways
	SyncDirectionBoth SyncDirection = "both"
)

// IsValid returns true if the direction is valid
func (d SyncDirection) IsValid() bool {
	switch d {
	case SyncDirectionPull, SyncDirectionPush, SyncDirectionBoth:
		return true
	default:
		return false
	}
}

// String returns the string representation of SyncDirection
func (d SyncDirection) String() string {
	return string(d)
}

// AllowsPush returns true if local changes may be pushed to the platform
func (d SyncDirection) AllowsPush() bool {
	return d == SyncDirectionPush || d == SyncDirectionBoth
}

// AllowsPull returns true if platform changes may be pulled locally
func (d SyncDirection) AllowsPull() bool {
	return d == SyncDirectionPull || d == SyncDirectionBoth
}

// ---------------------------------------------------------------------------
// EntityMapping Entity
// ---------------------------------------------------------------------------

// EntityMapping is the persisted association between a local record and its
// counterpart on the remote platform. While active, (entity_type, local_id)
// and (entity_type, remote_id) are each unique.
type EntityMapping struct {
	ID            uuid.UUID
	EntityType    EntityType
	LocalID       uuid.UUID
	RemoteID      int64
	SyncDirection SyncDirection
	IsActive      bool
	LastSyncAt    *time.Time
	// Metadata holds provider-specific extras only; everything with known
	// structure lives in dedicated columns.
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewEntityMapping creates a new active mapping with direction "both"
func NewEntityMapping(entityType EntityType, localID uuid.UUID, remoteID int64) (*EntityMapping, error) {
	if !entityType.IsValid() {
		return nil, ErrMappingInvalidEntity
	}
	if localID == uuid.Nil {
		return nil, ErrMappingInvalidLocalID
	}
	if remoteID <= 0 {
		return nil, ErrMappingInvalidRemoteID
	}

	now := time.Now()
	return &EntityMapping{
		ID:            uuid.New(),
		EntityType:    entityType,
		LocalID:       localID,
		RemoteID:      remoteID,
		SyncDirection: SyncDirectionBoth,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// TouchSynced refreshes the last sync timestamp
func (m *EntityMapping) TouchSynced(at time.Time) {
	m.LastSyncAt = &at
	m.UpdatedAt = at
}

// Deactivate deactivates the mapping, freeing its unique keys
func (m *EntityMapping) Deactivate() {
	m.IsActive = false
	m.UpdatedAt = time.Now()
}

// ---------------------------------------------------------------------------
// EntityMappingRepository Interface
// ---------------------------------------------------------------------------

// UpsertMappingInput carries the fields of an idempotent mapping upsert
type UpsertMappingInput struct {
	EntityType EntityType
	LocalID    uuid.UUID
	RemoteID   int64
	Direction  SyncDirection
	Metadata   map[string]any
	SyncedAt   time.Time
}

// EntityMappingRepository defines the persistence interface for mappings.
// Upsert must be implemented as an atomic insert-or-update-on-conflict so
// concurrent webhook, sync and batch writers never create duplicate rows.
type EntityMappingRepository interface {
	// FindByLocal finds an active mapping by local ID
	FindByLocal(ctx context.Context, entityType EntityType, localID uuid.UUID) (*EntityMapping, error)

	// FindByRemote finds an active mapping by remote ID
	FindByRemote(ctx context.Context, entityType EntityType, remoteID int64) (*EntityMapping, error)

	// FindPushable finds active mappings whose direction allows pushing
	FindPushable(ctx context.Context, entityType EntityType, limit, offset int) ([]EntityMapping, error)

	// Upsert atomically inserts a mapping or, when (entity_type, local_id)
	// already exists, refreshes remote_id, metadata and last_sync_at.
	// Repeated calls with identical identity never create a second row.
	Upsert(ctx context.Context, input UpsertMappingInput) (*EntityMapping, error)

	// Deactivate marks a mapping inactive
	Deactivate(ctx context.Context, entityType EntityType, localID uuid.UUID) error

	// CountActive counts active mappings for an entity type
	CountActive(ctx context.Context, entityType EntityType) (int64, error)
}
