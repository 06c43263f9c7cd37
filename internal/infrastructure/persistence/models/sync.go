package models

import (
	"encoding/json"
	"time"

	"github.com/erp/sync-engine/internal/domain/sync"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// EntityMappingModel is the persistence model for the EntityMapping domain entity.
type EntityMappingModel struct {
	ID            uuid.UUID          `gorm:"type:uuid;primary_key"`
	EntityType    sync.EntityType    `gorm:"type:varchar(20);not null;uniqueIndex:idx_mapping_entity_local,priority:1;uniqueIndex:idx_mapping_entity_remote,priority:1"`
	LocalID       uuid.UUID          `gorm:"type:uuid;not null;uniqueIndex:idx_mapping_entity_local,priority:2"`
	RemoteID      int64              `gorm:"not null;uniqueIndex:idx_mapping_entity_remote,priority:2"`
	SyncDirection sync.SyncDirection `gorm:"type:varchar(10);not null;default:'both'"`
	IsActive      bool               `gorm:"not null;default:true;index"`
	LastSyncAt    *time.Time         `gorm:"index"`
	Metadata      datatypes.JSONMap  `gorm:"type:jsonb"`
	CreatedAt     time.Time          `gorm:"not null"`
	UpdatedAt     time.Time          `gorm:"not null"`
}

// TableName returns the table name for GORM
func (EntityMappingModel) TableName() string {
	return "entity_mappings"
}

// ToDomain converts the persistence model to a domain EntityMapping entity.
func (m *EntityMappingModel) ToDomain() *sync.EntityMapping {
	return &sync.EntityMapping{
		ID:            m.ID,
		EntityType:    m.EntityType,
		LocalID:       m.LocalID,
		RemoteID:      m.RemoteID,
		SyncDirection: m.SyncDirection,
		IsActive:      m.IsActive,
		LastSyncAt:    m.LastSyncAt,
		Metadata:      map[string]any(m.Metadata),
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain EntityMapping entity.
func (m *EntityMappingModel) FromDomain(em *sync.EntityMapping) {
	m.ID = em.ID
	m.EntityType = em.EntityType
	m.LocalID = em.LocalID
	m.RemoteID = em.RemoteID
	m.SyncDirection = em.SyncDirection
	m.IsActive = em.IsActive
	m.LastSyncAt = em.LastSyncAt
	m.Metadata = datatypes.JSONMap(em.Metadata)
	m.CreatedAt = em.CreatedAt
	m.UpdatedAt = em.UpdatedAt
}

// EntityMappingModelFromDomain creates a new persistence model from a domain entity.
func EntityMappingModelFromDomain(em *sync.EntityMapping) *EntityMappingModel {
	m := &EntityMappingModel{}
	m.FromDomain(em)
	return m
}

// ConflictModel is the persistence model for the Conflict domain entity.
type ConflictModel struct {
	ID            uuid.UUID               `gorm:"type:uuid;primary_key"`
	SyncID        uuid.UUID               `gorm:"type:uuid;not null;index:idx_conflict_sync"`
	EntityType    sync.EntityType         `gorm:"type:varchar(20);not null"`
	EntityID      uuid.UUID               `gorm:"type:uuid;not null;index:idx_conflict_entity"`
	FieldName     string                  `gorm:"type:varchar(100);not null"`
	ConflictType  sync.ConflictType       `gorm:"type:varchar(20);not null"`
	LocalValue    datatypes.JSON          `gorm:"type:jsonb"`
	RemoteValue   datatypes.JSON          `gorm:"type:jsonb"`
	ResolvedValue datatypes.JSON          `gorm:"type:jsonb"`
	Strategy      sync.ResolutionStrategy `gorm:"type:varchar(20)"`
	Status        sync.ConflictStatus     `gorm:"type:varchar(20);not null;index:idx_conflict_status"`
	AutoResolved  bool                    `gorm:"not null;default:false"`
	ResolvedAt    *time.Time
	CreatedAt     time.Time `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (ConflictModel) TableName() string {
	return "sync_conflicts"
}

// ToDomain converts the persistence model to a domain Conflict entity.
func (m *ConflictModel) ToDomain() *sync.Conflict {
	return &sync.Conflict{
		ID:            m.ID,
		SyncID:        m.SyncID,
		EntityType:    m.EntityType,
		EntityID:      m.EntityID,
		FieldName:     m.FieldName,
		ConflictType:  m.ConflictType,
		LocalValue:    decodeJSONValue(m.LocalValue),
		RemoteValue:   decodeJSONValue(m.RemoteValue),
		ResolvedValue: decodeJSONValue(m.ResolvedValue),
		Strategy:      m.Strategy,
		Status:        m.Status,
		AutoResolved:  m.AutoResolved,
		ResolvedAt:    m.ResolvedAt,
		CreatedAt:     m.CreatedAt,
	}
}

// FromDomain populates the persistence model from a domain Conflict entity.
func (m *ConflictModel) FromDomain(c *sync.Conflict) {
	m.ID = c.ID
	m.SyncID = c.SyncID
	m.EntityType = c.EntityType
	m.EntityID = c.EntityID
	m.FieldName = c.FieldName
	m.ConflictType = c.ConflictType
	m.LocalValue = encodeJSONValue(c.LocalValue)
	m.RemoteValue = encodeJSONValue(c.RemoteValue)
	m.ResolvedValue = encodeJSONValue(c.ResolvedValue)
	m.Strategy = c.Strategy
	m.Status = c.Status
	m.AutoResolved = c.AutoResolved
	m.ResolvedAt = c.ResolvedAt
	m.CreatedAt = c.CreatedAt
}

// ConflictModelFromDomain creates a new persistence model from a domain entity.
func ConflictModelFromDomain(c *sync.Conflict) *ConflictModel {
	m := &ConflictModel{}
	m.FromDomain(c)
	return m
}

// SessionModel is the persistence model for the sync Session entity.
type SessionModel struct {
	SyncID       uuid.UUID          `gorm:"type:uuid;primary_key;column:sync_id"`
	Type         sync.SessionType   `gorm:"type:varchar(10);not null"`
	Status       sync.SessionStatus `gorm:"type:varchar(20);not null;index:idx_session_status"`
	Options      datatypes.JSON     `gorm:"type:jsonb"`
	Results      datatypes.JSON     `gorm:"type:jsonb"`
	ErrorDetails string             `gorm:"type:text"`
	StartedAt    time.Time          `gorm:"not null;index"`
	CompletedAt  *time.Time
}

// TableName returns the table name for GORM
func (SessionModel) TableName() string {
	return "sync_sessions"
}

// ToDomain converts the persistence model to a domain Session entity.
func (m *SessionModel) ToDomain() *sync.Session {
	s := &sync.Session{
		SyncID:       m.SyncID,
		Type:         m.Type,
		Status:       m.Status,
		Results:      sync.Results{},
		ErrorDetails: m.ErrorDetails,
		StartedAt:    m.StartedAt,
		CompletedAt:  m.CompletedAt,
	}
	if len(m.Options) > 0 {
		_ = json.Unmarshal(m.Options, &s.Options)
	}
	if len(m.Results) > 0 {
		_ = json.Unmarshal(m.Results, &s.Results)
	}
	return s
}

// FromDomain populates the persistence model from a domain Session entity.
func (m *SessionModel) FromDomain(s *sync.Session) {
	m.SyncID = s.SyncID
	m.Type = s.Type
	m.Status = s.Status
	m.ErrorDetails = s.ErrorDetails
	m.StartedAt = s.StartedAt
	m.CompletedAt = s.CompletedAt
	if data, err := json.Marshal(s.Options); err == nil {
		m.Options = data
	}
	if data, err := json.Marshal(s.Results); err == nil {
		m.Results = data
	}
}

// SessionModelFromDomain creates a new persistence model from a domain entity.
func SessionModelFromDomain(s *sync.Session) *SessionModel {
	m := &SessionModel{}
	m.FromDomain(s)
	return m
}

// encodeJSONValue serializes an arbitrary field value for jsonb storage
func encodeJSONValue(v any) datatypes.JSON {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// decodeJSONValue deserializes a jsonb column back to an arbitrary value
func decodeJSONValue(data datatypes.JSON) any {
	if len(data) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	return v
}
