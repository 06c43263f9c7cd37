package models

import (
	"time"

	"github.com/erp/sync-engine/internal/domain/webhook"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// WebhookEventModel is the persistence model for inbound webhook deliveries.
// The unique index on the idempotency key is what turns duplicate deliveries
// into constraint violations.
type WebhookEventModel struct {
	ID             uuid.UUID           `gorm:"type:uuid;primary_key"`
	EventType      string              `gorm:"type:varchar(50);not null;index:idx_webhook_event_type"`
	ResourceID     int64               `gorm:"not null"`
	Payload        datatypes.JSON      `gorm:"type:jsonb;not null"`
	Signature      string              `gorm:"type:varchar(100)"`
	SourceIP       string              `gorm:"type:varchar(45)"`
	IdempotencyKey string              `gorm:"type:varchar(64);not null;uniqueIndex:idx_webhook_idempotency"`
	Status         webhook.EventStatus `gorm:"type:varchar(20);not null;index:idx_webhook_status"`
	RetryCount     int                 `gorm:"not null;default:0"`
	LastError      string              `gorm:"type:text"`
	NextRetryAt    *time.Time          `gorm:"index"`
	ProcessedAt    *time.Time
	CreatedAt      time.Time `gorm:"not null;index"`
	UpdatedAt      time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (WebhookEventModel) TableName() string {
	return "webhook_events"
}

// ToDomain converts the persistence model to a domain Event entity.
func (m *WebhookEventModel) ToDomain() *webhook.Event {
	return &webhook.Event{
		ID:             m.ID,
		EventType:      m.EventType,
		ResourceID:     m.ResourceID,
		Payload:        []byte(m.Payload),
		Signature:      m.Signature,
		SourceIP:       m.SourceIP,
		IdempotencyKey: m.IdempotencyKey,
		Status:         m.Status,
		RetryCount:     m.RetryCount,
		LastError:      m.LastError,
		NextRetryAt:    m.NextRetryAt,
		ProcessedAt:    m.ProcessedAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain Event entity.
func (m *WebhookEventModel) FromDomain(e *webhook.Event) {
	m.ID = e.ID
	m.EventType = e.EventType
	m.ResourceID = e.ResourceID
	m.Payload = datatypes.JSON(e.Payload)
	m.Signature = e.Signature
	m.SourceIP = e.SourceIP
	m.IdempotencyKey = e.IdempotencyKey
	m.Status = e.Status
	m.RetryCount = e.RetryCount
	m.LastError = e.LastError
	m.NextRetryAt = e.NextRetryAt
	m.ProcessedAt = e.ProcessedAt
	m.CreatedAt = e.CreatedAt
	m.UpdatedAt = e.UpdatedAt
}

// WebhookEventModelFromDomain creates a new persistence model from a domain entity.
func WebhookEventModelFromDomain(e *webhook.Event) *WebhookEventModel {
	m := &WebhookEventModel{}
	m.FromDomain(e)
	return m
}
