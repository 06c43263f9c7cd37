package models

import (
	"time"

	"github.com/erp/sync-engine/internal/domain/batch"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// BatchJobModel is the persistence model for the batch Job entity.
type BatchJobModel struct {
	ID             uuid.UUID         `gorm:"type:uuid;primary_key"`
	Type           batch.JobType     `gorm:"type:varchar(30);not null;index:idx_batch_job_type"`
	Status         batch.JobStatus   `gorm:"type:varchar(20);not null;index:idx_batch_job_status"`
	Priority       int               `gorm:"not null;default:0;index:idx_batch_job_priority"`
	BatchSize      int               `gorm:"not null"`
	TotalItems     int               `gorm:"not null;default:0"`
	ProcessedItems int               `gorm:"not null;default:0"`
	FailedItems    int               `gorm:"not null;default:0"`
	RetryCount     int               `gorm:"not null;default:0"`
	MaxRetries     int               `gorm:"not null;default:0"`
	NextRetry      *time.Time        `gorm:"index"`
	ScheduledFor   *time.Time        `gorm:"index"`
	Payload        datatypes.JSONMap `gorm:"type:jsonb"`
	LastError      string            `gorm:"type:text"`
	StartedAt      *time.Time
	CompletedAt    *time.Time `gorm:"index"`
	CreatedAt      time.Time  `gorm:"not null;index"`
	UpdatedAt      time.Time  `gorm:"not null"`
}

// TableName returns the table name for GORM
func (BatchJobModel) TableName() string {
	return "batch_jobs"
}

// ToDomain converts the persistence model to a domain Job entity.
func (m *BatchJobModel) ToDomain() *batch.Job {
	return &batch.Job{
		ID:             m.ID,
		Type:           m.Type,
		Status:         m.Status,
		Priority:       m.Priority,
		BatchSize:      m.BatchSize,
		TotalItems:     m.TotalItems,
		ProcessedItems: m.ProcessedItems,
		FailedItems:    m.FailedItems,
		RetryCount:     m.RetryCount,
		MaxRetries:     m.MaxRetries,
		NextRetry:      m.NextRetry,
		ScheduledFor:   m.ScheduledFor,
		Payload:        map[string]any(m.Payload),
		LastError:      m.LastError,
		StartedAt:      m.StartedAt,
		CompletedAt:    m.CompletedAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain Job entity.
func (m *BatchJobModel) FromDomain(j *batch.Job) {
	m.ID = j.ID
	m.Type = j.Type
	m.Status = j.Status
	m.Priority = j.Priority
	m.BatchSize = j.BatchSize
	m.TotalItems = j.TotalItems
	m.ProcessedItems = j.ProcessedItems
	m.FailedItems = j.FailedItems
	m.RetryCount = j.RetryCount
	m.MaxRetries = j.MaxRetries
	m.NextRetry = j.NextRetry
	m.ScheduledFor = j.ScheduledFor
	m.Payload = datatypes.JSONMap(j.Payload)
	m.LastError = j.LastError
	m.StartedAt = j.StartedAt
	m.CompletedAt = j.CompletedAt
	m.CreatedAt = j.CreatedAt
	m.UpdatedAt = j.UpdatedAt
}

// BatchJobModelFromDomain creates a new persistence model from a domain entity.
func BatchJobModelFromDomain(j *batch.Job) *BatchJobModel {
	m := &BatchJobModel{}
	m.FromDomain(j)
	return m
}

// BatchItemModel is the persistence model for the batch Item entity.
type BatchItemModel struct {
	ID              uuid.UUID         `gorm:"type:uuid;primary_key"`
	JobID           uuid.UUID         `gorm:"type:uuid;not null;index:idx_batch_item_job,priority:1"`
	Type            batch.JobType     `gorm:"type:varchar(30);not null"`
	Status          batch.ItemStatus  `gorm:"type:varchar(20);not null;index:idx_batch_item_job,priority:2"`
	ProcessingOrder int               `gorm:"not null"`
	Payload         datatypes.JSONMap `gorm:"type:jsonb"`
	LastError       string            `gorm:"type:text"`
	ProcessedAt     *time.Time
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (BatchItemModel) TableName() string {
	return "batch_items"
}

// ToDomain converts the persistence model to a domain Item entity.
func (m *BatchItemModel) ToDomain() *batch.Item {
	return &batch.Item{
		ID:              m.ID,
		JobID:           m.JobID,
		Type:            m.Type,
		Status:          m.Status,
		ProcessingOrder: m.ProcessingOrder,
		Payload:         map[string]any(m.Payload),
		LastError:       m.LastError,
		ProcessedAt:     m.ProcessedAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain Item entity.
func (m *BatchItemModel) FromDomain(i *batch.Item) {
	m.ID = i.ID
	m.JobID = i.JobID
	m.Type = i.Type
	m.Status = i.Status
	m.ProcessingOrder = i.ProcessingOrder
	m.Payload = datatypes.JSONMap(i.Payload)
	m.LastError = i.LastError
	m.ProcessedAt = i.ProcessedAt
	m.CreatedAt = i.CreatedAt
	m.UpdatedAt = i.UpdatedAt
}

// BatchItemModelFromDomain creates a new persistence model from a domain entity.
func BatchItemModelFromDomain(i *batch.Item) *BatchItemModel {
	m := &BatchItemModel{}
	m.FromDomain(i)
	return m
}

// BatchProgressLogModel is the persistence model for progress observations.
type BatchProgressLogModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	JobID     uuid.UUID `gorm:"type:uuid;not null;index:idx_batch_progress_job"`
	Percent   int       `gorm:"not null"`
	Message   string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (BatchProgressLogModel) TableName() string {
	return "batch_progress_logs"
}

// ToDomain converts the persistence model to a domain ProgressLog entry.
func (m *BatchProgressLogModel) ToDomain() *batch.ProgressLog {
	return &batch.ProgressLog{
		ID:        m.ID,
		JobID:     m.JobID,
		Percent:   m.Percent,
		Message:   m.Message,
		CreatedAt: m.CreatedAt,
	}
}

// FromDomain populates the persistence model from a domain ProgressLog entry.
func (m *BatchProgressLogModel) FromDomain(l *batch.ProgressLog) {
	m.ID = l.ID
	m.JobID = l.JobID
	m.Percent = l.Percent
	m.Message = l.Message
	m.CreatedAt = l.CreatedAt
}
