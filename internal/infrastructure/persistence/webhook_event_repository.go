package persistence

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/erp/sync-engine/internal/domain/webhook"
	"github.com/erp/sync-engine/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormWebhookEventRepository implements EventRepository using GORM
type GormWebhookEventRepository struct {
	db *gorm.DB
}

// NewGormWebhookEventRepository creates a new GormWebhookEventRepository
func NewGormWebhookEventRepository(db *gorm.DB) *GormWebhookEventRepository {
	return &GormWebhookEventRepository{db: db}
}

// Insert persists a new event. The unique index on the idempotency key makes
// duplicate deliveries fail the insert; those surface as ErrDuplicateEvent.
func (r *GormWebhookEventRepository) Insert(ctx context.Context, event *webhook.Event) error {
	model := models.WebhookEventModelFromDomain(event)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
			return webhook.ErrDuplicateEvent
		}
		return err
	}
	return nil
}

// Update updates an existing event
func (r *GormWebhookEventRepository) Update(ctx context.Context, event *webhook.Event) error {
	model := models.WebhookEventModelFromDomain(event)
	return r.db.WithContext(ctx).Save(model).Error
}

// FindByID finds an event by ID
func (r *GormWebhookEventRepository) FindByID(ctx context.Context, id uuid.UUID) (*webhook.Event, error) {
	var model models.WebhookEventModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, webhook.ErrEventNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindDue returns pending events ready for (re)processing, oldest first.
// Events waiting on a backoff schedule are excluded until their retry time.
func (r *GormWebhookEventRepository) FindDue(ctx context.Context, before time.Time, limit int) ([]webhook.Event, error) {
	var eventModels []models.WebhookEventModel
	if err := r.db.WithContext(ctx).
		Where("status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)",
			webhook.EventStatusPending, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&eventModels).Error; err != nil {
		return nil, err
	}

	events := make([]webhook.Event, len(eventModels))
	for i, model := range eventModels {
		events[i] = *model.ToDomain()
	}
	return events, nil
}

// FindFailed returns terminally failed events, oldest first
func (r *GormWebhookEventRepository) FindFailed(ctx context.Context, limit int) ([]webhook.Event, error) {
	var eventModels []models.WebhookEventModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", webhook.EventStatusFailed).
		Order("created_at ASC").
		Limit(limit).
		Find(&eventModels).Error; err != nil {
		return nil, err
	}

	events := make([]webhook.Event, len(eventModels))
	for i, model := range eventModels {
		events[i] = *model.ToDomain()
	}
	return events, nil
}

// CountByStatus returns event counts per status
func (r *GormWebhookEventRepository) CountByStatus(ctx context.Context) (map[webhook.EventStatus]int64, error) {
	type row struct {
		Status webhook.EventStatus
		Count  int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).
		Model(&models.WebhookEventModel{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[webhook.EventStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// DeleteOlderThan removes processed events past the retention window
func (r *GormWebhookEventRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status = ? AND processed_at < ?", webhook.EventStatusProcessed, before).
		Delete(&models.WebhookEventModel{})
	return result.RowsAffected, result.Error
}

// isUniqueViolation matches unique constraint errors across postgres and
// sqlite drivers
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

// Ensure GormWebhookEventRepository implements EventRepository
var _ webhook.EventRepository = (*GormWebhookEventRepository)(nil)
