package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/sync-engine/internal/domain/sync"
	"github.com/erp/sync-engine/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormEntityMappingRepository implements EntityMappingRepository using GORM
type GormEntityMappingRepository struct {
	db *gorm.DB
}

// NewGormEntityMappingRepository creates a new GormEntityMappingRepository
func NewGormEntityMappingRepository(db *gorm.DB) *GormEntityMappingRepository {
	return &GormEntityMappingRepository{db: db}
}

// FindByLocal finds an active mapping by local ID
func (r *GormEntityMappingRepository) FindByLocal(ctx context.Context, entityType sync.EntityType, localID uuid.UUID) (*sync.EntityMapping, error) {
	var model models.EntityMappingModel
	if err := r.db.WithContext(ctx).
		Where("entity_type = ? AND local_id = ? AND is_active = ?", entityType, localID, true).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, sync.ErrMappingNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByRemote finds an active mapping by remote ID
func (r *GormEntityMappingRepository) FindByRemote(ctx context.Context, entityType sync.EntityType, remoteID int64) (*sync.EntityMapping, error) {
	var model models.EntityMappingModel
	if err := r.db.WithContext(ctx).
		Where("entity_type = ? AND remote_id = ? AND is_active = ?", entityType, remoteID, true).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, sync.ErrMappingNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindPushable finds active mappings whose direction allows pushing
func (r *GormEntityMappingRepository) FindPushable(ctx context.Context, entityType sync.EntityType, limit, offset int) ([]sync.EntityMapping, error) {
	var mappingModels []models.EntityMappingModel
	if err := r.db.WithContext(ctx).
		Where("entity_type = ? AND is_active = ? AND sync_direction IN ?",
			entityType, true, []sync.SyncDirection{sync.SyncDirectionPush, sync.SyncDirectionBoth}).
		Order("created_at ASC").
		Limit(limit).
		Offset(offset).
		Find(&mappingModels).Error; err != nil {
		return nil, err
	}

	mappings := make([]sync.EntityMapping, len(mappingModels))
	for i, model := range mappingModels {
		mappings[i] = *model.ToDomain()
	}
	return mappings, nil
}

// Upsert atomically inserts a mapping or refreshes the existing row keyed by
// (entity_type, local_id). A single INSERT ... ON CONFLICT DO UPDATE keeps
// concurrent webhook and sync writers from racing into duplicate rows.
func (r *GormEntityMappingRepository) Upsert(ctx context.Context, input sync.UpsertMappingInput) (*sync.EntityMapping, error) {
	if !input.EntityType.IsValid() {
		return nil, sync.ErrMappingInvalidEntity
	}
	if input.LocalID == uuid.Nil {
		return nil, sync.ErrMappingInvalidLocalID
	}
	if input.RemoteID <= 0 {
		return nil, sync.ErrMappingInvalidRemoteID
	}

	direction := input.Direction
	if !direction.IsValid() {
		direction = sync.SyncDirectionBoth
	}
	syncedAt := input.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now()
	}

	model := models.EntityMappingModel{
		ID:            uuid.New(),
		EntityType:    input.EntityType,
		LocalID:       input.LocalID,
		RemoteID:      input.RemoteID,
		SyncDirection: direction,
		IsActive:      true,
		LastSyncAt:    &syncedAt,
		Metadata:      datatypes.JSONMap(input.Metadata),
		CreatedAt:     syncedAt,
		UpdatedAt:     syncedAt,
	}

	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "entity_type"}, {Name: "local_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"remote_id", "sync_direction", "is_active", "last_sync_at", "metadata", "updated_at",
			}),
		}).
		Create(&model).Error; err != nil {
		return nil, err
	}

	// Re-read to return the canonical row (the insert model's ID is discarded
	// when the conflict path fired)
	return r.FindByLocal(ctx, input.EntityType, input.LocalID)
}

// Deactivate marks a mapping inactive
func (r *GormEntityMappingRepository) Deactivate(ctx context.Context, entityType sync.EntityType, localID uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&models.EntityMappingModel{}).
		Where("entity_type = ? AND local_id = ? AND is_active = ?", entityType, localID, true).
		Updates(map[string]any{"is_active": false, "updated_at": time.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return sync.ErrMappingNotFound
	}
	return nil
}

// CountActive counts active mappings for an entity type
func (r *GormEntityMappingRepository) CountActive(ctx context.Context, entityType sync.EntityType) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.EntityMappingModel{}).
		Where("entity_type = ? AND is_active = ?", entityType, true).
		Count(&count).Error
	return count, err
}

// Ensure GormEntityMappingRepository implements EntityMappingRepository
var _ sync.EntityMappingRepository = (*GormEntityMappingRepository)(nil)
