package persistence

import (
	"context"
	"errors"

	"github.com/erp/sync-engine/internal/domain/sync"
	"github.com/erp/sync-engine/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormConflictRepository implements ConflictRepository using GORM
type GormConflictRepository struct {
	db *gorm.DB
}

// NewGormConflictRepository creates a new GormConflictRepository
func NewGormConflictRepository(db *gorm.DB) *GormConflictRepository {
	return &GormConflictRepository{db: db}
}

// Save creates or updates a conflict
func (r *GormConflictRepository) Save(ctx context.Context, conflict *sync.Conflict) error {
	model := models.ConflictModelFromDomain(conflict)
	return r.db.WithContext(ctx).Save(model).Error
}

// FindByID finds a conflict by ID
func (r *GormConflictRepository) FindByID(ctx context.Context, id uuid.UUID) (*sync.Conflict, error) {
	var model models.ConflictModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, sync.ErrConflictNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindPending returns pending conflicts oldest first
func (r *GormConflictRepository) FindPending(ctx context.Context, limit int) ([]sync.Conflict, error) {
	var conflictModels []models.ConflictModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", sync.ConflictStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&conflictModels).Error; err != nil {
		return nil, err
	}
	return toConflicts(conflictModels), nil
}

// FindBySync returns all conflicts recorded during a sync session
func (r *GormConflictRepository) FindBySync(ctx context.Context, syncID uuid.UUID) ([]sync.Conflict, error) {
	var conflictModels []models.ConflictModel
	if err := r.db.WithContext(ctx).
		Where("sync_id = ?", syncID).
		Order("created_at ASC").
		Find(&conflictModels).Error; err != nil {
		return nil, err
	}
	return toConflicts(conflictModels), nil
}

// CountByStatus returns conflict counts per status
func (r *GormConflictRepository) CountByStatus(ctx context.Context) (map[sync.ConflictStatus]int64, error) {
	type row struct {
		Status sync.ConflictStatus
		Count  int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).
		Model(&models.ConflictModel{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[sync.ConflictStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

func toConflicts(conflictModels []models.ConflictModel) []sync.Conflict {
	conflicts := make([]sync.Conflict, len(conflictModels))
	for i, model := range conflictModels {
		conflicts[i] = *model.ToDomain()
	}
	return conflicts
}

// Ensure GormConflictRepository implements ConflictRepository
var _ sync.ConflictRepository = (*GormConflictRepository)(nil)
