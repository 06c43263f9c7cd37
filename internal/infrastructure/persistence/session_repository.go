package persistence

import (
	"context"
	"errors"

	"github.com/erp/sync-engine/internal/domain/sync"
	"github.com/erp/sync-engine/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormSessionRepository implements SessionRepository using GORM
type GormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository creates a new GormSessionRepository
func NewGormSessionRepository(db *gorm.DB) *GormSessionRepository {
	return &GormSessionRepository{db: db}
}

// Save creates or updates a sync session
func (r *GormSessionRepository) Save(ctx context.Context, session *sync.Session) error {
	model := models.SessionModelFromDomain(session)
	return r.db.WithContext(ctx).Save(model).Error
}

// FindByID finds a session by its sync ID
func (r *GormSessionRepository) FindByID(ctx context.Context, syncID uuid.UUID) (*sync.Session, error) {
	var model models.SessionModel
	if err := r.db.WithContext(ctx).First(&model, "sync_id = ?", syncID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, sync.ErrSessionNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindRunning returns sessions that have not reached a terminal state
func (r *GormSessionRepository) FindRunning(ctx context.Context) ([]sync.Session, error) {
	var sessionModels []models.SessionModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", sync.SessionStatusRunning).
		Order("started_at ASC").
		Find(&sessionModels).Error; err != nil {
		return nil, err
	}

	sessions := make([]sync.Session, len(sessionModels))
	for i, model := range sessionModels {
		sessions[i] = *model.ToDomain()
	}
	return sessions, nil
}

// Ensure GormSessionRepository implements SessionRepository
var _ sync.SessionRepository = (*GormSessionRepository)(nil)
