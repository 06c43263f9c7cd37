package persistence

import (
	"context"
	"errors"

	"github.com/erp/sync-engine/internal/domain/recovery"
	"github.com/erp/sync-engine/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormCircuitBreakerRepository implements CircuitBreakerRepository using GORM
type GormCircuitBreakerRepository struct {
	db *gorm.DB
}

// NewGormCircuitBreakerRepository creates a new GormCircuitBreakerRepository
func NewGormCircuitBreakerRepository(db *gorm.DB) *GormCircuitBreakerRepository {
	return &GormCircuitBreakerRepository{db: db}
}

// Find loads the breaker state for a key
func (r *GormCircuitBreakerRepository) Find(ctx context.Context, serviceName, operationName string) (*recovery.CircuitBreakerState, error) {
	var model models.CircuitBreakerModel
	if err := r.db.WithContext(ctx).
		First(&model, "service_name = ? AND operation_name = ?", serviceName, operationName).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, recovery.ErrBreakerNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Save creates or updates a breaker state
func (r *GormCircuitBreakerRepository) Save(ctx context.Context, state *recovery.CircuitBreakerState) error {
	model := &models.CircuitBreakerModel{}
	model.FromDomain(state)
	return r.db.WithContext(ctx).Save(model).Error
}

// FindOpen returns all currently open breakers
func (r *GormCircuitBreakerRepository) FindOpen(ctx context.Context) ([]recovery.CircuitBreakerState, error) {
	var breakerModels []models.CircuitBreakerModel
	if err := r.db.WithContext(ctx).
		Where("state = ?", recovery.BreakerOpen).
		Order("updated_at DESC").
		Find(&breakerModels).Error; err != nil {
		return nil, err
	}

	states := make([]recovery.CircuitBreakerState, len(breakerModels))
	for i, model := range breakerModels {
		states[i] = *model.ToDomain()
	}
	return states, nil
}

// Ensure GormCircuitBreakerRepository implements CircuitBreakerRepository
var _ recovery.CircuitBreakerRepository = (*GormCircuitBreakerRepository)(nil)
