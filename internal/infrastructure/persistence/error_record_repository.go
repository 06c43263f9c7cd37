package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/sync-engine/internal/domain/recovery"
	"github.com/erp/sync-engine/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormErrorRecordRepository implements ErrorRecordRepository using GORM
type GormErrorRecordRepository struct {
	db *gorm.DB
}

// NewGormErrorRecordRepository creates a new GormErrorRecordRepository
func NewGormErrorRecordRepository(db *gorm.DB) *GormErrorRecordRepository {
	return &GormErrorRecordRepository{db: db}
}

// Save creates or updates an error record
func (r *GormErrorRecordRepository) Save(ctx context.Context, record *recovery.ErrorRecord) error {
	model := models.ErrorRecordModelFromDomain(record)
	return r.db.WithContext(ctx).Save(model).Error
}

// FindByID finds a record by ID
func (r *GormErrorRecordRepository) FindByID(ctx context.Context, id uuid.UUID) (*recovery.ErrorRecord, error) {
	var model models.ErrorRecordModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, recovery.ErrRecordNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindDue returns pending records whose next retry time has elapsed
func (r *GormErrorRecordRepository) FindDue(ctx context.Context, before time.Time, limit int) ([]recovery.ErrorRecord, error) {
	var recordModels []models.ErrorRecordModel
	if err := r.db.WithContext(ctx).
		Where("recovery_status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?",
			recovery.RecoveryStatusPending, before).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&recordModels).Error; err != nil {
		return nil, err
	}
	return toErrorRecords(recordModels), nil
}

// FindPendingManual returns records awaiting operator intervention
func (r *GormErrorRecordRepository) FindPendingManual(ctx context.Context, limit int) ([]recovery.ErrorRecord, error) {
	var recordModels []models.ErrorRecordModel
	if err := r.db.WithContext(ctx).
		Where("recovery_status = ? AND recovery_strategy = ?",
			recovery.RecoveryStatusPending, recovery.RecoveryManual).
		Order("created_at ASC").
		Limit(limit).
		Find(&recordModels).Error; err != nil {
		return nil, err
	}
	return toErrorRecords(recordModels), nil
}

func toErrorRecords(recordModels []models.ErrorRecordModel) []recovery.ErrorRecord {
	records := make([]recovery.ErrorRecord, len(recordModels))
	for i, model := range recordModels {
		records[i] = *model.ToDomain()
	}
	return records
}

// Ensure GormErrorRecordRepository implements ErrorRecordRepository
var _ recovery.ErrorRecordRepository = (*GormErrorRecordRepository)(nil)

// GormAttemptLogRepository implements AttemptLogRepository using GORM
type GormAttemptLogRepository struct {
	db *gorm.DB
}

// NewGormAttemptLogRepository creates a new GormAttemptLogRepository
func NewGormAttemptLogRepository(db *gorm.DB) *GormAttemptLogRepository {
	return &GormAttemptLogRepository{db: db}
}

// Append durably records one attempt
func (r *GormAttemptLogRepository) Append(ctx context.Context, log *recovery.AttemptLog) error {
	model := &models.AttemptLogModel{}
	model.FromDomain(log)
	return r.db.WithContext(ctx).Create(model).Error
}

// Stats aggregates success rate and mean recovery time per category
func (r *GormAttemptLogRepository) Stats(ctx context.Context, since time.Time) ([]recovery.RecoveryStats, error) {
	type row struct {
		Category  recovery.ErrorCategory
		Attempts  int64
		Successes int64
		MeanMs    float64
	}
	var rows []row
	if err := r.db.WithContext(ctx).
		Model(&models.AttemptLogModel{}).
		Select("category, count(*) as attempts, sum(case when success then 1 else 0 end) as successes, avg(duration_ms) as mean_ms").
		Where("created_at >= ?", since).
		Group("category").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	stats := make([]recovery.RecoveryStats, len(rows))
	for i, r := range rows {
		s := recovery.RecoveryStats{
			Category:         r.Category,
			Attempts:         r.Attempts,
			Successes:        r.Successes,
			MeanRecoveryTime: time.Duration(r.MeanMs) * time.Millisecond,
		}
		if r.Attempts > 0 {
			s.SuccessRate = float64(r.Successes) / float64(r.Attempts)
		}
		stats[i] = s
	}
	return stats, nil
}

// Ensure GormAttemptLogRepository implements AttemptLogRepository
var _ recovery.AttemptLogRepository = (*GormAttemptLogRepository)(nil)
