package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/sync-engine/internal/domain/batch"
	"github.com/erp/sync-engine/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormBatchJobRepository implements JobRepository using GORM
type GormBatchJobRepository struct {
	db *gorm.DB
}

// NewGormBatchJobRepository creates a new GormBatchJobRepository
func NewGormBatchJobRepository(db *gorm.DB) *GormBatchJobRepository {
	return &GormBatchJobRepository{db: db}
}

// Save creates or updates a job
func (r *GormBatchJobRepository) Save(ctx context.Context, job *batch.Job) error {
	model := models.BatchJobModelFromDomain(job)
	return r.db.WithContext(ctx).Save(model).Error
}

// FindByID finds a job by ID
func (r *GormBatchJobRepository) FindByID(ctx context.Context, id uuid.UUID) (*batch.Job, error) {
	var model models.BatchJobModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, batch.ErrJobNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindPending returns runnable jobs by priority then age. Jobs waiting on a
// retry delay are excluded until their next retry time.
func (r *GormBatchJobRepository) FindPending(ctx context.Context, limit int) ([]batch.Job, error) {
	var jobModels []models.BatchJobModel
	if err := r.db.WithContext(ctx).
		Where("status = ? AND (next_retry IS NULL OR next_retry <= ?)",
			batch.JobStatusPending, time.Now()).
		Order("priority DESC, created_at ASC").
		Limit(limit).
		Find(&jobModels).Error; err != nil {
		return nil, err
	}
	return toJobs(jobModels), nil
}

// FindDueScheduled returns scheduled jobs whose time has come
func (r *GormBatchJobRepository) FindDueScheduled(ctx context.Context, before time.Time, limit int) ([]batch.Job, error) {
	var jobModels []models.BatchJobModel
	if err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_for <= ?", batch.JobStatusScheduled, before).
		Order("scheduled_for ASC").
		Limit(limit).
		Find(&jobModels).Error; err != nil {
		return nil, err
	}
	return toJobs(jobModels), nil
}

// FindRetryable returns failed jobs with retry budget, ordered by priority
// then age
func (r *GormBatchJobRepository) FindRetryable(ctx context.Context, before time.Time, limit int) ([]batch.Job, error) {
	var jobModels []models.BatchJobModel
	if err := r.db.WithContext(ctx).
		Where("status = ? AND retry_count < max_retries AND (next_retry IS NULL OR next_retry <= ?)",
			batch.JobStatusFailed, before).
		Order("priority DESC, created_at ASC").
		Limit(limit).
		Find(&jobModels).Error; err != nil {
		return nil, err
	}
	return toJobs(jobModels), nil
}

// DeleteFinishedOlderThan prunes terminal jobs past retention
func (r *GormBatchJobRepository) DeleteFinishedOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status IN ? AND completed_at < ?",
			[]batch.JobStatus{batch.JobStatusCompleted, batch.JobStatusFailed}, before).
		Delete(&models.BatchJobModel{})
	return result.RowsAffected, result.Error
}

func toJobs(jobModels []models.BatchJobModel) []batch.Job {
	jobs := make([]batch.Job, len(jobModels))
	for i, model := range jobModels {
		jobs[i] = *model.ToDomain()
	}
	return jobs
}

// Ensure GormBatchJobRepository implements JobRepository
var _ batch.JobRepository = (*GormBatchJobRepository)(nil)

// GormBatchItemRepository implements ItemRepository using GORM
type GormBatchItemRepository struct {
	db *gorm.DB
}

// NewGormBatchItemRepository creates a new GormBatchItemRepository
func NewGormBatchItemRepository(db *gorm.DB) *GormBatchItemRepository {
	return &GormBatchItemRepository{db: db}
}

// SaveBatch persists a set of items
func (r *GormBatchItemRepository) SaveBatch(ctx context.Context, items []*batch.Item) error {
	if len(items) == 0 {
		return nil
	}
	itemModels := make([]*models.BatchItemModel, len(items))
	for i, item := range items {
		itemModels[i] = models.BatchItemModelFromDomain(item)
	}
	return r.db.WithContext(ctx).CreateInBatches(itemModels, 100).Error
}

// Update updates one item
func (r *GormBatchItemRepository) Update(ctx context.Context, item *batch.Item) error {
	model := models.BatchItemModelFromDomain(item)
	return r.db.WithContext(ctx).Save(model).Error
}

// FindPendingByJob returns pending items in processing order
func (r *GormBatchItemRepository) FindPendingByJob(ctx context.Context, jobID uuid.UUID, limit int) ([]batch.Item, error) {
	var itemModels []models.BatchItemModel
	if err := r.db.WithContext(ctx).
		Where("job_id = ? AND status = ?", jobID, batch.ItemStatusPending).
		Order("processing_order ASC").
		Limit(limit).
		Find(&itemModels).Error; err != nil {
		return nil, err
	}

	items := make([]batch.Item, len(itemModels))
	for i, model := range itemModels {
		items[i] = *model.ToDomain()
	}
	return items, nil
}

// ResetFailedByJob returns failed items of a job to pending
func (r *GormBatchItemRepository) ResetFailedByJob(ctx context.Context, jobID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.BatchItemModel{}).
		Where("job_id = ? AND status = ?", jobID, batch.ItemStatusFailed).
		Updates(map[string]any{
			"status":       batch.ItemStatusPending,
			"last_error":   "",
			"processed_at": nil,
			"updated_at":   time.Now(),
		})
	return result.RowsAffected, result.Error
}

// CountByJob returns total/completed/failed counters for a job
func (r *GormBatchItemRepository) CountByJob(ctx context.Context, jobID uuid.UUID) (total, completed, failed int64, err error) {
	type row struct {
		Status batch.ItemStatus
		Count  int64
	}
	var rows []row
	if err = r.db.WithContext(ctx).
		Model(&models.BatchItemModel{}).
		Select("status, count(*) as count").
		Where("job_id = ?", jobID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return 0, 0, 0, err
	}

	for _, r := range rows {
		total += r.Count
		switch r.Status {
		case batch.ItemStatusCompleted:
			completed += r.Count
		case batch.ItemStatusFailed:
			failed += r.Count
		}
	}
	return total, completed, failed, nil
}

// Ensure GormBatchItemRepository implements ItemRepository
var _ batch.ItemRepository = (*GormBatchItemRepository)(nil)

// GormProgressLogRepository implements ProgressLogRepository using GORM
type GormProgressLogRepository struct {
	db *gorm.DB
}

// NewGormProgressLogRepository creates a new GormProgressLogRepository
func NewGormProgressLogRepository(db *gorm.DB) *GormProgressLogRepository {
	return &GormProgressLogRepository{db: db}
}

// Append records one progress observation
func (r *GormProgressLogRepository) Append(ctx context.Context, log *batch.ProgressLog) error {
	model := &models.BatchProgressLogModel{}
	model.FromDomain(log)
	return r.db.WithContext(ctx).Create(model).Error
}

// DeleteOlderThan prunes logs past retention
func (r *GormProgressLogRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", before).
		Delete(&models.BatchProgressLogModel{})
	return result.RowsAffected, result.Error
}

// Ensure GormProgressLogRepository implements ProgressLogRepository
var _ batch.ProgressLogRepository = (*GormProgressLogRepository)(nil)
