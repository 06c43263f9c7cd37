package handler

import (
	"errors"

	appbatch "github.com/erp/sync-engine/internal/application/batch"
	"github.com/erp/sync-engine/internal/domain/batch"
	"github.com/erp/sync-engine/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// BatchHandler exposes batch job operations
type BatchHandler struct {
	BaseHandler
	scheduler *appbatch.Scheduler
}

// NewBatchHandler creates a batch handler
func NewBatchHandler(scheduler *appbatch.Scheduler) *BatchHandler {
	return &BatchHandler{scheduler: scheduler}
}

// RegisterRoutes registers batch routes
func (h *BatchHandler) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group("/jobs")
	group.POST("", h.Queue)
	group.GET("/:id", h.GetJob)
}

// Queue queues a new batch job
func (h *BatchHandler) Queue(c *gin.Context) {
	var req dto.QueueJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Error(c, 400, dto.ErrCodeInvalidJSON, err.Error())
		return
	}

	job, err := h.scheduler.Queue(c.Request.Context(), batch.JobType(req.Type), req.Payload, batch.JobOptions{
		Priority:     req.Priority,
		BatchSize:    req.BatchSize,
		MaxRetries:   req.MaxRetries,
		ScheduledFor: req.ScheduledFor,
	})
	if err != nil {
		switch {
		case errors.Is(err, batch.ErrUnknownJobType), errors.Is(err, appbatch.ErrHandlerNotRegistered):
			h.Error(c, 400, dto.ErrCodeInvalidInput, err.Error())
		default:
			h.InternalError(c, err.Error())
		}
		return
	}
	h.Created(c, jobResponse(job))
}

// GetJob returns one job with its progress counters
func (h *BatchHandler) GetJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "invalid job ID")
		return
	}

	job, err := h.scheduler.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, batch.ErrJobNotFound) {
			h.NotFound(c, "job not found")
			return
		}
		h.InternalError(c, err.Error())
		return
	}
	h.Success(c, jobResponse(job))
}

func jobResponse(job *batch.Job) gin.H {
	return gin.H{
		"id":               job.ID.String(),
		"type":             job.Type,
		"status":           job.Status,
		"priority":         job.Priority,
		"total_items":      job.TotalItems,
		"processed_items":  job.ProcessedItems,
		"failed_items":     job.FailedItems,
		"retry_count":      job.RetryCount,
		"max_retries":      job.MaxRetries,
		"progress_percent": job.ProgressPercent(),
		"last_error":       job.LastError,
		"scheduled_for":    job.ScheduledFor,
		"started_at":       job.StartedAt,
		"completed_at":     job.CompletedAt,
		"created_at":       job.CreatedAt,
	}
}
