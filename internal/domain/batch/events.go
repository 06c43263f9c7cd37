package batch

import (
	"github.com/erp/sync-engine/internal/domain/shared"
	"github.com/google/uuid"
)

// Event type constants for the batch aggregate
const (
	EventTypeJobQueued    = "batch.job.queued"
	EventTypeJobStarted   = "batch.job.started"
	EventTypeJobProgress  = "batch.job.progress"
	EventTypeJobCompleted = "batch.job.completed"
	EventTypeJobFailed    = "batch.job.failed"
)

// JobEvent is the common payload of job lifecycle events
type JobEvent struct {
	shared.BaseDomainEvent
	JobID   uuid.UUID `json:"job_id"`
	JobType JobType   `json:"job_type"`
}

func newJobEvent(eventType string, job *Job) JobEvent {
	return JobEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(eventType, "BatchJob", job.ID),
		JobID:           job.ID,
		JobType:         job.Type,
	}
}

// NewJobQueuedEvent creates a queued lifecycle event
func NewJobQueuedEvent(job *Job) *JobEvent {
	e := newJobEvent(EventTypeJobQueued, job)
	return &e
}

// NewJobStartedEvent creates a started lifecycle event
func NewJobStartedEvent(job *Job) *JobEvent {
	e := newJobEvent(EventTypeJobStarted, job)
	return &e
}

// NewJobCompletedEvent creates a completed lifecycle event
func NewJobCompletedEvent(job *Job) *JobEvent {
	e := newJobEvent(EventTypeJobCompleted, job)
	return &e
}

// NewJobFailedEvent creates a failed lifecycle event
func NewJobFailedEvent(job *Job) *JobEvent {
	e := newJobEvent(EventTypeJobFailed, job)
	return &e
}

// JobProgressEvent is published after each processed sub-batch
type JobProgressEvent struct {
	shared.BaseDomainEvent
	JobID   uuid.UUID `json:"job_id"`
	JobType JobType   `json:"job_type"`
	Percent int       `json:"percent"`
	Message string    `json:"message"`
}

// NewJobProgressEvent creates a progress event
func NewJobProgressEvent(job *Job, message string) *JobProgressEvent {
	return &JobProgressEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeJobProgress, "BatchJob", job.ID),
		JobID:           job.ID,
		JobType:         job.Type,
		Percent:         job.ProgressPercent(),
		Message:         message,
	}
}
