package batch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrJobNotFound     = errors.New("batch: job not found")
	ErrJobTerminal     = errors.New("batch: job already in a terminal state")
	ErrJobNotRunnable  = errors.New("batch: job is not in a runnable state")
	ErrUnknownJobType  = errors.New("batch: unknown job type")
	ErrRetriesExceeded = errors.New("batch: retry attempts exceeded")
)

// ---------------------------------------------------------------------------
// Job enums
// ---------------------------------------------------------------------------

// JobType identifies a registered bulk work kind
type JobType string

const (
	// JobTypeFullSync runs a bulk sync through the sync engine
	JobTypeFullSync JobType = "full_sync"
	// JobTypeWebhookReplay re-enqueues failed webhook events
	JobTypeWebhookReplay JobType = "webhook_replay"
	// JobTypeCleanup prunes old jobs, events and progress logs
	JobTypeCleanup JobType = "cleanup"
)

// IsValid returns true if the job type is registered
func (t JobType) IsValid() bool {
	switch t {
	case JobTypeFullSync, JobTypeWebhookReplay, JobTypeCleanup:
		return true
	default:
		return false
	}
}

// JobStatus is the lifecycle state of a batch job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusScheduled JobStatus = "scheduled"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal returns true once no further processing will happen
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ItemStatus is the lifecycle state of a batch item
type ItemStatus string

const (
	ItemStatusPending   ItemStatus = "pending"
	ItemStatusCompleted ItemStatus = "completed"
	ItemStatusFailed    ItemStatus = "failed"
)

// ---------------------------------------------------------------------------
// Job Entity
// ---------------------------------------------------------------------------

// Job is a decomposable unit of bulk work tracked at the item level
type Job struct {
	ID             uuid.UUID
	Type           JobType
	Status         JobStatus
	Priority       int
	BatchSize      int
	TotalItems     int
	ProcessedItems int
	FailedItems    int
	RetryCount     int
	MaxRetries     int
	NextRetry      *time.Time
	ScheduledFor   *time.Time
	Payload        map[string]any
	LastError      string
	StartedAt      *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// JobOptions configures a queued job
type JobOptions struct {
	Priority     int
	BatchSize    int
	MaxRetries   int
	ScheduledFor *time.Time
}

// NewJob creates a pending (or scheduled) job
func NewJob(jobType JobType, payload map[string]any, opts JobOptions) (*Job, error) {
	if !jobType.IsValid() {
		return nil, ErrUnknownJobType
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 25
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	now := time.Now()
	job := &Job{
		ID:         uuid.New(),
		Type:       jobType,
		Status:     JobStatusPending,
		Priority:   opts.Priority,
		BatchSize:  opts.BatchSize,
		MaxRetries: opts.MaxRetries,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if opts.ScheduledFor != nil && opts.ScheduledFor.After(now) {
		job.Status = JobStatusScheduled
		job.ScheduledFor = opts.ScheduledFor
	}
	return job, nil
}

// Start transitions the job to running
func (j *Job) Start() error {
	if j.Status != JobStatusPending {
		return ErrJobNotRunnable
	}
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.UpdatedAt = now
	return nil
}

// Complete transitions the job to completed
func (j *Job) Complete() error {
	if j.Status.IsTerminal() {
		return ErrJobTerminal
	}
	now := time.Now()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

// Fail records a run failure
func (j *Job) Fail(errMsg string) error {
	if j.Status.IsTerminal() {
		return ErrJobTerminal
	}
	now := time.Now()
	j.Status = JobStatusFailed
	j.LastError = errMsg
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

// CanRetry reports whether a failed job still has retry budget
func (j *Job) CanRetry() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// ScheduleRetry returns a failed job to pending once its delay elapses.
// A job with MaxRetries=3 is retried at most 3 times; the 4th failure is
// terminal.
func (j *Job) ScheduleRetry(delay time.Duration) error {
	if !j.CanRetry() {
		return ErrRetriesExceeded
	}
	now := time.Now()
	j.RetryCount++
	j.Status = JobStatusPending
	next := now.Add(delay)
	j.NextRetry = &next
	j.CompletedAt = nil
	j.UpdatedAt = now
	return nil
}

// Activate moves a due scheduled job to pending
func (j *Job) Activate() error {
	if j.Status != JobStatusScheduled {
		return ErrJobNotRunnable
	}
	j.Status = JobStatusPending
	j.ScheduledFor = nil
	j.UpdatedAt = time.Now()
	return nil
}

// RecordProgress updates item counters after a sub-batch
func (j *Job) RecordProgress(processed, failed int) {
	j.ProcessedItems += processed
	j.FailedItems += failed
	j.UpdatedAt = time.Now()
}

// ProgressPercent returns completion as 0-100
func (j *Job) ProgressPercent() int {
	if j.TotalItems <= 0 {
		return 0
	}
	pct := (j.ProcessedItems + j.FailedItems) * 100 / j.TotalItems
	if pct > 100 {
		pct = 100
	}
	return pct
}

// ---------------------------------------------------------------------------
// Item Entity
// ---------------------------------------------------------------------------

// Item is one independently tracked unit of a job. A crash mid-job only
// requires reprocessing pending/failed items, never the whole job.
type Item struct {
	ID              uuid.UUID
	JobID           uuid.UUID
	Type            JobType
	Status          ItemStatus
	ProcessingOrder int
	Payload         map[string]any
	LastError       string
	ProcessedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewItem creates a pending item for a job
func NewItem(jobID uuid.UUID, jobType JobType, order int, payload map[string]any) *Item {
	now := time.Now()
	return &Item{
		ID:              uuid.New(),
		JobID:           jobID,
		Type:            jobType,
		Status:          ItemStatusPending,
		ProcessingOrder: order,
		Payload:         payload,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// MarkCompleted records a successful item outcome
func (i *Item) MarkCompleted() {
	now := time.Now()
	i.Status = ItemStatusCompleted
	i.ProcessedAt = &now
	i.UpdatedAt = now
}

// MarkFailed records a failed item outcome
func (i *Item) MarkFailed(errMsg string) {
	now := time.Now()
	i.Status = ItemStatusFailed
	i.LastError = errMsg
	i.ProcessedAt = &now
	i.UpdatedAt = now
}

// ResetForRetry returns a failed item to pending for a job retry
func (i *Item) ResetForRetry() {
	i.Status = ItemStatusPending
	i.LastError = ""
	i.ProcessedAt = nil
	i.UpdatedAt = time.Now()
}

// ---------------------------------------------------------------------------
// Repositories
// ---------------------------------------------------------------------------

// ProgressLog is one published progress observation for a job
type ProgressLog struct {
	ID        uuid.UUID
	JobID     uuid.UUID
	Percent   int
	Message   string
	CreatedAt time.Time
}

// JobRepository defines persistence for batch jobs
type JobRepository interface {
	// Save creates or updates a job
	Save(ctx context.Context, job *Job) error

	// FindByID finds a job by ID
	FindByID(ctx context.Context, id uuid.UUID) (*Job, error)

	// FindPending returns runnable jobs by priority then age
	FindPending(ctx context.Context, limit int) ([]Job, error)

	// FindDueScheduled returns scheduled jobs whose time has come
	FindDueScheduled(ctx context.Context, before time.Time, limit int) ([]Job, error)

	// FindRetryable returns failed jobs with retry budget whose next retry
	// has elapsed, ordered by priority then age
	FindRetryable(ctx context.Context, before time.Time, limit int) ([]Job, error)

	// DeleteFinishedOlderThan prunes terminal jobs past retention
	DeleteFinishedOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// ItemRepository defines persistence for batch items
type ItemRepository interface {
	// SaveBatch persists a set of items
	SaveBatch(ctx context.Context, items []*Item) error

	// Update updates one item
	Update(ctx context.Context, item *Item) error

	// FindPendingByJob returns pending items in processing order
	FindPendingByJob(ctx context.Context, jobID uuid.UUID, limit int) ([]Item, error)

	// ResetFailedByJob returns failed items of a job to pending
	ResetFailedByJob(ctx context.Context, jobID uuid.UUID) (int64, error)

	// CountByJob returns total/processed/failed counters for a job
	CountByJob(ctx context.Context, jobID uuid.UUID) (total, completed, failed int64, err error)
}

// ProgressLogRepository persists published progress observations
type ProgressLogRepository interface {
	// Append records one progress observation
	Append(ctx context.Context, log *ProgressLog) error

	// DeleteOlderThan prunes logs past retention
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}
