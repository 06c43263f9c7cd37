package batch

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/erp/sync-engine/internal/domain/batch"
	"github.com/erp/sync-engine/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ErrHandlerNotRegistered is returned when a job's type has no handler
var ErrHandlerNotRegistered = errors.New("batch: no handler registered for job type")

// JobHandler implements one job type. Plan expands a job into items once;
// Process applies one item.
type JobHandler interface {
	Plan(ctx context.Context, job *batch.Job) ([]*batch.Item, error)
	Process(ctx context.Context, job *batch.Job, item *batch.Item) error
}

// Config holds scheduler tuning
type Config struct {
	// SweepSchedule is the cron spec for activation/retry/cleanup sweeps
	SweepSchedule string
	// PollInterval is how often the worker claims pending jobs
	PollInterval time.Duration
	// RetryDelay is the wait before a failed job re-enters the queue
	RetryDelay time.Duration
	// RetryBatchLimit caps jobs considered per retry sweep
	RetryBatchLimit int
}

func (c *Config) applyDefaults() {
	if c.SweepSchedule == "" {
		c.SweepSchedule = "@every 30s"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Minute
	}
	if c.RetryBatchLimit <= 0 {
		c.RetryBatchLimit = 10
	}
}

// Scheduler queues batch jobs, runs them through registered handlers and
// sweeps scheduled/retryable jobs back into the queue on a cron cadence.
// Items are the recovery unit: a retry only reprocesses failed items.
type Scheduler struct {
	jobRepo        batch.JobRepository
	itemRepo       batch.ItemRepository
	progressRepo   batch.ProgressLogRepository
	eventPublisher shared.EventPublisher
	logger         *zap.Logger
	config         Config

	cron *cron.Cron
	stop chan struct{}
	done chan struct{}

	mu       gosync.Mutex
	handlers map[batch.JobType]JobHandler
}

// NewScheduler creates a batch scheduler
func NewScheduler(
	jobRepo batch.JobRepository,
	itemRepo batch.ItemRepository,
	progressRepo batch.ProgressLogRepository,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		jobRepo:      jobRepo,
		itemRepo:     itemRepo,
		progressRepo: progressRepo,
		config:       cfg,
		logger:       logger.Named("batch"),
		cron:         cron.New(),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		handlers:     make(map[batch.JobType]JobHandler),
	}
}

// SetEventPublisher sets the event publisher for publishing domain events
func (s *Scheduler) SetEventPublisher(publisher shared.EventPublisher) {
	s.eventPublisher = publisher
}

// RegisterHandler installs the handler for a job type
func (s *Scheduler) RegisterHandler(jobType batch.JobType, handler JobHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[jobType] = handler
}

// Queue persists a new job. Scheduled jobs wait for a sweep; pending jobs
// are picked up by the next worker poll.
func (s *Scheduler) Queue(ctx context.Context, jobType batch.JobType, payload map[string]any, opts batch.JobOptions) (*batch.Job, error) {
	if _, err := s.handlerFor(jobType); err != nil {
		return nil, err
	}
	job, err := batch.NewJob(jobType, payload, opts)
	if err != nil {
		return nil, err
	}
	if err := s.jobRepo.Save(ctx, job); err != nil {
		return nil, err
	}
	s.publish(ctx, batch.NewJobQueuedEvent(job))

	s.logger.Info("batch job queued",
		zap.String("job_id", job.ID.String()),
		zap.String("job_type", string(job.Type)),
		zap.String("status", string(job.Status)),
	)
	return job, nil
}

// GetJob loads a job by ID
func (s *Scheduler) GetJob(ctx context.Context, id uuid.UUID) (*batch.Job, error) {
	return s.jobRepo.FindByID(ctx, id)
}

// Start launches the worker loop and the sweep cron
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.config.SweepSchedule, func() {
		if err := s.Sweep(context.Background()); err != nil {
			s.logger.Warn("sweep pass failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("batch: invalid sweep schedule %q: %w", s.config.SweepSchedule, err)
	}
	s.cron.Start()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.config.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				if err := s.RunPending(context.Background()); err != nil {
					s.logger.Warn("worker pass failed", zap.Error(err))
				}
			}
		}
	}()
	return nil
}

// Stop shuts down the cron and the worker loop
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	close(s.stop)
	<-s.done
	<-ctx.Done()
}

// RunPending claims and runs pending jobs, highest priority first
func (s *Scheduler) RunPending(ctx context.Context) error {
	jobs, err := s.jobRepo.FindPending(ctx, s.config.RetryBatchLimit)
	if err != nil {
		return err
	}
	var errs *multierror.Error
	for i := range jobs {
		if err := s.runJob(ctx, &jobs[i]); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// runJob drives one job from start to a terminal state
func (s *Scheduler) runJob(ctx context.Context, job *batch.Job) error {
	handler, err := s.handlerFor(job.Type)
	if err != nil {
		_ = job.Fail(err.Error())
		_ = s.jobRepo.Save(ctx, job)
		return err
	}

	if err := job.Start(); err != nil {
		return err
	}
	if err := s.jobRepo.Save(ctx, job); err != nil {
		return err
	}
	s.publish(ctx, batch.NewJobStartedEvent(job))

	// Plan only on the first run; retries resume from surviving items
	if job.TotalItems == 0 {
		items, err := handler.Plan(ctx, job)
		if err != nil {
			return s.finishFailed(ctx, job, err)
		}
		if err := s.itemRepo.SaveBatch(ctx, items); err != nil {
			return s.finishFailed(ctx, job, err)
		}
		job.TotalItems = len(items)
		if err := s.jobRepo.Save(ctx, job); err != nil {
			return err
		}
	}

	for {
		items, err := s.itemRepo.FindPendingByJob(ctx, job.ID, job.BatchSize)
		if err != nil {
			return s.finishFailed(ctx, job, err)
		}
		if len(items) == 0 {
			break
		}

		processed, failed := 0, 0
		for i := range items {
			item := &items[i]
			if itemErr := handler.Process(ctx, job, item); itemErr != nil {
				item.MarkFailed(itemErr.Error())
				failed++
			} else {
				item.MarkCompleted()
				processed++
			}
			if err := s.itemRepo.Update(ctx, item); err != nil {
				return s.finishFailed(ctx, job, err)
			}
		}

		job.RecordProgress(processed, failed)
		if err := s.jobRepo.Save(ctx, job); err != nil {
			return err
		}
		s.reportProgress(ctx, job, fmt.Sprintf("processed %d/%d items", job.ProcessedItems+job.FailedItems, job.TotalItems))
	}

	if job.FailedItems > 0 {
		return s.finishFailed(ctx, job, fmt.Errorf("batch: %d of %d items failed", job.FailedItems, job.TotalItems))
	}
	if err := job.Complete(); err != nil {
		return err
	}
	if err := s.jobRepo.Save(ctx, job); err != nil {
		return err
	}
	s.publish(ctx, batch.NewJobCompletedEvent(job))

	s.logger.Info("batch job completed",
		zap.String("job_id", job.ID.String()),
		zap.String("job_type", string(job.Type)),
		zap.Int("total_items", job.TotalItems),
	)
	return nil
}

// Sweep activates due scheduled jobs and requeues retryable failed ones
func (s *Scheduler) Sweep(ctx context.Context) error {
	var errs *multierror.Error
	now := time.Now()

	due, err := s.jobRepo.FindDueScheduled(ctx, now, s.config.RetryBatchLimit)
	if err != nil {
		errs = multierror.Append(errs, err)
	}
	for i := range due {
		job := &due[i]
		if err := job.Activate(); err != nil {
			continue
		}
		if err := s.jobRepo.Save(ctx, job); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	retryable, err := s.jobRepo.FindRetryable(ctx, now, s.config.RetryBatchLimit)
	if err != nil {
		errs = multierror.Append(errs, err)
	}
	for i := range retryable {
		job := &retryable[i]
		if err := s.requeueForRetry(ctx, job); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// requeueForRetry returns a failed job to pending and resets its failed
// items so only they are reprocessed
func (s *Scheduler) requeueForRetry(ctx context.Context, job *batch.Job) error {
	if err := job.ScheduleRetry(s.config.RetryDelay); err != nil {
		return err
	}
	reset, err := s.itemRepo.ResetFailedByJob(ctx, job.ID)
	if err != nil {
		return err
	}
	job.FailedItems -= int(reset)
	if job.FailedItems < 0 {
		job.FailedItems = 0
	}
	if err := s.jobRepo.Save(ctx, job); err != nil {
		return err
	}

	s.logger.Info("batch job requeued for retry",
		zap.String("job_id", job.ID.String()),
		zap.Int("retry_count", job.RetryCount),
		zap.Int64("items_reset", reset),
	)
	return nil
}

// finishFailed records a terminal or retryable failure
func (s *Scheduler) finishFailed(ctx context.Context, job *batch.Job, cause error) error {
	if err := job.Fail(cause.Error()); err != nil {
		return err
	}
	if err := s.jobRepo.Save(ctx, job); err != nil {
		return err
	}
	s.publish(ctx, batch.NewJobFailedEvent(job))

	s.logger.Warn("batch job failed",
		zap.String("job_id", job.ID.String()),
		zap.String("job_type", string(job.Type)),
		zap.Bool("retryable", job.CanRetry()),
		zap.Error(cause),
	)
	return cause
}

// reportProgress persists and publishes one progress observation
func (s *Scheduler) reportProgress(ctx context.Context, job *batch.Job, message string) {
	evt := batch.NewJobProgressEvent(job, message)
	if err := s.progressRepo.Append(ctx, &batch.ProgressLog{
		ID:        evt.EventID(),
		JobID:     job.ID,
		Percent:   job.ProgressPercent(),
		Message:   message,
		CreatedAt: time.Now(),
	}); err != nil {
		s.logger.Warn("failed to append progress log", zap.Error(err))
	}
	s.publish(ctx, evt)
}

func (s *Scheduler) handlerFor(jobType batch.JobType) (JobHandler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	handler, ok := s.handlers[jobType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotRegistered, jobType)
	}
	return handler, nil
}

func (s *Scheduler) publish(ctx context.Context, events ...shared.DomainEvent) {
	if s.eventPublisher == nil {
		return
	}
	if err := s.eventPublisher.Publish(ctx, events...); err != nil {
		s.logger.Warn("failed to publish batch events", zap.Error(err))
	}
}
