package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	appsync "github.com/erp/sync-engine/internal/application/sync"
	"github.com/erp/sync-engine/internal/domain/sync"
	"github.com/erp/sync-engine/internal/domain/webhook"
	"github.com/erp/sync-engine/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrUnknownEventType is returned for deliveries whose type does not map to
// a synchronizable entity
var ErrUnknownEventType = errors.New("webhook: unknown event type")

// Config holds webhook processing tuning
type Config struct {
	// Secret is the HMAC-SHA256 signing secret; empty disables verification
	Secret string
	// RetryBaseBackoff is the base delay of the 1x/2x/4x retry schedule
	RetryBaseBackoff time.Duration
	// DedupTTL bounds how long the fast-path dedup remembers a key
	DedupTTL time.Duration
	// DrainInterval is how often pending events are drained
	DrainInterval time.Duration
	// DrainBatchSize caps events per drain pass
	DrainBatchSize int
}

func (c *Config) applyDefaults() {
	if c.RetryBaseBackoff <= 0 {
		c.RetryBaseBackoff = 5 * time.Second
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = 24 * time.Hour
	}
	if c.DrainInterval <= 0 {
		c.DrainInterval = 5 * time.Second
	}
	if c.DrainBatchSize <= 0 {
		c.DrainBatchSize = 50
	}
}

// IngestInput carries one inbound delivery
type IngestInput struct {
	EventType  string
	ResourceID int64
	Payload    []byte
	Signature  string
	SourceIP   string
}

// IngestResult reports how a delivery was accepted
type IngestResult struct {
	Event *webhook.Event
	// Duplicate is true when the delivery was already recorded; the caller
	// still acknowledges it so the platform stops redelivering
	Duplicate bool
}

// Service ingests platform webhook deliveries and applies them through the
// sync engine. Ingestion only records the event; a background drain loop
// applies pending events so slow platform fetches never block the HTTP path.
type Service struct {
	eventRepo   webhook.EventRepository
	rateLimiter webhook.RateLimiter
	dedup       webhook.DedupStore
	engine      *appsync.Engine
	metrics     *telemetry.SyncMetrics
	logger      *zap.Logger
	config      Config

	stop chan struct{}
	done chan struct{}
}

// NewService creates a webhook service
func NewService(
	eventRepo webhook.EventRepository,
	rateLimiter webhook.RateLimiter,
	dedup webhook.DedupStore,
	engine *appsync.Engine,
	cfg Config,
	logger *zap.Logger,
) *Service {
	cfg.applyDefaults()
	return &Service{
		eventRepo:   eventRepo,
		rateLimiter: rateLimiter,
		dedup:       dedup,
		engine:      engine,
		config:      cfg,
		logger:      logger.Named("webhook"),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// SetMetrics wires delivery outcome metrics
func (s *Service) SetMetrics(metrics *telemetry.SyncMetrics) {
	s.metrics = metrics
}

// recordMetric records one delivery outcome when metrics are wired
func (s *Service) recordMetric(ctx context.Context, eventType, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordWebhookEvent(ctx, eventType, outcome)
}

// Ingest validates and records one delivery. Duplicates are acknowledged,
// not re-queued; the platform retries deliveries aggressively.
func (s *Service) Ingest(ctx context.Context, input IngestInput) (*IngestResult, error) {
	allowed, err := s.rateLimiter.Allow(ctx, input.SourceIP)
	if err != nil {
		// A broken limiter must not drop legitimate traffic
		s.logger.Warn("rate limiter unavailable, admitting delivery", zap.Error(err))
	} else if !allowed {
		return nil, webhook.ErrRateLimited
	}

	if err := s.verifySignature(input.Payload, input.Signature); err != nil {
		return nil, err
	}
	if _, _, err := splitEventType(input.EventType); err != nil {
		return nil, err
	}

	event, err := webhook.NewEvent(input.EventType, input.ResourceID, input.Payload, input.Signature, input.SourceIP)
	if err != nil {
		return nil, err
	}

	fresh, err := s.dedup.MarkSeen(ctx, event.IdempotencyKey, s.config.DedupTTL)
	if err != nil {
		s.logger.Warn("dedup store unavailable, relying on unique index", zap.Error(err))
	} else if !fresh {
		s.recordMetric(ctx, input.EventType, "duplicate")
		return &IngestResult{Duplicate: true}, nil
	}

	if err := s.eventRepo.Insert(ctx, event); err != nil {
		if errors.Is(err, webhook.ErrDuplicateEvent) {
			s.recordMetric(ctx, input.EventType, "duplicate")
			return &IngestResult{Duplicate: true}, nil
		}
		return nil, err
	}
	s.recordMetric(ctx, input.EventType, "accepted")

	s.logger.Info("webhook event accepted",
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", event.EventType),
		zap.Int64("resource_id", event.ResourceID),
	)
	return &IngestResult{Event: event}, nil
}

// Start launches the background drain loop
func (s *Service) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.config.DrainInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				if _, err := s.DrainOnce(context.Background()); err != nil {
					s.logger.Warn("webhook drain pass failed", zap.Error(err))
				}
			}
		}
	}()
}

// Stop shuts down the drain loop and waits for the running pass
func (s *Service) Stop() {
	close(s.stop)
	<-s.done
}

// DrainOnce applies one batch of due events, returning how many were
// successfully processed
func (s *Service) DrainOnce(ctx context.Context) (int, error) {
	events, err := s.eventRepo.FindDue(ctx, time.Now(), s.config.DrainBatchSize)
	if err != nil {
		return 0, err
	}

	processed := 0
	for i := range events {
		if s.processEvent(ctx, &events[i]) {
			processed++
		}
	}
	return processed, nil
}

// processEvent applies one event and advances its lifecycle. Returns true
// when the event reached the processed state.
func (s *Service) processEvent(ctx context.Context, event *webhook.Event) bool {
	applyErr := s.apply(ctx, event)
	if applyErr == nil {
		if err := event.MarkProcessed(); err != nil {
			s.logger.Warn("event state advance refused", zap.Error(err))
			return false
		}
		if err := s.eventRepo.Update(ctx, event); err != nil {
			s.logger.Error("failed to persist processed event", zap.Error(err))
			return false
		}
		s.recordMetric(ctx, event.EventType, "processed")
		return true
	}

	markErr := event.MarkFailed(applyErr.Error(), s.config.RetryBaseBackoff)
	if err := s.eventRepo.Update(ctx, event); err != nil {
		s.logger.Error("failed to persist event failure", zap.Error(err))
		return false
	}
	if errors.Is(markErr, webhook.ErrRetriesExceeded) {
		s.recordMetric(ctx, event.EventType, "exhausted")
		s.logger.Warn("webhook event exhausted retries",
			zap.String("event_id", event.ID.String()),
			zap.String("event_type", event.EventType),
			zap.String("last_error", event.LastError),
		)
	} else {
		s.logger.Info("webhook event retry scheduled",
			zap.String("event_id", event.ID.String()),
			zap.Int("retry_count", event.RetryCount),
			zap.Error(applyErr),
		)
	}
	return false
}

// apply reconciles the event's resource through the engine. The payload is
// only a hint; the current remote representation is fetched fresh.
func (s *Service) apply(ctx context.Context, event *webhook.Event) error {
	entityType, action, err := splitEventType(event.EventType)
	if err != nil {
		return err
	}

	if action == "deleted" {
		return s.engine.HandleRemoteDeletion(ctx, entityType, event.ResourceID)
	}

	_, err = s.engine.FetchAndReconcile(ctx, entityType, event.ResourceID)
	if errors.Is(err, sync.ErrLocalRecordNotFound) {
		return nil
	}
	return err
}

// Replay requeues a terminally failed event for another processing cycle
func (s *Service) Replay(ctx context.Context, eventID uuid.UUID) (*webhook.Event, error) {
	event, err := s.eventRepo.FindByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := event.Requeue(); err != nil {
		return nil, err
	}
	if err := s.eventRepo.Update(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// ReplayFailed requeues every terminally failed event. Used by the batch
// replay job.
func (s *Service) ReplayFailed(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	// Failed events carry no schedule, so FindDue never returns them; scan
	// by status instead
	events, err := s.eventRepo.FindFailed(ctx, limit)
	if err != nil {
		return 0, err
	}
	requeued := 0
	for i := range events {
		event := &events[i]
		if err := event.Requeue(); err != nil {
			continue
		}
		if err := s.eventRepo.Update(ctx, event); err != nil {
			return requeued, err
		}
		requeued++
	}
	return requeued, nil
}

// Stats returns event counts per lifecycle status
func (s *Service) Stats(ctx context.Context) (map[webhook.EventStatus]int64, error) {
	return s.eventRepo.CountByStatus(ctx)
}

// Cleanup removes processed events older than the retention window
func (s *Service) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	return s.eventRepo.DeleteOlderThan(ctx, time.Now().Add(-retention))
}

// verifySignature checks the HMAC-SHA256 payload signature in constant time
func (s *Service) verifySignature(payload []byte, signature string) error {
	if s.config.Secret == "" {
		return nil
	}
	mac := hmac.New(sha256.New, []byte(s.config.Secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return webhook.ErrBadSignature
	}
	return nil
}

// splitEventType parses "entity.action" delivery types
func splitEventType(eventType string) (sync.EntityType, string, error) {
	entity, action, ok := strings.Cut(eventType, ".")
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}
	t := sync.EntityType(entity)
	if !t.IsValid() {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}
	return t, action, nil
}
