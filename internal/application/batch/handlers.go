package batch

import (
	"context"
	"fmt"
	"time"

	appsync "github.com/erp/sync-engine/internal/application/sync"
	appwebhook "github.com/erp/sync-engine/internal/application/webhook"
	"github.com/erp/sync-engine/internal/domain/batch"
	"github.com/erp/sync-engine/internal/domain/sync"
	"github.com/mitchellh/mapstructure"
)

// ---------------------------------------------------------------------------
// Full sync handler
// ---------------------------------------------------------------------------

// FullSyncPayload configures a queued full sync job
type FullSyncPayload struct {
	Direction   string   `mapstructure:"direction"`
	EntityTypes []string `mapstructure:"entity_types"`
	Force       bool     `mapstructure:"force"`
	BatchSize   int      `mapstructure:"batch_size"`
}

// FullSyncHandler runs bulk syncs through the engine, one item per entity
// type so a retry only re-syncs the types that failed
type FullSyncHandler struct {
	engine *appsync.Engine
}

// NewFullSyncHandler creates a full sync job handler
func NewFullSyncHandler(engine *appsync.Engine) *FullSyncHandler {
	return &FullSyncHandler{engine: engine}
}

// Plan expands the job into one item per requested entity type
func (h *FullSyncHandler) Plan(_ context.Context, job *batch.Job) ([]*batch.Item, error) {
	payload, err := decodeFullSyncPayload(job.Payload)
	if err != nil {
		return nil, err
	}

	types := payload.EntityTypes
	if len(types) == 0 {
		for _, t := range sync.AllEntityTypes() {
			types = append(types, t.String())
		}
	}

	items := make([]*batch.Item, 0, len(types))
	for i, t := range types {
		if !sync.EntityType(t).IsValid() {
			return nil, fmt.Errorf("%w: %s", sync.ErrUnknownEntityType, t)
		}
		items = append(items, batch.NewItem(job.ID, job.Type, i, map[string]any{
			"entity_type": t,
			"direction":   payload.Direction,
			"force":       payload.Force,
			"batch_size":  payload.BatchSize,
		}))
	}
	return items, nil
}

// Process runs one entity-type sync session synchronously
func (h *FullSyncHandler) Process(ctx context.Context, _ *batch.Job, item *batch.Item) error {
	var payload FullSyncPayload
	entityType, _ := item.Payload["entity_type"].(string)
	if err := mapstructure.Decode(item.Payload, &payload); err != nil {
		return err
	}

	opts := sync.Options{
		Direction:   sync.SyncDirection(payload.Direction),
		EntityTypes: []sync.EntityType{sync.EntityType(entityType)},
		Force:       payload.Force,
		BatchSize:   payload.BatchSize,
	}
	session, err := h.engine.RunSync(ctx, opts)
	if err != nil {
		return err
	}
	if session.Status == sync.SessionStatusFailed {
		return fmt.Errorf("sync session %s failed: %s", session.SyncID, session.ErrorDetails)
	}
	return nil
}

func decodeFullSyncPayload(raw map[string]any) (*FullSyncPayload, error) {
	var payload FullSyncPayload
	if err := mapstructure.Decode(raw, &payload); err != nil {
		return nil, fmt.Errorf("batch: invalid full sync payload: %w", err)
	}
	return &payload, nil
}

// ---------------------------------------------------------------------------
// Webhook replay handler
// ---------------------------------------------------------------------------

// WebhookReplayPayload configures a queued webhook replay job
type WebhookReplayPayload struct {
	Limit int `mapstructure:"limit"`
}

// WebhookReplayHandler requeues terminally failed webhook events
type WebhookReplayHandler struct {
	webhookSvc *appwebhook.Service
}

// NewWebhookReplayHandler creates a webhook replay job handler
func NewWebhookReplayHandler(webhookSvc *appwebhook.Service) *WebhookReplayHandler {
	return &WebhookReplayHandler{webhookSvc: webhookSvc}
}

// Plan produces a single item; replay is not decomposable
func (h *WebhookReplayHandler) Plan(_ context.Context, job *batch.Job) ([]*batch.Item, error) {
	return []*batch.Item{batch.NewItem(job.ID, job.Type, 0, job.Payload)}, nil
}

// Process requeues failed events up to the payload limit
func (h *WebhookReplayHandler) Process(ctx context.Context, _ *batch.Job, item *batch.Item) error {
	var payload WebhookReplayPayload
	if err := mapstructure.Decode(item.Payload, &payload); err != nil {
		return fmt.Errorf("batch: invalid replay payload: %w", err)
	}
	_, err := h.webhookSvc.ReplayFailed(ctx, payload.Limit)
	return err
}

// ---------------------------------------------------------------------------
// Cleanup handler
// ---------------------------------------------------------------------------

// CleanupConfig holds the retention windows applied by cleanup jobs
type CleanupConfig struct {
	JobRetention      time.Duration
	EventRetention    time.Duration
	ProgressRetention time.Duration
}

func (c *CleanupConfig) applyDefaults() {
	if c.JobRetention <= 0 {
		c.JobRetention = 7 * 24 * time.Hour
	}
	if c.EventRetention <= 0 {
		c.EventRetention = 7 * 24 * time.Hour
	}
	if c.ProgressRetention <= 0 {
		c.ProgressRetention = 24 * time.Hour
	}
}

// CleanupHandler prunes terminal jobs, processed webhook events and stale
// progress logs, one item per target
type CleanupHandler struct {
	jobRepo      batch.JobRepository
	progressRepo batch.ProgressLogRepository
	webhookSvc   *appwebhook.Service
	config       CleanupConfig
}

// NewCleanupHandler creates a cleanup job handler
func NewCleanupHandler(
	jobRepo batch.JobRepository,
	progressRepo batch.ProgressLogRepository,
	webhookSvc *appwebhook.Service,
	cfg CleanupConfig,
) *CleanupHandler {
	cfg.applyDefaults()
	return &CleanupHandler{
		jobRepo:      jobRepo,
		progressRepo: progressRepo,
		webhookSvc:   webhookSvc,
		config:       cfg,
	}
}

// Plan expands the job into one item per cleanup target
func (h *CleanupHandler) Plan(_ context.Context, job *batch.Job) ([]*batch.Item, error) {
	targets := []string{"jobs", "webhook_events", "progress_logs"}
	items := make([]*batch.Item, 0, len(targets))
	for i, target := range targets {
		items = append(items, batch.NewItem(job.ID, job.Type, i, map[string]any{"target": target}))
	}
	return items, nil
}

// Process prunes one target
func (h *CleanupHandler) Process(ctx context.Context, _ *batch.Job, item *batch.Item) error {
	target, _ := item.Payload["target"].(string)
	now := time.Now()
	switch target {
	case "jobs":
		_, err := h.jobRepo.DeleteFinishedOlderThan(ctx, now.Add(-h.config.JobRetention))
		return err
	case "webhook_events":
		_, err := h.webhookSvc.Cleanup(ctx, h.config.EventRetention)
		return err
	case "progress_logs":
		_, err := h.progressRepo.DeleteOlderThan(ctx, now.Add(-h.config.ProgressRetention))
		return err
	default:
		return fmt.Errorf("batch: unknown cleanup target %q", target)
	}
}

// Compile-time handler checks
var (
	_ JobHandler = (*FullSyncHandler)(nil)
	_ JobHandler = (*WebhookReplayHandler)(nil)
	_ JobHandler = (*CleanupHandler)(nil)
)
