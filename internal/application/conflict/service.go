package conflict

import (
	"context"
	"errors"

	"github.com/erp/sync-engine/internal/domain/shared"
	"github.com/erp/sync-engine/internal/domain/sync"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInvalidWinner is returned when a manual resolution names neither side
// nor a custom value
var ErrInvalidWinner = errors.New("conflict: winner must be local, remote or a custom value")

// Winner identifies which side a manual resolution takes
type Winner string

const (
	WinnerLocal  Winner = "local"
	WinnerRemote Winner = "remote"
	WinnerCustom Winner = "custom"
)

// ManualResolutionInput carries an operator's decision for one conflict
type ManualResolutionInput struct {
	ConflictID uuid.UUID
	Winner     Winner
	// CustomValue is used when Winner is custom
	CustomValue any
}

// Service exposes the operator-facing conflict workflow: listing pending
// conflicts and applying manual decisions to both sides.
type Service struct {
	conflictRepo   sync.ConflictRepository
	mappingRepo    sync.EntityMappingRepository
	localStore     sync.LocalStore
	platform       sync.RemotePlatform
	schemas        *sync.SchemaRegistry
	eventPublisher shared.EventPublisher
	logger         *zap.Logger
}

// NewService creates a conflict resolution service
func NewService(
	conflictRepo sync.ConflictRepository,
	mappingRepo sync.EntityMappingRepository,
	localStore sync.LocalStore,
	platform sync.RemotePlatform,
	schemas *sync.SchemaRegistry,
	logger *zap.Logger,
) *Service {
	return &Service{
		conflictRepo: conflictRepo,
		mappingRepo:  mappingRepo,
		localStore:   localStore,
		platform:     platform,
		schemas:      schemas,
		logger:       logger.Named("conflict"),
	}
}

// SetEventPublisher sets the event publisher for publishing domain events
func (s *Service) SetEventPublisher(publisher shared.EventPublisher) {
	s.eventPublisher = publisher
}

// GetPendingConflicts returns conflicts awaiting operator review, oldest first
func (s *Service) GetPendingConflicts(ctx context.Context, limit int) ([]sync.Conflict, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.conflictRepo.FindPending(ctx, limit)
}

// GetConflictsBySession returns every conflict recorded during one session
func (s *Service) GetConflictsBySession(ctx context.Context, syncID uuid.UUID) ([]sync.Conflict, error) {
	return s.conflictRepo.FindBySync(ctx, syncID)
}

// ResolveManually applies an operator decision: the winning value is written
// to the local record and, when a mapping exists, pushed to the platform.
func (s *Service) ResolveManually(ctx context.Context, input ManualResolutionInput) (*sync.Conflict, error) {
	c, err := s.conflictRepo.FindByID(ctx, input.ConflictID)
	if err != nil {
		return nil, err
	}

	var value any
	switch input.Winner {
	case WinnerLocal:
		value = c.LocalValue
	case WinnerRemote:
		value = c.RemoteValue
	case WinnerCustom:
		value = input.CustomValue
	default:
		return nil, ErrInvalidWinner
	}

	if err := c.MarkResolved(value, sync.StrategyManual, false); err != nil {
		return nil, err
	}

	// Apply to the local record first; the platform push is best-effort and
	// the next sync pass repairs a miss
	if _, err := s.localStore.Upsert(ctx, c.EntityType, c.EntityID, sync.Snapshot{
		c.FieldName: value,
	}); err != nil {
		return nil, err
	}

	if err := s.pushToRemote(ctx, c, value); err != nil {
		s.logger.Warn("manual resolution not pushed to platform",
			zap.String("conflict_id", c.ID.String()),
			zap.Error(err),
		)
	}

	if err := s.conflictRepo.Save(ctx, c); err != nil {
		return nil, err
	}

	if s.eventPublisher != nil {
		if err := s.eventPublisher.Publish(ctx, sync.NewConflictResolvedEvent(c)); err != nil {
			s.logger.Warn("failed to publish conflict resolved event", zap.Error(err))
		}
	}

	s.logger.Info("conflict resolved manually",
		zap.String("conflict_id", c.ID.String()),
		zap.String("entity_type", c.EntityType.String()),
		zap.String("field", c.FieldName),
		zap.String("winner", string(input.Winner)),
	)
	return c, nil
}

// pushToRemote writes the winning value to the platform using the remote
// field name from the schema
func (s *Service) pushToRemote(ctx context.Context, c *sync.Conflict, value any) error {
	mapping, err := s.mappingRepo.FindByLocal(ctx, c.EntityType, c.EntityID)
	if err != nil {
		if errors.Is(err, sync.ErrMappingNotFound) {
			return nil
		}
		return err
	}
	if !mapping.SyncDirection.AllowsPush() {
		return nil
	}

	schema, err := s.schemas.Get(c.EntityType)
	if err != nil {
		return err
	}
	remoteFields := schema.ToRemote(sync.Snapshot{c.FieldName: value})
	if len(remoteFields) == 0 {
		return nil
	}
	return s.platform.Update(ctx, c.EntityType, mapping.RemoteID, remoteFields)
}
