package recovery

import (
	"context"
	"errors"
	gosync "sync"
	"time"

	"github.com/erp/sync-engine/internal/domain/recovery"
	"github.com/erp/sync-engine/internal/domain/shared"
	"go.uber.org/zap"
)

// BreakerConfig holds circuit breaker tuning
type BreakerConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// BreakerService wraps outbound calls in per-key circuit breakers. State is
// cached in memory for the hot path and persisted on every transition so a
// restart resumes where the last instance left off.
type BreakerService struct {
	repo           recovery.CircuitBreakerRepository
	eventPublisher shared.EventPublisher
	logger         *zap.Logger
	config         BreakerConfig

	mu     gosync.Mutex
	states map[string]*recovery.CircuitBreakerState
}

// NewBreakerService creates a breaker service
func NewBreakerService(repo recovery.CircuitBreakerRepository, cfg BreakerConfig, logger *zap.Logger) *BreakerService {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	return &BreakerService{
		repo:   repo,
		config: cfg,
		logger: logger.Named("breaker"),
		states: make(map[string]*recovery.CircuitBreakerState),
	}
}

// SetEventPublisher sets the event publisher for publishing domain events
func (s *BreakerService) SetEventPublisher(publisher shared.EventPublisher) {
	s.eventPublisher = publisher
}

// Execute runs fn under the breaker for (serviceName, operationName).
// Open breakers short-circuit with ErrCircuitOpen without invoking fn.
func (s *BreakerService) Execute(ctx context.Context, serviceName, operationName string, fn func(context.Context) error) error {
	s.mu.Lock()
	state, err := s.load(ctx, serviceName, operationName)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	now := time.Now()
	before := state.State
	if !state.Allow(now) {
		s.afterTransition(ctx, state, before)
		s.mu.Unlock()
		return recovery.ErrCircuitOpen
	}
	// Allow may have moved open to half-open
	s.afterTransition(ctx, state, before)
	s.mu.Unlock()

	err = fn(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	before = state.State
	if err != nil {
		state.RecordFailure(time.Now())
	} else {
		state.RecordSuccess(time.Now())
	}
	s.afterTransition(ctx, state, before)
	return err
}

// OpenBreakers returns all currently open breakers
func (s *BreakerService) OpenBreakers(ctx context.Context) ([]recovery.CircuitBreakerState, error) {
	return s.repo.FindOpen(ctx)
}

// load returns the cached state for a key, falling back to the repository
// and finally to a fresh closed breaker. Callers hold the mutex.
func (s *BreakerService) load(ctx context.Context, serviceName, operationName string) (*recovery.CircuitBreakerState, error) {
	key := serviceName + "/" + operationName
	if state, ok := s.states[key]; ok {
		return state, nil
	}

	state, err := s.repo.Find(ctx, serviceName, operationName)
	if err != nil {
		if !errors.Is(err, recovery.ErrBreakerNotFound) {
			return nil, err
		}
		state = recovery.NewCircuitBreakerState(serviceName, operationName,
			s.config.FailureThreshold, s.config.Cooldown)
	}
	s.states[key] = state
	return state, nil
}

// afterTransition persists the state and publishes a transition event when
// the position changed. Callers hold the mutex.
func (s *BreakerService) afterTransition(ctx context.Context, state *recovery.CircuitBreakerState, before recovery.BreakerState) {
	if err := s.repo.Save(ctx, state); err != nil {
		s.logger.Warn("failed to persist breaker state",
			zap.String("operation", state.OperationName),
			zap.Error(err),
		)
	}
	if state.State == before {
		return
	}

	s.logger.Info("circuit breaker transitioned",
		zap.String("service", state.ServiceName),
		zap.String("operation", state.OperationName),
		zap.String("from", before.String()),
		zap.String("to", state.State.String()),
	)
	if s.eventPublisher != nil {
		evt := recovery.NewBreakerStateChangedEvent(state, before)
		if err := s.eventPublisher.Publish(ctx, evt); err != nil {
			s.logger.Warn("failed to publish breaker event", zap.Error(err))
		}
	}
}
