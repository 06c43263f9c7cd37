package conflict

import (
	"context"
	"sort"
	"time"

	"github.com/erp/sync-engine/internal/domain/shared"
	"github.com/erp/sync-engine/internal/domain/sync"
	"go.uber.org/zap"
)

// Resolution is the outcome of resolving one conflict
type Resolution struct {
	Value    any
	Strategy sync.ResolutionStrategy
	// Manual is true when the conflict needs operator review; Value then
	// holds the provisional (remote) value and the conflict stays pending
	Manual bool
}

// DefaultSourcePriority is the fixed source-of-truth table used by the
// priority strategy: the internal system owns the catalog, the platform owns
// customers and orders.
var DefaultSourcePriority = map[sync.EntityType]sync.ResolutionStrategy{
	sync.EntityTypeProduct:  sync.StrategyLocalWins,
	sync.EntityTypeCustomer: sync.StrategyRemoteWins,
	sync.EntityTypeOrder:    sync.StrategyRemoteWins,
}

// DefaultFieldPriorities is the built-in per-field strategy table consulted
// after custom rules
var DefaultFieldPriorities = sync.FieldPriorityTable{
	sync.EntityTypeProduct: {
		"price":          sync.StrategyLocalWins,
		"stock_quantity": sync.StrategyLocalWins,
		"description":    sync.StrategyMerge,
	},
	sync.EntityTypeCustomer: {
		"tags":    sync.StrategyMerge,
		"address": sync.StrategyMerge,
	},
	sync.EntityTypeOrder: {
		"status": sync.StrategyRemoteWins,
		"total":  sync.StrategyManual,
	},
}

// Resolver selects and applies resolution strategies. Selection order:
// explicit override, custom rules by descending priority, the field priority
// table, then the timestamp default.
type Resolver struct {
	conflictRepo    sync.ConflictRepository
	rules           []sync.ResolutionRule
	fieldPriorities sync.FieldPriorityTable
	sourcePriority  map[sync.EntityType]sync.ResolutionStrategy
	eventPublisher  shared.EventPublisher
	logger          *zap.Logger
}

// NewResolver creates a resolver with the built-in tables
func NewResolver(conflictRepo sync.ConflictRepository, logger *zap.Logger) *Resolver {
	return &Resolver{
		conflictRepo:    conflictRepo,
		fieldPriorities: DefaultFieldPriorities,
		sourcePriority:  DefaultSourcePriority,
		logger:          logger.Named("conflict"),
	}
}

// SetRules installs the custom rule table, kept sorted by descending priority
func (r *Resolver) SetRules(rules []sync.ResolutionRule) {
	sorted := make([]sync.ResolutionRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	r.rules = sorted
}

// SetEventPublisher sets the event publisher for publishing domain events
func (r *Resolver) SetEventPublisher(publisher shared.EventPublisher) {
	r.eventPublisher = publisher
}

// SelectStrategy picks the strategy for a conflict. An invalid override is
// ignored rather than failing the whole record.
func (r *Resolver) SelectStrategy(c *sync.Conflict, override sync.ResolutionStrategy) sync.ResolutionStrategy {
	if override != "" && override.IsValid() {
		return override
	}
	for _, rule := range r.rules {
		if rule.Matches(c) {
			return rule.Strategy
		}
	}
	if s, ok := r.fieldPriorities.Lookup(c.EntityType, c.FieldName); ok {
		return s
	}
	return sync.StrategyTimestamp
}

// Resolve applies the selected strategy, persists the conflict outcome and
// publishes the matching domain events. Manual conflicts are saved pending
// and reported back for operator review.
func (r *Resolver) Resolve(ctx context.Context, c *sync.Conflict, localTime, remoteTime time.Time, override sync.ResolutionStrategy) (*Resolution, error) {
	strategy := r.SelectStrategy(c, override)

	if strategy == sync.StrategyManual {
		if err := r.conflictRepo.Save(ctx, c); err != nil {
			return nil, err
		}
		r.publish(ctx, sync.NewConflictDetectedEvent(c))
		return &Resolution{Value: c.RemoteValue, Strategy: strategy, Manual: true}, nil
	}

	value := r.apply(strategy, c, localTime, remoteTime)
	if err := c.MarkResolved(value, strategy, true); err != nil {
		return nil, err
	}
	if err := r.conflictRepo.Save(ctx, c); err != nil {
		return nil, err
	}
	r.publish(ctx, sync.NewConflictDetectedEvent(c), sync.NewConflictResolvedEvent(c))

	r.logger.Debug("conflict auto-resolved",
		zap.String("entity_type", c.EntityType.String()),
		zap.String("field", c.FieldName),
		zap.String("strategy", strategy.String()),
	)
	return &Resolution{Value: value, Strategy: strategy}, nil
}

// apply computes the winning value for an automatic strategy
func (r *Resolver) apply(strategy sync.ResolutionStrategy, c *sync.Conflict, localTime, remoteTime time.Time) any {
	switch strategy {
	case sync.StrategyLocalWins:
		return c.LocalValue
	case sync.StrategyRemoteWins:
		return c.RemoteValue
	case sync.StrategyPriority:
		if s, ok := r.sourcePriority[c.EntityType]; ok && s == sync.StrategyLocalWins {
			return c.LocalValue
		}
		return c.RemoteValue
	case sync.StrategyMerge:
		if merged, ok := merge(c.LocalValue, c.RemoteValue); ok {
			return merged
		}
		// All-or-nothing: any unmergeable kind falls back to timestamp
		return r.apply(sync.StrategyTimestamp, c, localTime, remoteTime)
	default: // timestamp
		if localTime.After(remoteTime) {
			return c.LocalValue
		}
		// Remote wins ties and absent timestamps
		return c.RemoteValue
	}
}

// merge unions objects and arrays and keeps the longer string. Returns false
// for kinds that cannot be merged.
func merge(localV, remoteV any) (any, bool) {
	switch lv := localV.(type) {
	case map[string]any:
		rv, ok := remoteV.(map[string]any)
		if !ok {
			return nil, false
		}
		out := make(map[string]any, len(lv)+len(rv))
		for k, v := range lv {
			out[k] = v
		}
		// Remote keys win on overlap
		for k, v := range rv {
			out[k] = v
		}
		return out, true

	case []any:
		rv, ok := remoteV.([]any)
		if !ok {
			return nil, false
		}
		out := make([]any, 0, len(lv)+len(rv))
		seen := make(map[string]bool, len(lv)+len(rv))
		for _, v := range append(append([]any{}, lv...), rv...) {
			key := asString(v)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, v)
		}
		return out, true

	case string:
		rv, ok := remoteV.(string)
		if !ok {
			return nil, false
		}
		if len(lv) >= len(rv) {
			return lv, true
		}
		return rv, true

	default:
		return nil, false
	}
}

func (r *Resolver) publish(ctx context.Context, events ...shared.DomainEvent) {
	if r.eventPublisher == nil {
		return
	}
	if err := r.eventPublisher.Publish(ctx, events...); err != nil {
		r.logger.Warn("failed to publish conflict events", zap.Error(err))
	}
}
