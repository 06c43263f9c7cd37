package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/sync-engine/internal/application/conflict"
	apprecovery "github.com/erp/sync-engine/internal/application/recovery"
	"github.com/erp/sync-engine/internal/domain/shared"
	"github.com/erp/sync-engine/internal/domain/sync"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

const platformService = "platform"

// ReconcileOutcome summarizes applying one remote record locally
type ReconcileOutcome struct {
	LocalID         uuid.UUID
	Created         bool
	Conflicts       int
	ManualConflicts int
}

// Engine drives bi-directional reconciliation between the local system of
// record and the remote platform. Full syncs are serialized through the
// session lock; per-record application is shared with the webhook path.
type Engine struct {
	sessionRepo    sync.SessionRepository
	sessionLock    sync.SessionLock
	mappingRepo    sync.EntityMappingRepository
	localStore     sync.LocalStore
	platform       sync.RemotePlatform
	schemas        *sync.SchemaRegistry
	detector       *conflict.Detector
	resolver       *conflict.Resolver
	breaker        *apprecovery.BreakerService
	recoveryMgr    *apprecovery.Manager
	eventPublisher shared.EventPublisher
	logger         *zap.Logger
	lockScope      string
}

// NewEngine creates a sync engine
func NewEngine(
	sessionRepo sync.SessionRepository,
	sessionLock sync.SessionLock,
	mappingRepo sync.EntityMappingRepository,
	localStore sync.LocalStore,
	remotePlatform sync.RemotePlatform,
	schemas *sync.SchemaRegistry,
	detector *conflict.Detector,
	resolver *conflict.Resolver,
	breaker *apprecovery.BreakerService,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		sessionRepo: sessionRepo,
		sessionLock: sessionLock,
		mappingRepo: mappingRepo,
		localStore:  localStore,
		platform:    remotePlatform,
		schemas:     schemas,
		detector:    detector,
		resolver:    resolver,
		breaker:     breaker,
		logger:      logger.Named("sync"),
		lockScope:   "full_sync",
	}
}

// SetEventPublisher sets the event publisher for publishing domain events
func (e *Engine) SetEventPublisher(publisher shared.EventPublisher) {
	e.eventPublisher = publisher
}

// SetRecoveryManager installs the recovery manager receiving record-level
// failures
func (e *Engine) SetRecoveryManager(mgr *apprecovery.Manager) {
	e.recoveryMgr = mgr
}

// SetLockScope overrides the advisory lock scope name
func (e *Engine) SetLockScope(scope string) {
	e.lockScope = scope
}

// StartFullSync acquires the sync lock, opens a session and runs it in the
// background. Returns ErrSessionLocked while another session holds the lock.
func (e *Engine) StartFullSync(ctx context.Context, opts sync.Options) (*sync.Session, error) {
	if err := opts.Normalize(); err != nil {
		return nil, err
	}

	acquired, err := e.sessionLock.TryAcquire(ctx, e.lockScope)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, sync.ErrSessionLocked
	}

	session := sync.NewSession(sessionTypeFor(opts), opts)
	if err := e.sessionRepo.Save(ctx, session); err != nil {
		_ = e.sessionLock.Release(ctx, e.lockScope)
		return nil, err
	}

	go e.run(context.WithoutCancel(ctx), session)
	return session, nil
}

// RunSync executes a session synchronously. Used by the batch scheduler
// where the caller owns concurrency, and by StartFullSync's background run.
func (e *Engine) RunSync(ctx context.Context, opts sync.Options) (*sync.Session, error) {
	if err := opts.Normalize(); err != nil {
		return nil, err
	}

	acquired, err := e.sessionLock.TryAcquire(ctx, e.lockScope)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, sync.ErrSessionLocked
	}

	session := sync.NewSession(sessionTypeFor(opts), opts)
	if err := e.sessionRepo.Save(ctx, session); err != nil {
		_ = e.sessionLock.Release(ctx, e.lockScope)
		return nil, err
	}

	e.run(ctx, session)
	return e.sessionRepo.FindByID(ctx, session.SyncID)
}

// sessionTypeFor classifies normalized options as a full or entity-scoped run
func sessionTypeFor(opts sync.Options) sync.SessionType {
	if len(opts.EntityTypes) < len(sync.AllEntityTypes()) {
		return sync.SessionTypeEntity
	}
	return sync.SessionTypeFull
}

// GetSession loads a session by sync ID
func (e *Engine) GetSession(ctx context.Context, syncID uuid.UUID) (*sync.Session, error) {
	return e.sessionRepo.FindByID(ctx, syncID)
}

// run executes the session phases and always releases the lock
func (e *Engine) run(ctx context.Context, session *sync.Session) {
	defer func() {
		if err := e.sessionLock.Release(ctx, e.lockScope); err != nil {
			e.logger.Warn("failed to release sync lock", zap.Error(err))
		}
	}()

	e.logger.Info("sync session started",
		zap.String("sync_id", session.SyncID.String()),
		zap.String("direction", session.Options.Direction.String()),
	)

	var runErr *multierror.Error
	for _, entityType := range session.Options.EntityTypes {
		if session.Options.Direction.AllowsPull() {
			if err := e.pullEntity(ctx, session, entityType); err != nil {
				runErr = multierror.Append(runErr, fmt.Errorf("pull %s: %w", entityType, err))
			}
		}
		if session.Options.Direction.AllowsPush() {
			if err := e.pushEntity(ctx, session, entityType); err != nil {
				runErr = multierror.Append(runErr, fmt.Errorf("push %s: %w", entityType, err))
			}
		}
		// Persist progress after each entity type so observers see it
		if err := e.sessionRepo.Save(ctx, session); err != nil {
			e.logger.Warn("failed to persist session progress", zap.Error(err))
		}
	}

	if err := runErr.ErrorOrNil(); err != nil {
		_ = session.Fail(err.Error())
		e.publish(ctx, sync.NewSessionFailedEvent(session))
	} else {
		_ = session.Complete()
		e.publish(ctx, sync.NewSessionCompletedEvent(session))
	}
	if err := e.sessionRepo.Save(ctx, session); err != nil {
		e.logger.Error("failed to persist terminal session", zap.Error(err))
	}

	e.logger.Info("sync session finished",
		zap.String("sync_id", session.SyncID.String()),
		zap.String("status", string(session.Status)),
	)
}

// pullEntity pages through the remote collection and reconciles each record.
// A short page signals the last one.
func (e *Engine) pullEntity(ctx context.Context, session *sync.Session, entityType sync.EntityType) error {
	result := session.Results.Ensure(entityType)
	batchSize := session.Options.BatchSize

	for page := 1; ; page++ {
		var records []sync.RemoteRecord
		err := e.breaker.Execute(ctx, platformService, "list_"+entityType.String(), func(ctx context.Context) error {
			var listErr error
			records, listErr = e.platform.List(ctx, entityType, page, batchSize)
			return listErr
		})
		if err != nil {
			e.reportFailure(ctx, "sync.pull."+entityType.String(), fmt.Sprintf("page:%d", page), err)
			return err
		}

		for i := range records {
			outcome, recErr := e.Reconcile(ctx, session.SyncID, entityType, &records[i], session.Options.Force)
			if recErr != nil {
				result.Errors = append(result.Errors, recErr.Error())
				e.reportFailure(ctx, "sync.pull."+entityType.String(),
					fmt.Sprintf("%d", records[i].ID), recErr)
				continue
			}
			result.Pulled++
			result.Conflicts += outcome.Conflicts
		}

		if len(records) < batchSize {
			return nil
		}
	}
}

// Reconcile applies one remote record locally. Identity resolution order:
// existing mapping by remote ID, natural-key probe, then creation of a new
// local record. Force suppresses conflict handling entirely; the remote
// values overwrite local ones.
func (e *Engine) Reconcile(ctx context.Context, syncID uuid.UUID, entityType sync.EntityType, remote *sync.RemoteRecord, force bool) (*ReconcileOutcome, error) {
	schema, err := e.schemas.Get(entityType)
	if err != nil {
		return nil, err
	}
	remoteLocal := schema.ToLocal(remote.Fields)

	localID, localSnap, created, err := e.resolveIdentity(ctx, schema, entityType, remote, remoteLocal)
	if err != nil {
		return nil, err
	}

	outcome := &ReconcileOutcome{LocalID: localID, Created: created}
	final := remoteLocal

	if !created && !force {
		conflicts, err := e.detector.Detect(syncID, entityType, localID, localSnap, remoteLocal)
		if err != nil {
			return nil, err
		}
		outcome.Conflicts = len(conflicts)

		if len(conflicts) > 0 {
			final = make(sync.Snapshot, len(remoteLocal))
			for k, v := range remoteLocal {
				final[k] = v
			}
			localTime, _ := localSnap.Timestamp()
			for _, c := range conflicts {
				res, err := e.resolver.Resolve(ctx, c, localTime, remote.DateModified, "")
				if err != nil {
					return nil, err
				}
				if res.Manual {
					// Keep the local value until an operator decides
					outcome.ManualConflicts++
					final[c.FieldName] = c.LocalValue
					continue
				}
				final[c.FieldName] = res.Value
			}
		}
	}

	updatedID, err := e.localStore.Upsert(ctx, entityType, localID, final)
	if err != nil {
		return nil, err
	}
	outcome.LocalID = updatedID

	if _, err := e.mappingRepo.Upsert(ctx, sync.UpsertMappingInput{
		EntityType: entityType,
		LocalID:    updatedID,
		RemoteID:   remote.ID,
		Direction:  sync.SyncDirectionBoth,
		SyncedAt:   time.Now(),
	}); err != nil {
		return nil, err
	}
	return outcome, nil
}

// FetchAndReconcile fetches one record from the platform and applies it
// locally. Webhook deliveries flow through here; the fetched representation
// is authoritative, so force is implied.
func (e *Engine) FetchAndReconcile(ctx context.Context, entityType sync.EntityType, remoteID int64) (*ReconcileOutcome, error) {
	var remote *sync.RemoteRecord
	err := e.breaker.Execute(ctx, platformService, "get_"+entityType.String(), func(ctx context.Context) error {
		var getErr error
		remote, getErr = e.platform.Get(ctx, entityType, remoteID)
		return getErr
	})
	if err != nil {
		return nil, err
	}
	return e.Reconcile(ctx, uuid.Nil, entityType, remote, true)
}

// PushLocal pushes one local record out to the platform by local ID.
// Recovery retries of push failures land here.
func (e *Engine) PushLocal(ctx context.Context, entityType sync.EntityType, localID uuid.UUID) error {
	schema, err := e.schemas.Get(entityType)
	if err != nil {
		return err
	}
	mapping, err := e.mappingRepo.FindByLocal(ctx, entityType, localID)
	if err != nil {
		return err
	}
	_, err = e.pushRecord(ctx, schema, entityType, mapping)
	return err
}

// CoerceAndPush repairs a local record's field values toward their schema
// kinds, persists the repair, then re-pushes. Validation failures flow
// through here exactly once before an operator takes over.
func (e *Engine) CoerceAndPush(ctx context.Context, entityType sync.EntityType, localID uuid.UUID) error {
	schema, err := e.schemas.Get(entityType)
	if err != nil {
		return err
	}
	snap, err := e.localStore.Get(ctx, entityType, localID)
	if err != nil {
		return err
	}

	repaired, changed := schema.Coerce(snap)
	if changed {
		e.logger.Info("coerced local record",
			zap.String("entity_type", entityType.String()),
			zap.String("local_id", localID.String()),
		)
		if _, err := e.localStore.Upsert(ctx, entityType, localID, repaired); err != nil {
			return err
		}
	}
	return e.PushLocal(ctx, entityType, localID)
}

// HandleRemoteDeletion retires the mapping for a record deleted on the
// platform. The local record is kept; only the association is dropped.
func (e *Engine) HandleRemoteDeletion(ctx context.Context, entityType sync.EntityType, remoteID int64) error {
	mapping, err := e.mappingRepo.FindByRemote(ctx, entityType, remoteID)
	if err != nil {
		if errors.Is(err, sync.ErrMappingNotFound) {
			return nil
		}
		return err
	}
	return e.mappingRepo.Deactivate(ctx, entityType, mapping.LocalID)
}

// resolveIdentity finds or creates the local counterpart of a remote record
func (e *Engine) resolveIdentity(ctx context.Context, schema sync.EntitySchema, entityType sync.EntityType, remote *sync.RemoteRecord, remoteLocal sync.Snapshot) (uuid.UUID, sync.Snapshot, bool, error) {
	mapping, err := e.mappingRepo.FindByRemote(ctx, entityType, remote.ID)
	if err == nil {
		snap, err := e.localStore.Get(ctx, entityType, mapping.LocalID)
		if err != nil {
			if errors.Is(err, sync.ErrLocalRecordNotFound) {
				// Mapping points at a deleted record; retire it so the
				// replacement mapping owns the remote ID, then fall through
				// to creation
				if err := e.mappingRepo.Deactivate(ctx, entityType, mapping.LocalID); err != nil {
					return uuid.Nil, nil, false, err
				}
				return uuid.Nil, nil, true, nil
			}
			return uuid.Nil, nil, false, err
		}
		return mapping.LocalID, snap, false, nil
	}
	if !errors.Is(err, sync.ErrMappingNotFound) {
		return uuid.Nil, nil, false, err
	}

	// No mapping yet; probe by natural key before creating a duplicate
	key, _ := remoteLocal[schema.NaturalKey].(string)
	if key != "" {
		localID, snap, err := e.localStore.FindByNaturalKey(ctx, entityType, key)
		if err == nil {
			return localID, snap, false, nil
		}
		if !errors.Is(err, sync.ErrLocalRecordNotFound) {
			return uuid.Nil, nil, false, err
		}
	}
	return uuid.Nil, nil, true, nil
}

// pushEntity pushes locally newer records out to the platform
func (e *Engine) pushEntity(ctx context.Context, session *sync.Session, entityType sync.EntityType) error {
	result := session.Results.Ensure(entityType)
	schema, err := e.schemas.Get(entityType)
	if err != nil {
		return err
	}
	batchSize := session.Options.BatchSize

	for offset := 0; ; offset += batchSize {
		mappings, err := e.mappingRepo.FindPushable(ctx, entityType, batchSize, offset)
		if err != nil {
			return err
		}

		for i := range mappings {
			mapping := &mappings[i]
			pushed, pushErr := e.pushRecord(ctx, schema, entityType, mapping)
			if pushErr != nil {
				result.Errors = append(result.Errors, pushErr.Error())
				e.reportFailure(ctx, "sync.push."+entityType.String(),
					mapping.LocalID.String(), pushErr)
				continue
			}
			if pushed {
				result.Pushed++
			}
		}

		if len(mappings) < batchSize {
			return nil
		}
	}
}

// pushRecord pushes one mapping if the local side is newer than the remote
func (e *Engine) pushRecord(ctx context.Context, schema sync.EntitySchema, entityType sync.EntityType, mapping *sync.EntityMapping) (bool, error) {
	localSnap, err := e.localStore.Get(ctx, entityType, mapping.LocalID)
	if err != nil {
		if errors.Is(err, sync.ErrLocalRecordNotFound) {
			// Record deleted locally; retire the mapping
			return false, e.mappingRepo.Deactivate(ctx, entityType, mapping.LocalID)
		}
		return false, err
	}

	localTime, hasLocalTime := localSnap.Timestamp()
	if hasLocalTime && mapping.LastSyncAt != nil && !localTime.After(*mapping.LastSyncAt) {
		// Nothing changed locally since the last reconciliation
		return false, nil
	}

	var remote *sync.RemoteRecord
	err = e.breaker.Execute(ctx, platformService, "get_"+entityType.String(), func(ctx context.Context) error {
		var getErr error
		remote, getErr = e.platform.Get(ctx, entityType, mapping.RemoteID)
		return getErr
	})
	if err != nil {
		return false, err
	}

	if hasLocalTime && !remote.DateModified.IsZero() && !localTime.After(remote.DateModified) {
		// Remote is as new or newer; the pull phase owns this record
		return false, nil
	}

	fields := schema.ToRemote(localSnap)
	delete(fields, "date_modified")
	err = e.breaker.Execute(ctx, platformService, "update_"+entityType.String(), func(ctx context.Context) error {
		return e.platform.Update(ctx, entityType, mapping.RemoteID, fields)
	})
	if err != nil {
		return false, err
	}

	if _, err := e.mappingRepo.Upsert(ctx, sync.UpsertMappingInput{
		EntityType: entityType,
		LocalID:    mapping.LocalID,
		RemoteID:   mapping.RemoteID,
		Direction:  mapping.SyncDirection,
		Metadata:   mapping.Metadata,
		SyncedAt:   time.Now(),
	}); err != nil {
		return true, err
	}
	return true, nil
}

// reportFailure hands a failure to the recovery manager when one is wired
func (e *Engine) reportFailure(ctx context.Context, operationType, operationID string, opErr error) {
	if e.recoveryMgr == nil {
		return
	}
	if _, err := e.recoveryMgr.Handle(ctx, operationType, operationID, opErr); err != nil {
		e.logger.Warn("failed to record failure", zap.Error(err))
	}
}

func (e *Engine) publish(ctx context.Context, events ...shared.DomainEvent) {
	if e.eventPublisher == nil {
		return
	}
	if err := e.eventPublisher.Publish(ctx, events...); err != nil {
		e.logger.Warn("failed to publish sync events", zap.Error(err))
	}
}
