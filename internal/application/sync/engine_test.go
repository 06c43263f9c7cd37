package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/erp/sync-engine/internal/application/conflict"
	apprecovery "github.com/erp/sync-engine/internal/application/recovery"
	"github.com/erp/sync-engine/internal/domain/sync"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type engineFixture struct {
	engine    *Engine
	sessions  *memSessionRepo
	lock      *memLock
	mappings  *memMappingRepo
	store     *memLocalStore
	platform  *scriptedPlatform
	conflicts *memConflictRepo
}

func newEngineFixture() *engineFixture {
	schemas := sync.DefaultSchemaRegistry()
	f := &engineFixture{
		sessions:  newMemSessionRepo(),
		lock:      newMemLock(),
		mappings:  newMemMappingRepo(),
		store:     newMemLocalStore(schemas),
		platform:  newScriptedPlatform(),
		conflicts: newMemConflictRepo(),
	}
	breaker := apprecovery.NewBreakerService(newMemBreakerRepo(),
		apprecovery.BreakerConfig{FailureThreshold: 100, Cooldown: time.Minute}, zap.NewNop())
	f.engine = NewEngine(
		f.sessions, f.lock, f.mappings, f.store, f.platform, schemas,
		conflict.NewDetector(schemas),
		conflict.NewResolver(f.conflicts, zap.NewNop()),
		breaker,
		zap.NewNop(),
	)
	return f
}

func productRecord(id int64, modified time.Time, fields sync.Snapshot) sync.RemoteRecord {
	return sync.RemoteRecord{ID: id, DateModified: modified, Fields: fields}
}

func TestEngine_RunSync_Pull(t *testing.T) {
	ctx := context.Background()
	modified := time.Now().Add(-time.Hour)

	t.Run("pages through the collection and creates local records", func(t *testing.T) {
		f := newEngineFixture()
		f.platform.pages[sync.EntityTypeProduct] = [][]sync.RemoteRecord{
			{
				productRecord(101, modified, sync.Snapshot{"sku": "A-1", "name": "Alpha", "regular_price": 10.0}),
				productRecord(102, modified, sync.Snapshot{"sku": "B-2", "name": "Beta", "regular_price": 20.0}),
			},
			{
				productRecord(103, modified, sync.Snapshot{"sku": "C-3", "name": "Gamma", "regular_price": 30.0}),
			},
		}

		session, err := f.engine.RunSync(ctx, sync.Options{
			Direction:   sync.SyncDirectionPull,
			EntityTypes: []sync.EntityType{sync.EntityTypeProduct},
			BatchSize:   2,
		})
		require.NoError(t, err)
		assert.Equal(t, sync.SessionStatusCompleted, session.Status)
		assert.Equal(t, 3, session.Results[sync.EntityTypeProduct].Pulled)
		assert.Equal(t, 0, session.Results[sync.EntityTypeProduct].Conflicts)

		active, err := f.mappings.CountActive(ctx, sync.EntityTypeProduct)
		require.NoError(t, err)
		assert.Equal(t, int64(3), active)

		// Remote field names were translated to canonical ones
		mapping, err := f.mappings.FindByRemote(ctx, sync.EntityTypeProduct, 101)
		require.NoError(t, err)
		snap, err := f.store.Get(ctx, sync.EntityTypeProduct, mapping.LocalID)
		require.NoError(t, err)
		assert.Equal(t, 10.0, snap["price"])
		assert.Equal(t, "Alpha", snap["name"])

		// The lock was released
		acquired, err := f.lock.TryAcquire(ctx, "full_sync")
		require.NoError(t, err)
		assert.True(t, acquired)
	})

	t.Run("narrowed runs are reported as entity sessions", func(t *testing.T) {
		f := newEngineFixture()
		session, err := f.engine.RunSync(ctx, sync.Options{
			Direction:   sync.SyncDirectionPull,
			EntityTypes: []sync.EntityType{sync.EntityTypeProduct},
		})
		require.NoError(t, err)
		assert.Equal(t, sync.SessionTypeEntity, session.Type)
	})

	t.Run("unnarrowed runs are full sessions", func(t *testing.T) {
		f := newEngineFixture()
		session, err := f.engine.RunSync(ctx, sync.Options{Direction: sync.SyncDirectionPull})
		require.NoError(t, err)
		assert.Equal(t, sync.SessionTypeFull, session.Type)
	})

	t.Run("held lock refuses a second session", func(t *testing.T) {
		f := newEngineFixture()
		_, err := f.lock.TryAcquire(ctx, "full_sync")
		require.NoError(t, err)

		_, err = f.engine.RunSync(ctx, sync.Options{Direction: sync.SyncDirectionPull})
		assert.ErrorIs(t, err, sync.ErrSessionLocked)
	})

	t.Run("list failure fails the session but keeps going", func(t *testing.T) {
		f := newEngineFixture()
		f.platform.listErr = errors.New("connection refused")

		session, err := f.engine.RunSync(ctx, sync.Options{
			Direction:   sync.SyncDirectionPull,
			EntityTypes: []sync.EntityType{sync.EntityTypeProduct},
		})
		require.NoError(t, err)
		assert.Equal(t, sync.SessionStatusFailed, session.Status)
		assert.Contains(t, session.ErrorDetails, "pull product")

		// The lock was still released
		acquired, err := f.lock.TryAcquire(ctx, "full_sync")
		require.NoError(t, err)
		assert.True(t, acquired)
	})

	t.Run("terminal session publishes an event", func(t *testing.T) {
		f := newEngineFixture()
		published := &capturedEvents{}
		f.engine.SetEventPublisher(published)

		_, err := f.engine.RunSync(ctx, sync.Options{
			Direction:   sync.SyncDirectionPull,
			EntityTypes: []sync.EntityType{sync.EntityTypeProduct},
		})
		require.NoError(t, err)
		assert.Contains(t, published.types(), sync.EventTypeSyncCompleted)
	})
}

func TestEngine_Reconcile(t *testing.T) {
	ctx := context.Background()
	localTime := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	remoteTime := localTime.Add(time.Hour)

	t.Run("new remote records create local counterparts", func(t *testing.T) {
		f := newEngineFixture()
		remote := productRecord(7, remoteTime, sync.Snapshot{"sku": "N-1", "name": "New", "regular_price": 5.0})

		outcome, err := f.engine.Reconcile(ctx, uuid.New(), sync.EntityTypeProduct, &remote, false)
		require.NoError(t, err)
		assert.True(t, outcome.Created)
		assert.Zero(t, outcome.Conflicts)

		snap, err := f.store.Get(ctx, sync.EntityTypeProduct, outcome.LocalID)
		require.NoError(t, err)
		assert.Equal(t, "N-1", snap["sku"])

		mapping, err := f.mappings.FindByLocal(ctx, sync.EntityTypeProduct, outcome.LocalID)
		require.NoError(t, err)
		assert.Equal(t, int64(7), mapping.RemoteID)
		assert.Equal(t, sync.SyncDirectionBoth, mapping.SyncDirection)
	})

	t.Run("mapped records resolve conflicts per field policy", func(t *testing.T) {
		f := newEngineFixture()
		localID := uuid.New()
		f.store.put(sync.EntityTypeProduct, localID, sync.Snapshot{
			"sku": "P-1", "name": "Widget", "price": 10.0,
			"date_modified": localTime,
		})
		mapping, err := sync.NewEntityMapping(sync.EntityTypeProduct, localID, 55)
		require.NoError(t, err)
		f.mappings.put(mapping)

		// Price diverges (local wins by policy); name diverges (timestamp,
		// remote is newer)
		remote := productRecord(55, remoteTime, sync.Snapshot{
			"sku": "P-1", "name": "Widget Pro", "regular_price": 12.0,
		})
		outcome, err := f.engine.Reconcile(ctx, uuid.New(), sync.EntityTypeProduct, &remote, false)
		require.NoError(t, err)
		assert.False(t, outcome.Created)
		assert.Equal(t, 2, outcome.Conflicts)
		assert.Zero(t, outcome.ManualConflicts)

		snap, err := f.store.Get(ctx, sync.EntityTypeProduct, localID)
		require.NoError(t, err)
		assert.Equal(t, 10.0, snap["price"])
		assert.Equal(t, "Widget Pro", snap["name"])
	})

	t.Run("manual conflicts keep the local value pending review", func(t *testing.T) {
		f := newEngineFixture()
		localID := uuid.New()
		syncID := uuid.New()
		f.store.put(sync.EntityTypeOrder, localID, sync.Snapshot{
			"order_number": "SO-1", "total": 99.0, "date_modified": localTime,
		})
		mapping, err := sync.NewEntityMapping(sync.EntityTypeOrder, localID, 9)
		require.NoError(t, err)
		f.mappings.put(mapping)

		remote := sync.RemoteRecord{ID: 9, DateModified: remoteTime, Fields: sync.Snapshot{
			"number": "SO-1", "total": 120.0,
		}}
		outcome, err := f.engine.Reconcile(ctx, syncID, sync.EntityTypeOrder, &remote, false)
		require.NoError(t, err)
		assert.Equal(t, 1, outcome.ManualConflicts)

		snap, err := f.store.Get(ctx, sync.EntityTypeOrder, localID)
		require.NoError(t, err)
		assert.Equal(t, 99.0, snap["total"])

		pending, err := f.conflicts.FindBySync(ctx, syncID)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, sync.ConflictStatusPending, pending[0].Status)
		assert.Equal(t, "total", pending[0].FieldName)
	})

	t.Run("force overwrites without detecting conflicts", func(t *testing.T) {
		f := newEngineFixture()
		localID := uuid.New()
		f.store.put(sync.EntityTypeProduct, localID, sync.Snapshot{
			"sku": "P-1", "price": 10.0, "date_modified": localTime,
		})
		mapping, err := sync.NewEntityMapping(sync.EntityTypeProduct, localID, 55)
		require.NoError(t, err)
		f.mappings.put(mapping)

		remote := productRecord(55, remoteTime, sync.Snapshot{"sku": "P-1", "regular_price": 12.0})
		outcome, err := f.engine.Reconcile(ctx, uuid.New(), sync.EntityTypeProduct, &remote, true)
		require.NoError(t, err)
		assert.Zero(t, outcome.Conflicts)

		snap, err := f.store.Get(ctx, sync.EntityTypeProduct, localID)
		require.NoError(t, err)
		assert.Equal(t, 12.0, snap["price"])
	})

	t.Run("natural key probe attaches instead of duplicating", func(t *testing.T) {
		f := newEngineFixture()
		localID := uuid.New()
		f.store.put(sync.EntityTypeCustomer, localID, sync.Snapshot{
			"email": "jo@example.com", "first_name": "Jo",
		})

		remote := sync.RemoteRecord{ID: 31, DateModified: remoteTime, Fields: sync.Snapshot{
			"email": "jo@example.com", "first_name": "Jo",
		}}
		outcome, err := f.engine.Reconcile(ctx, uuid.New(), sync.EntityTypeCustomer, &remote, false)
		require.NoError(t, err)
		assert.False(t, outcome.Created)
		assert.Equal(t, localID, outcome.LocalID)

		mapping, err := f.mappings.FindByLocal(ctx, sync.EntityTypeCustomer, localID)
		require.NoError(t, err)
		assert.Equal(t, int64(31), mapping.RemoteID)
	})

	t.Run("stale mapping is retired and replaced", func(t *testing.T) {
		f := newEngineFixture()
		goneID := uuid.New()
		mapping, err := sync.NewEntityMapping(sync.EntityTypeProduct, goneID, 55)
		require.NoError(t, err)
		f.mappings.put(mapping)

		remote := productRecord(55, remoteTime, sync.Snapshot{"sku": "P-1", "regular_price": 1.0})
		outcome, err := f.engine.Reconcile(ctx, uuid.New(), sync.EntityTypeProduct, &remote, false)
		require.NoError(t, err)
		assert.True(t, outcome.Created)
		assert.NotEqual(t, goneID, outcome.LocalID)

		// The old mapping no longer claims the remote ID; only the
		// replacement is active
		_, err = f.mappings.FindByLocal(ctx, sync.EntityTypeProduct, goneID)
		assert.ErrorIs(t, err, sync.ErrMappingNotFound)
		replacement, err := f.mappings.FindByRemote(ctx, sync.EntityTypeProduct, 55)
		require.NoError(t, err)
		assert.Equal(t, outcome.LocalID, replacement.LocalID)

		active, err := f.mappings.CountActive(ctx, sync.EntityTypeProduct)
		require.NoError(t, err)
		assert.Equal(t, int64(1), active)
	})
}

func TestEngine_Push(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	push := func(t *testing.T, f *engineFixture) *sync.Session {
		t.Helper()
		session, err := f.engine.RunSync(ctx, sync.Options{
			Direction:   sync.SyncDirectionPush,
			EntityTypes: []sync.EntityType{sync.EntityTypeProduct},
		})
		require.NoError(t, err)
		return session
	}

	seed := func(f *engineFixture, lastSync, localModified, remoteModified time.Time) uuid.UUID {
		localID := uuid.New()
		f.store.put(sync.EntityTypeProduct, localID, sync.Snapshot{
			"sku": "P-1", "name": "Widget", "price": 10.0,
			"date_modified": localModified,
		})
		mapping, _ := sync.NewEntityMapping(sync.EntityTypeProduct, localID, 55)
		mapping.LastSyncAt = &lastSync
		f.mappings.put(mapping)
		f.platform.addRecord(sync.EntityTypeProduct, sync.RemoteRecord{
			ID: 55, DateModified: remoteModified,
			Fields: sync.Snapshot{"sku": "P-1"},
		})
		return localID
	}

	t.Run("locally newer records are pushed without the timestamp field", func(t *testing.T) {
		f := newEngineFixture()
		seed(f, base, base.Add(time.Hour), base)

		session := push(t, f)
		assert.Equal(t, sync.SessionStatusCompleted, session.Status)
		assert.Equal(t, 1, session.Results[sync.EntityTypeProduct].Pushed)

		require.Len(t, f.platform.updates, 1)
		update := f.platform.updates[0]
		assert.Equal(t, int64(55), update.remoteID)
		assert.Equal(t, 10.0, update.fields["regular_price"])
		assert.NotContains(t, update.fields, "date_modified")
	})

	t.Run("records unchanged since the last sync are skipped", func(t *testing.T) {
		f := newEngineFixture()
		seed(f, base.Add(time.Hour), base, base)

		session := push(t, f)
		assert.Zero(t, session.Results[sync.EntityTypeProduct].Pushed)
		assert.Empty(t, f.platform.updates)
	})

	t.Run("a newer remote side wins over the push", func(t *testing.T) {
		f := newEngineFixture()
		seed(f, base, base.Add(time.Hour), base.Add(2*time.Hour))

		session := push(t, f)
		assert.Zero(t, session.Results[sync.EntityTypeProduct].Pushed)
		assert.Empty(t, f.platform.updates)
	})

	t.Run("deleted local records retire their mapping", func(t *testing.T) {
		f := newEngineFixture()
		localID := seed(f, base, base.Add(time.Hour), base)
		f.store.delete(sync.EntityTypeProduct, localID)

		session := push(t, f)
		assert.Equal(t, sync.SessionStatusCompleted, session.Status)
		assert.Empty(t, f.platform.updates)

		_, err := f.mappings.FindByLocal(ctx, sync.EntityTypeProduct, localID)
		assert.ErrorIs(t, err, sync.ErrMappingNotFound)
	})

	t.Run("push refreshes the mapping sync time", func(t *testing.T) {
		f := newEngineFixture()
		localID := seed(f, base, base.Add(time.Hour), base)

		push(t, f)
		mapping, err := f.mappings.FindByLocal(ctx, sync.EntityTypeProduct, localID)
		require.NoError(t, err)
		require.NotNil(t, mapping.LastSyncAt)
		assert.True(t, mapping.LastSyncAt.After(base))
	})
}

func TestEngine_CoerceAndPush(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("repairs mistyped fields before re-pushing", func(t *testing.T) {
		f := newEngineFixture()
		localID := uuid.New()
		f.store.put(sync.EntityTypeProduct, localID, sync.Snapshot{
			"sku": "P-1", "name": "Widget", "price": "12.5",
			"date_modified": base.Add(time.Hour),
		})
		mapping, err := sync.NewEntityMapping(sync.EntityTypeProduct, localID, 55)
		require.NoError(t, err)
		lastSync := base
		mapping.LastSyncAt = &lastSync
		f.mappings.put(mapping)
		f.platform.addRecord(sync.EntityTypeProduct, sync.RemoteRecord{
			ID: 55, DateModified: base, Fields: sync.Snapshot{"sku": "P-1"},
		})

		require.NoError(t, f.engine.CoerceAndPush(ctx, sync.EntityTypeProduct, localID))

		// The repair was persisted locally and the push carried the number
		snap, err := f.store.Get(ctx, sync.EntityTypeProduct, localID)
		require.NoError(t, err)
		assert.Equal(t, 12.5, snap["price"])

		require.Len(t, f.platform.updates, 1)
		assert.Equal(t, 12.5, f.platform.updates[0].fields["regular_price"])
	})

	t.Run("well typed records push without a write", func(t *testing.T) {
		f := newEngineFixture()
		localID := uuid.New()
		f.store.put(sync.EntityTypeProduct, localID, sync.Snapshot{
			"sku": "P-1", "price": 12.5, "date_modified": base.Add(time.Hour),
		})
		mapping, err := sync.NewEntityMapping(sync.EntityTypeProduct, localID, 55)
		require.NoError(t, err)
		lastSync := base
		mapping.LastSyncAt = &lastSync
		f.mappings.put(mapping)
		f.platform.addRecord(sync.EntityTypeProduct, sync.RemoteRecord{
			ID: 55, DateModified: base, Fields: sync.Snapshot{"sku": "P-1"},
		})

		require.NoError(t, f.engine.CoerceAndPush(ctx, sync.EntityTypeProduct, localID))
		require.Len(t, f.platform.updates, 1)
	})

	t.Run("missing records surface the store error", func(t *testing.T) {
		f := newEngineFixture()
		err := f.engine.CoerceAndPush(ctx, sync.EntityTypeProduct, uuid.New())
		assert.ErrorIs(t, err, sync.ErrLocalRecordNotFound)
	})
}

func TestEngine_WebhookPaths(t *testing.T) {
	ctx := context.Background()
	remoteTime := time.Now()

	t.Run("fetch and reconcile treats the platform as authoritative", func(t *testing.T) {
		f := newEngineFixture()
		localID := uuid.New()
		f.store.put(sync.EntityTypeProduct, localID, sync.Snapshot{"sku": "P-1", "price": 10.0})
		mapping, err := sync.NewEntityMapping(sync.EntityTypeProduct, localID, 55)
		require.NoError(t, err)
		f.mappings.put(mapping)
		f.platform.addRecord(sync.EntityTypeProduct, sync.RemoteRecord{
			ID: 55, DateModified: remoteTime,
			Fields: sync.Snapshot{"sku": "P-1", "regular_price": 15.0},
		})

		outcome, err := f.engine.FetchAndReconcile(ctx, sync.EntityTypeProduct, 55)
		require.NoError(t, err)
		assert.Equal(t, localID, outcome.LocalID)
		assert.Zero(t, outcome.Conflicts)

		snap, err := f.store.Get(ctx, sync.EntityTypeProduct, localID)
		require.NoError(t, err)
		assert.Equal(t, 15.0, snap["price"])
	})

	t.Run("fetch failure surfaces the platform error", func(t *testing.T) {
		f := newEngineFixture()
		_, err := f.engine.FetchAndReconcile(ctx, sync.EntityTypeProduct, 404)
		assert.Error(t, err)
	})

	t.Run("remote deletion retires the mapping and keeps the record", func(t *testing.T) {
		f := newEngineFixture()
		localID := uuid.New()
		f.store.put(sync.EntityTypeCustomer, localID, sync.Snapshot{"email": "jo@example.com"})
		mapping, err := sync.NewEntityMapping(sync.EntityTypeCustomer, localID, 31)
		require.NoError(t, err)
		f.mappings.put(mapping)

		require.NoError(t, f.engine.HandleRemoteDeletion(ctx, sync.EntityTypeCustomer, 31))

		_, err = f.mappings.FindByLocal(ctx, sync.EntityTypeCustomer, localID)
		assert.ErrorIs(t, err, sync.ErrMappingNotFound)
		_, err = f.store.Get(ctx, sync.EntityTypeCustomer, localID)
		assert.NoError(t, err)
	})

	t.Run("deletion of an unmapped record is a no-op", func(t *testing.T) {
		f := newEngineFixture()
		assert.NoError(t, f.engine.HandleRemoteDeletion(ctx, sync.EntityTypeCustomer, 999))
	})
}
