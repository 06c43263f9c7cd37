package conflict

import (
	"context"
	"testing"

	"github.com/erp/sync-engine/internal/domain/sync"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type serviceFixture struct {
	service  *Service
	conflict *fakeConflictRepo
	mappings *fakeMappingRepo
	store    *fakeLocalStore
	platform *fakePlatform
}

func newServiceFixture() *serviceFixture {
	f := &serviceFixture{
		conflict: newFakeConflictRepo(),
		mappings: newFakeMappingRepo(),
		store:    newFakeLocalStore(),
		platform: &fakePlatform{},
	}
	f.service = NewService(f.conflict, f.mappings, f.store, f.platform, sync.DefaultSchemaRegistry(), zap.NewNop())
	return f
}

func TestService_ResolveManually(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T, f *serviceFixture, field string, localV, remoteV any) *sync.Conflict {
		t.Helper()
		c := newConflict(sync.EntityTypeProduct, field, localV, remoteV)
		require.NoError(t, f.conflict.Save(ctx, c))
		f.store.put(sync.EntityTypeProduct, c.EntityID, sync.Snapshot{field: localV})
		return c
	}

	t.Run("local winner writes the local value back", func(t *testing.T) {
		f := newServiceFixture()
		c := seed(t, f, "price", 10.0, 12.0)

		resolved, err := f.service.ResolveManually(ctx, ManualResolutionInput{ConflictID: c.ID, Winner: WinnerLocal})
		require.NoError(t, err)
		assert.Equal(t, sync.ConflictStatusResolved, resolved.Status)
		assert.Equal(t, 10.0, resolved.ResolvedValue)
		assert.False(t, resolved.AutoResolved)

		snap, err := f.store.Get(ctx, sync.EntityTypeProduct, c.EntityID)
		require.NoError(t, err)
		assert.Equal(t, 10.0, snap["price"])
	})

	t.Run("remote winner takes the remote value", func(t *testing.T) {
		f := newServiceFixture()
		c := seed(t, f, "price", 10.0, 12.0)

		resolved, err := f.service.ResolveManually(ctx, ManualResolutionInput{ConflictID: c.ID, Winner: WinnerRemote})
		require.NoError(t, err)
		assert.Equal(t, 12.0, resolved.ResolvedValue)
	})

	t.Run("custom winner takes the operator value", func(t *testing.T) {
		f := newServiceFixture()
		c := seed(t, f, "price", 10.0, 12.0)

		resolved, err := f.service.ResolveManually(ctx, ManualResolutionInput{
			ConflictID:  c.ID,
			Winner:      WinnerCustom,
			CustomValue: 11.0,
		})
		require.NoError(t, err)
		assert.Equal(t, 11.0, resolved.ResolvedValue)
	})

	t.Run("mapped entities push with the remote field name", func(t *testing.T) {
		f := newServiceFixture()
		c := seed(t, f, "price", 10.0, 12.0)

		mapping, err := sync.NewEntityMapping(sync.EntityTypeProduct, c.EntityID, 42)
		require.NoError(t, err)
		f.mappings.put(mapping)

		_, err = f.service.ResolveManually(ctx, ManualResolutionInput{ConflictID: c.ID, Winner: WinnerLocal})
		require.NoError(t, err)

		require.Len(t, f.platform.updates, 1)
		assert.Equal(t, int64(42), f.platform.updates[0].remoteID)
		assert.Equal(t, sync.Snapshot{"regular_price": 10.0}, f.platform.updates[0].fields)
	})

	t.Run("pull-only mappings are not pushed", func(t *testing.T) {
		f := newServiceFixture()
		c := seed(t, f, "price", 10.0, 12.0)

		mapping, err := sync.NewEntityMapping(sync.EntityTypeProduct, c.EntityID, 42)
		require.NoError(t, err)
		mapping.SyncDirection = sync.SyncDirectionPull
		f.mappings.put(mapping)

		_, err = f.service.ResolveManually(ctx, ManualResolutionInput{ConflictID: c.ID, Winner: WinnerLocal})
		require.NoError(t, err)
		assert.Empty(t, f.platform.updates)
	})

	t.Run("unmapped entities resolve locally only", func(t *testing.T) {
		f := newServiceFixture()
		c := seed(t, f, "price", 10.0, 12.0)

		_, err := f.service.ResolveManually(ctx, ManualResolutionInput{ConflictID: c.ID, Winner: WinnerRemote})
		require.NoError(t, err)
		assert.Empty(t, f.platform.updates)
	})

	t.Run("unknown winner is rejected", func(t *testing.T) {
		f := newServiceFixture()
		c := seed(t, f, "price", 10.0, 12.0)

		_, err := f.service.ResolveManually(ctx, ManualResolutionInput{ConflictID: c.ID, Winner: Winner("split")})
		assert.ErrorIs(t, err, ErrInvalidWinner)
	})

	t.Run("missing conflict is reported", func(t *testing.T) {
		f := newServiceFixture()
		_, err := f.service.ResolveManually(ctx, ManualResolutionInput{ConflictID: uuid.New(), Winner: WinnerLocal})
		assert.ErrorIs(t, err, sync.ErrConflictNotFound)
	})

	t.Run("closed conflicts cannot be resolved again", func(t *testing.T) {
		f := newServiceFixture()
		c := seed(t, f, "price", 10.0, 12.0)
		require.NoError(t, c.MarkResolved(10.0, sync.StrategyManual, false))
		require.NoError(t, f.conflict.Save(ctx, c))

		_, err := f.service.ResolveManually(ctx, ManualResolutionInput{ConflictID: c.ID, Winner: WinnerLocal})
		assert.ErrorIs(t, err, sync.ErrConflictAlreadyClosed)
	})
}

func TestService_GetPendingConflicts(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture()

	for i := 0; i < 3; i++ {
		c := newConflict(sync.EntityTypeOrder, "total", float64(i), float64(i+1))
		require.NoError(t, f.conflict.Save(ctx, c))
	}
	closed := newConflict(sync.EntityTypeOrder, "total", 1.0, 2.0)
	require.NoError(t, closed.MarkResolved(2.0, sync.StrategyRemoteWins, true))
	require.NoError(t, f.conflict.Save(ctx, closed))

	pending, err := f.service.GetPendingConflicts(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 3)
	for _, c := range pending {
		assert.Equal(t, sync.ConflictStatusPending, c.Status)
	}
}
