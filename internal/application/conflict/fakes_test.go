package conflict

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/sync-engine/internal/domain/sync"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// In-memory port fakes shared by the tests in this package
// ---------------------------------------------------------------------------

type fakeConflictRepo struct {
	conflicts map[uuid.UUID]*sync.Conflict
	saves     int
}

func newFakeConflictRepo() *fakeConflictRepo {
	return &fakeConflictRepo{conflicts: make(map[uuid.UUID]*sync.Conflict)}
}

func (r *fakeConflictRepo) Save(_ context.Context, c *sync.Conflict) error {
	cp := *c
	r.conflicts[c.ID] = &cp
	r.saves++
	return nil
}

func (r *fakeConflictRepo) FindByID(_ context.Context, id uuid.UUID) (*sync.Conflict, error) {
	c, ok := r.conflicts[id]
	if !ok {
		return nil, sync.ErrConflictNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *fakeConflictRepo) FindPending(_ context.Context, limit int) ([]sync.Conflict, error) {
	var out []sync.Conflict
	for _, c := range r.conflicts {
		if c.Status == sync.ConflictStatusPending && len(out) < limit {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *fakeConflictRepo) FindBySync(_ context.Context, syncID uuid.UUID) ([]sync.Conflict, error) {
	var out []sync.Conflict
	for _, c := range r.conflicts {
		if c.SyncID == syncID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *fakeConflictRepo) CountByStatus(_ context.Context) (map[sync.ConflictStatus]int64, error) {
	out := make(map[sync.ConflictStatus]int64)
	for _, c := range r.conflicts {
		out[c.Status]++
	}
	return out, nil
}

type fakeMappingRepo struct {
	byLocal map[string]*sync.EntityMapping
}

func newFakeMappingRepo() *fakeMappingRepo {
	return &fakeMappingRepo{byLocal: make(map[string]*sync.EntityMapping)}
}

func (r *fakeMappingRepo) put(m *sync.EntityMapping) {
	r.byLocal[mappingKey(m.EntityType, m.LocalID)] = m
}

func mappingKey(entityType sync.EntityType, localID uuid.UUID) string {
	return fmt.Sprintf("%s/%s", entityType, localID)
}

func (r *fakeMappingRepo) FindByLocal(_ context.Context, entityType sync.EntityType, localID uuid.UUID) (*sync.EntityMapping, error) {
	m, ok := r.byLocal[mappingKey(entityType, localID)]
	if !ok || !m.IsActive {
		return nil, sync.ErrMappingNotFound
	}
	return m, nil
}

func (r *fakeMappingRepo) FindByRemote(_ context.Context, entityType sync.EntityType, remoteID int64) (*sync.EntityMapping, error) {
	for _, m := range r.byLocal {
		if m.EntityType == entityType && m.RemoteID == remoteID && m.IsActive {
			return m, nil
		}
	}
	return nil, sync.ErrMappingNotFound
}

func (r *fakeMappingRepo) FindPushable(_ context.Context, entityType sync.EntityType, limit, offset int) ([]sync.EntityMapping, error) {
	var out []sync.EntityMapping
	for _, m := range r.byLocal {
		if m.EntityType == entityType && m.IsActive && m.SyncDirection.AllowsPush() {
			out = append(out, *m)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeMappingRepo) Upsert(_ context.Context, input sync.UpsertMappingInput) (*sync.EntityMapping, error) {
	key := mappingKey(input.EntityType, input.LocalID)
	m, ok := r.byLocal[key]
	if !ok {
		var err error
		m, err = sync.NewEntityMapping(input.EntityType, input.LocalID, input.RemoteID)
		if err != nil {
			return nil, err
		}
		m.SyncDirection = input.Direction
		r.byLocal[key] = m
	}
	m.RemoteID = input.RemoteID
	m.Metadata = input.Metadata
	m.TouchSynced(input.SyncedAt)
	return m, nil
}

func (r *fakeMappingRepo) Deactivate(_ context.Context, entityType sync.EntityType, localID uuid.UUID) error {
	m, ok := r.byLocal[mappingKey(entityType, localID)]
	if !ok {
		return sync.ErrMappingNotFound
	}
	m.Deactivate()
	return nil
}

func (r *fakeMappingRepo) CountActive(_ context.Context, entityType sync.EntityType) (int64, error) {
	var n int64
	for _, m := range r.byLocal {
		if m.EntityType == entityType && m.IsActive {
			n++
		}
	}
	return n, nil
}

type fakeLocalStore struct {
	records map[string]sync.Snapshot
}

func newFakeLocalStore() *fakeLocalStore {
	return &fakeLocalStore{records: make(map[string]sync.Snapshot)}
}

func (s *fakeLocalStore) put(entityType sync.EntityType, localID uuid.UUID, snap sync.Snapshot) {
	s.records[mappingKey(entityType, localID)] = snap
}

func (s *fakeLocalStore) Get(_ context.Context, entityType sync.EntityType, localID uuid.UUID) (sync.Snapshot, error) {
	snap, ok := s.records[mappingKey(entityType, localID)]
	if !ok {
		return nil, sync.ErrLocalRecordNotFound
	}
	return snap, nil
}

func (s *fakeLocalStore) FindByNaturalKey(_ context.Context, _ sync.EntityType, _ string) (uuid.UUID, sync.Snapshot, error) {
	return uuid.Nil, nil, sync.ErrLocalRecordNotFound
}

func (s *fakeLocalStore) Upsert(_ context.Context, entityType sync.EntityType, localID uuid.UUID, snapshot sync.Snapshot) (uuid.UUID, error) {
	if localID == uuid.Nil {
		localID = uuid.New()
	}
	key := mappingKey(entityType, localID)
	existing, ok := s.records[key]
	if !ok {
		existing = make(sync.Snapshot)
	}
	for k, v := range snapshot {
		existing[k] = v
	}
	s.records[key] = existing
	return localID, nil
}

type fakePlatform struct {
	updates []remoteUpdate
}

type remoteUpdate struct {
	entityType sync.EntityType
	remoteID   int64
	fields     sync.Snapshot
}

func (p *fakePlatform) List(_ context.Context, _ sync.EntityType, _, _ int) ([]sync.RemoteRecord, error) {
	return nil, nil
}

func (p *fakePlatform) Get(_ context.Context, _ sync.EntityType, _ int64) (*sync.RemoteRecord, error) {
	return nil, sync.ErrMappingNotFound
}

func (p *fakePlatform) Update(_ context.Context, entityType sync.EntityType, remoteID int64, fields sync.Snapshot) error {
	p.updates = append(p.updates, remoteUpdate{entityType: entityType, remoteID: remoteID, fields: fields})
	return nil
}

func (p *fakePlatform) Create(_ context.Context, _ sync.EntityType, _ sync.Snapshot) (*sync.RemoteRecord, error) {
	return &sync.RemoteRecord{ID: 1, DateModified: time.Now()}, nil
}

var (
	_ sync.ConflictRepository      = (*fakeConflictRepo)(nil)
	_ sync.EntityMappingRepository = (*fakeMappingRepo)(nil)
	_ sync.LocalStore              = (*fakeLocalStore)(nil)
	_ sync.RemotePlatform          = (*fakePlatform)(nil)
)
