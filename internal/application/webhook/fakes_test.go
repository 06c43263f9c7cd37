package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/sync-engine/internal/domain/recovery"
	"github.com/erp/sync-engine/internal/domain/sync"
	"github.com/erp/sync-engine/internal/domain/webhook"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// In-memory port fakes shared by the tests in this package
// ---------------------------------------------------------------------------

type fakeEventRepo struct {
	events map[uuid.UUID]*webhook.Event
	keys   map[string]bool
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{
		events: make(map[uuid.UUID]*webhook.Event),
		keys:   make(map[string]bool),
	}
}

func (r *fakeEventRepo) all() []webhook.Event {
	out := make([]webhook.Event, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, *e)
	}
	return out
}

func (r *fakeEventRepo) Insert(_ context.Context, event *webhook.Event) error {
	if r.keys[event.IdempotencyKey] {
		return webhook.ErrDuplicateEvent
	}
	r.keys[event.IdempotencyKey] = true
	cp := *event
	r.events[event.ID] = &cp
	return nil
}

func (r *fakeEventRepo) Update(_ context.Context, event *webhook.Event) error {
	if _, ok := r.events[event.ID]; !ok {
		return webhook.ErrEventNotFound
	}
	cp := *event
	r.events[event.ID] = &cp
	return nil
}

func (r *fakeEventRepo) FindByID(_ context.Context, id uuid.UUID) (*webhook.Event, error) {
	e, ok := r.events[id]
	if !ok {
		return nil, webhook.ErrEventNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *fakeEventRepo) FindDue(_ context.Context, before time.Time, limit int) ([]webhook.Event, error) {
	var out []webhook.Event
	for _, e := range r.events {
		if e.Status != webhook.EventStatusPending || len(out) >= limit {
			continue
		}
		if e.NextRetryAt == nil || e.NextRetryAt.Before(before) {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (r *fakeEventRepo) FindFailed(_ context.Context, limit int) ([]webhook.Event, error) {
	var out []webhook.Event
	for _, e := range r.events {
		if e.Status == webhook.EventStatusFailed && len(out) < limit {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (r *fakeEventRepo) CountByStatus(_ context.Context) (map[webhook.EventStatus]int64, error) {
	out := make(map[webhook.EventStatus]int64)
	for _, e := range r.events {
		out[e.Status]++
	}
	return out, nil
}

func (r *fakeEventRepo) DeleteOlderThan(_ context.Context, before time.Time) (int64, error) {
	var n int64
	for id, e := range r.events {
		if e.Status == webhook.EventStatusProcessed && e.CreatedAt.Before(before) {
			delete(r.events, id)
			n++
		}
	}
	return n, nil
}

type fakeRateLimiter struct {
	allowed bool
	err     error
}

func (l *fakeRateLimiter) Allow(_ context.Context, _ string) (bool, error) {
	return l.allowed, l.err
}

type fakeDedupStore struct {
	seen map[string]bool
	err  error
}

func newFakeDedupStore() *fakeDedupStore {
	return &fakeDedupStore{seen: make(map[string]bool)}
}

func (d *fakeDedupStore) MarkSeen(_ context.Context, key string, _ time.Duration) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

type fakeMappingRepo struct {
	byLocal map[string]*sync.EntityMapping
}

func newFakeMappingRepo() *fakeMappingRepo {
	return &fakeMappingRepo{byLocal: make(map[string]*sync.EntityMapping)}
}

func recordKey(entityType sync.EntityType, localID uuid.UUID) string {
	return fmt.Sprintf("%s/%s", entityType, localID)
}

func (r *fakeMappingRepo) put(m *sync.EntityMapping) {
	r.byLocal[recordKey(m.EntityType, m.LocalID)] = m
}

func (r *fakeMappingRepo) FindByLocal(_ context.Context, entityType sync.EntityType, localID uuid.UUID) (*sync.EntityMapping, error) {
	m, ok := r.byLocal[recordKey(entityType, localID)]
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
	key := recordKey(input.EntityType, input.LocalID)
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
	m, ok := r.byLocal[recordKey(entityType, localID)]
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
	schemas *sync.SchemaRegistry
	records map[string]sync.Snapshot
}

func newFakeLocalStore(schemas *sync.SchemaRegistry) *fakeLocalStore {
	return &fakeLocalStore{schemas: schemas, records: make(map[string]sync.Snapshot)}
}

func (s *fakeLocalStore) put(entityType sync.EntityType, localID uuid.UUID, snap sync.Snapshot) {
	s.records[recordKey(entityType, localID)] = snap
}

func (s *fakeLocalStore) Get(_ context.Context, entityType sync.EntityType, localID uuid.UUID) (sync.Snapshot, error) {
	snap, ok := s.records[recordKey(entityType, localID)]
	if !ok {
		return nil, sync.ErrLocalRecordNotFound
	}
	return snap, nil
}

func (s *fakeLocalStore) FindByNaturalKey(_ context.Context, entityType sync.EntityType, key string) (uuid.UUID, sync.Snapshot, error) {
	schema, err := s.schemas.Get(entityType)
	if err != nil {
		return uuid.Nil, nil, err
	}
	prefix := string(entityType) + "/"
	for k, snap := range s.records {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix && snap[schema.NaturalKey] == key {
			id, err := uuid.Parse(k[len(prefix):])
			if err != nil {
				return uuid.Nil, nil, err
			}
			return id, snap, nil
		}
	}
	return uuid.Nil, nil, sync.ErrLocalRecordNotFound
}

func (s *fakeLocalStore) Upsert(_ context.Context, entityType sync.EntityType, localID uuid.UUID, snapshot sync.Snapshot) (uuid.UUID, error) {
	if localID == uuid.Nil {
		localID = uuid.New()
	}
	key := recordKey(entityType, localID)
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

type fakeRemotePlatform struct {
	byID map[string]*sync.RemoteRecord
}

func newFakeRemotePlatform() *fakeRemotePlatform {
	return &fakeRemotePlatform{byID: make(map[string]*sync.RemoteRecord)}
}

func (p *fakeRemotePlatform) addRecord(entityType sync.EntityType, record sync.RemoteRecord) {
	p.byID[fmt.Sprintf("%s/%d", entityType, record.ID)] = &record
}

func (p *fakeRemotePlatform) List(_ context.Context, _ sync.EntityType, _, _ int) ([]sync.RemoteRecord, error) {
	return nil, nil
}

func (p *fakeRemotePlatform) Get(_ context.Context, entityType sync.EntityType, remoteID int64) (*sync.RemoteRecord, error) {
	record, ok := p.byID[fmt.Sprintf("%s/%d", entityType, remoteID)]
	if !ok {
		return nil, errors.New("resource not found (status 404)")
	}
	return record, nil
}

func (p *fakeRemotePlatform) Update(_ context.Context, _ sync.EntityType, _ int64, _ sync.Snapshot) error {
	return nil
}

func (p *fakeRemotePlatform) Create(_ context.Context, _ sync.EntityType, fields sync.Snapshot) (*sync.RemoteRecord, error) {
	return &sync.RemoteRecord{ID: 1, DateModified: time.Now(), Fields: fields}, nil
}

type fakeConflictRepo struct {
	conflicts map[uuid.UUID]*sync.Conflict
}

func newFakeConflictRepo() *fakeConflictRepo {
	return &fakeConflictRepo{conflicts: make(map[uuid.UUID]*sync.Conflict)}
}

func (r *fakeConflictRepo) Save(_ context.Context, c *sync.Conflict) error {
	cp := *c
	r.conflicts[c.ID] = &cp
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

type fakeBreakerRepo struct {
	states map[string]*recovery.CircuitBreakerState
}

func newFakeBreakerRepo() *fakeBreakerRepo {
	return &fakeBreakerRepo{states: make(map[string]*recovery.CircuitBreakerState)}
}

func (r *fakeBreakerRepo) Find(_ context.Context, serviceName, operationName string) (*recovery.CircuitBreakerState, error) {
	s, ok := r.states[serviceName+"/"+operationName]
	if !ok {
		return nil, recovery.ErrBreakerNotFound
	}
	return s, nil
}

func (r *fakeBreakerRepo) Save(_ context.Context, state *recovery.CircuitBreakerState) error {
	r.states[state.ServiceName+"/"+state.OperationName] = state
	return nil
}

func (r *fakeBreakerRepo) FindOpen(_ context.Context) ([]recovery.CircuitBreakerState, error) {
	var out []recovery.CircuitBreakerState
	for _, s := range r.states {
		if s.State == recovery.BreakerOpen {
			out = append(out, *s)
		}
	}
	return out, nil
}

var (
	_ webhook.EventRepository           = (*fakeEventRepo)(nil)
	_ webhook.RateLimiter               = (*fakeRateLimiter)(nil)
	_ webhook.DedupStore                = (*fakeDedupStore)(nil)
	_ sync.EntityMappingRepository      = (*fakeMappingRepo)(nil)
	_ sync.LocalStore                   = (*fakeLocalStore)(nil)
	_ sync.RemotePlatform               = (*fakeRemotePlatform)(nil)
	_ sync.ConflictRepository           = (*fakeConflictRepo)(nil)
	_ recovery.CircuitBreakerRepository = (*fakeBreakerRepo)(nil)
)
