package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/erp/sync-engine/internal/domain/recovery"
	"github.com/erp/sync-engine/internal/domain/shared"
	"github.com/erp/sync-engine/internal/domain/sync"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// In-memory port fakes shared by the tests in this package
// ---------------------------------------------------------------------------

type memSessionRepo struct {
	mu       gosync.Mutex
	sessions map[uuid.UUID]*sync.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[uuid.UUID]*sync.Session)}
}

func (r *memSessionRepo) Save(_ context.Context, session *sync.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *session
	r.sessions[session.SyncID] = &cp
	return nil
}

func (r *memSessionRepo) FindByID(_ context.Context, syncID uuid.UUID) (*sync.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[syncID]
	if !ok {
		return nil, sync.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memSessionRepo) FindRunning(_ context.Context) ([]sync.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sync.Session
	for _, s := range r.sessions {
		if s.Status == sync.SessionStatusRunning {
			out = append(out, *s)
		}
	}
	return out, nil
}

type memLock struct {
	mu       gosync.Mutex
	held     map[string]bool
	releases int
}

func newMemLock() *memLock {
	return &memLock{held: make(map[string]bool)}
}

func (l *memLock) TryAcquire(_ context.Context, scope string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[scope] {
		return false, nil
	}
	l.held[scope] = true
	return true, nil
}

func (l *memLock) Release(_ context.Context, scope string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held[scope] = false
	l.releases++
	return nil
}

type memMappingRepo struct {
	byLocal map[string]*sync.EntityMapping
}

func newMemMappingRepo() *memMappingRepo {
	return &memMappingRepo{byLocal: make(map[string]*sync.EntityMapping)}
}

func storeKey(entityType sync.EntityType, localID uuid.UUID) string {
	return fmt.Sprintf("%s/%s", entityType, localID)
}

func (r *memMappingRepo) put(m *sync.EntityMapping) {
	r.byLocal[storeKey(m.EntityType, m.LocalID)] = m
}

func (r *memMappingRepo) FindByLocal(_ context.Context, entityType sync.EntityType, localID uuid.UUID) (*sync.EntityMapping, error) {
	m, ok := r.byLocal[storeKey(entityType, localID)]
	if !ok || !m.IsActive {
		return nil, sync.ErrMappingNotFound
	}
	return m, nil
}

func (r *memMappingRepo) FindByRemote(_ context.Context, entityType sync.EntityType, remoteID int64) (*sync.EntityMapping, error) {
	for _, m := range r.byLocal {
		if m.EntityType == entityType && m.RemoteID == remoteID && m.IsActive {
			return m, nil
		}
	}
	return nil, sync.ErrMappingNotFound
}

func (r *memMappingRepo) FindPushable(_ context.Context, entityType sync.EntityType, limit, offset int) ([]sync.EntityMapping, error) {
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

func (r *memMappingRepo) Upsert(_ context.Context, input sync.UpsertMappingInput) (*sync.EntityMapping, error) {
	key := storeKey(input.EntityType, input.LocalID)
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

func (r *memMappingRepo) Deactivate(_ context.Context, entityType sync.EntityType, localID uuid.UUID) error {
	m, ok := r.byLocal[storeKey(entityType, localID)]
	if !ok {
		return sync.ErrMappingNotFound
	}
	m.Deactivate()
	return nil
}

func (r *memMappingRepo) CountActive(_ context.Context, entityType sync.EntityType) (int64, error) {
	var n int64
	for _, m := range r.byLocal {
		if m.EntityType == entityType && m.IsActive {
			n++
		}
	}
	return n, nil
}

type memLocalStore struct {
	schemas *sync.SchemaRegistry
	records map[string]sync.Snapshot
}

func newMemLocalStore(schemas *sync.SchemaRegistry) *memLocalStore {
	return &memLocalStore{schemas: schemas, records: make(map[string]sync.Snapshot)}
}

func (s *memLocalStore) put(entityType sync.EntityType, localID uuid.UUID, snap sync.Snapshot) {
	s.records[storeKey(entityType, localID)] = snap
}

func (s *memLocalStore) delete(entityType sync.EntityType, localID uuid.UUID) {
	delete(s.records, storeKey(entityType, localID))
}

func (s *memLocalStore) Get(_ context.Context, entityType sync.EntityType, localID uuid.UUID) (sync.Snapshot, error) {
	snap, ok := s.records[storeKey(entityType, localID)]
	if !ok {
		return nil, sync.ErrLocalRecordNotFound
	}
	return snap, nil
}

func (s *memLocalStore) FindByNaturalKey(_ context.Context, entityType sync.EntityType, key string) (uuid.UUID, sync.Snapshot, error) {
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

func (s *memLocalStore) Upsert(_ context.Context, entityType sync.EntityType, localID uuid.UUID, snapshot sync.Snapshot) (uuid.UUID, error) {
	if localID == uuid.Nil {
		localID = uuid.New()
	}
	key := storeKey(entityType, localID)
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

type remoteCall struct {
	entityType sync.EntityType
	remoteID   int64
	fields     sync.Snapshot
}

type scriptedPlatform struct {
	pages   map[sync.EntityType][][]sync.RemoteRecord
	byID    map[string]*sync.RemoteRecord
	updates []remoteCall
	listErr error
	getErr  error
}

func newScriptedPlatform() *scriptedPlatform {
	return &scriptedPlatform{
		pages: make(map[sync.EntityType][][]sync.RemoteRecord),
		byID:  make(map[string]*sync.RemoteRecord),
	}
}

func (p *scriptedPlatform) addRecord(entityType sync.EntityType, record sync.RemoteRecord) {
	p.byID[fmt.Sprintf("%s/%d", entityType, record.ID)] = &record
}

func (p *scriptedPlatform) List(_ context.Context, entityType sync.EntityType, page, _ int) ([]sync.RemoteRecord, error) {
	if p.listErr != nil {
		return nil, p.listErr
	}
	pages := p.pages[entityType]
	if page-1 >= len(pages) {
		return nil, nil
	}
	return pages[page-1], nil
}

func (p *scriptedPlatform) Get(_ context.Context, entityType sync.EntityType, remoteID int64) (*sync.RemoteRecord, error) {
	if p.getErr != nil {
		return nil, p.getErr
	}
	record, ok := p.byID[fmt.Sprintf("%s/%d", entityType, remoteID)]
	if !ok {
		return nil, errors.New("resource not found (status 404)")
	}
	return record, nil
}

func (p *scriptedPlatform) Update(_ context.Context, entityType sync.EntityType, remoteID int64, fields sync.Snapshot) error {
	p.updates = append(p.updates, remoteCall{entityType: entityType, remoteID: remoteID, fields: fields})
	return nil
}

func (p *scriptedPlatform) Create(_ context.Context, entityType sync.EntityType, fields sync.Snapshot) (*sync.RemoteRecord, error) {
	return &sync.RemoteRecord{ID: int64(len(p.byID) + 1), DateModified: time.Now(), Fields: fields}, nil
}

type memConflictRepo struct {
	conflicts map[uuid.UUID]*sync.Conflict
}

func newMemConflictRepo() *memConflictRepo {
	return &memConflictRepo{conflicts: make(map[uuid.UUID]*sync.Conflict)}
}

func (r *memConflictRepo) Save(_ context.Context, c *sync.Conflict) error {
	cp := *c
	r.conflicts[c.ID] = &cp
	return nil
}

func (r *memConflictRepo) FindByID(_ context.Context, id uuid.UUID) (*sync.Conflict, error) {
	c, ok := r.conflicts[id]
	if !ok {
		return nil, sync.ErrConflictNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memConflictRepo) FindPending(_ context.Context, limit int) ([]sync.Conflict, error) {
	var out []sync.Conflict
	for _, c := range r.conflicts {
		if c.Status == sync.ConflictStatusPending && len(out) < limit {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *memConflictRepo) FindBySync(_ context.Context, syncID uuid.UUID) ([]sync.Conflict, error) {
	var out []sync.Conflict
	for _, c := range r.conflicts {
		if c.SyncID == syncID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *memConflictRepo) CountByStatus(_ context.Context) (map[sync.ConflictStatus]int64, error) {
	out := make(map[sync.ConflictStatus]int64)
	for _, c := range r.conflicts {
		out[c.Status]++
	}
	return out, nil
}

type memBreakerRepo struct {
	states map[string]*recovery.CircuitBreakerState
}

func newMemBreakerRepo() *memBreakerRepo {
	return &memBreakerRepo{states: make(map[string]*recovery.CircuitBreakerState)}
}

func (r *memBreakerRepo) Find(_ context.Context, serviceName, operationName string) (*recovery.CircuitBreakerState, error) {
	s, ok := r.states[serviceName+"/"+operationName]
	if !ok {
		return nil, recovery.ErrBreakerNotFound
	}
	return s, nil
}

func (r *memBreakerRepo) Save(_ context.Context, state *recovery.CircuitBreakerState) error {
	r.states[state.ServiceName+"/"+state.OperationName] = state
	return nil
}

func (r *memBreakerRepo) FindOpen(_ context.Context) ([]recovery.CircuitBreakerState, error) {
	var out []recovery.CircuitBreakerState
	for _, s := range r.states {
		if s.State == recovery.BreakerOpen {
			out = append(out, *s)
		}
	}
	return out, nil
}

type capturedEvents struct {
	mu     gosync.Mutex
	events []shared.DomainEvent
}

func (p *capturedEvents) Publish(_ context.Context, events ...shared.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *capturedEvents) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType()
	}
	return out
}

var (
	_ sync.SessionRepository            = (*memSessionRepo)(nil)
	_ sync.SessionLock                  = (*memLock)(nil)
	_ sync.EntityMappingRepository      = (*memMappingRepo)(nil)
	_ sync.LocalStore                   = (*memLocalStore)(nil)
	_ sync.RemotePlatform               = (*scriptedPlatform)(nil)
	_ sync.ConflictRepository           = (*memConflictRepo)(nil)
	_ recovery.CircuitBreakerRepository = (*memBreakerRepo)(nil)
	_ shared.EventPublisher             = (*capturedEvents)(nil)
)
