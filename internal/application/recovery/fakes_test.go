package recovery

import (
	"context"
	"time"

	"github.com/erp/sync-engine/internal/domain/recovery"
	"github.com/erp/sync-engine/internal/domain/shared"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// In-memory port fakes shared by the tests in this package
// ---------------------------------------------------------------------------

type fakeBreakerRepo struct {
	states map[string]*recovery.CircuitBreakerState
	saves  int
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
	r.saves++
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

type fakeRecordRepo struct {
	records map[uuid.UUID]*recovery.ErrorRecord
}

func newFakeRecordRepo() *fakeRecordRepo {
	return &fakeRecordRepo{records: make(map[uuid.UUID]*recovery.ErrorRecord)}
}

func (r *fakeRecordRepo) Save(_ context.Context, record *recovery.ErrorRecord) error {
	cp := *record
	r.records[record.ID] = &cp
	return nil
}

func (r *fakeRecordRepo) FindByID(_ context.Context, id uuid.UUID) (*recovery.ErrorRecord, error) {
	rec, ok := r.records[id]
	if !ok {
		return nil, recovery.ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *fakeRecordRepo) FindDue(_ context.Context, before time.Time, limit int) ([]recovery.ErrorRecord, error) {
	var out []recovery.ErrorRecord
	for _, rec := range r.records {
		if rec.RecoveryStatus == recovery.RecoveryStatusPending &&
			rec.NextRetryAt != nil && rec.NextRetryAt.Before(before) && len(out) < limit {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (r *fakeRecordRepo) FindPendingManual(_ context.Context, limit int) ([]recovery.ErrorRecord, error) {
	var out []recovery.ErrorRecord
	for _, rec := range r.records {
		if rec.RecoveryStatus == recovery.RecoveryStatusPending &&
			rec.RecoveryStrategy == recovery.RecoveryManual && len(out) < limit {
			out = append(out, *rec)
		}
	}
	return out, nil
}

type fakeAttemptRepo struct {
	logs []recovery.AttemptLog
}

func (r *fakeAttemptRepo) Append(_ context.Context, log *recovery.AttemptLog) error {
	r.logs = append(r.logs, *log)
	return nil
}

func (r *fakeAttemptRepo) Stats(_ context.Context, _ time.Time) ([]recovery.RecoveryStats, error) {
	byCategory := make(map[recovery.ErrorCategory]*recovery.RecoveryStats)
	for _, l := range r.logs {
		s, ok := byCategory[l.Category]
		if !ok {
			s = &recovery.RecoveryStats{Category: l.Category}
			byCategory[l.Category] = s
		}
		s.Attempts++
		if l.Success {
			s.Successes++
		}
	}
	var out []recovery.RecoveryStats
	for _, s := range byCategory {
		out = append(out, *s)
	}
	return out, nil
}

type capturedEvents struct {
	events []shared.DomainEvent
}

func (p *capturedEvents) Publish(_ context.Context, events ...shared.DomainEvent) error {
	p.events = append(p.events, events...)
	return nil
}

func (p *capturedEvents) types() []string {
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType()
	}
	return out
}

var (
	_ recovery.CircuitBreakerRepository = (*fakeBreakerRepo)(nil)
	_ recovery.ErrorRecordRepository    = (*fakeRecordRepo)(nil)
	_ recovery.AttemptLogRepository     = (*fakeAttemptRepo)(nil)
	_ shared.EventPublisher             = (*capturedEvents)(nil)
)
