package recovery

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCircuitOpen is returned when the breaker short-circuits a call
	ErrCircuitOpen = errors.New("recovery: circuit breaker is open")
	// ErrBreakerNotFound is returned when no state exists for a key
	ErrBreakerNotFound = errors.New("recovery: breaker state not found")
)

// ---------------------------------------------------------------------------
// BreakerState
// ---------------------------------------------------------------------------

// BreakerState is the circuit breaker state machine position
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// String returns the string representation of BreakerState
func (s BreakerState) String() string {
	return string(s)
}

// ---------------------------------------------------------------------------
// CircuitBreakerState Entity
// ---------------------------------------------------------------------------

// CircuitBreakerState guards one (operation type, error category) pair.
// Closed counts failures and opens at the threshold; open short-circuits
// until NextAttempt; half-open allows a single trial whose outcome either
// closes the breaker or re-opens it with a fresh cooldown.
type CircuitBreakerState struct {
	ServiceName      string
	OperationName    string
	State            BreakerState
	FailureCount     int
	FailureThreshold int
	Cooldown         time.Duration
	LastFailure      *time.Time
	NextAttempt      *time.Time
	UpdatedAt        time.Time
}

// NewCircuitBreakerState creates a closed breaker for a key
func NewCircuitBreakerState(serviceName, operationName string, threshold int, cooldown time.Duration) *CircuitBreakerState {
	return &CircuitBreakerState{
		ServiceName:      serviceName,
		OperationName:    operationName,
		State:            BreakerClosed,
		FailureThreshold: threshold,
		Cooldown:         cooldown,
		UpdatedAt:        time.Now(),
	}
}

// Allow reports whether a call may proceed at the given instant. An open
// breaker whose cooldown has elapsed moves to half-open and admits one trial.
func (b *CircuitBreakerState) Allow(now time.Time) bool {
	switch b.State {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.NextAttempt != nil && !now.Before(*b.NextAttempt) {
			b.State = BreakerHalfOpen
			b.UpdatedAt = now
			return true
		}
		return false
	case BreakerHalfOpen:
		// Only a single trial is admitted; the trial caller already holds it
		return false
	default:
		return false
	}
}

// RecordSuccess registers a successful call. A half-open success closes the
// breaker and resets the failure count.
func (b *CircuitBreakerState) RecordSuccess(now time.Time) {
	b.State = BreakerClosed
	b.FailureCount = 0
	b.NextAttempt = nil
	b.UpdatedAt = now
}

// RecordFailure registers a failed call. Closed breakers open at the
// threshold; a half-open failure re-opens with a fresh cooldown.
func (b *CircuitBreakerState) RecordFailure(now time.Time) {
	b.LastFailure = &now
	b.UpdatedAt = now

	switch b.State {
	case BreakerClosed:
		b.FailureCount++
		if b.FailureCount >= b.FailureThreshold {
			b.open(now)
		}
	case BreakerHalfOpen:
		b.FailureCount = 0
		b.open(now)
	case BreakerOpen:
		// Already open; nothing to count
	}
}

func (b *CircuitBreakerState) open(now time.Time) {
	b.State = BreakerOpen
	next := now.Add(b.Cooldown)
	b.NextAttempt = &next
}

// ---------------------------------------------------------------------------
// CircuitBreakerRepository Interface
// ---------------------------------------------------------------------------

// CircuitBreakerRepository defines persistence for breaker states
type CircuitBreakerRepository interface {
	// Find loads the breaker state for a key
	Find(ctx context.Context, serviceName, operationName string) (*CircuitBreakerState, error)

	// Save creates or updates a breaker state
	Save(ctx context.Context, state *CircuitBreakerState) error

	// FindOpen returns all currently open breakers
	FindOpen(ctx context.Context) ([]CircuitBreakerState, error)
}
