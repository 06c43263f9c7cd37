package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrEventNotFound   = errors.New("webhook: event not found")
	ErrDuplicateEvent  = errors.New("webhook: duplicate event delivery")
	ErrEventTerminal   = errors.New("webhook: event already in a terminal state")
	ErrInvalidEvent    = errors.New("webhook: invalid event")
	ErrRateLimited     = errors.New("webhook: source rate limited")
	ErrBadSignature    = errors.New("webhook: signature verification failed")
	ErrRetriesExceeded = errors.New("webhook: retry attempts exceeded")
)

// MaxAttempts is the delivery processing retry bound
const MaxAttempts = 3

// ---------------------------------------------------------------------------
// EventStatus
// ---------------------------------------------------------------------------

// EventStatus is the lifecycle state of a webhook event
type EventStatus string

const (
	EventStatusPending   EventStatus = "pending"
	EventStatusProcessed EventStatus = "processed"
	EventStatusFailed    EventStatus = "failed"
)

// ---------------------------------------------------------------------------
// Event Entity
// ---------------------------------------------------------------------------

// Event is an inbound change notification from the platform. Duplicate
// deliveries are detected through the idempotency key.
type Event struct {
	ID             uuid.UUID
	EventType      string
	ResourceID     int64
	Payload        []byte
	Signature      string
	SourceIP       string
	IdempotencyKey string
	Status         EventStatus
	RetryCount     int
	LastError      string
	NextRetryAt    *time.Time
	ProcessedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewEvent creates a pending webhook event with its idempotency key derived
// from (eventType, resourceID, payload hash).
func NewEvent(eventType string, resourceID int64, payload []byte, signature, sourceIP string) (*Event, error) {
	if eventType == "" || len(payload) == 0 {
		return nil, ErrInvalidEvent
	}
	now := time.Now()
	return &Event{
		ID:             uuid.New(),
		EventType:      eventType,
		ResourceID:     resourceID,
		Payload:        payload,
		Signature:      signature,
		SourceIP:       sourceIP,
		IdempotencyKey: IdempotencyKey(eventType, resourceID, payload),
		Status:         EventStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// IdempotencyKey derives the duplicate-detection key for a delivery
func IdempotencyKey(eventType string, resourceID int64, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(eventType))
	h.Write([]byte{0})
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(resourceID >> (56 - 8*i))
	}
	h.Write(buf[:])
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// MarkProcessed marks the event successfully applied
func (e *Event) MarkProcessed() error {
	if e.Status != EventStatusPending {
		return ErrEventTerminal
	}
	now := time.Now()
	e.Status = EventStatusProcessed
	e.ProcessedAt = &now
	e.UpdatedAt = now
	return nil
}

// MarkFailed records a processing failure. While attempts remain the event
// stays pending with an exponential backoff schedule; otherwise it becomes
// terminally failed.
func (e *Event) MarkFailed(errMsg string, baseBackoff time.Duration) error {
	if e.Status != EventStatusPending {
		return ErrEventTerminal
	}
	e.RetryCount++
	e.LastError = errMsg
	now := time.Now()
	e.UpdatedAt = now

	if e.RetryCount >= MaxAttempts {
		e.Status = EventStatusFailed
		e.NextRetryAt = nil
		return ErrRetriesExceeded
	}
	// 1x, 2x, 4x base backoff
	next := now.Add(baseBackoff * time.Duration(1<<uint(e.RetryCount-1)))
	e.NextRetryAt = &next
	return nil
}

// Requeue returns a terminally failed event to the pending state with a
// fresh attempt budget. Used by operator-driven replays.
func (e *Event) Requeue() error {
	if e.Status != EventStatusFailed {
		return ErrEventTerminal
	}
	e.Status = EventStatusPending
	e.RetryCount = 0
	e.LastError = ""
	e.NextRetryAt = nil
	e.UpdatedAt = time.Now()
	return nil
}

// ---------------------------------------------------------------------------
// EventRepository Interface
// ---------------------------------------------------------------------------

// EventRepository defines persistence for webhook events. Insert must
// enforce idempotency-key uniqueness and surface ErrDuplicateEvent.
type EventRepository interface {
	// Insert persists a new event; returns ErrDuplicateEvent when the
	// idempotency key already exists
	Insert(ctx context.Context, event *Event) error

	// Update updates an existing event
	Update(ctx context.Context, event *Event) error

	// FindByID finds an event by ID
	FindByID(ctx context.Context, id uuid.UUID) (*Event, error)

	// FindDue returns pending events ready for (re)processing
	FindDue(ctx context.Context, before time.Time, limit int) ([]Event, error)

	// FindFailed returns terminally failed events, oldest first
	FindFailed(ctx context.Context, limit int) ([]Event, error)

	// CountByStatus returns event counts per status
	CountByStatus(ctx context.Context) (map[EventStatus]int64, error)

	// DeleteOlderThan removes processed events past the retention window
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}
