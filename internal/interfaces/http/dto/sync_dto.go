package dto

import (
	"time"

	"github.com/erp/sync-engine/internal/domain/sync"
)

// StartSyncRequest configures a sync session
type StartSyncRequest struct {
	Direction   string   `json:"direction"`
	EntityTypes []string `json:"entity_types"`
	Force       bool     `json:"force"`
	BatchSize   int      `json:"batch_size"`
}

// ToOptions converts the request into domain sync options
func (r StartSyncRequest) ToOptions() sync.Options {
	opts := sync.Options{
		Direction: sync.SyncDirection(r.Direction),
		Force:     r.Force,
		BatchSize: r.BatchSize,
	}
	for _, t := range r.EntityTypes {
		opts.EntityTypes = append(opts.EntityTypes, sync.EntityType(t))
	}
	return opts
}

// SessionResponse is the API shape of a sync session
type SessionResponse struct {
	SyncID       string                  `json:"sync_id"`
	Type         string                  `json:"type"`
	Status       string                  `json:"status"`
	Results      map[string]EntityResult `json:"results"`
	ErrorDetails string                  `json:"error_details,omitempty"`
	StartedAt    time.Time               `json:"started_at"`
	CompletedAt  *time.Time              `json:"completed_at,omitempty"`
}

// EntityResult is the API shape of per-entity sync counters
type EntityResult struct {
	Pulled    int      `json:"pulled"`
	Pushed    int      `json:"pushed"`
	Conflicts int      `json:"conflicts"`
	Errors    []string `json:"errors,omitempty"`
}

// SessionResponseFromDomain converts a domain session
func SessionResponseFromDomain(s *sync.Session) SessionResponse {
	resp := SessionResponse{
		SyncID:       s.SyncID.String(),
		Type:         string(s.Type),
		Status:       string(s.Status),
		Results:      make(map[string]EntityResult, len(s.Results)),
		ErrorDetails: s.ErrorDetails,
		StartedAt:    s.StartedAt,
		CompletedAt:  s.CompletedAt,
	}
	for entityType, result := range s.Results {
		resp.Results[entityType.String()] = EntityResult{
			Pulled:    result.Pulled,
			Pushed:    result.Pushed,
			Conflicts: result.Conflicts,
			Errors:    result.Errors,
		}
	}
	return resp
}

// ConflictResponse is the API shape of a conflict
type ConflictResponse struct {
	ID            string     `json:"id"`
	SyncID        string     `json:"sync_id"`
	EntityType    string     `json:"entity_type"`
	EntityID      string     `json:"entity_id"`
	FieldName     string     `json:"field_name"`
	ConflictType  string     `json:"conflict_type"`
	LocalValue    any        `json:"local_value"`
	RemoteValue   any        `json:"remote_value"`
	ResolvedValue any        `json:"resolved_value,omitempty"`
	Status        string     `json:"status"`
	Strategy      string     `json:"strategy,omitempty"`
	AutoResolved  bool       `json:"auto_resolved"`
	CreatedAt     time.Time  `json:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

// ConflictResponseFromDomain converts a domain conflict
func ConflictResponseFromDomain(c *sync.Conflict) ConflictResponse {
	return ConflictResponse{
		ID:            c.ID.String(),
		SyncID:        c.SyncID.String(),
		EntityType:    c.EntityType.String(),
		EntityID:      c.EntityID.String(),
		FieldName:     c.FieldName,
		ConflictType:  string(c.ConflictType),
		LocalValue:    c.LocalValue,
		RemoteValue:   c.RemoteValue,
		ResolvedValue: c.ResolvedValue,
		Status:        string(c.Status),
		Strategy:      c.Strategy.String(),
		AutoResolved:  c.AutoResolved,
		CreatedAt:     c.CreatedAt,
		ResolvedAt:    c.ResolvedAt,
	}
}

// ResolveConflictRequest carries an operator's manual decision
type ResolveConflictRequest struct {
	Winner      string `json:"winner" binding:"required"`
	CustomValue any    `json:"custom_value"`
}

// QueueJobRequest queues a batch job
type QueueJobRequest struct {
	Type         string         `json:"type" binding:"required"`
	Payload      map[string]any `json:"payload"`
	Priority     int            `json:"priority"`
	BatchSize    int            `json:"batch_size"`
	MaxRetries   int            `json:"max_retries"`
	ScheduledFor *time.Time     `json:"scheduled_for"`
}

// WebhookEnvelope is the inbound delivery body
type WebhookEnvelope struct {
	EventType  string `json:"event_type"`
	ResourceID int64  `json:"resource_id"`
}
