package models

import "time"

// Actions accepted by the remote sync service.
const (
	ActionCreate          = "create"
	ActionUpdate          = "update"
	ActionDelete          = "delete"
	ActionUpsert          = "upsert"
	ActionResolveConflict = "resolve_conflict"
)

// Sync queue item statuses.
const (
	SyncPending    = "pending"
	SyncInProgress = "in_progress"
	SyncCompleted  = "completed"
	SyncFailed     = "failed"
)

// SyncQueueItem is one durable pending mutation against the remote service.
// Seq is assigned by the local store and gives the oldest-first order that
// per-entity serialization relies on; CreatedAt is informational only.
type SyncQueueItem struct {
	ID           string     `json:"id"`
	Seq          int64      `json:"seq"`
	Action       string     `json:"action"`
	EntityType   string     `json:"entity_type"`
	EntityID     string     `json:"entity_id"`
	Payload      string     `json:"payload"`
	Status       string     `json:"status"`
	AttemptCount int        `json:"attempt_count"`
	LastError    *string    `json:"last_error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty"`
}
