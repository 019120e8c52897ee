package models

import "time"

// ActivityLogEntry is an immutable audit record. Entries are append-only and
// never mutated or deleted.
type ActivityLogEntry struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"user_id"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	CreatedAt  time.Time `json:"created_at"`
}
