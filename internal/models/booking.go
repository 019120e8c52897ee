package models

import "time"

// Booking lifecycle statuses. The automation monitor only ever moves a
// booking forward through these, never backward.
const (
	StatusPending           = "pending"
	StatusConfirmed         = "confirmed"
	StatusShooting          = "shooting"
	StatusShootingCompleted = "shooting_completed"
	StatusSelection         = "selection"
	StatusEditing           = "editing"
	StatusCompleted         = "completed"
	StatusCancelled         = "cancelled"
)

type Booking struct {
	ID         string     `json:"id"`
	ClientName string     `json:"client_name"`
	Status     string     `json:"status"`
	ShootDate  string     `json:"shoot_date"` // calendar date, YYYY-MM-DD
	StartTime  *string    `json:"start_time,omitempty"` // HH:MM, same day as ShootDate
	EndTime    *string    `json:"end_time,omitempty"`
	IsPrivate  bool       `json:"is_private"`
	FolderPath string     `json:"folder_path,omitempty"`
	Notes      string     `json:"notes"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// HasTimes reports whether both wall-clock times are set. A booking with no
// times participates in no overlap check.
func (b *Booking) HasTimes() bool {
	return b.StartTime != nil && b.EndTime != nil
}

// Deleted reports whether the booking is soft-deleted.
func (b *Booking) Deleted() bool {
	return b.DeletedAt != nil
}
