// Package conflict decides whether a candidate booking collides with
// existing bookings on the same calendar date. Evaluation is pure and does
// no I/O; callers supply the booking set and filter out soft-deleted rows.
package conflict

import (
	"fmt"
	"strconv"
	"strings"

	"studiosync/internal/models"
)

type Severity string

const (
	SeverityNone    Severity = "none"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Result is computed fresh on every save attempt and never cached; the
// booking set may have changed between calls.
type Result struct {
	Severity    Severity         `json:"severity"`
	Message     string           `json:"message,omitempty"`
	Conflicting []models.Booking `json:"conflicting_bookings,omitempty"`
	CanSave     bool             `json:"can_save"`
}

// Evaluate applies the severity policy in strict order: a private candidate
// overlapping anything is an error; a plain candidate overlapping a private
// booking is an error; remaining overlaps are a warning. Privacy dominates
// plain double-booking.
//
// Times are expected to be validated HH:MM strings before they get here
// (the service layer rejects anything else). A booking whose times fail to
// parse is treated as untimed and participates in no overlap check, the
// same as a booking with no times at all.
func Evaluate(candidate models.Booking, existing []models.Booking) Result {
	if !candidate.HasTimes() {
		return Result{Severity: SeverityNone, CanSave: true}
	}

	candStart, candEnd, err := slotMinutes(&candidate)
	if err != nil {
		return Result{Severity: SeverityNone, CanSave: true}
	}

	var overlaps []models.Booking
	var privateOverlaps []models.Booking
	for _, other := range existing {
		if other.ID == candidate.ID || other.Deleted() {
			continue
		}
		if other.ShootDate != candidate.ShootDate || !other.HasTimes() {
			continue
		}
		start, end, err := slotMinutes(&other)
		if err != nil {
			continue
		}
		if candStart < end && candEnd > start {
			overlaps = append(overlaps, other)
			if other.IsPrivate {
				privateOverlaps = append(privateOverlaps, other)
			}
		}
	}

	switch {
	case candidate.IsPrivate && len(overlaps) > 0:
		return Result{
			Severity:    SeverityError,
			Message:     fmt.Sprintf("private session overlaps %d existing booking(s)", len(overlaps)),
			Conflicting: overlaps,
			CanSave:     false,
		}
	case len(privateOverlaps) > 0:
		return Result{
			Severity:    SeverityError,
			Message:     fmt.Sprintf("time slot overlaps %d private session(s)", len(privateOverlaps)),
			Conflicting: privateOverlaps,
			CanSave:     false,
		}
	case len(overlaps) > 0:
		return Result{
			Severity:    SeverityWarning,
			Message:     fmt.Sprintf("time slot overlaps %d existing booking(s)", len(overlaps)),
			Conflicting: overlaps,
			CanSave:     true,
		}
	}

	return Result{Severity: SeverityNone, CanSave: true}
}

func slotMinutes(b *models.Booking) (start, end int, err error) {
	start, err = parseMinutes(*b.StartTime)
	if err != nil {
		return 0, 0, err
	}
	end, err = parseMinutes(*b.EndTime)
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// parseMinutes converts an HH:MM wall-clock string to minutes since midnight.
func parseMinutes(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}
