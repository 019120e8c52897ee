// Package service holds the application-facing booking operations: every
// local write is conflict-checked first and paired with its sync queue item
// in one transaction.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"studiosync/internal/conflict"
	"studiosync/internal/database"
	"studiosync/internal/events"
	"studiosync/internal/metrics"
	"studiosync/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// QueueKicker requests an opportunistic queue drain after a local write.
type QueueKicker interface {
	Kick()
}

// ConflictError is returned when the severity policy blocks a save. The
// full evaluation result travels with it so callers can show the user what
// collided.
type ConflictError struct {
	Result conflict.Result
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("booking conflict: %s", e.Result.Message)
}

type BookingService struct {
	db     *database.DB
	queue  QueueKicker
	bus    *events.Bus
	logger *zerolog.Logger
}

func NewBookingService(db *database.DB, queue QueueKicker, bus *events.Bus, logger *zerolog.Logger) *BookingService {
	return &BookingService{
		db:     db,
		queue:  queue,
		bus:    bus,
		logger: logger,
	}
}

// CreateBooking validates and conflict-checks the candidate, then persists
// it together with its create mutation. The returned result is always the
// fresh evaluation, including on a blocked save. On severity error nothing
// is written and the error is a *ConflictError.
func (s *BookingService) CreateBooking(ctx context.Context, booking *models.Booking) (conflict.Result, error) {
	if err := validateBooking(booking); err != nil {
		return conflict.Result{}, err
	}
	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}
	if booking.Status == "" {
		booking.Status = models.StatusPending
	}

	result, err := s.evaluate(ctx, booking)
	if err != nil {
		return conflict.Result{}, err
	}
	if !result.CanSave {
		return result, &ConflictError{Result: result}
	}

	item, err := s.buildItem(models.ActionCreate, booking)
	if err != nil {
		return conflict.Result{}, err
	}
	if err := s.db.CreateBookingAndEnqueue(ctx, booking, item, "user"); err != nil {
		return conflict.Result{}, err
	}

	s.afterWrite(events.EventBookingCreated, booking)
	if result.Severity == conflict.SeverityWarning {
		s.logger.Warn().
			Str("booking_id", booking.ID).
			Int("conflicting", len(result.Conflicting)).
			Msg("booking saved despite overlap warning")
	}
	return result, nil
}

// UpdateBooking re-runs the conflict check with the booking's own prior
// slot excluded, then rewrites the row and enqueues an upsert mutation.
func (s *BookingService) UpdateBooking(ctx context.Context, booking *models.Booking) (conflict.Result, error) {
	if err := validateBooking(booking); err != nil {
		return conflict.Result{}, err
	}
	if booking.ID == "" {
		return conflict.Result{}, fmt.Errorf("booking id is required")
	}

	result, err := s.evaluate(ctx, booking)
	if err != nil {
		return conflict.Result{}, err
	}
	if !result.CanSave {
		return result, &ConflictError{Result: result}
	}

	item, err := s.buildItem(models.ActionUpsert, booking)
	if err != nil {
		return conflict.Result{}, err
	}
	if err := s.db.UpdateBookingAndEnqueue(ctx, booking, item, "user"); err != nil {
		return conflict.Result{}, err
	}

	s.afterWrite(events.EventBookingUpdated, booking)
	return result, nil
}

// CancelBooking soft-deletes the booking and enqueues the delete mutation.
// Cancellation is never conflict-checked; removing a booking cannot collide.
func (s *BookingService) CancelBooking(ctx context.Context, bookingID string) error {
	payload, err := json.Marshal(map[string]string{"id": bookingID})
	if err != nil {
		return fmt.Errorf("encode delete payload: %w", err)
	}
	item := &models.SyncQueueItem{
		ID:         uuid.NewString(),
		Action:     models.ActionDelete,
		EntityType: "bookings",
		EntityID:   bookingID,
		Payload:    string(payload),
	}
	if err := s.db.SoftDeleteBookingAndEnqueue(ctx, bookingID, item, "user"); err != nil {
		return err
	}

	if s.queue != nil {
		s.queue.Kick()
	}
	if err := s.bus.PublishJSON(events.EventBookingCancelled, map[string]string{"id": bookingID}); err != nil {
		s.logger.Warn().Err(err).Str("booking_id", bookingID).Msg("cancel notification failed")
	}
	return nil
}

// ResolveFailedSync closes a terminally failed queue item and resubmits the
// entity's current local state as a resolve_conflict mutation, unblocking
// everything queued behind it.
func (s *BookingService) ResolveFailedSync(ctx context.Context, itemID string) error {
	failed, err := s.db.GetSyncItem(ctx, itemID)
	if err != nil {
		return err
	}
	if failed.Status != models.SyncFailed {
		return fmt.Errorf("sync item %s is %s, only failed items can be resolved", itemID, failed.Status)
	}

	payload := failed.Payload
	if failed.EntityType == "bookings" {
		booking, err := s.db.GetBooking(ctx, failed.EntityID)
		if err == nil {
			data, merr := json.Marshal(booking)
			if merr != nil {
				return fmt.Errorf("encode resolution payload: %w", merr)
			}
			payload = string(data)
		}
	}

	replacement := &models.SyncQueueItem{
		ID:         uuid.NewString(),
		Action:     models.ActionResolveConflict,
		EntityType: failed.EntityType,
		EntityID:   failed.EntityID,
		Payload:    payload,
	}
	if err := s.db.ResolveFailedSyncItem(ctx, itemID, replacement, "user"); err != nil {
		return err
	}

	s.logger.Info().
		Str("failed_item_id", itemID).
		Str("replacement_id", replacement.ID).
		Str("entity_id", failed.EntityID).
		Msg("failed sync item resolved")
	if s.queue != nil {
		s.queue.Kick()
	}
	return nil
}

// CheckConflicts evaluates a candidate without writing anything. Used by the
// API to preview a slot.
func (s *BookingService) CheckConflicts(ctx context.Context, booking *models.Booking) (conflict.Result, error) {
	if err := validateBooking(booking); err != nil {
		return conflict.Result{}, err
	}
	return s.evaluate(ctx, booking)
}

func (s *BookingService) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	return s.db.GetBooking(ctx, id)
}

func (s *BookingService) ListBookings(ctx context.Context, shootDate string) ([]models.Booking, error) {
	if shootDate != "" {
		return s.db.GetBookingsByDate(ctx, shootDate)
	}
	return s.db.GetActiveBookings(ctx)
}

func (s *BookingService) FailedSyncItems(ctx context.Context) ([]models.SyncQueueItem, error) {
	return s.db.GetFailedSyncItems(ctx)
}

func (s *BookingService) evaluate(ctx context.Context, booking *models.Booking) (conflict.Result, error) {
	existing, err := s.db.GetBookingsByDate(ctx, booking.ShootDate)
	if err != nil {
		return conflict.Result{}, fmt.Errorf("load bookings for %s: %w", booking.ShootDate, err)
	}
	result := conflict.Evaluate(*booking, existing)
	metrics.IncConflict(string(result.Severity))
	return result, nil
}

func (s *BookingService) buildItem(action string, booking *models.Booking) (*models.SyncQueueItem, error) {
	payload, err := json.Marshal(booking)
	if err != nil {
		return nil, fmt.Errorf("encode booking payload: %w", err)
	}
	return &models.SyncQueueItem{
		ID:         uuid.NewString(),
		Action:     action,
		EntityType: "bookings",
		EntityID:   booking.ID,
		Payload:    string(payload),
	}, nil
}

// afterWrite runs the post-commit side effects: kick the queue so the
// mutation leaves promptly when online, then notify. Neither can undo the
// committed write.
func (s *BookingService) afterWrite(eventType string, booking *models.Booking) {
	if s.queue != nil {
		s.queue.Kick()
	}
	if err := s.bus.PublishJSON(eventType, booking); err != nil {
		s.logger.Warn().Err(err).Str("booking_id", booking.ID).Msg("booking notification failed")
	}
}

func validateBooking(b *models.Booking) error {
	if b.ClientName == "" {
		return fmt.Errorf("client name is required")
	}
	if _, err := time.Parse("2006-01-02", b.ShootDate); err != nil {
		return fmt.Errorf("invalid shoot date %q, expected YYYY-MM-DD", b.ShootDate)
	}
	if (b.StartTime == nil) != (b.EndTime == nil) {
		return fmt.Errorf("start and end time must be set together")
	}
	if b.HasTimes() {
		start, err := time.Parse("15:04", *b.StartTime)
		if err != nil {
			return fmt.Errorf("invalid start time %q, expected HH:MM", *b.StartTime)
		}
		end, err := time.Parse("15:04", *b.EndTime)
		if err != nil {
			return fmt.Errorf("invalid end time %q, expected HH:MM", *b.EndTime)
		}
		if !end.After(start) {
			return fmt.Errorf("end time must be after start time")
		}
	}
	return nil
}
