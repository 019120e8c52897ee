// Package monitor closes the loop between external storage state and the
// booking state machine: when captured or selected files appear in a
// booking's folder, the booking advances without manual action.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"studiosync/internal/database"
	"studiosync/internal/events"
	"studiosync/internal/metrics"
	"studiosync/internal/models"
	"studiosync/internal/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// StatsProvider reports file counts for an external storage reference. A
// nil result means no signal, never zero files.
type StatsProvider interface {
	GetStats(ctx context.Context, ref string) (*storage.Stats, error)
}

// QueueKicker requests an opportunistic queue drain after a local write.
type QueueKicker interface {
	Kick()
}

type Monitor struct {
	db       *database.DB
	stats    StatsProvider
	queue    QueueKicker
	bus      *events.Bus
	interval time.Duration
	scanning atomic.Bool
	stop     chan struct{}
	logger   *zerolog.Logger
}

func New(db *database.DB, stats StatsProvider, queue QueueKicker, bus *events.Bus, interval time.Duration, logger *zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Monitor{
		db:       db,
		stats:    stats,
		queue:    queue,
		bus:      bus,
		interval: interval,
		stop:     make(chan struct{}),
		logger:   logger,
	}
}

// Start runs scan ticks until Stop is called or ctx is done. A tick that
// arrives while a scan is still running is dropped, not queued.
func (m *Monitor) Start(ctx context.Context) {
	m.logger.Info().Dur("interval", m.interval).Msg("workflow monitor started")
	defer m.logger.Info().Msg("workflow monitor stopped")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			if _, err := m.ScanOnce(ctx); err != nil {
				m.logger.Error().Err(err).Msg("scan failed")
			}
		}
	}
}

// Stop prevents any future tick from starting. A tick already in progress
// finishes and clears its guard on its own.
func (m *Monitor) Stop() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
}

// ScanOnce checks every automatable booking against its external storage
// signal and returns the number of transitions applied. Overlapping calls
// are skipped via the scanning guard; the guard is owned by this instance,
// so monitors under test do not interfere with each other.
func (m *Monitor) ScanOnce(ctx context.Context) (int, error) {
	if !m.scanning.CompareAndSwap(false, true) {
		m.logger.Debug().Msg("scan already in progress, skipping tick")
		return 0, nil
	}
	defer m.scanning.Store(false)

	bookings, err := m.db.GetAutomatableBookings(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch automatable bookings: %w", err)
	}

	transitions := 0
	for i := range bookings {
		booking := &bookings[i]
		advanced, err := m.checkBooking(ctx, booking)
		if err != nil {
			// One booking's lookup failure never aborts the scan.
			m.logger.Warn().Err(err).Str("booking_id", booking.ID).Msg("booking scan skipped")
			continue
		}
		if advanced {
			transitions++
		}
	}
	return transitions, nil
}

func (m *Monitor) checkBooking(ctx context.Context, booking *models.Booking) (bool, error) {
	stats, err := m.stats.GetStats(ctx, booking.FolderPath)
	if err != nil {
		return false, fmt.Errorf("storage stats for %s: %w", booking.FolderPath, err)
	}
	if stats == nil {
		return false, nil // no signal
	}

	switch booking.Status {
	case models.StatusShooting:
		if stats.Raw > 0 {
			note := fmt.Sprintf("Auto: %d raw file(s) detected in %s", stats.Raw, booking.FolderPath)
			return m.applyTransition(ctx, booking, models.StatusShootingCompleted, note)
		}
	case models.StatusSelection:
		if stats.Selected > 0 {
			note := fmt.Sprintf("Auto: %d file(s) marked selected in %s", stats.Selected, booking.FolderPath)
			return m.applyTransition(ctx, booking, models.StatusEditing, note)
		}
	}
	return false, nil
}

// applyTransition commits the local write first, then kicks the queue and
// notifies. The local write is authoritative; a crash before notification
// loses nothing but the toast. Returns whether the booking actually
// advanced; a booking that moved on since the fetch did not.
func (m *Monitor) applyTransition(ctx context.Context, booking *models.Booking, toStatus, note string) (bool, error) {
	payload, err := json.Marshal(map[string]string{
		"id":     booking.ID,
		"status": toStatus,
		"note":   note,
	})
	if err != nil {
		return false, fmt.Errorf("encode transition payload: %w", err)
	}

	item := &models.SyncQueueItem{
		ID:         uuid.NewString(),
		Action:     models.ActionUpdate,
		EntityType: "bookings",
		EntityID:   booking.ID,
		Payload:    string(payload),
	}

	err = m.db.TransitionBookingAndEnqueue(ctx, booking.ID, booking.Status, toStatus, note, item, "monitor")
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			// The booking moved on between fetch and write; the
			// prerequisite-state guard makes this a no-op.
			return false, nil
		}
		return false, fmt.Errorf("transition booking: %w", err)
	}

	metrics.IncTransition(toStatus)
	if m.queue != nil {
		m.queue.Kick()
	}
	if err := m.bus.PublishJSON(events.EventBookingTransitioned, events.BookingTransitionPayload{
		BookingID:  booking.ID,
		FromStatus: booking.Status,
		ToStatus:   toStatus,
		Note:       note,
	}); err != nil {
		m.logger.Warn().Err(err).Str("booking_id", booking.ID).Msg("transition notification failed")
	}

	m.logger.Info().
		Str("booking_id", booking.ID).
		Str("from", booking.Status).
		Str("to", toStatus).
		Msg("booking advanced by workflow automation")
	return true, nil
}
