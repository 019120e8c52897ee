package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"studiosync/internal/models"
)

const bookingColumns = `id, client_name, status, shoot_date, start_time, end_time, is_private, folder_path, notes, deleted_at, created_at, updated_at`

func scanBooking(row interface{ Scan(...interface{}) error }) (*models.Booking, error) {
	var b models.Booking
	err := row.Scan(
		&b.ID,
		&b.ClientName,
		&b.Status,
		&b.ShootDate,
		&b.StartTime,
		&b.EndTime,
		&b.IsPrivate,
		&b.FolderPath,
		&b.Notes,
		&b.DeletedAt,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBookingAndEnqueue inserts a booking, its sync queue item and an
// activity record in one transaction. If any insert fails, nothing is
// written — no queue item may exist without its domain write.
func (db *DB) CreateBookingAndEnqueue(ctx context.Context, booking *models.Booking, item *models.SyncQueueItem, actorID string) error {
	now := time.Now()
	booking.CreatedAt = now
	booking.UpdatedAt = now

	return db.withTx(ctx, func(tx *sql.Tx) error {
		query := `INSERT INTO bookings (` + bookingColumns + `)
                  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		_, err := tx.ExecContext(ctx, query,
			booking.ID,
			booking.ClientName,
			booking.Status,
			booking.ShootDate,
			booking.StartTime,
			booking.EndTime,
			booking.IsPrivate,
			booking.FolderPath,
			booking.Notes,
			booking.DeletedAt,
			booking.CreatedAt,
			booking.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create booking: %w", err)
		}
		if err := insertSyncItemTx(ctx, tx, item); err != nil {
			return err
		}
		return insertActivityTx(ctx, tx, actorID, "create", "bookings", booking.ID)
	})
}

// UpdateBookingAndEnqueue rewrites the mutable booking fields and enqueues
// the matching mutation in the same transaction.
func (db *DB) UpdateBookingAndEnqueue(ctx context.Context, booking *models.Booking, item *models.SyncQueueItem, actorID string) error {
	booking.UpdatedAt = time.Now()

	return db.withTx(ctx, func(tx *sql.Tx) error {
		query := `UPDATE bookings
                  SET client_name = ?, status = ?, shoot_date = ?, start_time = ?, end_time = ?,
                      is_private = ?, folder_path = ?, notes = ?, updated_at = ?
                  WHERE id = ? AND deleted_at IS NULL`
		res, err := tx.ExecContext(ctx, query,
			booking.ClientName,
			booking.Status,
			booking.ShootDate,
			booking.StartTime,
			booking.EndTime,
			booking.IsPrivate,
			booking.FolderPath,
			booking.Notes,
			booking.UpdatedAt,
			booking.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update booking: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		if err := insertSyncItemTx(ctx, tx, item); err != nil {
			return err
		}
		return insertActivityTx(ctx, tx, actorID, item.Action, "bookings", booking.ID)
	})
}

// TransitionBookingAndEnqueue sets a new status, appends an audit note
// explaining why, and enqueues the mutation — all in one transaction. The
// fromStatus guard makes the transition idempotent: a booking that already
// moved on is left alone and ErrNotFound is returned.
func (db *DB) TransitionBookingAndEnqueue(ctx context.Context, bookingID, fromStatus, toStatus, note string, item *models.SyncQueueItem, actorID string) error {
	now := time.Now()

	return db.withTx(ctx, func(tx *sql.Tx) error {
		query := `UPDATE bookings
                  SET status = ?, notes = CASE WHEN notes = '' THEN ? ELSE notes || char(10) || ? END, updated_at = ?
                  WHERE id = ? AND status = ? AND deleted_at IS NULL`
		res, err := tx.ExecContext(ctx, query, toStatus, note, note, now, bookingID, fromStatus)
		if err != nil {
			return fmt.Errorf("failed to transition booking: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		if err := insertSyncItemTx(ctx, tx, item); err != nil {
			return err
		}
		return insertActivityTx(ctx, tx, actorID, "transition", "bookings", bookingID)
	})
}

// SoftDeleteBookingAndEnqueue marks a booking deleted and enqueues the
// delete mutation. The row is never physically removed.
func (db *DB) SoftDeleteBookingAndEnqueue(ctx context.Context, bookingID string, item *models.SyncQueueItem, actorID string) error {
	now := time.Now()

	return db.withTx(ctx, func(tx *sql.Tx) error {
		query := `UPDATE bookings SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`
		res, err := tx.ExecContext(ctx, query, now, now, bookingID)
		if err != nil {
			return fmt.Errorf("failed to soft-delete booking: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		if err := insertSyncItemTx(ctx, tx, item); err != nil {
			return err
		}
		return insertActivityTx(ctx, tx, actorID, "delete", "bookings", bookingID)
	})
}

// AppendBookingNote appends a line to the booking's note log.
func (db *DB) AppendBookingNote(ctx context.Context, bookingID, note string) error {
	query := `UPDATE bookings
              SET notes = CASE WHEN notes = '' THEN ? ELSE notes || char(10) || ? END, updated_at = ?
              WHERE id = ? AND deleted_at IS NULL`
	res, err := db.ExecContext(ctx, query, note, note, time.Now(), bookingID)
	if err != nil {
		return fmt.Errorf("failed to append note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	booking, err := scanBooking(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return booking, nil
}

// GetBookingsByDate returns non-deleted bookings on a calendar date; this is
// the conflict detector's input set.
func (db *DB) GetBookingsByDate(ctx context.Context, shootDate string) ([]models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE shoot_date = ? AND deleted_at IS NULL
              ORDER BY start_time, created_at`
	return db.queryBookings(ctx, query, shootDate)
}

// GetActiveBookings returns all non-deleted bookings.
func (db *DB) GetActiveBookings(ctx context.Context) ([]models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE deleted_at IS NULL ORDER BY shoot_date, start_time`
	return db.queryBookings(ctx, query)
}

// GetAutomatableBookings returns non-deleted bookings in a state the
// workflow monitor can advance, with an external storage reference set.
func (db *DB) GetAutomatableBookings(ctx context.Context, statuses ...string) ([]models.Booking, error) {
	if len(statuses) == 0 {
		statuses = []string{models.StatusShooting, models.StatusSelection}
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE status IN (` + placeholders + `) AND folder_path != '' AND deleted_at IS NULL
              ORDER BY shoot_date`
	args := make([]interface{}, len(statuses))
	for i, s := range statuses {
		args[i] = s
	}
	return db.queryBookings(ctx, query, args...)
}

func (db *DB) queryBookings(ctx context.Context, query string, args ...interface{}) ([]models.Booking, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bookings, nil
}
