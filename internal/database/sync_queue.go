package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"studiosync/internal/models"
)

const syncItemColumns = `seq, id, action, entity_type, entity_id, payload, status, attempt_count, last_error, created_at, processed_at, next_retry_at`

func insertSyncItemTx(ctx context.Context, tx *sql.Tx, item *models.SyncQueueItem) error {
	if item == nil {
		return nil
	}
	if item.Status == "" {
		item.Status = models.SyncPending
	}
	item.CreatedAt = time.Now()

	query := `INSERT INTO sync_queue (id, action, entity_type, entity_id, payload, status, attempt_count, last_error, created_at, next_retry_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, query,
		item.ID,
		item.Action,
		item.EntityType,
		item.EntityID,
		item.Payload,
		item.Status,
		item.AttemptCount,
		item.LastError,
		item.CreatedAt,
		item.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync item: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get sync item seq: %w", err)
	}
	item.Seq = seq
	return nil
}

func insertActivityTx(ctx context.Context, tx *sql.Tx, userID, action, entityType, entityID string) error {
	query := `INSERT INTO activity_log (user_id, action, entity_type, entity_id, created_at)
              VALUES (?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query, userID, action, entityType, entityID, time.Now()); err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}
	return nil
}

// CreateSyncItem enqueues a standalone item outside a domain transaction.
// Normal domain writes use the *AndEnqueue methods instead.
func (db *DB) CreateSyncItem(ctx context.Context, item *models.SyncQueueItem) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return insertSyncItemTx(ctx, tx, item)
	})
}

// GetReadySyncItems returns pending items whose retry time has passed and
// that are the oldest non-completed item for their (entity_type, entity_id)
// key. An earlier pending, in-flight or failed mutation on the same entity
// blocks everything behind it, which is what preserves per-entity order
// across reconnects and makes failed items require manual resolution.
func (db *DB) GetReadySyncItems(ctx context.Context, limit int) ([]models.SyncQueueItem, error) {
	query := `SELECT ` + syncItemColumns + ` FROM sync_queue q
              WHERE q.status = ?
                AND (q.next_retry_at IS NULL OR q.next_retry_at <= ?)
                AND NOT EXISTS (
                    SELECT 1 FROM sync_queue p
                    WHERE p.entity_type = q.entity_type
                      AND p.entity_id = q.entity_id
                      AND p.seq < q.seq
                      AND p.status != ?
                )
              ORDER BY q.seq ASC LIMIT ?`
	return db.querySyncItems(ctx, query, models.SyncPending, time.Now(), models.SyncCompleted, limit)
}

// ClaimSyncItem flips a pending item to in_progress. The conditional update
// is the single-flight guard: only one caller can win the claim, so
// concurrent drain triggers never double-process an item.
func (db *DB) ClaimSyncItem(ctx context.Context, id string) error {
	query := `UPDATE sync_queue SET status = ? WHERE id = ? AND status = ?`
	res, err := db.ExecContext(ctx, query, models.SyncInProgress, id, models.SyncPending)
	if err != nil {
		return fmt.Errorf("failed to claim sync item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotClaimable
	}
	return nil
}

// ResetInFlightSyncItems returns every in_progress item to pending. With a
// single active writer per device, an in_progress row at startup is an
// orphan from a crash between claim and settlement; left alone it would
// block its entity key forever.
func (db *DB) ResetInFlightSyncItems(ctx context.Context) (int64, error) {
	res, err := db.ExecContext(ctx, `UPDATE sync_queue SET status = ? WHERE status = ?`, models.SyncPending, models.SyncInProgress)
	if err != nil {
		return 0, fmt.Errorf("failed to reset in-flight sync items: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// MarkSyncItemCompleted finishes a delivered item.
func (db *DB) MarkSyncItemCompleted(ctx context.Context, id string) error {
	now := time.Now()
	query := `UPDATE sync_queue SET status = ?, last_error = NULL, next_retry_at = NULL, processed_at = ? WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, models.SyncCompleted, now, id); err != nil {
		return fmt.Errorf("failed to mark sync item completed: %w", err)
	}
	return nil
}

// MarkSyncItemRetry returns an item to pending with an incremented attempt
// count and a backoff deadline.
func (db *DB) MarkSyncItemRetry(ctx context.Context, id, errMsg string, nextRetryAt time.Time) error {
	query := `UPDATE sync_queue SET status = ?, last_error = ?, next_retry_at = ?, attempt_count = attempt_count + 1 WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, models.SyncPending, errMsg, nextRetryAt, id); err != nil {
		return fmt.Errorf("failed to mark sync item for retry: %w", err)
	}
	return nil
}

// MarkSyncItemFailed terminally fails an item. Failed items stay in the
// queue until resolved; they are never silently dropped.
func (db *DB) MarkSyncItemFailed(ctx context.Context, id, errMsg string) error {
	now := time.Now()
	query := `UPDATE sync_queue SET status = ?, last_error = ?, next_retry_at = NULL, attempt_count = attempt_count + 1, processed_at = ? WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, models.SyncFailed, errMsg, now, id); err != nil {
		return fmt.Errorf("failed to mark sync item failed: %w", err)
	}
	return nil
}

// ResolveFailedSyncItem closes a failed item and enqueues a replacement
// mutation in the same transaction, unblocking the entity key.
func (db *DB) ResolveFailedSyncItem(ctx context.Context, failedID string, replacement *models.SyncQueueItem, actorID string) error {
	now := time.Now()
	return db.withTx(ctx, func(tx *sql.Tx) error {
		query := `UPDATE sync_queue SET status = ?, processed_at = ? WHERE id = ? AND status = ?`
		res, err := tx.ExecContext(ctx, query, models.SyncCompleted, now, failedID, models.SyncFailed)
		if err != nil {
			return fmt.Errorf("failed to resolve sync item: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		if err := insertSyncItemTx(ctx, tx, replacement); err != nil {
			return err
		}
		return insertActivityTx(ctx, tx, actorID, models.ActionResolveConflict, replacement.EntityType, replacement.EntityID)
	})
}

func (db *DB) GetSyncItem(ctx context.Context, id string) (*models.SyncQueueItem, error) {
	query := `SELECT ` + syncItemColumns + ` FROM sync_queue WHERE id = ?`
	item, err := scanSyncItem(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync item: %w", err)
	}
	return item, nil
}

func (db *DB) GetFailedSyncItems(ctx context.Context) ([]models.SyncQueueItem, error) {
	query := `SELECT ` + syncItemColumns + ` FROM sync_queue WHERE status = ? ORDER BY seq DESC`
	return db.querySyncItems(ctx, query, models.SyncFailed)
}

// GetSyncItemsForEntity returns every queue item for an entity key in
// enqueue order, completed ones included.
func (db *DB) GetSyncItemsForEntity(ctx context.Context, entityType, entityID string) ([]models.SyncQueueItem, error) {
	query := `SELECT ` + syncItemColumns + ` FROM sync_queue WHERE entity_type = ? AND entity_id = ? ORDER BY seq ASC`
	return db.querySyncItems(ctx, query, entityType, entityID)
}

// CountSyncItemsByStatus feeds the queue depth metrics.
func (db *DB) CountSyncItemsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count sync items: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func scanSyncItem(row interface{ Scan(...interface{}) error }) (*models.SyncQueueItem, error) {
	var item models.SyncQueueItem
	err := row.Scan(
		&item.Seq,
		&item.ID,
		&item.Action,
		&item.EntityType,
		&item.EntityID,
		&item.Payload,
		&item.Status,
		&item.AttemptCount,
		&item.LastError,
		&item.CreatedAt,
		&item.ProcessedAt,
		&item.NextRetryAt,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (db *DB) querySyncItems(ctx context.Context, query string, args ...interface{}) ([]models.SyncQueueItem, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync items: %w", err)
	}
	defer rows.Close()

	var items []models.SyncQueueItem
	for rows.Next() {
		item, err := scanSyncItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}
