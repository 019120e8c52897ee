package database

import (
	"context"
	"database/sql"
	"fmt"

	"studiosync/internal/models"
)

// AppendActivity writes a standalone audit record outside of a domain
// transaction (the *AndEnqueue methods log their own).
func (db *DB) AppendActivity(ctx context.Context, entry *models.ActivityLogEntry) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return insertActivityTx(ctx, tx, entry.UserID, entry.Action, entry.EntityType, entry.EntityID)
	})
}

// GetActivityForEntity returns the audit trail for one entity, newest first.
func (db *DB) GetActivityForEntity(ctx context.Context, entityType, entityID string) ([]models.ActivityLogEntry, error) {
	query := `SELECT id, user_id, action, entity_type, entity_id, created_at
              FROM activity_log WHERE entity_type = ? AND entity_id = ?
              ORDER BY id DESC`
	rows, err := db.QueryContext(ctx, query, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity log: %w", err)
	}
	defer rows.Close()

	var entries []models.ActivityLogEntry
	for rows.Next() {
		var e models.ActivityLogEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.EntityType, &e.EntityID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
