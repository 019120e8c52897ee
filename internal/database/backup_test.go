package database

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"studiosync/internal/config"
	"studiosync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupService(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "source.db")
	storagePath := filepath.Join(tempDir, "backups")

	logger := zerolog.Nop()
	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	booking := &models.Booking{ID: "b1", ClientName: "Anna", Status: models.StatusPending, ShootDate: "2025-07-01"}
	item := newSyncItem("m1", models.ActionCreate, "b1")
	require.NoError(t, db.CreateBookingAndEnqueue(context.Background(), booking, item, "test"))
	require.NoError(t, db.Close())

	cfg := config.BackupConfig{
		Enabled:       true,
		StoragePath:   storagePath,
		RetentionDays: 1,
	}
	s := NewBackupService(dbPath, cfg, &logger)

	t.Run("PerformBackup", func(t *testing.T) {
		require.NoError(t, s.PerformBackup())

		files, err := os.ReadDir(storagePath)
		require.NoError(t, err)
		require.Len(t, files, 1)

		// The snapshot is a usable database with the data intact.
		snapshot, err := sql.Open("sqlite3", filepath.Join(storagePath, files[0].Name()))
		require.NoError(t, err)
		defer snapshot.Close()

		var bookings, queued int
		require.NoError(t, snapshot.QueryRow("SELECT COUNT(*) FROM bookings").Scan(&bookings))
		require.NoError(t, snapshot.QueryRow("SELECT COUNT(*) FROM sync_queue").Scan(&queued))
		assert.Equal(t, 1, bookings)
		assert.Equal(t, 1, queued)
	})

	t.Run("CleanupOldBackups", func(t *testing.T) {
		oldFile := filepath.Join(storagePath, "backup_old.db")
		require.NoError(t, os.WriteFile(oldFile, []byte("old"), 0o644))

		oldTime := time.Now().AddDate(0, 0, -2)
		require.NoError(t, os.Chtimes(oldFile, oldTime, oldTime))

		s.CleanupOldBackups()

		files, err := os.ReadDir(storagePath)
		require.NoError(t, err)
		// The fresh snapshot survives, the expired one is gone.
		require.Len(t, files, 1)
		assert.NotEqual(t, "backup_old.db", files[0].Name())
	})
}

func TestBackupServiceDisabled(_ *testing.T) {
	logger := zerolog.Nop()
	s := NewBackupService("any", config.BackupConfig{Enabled: false}, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Start(ctx) // must return immediately
}
