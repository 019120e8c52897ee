package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"studiosync/internal/api"
	"studiosync/internal/config"
	"studiosync/internal/database"
	"studiosync/internal/events"
	"studiosync/internal/export"
	"studiosync/internal/logging"
	"studiosync/internal/metrics"
	"studiosync/internal/monitor"
	"studiosync/internal/remote"
	"studiosync/internal/repository"
	"studiosync/internal/service"
	"studiosync/internal/storage"
	"studiosync/internal/syncqueue"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	if err := prepareDirectories(cfg); err != nil {
		logger.Error().Err(err).Msg("failed to prepare directories")
		return err
	}

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open database")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
	}

	redisClient := initRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer repository.Close(redisClient)
	}

	bus := events.NewBus()
	subscribeNotifications(bus, db, logger)

	bridge := remote.NewBridge(cfg.Remote, logger)
	retryPolicy := syncqueue.RetryPolicy{
		MaxAttempts:   cfg.Sync.MaxAttempts,
		InitialDelay:  cfg.Sync.InitialDelay(),
		MaxDelay:      cfg.Sync.MaxDelay(),
		BackoffFactor: cfg.Sync.BackoffFactor,
	}
	queueLogger := logging.Component(logger, "syncqueue")
	manager := syncqueue.NewManager(db, bridge, redisClient, bus, retryPolicy, &queueLogger)
	manager.SetPollInterval(cfg.Sync.PollInterval())
	go manager.Start(ctx)

	if cfg.Monitor.Enabled {
		storageClient := storage.NewClient(cfg.Storage, logger)
		monitorLogger := logging.Component(logger, "monitor")
		mon := monitor.New(db, storageClient, manager, bus, cfg.Monitor.ScanInterval(), &monitorLogger)
		go mon.Start(ctx)
		defer mon.Stop()
	}

	bookingService := service.NewBookingService(db, manager, bus, logger)

	if cfg.API.Enabled {
		exporter := export.NewExporter(db, cfg.Exports.Path, logger)
		apiLogger := logging.Component(logger, "api")
		apiServer := api.NewServer(cfg.API, bookingService, manager, exporter, &apiLogger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("api server error")
			}
		}()
		defer func() {
			_ = apiServer.Shutdown(context.Background())
		}()
	}

	if cfg.Backup.Enabled {
		backupService := database.NewBackupService(cfg.Database.Path, cfg.Backup, logger)
		go backupService.Start(ctx)
	}

	logger.Info().Str("version", cfg.App.Version).Msg("studiosync started")
	<-ctx.Done()
	logger.Info().Msg("shutdown complete")
	return nil
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, closer, nil
}

func prepareDirectories(cfg *config.Config) error {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}
	if cfg.Exports.Path != "" {
		if err := os.MkdirAll(cfg.Exports.Path, 0o755); err != nil {
			return fmt.Errorf("create export directory: %w", err)
		}
	}
	return nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}
	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, continuing without it")
	}
	return client
}

// subscribeNotifications wires the notification sink: terminal sync failures
// get an audit note on their booking so the front desk sees them, and
// automated transitions are logged.
func subscribeNotifications(bus *events.Bus, db *database.DB, logger *zerolog.Logger) {
	bus.Subscribe(events.EventSyncItemFailed, func(ev *events.Event) error {
		var payload events.SyncFailurePayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			logger.Error().Err(err).Msg("event bus: decode sync failure")
			return nil
		}
		if payload.EntityType != "bookings" {
			return nil
		}
		note := fmt.Sprintf("Sync failed after %d attempt(s): %s", payload.Attempts, payload.Error)
		if err := db.AppendBookingNote(context.Background(), payload.EntityID, note); err != nil {
			logger.Error().Err(err).Str("booking_id", payload.EntityID).Msg("event bus: append failure note")
		}
		return nil
	})

	bus.Subscribe(events.EventBookingTransitioned, func(ev *events.Event) error {
		var payload events.BookingTransitionPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			logger.Error().Err(err).Msg("event bus: decode transition")
			return nil
		}
		logger.Info().
			Str("booking_id", payload.BookingID).
			Str("from", payload.FromStatus).
			Str("to", payload.ToStatus).
			Msg("booking advanced")
		return nil
	})
}
