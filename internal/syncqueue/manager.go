// Package syncqueue drains the durable mutation queue against the remote
// authoritative service. It is the only component allowed to move queue
// items through in_progress/completed/failed and the only caller of the
// remote bridge.
package syncqueue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"studiosync/internal/database"
	"studiosync/internal/events"
	"studiosync/internal/metrics"
	"studiosync/internal/models"
	"studiosync/internal/remote"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Submitter forwards one mutation to the remote service.
type Submitter interface {
	Submit(ctx context.Context, action, entityType, entityID string, payload json.RawMessage) remote.Result
}

type Manager struct {
	db            *database.DB
	bridge        Submitter
	redis         *redis.Client
	bus           *events.Bus
	retry         RetryPolicy
	recoverOnce   sync.Once
	kick          chan struct{}
	pollInterval  time.Duration
	batchSize     int
	deadLetterKey string
	kickChannel   string
	logger        *zerolog.Logger
}

func NewManager(db *database.DB, bridge Submitter, redisClient *redis.Client, bus *events.Bus, retry RetryPolicy, logger *zerolog.Logger) *Manager {
	if retry.MaxAttempts == 0 {
		retry.MaxAttempts = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}

	return &Manager{
		db:            db,
		bridge:        bridge,
		redis:         redisClient,
		bus:           bus,
		retry:         retry,
		kick:          make(chan struct{}, 1),
		pollInterval:  15 * time.Second,
		batchSize:     20,
		deadLetterKey: "studiosync:deadletter",
		kickChannel:   "studiosync:drain",
		logger:        logger,
	}
}

// SetPollInterval overrides the periodic drain interval.
func (m *Manager) SetPollInterval(d time.Duration) {
	if d > 0 {
		m.pollInterval = d
	}
}

// Kick requests an opportunistic drain (e.g. after a local write or a
// reconnect signal). Non-blocking; a pending kick coalesces with new ones.
func (m *Manager) Kick() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Start runs the drain loop until ctx is done. Draining is triggered both
// periodically and by Kick; concurrent triggers are safe because each item
// must be claimed before processing.
func (m *Manager) Start(ctx context.Context) {
	m.logger.Info().Dur("poll_interval", m.pollInterval).Msg("sync queue manager started")
	defer m.logger.Info().Msg("sync queue manager stopped")

	m.recoverInFlight(ctx)

	if m.redis != nil {
		go m.listenForKicks(ctx)
	}

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-m.kick:
		}

		if _, err := m.DrainOnce(ctx); err != nil {
			m.logger.Error().Err(err).Msg("drain failed")
		}
	}
}

// listenForKicks turns messages on the redis drain channel into local kicks.
// The host application publishes there on reconnect.
func (m *Manager) listenForKicks(ctx context.Context) {
	sub := m.redis.Subscribe(ctx, m.kickChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			m.Kick()
		}
	}
}

// recoverInFlight returns items orphaned in in_progress by a crash between
// claim and settlement to pending. Runs once per manager lifetime, before
// the first drain; this device is the only writer, so anything still
// in_progress at that point belongs to a dead process.
func (m *Manager) recoverInFlight(ctx context.Context) {
	m.recoverOnce.Do(func() {
		n, err := m.db.ResetInFlightSyncItems(ctx)
		if err != nil {
			m.logger.Error().Err(err).Msg("in-flight recovery failed")
			return
		}
		if n > 0 {
			m.logger.Warn().Int64("items", n).Msg("recovered orphaned in-flight sync items")
		}
	})
}

// DrainOnce processes every currently ready queue item and returns how many
// were delivered. Items on the same entity key are serialized by the ready
// query; the claim transition is the single-flight guard against concurrent
// drains.
func (m *Manager) DrainOnce(ctx context.Context) (int, error) {
	m.recoverInFlight(ctx)

	items, err := m.db.GetReadySyncItems(ctx, m.batchSize)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for i := range items {
		item := &items[i]
		if err := m.db.ClaimSyncItem(ctx, item.ID); err != nil {
			if errors.Is(err, database.ErrNotClaimable) {
				continue // another drain got there first
			}
			m.logger.Error().Err(err).Str("item_id", item.ID).Msg("claim failed")
			continue
		}
		if m.processItem(ctx, item) {
			delivered++
		}
	}

	m.refreshQueueMetrics(ctx)
	return delivered, nil
}

// processItem submits one claimed item and settles its final state. Returns
// true when the item was delivered.
func (m *Manager) processItem(ctx context.Context, item *models.SyncQueueItem) bool {
	res := m.bridge.Submit(ctx, item.Action, item.EntityType, item.EntityID, json.RawMessage(item.Payload))
	if res.Success {
		if err := m.db.MarkSyncItemCompleted(ctx, item.ID); err != nil {
			m.logger.Error().Err(err).Str("item_id", item.ID).Msg("mark completed failed")
		}
		metrics.IncSyncAttempt("success")
		return true
	}

	attempts := item.AttemptCount + 1
	if res.Retryable && attempts < m.retry.MaxAttempts {
		nextRetry := time.Now().Add(m.retry.NextDelay(attempts))
		if err := m.db.MarkSyncItemRetry(ctx, item.ID, res.Error, nextRetry); err != nil {
			m.logger.Error().Err(err).Str("item_id", item.ID).Msg("mark retry failed")
		}
		metrics.IncSyncAttempt("retry")
		m.logger.Warn().
			Str("item_id", item.ID).
			Str("entity_id", item.EntityID).
			Int("attempt", attempts).
			Str("error", res.Error).
			Time("next_retry_at", nextRetry).
			Msg("sync attempt failed, will retry")
		return false
	}

	// Terminal: either the remote rejected the payload or the attempt cap
	// converted a recoverable failure. Reported exactly once, here.
	if err := m.db.MarkSyncItemFailed(ctx, item.ID, res.Error); err != nil {
		m.logger.Error().Err(err).Str("item_id", item.ID).Msg("mark failed failed")
	}
	metrics.IncSyncAttempt("failed")
	m.pushDeadLetter(ctx, item, res.Error, attempts)
	if err := m.bus.PublishJSON(events.EventSyncItemFailed, events.SyncFailurePayload{
		ItemID:     item.ID,
		Action:     item.Action,
		EntityType: item.EntityType,
		EntityID:   item.EntityID,
		Error:      res.Error,
		Attempts:   attempts,
	}); err != nil {
		m.logger.Error().Err(err).Str("item_id", item.ID).Msg("publish failure event")
	}
	m.logger.Error().
		Str("item_id", item.ID).
		Str("entity_id", item.EntityID).
		Int("attempts", attempts).
		Str("error", res.Error).
		Msg("sync item failed terminally, manual resolution required")
	return false
}

// pushDeadLetter mirrors a terminally failed item into redis for external
// tooling. Best-effort; the sqlite row remains the durable record.
func (m *Manager) pushDeadLetter(ctx context.Context, item *models.SyncQueueItem, errMsg string, attempts int) {
	if m.redis == nil {
		return
	}
	snapshot := *item
	snapshot.Status = models.SyncFailed
	snapshot.AttemptCount = attempts
	snapshot.LastError = &errMsg
	data, err := json.Marshal(snapshot)
	if err != nil {
		m.logger.Error().Err(err).Str("item_id", item.ID).Msg("encode dead letter")
		return
	}
	if err := m.redis.LPush(ctx, m.deadLetterKey, data).Err(); err != nil {
		m.logger.Warn().Err(err).Str("item_id", item.ID).Msg("dead letter push failed")
	}
}

func (m *Manager) refreshQueueMetrics(ctx context.Context) {
	counts, err := m.db.CountSyncItemsByStatus(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("queue metrics refresh failed")
		return
	}
	for _, status := range []string{models.SyncPending, models.SyncInProgress, models.SyncCompleted, models.SyncFailed} {
		metrics.SetQueueDepth(status, counts[status])
	}
}
