package monitor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"studiosync/internal/database"
	"studiosync/internal/events"
	"studiosync/internal/models"
	"studiosync/internal/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// fakeStats serves canned stats per folder path.
type fakeStats struct {
	mu    sync.Mutex
	stats map[string]*storage.Stats
	errs  map[string]error
	delay time.Duration
	calls int
}

func (f *fakeStats) GetStats(ctx context.Context, ref string) (*storage.Stats, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.errs[ref]; ok {
		return nil, err
	}
	return f.stats[ref], nil
}

type fakeKicker struct {
	mu    sync.Mutex
	kicks int
}

func (f *fakeKicker) Kick() {
	f.mu.Lock()
	f.kicks++
	f.mu.Unlock()
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "monitor.db")
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	db, err := database.NewDB(path, &logger)
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedBooking(t *testing.T, db *database.DB, id, status, folder string) {
	t.Helper()
	booking := &models.Booking{
		ID:         id,
		ClientName: "tester",
		Status:     status,
		ShootDate:  "2025-06-01",
		FolderPath: folder,
	}
	item := &models.SyncQueueItem{
		ID:         uuid.NewString(),
		Action:     models.ActionCreate,
		EntityType: "bookings",
		EntityID:   id,
		Payload:    `{}`,
	}
	if err := db.CreateBookingAndEnqueue(context.Background(), booking, item, "test"); err != nil {
		t.Fatalf("seed booking %s: %v", id, err)
	}
	// The create item is drained in these tests' world; complete it so it
	// does not obscure queue assertions.
	if err := db.ClaimSyncItem(context.Background(), item.ID); err != nil {
		t.Fatalf("claim seed item: %v", err)
	}
	if err := db.MarkSyncItemCompleted(context.Background(), item.ID); err != nil {
		t.Fatalf("complete seed item: %v", err)
	}
}

func newTestMonitor(db *database.DB, stats StatsProvider, kicker QueueKicker) (*Monitor, *events.Bus) {
	logger := zerolog.Nop()
	bus := events.NewBus()
	return New(db, stats, kicker, bus, time.Minute, &logger), bus
}

func pendingItemsFor(t *testing.T, db *database.DB, bookingID string) []models.SyncQueueItem {
	t.Helper()
	items, err := db.GetSyncItemsForEntity(context.Background(), "bookings", bookingID)
	if err != nil {
		t.Fatalf("items for %s: %v", bookingID, err)
	}
	var pending []models.SyncQueueItem
	for _, item := range items {
		if item.Status == models.SyncPending {
			pending = append(pending, item)
		}
	}
	return pending
}

func TestScanAdvancesShootingBooking(t *testing.T) {
	db := newTestDB(t)
	seedBooking(t, db, "b1", models.StatusShooting, "/studio/b1")

	stats := &fakeStats{stats: map[string]*storage.Stats{"/studio/b1": {Raw: 3}}}
	kicker := &fakeKicker{}
	mon, _ := newTestMonitor(db, stats, kicker)

	n, err := mon.ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 transition, got %d", n)
	}

	booking, err := db.GetBooking(context.Background(), "b1")
	if err != nil {
		t.Fatalf("get booking: %v", err)
	}
	if booking.Status != models.StatusShootingCompleted {
		t.Fatalf("expected shooting_completed, got %s", booking.Status)
	}
	if !strings.Contains(booking.Notes, "3") {
		t.Fatalf("expected note to mention the file count, got %q", booking.Notes)
	}

	pending := pendingItemsFor(t, db, "b1")
	if len(pending) != 1 {
		t.Fatalf("expected exactly one queue item, got %d", len(pending))
	}
	if pending[0].Action != models.ActionUpdate {
		t.Fatalf("expected update action, got %s", pending[0].Action)
	}
	if kicker.kicks != 1 {
		t.Fatalf("expected one queue kick, got %d", kicker.kicks)
	}
}

func TestScanAdvancesSelectionBooking(t *testing.T) {
	db := newTestDB(t)
	seedBooking(t, db, "b1", models.StatusSelection, "/studio/b1")

	stats := &fakeStats{stats: map[string]*storage.Stats{"/studio/b1": {Raw: 10, Selected: 2}}}
	mon, _ := newTestMonitor(db, stats, &fakeKicker{})

	if _, err := mon.ScanOnce(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}

	booking, _ := db.GetBooking(context.Background(), "b1")
	if booking.Status != models.StatusEditing {
		t.Fatalf("expected editing, got %s", booking.Status)
	}
}

func TestScanIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	seedBooking(t, db, "b1", models.StatusShooting, "/studio/b1")

	stats := &fakeStats{stats: map[string]*storage.Stats{"/studio/b1": {Raw: 3}}}
	mon, _ := newTestMonitor(db, stats, &fakeKicker{})
	ctx := context.Background()

	if _, err := mon.ScanOnce(ctx); err != nil {
		t.Fatalf("scan 1: %v", err)
	}
	n, err := mon.ScanOnce(ctx)
	if err != nil {
		t.Fatalf("scan 2: %v", err)
	}
	if n != 0 {
		t.Fatalf("second scan must not re-transition, got %d", n)
	}

	if pending := pendingItemsFor(t, db, "b1"); len(pending) != 1 {
		t.Fatalf("expected no duplicate queue entries, got %d", len(pending))
	}
}

func TestScanNoSignalDoesNotTransition(t *testing.T) {
	db := newTestDB(t)
	seedBooking(t, db, "b1", models.StatusShooting, "/studio/b1")

	// Unknown location: provider returns nil stats. Zero raw count is also
	// not a trigger.
	stats := &fakeStats{stats: map[string]*storage.Stats{}}
	mon, _ := newTestMonitor(db, stats, &fakeKicker{})

	if _, err := mon.ScanOnce(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}
	booking, _ := db.GetBooking(context.Background(), "b1")
	if booking.Status != models.StatusShooting {
		t.Fatalf("no-signal booking must not transition, got %s", booking.Status)
	}
}

func TestStaleTransitionNotCounted(t *testing.T) {
	db := newTestDB(t)
	seedBooking(t, db, "b1", models.StatusShooting, "/studio/b1")
	ctx := context.Background()

	// The booking advances out from under the monitor between its fetch
	// and its write.
	manual := &models.SyncQueueItem{
		ID:         uuid.NewString(),
		Action:     models.ActionUpdate,
		EntityType: "bookings",
		EntityID:   "b1",
		Payload:    `{}`,
	}
	if err := db.TransitionBookingAndEnqueue(ctx, "b1", models.StatusShooting, models.StatusShootingCompleted, "manual advance", manual, "test"); err != nil {
		t.Fatalf("manual transition: %v", err)
	}

	stats := &fakeStats{stats: map[string]*storage.Stats{"/studio/b1": {Raw: 1}}}
	kicker := &fakeKicker{}
	mon, _ := newTestMonitor(db, stats, kicker)

	stale := &models.Booking{ID: "b1", Status: models.StatusShooting, FolderPath: "/studio/b1"}
	advanced, err := mon.checkBooking(ctx, stale)
	if err != nil {
		t.Fatalf("check booking: %v", err)
	}
	if advanced {
		t.Fatal("lost prerequisite race must not count as a transition")
	}

	// No queue entry and no kick for the no-op.
	if pending := pendingItemsFor(t, db, "b1"); len(pending) != 1 {
		t.Fatalf("expected only the manual queue item, got %d", len(pending))
	}
	if kicker.kicks != 0 {
		t.Fatalf("no-op transition must not kick the queue, got %d", kicker.kicks)
	}
}

func TestScanIsolatesPerBookingFailures(t *testing.T) {
	db := newTestDB(t)
	seedBooking(t, db, "b1", models.StatusShooting, "/studio/b1")
	seedBooking(t, db, "b2", models.StatusShooting, "/studio/b2")

	stats := &fakeStats{
		stats: map[string]*storage.Stats{"/studio/b2": {Raw: 1}},
		errs:  map[string]error{"/studio/b1": errors.New("nas offline")},
	}
	mon, _ := newTestMonitor(db, stats, &fakeKicker{})

	n, err := mon.ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if n != 1 {
		t.Fatalf("healthy booking must still advance, got %d transitions", n)
	}

	b2, _ := db.GetBooking(context.Background(), "b2")
	if b2.Status != models.StatusShootingCompleted {
		t.Fatalf("expected b2 advanced, got %s", b2.Status)
	}
}

func TestOverlappingScansAreDropped(t *testing.T) {
	db := newTestDB(t)
	seedBooking(t, db, "b1", models.StatusShooting, "/studio/b1")

	stats := &fakeStats{
		stats: map[string]*storage.Stats{"/studio/b1": {Raw: 1}},
		delay: 50 * time.Millisecond,
	}
	mon, _ := newTestMonitor(db, stats, &fakeKicker{})
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		mon.ScanOnce(ctx)
	}()

	time.Sleep(10 * time.Millisecond) // first scan is inside the slow lookup
	n, err := mon.ScanOnce(ctx)
	if err != nil {
		t.Fatalf("overlapping scan: %v", err)
	}
	if n != 0 {
		t.Fatalf("overlapping scan must be dropped, got %d transitions", n)
	}
	<-done

	// Guard is cleared once the slow scan finishes.
	if !mon.scanning.CompareAndSwap(false, true) {
		t.Fatal("scanning guard not cleared after scan")
	}
	mon.scanning.Store(false)
}

func TestStopIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	mon, _ := newTestMonitor(db, &fakeStats{}, &fakeKicker{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		mon.Start(ctx)
	}()

	mon.Stop()
	mon.Stop() // second stop must not panic

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestTransitionEventPublished(t *testing.T) {
	db := newTestDB(t)
	seedBooking(t, db, "b1", models.StatusShooting, "/studio/b1")

	stats := &fakeStats{stats: map[string]*storage.Stats{"/studio/b1": {Raw: 2}}}
	logger := zerolog.Nop()
	bus := events.NewBus()
	mon := New(db, stats, &fakeKicker{}, bus, time.Minute, &logger)

	var published int
	bus.Subscribe(events.EventBookingTransitioned, func(ev *events.Event) error {
		published++
		return nil
	})

	if _, err := mon.ScanOnce(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if published != 1 {
		t.Fatalf("expected one transition notification, got %d", published)
	}
}
