package events

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishJSONDeliversToSubscribers(t *testing.T) {
	bus := NewBus()

	var got BookingTransitionPayload
	bus.Subscribe(EventBookingTransitioned, func(ev *Event) error {
		return json.Unmarshal(ev.Payload, &got)
	})

	err := bus.PublishJSON(EventBookingTransitioned, BookingTransitionPayload{
		BookingID:  "b1",
		FromStatus: "shooting",
		ToStatus:   "shooting_completed",
		Note:       "Auto: 3 raw file(s) detected",
	})
	require.NoError(t, err)
	assert.Equal(t, "b1", got.BookingID)
	assert.Equal(t, "shooting_completed", got.ToStatus)
}

func TestPublishSwallowsHandlerErrors(t *testing.T) {
	bus := NewBus()
	calls := 0
	bus.Subscribe(EventSyncItemFailed, func(ev *Event) error {
		calls++
		return errors.New("sink is down")
	})
	bus.Subscribe(EventSyncItemFailed, func(ev *Event) error {
		calls++
		return nil
	})

	require.NoError(t, bus.PublishJSON(EventSyncItemFailed, SyncFailurePayload{ItemID: "q1"}))
	assert.Equal(t, 2, calls, "all handlers run even when one fails")
}

func TestPublishNoSubscribers(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.PublishJSON("unknown", struct{}{}))
}

func TestNilBusIsSafe(t *testing.T) {
	var bus *Bus
	require.NoError(t, bus.PublishJSON(EventBookingCreated, struct{}{}))
}
