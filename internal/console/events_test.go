package console

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventsDeliverInOrder(t *testing.T) {
	events := NewEvents()
	defer events.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := events.Subscribe(ctx)
	require.NoError(t, err)

	events.Publish(EventAdded, "s1")
	events.Publish(EventUpdated, "s1")
	events.Publish(EventRemoved, "s1")

	var got []Event
	timeout := time.After(time.Second)
	for len(got) < 3 {
		select {
		case ev := <-ch:
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("expected 3 events, got %d", len(got))
		}
	}
	assert.Equal(t, []Event{
		{Type: EventAdded, SessionID: "s1"},
		{Type: EventUpdated, SessionID: "s1"},
		{Type: EventRemoved, SessionID: "s1"},
	}, got)
}

func TestEventsClosedAndNil(t *testing.T) {
	var nilEvents *Events
	nilEvents.Publish(EventAdded, "x")
	assert.NoError(t, nilEvents.Close())

	events := NewEvents()
	require.NoError(t, events.Close())
	require.NoError(t, events.Close())
	events.Publish(EventAdded, "x")
}
