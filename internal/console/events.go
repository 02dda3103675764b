package console

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const sessionsTopic = "console.sessions"

type EventType string

const (
	EventAdded   EventType = "session.added"
	EventUpdated EventType = "session.updated"
	EventRemoved EventType = "session.removed"
)

// Event announces that a session record changed. Subscribers re-read the
// registry; the event carries no state.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
}

// Events fans session changes out over a watermill gochannel.
type Events struct {
	mu     sync.RWMutex
	pubsub *gochannel.GoChannel
	closed bool
}

func NewEvents() *Events {
	// Subscribers ack right away; waiting for the ack keeps events in order.
	return &Events{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer:            256,
				BlockPublishUntilSubscriberAck: true,
			},
			watermill.NopLogger{},
		),
	}
}

// Publish waits only for the forwarding goroutines, never for the consumers
// behind them. A nil receiver is a no-op.
func (e *Events) Publish(eventType EventType, sessionID string) {
	if e == nil {
		return
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	payload, err := json.Marshal(Event{Type: eventType, SessionID: sessionID})
	if err != nil {
		return
	}
	_ = e.pubsub.Publish(sessionsTopic, message.NewMessage(watermill.NewUUID(), payload))
}

// Subscribe streams events until ctx is done or the bus closes. When the
// consumer falls behind, events are dropped; the next one still triggers a
// full re-read.
func (e *Events) Subscribe(ctx context.Context) (<-chan Event, error) {
	messages, err := e.pubsub.Subscribe(ctx, sessionsTopic)
	if err != nil {
		return nil, err
	}
	out := make(chan Event, 64)
	go func() {
		defer close(out)
		for msg := range messages {
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err == nil {
				select {
				case out <- ev:
				default:
				}
			}
			msg.Ack()
		}
	}()
	return out, nil
}

func (e *Events) Close() error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.pubsub.Close()
}
