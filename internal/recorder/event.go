package recorder

import (
	"encoding/json"
	"time"

	"github.com/rickgao/simstream/internal/connection"
)

// Event is one recorded subscription frame.
type Event struct {
	ReceivedAt time.Time
	Channel    string
	ResourceID string
	Event      string
	Payload    json.RawMessage
}

// FromFrame captures an inbound frame.
func FromFrame(f connection.Frame, receivedAt time.Time) Event {
	return Event{
		ReceivedAt: receivedAt,
		Channel:    f.Channel,
		ResourceID: f.ResourceID,
		Event:      f.Event,
		Payload:    f.Data,
	}
}

// Handler returns an EventHandler that pushes every frame into buf.
func Handler(buf *Buffer[Event], now func() time.Time) connection.EventHandler {
	if now == nil {
		now = time.Now
	}
	return func(f connection.Frame) {
		buf.Push(FromFrame(f, now()))
	}
}
