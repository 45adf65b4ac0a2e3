package connection

import (
	"bytes"
	"encoding/json"
	"errors"
)

const maxLoggedFrame = 256

// handleMessage processes one inbound frame from generation gen. Frames are
// handled one at a time in arrival order; handlers for a frame finish before
// the next frame is read.
func (c *Client) handleMessage(gen uint64, data []byte) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.lastInbound = c.clk.Now()
	c.mu.Unlock()

	c.dispatch(data)
}

func (c *Client) dispatch(data []byte) {
	f, err := decodeFrame(data)
	if err != nil {
		c.logger.Warn("dropping malformed frame", "error", &ProtocolError{Raw: truncate(data), Err: err})
		return
	}

	if f.ID != "" {
		if c.resolveResponse(f) {
			return
		}
		if f.Event == "" {
			c.logger.Warn("dropping response for unknown request", "id", f.ID)
			return
		}
	}

	if f.Event == "" && f.Channel == "" {
		c.logger.Warn("dropping frame without id, event or channel",
			"error", &ProtocolError{Raw: truncate(data), Err: errors.New("no routing fields")},
		)
		return
	}

	handlers := c.handlersFor(f)
	if len(handlers) == 0 {
		if f.Event != "pong" {
			c.logger.Debug("no handlers for event", "event", f.Event, "channel", f.Channel)
		}
		return
	}
	for _, h := range handlers {
		c.invoke(h, f)
	}
}

// handlersFor collects On handlers for the event name followed by
// subscription handlers for the channel/resource.
func (c *Client) handlersFor(f Frame) []EventHandler {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []EventHandler
	if f.Event != "" {
		for _, e := range c.events[f.Event] {
			out = append(out, e.fn)
		}
	}
	out = append(out, c.subs.match(f.Channel, f.ResourceID)...)
	return out
}

// invoke runs one handler, containing panics so the read loop survives.
func (c *Client) invoke(h EventHandler, f Frame) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event handler panicked",
				"event", f.Event,
				"channel", f.Channel,
				"panic", r,
			)
		}
	}()
	h(f)
}

// decodeFrame parses an inbound frame. The resource id is taken from the top
// level, falling back to data.resource_id.
func decodeFrame(data []byte) (Frame, error) {
	var in inboundFrame
	if err := json.Unmarshal(data, &in); err != nil {
		return Frame{}, err
	}

	f := Frame{
		ID:         in.ID,
		Event:      in.Event,
		Channel:    in.Channel,
		ResourceID: in.ResourceID,
		Data:       in.Data,
		Error:      errorText(in.Error),
	}
	if f.ResourceID == "" && f.Channel != "" {
		f.ResourceID = dataResourceID(in.Data)
	}
	return f, nil
}

// errorText accepts a string error, an object with a message field, or any
// other JSON value.
func errorText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

func dataResourceID(data json.RawMessage) string {
	if len(data) == 0 || data[0] != '{' {
		return ""
	}
	var d struct {
		ResourceID string `json:"resource_id"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return ""
	}
	return d.ResourceID
}

func truncate(data []byte) string {
	if len(data) > maxLoggedFrame {
		return string(data[:maxLoggedFrame]) + "..."
	}
	return string(data)
}
