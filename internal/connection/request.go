package connection

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rickgao/simstream/internal/clock"
)

// Send issues a correlated request and waits for its response. The frame is
// written at once when connected and queued otherwise; the deadline runs
// from the moment Send is called either way. A response error field yields
// a *ResponseError, an expired deadline a *TimeoutError.
func (c *Client) Send(ctx context.Context, req Request) (json.RawMessage, error) {
	if req.Event == "" {
		return nil, ErrEmptyEvent
	}

	var data json.RawMessage
	if req.Data != nil {
		b, err := json.Marshal(req.Data)
		if err != nil {
			return nil, fmt.Errorf("encode request data: %w", err)
		}
		data = b
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.RequestTimeout
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	connected := c.state == StateConnected
	if !connected && c.cfg.FailFast {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	if !connected && c.queue.full() {
		c.mu.Unlock()
		return nil, ErrQueueFull
	}

	id := c.pending.nextID()
	frame, err := json.Marshal(Frame{ID: id, Event: req.Event, Data: data})
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("encode request: %w", err)
	}

	p := c.pending.insert(id, c.clk.Now(), timeout)
	c.startSweepLocked()

	if connected {
		if err := c.writeLocked(frame); err != nil {
			// The drop moved us out of Connected; retry after reconnect
			c.queue.pushFront([][]byte{frame})
		}
	} else {
		c.queue.push(frame)
		c.logger.Debug("queued request while not connected",
			"id", id,
			"event", req.Event,
			"queued", c.queue.len(),
		)
	}
	c.mu.Unlock()
	c.flushStatus()

	select {
	case r := <-p.done:
		return r.data, r.err
	case <-ctx.Done():
		c.mu.Lock()
		c.pending.take(id)
		c.stopSweepIfIdleLocked()
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// resolveResponse completes the request matching f.ID. It reports false when
// no such request is outstanding.
func (c *Client) resolveResponse(f Frame) bool {
	c.mu.Lock()
	p, ok := c.pending.take(f.ID)
	if ok {
		c.stopSweepIfIdleLocked()
	}
	c.mu.Unlock()

	if !ok {
		return false
	}

	if f.Error != "" {
		p.resolve(result{err: &ResponseError{ID: f.ID, Message: f.Error}})
	} else {
		p.resolve(result{data: f.Data})
	}
	return true
}

// startSweepLocked runs the expiry sweep while requests are pending.
func (c *Client) startSweepLocked() {
	if c.sweepStop != nil {
		return
	}
	c.sweepStop = clock.Every(c.clk, c.cfg.SweepInterval, c.sweep)
}

func (c *Client) stopSweepIfIdleLocked() {
	if c.pending.len() == 0 {
		c.stopSweepLocked()
	}
}

func (c *Client) stopSweepLocked() {
	if c.sweepStop != nil {
		c.sweepStop()
		c.sweepStop = nil
	}
}

// sweep rejects every request whose deadline has passed.
func (c *Client) sweep() {
	c.mu.Lock()
	expired := c.pending.expired(c.clk.Now())
	c.stopSweepIfIdleLocked()
	c.mu.Unlock()

	for _, p := range expired {
		c.logger.Warn("request timed out", "id", p.id, "timeout", p.timeout)
		p.resolve(result{err: &TimeoutError{ID: p.id, Timeout: p.timeout}})
	}
}
