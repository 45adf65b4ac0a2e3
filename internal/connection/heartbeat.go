package connection

import (
	"time"

	"github.com/rickgao/simstream/internal/clock"
)

var pingFrame = []byte(`{"event":"ping"}`)

// heartbeatMonitor owns the ping interval. It runs only while Connected.
type heartbeatMonitor struct {
	clk      clock.Clock
	interval time.Duration
	stop     clock.Stop
}

func (h *heartbeatMonitor) start(tick func()) {
	h.halt()
	h.stop = clock.Every(h.clk, h.interval, tick)
}

func (h *heartbeatMonitor) halt() {
	if h.stop != nil {
		h.stop()
		h.stop = nil
	}
}

// heartbeat runs on every tick for connection generation gen.
func (c *Client) heartbeat(gen uint64) {
	c.mu.Lock()
	defer c.flushStatus()
	defer c.mu.Unlock()

	if gen != c.gen || c.state != StateConnected {
		return
	}

	if c.cfg.StaleTimeout > 0 {
		silent := c.clk.Now().Sub(c.lastInbound)
		if silent >= c.cfg.StaleTimeout {
			c.logger.Warn("no inbound frames, connection stale",
				"silent_for", silent,
				"timeout", c.cfg.StaleTimeout,
			)
			c.dropLocked(gen, &ConnectionError{Op: "read", Err: ErrStaleConnection}, true)
			return
		}
	}

	if err := c.writeLocked(pingFrame); err != nil {
		c.logger.Debug("failed to send ping", "error", err)
	}
}
