package connection

import (
	"encoding/json"
	"fmt"
	"time"
)

type result struct {
	data json.RawMessage
	err  error
}

// pendingRequest is an in-flight Send. done has capacity 1 and receives
// exactly one result.
type pendingRequest struct {
	id       string
	timeout  time.Duration
	deadline time.Time
	done     chan result
}

func (p *pendingRequest) resolve(r result) {
	select {
	case p.done <- r:
	default:
	}
}

// correlator is the id -> pendingRequest table.
type correlator struct {
	clientID string
	next     uint64
	entries  map[string]*pendingRequest
}

func newCorrelator(clientID string) *correlator {
	return &correlator{
		clientID: clientID,
		entries:  make(map[string]*pendingRequest),
	}
}

// nextID returns msg_<clientID>_<n>. n starts at 0 and never repeats for the
// lifetime of the client.
func (c *correlator) nextID() string {
	id := fmt.Sprintf("msg_%s_%d", c.clientID, c.next)
	c.next++
	return id
}

func (c *correlator) insert(id string, now time.Time, timeout time.Duration) *pendingRequest {
	p := &pendingRequest{
		id:       id,
		timeout:  timeout,
		deadline: now.Add(timeout),
		done:     make(chan result, 1),
	}
	c.entries[id] = p
	return p
}

// take removes and returns the entry for id.
func (c *correlator) take(id string) (*pendingRequest, bool) {
	p, ok := c.entries[id]
	if ok {
		delete(c.entries, id)
	}
	return p, ok
}

// expired removes and returns every entry whose deadline is at or before now.
func (c *correlator) expired(now time.Time) []*pendingRequest {
	var out []*pendingRequest
	for id, p := range c.entries {
		if !p.deadline.After(now) {
			delete(c.entries, id)
			out = append(out, p)
		}
	}
	return out
}

// drain removes and returns every entry.
func (c *correlator) drain() []*pendingRequest {
	out := make([]*pendingRequest, 0, len(c.entries))
	for id, p := range c.entries {
		delete(c.entries, id)
		out = append(out, p)
	}
	return out
}

func (c *correlator) len() int { return len(c.entries) }
