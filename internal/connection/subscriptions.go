package connection

import (
	"encoding/json"
	"errors"
	"sync"
)

// subKey identifies a subscription.
type subKey struct {
	channel    string
	resourceID string
}

type handlerEntry struct {
	id uint64
	fn EventHandler
}

// registry tracks subscriptions and their handler sets. A key exists only
// while it has at least one handler. Keys are kept in first-subscribe order
// so replay is deterministic.
type registry struct {
	nextID uint64
	subs   map[subKey][]handlerEntry
	order  []subKey
}

func newRegistry() *registry {
	return &registry{
		subs: make(map[subKey][]handlerEntry),
	}
}

// add registers fn under key. first is true when the key was created.
func (r *registry) add(key subKey, fn EventHandler) (id uint64, first bool) {
	r.nextID++
	id = r.nextID

	entries, exists := r.subs[key]
	if !exists {
		r.order = append(r.order, key)
	}
	r.subs[key] = append(entries, handlerEntry{id: id, fn: fn})
	return id, !exists
}

// remove unregisters handler id. last is true when the key was deleted.
func (r *registry) remove(key subKey, id uint64) (removed, last bool) {
	entries, ok := r.subs[key]
	if !ok {
		return false, false
	}

	for i, e := range entries {
		if e.id != id {
			continue
		}
		entries = append(entries[:i:i], entries[i+1:]...)
		if len(entries) > 0 {
			r.subs[key] = entries
			return true, false
		}
		delete(r.subs, key)
		r.dropOrder(key)
		return true, true
	}
	return false, false
}

func (r *registry) dropOrder(key subKey) {
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// keys returns every registered key in first-subscribe order.
func (r *registry) keys() []subKey {
	out := make([]subKey, len(r.order))
	copy(out, r.order)
	return out
}

// match returns the handlers a frame on channel/resourceID is delivered to.
// An empty resourceID matches every key of the channel.
func (r *registry) match(channel, resourceID string) []EventHandler {
	if channel == "" {
		return nil
	}

	var out []EventHandler
	if resourceID != "" {
		for _, e := range r.subs[subKey{channel, resourceID}] {
			out = append(out, e.fn)
		}
		return out
	}

	for _, k := range r.order {
		if k.channel != channel {
			continue
		}
		for _, e := range r.subs[k] {
			out = append(out, e.fn)
		}
	}
	return out
}

func (r *registry) len() int { return len(r.subs) }

func (r *registry) handlerCount() int {
	n := 0
	for _, entries := range r.subs {
		n += len(entries)
	}
	return n
}

// Subscribe registers fn for events on (channel, resourceID) and returns a
// function that removes it. The first handler for a key sends a subscribe
// frame when connected; otherwise the key is sent on the next connect. The
// returned function is idempotent.
func (c *Client) Subscribe(channel, resourceID string, fn EventHandler) (unsubscribe func()) {
	if fn == nil {
		panic("connection: nil EventHandler")
	}
	key := subKey{channel: channel, resourceID: resourceID}

	c.mu.Lock()
	id, first := c.subs.add(key, fn)
	if first {
		c.sendSubscriptionLocked("subscribe", key)
	}
	c.mu.Unlock()
	c.flushStatus()

	var once sync.Once
	return func() {
		once.Do(func() { c.unsubscribe(key, id) })
	}
}

func (c *Client) unsubscribe(key subKey, id uint64) {
	c.mu.Lock()
	_, last := c.subs.remove(key, id)
	if last {
		c.sendSubscriptionLocked("unsubscribe", key)
	}
	c.mu.Unlock()
	c.flushStatus()
}

// sendSubscriptionLocked writes a subscribe or unsubscribe frame. Failures
// are logged; the registry is already up to date and replay covers the rest.
func (c *Client) sendSubscriptionLocked(op string, key subKey) {
	err := c.writeLocked(subscriptionFrame(op, key))
	if err == nil {
		c.logger.Debug(op+" sent", "channel", key.channel, "resource_id", key.resourceID)
		return
	}

	serr := &SubscriptionError{Op: op, Channel: key.channel, ResourceID: key.resourceID, Err: err}
	if errors.Is(err, ErrNotConnected) {
		c.logger.Debug("subscription frame deferred", "error", serr)
		return
	}
	c.logger.Warn("subscription frame failed", "error", serr)
}

// replayLocked re-subscribes every registered key on a fresh connection.
func (c *Client) replayLocked() {
	keys := c.subs.keys()
	for _, key := range keys {
		if err := c.writeLocked(subscriptionFrame("subscribe", key)); err != nil {
			c.logger.Warn("subscription replay interrupted",
				"error", &SubscriptionError{Op: "subscribe", Channel: key.channel, ResourceID: key.resourceID, Err: err},
			)
			return
		}
	}
	if len(keys) > 0 {
		c.logger.Info("replayed subscriptions", "count", len(keys))
	}
}

func subscriptionFrame(op string, key subKey) []byte {
	data, _ := json.Marshal(subscriptionData{Channel: key.channel, ResourceID: key.resourceID})
	frame, _ := json.Marshal(Frame{Event: op, Data: data})
	return frame
}

// On registers fn for every inbound event frame named event and returns a
// function that removes it.
func (c *Client) On(event string, fn EventHandler) (remove func()) {
	if fn == nil {
		panic("connection: nil EventHandler")
	}

	c.mu.Lock()
	c.handlerID++
	id := c.handlerID
	c.events[event] = append(c.events[event], handlerEntry{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			entries := c.events[event]
			for i, e := range entries {
				if e.id == id {
					entries = append(entries[:i:i], entries[i+1:]...)
					break
				}
			}
			if len(entries) == 0 {
				delete(c.events, event)
			} else {
				c.events[event] = entries
			}
		})
	}
}
