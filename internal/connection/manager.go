package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/simstream/internal/clock"
	"github.com/rickgao/simstream/internal/transport"
)

// Client is the real-time client. It manages one logical connection and
// multiplexes subscriptions and requests over it.
type Client struct {
	cfg      Config
	url      string
	clientID string
	factory  transport.Factory
	clk      clock.Clock
	logger   *slog.Logger
	backoff  backoff
	notifier *notifier

	mu sync.Mutex

	// Connection
	state       State
	attempts    int
	gen         uint64 // Bumped whenever the live transport is replaced or dropped
	transport   transport.Transport
	waiters     []chan error
	retryStop   clock.Stop
	lastInbound time.Time
	closed      bool

	// Tables
	subs      *registry
	events    map[string][]handlerEntry
	handlerID uint64
	pending   *correlator
	sweepStop clock.Stop
	queue     *outboundQueue
	hb        heartbeatMonitor
}

// NewClient creates a disconnected Client. A nil clock means real time; a
// nil logger means slog.Default().
func NewClient(cfg Config, factory transport.Factory, clk clock.Clock, logger *slog.Logger) (*Client, error) {
	if factory == nil {
		return nil, errors.New("transport factory is required")
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg = cfg.withDefaults()
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}

	u, err := buildURL(cfg.URL, cfg.BasePath, cfg.ClientID, cfg.Token)
	if err != nil {
		return nil, err
	}

	logger = logger.With("client_id", cfg.ClientID)

	return &Client{
		cfg:      cfg,
		url:      u,
		clientID: cfg.ClientID,
		factory:  factory,
		clk:      clk,
		logger:   logger,
		backoff: backoff{
			base:   cfg.ReconnectBaseDelay,
			max:    cfg.ReconnectMaxDelay,
			jitter: cfg.Jitter,
			rand:   rand.Float64,
		},
		notifier: &notifier{fn: cfg.OnStatus, logger: logger},
		state:    StateDisconnected,
		subs:     newRegistry(),
		events:   make(map[string][]handlerEntry),
		pending:  newCorrelator(cfg.ClientID),
		queue:    newOutboundQueue(cfg.MaxQueuedFrames),
		hb:       heartbeatMonitor{clk: clk, interval: cfg.HeartbeatInterval},
	}, nil
}

// buildURL returns <scheme>://<host>/<basePath>/<clientID>?token=<token>.
func buildURL(base, basePath, clientID, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q must include scheme and host", base)
	}

	u.Path = path.Join("/", u.Path, basePath, clientID)
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// ClientID returns the id embedded in the connection URL and request ids.
func (c *Client) ClientID() string { return c.clientID }

// URL returns the connection URL.
func (c *Client) URL() string { return c.url }

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns a snapshot of the client's tables.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		State:           c.state,
		Attempts:        c.attempts,
		Subscriptions:   c.subs.len(),
		Handlers:        c.subs.handlerCount(),
		PendingRequests: c.pending.len(),
		QueuedFrames:    c.queue.len(),
	}
}

// Close disconnects, rejects every pending request with ErrClosed and makes
// the client unusable.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.disconnectLocked()
	c.closed = true
	rejected := c.pending.drain()
	c.stopSweepLocked()
	c.mu.Unlock()

	for _, p := range rejected {
		p.resolve(result{err: ErrClosed})
	}
	c.flushStatus()

	c.logger.Info("client closed", "rejected_requests", len(rejected))
	return nil
}

// emitLocked queues a status event for delivery after the lock is released.
func (c *Client) emitLocked(ev StatusEvent) {
	args := []any{"status", ev.Status}
	if ev.Attempt > 0 {
		args = append(args, "attempt", ev.Attempt)
	}
	if ev.Delay > 0 {
		args = append(args, "delay", ev.Delay)
	}
	if ev.Err != nil {
		args = append(args, "error", ev.Err)
	}
	c.logger.Info("connection status", args...)
	c.notifier.push(ev)
}

func (c *Client) flushStatus() {
	c.notifier.flush()
}

// Connect opens the connection. It returns nil at once when already
// connected, joins an attempt already in flight, and otherwise opens a new
// transport and waits for it. A failed attempt returns a *ConnectionError and
// automatic reconnection continues in the background. Cancelling ctx stops
// the wait, not the attempt.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}

	ch := make(chan error, 1)
	c.waiters = append(c.waiters, ch)

	if c.state != StateConnecting {
		if c.state == StateDisconnected || c.state == StateFailed {
			c.attempts = 0
		}
		c.cancelRetryLocked()
		c.openLocked()
	}
	c.mu.Unlock()
	c.flushStatus()

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		c.mu.Lock()
		c.dropWaiterLocked(ch)
		c.mu.Unlock()
		return ctx.Err()
	}
}

// Disconnect closes the connection and disables automatic reconnection
// until the next Connect. Queued frames, subscriptions and pending requests
// are kept.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.disconnectLocked()
	c.mu.Unlock()
	c.flushStatus()
}

func (c *Client) disconnectLocked() {
	c.cancelRetryLocked()
	c.hb.halt()
	c.closeTransportLocked()

	prev := c.state
	c.state = StateDisconnected
	c.attempts = 0
	c.resolveWaitersLocked(ErrDisconnected)

	if prev != StateDisconnected {
		c.emitLocked(StatusEvent{Status: StatusDisconnected})
	}
}

// openLocked starts a connection attempt on a fresh transport.
func (c *Client) openLocked() {
	c.closeTransportLocked()
	gen := c.gen
	c.state = StateConnecting

	t := c.factory()
	c.transport = t

	c.logger.Debug("opening transport", "attempt", c.attempts, "url", c.url)
	if err := t.Open(c.url, &connHandler{c: c, gen: gen}); err != nil {
		c.dropLocked(gen, &ConnectionError{Op: "open", Err: err}, true)
	}
}

// closeTransportLocked closes the live transport, if any, and invalidates
// its callbacks.
func (c *Client) closeTransportLocked() {
	c.gen++
	if c.transport == nil {
		return
	}
	if err := c.transport.Close(); err != nil {
		c.logger.Debug("transport close failed", "error", err)
	}
	c.transport = nil
}

// handleOpen runs once the transport of generation gen is ready.
func (c *Client) handleOpen(gen uint64) {
	c.mu.Lock()
	defer c.flushStatus()
	defer c.mu.Unlock()

	if gen != c.gen || c.state != StateConnecting {
		return
	}

	c.state = StateConnected
	c.attempts = 0
	c.lastInbound = c.clk.Now()
	c.emitLocked(StatusEvent{Status: StatusConnected})
	c.resolveWaitersLocked(nil)
	c.hb.start(func() { c.heartbeat(gen) })

	// Queued frames go out before subscription replay
	if err := c.flushQueueLocked(); err != nil {
		return
	}
	c.replayLocked()
}

// flushQueueLocked drains the outbound queue in order. On a write failure
// the unsent frames are put back and the drop has already been handled.
func (c *Client) flushQueueLocked() error {
	frames := c.queue.drain()
	for i, f := range frames {
		if err := c.writeLocked(f); err != nil {
			c.queue.pushFront(frames[i:])
			return err
		}
	}
	if len(frames) > 0 {
		c.logger.Debug("flushed outbound queue", "frames", len(frames))
	}
	return nil
}

// writeLocked sends one frame on the live transport. A write failure is
// handled as a connection drop.
func (c *Client) writeLocked(frame []byte) error {
	if c.state != StateConnected || c.transport == nil {
		return ErrNotConnected
	}
	if err := c.transport.Send(frame); err != nil {
		cerr := &ConnectionError{Op: "write", Err: err}
		c.dropLocked(c.gen, cerr, true)
		return cerr
	}
	return nil
}

// dropLocked handles the loss of the transport of generation gen. It is a
// no-op for stale generations and for drops already handled.
func (c *Client) dropLocked(gen uint64, cause error, isError bool) {
	if gen != c.gen {
		return
	}
	if c.state != StateConnecting && c.state != StateConnected {
		return
	}

	prev := c.state
	c.hb.halt()
	c.closeTransportLocked()

	var cerr *ConnectionError
	if !errors.As(cause, &cerr) {
		cerr = &ConnectionError{Op: "read", Err: cause}
	}

	if isError {
		c.emitLocked(StatusEvent{Status: StatusError, Err: cerr})
	}
	if prev == StateConnected {
		c.emitLocked(StatusEvent{Status: StatusDisconnected, Err: cerr})
	}
	c.resolveWaitersLocked(cerr)
	c.scheduleRetryLocked(cerr)
}

// scheduleRetryLocked counts a failure and either arms the retry timer or
// gives up.
func (c *Client) scheduleRetryLocked(cause error) {
	c.attempts++

	limit := c.cfg.MaxReconnectAttempts
	if limit > 0 && c.attempts > limit {
		c.state = StateFailed
		failure := &TerminalFailure{Attempts: limit, Err: cause}
		c.logger.Error("reconnect attempts exhausted", "attempts", limit, "error", cause)
		c.emitLocked(StatusEvent{Status: StatusFailed, Attempt: limit, Err: failure})
		return
	}

	delay := c.backoff.delay(c.attempts)
	c.state = StateReconnecting
	c.emitLocked(StatusEvent{
		Status:  StatusReconnecting,
		Attempt: c.attempts,
		Delay:   delay,
		Err:     cause,
	})

	gen := c.gen
	c.retryStop = c.clk.AfterFunc(delay, func() { c.retry(gen) })
}

func (c *Client) retry(gen uint64) {
	c.mu.Lock()
	defer c.flushStatus()
	defer c.mu.Unlock()

	if gen != c.gen || c.state != StateReconnecting {
		return
	}
	c.retryStop = nil

	c.logger.Info("attempting reconnection", "attempt", c.attempts)
	c.openLocked()
}

func (c *Client) cancelRetryLocked() {
	if c.retryStop != nil {
		c.retryStop()
		c.retryStop = nil
	}
}

func (c *Client) resolveWaitersLocked(err error) {
	for _, ch := range c.waiters {
		ch <- err
	}
	c.waiters = nil
}

func (c *Client) dropWaiterLocked(ch chan error) {
	for i, w := range c.waiters {
		if w == ch {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

// connHandler binds transport callbacks to one connection generation.
type connHandler struct {
	c   *Client
	gen uint64
}

func (h *connHandler) OnOpen() { h.c.handleOpen(h.gen) }

func (h *connHandler) OnMessage(data []byte) { h.c.handleMessage(h.gen, data) }

func (h *connHandler) OnClose(err error) { h.c.handleDrop(h.gen, err, false) }

func (h *connHandler) OnError(err error) { h.c.handleDrop(h.gen, err, true) }

func (c *Client) handleDrop(gen uint64, err error, isError bool) {
	c.mu.Lock()
	if gen == c.gen {
		c.logger.Warn("connection lost", "state", c.state, "error", err)
	}
	c.dropLocked(gen, err, isError)
	c.mu.Unlock()
	c.flushStatus()
}
