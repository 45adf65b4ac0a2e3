package connection

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/simstream/internal/clock"
	"github.com/rickgao/simstream/internal/transport"
)

var epoch = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

var errPeerClosed = errors.New("closed by peer")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTransport is an in-memory Transport driven by the test.
type fakeTransport struct {
	net *fakeNetwork

	mu      sync.Mutex
	url     string
	h       transport.Handler
	sent    []string
	closed  bool
	sendErr error
}

func (t *fakeTransport) Open(url string, h transport.Handler) error {
	t.mu.Lock()
	t.url = url
	t.h = h
	t.mu.Unlock()

	t.net.opened <- t
	return t.net.openErr
}

func (t *fakeTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	if t.closed {
		return transport.ErrClosed
	}
	t.sent = append(t.sent, string(data))
	t.net.record(string(data))
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) frames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.sent))
	copy(out, t.sent)
	return out
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) failSends(err error) {
	t.mu.Lock()
	t.sendErr = err
	t.mu.Unlock()
}

func (t *fakeTransport) accept() { t.h.OnOpen() }
func (t *fakeTransport) fail(err error) { t.h.OnError(err) }
func (t *fakeTransport) drop() { t.h.OnClose(errPeerClosed) }
func (t *fakeTransport) deliver(frame string) { t.h.OnMessage([]byte(frame)) }

// fakeNetwork hands out fakeTransports and records every frame sent on any
// of them, in order.
type fakeNetwork struct {
	opened  chan *fakeTransport
	openErr error

	mu   sync.Mutex
	all  []*fakeTransport
	wire []string
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{opened: make(chan *fakeTransport, 64)}
}

func (n *fakeNetwork) factory() transport.Factory {
	return func() transport.Transport {
		t := &fakeTransport{net: n}
		n.mu.Lock()
		n.all = append(n.all, t)
		n.mu.Unlock()
		return t
	}
}

func (n *fakeNetwork) record(frame string) {
	n.mu.Lock()
	n.wire = append(n.wire, frame)
	n.mu.Unlock()
}

func (n *fakeNetwork) frames() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.wire))
	copy(out, n.wire)
	return out
}

func (n *fakeNetwork) opens() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.all)
}

// harness wires a Client to a fake network and a fake clock.
type harness struct {
	t      *testing.T
	net    *fakeNetwork
	clk    *clock.Fake
	client *Client

	mu       sync.Mutex
	statuses []StatusEvent
}

func testConfig() Config {
	return Config{
		URL:                  "ws://sim.test",
		BasePath:             "ws",
		Token:                "tok",
		ClientID:             "c1",
		RequestTimeout:       5 * time.Second,
		SweepInterval:        time.Second,
		HeartbeatInterval:    10 * time.Second,
		ReconnectBaseDelay:   time.Second,
		MaxReconnectAttempts: 3,
	}
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()

	h := &harness{
		t:   t,
		net: newFakeNetwork(),
		clk: clock.NewFake(epoch),
	}

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	cfg.OnStatus = h.recordStatus

	client, err := NewClient(cfg, h.net.factory(), h.clk, discardLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	h.client = client
	t.Cleanup(func() { client.Close() })
	return h
}

func (h *harness) recordStatus(ev StatusEvent) {
	h.mu.Lock()
	h.statuses = append(h.statuses, ev)
	h.mu.Unlock()
}

func (h *harness) statusEvents() []StatusEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]StatusEvent, len(h.statuses))
	copy(out, h.statuses)
	return out
}

func (h *harness) statusNames() []Status {
	var out []Status
	for _, ev := range h.statusEvents() {
		out = append(out, ev.Status)
	}
	return out
}

func (h *harness) resetStatuses() {
	h.mu.Lock()
	h.statuses = nil
	h.mu.Unlock()
}

// nextTransport waits for the next Open call.
func (h *harness) nextTransport() *fakeTransport {
	h.t.Helper()
	select {
	case tr := <-h.net.opened:
		return tr
	case <-time.After(2 * time.Second):
		h.t.Fatal("timeout waiting for transport open")
		return nil
	}
}

// noTransport asserts that no Open call is pending.
func (h *harness) noTransport() {
	h.t.Helper()
	select {
	case <-h.net.opened:
		h.t.Fatal("unexpected transport open")
	default:
	}
}

// startConnect runs Connect in the background.
func (h *harness) startConnect() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- h.client.Connect(context.Background())
	}()
	return errCh
}

// connect performs a successful Connect and returns the live transport.
func (h *harness) connect() *fakeTransport {
	h.t.Helper()
	errCh := h.startConnect()
	tr := h.nextTransport()
	tr.accept()
	if err := waitErr(h.t, errCh); err != nil {
		h.t.Fatalf("Connect failed: %v", err)
	}
	return tr
}

// sendAsync runs Send in the background.
func (h *harness) sendAsync(req Request) <-chan result {
	ch := make(chan result, 1)
	go func() {
		data, err := h.client.Send(context.Background(), req)
		ch <- result{data: data, err: err}
	}()
	return ch
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for result")
		return nil
	}
}

func waitResult(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for response")
		return result{}
	}
}

// waitFor polls cond until it holds.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

// countEvents counts frames on the wire with the given event name.
func countEvents(frames []string, event string) int {
	n := 0
	for _, f := range frames {
		var fr Frame
		if err := json.Unmarshal([]byte(f), &fr); err != nil {
			continue
		}
		if fr.Event == event {
			n++
		}
	}
	return n
}

func eventOf(t *testing.T, frame string) Frame {
	t.Helper()
	var fr Frame
	if err := json.Unmarshal([]byte(frame), &fr); err != nil {
		t.Fatalf("bad frame %q: %v", frame, err)
	}
	return fr
}
