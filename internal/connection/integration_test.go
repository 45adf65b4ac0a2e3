package connection

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/simstream/internal/transport"
)

// simServer is a minimal backend: it answers requests with an echo, records
// subscribe frames and can drop the first connection after its first
// subscribe.
type simServer struct {
	t          *testing.T
	dropFirst  bool
	server     *httptest.Server
	mu         sync.Mutex
	conns      int
	paths      []string
	subscribes []string
	subCh      chan string
}

func newSimServer(t *testing.T, dropFirst bool) *simServer {
	s := &simServer{t: t, dropFirst: dropFirst, subCh: make(chan string, 16)}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()

		s.mu.Lock()
		s.conns++
		n := s.conns
		s.paths = append(s.paths, r.URL.RequestURI())
		s.mu.Unlock()

		s.serve(conn, n)
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *simServer) url() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

func (s *simServer) serve(conn *websocket.Conn, n int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}

		switch {
		case f.Event == "subscribe":
			s.mu.Lock()
			s.subscribes = append(s.subscribes, string(f.Data))
			s.mu.Unlock()
			s.subCh <- string(f.Data)

			if s.dropFirst && n == 1 {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"))
				return
			}

			var sub subscriptionData
			json.Unmarshal(f.Data, &sub)
			ev, _ := json.Marshal(Frame{
				Event:      "progress_update",
				Channel:    sub.Channel,
				ResourceID: sub.ResourceID,
				Data:       json.RawMessage(`{"progress":100}`),
			})
			conn.WriteMessage(websocket.TextMessage, ev)
		case f.Event == "ping":
			conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"pong"}`))
		case f.ID != "":
			resp, _ := json.Marshal(Frame{ID: f.ID, Data: json.RawMessage(`{"echo":"` + f.Event + `"}`)})
			conn.WriteMessage(websocket.TextMessage, resp)
		}
	}
}

func newWebSocketClient(t *testing.T, url string, onStatus StatusHandler) *Client {
	t.Helper()

	cfg := DefaultConfig()
	cfg.URL = url
	cfg.BasePath = "ws"
	cfg.Token = "secret"
	cfg.ClientID = "it"
	cfg.ReconnectBaseDelay = 20 * time.Millisecond
	cfg.Jitter = false
	cfg.OnStatus = onStatus

	client, err := NewClient(cfg, transport.WebSocketFactory(transport.DefaultWebSocketConfig(), discardLogger()), nil, discardLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestIntegration_RequestResponse(t *testing.T) {
	srv := newSimServer(t, false)
	client := newWebSocketClient(t, srv.url(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	data, err := client.Send(ctx, Request{Event: "get_status"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if string(data) != `{"echo":"get_status"}` {
		t.Errorf("Send data = %s", data)
	}

	srv.mu.Lock()
	path := srv.paths[0]
	srv.mu.Unlock()
	if path != "/ws/it?token=secret" {
		t.Errorf("request path = %q", path)
	}
}

func TestIntegration_ReconnectReplaysSubscriptions(t *testing.T) {
	srv := newSimServer(t, true)

	var (
		mu       sync.Mutex
		statuses []Status
	)
	client := newWebSocketClient(t, srv.url(), func(ev StatusEvent) {
		mu.Lock()
		statuses = append(statuses, ev.Status)
		mu.Unlock()
	})

	events := make(chan Frame, 4)
	client.Subscribe("simulation", "123", func(f Frame) { events <- f })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// First connection: subscribe, then the server goes away
	for i := range 2 {
		select {
		case sub := <-srv.subCh:
			if sub != `{"channel":"simulation","resource_id":"123"}` {
				t.Errorf("subscribe %d data = %s", i, sub)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for subscribe %d", i)
		}
	}

	select {
	case f := <-events:
		if f.ResourceID != "123" || string(f.Data) != `{"progress":100}` {
			t.Errorf("event = %+v", f)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for event after reconnect")
	}

	waitFor(t, "connected", func() bool { return client.State() == StateConnected })

	mu.Lock()
	got := append([]Status(nil), statuses...)
	mu.Unlock()
	want := []Status{StatusConnected, StatusDisconnected, StatusReconnecting, StatusConnected}
	if len(got) != len(want) {
		t.Fatalf("statuses = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("statuses = %v, want %v", got, want)
			break
		}
	}

	srv.mu.Lock()
	subs := len(srv.subscribes)
	srv.mu.Unlock()
	if subs != 2 {
		t.Errorf("server saw %d subscribes, want 2", subs)
	}
}
