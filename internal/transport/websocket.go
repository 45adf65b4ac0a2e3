package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConfig configures a WebSocket transport.
type WebSocketConfig struct {
	HandshakeTimeout time.Duration // Dial + upgrade deadline
	WriteTimeout     time.Duration // Write deadline for sends
	ReadLimit        int64         // Max inbound frame size in bytes (0 = gorilla default)
	Header           http.Header   // Extra handshake headers
}

// DefaultWebSocketConfig returns sensible defaults.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadLimit:        1 << 20,
	}
}

// WebSocket implements Transport over gorilla/websocket.
type WebSocket struct {
	cfg    WebSocketConfig
	logger *slog.Logger

	conn    *websocket.Conn
	handler Handler
	cancel  context.CancelFunc

	// Write serialization
	writeMu sync.Mutex

	// State
	mu     sync.Mutex
	opened bool
	closed bool
}

// NewWebSocket creates an unopened WebSocket transport.
func NewWebSocket(cfg WebSocketConfig, logger *slog.Logger) *WebSocket {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocket{
		cfg:    cfg,
		logger: logger,
	}
}

// WebSocketFactory returns a Factory producing WebSocket transports.
func WebSocketFactory(cfg WebSocketConfig, logger *slog.Logger) Factory {
	return func() Transport {
		return NewWebSocket(cfg, logger)
	}
}

// Open dials url in the background.
func (w *WebSocket) Open(url string, h Handler) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if w.opened {
		return ErrAlreadyOpen
	}
	w.opened = true
	w.handler = h

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	go w.dial(ctx, url)
	return nil
}

func (w *WebSocket) dial(ctx context.Context, url string) {
	dialer := websocket.Dialer{
		HandshakeTimeout: w.cfg.HandshakeTimeout,
	}

	header := http.Header{}
	header.Set("Accept", "application/json")
	for k, vs := range w.cfg.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}

	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if w.isClosed() {
			return
		}
		w.logger.Debug("websocket dial failed", "error", err)
		w.handler.OnError(err)
		return
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		conn.Close()
		return
	}
	w.conn = conn
	w.mu.Unlock()

	if w.cfg.ReadLimit > 0 {
		conn.SetReadLimit(w.cfg.ReadLimit)
	}

	w.logger.Debug("websocket connected")
	w.handler.OnOpen()

	w.readLoop(conn)
}

// readLoop delivers inbound frames until the connection ends.
func (w *WebSocket) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			// Ignore errors after Close() is called
			if w.isClosed() {
				return
			}

			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				w.handler.OnClose(err)
			} else {
				w.handler.OnError(err)
			}
			return
		}

		if w.isClosed() {
			return
		}
		w.handler.OnMessage(data)
	}
}

// Send writes a text frame.
func (w *WebSocket) Send(data []byte) error {
	w.mu.Lock()
	conn := w.conn
	closed := w.closed
	w.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotOpen
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if w.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close gracefully closes the connection.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	conn := w.conn
	cancel := w.cancel
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return nil
	}

	// Send close message
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)

	return conn.Close()
}

func (w *WebSocket) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}
