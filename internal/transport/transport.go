package transport

import "errors"

// Errors
var (
	ErrNotOpen     = errors.New("transport not open")
	ErrAlreadyOpen = errors.New("transport already opened")
	ErrClosed      = errors.New("transport closed")
)

// Handler receives transport lifecycle events and inbound frames.
type Handler interface {
	// OnOpen is called once the channel is ready for Send.
	OnOpen()

	// OnMessage is called for every inbound text frame.
	OnMessage(data []byte)

	// OnClose is called when the peer closes the channel.
	OnClose(err error)

	// OnError is called when opening fails or the channel breaks.
	OnError(err error)
}

// Transport is a single physical connection.
type Transport interface {
	// Open starts connecting to url. Events are delivered to h, never from
	// within Open itself.
	Open(url string, h Handler) error

	// Send writes one text frame.
	Send(data []byte) error

	// Close tears the connection down. No further Handler calls are made.
	Close() error
}

// Factory creates a fresh Transport for each connection attempt.
type Factory func() Transport
