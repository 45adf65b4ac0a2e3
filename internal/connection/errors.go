package connection

import (
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrDisconnected    = errors.New("disconnected by caller")
	ErrClosed          = errors.New("client closed")
	ErrQueueFull       = errors.New("outbound queue full")
	ErrStaleConnection = errors.New("connection stale (no inbound frames)")
	ErrEmptyEvent      = errors.New("request event is required")
)

// ConnectionError reports a transport open, write or runtime failure. It
// drives reconnection and is only returned to Connect callers.
type ConnectionError struct {
	Op  string // "open", "write", "read"
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError reports that a request got no response before its deadline.
type TimeoutError struct {
	ID      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request %s timed out after %s", e.ID, e.Timeout)
}

// ResponseError carries the error field of a response frame.
type ResponseError struct {
	ID      string
	Message string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("request %s: %s", e.ID, e.Message)
}

// ProtocolError describes an inbound frame that could not be interpreted.
type ProtocolError struct {
	Raw string // Frame prefix, for logging
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// SubscriptionError reports a subscribe or unsubscribe frame that could not
// be sent. The registry is updated regardless.
type SubscriptionError struct {
	Op         string // "subscribe" or "unsubscribe"
	Channel    string
	ResourceID string
	Err        error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("%s %s/%s: %v", e.Op, e.Channel, e.ResourceID, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// TerminalFailure is reported with StatusFailed once reconnect attempts are
// exhausted.
type TerminalFailure struct {
	Attempts int
	Err      error // Last connection failure
}

func (e *TerminalFailure) Error() string {
	return fmt.Sprintf("giving up after %d reconnect attempts: %v", e.Attempts, e.Err)
}

func (e *TerminalFailure) Unwrap() error { return e.Err }
