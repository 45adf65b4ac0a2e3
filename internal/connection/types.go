package connection

import (
	"encoding/json"
	"time"
)

// State is the connection state machine position.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is the value reported to the status callback.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusReconnecting Status = "reconnecting"
	StatusError        Status = "error"
	StatusFailed       Status = "failed"
)

// StatusEvent describes one state transition.
type StatusEvent struct {
	Status  Status
	Attempt int           // Reconnect attempt number (reconnecting, failed)
	Delay   time.Duration // Wait before the next attempt (reconnecting)
	Err     error         // Cause, if any
}

// StatusHandler observes status transitions.
type StatusHandler func(StatusEvent)

// Frame is the JSON text frame exchanged with the server.
type Frame struct {
	ID         string          `json:"id,omitempty"`
	Event      string          `json:"event,omitempty"`
	Channel    string          `json:"channel,omitempty"`
	ResourceID string          `json:"resource_id,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// EventHandler receives inbound event frames.
type EventHandler func(Frame)

// Request is an outbound correlated request.
type Request struct {
	Event   string
	Data    any           // Marshalled into the data field; nil omits it
	Timeout time.Duration // Overrides Config.RequestTimeout when > 0
}

// subscriptionData is the data field of subscribe/unsubscribe frames.
type subscriptionData struct {
	Channel    string `json:"channel"`
	ResourceID string `json:"resource_id"`
}

// inboundFrame tolerates error fields that are objects instead of strings.
type inboundFrame struct {
	ID         string          `json:"id"`
	Event      string          `json:"event"`
	Channel    string          `json:"channel"`
	ResourceID string          `json:"resource_id"`
	Data       json.RawMessage `json:"data"`
	Error      json.RawMessage `json:"error"`
}

// Config configures a Client.
type Config struct {
	URL      string // Server base URL, e.g. wss://sim.example.com
	BasePath string // Path prefix before the client id, e.g. "ws"
	Token    string // Appended as ?token=
	ClientID string // Generated when empty; stable across reconnects

	RequestTimeout time.Duration // Default deadline for Send
	SweepInterval  time.Duration // How often expired requests are rejected

	HeartbeatInterval time.Duration // Ping period while connected
	StaleTimeout      time.Duration // Reconnect when nothing is received for this long (0 = disabled)

	ReconnectBaseDelay   time.Duration // Delay before the first retry
	ReconnectMaxDelay    time.Duration // Cap for the doubled delay (0 = uncapped)
	MaxReconnectAttempts int           // Retries before Failed (0 = unlimited)
	Jitter               bool          // Randomize delays by +/-50%

	FailFast        bool // Send fails with ErrNotConnected instead of queueing
	MaxQueuedFrames int  // Outbound queue bound (0 = unbounded)

	OnStatus StatusHandler
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:       10 * time.Second,
		SweepInterval:        250 * time.Millisecond,
		HeartbeatInterval:    30 * time.Second,
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxDelay:    60 * time.Second,
		MaxReconnectAttempts: 10,
		Jitter:               true,
		MaxQueuedFrames:      1000,
	}
}

// withDefaults fills zero durations that must be positive.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = d.ReconnectBaseDelay
	}
	return c
}

// Stats is a snapshot of client state.
type Stats struct {
	State           State
	Attempts        int
	Subscriptions   int // Distinct (channel, resource id) keys
	Handlers        int // Subscription callbacks across all keys
	PendingRequests int
	QueuedFrames    int
}
