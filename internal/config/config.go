package config

import "time"

// Config is the root configuration for simwatch.
type Config struct {
	Client   ClientConfig   `yaml:"client"`
	Recorder RecorderConfig `yaml:"recorder"`
	Database DBConfig       `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
}

// ClientConfig holds real-time connection settings.
type ClientConfig struct {
	URL      string `yaml:"url"`       // ws:// or wss:// base URL
	BasePath string `yaml:"base_path"` // Path before the client id
	Token    string `yaml:"token"`
	ClientID string `yaml:"client_id"` // Generated when empty

	RequestTimeout time.Duration `yaml:"request_timeout"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	StaleTimeout      time.Duration `yaml:"stale_timeout"` // 0 disables stale detection

	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"` // Negative = unlimited
	Jitter               *bool         `yaml:"jitter"` // Defaults to true

	FailFast        bool `yaml:"fail_fast"`
	MaxQueuedFrames int  `yaml:"max_queued_frames"` // Negative = unbounded

	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	ReadLimit        int64         `yaml:"read_limit"`
}

// RecorderConfig holds event recorder settings.
type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// JitterEnabled reports whether reconnect delays are randomized.
func (c ClientConfig) JitterEnabled() bool {
	return c.Jitter == nil || *c.Jitter
}
