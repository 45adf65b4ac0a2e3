package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if err := c.Client.validate("client"); err != nil {
		return err
	}

	if c.Recorder.Enabled {
		if c.Recorder.BatchSize < 1 {
			return errors.New("recorder.batch_size must be >= 1")
		}
		if c.Recorder.BufferSize < 1 {
			return errors.New("recorder.buffer_size must be >= 1")
		}
		if c.Recorder.FlushInterval <= 0 {
			return errors.New("recorder.flush_interval must be > 0")
		}
		if err := c.Database.validate("database"); err != nil {
			return err
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (cc *ClientConfig) validate(prefix string) error {
	if cc.URL == "" {
		return fmt.Errorf("%s.url is required", prefix)
	}
	u, err := url.Parse(cc.URL)
	if err != nil {
		return fmt.Errorf("%s.url: %w", prefix, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%s.url scheme must be ws or wss, got %q", prefix, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s.url must include a host", prefix)
	}

	if cc.RequestTimeout <= 0 {
		return fmt.Errorf("%s.request_timeout must be > 0", prefix)
	}
	if cc.SweepInterval <= 0 {
		return fmt.Errorf("%s.sweep_interval must be > 0", prefix)
	}
	if cc.HeartbeatInterval <= 0 {
		return fmt.Errorf("%s.heartbeat_interval must be > 0", prefix)
	}
	if cc.StaleTimeout < 0 {
		return fmt.Errorf("%s.stale_timeout must be >= 0", prefix)
	}
	if cc.StaleTimeout > 0 && cc.StaleTimeout <= cc.HeartbeatInterval {
		return fmt.Errorf("%s.stale_timeout (%s) must exceed heartbeat_interval (%s)", prefix, cc.StaleTimeout, cc.HeartbeatInterval)
	}
	if cc.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("%s.reconnect_base_delay must be > 0", prefix)
	}
	if cc.ReconnectMaxDelay < 0 {
		return fmt.Errorf("%s.reconnect_max_delay must be >= 0", prefix)
	}
	if cc.ReconnectMaxDelay > 0 && cc.ReconnectMaxDelay < cc.ReconnectBaseDelay {
		return fmt.Errorf("%s.reconnect_max_delay (%s) cannot be less than reconnect_base_delay (%s)", prefix, cc.ReconnectMaxDelay, cc.ReconnectBaseDelay)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
