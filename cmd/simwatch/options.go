package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/rickgao/simstream/internal/config"
	"github.com/rickgao/simstream/internal/connection"
	"github.com/rickgao/simstream/internal/transport"
)

type subscription struct {
	channel    string
	resourceID string
}

type options struct {
	configPath    string
	subscriptions []subscription
	send          string
	data          string
	record        bool
	showVersion   bool
}

func parseFlags(args []string) (options, error) {
	var opts options

	fs := flag.NewFlagSet("simwatch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.configPath, "config", "configs/simwatch.example.yaml", "path to config file")
	fs.Func("subscribe", "channel:resource_id to subscribe to (repeatable)", func(v string) error {
		sub, err := parseSubscription(v)
		if err != nil {
			return err
		}
		opts.subscriptions = append(opts.subscriptions, sub)
		return nil
	})
	fs.StringVar(&opts.send, "send", "", "send one request with this event name and print the response")
	fs.StringVar(&opts.data, "data", "", "JSON data for --send")
	fs.BoolVar(&opts.record, "record", false, "record subscription events to PostgreSQL")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.data != "" {
		if opts.send == "" {
			return options{}, errors.New("--data requires --send")
		}
		if !json.Valid([]byte(opts.data)) {
			return options{}, fmt.Errorf("--data is not valid JSON: %s", opts.data)
		}
	}
	return opts, nil
}

func parseSubscription(v string) (subscription, error) {
	channel, resourceID, ok := strings.Cut(v, ":")
	if !ok || channel == "" || resourceID == "" {
		return subscription{}, fmt.Errorf("subscription %q must be channel:resource_id", v)
	}
	return subscription{channel: channel, resourceID: resourceID}, nil
}

// clientConfig maps the YAML client section onto connection.Config.
func clientConfig(cc config.ClientConfig) connection.Config {
	cfg := connection.Config{
		URL:                  cc.URL,
		BasePath:             cc.BasePath,
		Token:                cc.Token,
		ClientID:             cc.ClientID,
		RequestTimeout:       cc.RequestTimeout,
		SweepInterval:        cc.SweepInterval,
		HeartbeatInterval:    cc.HeartbeatInterval,
		StaleTimeout:         cc.StaleTimeout,
		ReconnectBaseDelay:   cc.ReconnectBaseDelay,
		ReconnectMaxDelay:    cc.ReconnectMaxDelay,
		MaxReconnectAttempts: cc.MaxReconnectAttempts,
		Jitter:               cc.JitterEnabled(),
		FailFast:             cc.FailFast,
		MaxQueuedFrames:      cc.MaxQueuedFrames,
	}
	if cfg.MaxReconnectAttempts < 0 {
		cfg.MaxReconnectAttempts = 0
	}
	if cfg.MaxQueuedFrames < 0 {
		cfg.MaxQueuedFrames = 0
	}
	return cfg
}

func webSocketConfig(cc config.ClientConfig) transport.WebSocketConfig {
	return transport.WebSocketConfig{
		HandshakeTimeout: cc.HandshakeTimeout,
		WriteTimeout:     cc.WriteTimeout,
		ReadLimit:        cc.ReadLimit,
	}
}

// redact hides the token query parameter for logging.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
