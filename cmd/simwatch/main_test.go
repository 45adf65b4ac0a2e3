package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rickgao/simstream/internal/config"
	"github.com/rickgao/simstream/internal/connection"
)

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{
		"--config", "sim.yaml",
		"--subscribe", "simulation:123",
		"--subscribe", "metrics:123",
		"--send", "get_status",
		"--data", `{"simulation_id":"123"}`,
		"--record",
	})
	if err != nil {
		t.Fatalf("parseFlags failed: %v", err)
	}

	if opts.configPath != "sim.yaml" {
		t.Errorf("configPath = %q, want sim.yaml", opts.configPath)
	}
	want := []subscription{{"simulation", "123"}, {"metrics", "123"}}
	if len(opts.subscriptions) != 2 || opts.subscriptions[0] != want[0] || opts.subscriptions[1] != want[1] {
		t.Errorf("subscriptions = %v, want %v", opts.subscriptions, want)
	}
	if opts.send != "get_status" || !opts.record {
		t.Errorf("opts = %+v", opts)
	}
}

func TestParseFlags_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "subscription without resource", args: []string{"--subscribe", "simulation"}},
		{name: "subscription with empty channel", args: []string{"--subscribe", ":123"}},
		{name: "data without send", args: []string{"--data", "{}"}},
		{name: "invalid data", args: []string{"--send", "x", "--data", "{"}},
		{name: "unknown flag", args: []string{"--nope"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseFlags(tt.args); err == nil {
				t.Errorf("parseFlags(%v) expected error", tt.args)
			}
		})
	}
}

func TestClientConfig(t *testing.T) {
	jitter := false
	cc := config.ClientConfig{
		URL:                  "wss://sim.example.com",
		BasePath:             "ws",
		Token:                "abc",
		RequestTimeout:       5 * time.Second,
		HeartbeatInterval:    15 * time.Second,
		StaleTimeout:         45 * time.Second,
		ReconnectBaseDelay:   time.Second,
		MaxReconnectAttempts: -1,
		MaxQueuedFrames:      -1,
		Jitter:               &jitter,
		FailFast:             true,
	}

	cfg := clientConfig(cc)
	if cfg.URL != cc.URL || cfg.Token != "abc" || cfg.StaleTimeout != 45*time.Second {
		t.Errorf("clientConfig = %+v", cfg)
	}
	if cfg.MaxReconnectAttempts != 0 {
		t.Errorf("MaxReconnectAttempts = %d, want 0 (unlimited)", cfg.MaxReconnectAttempts)
	}
	if cfg.MaxQueuedFrames != 0 {
		t.Errorf("MaxQueuedFrames = %d, want 0 (unbounded)", cfg.MaxQueuedFrames)
	}
	if cfg.Jitter || !cfg.FailFast {
		t.Errorf("Jitter = %v FailFast = %v", cfg.Jitter, cfg.FailFast)
	}
}

func TestRedact(t *testing.T) {
	got := redact("wss://sim.example.com/ws/c1?token=secret")
	if strings.Contains(got, "secret") {
		t.Errorf("redact() = %q, token still visible", got)
	}
	if got := redact("ws://localhost/ws/c1"); got != "ws://localhost/ws/c1" {
		t.Errorf("redact() without token = %q", got)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "status", connection.StatusFailed)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line logged at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"status":"failed"`) {
		t.Errorf("json output = %s", out)
	}
}
