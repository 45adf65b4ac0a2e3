// simwatch connects to the simulation backend, subscribes to resources and
// prints status transitions and events to the console. With --record, events
// are also written to PostgreSQL.
//
// Usage:
//
//	go run ./cmd/simwatch --config configs/simwatch.example.yaml \
//	    --subscribe simulation:123 --subscribe metrics:123
//
//	go run ./cmd/simwatch --config configs/simwatch.example.yaml \
//	    --send get_status --data '{"simulation_id":"123"}'
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/simstream/internal/config"
	"github.com/rickgao/simstream/internal/connection"
	"github.com/rickgao/simstream/internal/database"
	"github.com/rickgao/simstream/internal/recorder"
	"github.com/rickgao/simstream/internal/transport"
	"github.com/rickgao/simstream/internal/version"
)

var errConnectionFailed = errors.New("connection failed permanently")

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if opts.showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.LoadAndValidate(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if opts.record {
		cfg.Recorder.Enabled = true
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "validate config: %v\n", err)
			os.Exit(1)
		}
	}

	logger := newLogger(cfg.Log, os.Stderr)
	logger.Info("simwatch starting", version.Attr())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("simwatch exited", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, opts options, logger *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	gctx, cancel := context.WithCancelCause(gctx)
	defer cancel(nil)

	connCfg := clientConfig(cfg.Client)
	connCfg.OnStatus = func(ev connection.StatusEvent) {
		printStatus(ev)
		if ev.Status == connection.StatusFailed {
			cancel(fmt.Errorf("%w: %v", errConnectionFailed, ev.Err))
		}
	}

	factory := transport.WebSocketFactory(webSocketConfig(cfg.Client), logger.With("component", "transport"))
	client, err := connection.NewClient(connCfg, factory, nil, logger.With("component", "client"))
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer client.Close()

	var buf *recorder.Buffer[recorder.Event]
	if cfg.Recorder.Enabled {
		buf = recorder.NewBuffer[recorder.Event](1024, cfg.Recorder.BufferSize)
		if err := startRecorder(gctx, g, cfg, buf, logger); err != nil {
			return err
		}
	}

	for _, sub := range opts.subscriptions {
		client.Subscribe(sub.channel, sub.resourceID, subscriptionHandler(buf))
	}

	logger.Info("connecting", "url", redact(client.URL()), "client_id", client.ClientID())
	connectCtx, connectCancel := context.WithTimeout(gctx, cfg.Client.HandshakeTimeout+cfg.Client.RequestTimeout)
	err = client.Connect(connectCtx)
	connectCancel()
	if err != nil {
		// Reconnection continues in the background unless a one-shot was requested
		logger.Warn("initial connect failed", "error", err)
		if opts.send != "" {
			cancel(nil)
			g.Wait()
			return fmt.Errorf("connect: %w", err)
		}
	}

	if opts.send != "" {
		err := sendOnce(gctx, client, opts)
		cancel(nil)
		if werr := g.Wait(); err == nil {
			err = werr
		}
		return err
	}

	g.Go(func() error {
		return statsLoop(gctx, client, buf, logger)
	})

	logger.Info("watching - press Ctrl+C to stop", "subscriptions", len(opts.subscriptions))
	<-gctx.Done()
	client.Close()

	err = g.Wait()
	if cause := context.Cause(gctx); errors.Is(cause, errConnectionFailed) {
		return cause
	}
	return err
}

// startRecorder connects to the database and runs the event writer in g.
func startRecorder(ctx context.Context, g *errgroup.Group, cfg *config.Config, buf *recorder.Buffer[recorder.Event], logger *slog.Logger) error {
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	if err := database.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return err
	}

	w := recorder.NewWriter(recorder.Config{
		BatchSize:     cfg.Recorder.BatchSize,
		FlushInterval: cfg.Recorder.FlushInterval,
	}, buf, pool, logger.With("component", "recorder"))

	if err := w.Start(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("start recorder: %w", err)
	}

	g.Go(func() error {
		defer pool.Close()
		<-ctx.Done()

		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		buf.Close()
		return w.Stop(stopCtx)
	})
	return nil
}

func subscriptionHandler(buf *recorder.Buffer[recorder.Event]) connection.EventHandler {
	var record connection.EventHandler
	if buf != nil {
		record = recorder.Handler(buf, nil)
	}
	return func(f connection.Frame) {
		printEvent(f)
		if record != nil {
			record(f)
		}
	}
}

// sendOnce issues a single request and prints the response.
func sendOnce(ctx context.Context, client *connection.Client, opts options) error {
	req := connection.Request{Event: opts.send}
	if opts.data != "" {
		req.Data = json.RawMessage(opts.data)
	}

	data, err := client.Send(ctx, req)
	if err != nil {
		return fmt.Errorf("send %s: %w", opts.send, err)
	}
	fmt.Println(string(data))
	return nil
}

func statsLoop(ctx context.Context, client *connection.Client, buf *recorder.Buffer[recorder.Event], logger *slog.Logger) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			st := client.Stats()
			args := []any{
				"state", st.State,
				"subscriptions", st.Subscriptions,
				"pending_requests", st.PendingRequests,
				"queued_frames", st.QueuedFrames,
			}
			if buf != nil {
				bs := buf.Stats()
				args = append(args, "recorder_buffered", bs.Count, "recorder_dropped", bs.Dropped)
			}
			logger.Info("stats", args...)
		}
	}
}

func printStatus(ev connection.StatusEvent) {
	line := fmt.Sprintf("[STATUS] %s", ev.Status)
	if ev.Attempt > 0 {
		line += fmt.Sprintf(" attempt=%d", ev.Attempt)
	}
	if ev.Delay > 0 {
		line += fmt.Sprintf(" delay=%s", ev.Delay)
	}
	if ev.Err != nil {
		line += fmt.Sprintf(" error=%q", ev.Err)
	}
	fmt.Println(line)
}

func printEvent(f connection.Frame) {
	fmt.Printf("[EVENT] %s %s/%s %s\n", f.Event, f.Channel, f.ResourceID, f.Data)
}
