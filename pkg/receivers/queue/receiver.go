// Package queue consumes workflow failure reports from a Redis list.
// Engines that push execution errors onto a queue use this intake
// instead of (or alongside) the HTTP report endpoint.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/flowmend/flowmend/pkg/models"
)

const (
	// DefaultQueue is the list reports are popped from when no name is
	// configured.
	DefaultQueue = "flowmend:reports"

	popTimeout     = 1 * time.Second
	connectTimeout = 5 * time.Second
	retryBackoff   = 1 * time.Second
)

// ReportFunc receives each decoded failure report. It runs on its own
// goroutine per report so a slow analysis never blocks the consumer loop.
type ReportFunc func(ctx context.Context, report *models.ErrorReport) error

// Config locates the Redis list to consume.
type Config struct {
	// URL is a redis:// connection URL.
	URL string
	// Queue is the list name, DefaultQueue when empty.
	Queue string
}

// Receiver pops failure reports off a Redis list and hands them to the
// report callback.
type Receiver struct {
	opts     *redis.Options
	queue    string
	onReport ReportFunc
	logger   *slog.Logger

	client redis.UniversalClient
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewReceiver validates the configuration and prepares a receiver. The
// connection is only opened by Start.
func NewReceiver(cfg Config, onReport ReportFunc, logger *slog.Logger) (*Receiver, error) {
	if cfg.URL == "" {
		return nil, errors.New("queue receiver redis url is required")
	}

	if onReport == nil {
		return nil, errors.New("queue receiver report callback is required")
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	queue := cfg.Queue
	if queue == "" {
		queue = DefaultQueue
	}

	return &Receiver{
		opts:     opts,
		queue:    queue,
		onReport: onReport,
		stopCh:   make(chan struct{}),
		logger: logger.With(
			"module", "queue_receiver",
			"queue", queue,
		),
	}, nil
}

// Start connects to Redis and begins consuming in the background.
func (r *Receiver) Start(ctx context.Context) error {
	r.client = redis.NewClient(r.opts)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := r.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	r.logger.InfoContext(ctx, "Connected to Redis", "addr", r.opts.Addr)

	r.wg.Add(1)

	go r.consume(ctx)

	return nil
}

func (r *Receiver) consume(ctx context.Context) {
	defer r.wg.Done()

	r.logger.InfoContext(ctx, "Starting report queue consumer")

	for {
		select {
		case <-r.stopCh:
			r.logger.InfoContext(ctx, "Report queue consumer stopped")

			return
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "Context cancelled, stopping report queue consumer")

			return
		default:
			if err := r.processMessage(ctx); err != nil {
				r.logger.ErrorContext(ctx, "Error processing queue message", "error", err)
				time.Sleep(retryBackoff)
			}
		}
	}
}

func (r *Receiver) processMessage(ctx context.Context) error {
	result, err := r.client.BLPop(ctx, popTimeout, r.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to pop report from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	report, err := decodeReport([]byte(result[1]))
	if err != nil {
		// A malformed message is dropped, not retried.
		r.logger.WarnContext(ctx, "Discarding undecodable queue message", "error", err)

		return nil
	}

	r.logger.InfoContext(ctx, "Received failure report from queue",
		"workflow_id", report.WorkflowID,
		"execution_id", report.ExecutionID)

	r.wg.Add(1)

	go func() {
		defer r.wg.Done()

		if err := r.onReport(ctx, report); err != nil {
			r.logger.ErrorContext(ctx, "Failed to handle queued failure report",
				"workflow_id", report.WorkflowID,
				"error", err)
		}
	}()

	return nil
}

// decodeReport parses a queue message into a failure report. A missing
// timestamp is stamped with the receive time.
func decodeReport(payload []byte) (*models.ErrorReport, error) {
	var report models.ErrorReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, fmt.Errorf("failed to decode failure report: %w", err)
	}

	if report.WorkflowID == "" || report.Message == "" {
		return nil, errors.New("failure report requires workflow_id and message")
	}

	if report.Timestamp.IsZero() {
		report.Timestamp = time.Now().UTC()
	}

	return &report, nil
}

// Stop halts the consumer loop, waits for in-flight reports and closes
// the connection.
func (r *Receiver) Stop(ctx context.Context) error {
	r.logger.InfoContext(ctx, "Stopping report queue receiver")

	close(r.stopCh)
	r.wg.Wait()

	if r.client != nil {
		if err := r.client.Close(); err != nil {
			r.logger.ErrorContext(ctx, "Error closing Redis client", "error", err)
		}
	}

	return nil
}
