package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel"

	"github.com/flowmend/flowmend/pkg/agent"
	"github.com/flowmend/flowmend/pkg/analysis"
	"github.com/flowmend/flowmend/pkg/approvals"
	"github.com/flowmend/flowmend/pkg/approvals/memory"
	"github.com/flowmend/flowmend/pkg/channel"
	"github.com/flowmend/flowmend/pkg/cmd"
	"github.com/flowmend/flowmend/pkg/docs"
	"github.com/flowmend/flowmend/pkg/log"
	"github.com/flowmend/flowmend/pkg/models"
	"github.com/flowmend/flowmend/pkg/otelhelper"
	"github.com/flowmend/flowmend/pkg/receivers/queue"
	"github.com/flowmend/flowmend/pkg/workflows"
)

const (
	serviceName          = "flowmend-agent"
	defaultPort          = 9010
	defaultShutdownGrace = 5 * time.Second
)

func main() {
	command := &cli.Command{
		Name:                  serviceName,
		Usage:                 "Propose, discuss and apply human-approved fixes for failing workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the agent API on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "engine-api-url",
				Usage:    "Base URL of the workflow engine REST API",
				Required: true,
				Sources:  cli.EnvVars("ENGINE_API_URL"),
			},
			&cli.StringFlag{
				Name:    "engine-api-key",
				Usage:   "API key for the workflow engine",
				Sources: cli.EnvVars("ENGINE_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "llm-provider",
				Usage:   "LLM provider (openai, anthropic, googleai, ollama)",
				Value:   "openai",
				Sources: cli.EnvVars("LLM_PROVIDER"),
			},
			&cli.StringFlag{
				Name:    "llm-model",
				Usage:   "Model name, provider default when empty",
				Sources: cli.EnvVars("LLM_MODEL"),
			},
			&cli.StringFlag{
				Name:    "llm-api-key",
				Usage:   "API key for the LLM provider",
				Sources: cli.EnvVars("LLM_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "channel-webhook-url",
				Usage:   "Webhook URL proposals are delivered to; in-memory channel when empty",
				Sources: cli.EnvVars("CHANNEL_WEBHOOK_URL"),
			},
			&cli.StringFlag{
				Name:    "docs-url",
				Usage:   "Node documentation service URL; no docs context when empty",
				Sources: cli.EnvVars("DOCS_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "queue-url",
				Usage:   "Redis URL for queue-based report intake; HTTP-only when empty",
				Sources: cli.EnvVars("QUEUE_URL"),
			},
			&cli.StringFlag{
				Name:    "queue-name",
				Usage:   "Redis list to pop failure reports from",
				Value:   queue.DefaultQueue,
				Sources: cli.EnvVars("QUEUE_NAME"),
			},
			&cli.DurationFlag{
				Name:    "approval-ttl",
				Usage:   "How long a pending proposal waits before expiring",
				Value:   approvals.DefaultTTL,
				Sources: cli.EnvVars("APPROVAL_TTL"),
			},
			&cli.DurationFlag{
				Name:    "sweep-interval",
				Usage:   "How often the expiry sweep runs",
				Value:   approvals.DefaultSweepInterval,
				Sources: cli.EnvVars("SWEEP_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "shutdown-grace",
				Usage:   "Grace period for in-flight work on shutdown",
				Value:   defaultShutdownGrace,
				Sources: cli.EnvVars("SHUTDOWN_GRACE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OpenTelemetry tracing",
				Sources: cli.EnvVars("TRACING"),
			},
		},
		Action: run,
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))
	logger := log.WithModule("agent")

	logger.InfoContext(ctx, "Initializing flowmend agent")

	tracer := otel.Tracer(serviceName)

	var tracerShutdown func(context.Context) error

	if command.Bool("tracing") {
		var err error

		tracer, tracerShutdown, err = otelhelper.NewTracer(ctx, serviceName)
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}
	}

	model, err := analysis.NewModel(ctx,
		command.String("llm-provider"),
		command.String("llm-model"),
		command.String("llm-api-key"))
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}

	analyzer := analysis.NewClient(model, logger)
	repo := workflows.NewHTTPRepository(command.String("engine-api-url"), command.String("engine-api-key"), logger)
	notifier := newNotifier(command.String("channel-webhook-url"), logger)
	fetcher := newDocsFetcher(command.String("docs-url"), logger)

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), serviceName, logger)
	if err != nil {
		return err
	}

	store := memory.NewStore(command.Duration("approval-ttl"))
	service := agent.NewService(store, repo, analyzer, notifier, fetcher, eventBus, tracer, logger)

	sweeper := approvals.NewSweeper(store, command.Duration("sweep-interval"), service.HandleExpired, logger)
	if err := sweeper.Start(ctx); err != nil {
		return err
	}

	receiver, err := startQueueReceiver(ctx, command, service, logger)
	if err != nil {
		return err
	}

	api := NewAPI(logger, service, store)
	errCh := make(chan error, 1)

	go func() {
		errCh <- api.Start(command.Int("port"))
	}()

	logger.InfoContext(ctx, "flowmend agent started", "port", command.Int("port"))

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.ErrorContext(ctx, "API server failed", "error", err)
		}
	case sig := <-signals:
		logger.InfoContext(ctx, "Shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), command.Duration("shutdown-grace"))
	defer cancel()

	if err := api.Shutdown(shutdownCtx); err != nil {
		logger.ErrorContext(ctx, "Failed to stop API server", "error", err)
	}

	if receiver != nil {
		if err := receiver.Stop(shutdownCtx); err != nil {
			logger.ErrorContext(ctx, "Failed to stop queue receiver", "error", err)
		}
	}

	if err := sweeper.Stop(shutdownCtx); err != nil {
		logger.ErrorContext(ctx, "Failed to stop expiry sweeper", "error", err)
	}

	if err := eventBus.Close(); err != nil {
		logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
	}

	if tracerShutdown != nil {
		if err := tracerShutdown(shutdownCtx); err != nil {
			logger.ErrorContext(ctx, "Failed to shut down tracer provider", "error", err)
		}
	}

	return nil
}

// newNotifier picks the channel implementation: webhook for real
// deployments, in-memory when no channel is configured.
func newNotifier(webhookURL string, logger *slog.Logger) channel.Notifier {
	if webhookURL == "" {
		logger.Warn("No channel webhook configured, proposals are only reachable through the API")

		return channel.NewMemory()
	}

	return channel.NewWebhook(webhookURL, logger)
}

// newDocsFetcher picks the documentation source. Absence of a docs
// service is a valid configuration; prompts then carry no doc context.
func newDocsFetcher(docsURL string, logger *slog.Logger) docs.Fetcher {
	if docsURL == "" {
		return docs.NewStatic()
	}

	return docs.NewHTTPFetcher(docsURL, logger)
}

// startQueueReceiver wires the optional Redis intake to the report flow.
func startQueueReceiver(ctx context.Context, command *cli.Command, service *agent.Service, logger *slog.Logger) (*queue.Receiver, error) {
	url := command.String("queue-url")
	if url == "" {
		return nil, nil
	}

	receiver, err := queue.NewReceiver(queue.Config{
		URL:   url,
		Queue: command.String("queue-name"),
	}, func(ctx context.Context, report *models.ErrorReport) error {
		_, err := service.HandleReport(ctx, report)

		return err
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := receiver.Start(ctx); err != nil {
		return nil, err
	}

	return receiver, nil
}
