// Package main provides the CanvasFlow daemon: it runs the execution engine
// together with the webhook ingestion server and the cron scheduler.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/canvasflow/canvasflow/pkg/cmd"
	"github.com/canvasflow/canvasflow/pkg/log"
	"github.com/canvasflow/canvasflow/pkg/tracing"
)

const defaultWebhookPort = 8085

func main() {
	command := &cli.Command{
		Name:                  "canvasflow",
		EnableShellCompletion: true,
		Usage:                 "Start the CanvasFlow execution daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "daemon-id",
				Aliases: []string{"id"},
				Usage:   "Custom daemon ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("DAEMON_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Optional Redis URL for the entity position cache",
				Value:   "",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.IntFlag{
				Name:    "webhook-port",
				Usage:   "Port for the webhook ingestion server",
				Value:   defaultWebhookPort,
				Sources: cli.EnvVars("WEBHOOK_PORT"),
			},
			&cli.StringFlag{
				Name:    "sources-file",
				Usage:   "Path to a JSON file declaring webhook sources and schedules",
				Value:   "",
				Sources: cli.EnvVars("SOURCES_FILE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			daemonID := command.String("daemon-id")
			if daemonID == "" {
				daemonID = "daemon-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("canvasflow").With("daemon_id", daemonID)

			logger.InfoContext(ctx, "Initializing CanvasFlow daemon")

			tracerProvider, err := tracing.InitTracer(ctx, "canvasflow")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}
			defer func() {
				if err := tracerProvider.Shutdown(ctx); err != nil {
					slog.Error("Failed to shutdown tracer provider", "error", err)
				}
			}()

			registry := cmd.NewRegistry(logger)

			persistence := cmd.WithEntityCache(logger,
				cmd.NewPersistence(ctx, logger, command.String("database-url")),
				command.String("redis-url"))
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			daemon, err := NewDaemon(
				daemonID,
				logger,
				persistence,
				registry,
				eventBus,
				command.Int("webhook-port"),
				command.String("sources-file"),
			)
			if err != nil {
				return err
			}

			return daemon.Start(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
