package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/dukex/herald/pkg/cmd"
	"github.com/dukex/herald/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "herald-worker",
		EnableShellCompletion: true,
		Usage:                 "Start workers to expand triggers and deliver notifications",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, memory)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "idempotency-url",
				Usage:   "Claim/lock store URL (redis://host:port or memory://)",
				Value:   "memory://",
				Sources: cli.EnvVars("IDEMPOTENCY_URL"),
			},
			&cli.BoolFlag{
				Name:    "store-content",
				Usage:   "Persist rendered message content (in-app messages always keep theirs)",
				Value:   true,
				Sources: cli.EnvVars("STORE_CONTENT"),
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

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("herald-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Herald Worker")

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			store := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				err := store.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			locks := cmd.NewIdempotencyStore(ctx, logger, command.String("idempotency-url"))
			defer func() {
				if err := locks.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close lock store", "error", err)
				}
			}()

			worker := NewWorkerManager(workerID, store, eventBus, locks, command.Bool("store-content"), logger)

			err := worker.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start delivery worker", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
