package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/herald/pkg/channels"
	"github.com/dukex/herald/pkg/cmd"
	"github.com/dukex/herald/pkg/eventbus"
	"github.com/dukex/herald/pkg/events"
	"github.com/dukex/herald/pkg/filter"
	"github.com/dukex/herald/pkg/idempotency"
	"github.com/dukex/herald/pkg/otelhelper"
	"github.com/dukex/herald/pkg/persistence"
	"github.com/dukex/herald/pkg/runner"
	"github.com/dukex/herald/pkg/subscribers"
	"github.com/dukex/herald/pkg/workflow"
)

type WorkerManager struct {
	id           string
	logger       *slog.Logger
	store        persistence.Persistence
	eventBus     eventbus.EventBus
	locks        idempotency.Store
	storeContent bool
	tracer       trace.Tracer
}

func NewWorkerManager(
	id string,
	store persistence.Persistence,
	eventBus eventbus.EventBus,
	locks idempotency.Store,
	storeContent bool,
	logger *slog.Logger,
) *WorkerManager {
	return &WorkerManager{
		id:           id,
		logger:       logger.With("module", "herald-worker", "worker_id", id),
		store:        store,
		eventBus:     eventBus,
		locks:        locks,
		storeContent: storeContent,
	}
}

func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	tracer, err := otelhelper.NewTracer(ctx, "herald-worker")
	if err != nil {
		w.logger.WarnContext(ctx, "Tracing disabled", "error", err)
	} else {
		w.tracer = tracer
	}

	registry := cmd.NewProviderRegistry(w.logger)
	matcher := filter.NewMatcher(w.logger, filter.NewWebhookClient(w.logger), w.store.Messages())
	dispatcher := channels.NewDispatcher(w.logger,
		w.store.Integrations(), w.store.Messages(), w.store.ExecutionDetails(), registry, w.storeContent)

	pipeline := runner.NewRunner(
		w.logger,
		w.id,
		w.store,
		w.eventBus,
		matcher,
		workflow.NewExpander(w.logger),
		subscribers.NewResolver(w.logger, w.store.Subscribers()),
		dispatcher,
		w.locks,
	)

	err = w.eventBus.Handle(events.TriggerRequestedEvent,
		w.traced("trigger.requested", pipeline.HandleTriggerRequested))
	if err != nil {
		return err
	}

	err = w.eventBus.Handle(events.JobReadyEvent,
		w.traced("job.ready", pipeline.HandleJobReady))
	if err != nil {
		return err
	}

	err = w.eventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	activator := runner.NewActivator(w.logger, w.store.Jobs(), pipeline)

	err = activator.Start(ctx)
	if err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	w.logger.InfoContext(ctx, "Shutting down worker...")

	return activator.Stop(ctx)
}

// traced wraps an event handler in a span when tracing is configured.
func (w *WorkerManager) traced(name string, handler eventbus.EventHandler) eventbus.EventHandler {
	return func(ctx context.Context, event any) error {
		if w.tracer == nil {
			return handler(ctx, event)
		}

		ctx, span := otelhelper.StartSpan(ctx, w.tracer, name,
			attribute.String(otelhelper.WorkerIDKey, w.id))
		defer span.End()

		err := handler(ctx, event)
		if err != nil {
			otelhelper.SetError(span, err)
		}

		return err
	}
}
