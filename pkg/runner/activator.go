package runner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/herald/pkg/persistence"
)

const (
	defaultPollInterval = 1 * time.Second
	defaultWakeBatch    = 100
)

// Activator polls for delayed and digest jobs whose wake time has passed and
// hands them back to the runner for completion.
type Activator struct {
	logger   *slog.Logger
	jobs     persistence.JobRepository
	runner   *Runner
	interval time.Duration
	batch    int

	ticker  *time.Ticker
	done    chan bool
	started bool
	mu      sync.Mutex
}

// NewActivator creates an activator with the default poll interval.
func NewActivator(logger *slog.Logger, jobs persistence.JobRepository, r *Runner) *Activator {
	return &Activator{
		logger:   logger.With("module", "activator"),
		jobs:     jobs,
		runner:   r,
		interval: defaultPollInterval,
		batch:    defaultWakeBatch,
	}
}

// Start launches the poll loop.
func (a *Activator) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return nil
	}

	a.logger.InfoContext(ctx, "Starting activator", "interval", a.interval)

	a.ticker = time.NewTicker(a.interval)
	a.done = make(chan bool)
	a.started = true

	go a.poll(ctx)

	return nil
}

// Stop halts the poll loop.
func (a *Activator) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return nil
	}

	a.logger.InfoContext(ctx, "Stopping activator")

	if a.ticker != nil {
		a.ticker.Stop()
	}

	select {
	case a.done <- true:
	default:
	}

	a.started = false

	return nil
}

func (a *Activator) poll(ctx context.Context) {
	for {
		select {
		case <-a.done:
			return
		case <-ctx.Done():
			return
		case <-a.ticker.C:
			a.WakeDue(ctx)
		}
	}
}

// WakeDue completes every due parked job found in one poll. Failures are
// logged and retried on the next tick.
func (a *Activator) WakeDue(ctx context.Context) {
	now := time.Now().UTC()

	due, err := a.jobs.FindDue(ctx, now, a.batch)
	if err != nil {
		a.logger.ErrorContext(ctx, "Failed to find due jobs", "error", err)

		return
	}

	if len(due) == 0 {
		return
	}

	a.logger.InfoContext(ctx, "Waking due jobs", "count", len(due))

	for _, job := range due {
		err = a.runner.wake(ctx, job)
		if err != nil {
			a.logger.ErrorContext(ctx, "Failed to wake job",
				"job_id", job.ID, "type", job.Type, "error", err)
		}
	}
}
