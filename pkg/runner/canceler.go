package runner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/herald/pkg/eventbus"
	"github.com/dukex/herald/pkg/events"
	"github.com/dukex/herald/pkg/models"
	"github.com/dukex/herald/pkg/persistence"
)

// Canceler stops in-flight transactions. It is usable from the API process,
// which has no dispatcher or matcher, as well as from a worker.
type Canceler struct {
	logger    *slog.Logger
	workerID  string
	jobs      persistence.JobRepository
	details   persistence.ExecutionDetailRepository
	publisher eventbus.EventPublisher
}

// NewCanceler creates a transaction canceler.
func NewCanceler(
	logger *slog.Logger,
	workerID string,
	jobs persistence.JobRepository,
	details persistence.ExecutionDetailRepository,
	publisher eventbus.EventPublisher,
) *Canceler {
	return &Canceler{
		logger:    logger.With("module", "canceler"),
		workerID:  workerID,
		jobs:      jobs,
		details:   details,
		publisher: publisher,
	}
}

// CancelTransaction cancels every non-terminal job of a transaction and
// announces the cancel on the bus. Jobs already delivered stay delivered.
func (c *Canceler) CancelTransaction(ctx context.Context, environmentID, transactionID string) (int, error) {
	jobs, err := c.jobs.FindByTransaction(ctx, transactionID)
	if err != nil {
		return 0, fmt.Errorf("failed to load transaction %s: %w", transactionID, err)
	}

	canceled := 0

	for _, job := range jobs {
		if job.EnvironmentID != environmentID || job.Status.Terminal() {
			continue
		}

		err = c.jobs.UpdateStatus(ctx, job.ID, models.JobStatusCanceled)
		if err != nil {
			return canceled, fmt.Errorf("failed to cancel job %s: %w", job.ID, err)
		}

		err = c.details.Create(ctx, &models.ExecutionDetail{
			EnvironmentID:  job.EnvironmentID,
			OrganizationID: job.OrganizationID,
			JobID:          job.ID,
			TransactionID:  job.TransactionID,
			SubscriberID:   job.SubscriberID,
			Detail:         models.DetailJobCanceled,
			Status:         models.ExecutionStatusWarning,
		})
		if err != nil {
			return canceled, fmt.Errorf("failed to record cancel detail: %w", err)
		}

		canceled++
	}

	base := events.NewBaseEvent(events.TransactionCanceledEvent, environmentID)
	base.WorkerID = c.workerID

	err = c.publisher.Publish(ctx, transactionID, events.TransactionCanceled{
		BaseEvent:     base,
		TransactionID: transactionID,
		CanceledJobs:  canceled,
	})
	if err != nil {
		c.logger.WarnContext(ctx, "Failed to publish transaction.canceled",
			"transaction_id", transactionID, "error", err)
	}

	c.logger.InfoContext(ctx, "Canceled transaction",
		"transaction_id", transactionID, "canceled_jobs", canceled)

	return canceled, nil
}
