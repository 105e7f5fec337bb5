// Package persistence provides the data storage abstraction for workflows,
// jobs, messages, subscribers, integrations and execution details.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/herald/pkg/models"
)

// Persistence aggregates the logical repositories the delivery pipeline
// consumes. Implementations are free to back them with any store.
type Persistence interface {
	Workflows() WorkflowRepository
	Jobs() JobRepository
	Messages() MessageRepository
	Subscribers() SubscriberRepository
	Integrations() IntegrationRepository
	ExecutionDetails() ExecutionDetailRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

type WorkflowRepository interface {
	Create(ctx context.Context, workflow *models.Workflow) error
	Update(ctx context.Context, workflow *models.Workflow) error
	GetByID(ctx context.Context, environmentID, id string) (*models.Workflow, error)
	// FindByTriggerIdentifier resolves the workflow a trigger call names.
	FindByTriggerIdentifier(ctx context.Context, environmentID, identifier string) (*models.Workflow, error)
	List(ctx context.Context, environmentID string) ([]*models.Workflow, error)
	// Delete soft-deletes; jobs already expanded keep running.
	Delete(ctx context.Context, environmentID, id string) error
}

type JobRepository interface {
	// CreateMany persists one recipient's whole chain atomically: either all
	// jobs exist or none do, so ParentID ordering cannot be corrupted.
	CreateMany(ctx context.Context, jobs []*models.Job) error
	GetByID(ctx context.Context, id string) (*models.Job, error)
	Update(ctx context.Context, job *models.Job) error
	UpdateStatus(ctx context.Context, id string, status models.JobStatus) error
	FindByTransaction(ctx context.Context, transactionID string) ([]*models.Job, error)
	// FindChild returns the job whose ParentID is the given job id, nil when
	// the chain ends there.
	FindChild(ctx context.Context, parentID string) (*models.Job, error)
	// FindDue returns delayed/digest jobs whose wake time has passed.
	FindDue(ctx context.Context, now time.Time, limit int) ([]*models.Job, error)
	// FindOpenDigest returns the digest job currently accumulating events for
	// the key, nil when no window is open.
	FindOpenDigest(ctx context.Context, environmentID, digestKey string) (*models.Job, error)
}

type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	Update(ctx context.Context, message *models.Message) error
	GetByID(ctx context.Context, id string) (*models.Message, error)
	// FindBySubscriberAndStep locates the message a previous-step filter
	// references within one transaction.
	FindBySubscriberAndStep(ctx context.Context, environmentID, subscriberID, stepID, transactionID string) (*models.Message, error)
	FindByTransaction(ctx context.Context, transactionID string) ([]*models.Message, error)
	FindBySubscriber(ctx context.Context, environmentID, subscriberID string) ([]*models.Message, error)
}

type SubscriberRepository interface {
	Create(ctx context.Context, subscriber *models.Subscriber) error
	Update(ctx context.Context, subscriber *models.Subscriber) error
	GetBySubscriberID(ctx context.Context, environmentID, subscriberID string) (*models.Subscriber, error)
	// ListByTopic returns every subscriber whose topics include topic.
	ListByTopic(ctx context.Context, environmentID, topic string) ([]*models.Subscriber, error)
}

type IntegrationRepository interface {
	Create(ctx context.Context, integration *models.Integration) error
	Update(ctx context.Context, integration *models.Integration) error
	List(ctx context.Context, environmentID string) ([]*models.Integration, error)
	// FindActive selects the integration for a dispatch: provider override
	// when given, otherwise primary, otherwise highest priority active.
	// Soft-deleted integrations never match.
	FindActive(ctx context.Context, environmentID string, channel models.ChannelType, providerID string) (*models.Integration, error)
}

type ExecutionDetailRepository interface {
	Create(ctx context.Context, detail *models.ExecutionDetail) error
	FindByJob(ctx context.Context, jobID string) ([]*models.ExecutionDetail, error)
	FindByTransaction(ctx context.Context, transactionID string) ([]*models.ExecutionDetail, error)
	// FindLatestByMessage returns the most recent entry for a message, nil
	// when none recorded.
	FindLatestByMessage(ctx context.Context, messageID string) (*models.ExecutionDetail, error)
}
