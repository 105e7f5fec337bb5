// Package events defines the event types flowing between the API and the
// delivery workers.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/dukex/herald/pkg/models"
)

type EventType string

// Topic carries every herald event; consumers route on the event type
// metadata.
const Topic = "herald.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// TriggerRequestedEvent is published by the API after synchronous
	// validation; workers expand it into per-recipient job chains.
	TriggerRequestedEvent EventType = "trigger.requested"

	// JobReadyEvent wakes the runner for exactly one job.
	JobReadyEvent EventType = "job.ready"

	// JobCompletedEvent and JobFailedEvent record chain progression for
	// observers; the runner itself advances chains directly.
	JobCompletedEvent EventType = "job.completed"
	JobFailedEvent    EventType = "job.failed"

	// TransactionCanceledEvent is published after a cancel-by-transaction.
	TransactionCanceledEvent EventType = "transaction.canceled"
)

type BaseEvent struct {
	ID            string         `json:"id"`
	Type          EventType      `json:"type"`
	Timestamp     time.Time      `json:"timestamp"`
	EnvironmentID string         `json:"environment_id"`
	WorkerID      string         `json:"worker_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// TriggerRequested carries one validated trigger call: the workflow, the
// resolved recipients, and the verified payload.
type TriggerRequested struct {
	BaseEvent

	WorkflowID     string                     `json:"workflow_id"`
	OrganizationID string                     `json:"organization_id"`
	TransactionID  string                     `json:"transaction_id"`
	Recipients     []*models.SubscriberDefine `json:"recipients"`
	Payload        map[string]any             `json:"payload,omitempty"`
	Overrides      map[string]any             `json:"overrides,omitempty"`
	Tenant         map[string]any             `json:"tenant,omitempty"`
	Actor          *models.SubscriberDefine   `json:"actor,omitempty"`
}

func (e TriggerRequested) GetType() EventType {
	return TriggerRequestedEvent
}

// JobReady signals that one job may run: its parent (if any) is terminal.
type JobReady struct {
	BaseEvent

	JobID         string `json:"job_id"`
	TransactionID string `json:"transaction_id"`
}

func (e JobReady) GetType() EventType {
	return JobReadyEvent
}

type JobCompleted struct {
	BaseEvent

	JobID         string          `json:"job_id"`
	TransactionID string          `json:"transaction_id"`
	Status        models.JobStatus `json:"status"`
	Duration      time.Duration   `json:"duration"`
}

func (e JobCompleted) GetType() EventType {
	return JobCompletedEvent
}

type JobFailed struct {
	BaseEvent

	JobID         string `json:"job_id"`
	TransactionID string `json:"transaction_id"`
	Error         string `json:"error"`
}

func (e JobFailed) GetType() EventType {
	return JobFailedEvent
}

type TransactionCanceled struct {
	BaseEvent

	TransactionID string `json:"transaction_id"`
	CanceledJobs  int    `json:"canceled_jobs"`
}

func (e TransactionCanceled) GetType() EventType {
	return TransactionCanceledEvent
}

func NewBaseEvent(eventType EventType, environmentID string) BaseEvent {
	return BaseEvent{
		ID:            uuid.New().String(),
		Type:          eventType,
		Timestamp:     time.Now().UTC(),
		EnvironmentID: environmentID,
		Metadata:      make(map[string]any),
	}
}
