package models

import "time"

// JobStatus is the scheduler state of one per-recipient, per-step unit of
// work.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusDelayed   JobStatus = "delayed"
	JobStatusCanceled  JobStatus = "canceled"
	JobStatusMerged    JobStatus = "merged"
)

// Terminal reports whether a job in this status will never transition again.
// DELAYED is not terminal: the activator wakes it.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCanceled, JobStatusMerged:
		return true
	default:
		return false
	}
}

// Job is the per-recipient, per-step unit of scheduled work. All jobs spawned
// by one trigger call share a TransactionID; within one recipient's chain
// jobs link to their predecessor via ParentID.
type Job struct {
	ID             string    `json:"id"`
	EnvironmentID  string    `json:"environment_id"`
	OrganizationID string    `json:"organization_id"`
	WorkflowID     string    `json:"workflow_id"`
	TransactionID  string    `json:"transaction_id"`
	SubscriberID   string    `json:"subscriber_id"`
	StepID         string    `json:"step_id"`
	TemplateID     string    `json:"template_id,omitempty"`
	Type           StepType  `json:"type"`
	Status         JobStatus `json:"status"`
	// ParentID links to the previous job in this recipient's chain; nil for
	// the first job. A job leaves QUEUED only after its parent is terminal.
	ParentID *string `json:"parent_id,omitempty"`

	// Payload is the trigger payload snapshot taken at expansion time.
	Payload   map[string]any `json:"payload,omitempty"`
	Overrides map[string]any `json:"overrides,omitempty"`
	Tenant    map[string]any `json:"tenant,omitempty"`
	ActorID   string         `json:"actor_id,omitempty"`

	// ProviderID is resolved at dispatch time, not trigger time.
	ProviderID string `json:"provider_id,omitempty"`

	Delay  *DelayMetadata  `json:"delay,omitempty"`
	Digest *DigestMetadata `json:"digest,omitempty"`
	// DigestKey is the computed merge key for digest jobs.
	DigestKey string `json:"digest_key,omitempty"`
	// DigestEvents accumulates merged trigger payloads in arrival order.
	DigestEvents []map[string]any `json:"digest_events,omitempty"`

	// WakeAt schedules re-enqueue for delayed and digest jobs.
	WakeAt *time.Time `json:"wake_at,omitempty"`

	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
