package models

import "time"

// ExecutionDetailStatus is the outcome class of one recorded transition.
type ExecutionDetailStatus string

const (
	ExecutionStatusPending ExecutionDetailStatus = "pending"
	ExecutionStatusSuccess ExecutionDetailStatus = "success"
	ExecutionStatusFailed  ExecutionDetailStatus = "failed"
	ExecutionStatusWarning ExecutionDetailStatus = "warning"
)

// Detail enumerates the audit-trail entry kinds the pipeline records.
type Detail string

const (
	DetailStepFiltered             Detail = "step_filtered_by_conditions"
	DetailFilterEvaluationError    Detail = "filter_evaluation_error"
	DetailStepDelayed              Detail = "step_delayed"
	DetailDelayCompleted           Detail = "delay_completed"
	DetailDigestWindowOpened       Detail = "digest_window_opened"
	DetailDigestMerged             Detail = "digest_merged"
	DetailDigestCompleted          Detail = "digest_completed"
	DetailStartSending             Detail = "start_sending_message"
	DetailMessageCreated           Detail = "message_created"
	DetailMessageSent              Detail = "message_sent"
	DetailProviderError            Detail = "provider_error"
	DetailNoActiveIntegration      Detail = "subscriber_no_active_integration"
	DetailNoActiveChannel          Detail = "subscriber_no_active_channel"
	DetailAllChannelTargetsFailed  Detail = "all_channel_targets_failed"
	DetailContentSyntaxFailure     Detail = "message_content_syntax_failure"
	DetailChainCanceled            Detail = "chain_canceled_on_failure"
	DetailJobCanceled              Detail = "job_canceled"
)

// ExecutionDetail is one append-only audit entry per job/message transition.
// Previous-step filters answer "was message X read/seen" from the most recent
// matching entry.
type ExecutionDetail struct {
	ID             string                `json:"id"`
	EnvironmentID  string                `json:"environment_id"`
	OrganizationID string                `json:"organization_id"`
	JobID          string                `json:"job_id"`
	MessageID      string                `json:"message_id,omitempty"`
	TransactionID  string                `json:"transaction_id"`
	SubscriberID   string                `json:"subscriber_id"`
	Detail         Detail                `json:"detail"`
	Status         ExecutionDetailStatus `json:"status"`
	// Raw is the payload snapshot at the time of the transition.
	Raw       string    `json:"raw,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
