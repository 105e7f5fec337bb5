package models

import "time"

// MessageStatus is the provider-send outcome recorded on a message.
type MessageStatus string

const (
	MessageStatusSent    MessageStatus = "sent"
	MessageStatusError   MessageStatus = "error"
	MessageStatusWarning MessageStatus = "warning"
)

// Message retention is a fixed policy, not configurable per workflow.
const (
	InAppMessageTTL = 365 * 24 * time.Hour
	MessageTTL      = 30 * 24 * time.Hour
)

// Message is the persisted record of one channel send attempt. It is created
// by channel dispatch before the provider call so failures stay auditable,
// and never mutated by filter matching.
type Message struct {
	ID             string      `json:"id"`
	EnvironmentID  string      `json:"environment_id"`
	OrganizationID string      `json:"organization_id"`
	JobID          string      `json:"job_id"`
	StepID         string      `json:"step_id"`
	TransactionID  string      `json:"transaction_id"`
	SubscriberID   string      `json:"subscriber_id"`
	Channel        ChannelType `json:"channel"`
	ProviderID     string      `json:"provider_id"`

	// Content and Subject are nil when content storage is disabled.
	Content *string `json:"content,omitempty"`
	Subject *string `json:"subject,omitempty"`

	Status            MessageStatus `json:"status"`
	ErrorText         string        `json:"error_text,omitempty"`
	ProviderMessageID string        `json:"provider_message_id,omitempty"`

	// In-app read state, consumed by previous-step filters.
	Seen         bool       `json:"seen"`
	Read         bool       `json:"read"`
	LastSeenDate *time.Time `json:"last_seen_date,omitempty"`

	ExpireAt  time.Time `json:"expire_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExpiryFor returns the retention deadline for a message on the given
// channel: 12 months in-app, 1 month everywhere else.
func ExpiryFor(channel ChannelType, now time.Time) time.Time {
	if channel == ChannelTypeInApp {
		return now.Add(InAppMessageTTL)
	}

	return now.Add(MessageTTL)
}
