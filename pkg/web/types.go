// Package web provides the HTTP surface: the trigger endpoint, transaction
// cancel, the notification activity feed, and CRUD for workflows, subscribers
// and integrations.
package web

import "github.com/dukex/herald/pkg/models"

// CreateWorkflowRequest is the request body for creating a workflow.
type CreateWorkflowRequest struct {
	Name              string             `json:"name"               validate:"required,min=3"`
	TriggerIdentifier string             `json:"trigger_identifier" validate:"required"`
	Active            bool               `json:"active"`
	Steps             []*models.Step     `json:"steps"`
	Variables         []*models.Variable `json:"variables,omitempty"`
}

// UpdateWorkflowRequest supports partial updates. Step replacement is
// wholesale: the steps array, when present, replaces the existing chain.
type UpdateWorkflowRequest struct {
	Name      *string            `json:"name,omitempty"      validate:"omitempty,min=3"`
	Active    *bool              `json:"active,omitempty"`
	Steps     []*models.Step     `json:"steps,omitempty"`
	Variables []*models.Variable `json:"variables,omitempty"`
}

// UpsertSubscriberRequest is the request body for the subscriber upsert
// endpoint. It follows the trigger-time merge rule: empty fields never erase.
type UpsertSubscriberRequest struct {
	SubscriberID string                   `json:"subscriber_id" validate:"required"`
	FirstName    string                   `json:"first_name,omitempty"`
	LastName     string                   `json:"last_name,omitempty"`
	Email        string                   `json:"email,omitempty"`
	Phone        string                   `json:"phone,omitempty"`
	Avatar       string                   `json:"avatar,omitempty"`
	Locale       string                   `json:"locale,omitempty"`
	Data         map[string]any           `json:"data,omitempty"`
	Channels     []models.ChannelSettings `json:"channels,omitempty"`
	Topics       []string                 `json:"topics,omitempty"`
}

// Define converts the request into the trigger-time recipient form the
// resolver upserts with.
func (r *UpsertSubscriberRequest) Define() *models.SubscriberDefine {
	return &models.SubscriberDefine{
		SubscriberID: r.SubscriberID,
		FirstName:    r.FirstName,
		LastName:     r.LastName,
		Email:        r.Email,
		Phone:        r.Phone,
		Avatar:       r.Avatar,
		Locale:       r.Locale,
		Data:         r.Data,
		Channels:     r.Channels,
		Topics:       r.Topics,
	}
}

// OnlineStatusRequest is the request body for the presence heartbeat.
type OnlineStatusRequest struct {
	IsOnline bool `json:"is_online"`
}

// CreateIntegrationRequest is the request body for configuring a provider.
type CreateIntegrationRequest struct {
	Channel     models.ChannelType `json:"channel"     validate:"required"`
	ProviderID  string             `json:"provider_id" validate:"required"`
	Active      bool               `json:"active"`
	Primary     bool               `json:"primary"`
	Priority    int                `json:"priority"`
	Credentials map[string]string  `json:"credentials,omitempty"`
}

// UpdateIntegrationRequest supports partial integration updates.
type UpdateIntegrationRequest struct {
	Active      *bool             `json:"active,omitempty"`
	Primary     *bool             `json:"primary,omitempty"`
	Priority    *int              `json:"priority,omitempty"`
	Credentials map[string]string `json:"credentials,omitempty"`
}

// ActivityFeed is the per-transaction delivery report: every job the
// transaction expanded into and the audit trail each one produced.
type ActivityFeed struct {
	TransactionID string                    `json:"transaction_id"`
	Jobs          []*models.Job             `json:"jobs"`
	Details       []*models.ExecutionDetail `json:"execution_details"`
}

// CancelResult reports how many jobs a transaction cancel stopped.
type CancelResult struct {
	TransactionID string `json:"transaction_id"`
	CanceledJobs  int    `json:"canceled_jobs"`
}
