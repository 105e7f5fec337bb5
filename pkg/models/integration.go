package models

import "time"

// Integration is a configured provider credential set for one channel in one
// environment. Selection happens at dispatch time so mid-flight changes reach
// not-yet-dispatched jobs.
type Integration struct {
	ID             string      `json:"id"`
	EnvironmentID  string      `json:"environment_id"  validate:"required"`
	OrganizationID string      `json:"organization_id" validate:"required"`
	Channel        ChannelType `json:"channel"         validate:"required"`
	ProviderID     string      `json:"provider_id"     validate:"required"`
	Active         bool        `json:"active"`
	// Primary marks the default integration for the channel; Priority breaks
	// ties among non-primary actives (higher wins).
	Primary  bool `json:"primary"`
	Priority int  `json:"priority"`

	Credentials map[string]string `json:"credentials,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}
