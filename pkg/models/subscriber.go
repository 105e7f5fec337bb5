package models

import "time"

// Subscriber is a notification recipient identity, keyed by
// (environment, subscriber id). Profile fields are upserted on trigger with a
// merge-not-overwrite rule: incoming empty values never erase stored ones.
type Subscriber struct {
	ID            string `json:"id"`
	EnvironmentID string `json:"environment_id"`
	SubscriberID  string `json:"subscriber_id" validate:"required"`

	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Avatar    string `json:"avatar,omitempty"`
	// Locale is opaque input; delivery does not interpret it.
	Locale string         `json:"locale,omitempty"`
	Data   map[string]any `json:"data,omitempty"`

	// Channels binds the subscriber to chat/push provider targets.
	Channels []ChannelSettings `json:"channels,omitempty"`

	// Topics the subscriber is a member of; triggers can address a whole
	// topic with a "topic:" recipient.
	Topics []string `json:"topics,omitempty"`

	IsOnline     *bool      `json:"is_online,omitempty"`
	LastOnlineAt *time.Time `json:"last_online_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChannelSettings is one subscriber-bound delivery target for chat or push.
type ChannelSettings struct {
	ProviderID    string             `json:"provider_id" validate:"required"`
	IntegrationID string             `json:"integration_id,omitempty"`
	Credentials   ChannelCredentials `json:"credentials"`
}

// ChannelCredentials carries the provider-specific addressing for one target.
type ChannelCredentials struct {
	WebhookURL   string   `json:"webhook_url,omitempty"`
	Channel      string   `json:"channel,omitempty"`
	DeviceTokens []string `json:"device_tokens,omitempty"`
}

// SubscriberDefine is the trigger-time recipient form: either just an id or
// an id plus profile fields to upsert.
type SubscriberDefine struct {
	SubscriberID string         `json:"subscriber_id" validate:"required"`
	FirstName    string         `json:"first_name,omitempty"`
	LastName     string         `json:"last_name,omitempty"`
	Email        string         `json:"email,omitempty"`
	Phone        string         `json:"phone,omitempty"`
	Avatar       string         `json:"avatar,omitempty"`
	Locale       string         `json:"locale,omitempty"`
	Data         map[string]any `json:"data,omitempty"`

	Channels []ChannelSettings `json:"channels,omitempty"`
	Topics   []string          `json:"topics,omitempty"`
}

// Merge folds a later definition for the same subscriber into this one.
// Non-empty incoming fields win; empty incoming fields never erase.
func (d *SubscriberDefine) Merge(in *SubscriberDefine) {
	if in.FirstName != "" {
		d.FirstName = in.FirstName
	}

	if in.LastName != "" {
		d.LastName = in.LastName
	}

	if in.Email != "" {
		d.Email = in.Email
	}

	if in.Phone != "" {
		d.Phone = in.Phone
	}

	if in.Avatar != "" {
		d.Avatar = in.Avatar
	}

	if in.Locale != "" {
		d.Locale = in.Locale
	}

	if len(in.Data) > 0 {
		if d.Data == nil {
			d.Data = make(map[string]any, len(in.Data))
		}

		for k, v := range in.Data {
			d.Data[k] = v
		}
	}

	if len(in.Channels) > 0 {
		d.Channels = in.Channels
	}

	d.Topics = mergeTopics(d.Topics, in.Topics)
}

// Apply merges the definition into a stored subscriber without erasing
// existing non-empty values.
func (d *SubscriberDefine) Apply(s *Subscriber) {
	if d.FirstName != "" {
		s.FirstName = d.FirstName
	}

	if d.LastName != "" {
		s.LastName = d.LastName
	}

	if d.Email != "" {
		s.Email = d.Email
	}

	if d.Phone != "" {
		s.Phone = d.Phone
	}

	if d.Avatar != "" {
		s.Avatar = d.Avatar
	}

	if d.Locale != "" {
		s.Locale = d.Locale
	}

	if len(d.Data) > 0 {
		if s.Data == nil {
			s.Data = make(map[string]any, len(d.Data))
		}

		for k, v := range d.Data {
			s.Data[k] = v
		}
	}

	if len(d.Channels) > 0 {
		s.Channels = d.Channels
	}

	s.Topics = mergeTopics(s.Topics, d.Topics)
}

// mergeTopics unions topic memberships preserving first-seen order.
func mergeTopics(existing, incoming []string) []string {
	if len(incoming) == 0 {
		return existing
	}

	seen := make(map[string]bool, len(existing)+len(incoming))
	merged := make([]string, 0, len(existing)+len(incoming))

	for _, topic := range append(append([]string{}, existing...), incoming...) {
		if topic == "" || seen[topic] {
			continue
		}

		seen[topic] = true
		merged = append(merged, topic)
	}

	return merged
}
