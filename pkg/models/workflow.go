// Package models defines the core domain models for multi-channel notification delivery.
package models

import "time"

// StepType identifies what a workflow step does: deliver on a channel or
// control chain timing (delay, digest).
type StepType string

const (
	StepTypeEmail  StepType = "email"
	StepTypeSMS    StepType = "sms"
	StepTypeChat   StepType = "chat"
	StepTypePush   StepType = "push"
	StepTypeInApp  StepType = "in_app"
	StepTypeDelay  StepType = "delay"
	StepTypeDigest StepType = "digest"
)

// IsChannel reports whether the step dispatches a message to a channel,
// as opposed to being a control step.
func (t StepType) IsChannel() bool {
	switch t {
	case StepTypeEmail, StepTypeSMS, StepTypeChat, StepTypePush, StepTypeInApp:
		return true
	default:
		return false
	}
}

// ChannelType is the delivery channel an integration is configured for.
// Channel steps map one-to-one onto channel types.
type ChannelType string

const (
	ChannelTypeEmail ChannelType = "email"
	ChannelTypeSMS   ChannelType = "sms"
	ChannelTypeChat  ChannelType = "chat"
	ChannelTypePush  ChannelType = "push"
	ChannelTypeInApp ChannelType = "in_app"
)

// Channel returns the channel type for a channel step. The second return is
// false for control steps.
func (t StepType) Channel() (ChannelType, bool) {
	if !t.IsChannel() {
		return "", false
	}

	return ChannelType(t), true
}

// Workflow is a named, ordered sequence of steps triggered by an identifier.
type Workflow struct {
	ID             string    `json:"id"`
	EnvironmentID  string    `json:"environment_id"  validate:"required"`
	OrganizationID string    `json:"organization_id" validate:"required"`
	Name           string    `json:"name"            validate:"required,min=3"`
	// TriggerIdentifier is the stable key trigger requests reference.
	TriggerIdentifier string          `json:"trigger_identifier" validate:"required"`
	Active            bool            `json:"active"`
	Steps             []*Step         `json:"steps"`
	Variables         []*Variable     `json:"variables,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	DeletedAt         *time.Time      `json:"deleted_at,omitempty"`
}

// ActiveSteps returns the steps that participate in job expansion, in chain
// order. Inactive steps are removed entirely, not filtered at run time.
func (w *Workflow) ActiveSteps() []*Step {
	active := make([]*Step, 0, len(w.Steps))

	for _, step := range w.OrderedSteps() {
		if step.Active {
			active = append(active, step)
		}
	}

	return active
}

// OrderedSteps walks the ParentID chain from the root step. Step order is
// fixed at creation; a broken chain truncates at the break rather than
// reordering.
func (w *Workflow) OrderedSteps() []*Step {
	byParent := make(map[string]*Step, len(w.Steps))

	for _, step := range w.Steps {
		parent := ""
		if step.ParentID != nil {
			parent = *step.ParentID
		}

		byParent[parent] = step
	}

	ordered := make([]*Step, 0, len(w.Steps))

	current, ok := byParent[""]
	for ok && len(ordered) < len(w.Steps) {
		ordered = append(ordered, current)
		current, ok = byParent[current.ID]
	}

	return ordered
}

// HasActiveSteps reports whether at least one step would produce a job.
func (w *Workflow) HasActiveSteps() bool {
	for _, step := range w.Steps {
		if step.Active {
			return true
		}
	}

	return false
}

// Variable declares a payload key the workflow's templates require, with an
// optional default applied when the trigger payload omits it.
type Variable struct {
	Name         string `json:"name"          validate:"required"`
	Type         string `json:"type"`          // string, number, boolean, array, object
	Required     bool   `json:"required"`
	DefaultValue any    `json:"default_value,omitempty"`
}

// Step is one unit of a workflow: a channel message or a control primitive.
// Steps form a singly-linked chain via ParentID; the first step's parent is
// nil.
type Step struct {
	ID               string       `json:"id"`
	Type             StepType     `json:"type"     validate:"required"`
	Name             string       `json:"name"`
	Active           bool         `json:"active"`
	ShouldStopOnFail bool         `json:"should_stop_on_fail"`
	Template         *MessageTemplate `json:"template,omitempty"`
	// Filters holds at most one top-level group gating the whole step.
	Filters  []*FilterNode    `json:"filters,omitempty"`
	Variants []*StepVariant   `json:"variants,omitempty"`
	Delay    *DelayMetadata   `json:"delay,omitempty"`
	Digest   *DigestMetadata  `json:"digest,omitempty"`
	ParentID *string          `json:"parent_id,omitempty"`
}

// StepVariant is an alternate template chosen by its own filter tree. Variants
// are evaluated in order; the first passing variant wins.
type StepVariant struct {
	ID       string           `json:"id"`
	Template *MessageTemplate `json:"template" validate:"required"`
	Filters  []*FilterNode    `json:"filters,omitempty"`
}

// MessageTemplate carries the renderable content for a channel step.
type MessageTemplate struct {
	ID      string `json:"id"`
	Subject string `json:"subject,omitempty"`
	Content string `json:"content"`
	// Title is used by push notifications.
	Title string `json:"title,omitempty"`
	// ProviderOverride pins dispatch to a specific provider instead of the
	// environment's primary integration for the channel.
	ProviderOverride string `json:"provider_override,omitempty"`
}

// TimeUnit converts delay and digest amounts into durations.
type TimeUnit string

const (
	TimeUnitSeconds TimeUnit = "seconds"
	TimeUnitMinutes TimeUnit = "minutes"
	TimeUnitHours   TimeUnit = "hours"
	TimeUnitDays    TimeUnit = "days"
)

// Duration converts amount expressed in this unit into a time.Duration.
func (u TimeUnit) Duration(amount int) time.Duration {
	switch u {
	case TimeUnitSeconds:
		return time.Duration(amount) * time.Second
	case TimeUnitMinutes:
		return time.Duration(amount) * time.Minute
	case TimeUnitHours:
		return time.Duration(amount) * time.Hour
	case TimeUnitDays:
		return time.Duration(amount) * 24 * time.Hour
	default:
		return 0
	}
}

// DelayMetadata suspends a chain for a fixed duration.
type DelayMetadata struct {
	Amount int      `json:"amount" validate:"required,gt=0"`
	Unit   TimeUnit `json:"unit"   validate:"required"`
}

// DigestType selects how a digest window closes.
type DigestType string

const (
	// DigestTypeRegular closes the window a fixed duration after it opens.
	DigestTypeRegular DigestType = "regular"
	// DigestTypeTimed closes the window at the next cron occurrence.
	DigestTypeTimed DigestType = "timed"
)

// DigestMetadata accumulates trigger events for the same digest key into one
// batched step execution.
type DigestMetadata struct {
	Type   DigestType `json:"type"`
	Amount int        `json:"amount,omitempty"`
	Unit   TimeUnit   `json:"unit,omitempty"`
	// Cron drives timed digests (robfig/cron expression).
	Cron string `json:"cron,omitempty"`
	// Key names a payload field whose value partitions digests. Empty means
	// all events for (workflow, subscriber) share one window.
	Key string `json:"key,omitempty"`
}
