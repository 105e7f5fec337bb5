// Package channels implements the channel dispatch contract: resolve the
// integration, render content, persist the message, call the provider, and
// record every transition on the audit trail. Nothing in here throws past
// the dispatch boundary.
package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/herald/pkg/models"
	"github.com/dukex/herald/pkg/persistence"
	"github.com/dukex/herald/pkg/providers"
	"github.com/dukex/herald/pkg/template"
)

// Command carries everything one dispatch needs: the job, its step with the
// already-selected template, the recipient, and the digest aggregation when
// the step follows a digest.
type Command struct {
	Job          *models.Job
	Step         *models.Step
	Template     *models.MessageTemplate
	Subscriber   *models.Subscriber
	Actor        *models.Subscriber
	DigestEvents []map[string]any
}

// Outcome reports a dispatch decision to the scheduler. Delivered=false with
// a Reason is a recorded failure, not an error: the chain continues.
type Outcome struct {
	Delivered bool
	Reason    models.Detail
	Error     string
}

// Dispatcher sends one rendered message per channel target.
type Dispatcher struct {
	logger       *slog.Logger
	integrations persistence.IntegrationRepository
	messages     persistence.MessageRepository
	details      persistence.ExecutionDetailRepository
	registry     *providers.Registry
	storeContent bool
	clock        func() time.Time
}

// NewDispatcher creates a channel dispatcher. When storeContent is false,
// rendered content and subject are not persisted on outbound messages;
// in-app messages keep theirs because the stored message is the delivery.
func NewDispatcher(
	logger *slog.Logger,
	integrations persistence.IntegrationRepository,
	messages persistence.MessageRepository,
	details persistence.ExecutionDetailRepository,
	registry *providers.Registry,
	storeContent bool,
) *Dispatcher {
	return &Dispatcher{
		logger:       logger.With("module", "dispatcher"),
		integrations: integrations,
		messages:     messages,
		details:      details,
		registry:     registry,
		storeContent: storeContent,
		clock:        time.Now,
	}
}

// Dispatch executes the five dispatch responsibilities for one job. The
// returned error is reserved for persistence failures; provider and
// configuration problems come back as an undelivered outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) (*Outcome, error) {
	channel, ok := cmd.Step.Type.Channel()
	if !ok {
		return nil, fmt.Errorf("step %s is not a channel step", cmd.Step.ID)
	}

	providerOverride := ""
	if cmd.Template != nil {
		providerOverride = cmd.Template.ProviderOverride
	}

	integration, err := d.integrations.FindActive(ctx, cmd.Job.EnvironmentID, channel, providerOverride)
	if err != nil {
		if persistence.IsIntegrationNotFound(err) {
			return d.undelivered(ctx, cmd, models.DetailNoActiveIntegration,
				fmt.Sprintf("no active %s integration", channel))
		}

		return nil, fmt.Errorf("failed to resolve integration: %w", err)
	}

	cmd.Job.ProviderID = integration.ProviderID

	content, err := d.render(cmd)
	if err != nil {
		return d.undelivered(ctx, cmd, models.DetailContentSyntaxFailure, err.Error())
	}

	err = d.recordDetail(ctx, cmd.Job, "", models.DetailStartSending, models.ExecutionStatusPending, "")
	if err != nil {
		return nil, err
	}

	targets, reason := d.resolveTargets(channel, integration, cmd.Subscriber)
	if len(targets) == 0 {
		return d.undelivered(ctx, cmd, reason,
			fmt.Sprintf("subscriber %s has no %s target", cmd.Subscriber.SubscriberID, channel))
	}

	delivered := 0
	lastError := ""

	for _, target := range targets {
		sent, errText, err := d.sendTarget(ctx, cmd, channel, integration, content, target)
		if err != nil {
			return nil, err
		}

		if sent {
			delivered++
		} else {
			lastError = errText
		}
	}

	// Multi-target channels fail only when every target failed.
	if delivered == 0 {
		reason := models.DetailProviderError
		if len(targets) > 1 {
			reason = models.DetailAllChannelTargetsFailed

			err = d.recordDetail(ctx, cmd.Job, "", reason, models.ExecutionStatusFailed, lastError)
			if err != nil {
				return nil, err
			}
		}

		return &Outcome{Delivered: false, Reason: reason, Error: lastError}, nil
	}

	return &Outcome{Delivered: true}, nil
}

type renderedContent struct {
	subject string
	content string
	title   string
}

func (d *Dispatcher) render(cmd Command) (*renderedContent, error) {
	if cmd.Template == nil {
		return nil, fmt.Errorf("step %s has no template", cmd.Step.ID)
	}

	data := template.Data{
		Payload:    cmd.Job.Payload,
		Subscriber: cmd.Subscriber,
		Tenant:     cmd.Job.Tenant,
		Actor:      cmd.Actor,
	}

	if len(cmd.DigestEvents) > 0 {
		data.Step = map[string]any{
			"events":     cmd.DigestEvents,
			"eventCount": len(cmd.DigestEvents),
			"totalCount": len(cmd.DigestEvents),
		}
	}

	rendered := &renderedContent{}

	var err error

	rendered.content, err = template.Render(cmd.Template.Content, data)
	if err != nil {
		return nil, fmt.Errorf("content: %w", err)
	}

	rendered.subject, err = template.Render(cmd.Template.Subject, data)
	if err != nil {
		return nil, fmt.Errorf("subject: %w", err)
	}

	rendered.title, err = template.Render(cmd.Template.Title, data)
	if err != nil {
		return nil, fmt.Errorf("title: %w", err)
	}

	return rendered, nil
}

// target is one concrete delivery destination within a channel.
type target struct {
	to          string
	credentials *models.ChannelCredentials
}

func (d *Dispatcher) resolveTargets(channel models.ChannelType, integration *models.Integration, subscriber *models.Subscriber) ([]target, models.Detail) {
	switch channel {
	case models.ChannelTypeEmail:
		if subscriber.Email == "" {
			return nil, models.DetailNoActiveChannel
		}

		return []target{{to: subscriber.Email}}, ""

	case models.ChannelTypeSMS:
		if subscriber.Phone == "" {
			return nil, models.DetailNoActiveChannel
		}

		return []target{{to: subscriber.Phone}}, ""

	case models.ChannelTypeInApp:
		return []target{{to: subscriber.SubscriberID}}, ""

	case models.ChannelTypeChat:
		targets := make([]target, 0, len(subscriber.Channels))

		for i, settings := range subscriber.Channels {
			if settings.ProviderID != integration.ProviderID || settings.Credentials.WebhookURL == "" {
				continue
			}

			credentials := subscriber.Channels[i].Credentials
			targets = append(targets, target{to: credentials.Channel, credentials: &credentials})
		}

		if len(targets) == 0 {
			return nil, models.DetailNoActiveChannel
		}

		return targets, ""

	case models.ChannelTypePush:
		for i, settings := range subscriber.Channels {
			if settings.ProviderID != integration.ProviderID || len(settings.Credentials.DeviceTokens) == 0 {
				continue
			}

			credentials := subscriber.Channels[i].Credentials

			return []target{{
				to:          strings.Join(credentials.DeviceTokens, ","),
				credentials: &credentials,
			}}, ""
		}

		return nil, models.DetailNoActiveChannel
	}

	return nil, models.DetailNoActiveChannel
}

// sendTarget persists the message, calls the provider, and records the
// outcome. The bool reports delivery; the error is persistence-only.
func (d *Dispatcher) sendTarget(ctx context.Context, cmd Command, channel models.ChannelType, integration *models.Integration, content *renderedContent, tgt target) (bool, string, error) {
	now := d.clock().UTC()

	message := &models.Message{
		EnvironmentID:  cmd.Job.EnvironmentID,
		OrganizationID: cmd.Job.OrganizationID,
		JobID:          cmd.Job.ID,
		StepID:         cmd.Step.ID,
		TransactionID:  cmd.Job.TransactionID,
		SubscriberID:   cmd.Subscriber.SubscriberID,
		Channel:        channel,
		ProviderID:     integration.ProviderID,
		Status:         models.MessageStatusWarning,
		ExpireAt:       models.ExpiryFor(channel, now),
	}

	if d.storeContent || channel == models.ChannelTypeInApp {
		message.Content = &content.content
		message.Subject = &content.subject
	}

	err := d.messages.Create(ctx, message)
	if err != nil {
		return false, "", fmt.Errorf("failed to persist message: %w", err)
	}

	err = d.recordDetail(ctx, cmd.Job, message.ID, models.DetailMessageCreated, models.ExecutionStatusPending, "")
	if err != nil {
		return false, "", err
	}

	// In-app delivery is the stored message itself.
	if channel == models.ChannelTypeInApp {
		message.Status = models.MessageStatusSent

		err = d.messages.Update(ctx, message)
		if err != nil {
			return false, "", fmt.Errorf("failed to update message: %w", err)
		}

		return true, "", d.recordDetail(ctx, cmd.Job, message.ID, models.DetailMessageSent, models.ExecutionStatusSuccess, "")
	}

	handler, err := d.registry.Resolve(channel, integration.ProviderID)
	if err != nil {
		return false, err.Error(), d.failMessage(ctx, cmd.Job, message, err.Error())
	}

	result, err := handler.Send(ctx, providers.SendRequest{
		To:          tgt.to,
		Subject:     content.subject,
		Content:     content.content,
		Title:       content.title,
		Credentials: integration.Credentials,
		Target:      tgt.credentials,
		Overrides:   cmd.Job.Overrides,
	})
	if err != nil {
		d.logger.WarnContext(ctx, "Provider send failed",
			"channel", channel,
			"provider_id", integration.ProviderID,
			"error", err)

		return false, err.Error(), d.failMessage(ctx, cmd.Job, message, err.Error())
	}

	message.Status = models.MessageStatusSent
	message.ProviderMessageID = result.ID

	err = d.messages.Update(ctx, message)
	if err != nil {
		return false, "", fmt.Errorf("failed to update message: %w", err)
	}

	return true, "", d.recordDetail(ctx, cmd.Job, message.ID, models.DetailMessageSent, models.ExecutionStatusSuccess, "")
}

func (d *Dispatcher) failMessage(ctx context.Context, job *models.Job, message *models.Message, errText string) error {
	message.Status = models.MessageStatusError
	message.ErrorText = errText

	err := d.messages.Update(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}

	return d.recordDetail(ctx, job, message.ID, models.DetailProviderError, models.ExecutionStatusFailed, errText)
}

func (d *Dispatcher) undelivered(ctx context.Context, cmd Command, reason models.Detail, errText string) (*Outcome, error) {
	err := d.recordDetail(ctx, cmd.Job, "", reason, models.ExecutionStatusFailed, errText)
	if err != nil {
		return nil, err
	}

	return &Outcome{Delivered: false, Reason: reason, Error: errText}, nil
}

func (d *Dispatcher) recordDetail(ctx context.Context, job *models.Job, messageID string, detail models.Detail, status models.ExecutionDetailStatus, raw string) error {
	err := d.details.Create(ctx, &models.ExecutionDetail{
		EnvironmentID:  job.EnvironmentID,
		OrganizationID: job.OrganizationID,
		JobID:          job.ID,
		MessageID:      messageID,
		TransactionID:  job.TransactionID,
		SubscriberID:   job.SubscriberID,
		Detail:         detail,
		Status:         status,
		Raw:            raw,
	})
	if err != nil {
		return fmt.Errorf("failed to record execution detail: %w", err)
	}

	return nil
}
