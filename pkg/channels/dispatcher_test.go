package channels

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/herald/pkg/models"
	"github.com/dukex/herald/pkg/persistence/memory"
	"github.com/dukex/herald/pkg/providers"
)

type fakeProvider struct {
	id      string
	channel models.ChannelType
	sent    []providers.SendRequest
	fail    func(request providers.SendRequest) error
}

func (p *fakeProvider) ID() string                  { return p.id }
func (p *fakeProvider) Channel() models.ChannelType { return p.channel }

func (p *fakeProvider) Send(_ context.Context, request providers.SendRequest) (*providers.SendResult, error) {
	if p.fail != nil {
		if err := p.fail(request); err != nil {
			return nil, err
		}
	}

	p.sent = append(p.sent, request)

	return &providers.SendResult{ID: "provider-msg-1", Date: time.Now().UTC()}, nil
}

type fixture struct {
	store      *memory.Persistence
	registry   *providers.Registry
	dispatcher *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewPersistence()
	registry := providers.NewRegistry(slog.Default())
	dispatcher := NewDispatcher(slog.Default(),
		store.Integrations(), store.Messages(), store.ExecutionDetails(), registry, true)

	return &fixture{store: store, registry: registry, dispatcher: dispatcher}
}

func (f *fixture) addIntegration(t *testing.T, channel models.ChannelType, providerID string) {
	t.Helper()

	err := f.store.Integrations().Create(context.Background(), &models.Integration{
		EnvironmentID:  "env-1",
		OrganizationID: "org-1",
		Channel:        channel,
		ProviderID:     providerID,
		Active:         true,
	})
	require.NoError(t, err)
}

func emailCommand() Command {
	return Command{
		Job: &models.Job{
			ID:             "job-1",
			EnvironmentID:  "env-1",
			OrganizationID: "org-1",
			TransactionID:  "txn-1",
			SubscriberID:   "sub-1",
			Type:           models.StepTypeEmail,
			Payload:        map[string]any{"code": "1234"},
		},
		Step: &models.Step{ID: "step-1", Type: models.StepTypeEmail},
		Template: &models.MessageTemplate{
			ID:      "tpl-1",
			Subject: "Your code",
			Content: "Code: {{.payload.code}}",
		},
		Subscriber: &models.Subscriber{SubscriberID: "sub-1", Email: "ada@example.com"},
	}
}

func detailKinds(t *testing.T, f *fixture, jobID string) []models.Detail {
	t.Helper()

	details, err := f.store.ExecutionDetails().FindByJob(context.Background(), jobID)
	require.NoError(t, err)

	kinds := make([]models.Detail, 0, len(details))
	for _, detail := range details {
		kinds = append(kinds, detail.Detail)
	}

	return kinds
}

func TestDispatchEmailSuccess(t *testing.T) {
	f := newFixture(t)
	f.addIntegration(t, models.ChannelTypeEmail, "fake-mail")

	provider := &fakeProvider{id: "fake-mail", channel: models.ChannelTypeEmail}
	f.registry.Register(provider)

	outcome, err := f.dispatcher.Dispatch(context.Background(), emailCommand())
	require.NoError(t, err)
	assert.True(t, outcome.Delivered)

	require.Len(t, provider.sent, 1)
	assert.Equal(t, "ada@example.com", provider.sent[0].To)
	assert.Equal(t, "Code: 1234", provider.sent[0].Content)

	messages, err := f.store.Messages().FindByTransaction(context.Background(), "txn-1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, models.MessageStatusSent, messages[0].Status)
	assert.Equal(t, "provider-msg-1", messages[0].ProviderMessageID)

	kinds := detailKinds(t, f, "job-1")
	assert.Contains(t, kinds, models.DetailStartSending)
	assert.Contains(t, kinds, models.DetailMessageCreated)
	assert.Contains(t, kinds, models.DetailMessageSent)
}

func TestDispatchNoActiveIntegration(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.dispatcher.Dispatch(context.Background(), emailCommand())
	require.NoError(t, err)
	assert.False(t, outcome.Delivered)
	assert.Equal(t, models.DetailNoActiveIntegration, outcome.Reason)

	// No message is created when no integration serves the channel.
	messages, err := f.store.Messages().FindByTransaction(context.Background(), "txn-1")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestDispatchProviderErrorPersistsMessage(t *testing.T) {
	f := newFixture(t)
	f.addIntegration(t, models.ChannelTypeEmail, "fake-mail")

	provider := &fakeProvider{
		id: "fake-mail", channel: models.ChannelTypeEmail,
		fail: func(providers.SendRequest) error { return errors.New("smtp unavailable") },
	}
	f.registry.Register(provider)

	outcome, err := f.dispatcher.Dispatch(context.Background(), emailCommand())
	require.NoError(t, err)
	assert.False(t, outcome.Delivered)
	assert.Equal(t, models.DetailProviderError, outcome.Reason)
	assert.Contains(t, outcome.Error, "smtp unavailable")

	// Message persisted before the provider call stays auditable.
	messages, err := f.store.Messages().FindByTransaction(context.Background(), "txn-1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, models.MessageStatusError, messages[0].Status)
	assert.Contains(t, messages[0].ErrorText, "smtp unavailable")
}

func TestDispatchRenderFailure(t *testing.T) {
	f := newFixture(t)
	f.addIntegration(t, models.ChannelTypeEmail, "fake-mail")
	f.registry.Register(&fakeProvider{id: "fake-mail", channel: models.ChannelTypeEmail})

	cmd := emailCommand()
	cmd.Template.Content = "{{.payload.code"

	outcome, err := f.dispatcher.Dispatch(context.Background(), cmd)
	require.NoError(t, err)
	assert.False(t, outcome.Delivered)
	assert.Equal(t, models.DetailContentSyntaxFailure, outcome.Reason)
}

func TestDispatchMissingEmailAddress(t *testing.T) {
	f := newFixture(t)
	f.addIntegration(t, models.ChannelTypeEmail, "fake-mail")
	f.registry.Register(&fakeProvider{id: "fake-mail", channel: models.ChannelTypeEmail})

	cmd := emailCommand()
	cmd.Subscriber = &models.Subscriber{SubscriberID: "sub-1"}

	outcome, err := f.dispatcher.Dispatch(context.Background(), cmd)
	require.NoError(t, err)
	assert.False(t, outcome.Delivered)
	assert.Equal(t, models.DetailNoActiveChannel, outcome.Reason)
}

func chatCommand(subscriber *models.Subscriber) Command {
	cmd := emailCommand()
	cmd.Job.Type = models.StepTypeChat
	cmd.Step = &models.Step{ID: "step-1", Type: models.StepTypeChat}
	cmd.Subscriber = subscriber

	return cmd
}

func chatSubscriber(urls ...string) *models.Subscriber {
	subscriber := &models.Subscriber{SubscriberID: "sub-1"}
	for _, url := range urls {
		subscriber.Channels = append(subscriber.Channels, models.ChannelSettings{
			ProviderID:  "fake-chat",
			Credentials: models.ChannelCredentials{WebhookURL: url, Channel: "#alerts"},
		})
	}

	return subscriber
}

func TestDispatchChatMultiTargetPartialFailureStillDelivers(t *testing.T) {
	f := newFixture(t)
	f.addIntegration(t, models.ChannelTypeChat, "fake-chat")

	provider := &fakeProvider{
		id: "fake-chat", channel: models.ChannelTypeChat,
		fail: func(request providers.SendRequest) error {
			if request.Target.WebhookURL == "https://hooks.example.com/bad" {
				return errors.New("hook revoked")
			}

			return nil
		},
	}
	f.registry.Register(provider)

	cmd := chatCommand(chatSubscriber("https://hooks.example.com/bad", "https://hooks.example.com/good"))

	outcome, err := f.dispatcher.Dispatch(context.Background(), cmd)
	require.NoError(t, err)
	assert.True(t, outcome.Delivered, "one successful target is a delivery")

	messages, err := f.store.Messages().FindByTransaction(context.Background(), "txn-1")
	require.NoError(t, err)
	assert.Len(t, messages, 2)
}

func TestDispatchChatAllTargetsFailed(t *testing.T) {
	f := newFixture(t)
	f.addIntegration(t, models.ChannelTypeChat, "fake-chat")

	provider := &fakeProvider{
		id: "fake-chat", channel: models.ChannelTypeChat,
		fail: func(providers.SendRequest) error { return errors.New("hook revoked") },
	}
	f.registry.Register(provider)

	cmd := chatCommand(chatSubscriber("https://hooks.example.com/a", "https://hooks.example.com/b"))

	outcome, err := f.dispatcher.Dispatch(context.Background(), cmd)
	require.NoError(t, err)
	assert.False(t, outcome.Delivered)
	assert.Equal(t, models.DetailAllChannelTargetsFailed, outcome.Reason)

	kinds := detailKinds(t, f, "job-1")
	assert.Contains(t, kinds, models.DetailAllChannelTargetsFailed)
}

func TestDispatchChatNoBoundTargets(t *testing.T) {
	f := newFixture(t)
	f.addIntegration(t, models.ChannelTypeChat, "fake-chat")
	f.registry.Register(&fakeProvider{id: "fake-chat", channel: models.ChannelTypeChat})

	cmd := chatCommand(&models.Subscriber{SubscriberID: "sub-1"})

	outcome, err := f.dispatcher.Dispatch(context.Background(), cmd)
	require.NoError(t, err)
	assert.False(t, outcome.Delivered)
	assert.Equal(t, models.DetailNoActiveChannel, outcome.Reason)
}

func TestDispatchInAppStoresMessageWithoutProvider(t *testing.T) {
	f := newFixture(t)
	f.addIntegration(t, models.ChannelTypeInApp, "in-app")

	cmd := emailCommand()
	cmd.Job.Type = models.StepTypeInApp
	cmd.Step = &models.Step{ID: "step-1", Type: models.StepTypeInApp}

	outcome, err := f.dispatcher.Dispatch(context.Background(), cmd)
	require.NoError(t, err)
	assert.True(t, outcome.Delivered)

	messages, err := f.store.Messages().FindByTransaction(context.Background(), "txn-1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, models.MessageStatusSent, messages[0].Status)
	// In-app retention is one year; other channels get one month.
	assert.True(t, messages[0].ExpireAt.After(time.Now().Add(300*24*time.Hour)))
}

func TestDispatchDigestEventsInTemplateScope(t *testing.T) {
	f := newFixture(t)
	f.addIntegration(t, models.ChannelTypeEmail, "fake-mail")

	provider := &fakeProvider{id: "fake-mail", channel: models.ChannelTypeEmail}
	f.registry.Register(provider)

	cmd := emailCommand()
	cmd.Template.Content = "You have {{.step.totalCount}} updates"
	cmd.DigestEvents = []map[string]any{{"a": float64(1)}, {"b": float64(2)}, {"c": float64(3)}}

	outcome, err := f.dispatcher.Dispatch(context.Background(), cmd)
	require.NoError(t, err)
	assert.True(t, outcome.Delivered)

	require.Len(t, provider.sent, 1)
	assert.Equal(t, "You have 3 updates", provider.sent[0].Content)
}

func TestDispatchWithContentStorageDisabled(t *testing.T) {
	store := memory.NewPersistence()
	registry := providers.NewRegistry(slog.Default())
	dispatcher := NewDispatcher(slog.Default(),
		store.Integrations(), store.Messages(), store.ExecutionDetails(), registry, false)
	f := &fixture{store: store, registry: registry, dispatcher: dispatcher}

	f.addIntegration(t, models.ChannelTypeEmail, "fake-mail")
	provider := &fakeProvider{id: "fake-mail", channel: models.ChannelTypeEmail}
	f.registry.Register(provider)

	outcome, err := f.dispatcher.Dispatch(context.Background(), emailCommand())
	require.NoError(t, err)
	assert.True(t, outcome.Delivered)

	// The provider still receives the rendered content; only storage skips it.
	require.Len(t, provider.sent, 1)
	assert.Equal(t, "Code: 1234", provider.sent[0].Content)

	messages, err := f.store.Messages().FindByTransaction(context.Background(), "txn-1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Nil(t, messages[0].Content)
	assert.Nil(t, messages[0].Subject)
}

func TestDispatchInAppKeepsContentWhenStorageDisabled(t *testing.T) {
	store := memory.NewPersistence()
	registry := providers.NewRegistry(slog.Default())
	dispatcher := NewDispatcher(slog.Default(),
		store.Integrations(), store.Messages(), store.ExecutionDetails(), registry, false)
	f := &fixture{store: store, registry: registry, dispatcher: dispatcher}

	f.addIntegration(t, models.ChannelTypeInApp, "in-app")

	cmd := emailCommand()
	cmd.Job.Type = models.StepTypeInApp
	cmd.Step = &models.Step{ID: "step-1", Type: models.StepTypeInApp}

	outcome, err := f.dispatcher.Dispatch(context.Background(), cmd)
	require.NoError(t, err)
	assert.True(t, outcome.Delivered)

	// The stored message is the delivery, so it keeps its content.
	messages, err := f.store.Messages().FindByTransaction(context.Background(), "txn-1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.NotNil(t, messages[0].Content)
	assert.Equal(t, "Code: 1234", *messages[0].Content)
}
