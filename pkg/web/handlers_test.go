package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/herald/pkg/eventbus"
	"github.com/dukex/herald/pkg/idempotency"
	"github.com/dukex/herald/pkg/models"
	"github.com/dukex/herald/pkg/persistence/memory"
	"github.com/dukex/herald/pkg/runner"
	"github.com/dukex/herald/pkg/subscribers"
	"github.com/dukex/herald/pkg/web"
	"github.com/dukex/herald/pkg/workflow"
)

type capturingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *capturingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func setupTestApp(t *testing.T) (*fiber.App, *memory.Persistence, *capturingPublisher) {
	t.Helper()

	logger := slog.Default()
	store := memory.NewPersistence()
	publisher := &capturingPublisher{}
	claims := idempotency.NewMemoryStore()

	trigger := workflow.NewTriggerService(logger, store.Workflows(), claims, publisher)
	canceler := runner.NewCanceler(logger, "api-test", store.Jobs(), store.ExecutionDetails(), publisher)
	resolver := subscribers.NewResolver(logger, store.Subscribers())

	handlers := web.NewAPIHandlers(trigger, canceler, resolver, store,
		validator.New(validator.WithRequiredStructEnabled()))

	app := fiber.New()
	handlers.Register(app)

	return app, store, publisher
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader

	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewBuffer(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(web.HeaderEnvironmentID, "env-1")
	req.Header.Set(web.HeaderOrganizationID, "org-1")

	resp, err := app.Test(req)
	require.NoError(t, err)

	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	defer func() { _ = resp.Body.Close() }()

	var out T

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, &out))

	return out
}

func seedWorkflow(t *testing.T, store *memory.Persistence, identifier string, variables ...*models.Variable) *models.Workflow {
	t.Helper()

	wf := &models.Workflow{
		EnvironmentID:     "env-1",
		OrganizationID:    "org-1",
		Name:              "welcome flow",
		TriggerIdentifier: identifier,
		Active:            true,
		Variables:         variables,
		Steps: []*models.Step{{
			ID: "step-1", Type: models.StepTypeEmail, Active: true,
			Template: &models.MessageTemplate{ID: "tpl-1", Content: "hi"},
		}},
	}
	require.NoError(t, store.Workflows().Create(context.Background(), wf))

	return wf
}

func TestTriggerEventProcessed(t *testing.T) {
	app, store, publisher := setupTestApp(t)
	seedWorkflow(t, store, "welcome")

	resp := doJSON(t, app, http.MethodPost, "/v1/events/trigger", map[string]any{
		"name": "welcome",
		"to":   "sub-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	result := decode[models.TriggerResult](t, resp)
	assert.True(t, result.Acknowledged)
	assert.Equal(t, models.TriggerStatusProcessed, result.Status)
	assert.NotEmpty(t, result.TransactionID)

	require.Len(t, publisher.events, 1)
}

func TestTriggerEventUnknownIdentifier(t *testing.T) {
	app, _, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodPost, "/v1/events/trigger", map[string]any{
		"name": "nope",
		"to":   "sub-1",
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	problem := decode[map[string]any](t, resp)
	assert.Equal(t, "workflow_not_found", problem["type"])
}

func TestTriggerEventMissingRequiredVariable(t *testing.T) {
	app, store, _ := setupTestApp(t)
	seedWorkflow(t, store, "welcome",
		&models.Variable{Name: "code", Type: "string", Required: true})

	resp := doJSON(t, app, http.MethodPost, "/v1/events/trigger", map[string]any{
		"name": "welcome",
		"to":   "sub-1",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	problem := decode[map[string]any](t, resp)
	assert.Equal(t, "payload_verification_failed", problem["type"])
	assert.Contains(t, problem["detail"], "code")
}

func TestTriggerEventRequiresEnvironmentHeader(t *testing.T) {
	app, _, _ := setupTestApp(t)

	body, err := json.Marshal(map[string]any{"name": "welcome", "to": "sub-1"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/events/trigger", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelTransactionStopsPendingJobs(t *testing.T) {
	app, store, _ := setupTestApp(t)

	jobs := []*models.Job{
		{EnvironmentID: "env-1", TransactionID: "txn-1", SubscriberID: "sub-1",
			StepID: "s1", Type: models.StepTypeEmail, Status: models.JobStatusCompleted},
		{EnvironmentID: "env-1", TransactionID: "txn-1", SubscriberID: "sub-1",
			StepID: "s2", Type: models.StepTypeSMS, Status: models.JobStatusPending},
	}
	require.NoError(t, store.Jobs().CreateMany(context.Background(), jobs))

	resp := doJSON(t, app, http.MethodDelete, "/v1/events/transactions/txn-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := decode[web.CancelResult](t, resp)
	assert.Equal(t, 1, result.CanceledJobs)

	stored, err := store.Jobs().GetByID(context.Background(), jobs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCanceled, stored.Status)
}

func TestActivityFeed(t *testing.T) {
	app, store, _ := setupTestApp(t)

	jobs := []*models.Job{
		{EnvironmentID: "env-1", TransactionID: "txn-1", SubscriberID: "sub-1",
			StepID: "s1", Type: models.StepTypeEmail, Status: models.JobStatusCompleted},
	}
	require.NoError(t, store.Jobs().CreateMany(context.Background(), jobs))
	require.NoError(t, store.ExecutionDetails().Create(context.Background(), &models.ExecutionDetail{
		EnvironmentID: "env-1", JobID: jobs[0].ID, TransactionID: "txn-1",
		SubscriberID: "sub-1", Detail: models.DetailMessageSent,
		Status: models.ExecutionStatusSuccess,
	}))

	resp := doJSON(t, app, http.MethodGet, "/v1/notifications/txn-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	feed := decode[web.ActivityFeed](t, resp)
	assert.Equal(t, "txn-1", feed.TransactionID)
	assert.Len(t, feed.Jobs, 1)
	assert.Len(t, feed.Details, 1)
}

func TestActivityFeedUnknownTransaction(t *testing.T) {
	app, _, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/v1/notifications/txn-missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWorkflowCRUD(t *testing.T) {
	app, _, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodPost, "/v1/workflows", web.CreateWorkflowRequest{
		Name:              "signup flow",
		TriggerIdentifier: "signup",
		Active:            true,
		Steps: []*models.Step{{
			ID: "step-1", Type: models.StepTypeEmail, Active: true,
			Template: &models.MessageTemplate{ID: "tpl-1", Content: "welcome"},
		}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	created := decode[models.Workflow](t, resp)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "env-1", created.EnvironmentID)

	resp = doJSON(t, app, http.MethodGet, "/v1/workflows/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	newName := "signup flow v2"
	inactive := false
	resp = doJSON(t, app, http.MethodPut, "/v1/workflows/"+created.ID, web.UpdateWorkflowRequest{
		Name:   &newName,
		Active: &inactive,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	updated := decode[models.Workflow](t, resp)
	assert.Equal(t, newName, updated.Name)
	assert.False(t, updated.Active)
	// Steps untouched by a partial update.
	assert.Len(t, updated.Steps, 1)

	resp = doJSON(t, app, http.MethodDelete, "/v1/workflows/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, app, http.MethodGet, "/v1/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWorkflowCreateValidation(t *testing.T) {
	app, _, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodPost, "/v1/workflows", web.CreateWorkflowRequest{
		Name: "no",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubscriberUpsertMergesProfile(t *testing.T) {
	app, _, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodPut, "/v1/subscribers", web.UpsertSubscriberRequest{
		SubscriberID: "sub-1",
		Email:        "ada@example.com",
		FirstName:    "Ada",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// A later upsert without an email must not erase the stored one.
	resp = doJSON(t, app, http.MethodPut, "/v1/subscribers", web.UpsertSubscriberRequest{
		SubscriberID: "sub-1",
		Phone:        "+1555",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	merged := decode[models.Subscriber](t, resp)
	assert.Equal(t, "ada@example.com", merged.Email)
	assert.Equal(t, "+1555", merged.Phone)
	assert.Equal(t, "Ada", merged.FirstName)
}

func TestSubscriberOnlineHeartbeat(t *testing.T) {
	app, store, _ := setupTestApp(t)

	require.NoError(t, store.Subscribers().Create(context.Background(), &models.Subscriber{
		EnvironmentID: "env-1", SubscriberID: "sub-1",
	}))

	resp := doJSON(t, app, http.MethodPost, "/v1/subscribers/sub-1/online",
		web.OnlineStatusRequest{IsOnline: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	subscriber := decode[models.Subscriber](t, resp)
	require.NotNil(t, subscriber.IsOnline)
	assert.True(t, *subscriber.IsOnline)
	assert.NotNil(t, subscriber.LastOnlineAt)
}

func TestMarkMessageReadImpliesSeen(t *testing.T) {
	app, store, _ := setupTestApp(t)

	message := &models.Message{
		EnvironmentID: "env-1", TransactionID: "txn-1", SubscriberID: "sub-1",
		Channel: models.ChannelTypeInApp, Status: models.MessageStatusSent,
	}
	require.NoError(t, store.Messages().Create(context.Background(), message))

	resp := doJSON(t, app, http.MethodPatch, "/v1/messages/"+message.ID+"/read", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	marked := decode[models.Message](t, resp)
	assert.True(t, marked.Read)
	assert.True(t, marked.Seen)
	assert.NotNil(t, marked.LastSeenDate)
}

func TestMarkAllMessagesRead(t *testing.T) {
	app, store, _ := setupTestApp(t)
	ctx := context.Background()

	for _, txn := range []string{"txn-1", "txn-2"} {
		message := &models.Message{
			EnvironmentID: "env-1", TransactionID: txn, SubscriberID: "sub-1",
			Channel: models.ChannelTypeInApp, Status: models.MessageStatusSent,
		}
		require.NoError(t, store.Messages().Create(ctx, message))
	}

	other := &models.Message{
		EnvironmentID: "env-1", TransactionID: "txn-3", SubscriberID: "sub-2",
		Channel: models.ChannelTypeInApp, Status: models.MessageStatusSent,
	}
	require.NoError(t, store.Messages().Create(ctx, other))

	resp := doJSON(t, app, http.MethodPatch, "/v1/subscribers/sub-1/messages/read", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := decode[map[string]int](t, resp)
	assert.Equal(t, 2, result["updated"])

	untouched, err := store.Messages().GetByID(ctx, other.ID)
	require.NoError(t, err)
	assert.False(t, untouched.Read)
}

func TestMarkMessageOtherEnvironmentIsHidden(t *testing.T) {
	app, store, _ := setupTestApp(t)

	message := &models.Message{
		EnvironmentID: "env-2", TransactionID: "txn-1", SubscriberID: "sub-1",
		Channel: models.ChannelTypeInApp, Status: models.MessageStatusSent,
	}
	require.NoError(t, store.Messages().Create(context.Background(), message))

	resp := doJSON(t, app, http.MethodPatch, "/v1/messages/"+message.ID+"/seen", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIntegrationLifecycle(t *testing.T) {
	app, _, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodPost, "/v1/integrations", web.CreateIntegrationRequest{
		Channel:     models.ChannelTypeEmail,
		ProviderID:  "sendgrid",
		Active:      true,
		Primary:     true,
		Credentials: map[string]string{"api_key": "sk-test"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	created := decode[models.Integration](t, resp)
	require.NotEmpty(t, created.ID)

	deactivate := false
	resp = doJSON(t, app, http.MethodPatch, "/v1/integrations/"+created.ID,
		web.UpdateIntegrationRequest{Active: &deactivate})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	updated := decode[models.Integration](t, resp)
	assert.False(t, updated.Active)

	resp = doJSON(t, app, http.MethodGet, "/v1/integrations", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	listing := decode[map[string][]models.Integration](t, resp)
	assert.Len(t, listing["integrations"], 1)
}
