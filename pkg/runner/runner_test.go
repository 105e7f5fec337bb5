package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/herald/pkg/channels"
	"github.com/dukex/herald/pkg/eventbus"
	"github.com/dukex/herald/pkg/events"
	"github.com/dukex/herald/pkg/filter"
	"github.com/dukex/herald/pkg/idempotency"
	"github.com/dukex/herald/pkg/models"
	"github.com/dukex/herald/pkg/persistence/memory"
	"github.com/dukex/herald/pkg/providers"
	"github.com/dukex/herald/pkg/subscribers"
	"github.com/dukex/herald/pkg/workflow"
)

// queuePublisher collects published events so tests can pump job.ready events
// back through the runner synchronously.
type queuePublisher struct {
	mu       sync.Mutex
	all      []eventbus.Event
	queued   []*events.JobReady
	failNext error
}

func (p *queuePublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failNext != nil {
		err := p.failNext
		p.failNext = nil

		return err
	}

	p.all = append(p.all, event)

	if ready, ok := event.(events.JobReady); ok {
		p.queued = append(p.queued, &ready)
	}

	return nil
}

func (p *queuePublisher) next() *events.JobReady {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.queued) == 0 {
		return nil
	}

	ready := p.queued[0]
	p.queued = p.queued[1:]

	return ready
}

type harness struct {
	store     *memory.Persistence
	publisher *queuePublisher
	provider  *recordingProvider
	runner    *Runner
	activator *Activator
}

type recordingProvider struct {
	channel models.ChannelType
	sent    []providers.SendRequest
	fail    error
}

func (p *recordingProvider) ID() string                  { return "test-provider" }
func (p *recordingProvider) Channel() models.ChannelType { return p.channel }

func (p *recordingProvider) Send(_ context.Context, request providers.SendRequest) (*providers.SendResult, error) {
	if p.fail != nil {
		return nil, p.fail
	}

	p.sent = append(p.sent, request)

	return &providers.SendResult{ID: "pm-1", Date: time.Now().UTC()}, nil
}

func newHarness(t *testing.T, channel models.ChannelType) *harness {
	t.Helper()

	logger := slog.Default()
	store := memory.NewPersistence()
	publisher := &queuePublisher{}
	locks := idempotency.NewMemoryStore()

	provider := &recordingProvider{channel: channel}
	registry := providers.NewRegistry(logger)
	registry.Register(provider)

	err := store.Integrations().Create(context.Background(), &models.Integration{
		EnvironmentID:  "env-1",
		OrganizationID: "org-1",
		Channel:        channel,
		ProviderID:     "test-provider",
		Active:         true,
	})
	require.NoError(t, err)

	matcher := filter.NewMatcher(logger, filter.NewWebhookClient(logger), store.Messages())
	dispatcher := channels.NewDispatcher(logger,
		store.Integrations(), store.Messages(), store.ExecutionDetails(), registry, true)

	r := NewRunner(logger, "worker-test", store, publisher, matcher,
		workflow.NewExpander(logger), subscribers.NewResolver(logger, store.Subscribers()),
		dispatcher, locks)

	return &harness{
		store:     store,
		publisher: publisher,
		provider:  provider,
		runner:    r,
		activator: NewActivator(logger, store.Jobs(), r),
	}
}

// pump drives queued job.ready events through the runner until quiescent.
func (h *harness) pump(t *testing.T) {
	t.Helper()

	for ready := h.publisher.next(); ready != nil; ready = h.publisher.next() {
		require.NoError(t, h.runner.HandleJobReady(context.Background(), ready))
	}
}

func (h *harness) trigger(t *testing.T, wf *models.Workflow, transactionID string, payload map[string]any) {
	t.Helper()

	err := h.runner.HandleTriggerRequested(context.Background(), &events.TriggerRequested{
		BaseEvent:      events.NewBaseEvent(events.TriggerRequestedEvent, "env-1"),
		WorkflowID:     wf.ID,
		OrganizationID: "org-1",
		TransactionID:  transactionID,
		Recipients: []*models.SubscriberDefine{
			{SubscriberID: "sub-1", Email: "ada@example.com", Phone: "+1555"},
		},
		Payload: payload,
	})
	require.NoError(t, err)

	h.pump(t)
}

func (h *harness) saveWorkflow(t *testing.T, steps ...*models.Step) *models.Workflow {
	t.Helper()

	var parent *string

	for _, step := range steps {
		step.ParentID = parent
		id := step.ID
		parent = &id
	}

	wf := &models.Workflow{
		EnvironmentID:     "env-1",
		OrganizationID:    "org-1",
		Name:              "runner test flow",
		TriggerIdentifier: "runner-test",
		Active:            true,
		Steps:             steps,
	}

	require.NoError(t, h.store.Workflows().Create(context.Background(), wf))

	return wf
}

func (h *harness) jobsByStep(t *testing.T, transactionID string) map[string]*models.Job {
	t.Helper()

	jobs, err := h.store.Jobs().FindByTransaction(context.Background(), transactionID)
	require.NoError(t, err)

	byStep := make(map[string]*models.Job, len(jobs))
	for _, job := range jobs {
		byStep[job.StepID] = job
	}

	return byStep
}

func emailStep(id string) *models.Step {
	return &models.Step{
		ID: id, Type: models.StepTypeEmail, Active: true,
		Template: &models.MessageTemplate{ID: "tpl-" + id, Subject: "hi", Content: "hello {{.subscriber.firstName}}"},
	}
}

func TestRunnerCompletesOrderedChain(t *testing.T) {
	h := newHarness(t, models.ChannelTypeEmail)
	wf := h.saveWorkflow(t, emailStep("step-a"), emailStep("step-b"))

	h.trigger(t, wf, "txn-1", map[string]any{"code": "1"})

	byStep := h.jobsByStep(t, "txn-1")
	require.Len(t, byStep, 2)
	assert.Equal(t, models.JobStatusCompleted, byStep["step-a"].Status)
	assert.Equal(t, models.JobStatusCompleted, byStep["step-b"].Status)

	// Both steps delivered, parent before child.
	require.Len(t, h.provider.sent, 2)

	messages, err := h.store.Messages().FindByTransaction(context.Background(), "txn-1")
	require.NoError(t, err)
	assert.Len(t, messages, 2)
}

func TestRunnerDelayParksChainUntilWake(t *testing.T) {
	h := newHarness(t, models.ChannelTypeEmail)
	wf := h.saveWorkflow(t,
		emailStep("step-a"),
		&models.Step{
			ID: "step-delay", Type: models.StepTypeDelay, Active: true,
			Delay: &models.DelayMetadata{Amount: 5, Unit: models.TimeUnitMinutes},
		},
		emailStep("step-b"),
	)

	h.trigger(t, wf, "txn-1", nil)

	byStep := h.jobsByStep(t, "txn-1")
	assert.Equal(t, models.JobStatusCompleted, byStep["step-a"].Status)
	assert.Equal(t, models.JobStatusDelayed, byStep["step-delay"].Status)
	assert.Equal(t, models.JobStatusPending, byStep["step-b"].Status)
	require.NotNil(t, byStep["step-delay"].WakeAt)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), *byStep["step-delay"].WakeAt, 10*time.Second)

	// Nothing past the delay delivered yet.
	require.Len(t, h.provider.sent, 1)

	// Force the wake time into the past and let the activator pick it up.
	delayJob := byStep["step-delay"]
	past := time.Now().UTC().Add(-time.Second)
	delayJob.WakeAt = &past
	require.NoError(t, h.store.Jobs().Update(context.Background(), delayJob))

	h.activator.WakeDue(context.Background())
	h.pump(t)

	byStep = h.jobsByStep(t, "txn-1")
	assert.Equal(t, models.JobStatusCompleted, byStep["step-delay"].Status)
	assert.Equal(t, models.JobStatusCompleted, byStep["step-b"].Status)
	assert.Len(t, h.provider.sent, 2)
}

func TestRunnerStopOnFailCancelsDescendants(t *testing.T) {
	h := newHarness(t, models.ChannelTypeEmail)

	failing := emailStep("step-a")
	failing.ShouldStopOnFail = true

	wf := h.saveWorkflow(t, failing, emailStep("step-b"), emailStep("step-c"))

	h.provider.fail = errors.New("smtp down")
	h.trigger(t, wf, "txn-1", nil)

	byStep := h.jobsByStep(t, "txn-1")
	assert.Equal(t, models.JobStatusFailed, byStep["step-a"].Status)
	assert.Contains(t, byStep["step-a"].Error, "smtp down")
	assert.Equal(t, models.JobStatusCanceled, byStep["step-b"].Status)
	assert.Equal(t, models.JobStatusCanceled, byStep["step-c"].Status)

	details, err := h.store.ExecutionDetails().FindByJob(context.Background(), byStep["step-b"].ID)
	require.NoError(t, err)
	require.NotEmpty(t, details)
	assert.Equal(t, models.DetailChainCanceled, details[len(details)-1].Detail)
}

func TestRunnerFailureWithoutStopAdvancesChain(t *testing.T) {
	h := newHarness(t, models.ChannelTypeEmail)
	wf := h.saveWorkflow(t, emailStep("step-a"), emailStep("step-b"))

	h.provider.fail = errors.New("smtp down")
	h.trigger(t, wf, "txn-1", nil)

	byStep := h.jobsByStep(t, "txn-1")
	assert.Equal(t, models.JobStatusFailed, byStep["step-a"].Status)
	// The next step still ran (and failed the same way, but it ran).
	assert.Equal(t, models.JobStatusFailed, byStep["step-b"].Status)
}

func TestRunnerFilteredStepCompletesAndAdvances(t *testing.T) {
	h := newHarness(t, models.ChannelTypeEmail)

	filtered := emailStep("step-a")
	filtered.Filters = []*models.FilterNode{{
		Type: models.FilterNodeGroup,
		Children: []*models.FilterNode{{
			Type:          models.FilterNodeLeaf,
			On:            models.FilterOnPayload,
			Field:         "tier",
			FieldOperator: models.OperatorEqual,
			Value:         "vip",
		}},
	}}

	wf := h.saveWorkflow(t, filtered, emailStep("step-b"))

	h.trigger(t, wf, "txn-1", map[string]any{"tier": "free"})

	byStep := h.jobsByStep(t, "txn-1")
	assert.Equal(t, models.JobStatusCompleted, byStep["step-a"].Status)
	assert.Equal(t, models.JobStatusCompleted, byStep["step-b"].Status)

	// Only the unfiltered step produced a message.
	require.Len(t, h.provider.sent, 1)

	details, err := h.store.ExecutionDetails().FindByJob(context.Background(), byStep["step-a"].ID)
	require.NoError(t, err)

	var kinds []models.Detail
	for _, detail := range details {
		kinds = append(kinds, detail.Detail)
	}

	assert.Contains(t, kinds, models.DetailStepFiltered)
}

func digestWorkflow(h *harness, t *testing.T) *models.Workflow {
	t.Helper()

	digest := &models.Step{
		ID: "step-digest", Type: models.StepTypeDigest, Active: true,
		Digest: &models.DigestMetadata{Type: models.DigestTypeRegular, Amount: 1, Unit: models.TimeUnitHours},
	}
	email := emailStep("step-email")
	email.Template.Content = "{{.step.totalCount}} events"

	return h.saveWorkflow(t, digest, email)
}

func TestRunnerDigestMergesSecondTrigger(t *testing.T) {
	h := newHarness(t, models.ChannelTypeEmail)
	wf := digestWorkflow(h, t)

	h.trigger(t, wf, "txn-1", map[string]any{"n": float64(1)})
	h.trigger(t, wf, "txn-2", map[string]any{"n": float64(2)})

	first := h.jobsByStep(t, "txn-1")
	second := h.jobsByStep(t, "txn-2")

	// First trigger opened the window; second merged into it.
	assert.Equal(t, models.JobStatusDelayed, first["step-digest"].Status)
	assert.Len(t, first["step-digest"].DigestEvents, 2)
	assert.Equal(t, models.JobStatusMerged, second["step-digest"].Status)
	assert.Equal(t, models.JobStatusCanceled, second["step-email"].Status)

	// Close the window and let the surviving chain deliver the batch.
	digestJob := first["step-digest"]
	past := time.Now().UTC().Add(-time.Second)
	digestJob.WakeAt = &past
	require.NoError(t, h.store.Jobs().Update(context.Background(), digestJob))

	h.activator.WakeDue(context.Background())
	h.pump(t)

	first = h.jobsByStep(t, "txn-1")
	assert.Equal(t, models.JobStatusCompleted, first["step-digest"].Status)
	assert.Equal(t, models.JobStatusCompleted, first["step-email"].Status)

	require.Len(t, h.provider.sent, 1)
	assert.Equal(t, "2 events", h.provider.sent[0].Content)
}

func TestRunnerDigestKeysSeparateWindows(t *testing.T) {
	h := newHarness(t, models.ChannelTypeEmail)

	digest := &models.Step{
		ID: "step-digest", Type: models.StepTypeDigest, Active: true,
		Digest: &models.DigestMetadata{
			Type: models.DigestTypeRegular, Amount: 1, Unit: models.TimeUnitHours,
			Key: "project",
		},
	}
	wf := h.saveWorkflow(t, digest, emailStep("step-email"))

	h.trigger(t, wf, "txn-1", map[string]any{"project": "alpha"})
	h.trigger(t, wf, "txn-2", map[string]any{"project": "beta"})

	// Different key values never merge.
	first := h.jobsByStep(t, "txn-1")
	second := h.jobsByStep(t, "txn-2")
	assert.Equal(t, models.JobStatusDelayed, first["step-digest"].Status)
	assert.Equal(t, models.JobStatusDelayed, second["step-digest"].Status)
	assert.Len(t, first["step-digest"].DigestEvents, 1)
	assert.Len(t, second["step-digest"].DigestEvents, 1)
}

func TestRunnerCancelTransaction(t *testing.T) {
	h := newHarness(t, models.ChannelTypeEmail)
	wf := h.saveWorkflow(t,
		emailStep("step-a"),
		&models.Step{
			ID: "step-delay", Type: models.StepTypeDelay, Active: true,
			Delay: &models.DelayMetadata{Amount: 1, Unit: models.TimeUnitHours},
		},
		emailStep("step-b"),
	)

	h.trigger(t, wf, "txn-1", nil)

	canceled, err := h.runner.CancelTransaction(context.Background(), "env-1", "txn-1")
	require.NoError(t, err)
	assert.Equal(t, 2, canceled, "the delayed job and the pending one cancel; the delivered one stays")

	byStep := h.jobsByStep(t, "txn-1")
	assert.Equal(t, models.JobStatusCompleted, byStep["step-a"].Status)
	assert.Equal(t, models.JobStatusCanceled, byStep["step-delay"].Status)
	assert.Equal(t, models.JobStatusCanceled, byStep["step-b"].Status)

	// Cancel is advertised on the bus.
	var sawCancel bool

	for _, event := range h.publisher.all {
		if _, ok := event.(events.TransactionCanceled); ok {
			sawCancel = true
		}
	}

	assert.True(t, sawCancel)
}

func TestRunnerRedeliveredJobReadyIsIdempotent(t *testing.T) {
	h := newHarness(t, models.ChannelTypeEmail)
	wf := h.saveWorkflow(t, emailStep("step-a"))

	h.trigger(t, wf, "txn-1", nil)

	byStep := h.jobsByStep(t, "txn-1")
	require.Equal(t, models.JobStatusCompleted, byStep["step-a"].Status)

	// A duplicate delivery of job.ready must not send twice.
	err := h.runner.HandleJobReady(context.Background(), &events.JobReady{
		BaseEvent: events.NewBaseEvent(events.JobReadyEvent, "env-1"),
		JobID:     byStep["step-a"].ID,
	})
	require.NoError(t, err)
	assert.Len(t, h.provider.sent, 1)
}

func triggerEvent(wf *models.Workflow, transactionID string) *events.TriggerRequested {
	return &events.TriggerRequested{
		BaseEvent:      events.NewBaseEvent(events.TriggerRequestedEvent, "env-1"),
		WorkflowID:     wf.ID,
		OrganizationID: "org-1",
		TransactionID:  transactionID,
		Recipients: []*models.SubscriberDefine{
			{SubscriberID: "sub-1", Email: "ada@example.com", Phone: "+1555"},
		},
	}
}

func TestRedeliveredTriggerDoesNotDuplicateChains(t *testing.T) {
	h := newHarness(t, models.ChannelTypeEmail)
	wf := h.saveWorkflow(t, emailStep("step-a"), emailStep("step-b"))
	ctx := context.Background()

	event := triggerEvent(wf, "txn-1")

	require.NoError(t, h.runner.HandleTriggerRequested(ctx, event))
	h.pump(t)

	// At-least-once bus: the same event arrives again after the chain ran.
	require.NoError(t, h.runner.HandleTriggerRequested(ctx, event))
	h.pump(t)

	jobs, err := h.store.Jobs().FindByTransaction(ctx, "txn-1")
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	messages, err := h.store.Messages().FindByTransaction(ctx, "txn-1")
	require.NoError(t, err)
	assert.Len(t, messages, 2)

	assert.Len(t, h.provider.sent, 2)
}

func TestRedeliveredTriggerResumesUnstartedChain(t *testing.T) {
	h := newHarness(t, models.ChannelTypeEmail)
	wf := h.saveWorkflow(t, emailStep("step-a"))
	ctx := context.Background()

	event := triggerEvent(wf, "txn-1")

	// First delivery persists the chain but fails to announce the first job.
	h.publisher.failNext = errors.New("broker unavailable")
	require.Error(t, h.runner.HandleTriggerRequested(ctx, event))

	jobs, err := h.store.Jobs().FindByTransaction(ctx, "txn-1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	// Redelivery starts the existing chain instead of expanding a second one.
	require.NoError(t, h.runner.HandleTriggerRequested(ctx, event))
	h.pump(t)

	jobs, err = h.store.Jobs().FindByTransaction(ctx, "txn-1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobStatusCompleted, jobs[0].Status)
	assert.Len(t, h.provider.sent, 1)
}

func TestFilterEvaluationErrorRecordsFailedDetail(t *testing.T) {
	h := newHarness(t, models.ChannelTypeEmail)

	broken := emailStep("step-a")
	broken.Filters = []*models.FilterNode{{
		Type: models.FilterNodeGroup,
		Children: []*models.FilterNode{{
			Type:     models.FilterNodeLeaf,
			On:       models.FilterOnPreviousStep,
			StepID:   "no-such-step",
			StepKind: models.PreviousStepSeen,
		}},
	}}

	wf := h.saveWorkflow(t, broken, emailStep("step-b"))

	h.trigger(t, wf, "txn-1", nil)

	byStep := h.jobsByStep(t, "txn-1")
	assert.Equal(t, models.JobStatusCompleted, byStep["step-a"].Status)
	assert.Equal(t, models.JobStatusCompleted, byStep["step-b"].Status)

	details, err := h.store.ExecutionDetails().FindByJob(context.Background(), byStep["step-a"].ID)
	require.NoError(t, err)

	var evaluationError *models.ExecutionDetail

	for _, detail := range details {
		if detail.Detail == models.DetailFilterEvaluationError {
			evaluationError = detail
		}
	}

	require.NotNil(t, evaluationError)
	assert.Equal(t, models.ExecutionStatusFailed, evaluationError.Status)

	// The erroring condition fails closed: step filtered, chain advanced.
	require.Len(t, h.provider.sent, 1)
}
