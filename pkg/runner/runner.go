// Package runner drives per-recipient job chains: it expands trigger events
// into jobs, executes one job per job.ready event, and advances each chain as
// jobs reach a terminal status.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/herald/pkg/channels"
	"github.com/dukex/herald/pkg/eventbus"
	"github.com/dukex/herald/pkg/events"
	"github.com/dukex/herald/pkg/filter"
	"github.com/dukex/herald/pkg/idempotency"
	"github.com/dukex/herald/pkg/models"
	"github.com/dukex/herald/pkg/persistence"
	"github.com/dukex/herald/pkg/subscribers"
	"github.com/dukex/herald/pkg/workflow"
)

// digestLockTTL bounds how long one worker holds a digest window while
// deciding merge-or-open.
const digestLockTTL = 30 * time.Second

// Runner executes the delivery pipeline inside a worker process.
type Runner struct {
	logger     *slog.Logger
	workerID   string
	store      persistence.Persistence
	publisher  eventbus.EventPublisher
	matcher    *filter.Matcher
	expander   *workflow.Expander
	resolver   *subscribers.Resolver
	dispatcher *channels.Dispatcher
	locks      idempotency.Store
	canceler   *Canceler
	clock      func() time.Time
}

// NewRunner wires a runner from its collaborators.
func NewRunner(
	logger *slog.Logger,
	workerID string,
	store persistence.Persistence,
	publisher eventbus.EventPublisher,
	matcher *filter.Matcher,
	expander *workflow.Expander,
	resolver *subscribers.Resolver,
	dispatcher *channels.Dispatcher,
	locks idempotency.Store,
) *Runner {
	return &Runner{
		logger:     logger.With("module", "runner", "worker_id", workerID),
		workerID:   workerID,
		store:      store,
		publisher:  publisher,
		matcher:    matcher,
		expander:   expander,
		resolver:   resolver,
		dispatcher: dispatcher,
		locks:      locks,
		canceler:   NewCanceler(logger, workerID, store.Jobs(), store.ExecutionDetails(), publisher),
		clock:      time.Now,
	}
}

// RegisterHandlers subscribes the runner to the events it consumes.
func (r *Runner) RegisterHandlers(bus eventbus.EventSubscriber) error {
	err := bus.Handle(events.TriggerRequestedEvent, r.HandleTriggerRequested)
	if err != nil {
		return err
	}

	return bus.Handle(events.JobReadyEvent, r.HandleJobReady)
}

// HandleTriggerRequested expands one validated trigger into per-recipient job
// chains and starts the first job of each chain.
func (r *Runner) HandleTriggerRequested(ctx context.Context, event any) error {
	trigger, ok := event.(*events.TriggerRequested)
	if !ok {
		return fmt.Errorf("unexpected event type %T for trigger.requested", event)
	}

	wf, err := r.store.Workflows().GetByID(ctx, trigger.EnvironmentID, trigger.WorkflowID)
	if err != nil {
		return fmt.Errorf("failed to load workflow %s: %w", trigger.WorkflowID, err)
	}

	actorID, err := r.resolveActor(ctx, trigger.EnvironmentID, trigger.Actor)
	if err != nil {
		return err
	}

	recipients, err := r.resolver.Resolve(ctx, trigger.EnvironmentID, trigger.Recipients)
	if err != nil {
		return fmt.Errorf("failed to resolve recipients: %w", err)
	}

	roots, err := r.chainRoots(ctx, trigger.EnvironmentID, trigger.TransactionID)
	if err != nil {
		return err
	}

	for _, subscriber := range recipients {
		// On a redelivered event the chain may already exist, either running
		// or parked between persist and enqueue. Never expand it twice.
		if root, ok := roots[subscriber.SubscriberID]; ok {
			if root.Status == models.JobStatusPending || root.Status == models.JobStatusQueued {
				if err := r.enqueue(ctx, root); err != nil {
					return err
				}
			}

			continue
		}

		jobs, err := r.expander.Expand(workflow.ExpandCommand{
			Workflow:       wf,
			Subscriber:     subscriber,
			OrganizationID: trigger.OrganizationID,
			TransactionID:  trigger.TransactionID,
			Payload:        trigger.Payload,
			Overrides:      trigger.Overrides,
			Tenant:         trigger.Tenant,
			ActorID:        actorID,
		})
		if err != nil {
			return fmt.Errorf("failed to expand chain for %s: %w", subscriber.SubscriberID, err)
		}

		if len(jobs) == 0 {
			continue
		}

		err = r.store.Jobs().CreateMany(ctx, jobs)
		if err != nil {
			return fmt.Errorf("failed to persist chain for %s: %w", subscriber.SubscriberID, err)
		}

		err = r.enqueue(ctx, jobs[0])
		if err != nil {
			return err
		}
	}

	r.logger.InfoContext(ctx, "Expanded trigger into job chains",
		"transaction_id", trigger.TransactionID,
		"workflow_id", wf.ID,
		"recipients", len(recipients))

	return nil
}

// chainRoots maps subscriber ids to the first job of an already-persisted
// chain for the transaction.
func (r *Runner) chainRoots(ctx context.Context, environmentID, transactionID string) (map[string]*models.Job, error) {
	existing, err := r.store.Jobs().FindByTransaction(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction %s jobs: %w", transactionID, err)
	}

	roots := make(map[string]*models.Job)

	for _, job := range existing {
		if job.EnvironmentID == environmentID && job.ParentID == nil {
			roots[job.SubscriberID] = job
		}
	}

	return roots, nil
}

func (r *Runner) resolveActor(ctx context.Context, environmentID string, actor *models.SubscriberDefine) (string, error) {
	if actor == nil {
		return "", nil
	}

	resolved, err := r.resolver.Resolve(ctx, environmentID, []*models.SubscriberDefine{actor})
	if err != nil {
		return "", fmt.Errorf("failed to resolve actor: %w", err)
	}

	return resolved[0].SubscriberID, nil
}

// HandleJobReady executes exactly one job. A job runs only after its parent
// reached a terminal status; re-delivered events for already-terminal jobs are
// acknowledged without effect.
func (r *Runner) HandleJobReady(ctx context.Context, event any) error {
	ready, ok := event.(*events.JobReady)
	if !ok {
		return fmt.Errorf("unexpected event type %T for job.ready", event)
	}

	job, err := r.store.Jobs().GetByID(ctx, ready.JobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", ready.JobID, err)
	}

	if job.Status.Terminal() {
		return nil
	}

	if job.ParentID != nil {
		parent, err := r.store.Jobs().GetByID(ctx, *job.ParentID)
		if err != nil {
			return fmt.Errorf("failed to load parent of job %s: %w", job.ID, err)
		}

		if !parent.Status.Terminal() {
			r.logger.WarnContext(ctx, "Job woke before its parent finished",
				"job_id", job.ID, "parent_id", parent.ID, "parent_status", parent.Status)

			return nil
		}
	}

	return r.run(ctx, job)
}

func (r *Runner) run(ctx context.Context, job *models.Job) error {
	wf, err := r.store.Workflows().GetByID(ctx, job.EnvironmentID, job.WorkflowID)
	if err != nil {
		return fmt.Errorf("failed to load workflow %s: %w", job.WorkflowID, err)
	}

	step := stepByID(wf, job.StepID)
	if step == nil {
		return r.failJob(ctx, job, fmt.Sprintf("step %s no longer exists in workflow %s", job.StepID, wf.ID), false)
	}

	subscriber, err := r.store.Subscribers().GetBySubscriberID(ctx, job.EnvironmentID, job.SubscriberID)
	if err != nil {
		return fmt.Errorf("failed to load subscriber %s: %w", job.SubscriberID, err)
	}

	err = r.store.Jobs().UpdateStatus(ctx, job.ID, models.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to mark job %s running: %w", job.ID, err)
	}

	job.Status = models.JobStatusRunning

	cmd := filter.Command{
		EnvironmentID: job.EnvironmentID,
		TransactionID: job.TransactionID,
		Subscriber:    subscriber,
		Payload:       job.Payload,
		Tenant:        job.Tenant,
	}

	summary := r.matcher.Match(ctx, step.Filters, cmd)

	if len(summary.Errors) > 0 {
		err = r.recordDetail(ctx, job, models.DetailFilterEvaluationError,
			models.ExecutionStatusFailed, strings.Join(summary.Errors, "; "))
		if err != nil {
			return err
		}
	}

	if !summary.Passed {
		err = r.recordDetail(ctx, job, models.DetailStepFiltered,
			models.ExecutionStatusSuccess, strings.Join(summary.FailedFilters, "; "))
		if err != nil {
			return err
		}

		return r.completeJob(ctx, job)
	}

	switch step.Type {
	case models.StepTypeDelay:
		return r.delayJob(ctx, job, step)
	case models.StepTypeDigest:
		return r.digestJob(ctx, job, step)
	default:
		return r.dispatchJob(ctx, job, step, subscriber, cmd)
	}
}

// delayJob parks the job; the activator completes it once the wake time has
// passed. The wake time is measured from execution, not from trigger time.
func (r *Runner) delayJob(ctx context.Context, job *models.Job, step *models.Step) error {
	wakeAt := r.clock().UTC().Add(step.Delay.Unit.Duration(step.Delay.Amount))

	job.Status = models.JobStatusDelayed
	job.WakeAt = &wakeAt

	err := r.store.Jobs().Update(ctx, job)
	if err != nil {
		return fmt.Errorf("failed to delay job %s: %w", job.ID, err)
	}

	return r.recordDetail(ctx, job, models.DetailStepDelayed,
		models.ExecutionStatusPending, wakeAt.Format(time.RFC3339))
}

// digestJob either merges this trigger into an already-open window for the
// digest key or opens a new one. The lock serializes concurrent workers on
// the same key so two windows cannot open at once.
func (r *Runner) digestJob(ctx context.Context, job *models.Job, step *models.Step) error {
	lockKey := "digest:" + job.EnvironmentID + ":" + job.DigestKey

	won, err := r.locks.Lock(ctx, lockKey, digestLockTTL)
	if err != nil {
		return fmt.Errorf("failed to lock digest window %s: %w", job.DigestKey, err)
	}

	if !won {
		return fmt.Errorf("digest window %s is held by another worker", job.DigestKey)
	}

	defer func() {
		if err := r.locks.Unlock(ctx, lockKey); err != nil {
			r.logger.WarnContext(ctx, "Failed to release digest lock", "key", lockKey, "error", err)
		}
	}()

	open, err := r.store.Jobs().FindOpenDigest(ctx, job.EnvironmentID, job.DigestKey)
	if err != nil {
		return fmt.Errorf("failed to look up open digest window: %w", err)
	}

	if open != nil && open.ID != job.ID {
		return r.mergeIntoDigest(ctx, job, open)
	}

	now := r.clock().UTC()

	wakeAt, err := workflow.DigestWakeAt(step.Digest, now)
	if err != nil {
		return r.failJob(ctx, job, err.Error(), step.ShouldStopOnFail)
	}

	job.Status = models.JobStatusDelayed
	job.WakeAt = &wakeAt
	job.DigestEvents = []map[string]any{job.Payload}

	err = r.store.Jobs().Update(ctx, job)
	if err != nil {
		return fmt.Errorf("failed to open digest window: %w", err)
	}

	return r.recordDetail(ctx, job, models.DetailDigestWindowOpened,
		models.ExecutionStatusPending, job.DigestKey)
}

// mergeIntoDigest appends this trigger's payload to the open window, marks
// this job merged, and cancels its descendants: the open window's chain will
// deliver for everyone.
func (r *Runner) mergeIntoDigest(ctx context.Context, job, open *models.Job) error {
	open.DigestEvents = append(open.DigestEvents, job.Payload)

	err := r.store.Jobs().Update(ctx, open)
	if err != nil {
		return fmt.Errorf("failed to merge into digest window %s: %w", open.ID, err)
	}

	job.Status = models.JobStatusMerged

	err = r.store.Jobs().Update(ctx, job)
	if err != nil {
		return fmt.Errorf("failed to mark job %s merged: %w", job.ID, err)
	}

	err = r.recordDetail(ctx, job, models.DetailDigestMerged,
		models.ExecutionStatusSuccess, "merged into "+open.ID)
	if err != nil {
		return err
	}

	return r.cancelDescendants(ctx, job, models.DetailJobCanceled)
}

func (r *Runner) dispatchJob(ctx context.Context, job *models.Job, step *models.Step, subscriber *models.Subscriber, cmd filter.Command) error {
	template := r.matcher.SelectTemplate(ctx, step, cmd)

	digestEvents, err := r.digestEventsFor(ctx, job)
	if err != nil {
		return err
	}

	actor, err := r.loadActor(ctx, job)
	if err != nil {
		return err
	}

	outcome, err := r.dispatcher.Dispatch(ctx, channels.Command{
		Job:          job,
		Step:         step,
		Template:     template,
		Subscriber:   subscriber,
		Actor:        actor,
		DigestEvents: digestEvents,
	})
	if err != nil {
		return fmt.Errorf("dispatch of job %s: %w", job.ID, err)
	}

	if !outcome.Delivered {
		return r.failJob(ctx, job, outcome.Error, step.ShouldStopOnFail)
	}

	return r.completeJob(ctx, job)
}

func (r *Runner) loadActor(ctx context.Context, job *models.Job) (*models.Subscriber, error) {
	if job.ActorID == "" {
		return nil, nil
	}

	actor, err := r.store.Subscribers().GetBySubscriberID(ctx, job.EnvironmentID, job.ActorID)
	if err != nil {
		if persistence.IsSubscriberNotFound(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to load actor %s: %w", job.ActorID, err)
	}

	return actor, nil
}

// digestEventsFor walks the chain upward to the nearest completed digest job
// and returns its accumulated events. Channel steps after a digest render the
// whole batch.
func (r *Runner) digestEventsFor(ctx context.Context, job *models.Job) ([]map[string]any, error) {
	parentID := job.ParentID

	for parentID != nil {
		ancestor, err := r.store.Jobs().GetByID(ctx, *parentID)
		if err != nil {
			return nil, fmt.Errorf("failed to walk chain of job %s: %w", job.ID, err)
		}

		if ancestor.Type == models.StepTypeDigest && ancestor.Status == models.JobStatusCompleted {
			return ancestor.DigestEvents, nil
		}

		parentID = ancestor.ParentID
	}

	return nil, nil
}

// completeJob finishes a job and starts its child, if any.
func (r *Runner) completeJob(ctx context.Context, job *models.Job) error {
	job.Status = models.JobStatusCompleted

	err := r.store.Jobs().Update(ctx, job)
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", job.ID, err)
	}

	base := events.NewBaseEvent(events.JobCompletedEvent, job.EnvironmentID)
	base.WorkerID = r.workerID

	err = r.publisher.Publish(ctx, job.TransactionID, events.JobCompleted{
		BaseEvent:     base,
		JobID:         job.ID,
		TransactionID: job.TransactionID,
		Status:        job.Status,
		Duration:      r.clock().UTC().Sub(job.CreatedAt),
	})
	if err != nil {
		r.logger.WarnContext(ctx, "Failed to publish job.completed", "job_id", job.ID, "error", err)
	}

	return r.advance(ctx, job)
}

// failJob finishes a job as failed. When the step stops on failure the rest
// of the chain is canceled; otherwise the next job still runs.
func (r *Runner) failJob(ctx context.Context, job *models.Job, errText string, stopChain bool) error {
	job.Status = models.JobStatusFailed
	job.Error = errText

	err := r.store.Jobs().Update(ctx, job)
	if err != nil {
		return fmt.Errorf("failed to fail job %s: %w", job.ID, err)
	}

	base := events.NewBaseEvent(events.JobFailedEvent, job.EnvironmentID)
	base.WorkerID = r.workerID

	err = r.publisher.Publish(ctx, job.TransactionID, events.JobFailed{
		BaseEvent:     base,
		JobID:         job.ID,
		TransactionID: job.TransactionID,
		Error:         errText,
	})
	if err != nil {
		r.logger.WarnContext(ctx, "Failed to publish job.failed", "job_id", job.ID, "error", err)
	}

	if stopChain {
		return r.cancelDescendants(ctx, job, models.DetailChainCanceled)
	}

	return r.advance(ctx, job)
}

func (r *Runner) advance(ctx context.Context, job *models.Job) error {
	child, err := r.store.Jobs().FindChild(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to find child of job %s: %w", job.ID, err)
	}

	if child == nil || child.Status != models.JobStatusPending {
		return nil
	}

	return r.enqueue(ctx, child)
}

func (r *Runner) enqueue(ctx context.Context, job *models.Job) error {
	err := r.store.Jobs().UpdateStatus(ctx, job.ID, models.JobStatusQueued)
	if err != nil {
		return fmt.Errorf("failed to queue job %s: %w", job.ID, err)
	}

	base := events.NewBaseEvent(events.JobReadyEvent, job.EnvironmentID)
	base.WorkerID = r.workerID

	err = r.publisher.Publish(ctx, job.TransactionID, events.JobReady{
		BaseEvent:     base,
		JobID:         job.ID,
		TransactionID: job.TransactionID,
	})
	if err != nil {
		return fmt.Errorf("failed to publish job.ready for %s: %w", job.ID, err)
	}

	return nil
}

func (r *Runner) cancelDescendants(ctx context.Context, job *models.Job, detail models.Detail) error {
	current := job

	for {
		child, err := r.store.Jobs().FindChild(ctx, current.ID)
		if err != nil {
			return fmt.Errorf("failed to find child of job %s: %w", current.ID, err)
		}

		if child == nil {
			return nil
		}

		if !child.Status.Terminal() {
			err = r.store.Jobs().UpdateStatus(ctx, child.ID, models.JobStatusCanceled)
			if err != nil {
				return fmt.Errorf("failed to cancel job %s: %w", child.ID, err)
			}

			err = r.recordDetail(ctx, child, detail, models.ExecutionStatusWarning, "")
			if err != nil {
				return err
			}
		}

		current = child
	}
}

// CancelTransaction cancels every non-terminal job of a transaction. Jobs
// already delivered stay delivered.
func (r *Runner) CancelTransaction(ctx context.Context, environmentID, transactionID string) (int, error) {
	return r.canceler.CancelTransaction(ctx, environmentID, transactionID)
}

// wake finishes a due delayed or digest job. The per-job lock keeps two
// activator instances from completing the same job.
func (r *Runner) wake(ctx context.Context, job *models.Job) error {
	won, err := r.locks.Lock(ctx, "wake:"+job.ID, digestLockTTL)
	if err != nil {
		return fmt.Errorf("failed to lock job %s for wake: %w", job.ID, err)
	}

	if !won {
		return nil
	}

	defer func() {
		if err := r.locks.Unlock(ctx, "wake:"+job.ID); err != nil {
			r.logger.WarnContext(ctx, "Failed to release wake lock", "job_id", job.ID, "error", err)
		}
	}()

	detail := models.DetailDelayCompleted
	raw := ""

	if job.Type == models.StepTypeDigest {
		detail = models.DetailDigestCompleted
		raw = digestSummary(job.DigestEvents)
	}

	err = r.recordDetail(ctx, job, detail, models.ExecutionStatusSuccess, raw)
	if err != nil {
		return err
	}

	return r.completeJob(ctx, job)
}

func digestSummary(digestEvents []map[string]any) string {
	raw, err := json.Marshal(map[string]any{"event_count": len(digestEvents)})
	if err != nil {
		return ""
	}

	return string(raw)
}

func (r *Runner) recordDetail(ctx context.Context, job *models.Job, detail models.Detail, status models.ExecutionDetailStatus, raw string) error {
	err := r.store.ExecutionDetails().Create(ctx, &models.ExecutionDetail{
		EnvironmentID:  job.EnvironmentID,
		OrganizationID: job.OrganizationID,
		JobID:          job.ID,
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

func stepByID(wf *models.Workflow, stepID string) *models.Step {
	for _, step := range wf.Steps {
		if step.ID == stepID {
			return step
		}
	}

	return nil
}
