package workflow

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/dukex/herald/pkg/filter"
	"github.com/dukex/herald/pkg/models"
)

// Expander turns one (workflow, recipient) pair into a job chain. The chain
// is strictly ordered through ParentID; the caller persists it atomically.
type Expander struct {
	logger *slog.Logger
	clock  func() time.Time
}

// NewExpander creates a job chain expander.
func NewExpander(logger *slog.Logger) *Expander {
	return &Expander{
		logger: logger.With("module", "expander"),
		clock:  time.Now,
	}
}

// ExpandCommand is the input for one recipient's chain.
type ExpandCommand struct {
	Workflow       *models.Workflow
	Subscriber     *models.Subscriber
	OrganizationID string
	TransactionID  string
	Payload        map[string]any
	Overrides      map[string]any
	Tenant         map[string]any
	ActorID        string
}

// Expand creates one job per active step. Inactive steps are skipped
// entirely; the first job's parent is nil; delay and digest jobs carry a
// precomputed wake time.
func (e *Expander) Expand(cmd ExpandCommand) ([]*models.Job, error) {
	steps := cmd.Workflow.ActiveSteps()
	now := e.clock().UTC()

	jobs := make([]*models.Job, 0, len(steps))

	var previousID *string

	for _, step := range steps {
		job := &models.Job{
			ID:             uuid.New().String(),
			EnvironmentID:  cmd.Workflow.EnvironmentID,
			OrganizationID: cmd.OrganizationID,
			WorkflowID:     cmd.Workflow.ID,
			TransactionID:  cmd.TransactionID,
			SubscriberID:   cmd.Subscriber.SubscriberID,
			StepID:         step.ID,
			Type:           step.Type,
			Status:         models.JobStatusPending,
			ParentID:       previousID,
			Payload:        cmd.Payload,
			Overrides:      cmd.Overrides,
			Tenant:         cmd.Tenant,
			ActorID:        cmd.ActorID,
		}

		if step.Template != nil {
			job.TemplateID = step.Template.ID
		}

		switch step.Type {
		case models.StepTypeDelay:
			if step.Delay == nil {
				return nil, fmt.Errorf("delay step %s has no delay metadata", step.ID)
			}

			wakeAt := now.Add(step.Delay.Unit.Duration(step.Delay.Amount))
			job.Delay = step.Delay
			job.WakeAt = &wakeAt

		case models.StepTypeDigest:
			if step.Digest == nil {
				return nil, fmt.Errorf("digest step %s has no digest metadata", step.ID)
			}

			wakeAt, err := DigestWakeAt(step.Digest, now)
			if err != nil {
				return nil, fmt.Errorf("digest step %s: %w", step.ID, err)
			}

			job.Digest = step.Digest
			job.WakeAt = &wakeAt
			job.DigestKey = DigestKey(cmd.Workflow, cmd.Subscriber.SubscriberID, step.Digest, cmd.Payload)
		}

		jobs = append(jobs, job)
		previousID = &job.ID
	}

	return jobs, nil
}

// DigestWakeAt computes when a digest window opened at now should close:
// the next cron occurrence for timed digests, a fixed duration otherwise.
func DigestWakeAt(digest *models.DigestMetadata, now time.Time) (time.Time, error) {
	if digest.Type == models.DigestTypeTimed {
		schedule, err := cron.ParseStandard(digest.Cron)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid digest cron %q: %w", digest.Cron, err)
		}

		return schedule.Next(now), nil
	}

	return now.Add(digest.Unit.Duration(digest.Amount)), nil
}

// DigestKey computes the key digest windows collapse on. When the digest
// names a payload field and the payload carries it, the value scopes the
// window; otherwise all of a subscriber's events for the workflow share one
// window.
func DigestKey(wf *models.Workflow, subscriberID string, digest *models.DigestMetadata, payload map[string]any) string {
	base := wf.ID + ":" + subscriberID

	if digest.Key == "" {
		return base
	}

	value, defined := filter.ResolvePath(payload, digest.Key)
	if !defined {
		return base
	}

	return fmt.Sprintf("%s:%s=%v", base, digest.Key, value)
}
