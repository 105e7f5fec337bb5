package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dukex/herald/pkg/eventbus"
	"github.com/dukex/herald/pkg/events"
	"github.com/dukex/herald/pkg/idempotency"
	"github.com/dukex/herald/pkg/models"
	"github.com/dukex/herald/pkg/persistence"
	"github.com/dukex/herald/pkg/subscribers"
)

// transactionClaimTTL bounds how long a transaction id deduplicates retries.
const transactionClaimTTL = 24 * time.Hour

// ErrWorkflowNotFound is returned for an unknown trigger identifier. Unlike
// the inactive and no-steps outcomes it is an error, not an acknowledgement.
var ErrWorkflowNotFound = errors.New("workflow not found for trigger identifier")

// ErrNoRecipients is returned when a trigger addresses nobody.
var ErrNoRecipients = errors.New("trigger requires at least one recipient")

// TriggerService accepts trigger calls: it validates synchronously, claims
// the transaction id, and hands the event to the workers. Everything after
// the acknowledgement is asynchronous.
type TriggerService struct {
	logger    *slog.Logger
	validator *validator.Validate
	workflows persistence.WorkflowRepository
	claims    idempotency.Store
	publisher eventbus.EventPublisher
}

// NewTriggerService creates a trigger service.
func NewTriggerService(
	logger *slog.Logger,
	workflows persistence.WorkflowRepository,
	claims idempotency.Store,
	publisher eventbus.EventPublisher,
) *TriggerService {
	return &TriggerService{
		logger:    logger.With("module", "trigger"),
		validator: validator.New(),
		workflows: workflows,
		claims:    claims,
		publisher: publisher,
	}
}

// Trigger processes one inbound trigger call and returns the synchronous
// acknowledgement. Validation failures return an error and create nothing.
func (s *TriggerService) Trigger(ctx context.Context, environmentID, organizationID string, request *models.TriggerRequest) (*models.TriggerResult, error) {
	err := s.validator.Struct(request)
	if err != nil {
		return nil, fmt.Errorf("invalid trigger request: %w", err)
	}

	if len(request.To.Items) == 0 {
		return nil, ErrNoRecipients
	}

	recipients, err := subscribers.Dedupe(request.To.Items)
	if err != nil {
		return nil, err
	}

	wf, err := s.workflows.FindByTriggerIdentifier(ctx, environmentID, request.Name)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return nil, ErrWorkflowNotFound
		}

		return nil, fmt.Errorf("failed to resolve trigger identifier: %w", err)
	}

	transactionID := request.TransactionID
	if transactionID == "" {
		transactionID = uuid.New().String()
	}

	if !wf.Active {
		return &models.TriggerResult{
			Acknowledged:  true,
			Status:        models.TriggerStatusNotActive,
			TransactionID: transactionID,
		}, nil
	}

	if len(wf.Steps) == 0 {
		return &models.TriggerResult{
			Acknowledged:  true,
			Status:        models.TriggerStatusNoWorkflowSteps,
			TransactionID: transactionID,
		}, nil
	}

	if !wf.HasActiveSteps() {
		return &models.TriggerResult{
			Acknowledged:  true,
			Status:        models.TriggerStatusNoWorkflowActiveSteps,
			TransactionID: transactionID,
		}, nil
	}

	payload := ApplyDefaults(wf.Variables, request.Payload)

	err = VerifyPayload(wf.Variables, payload)
	if err != nil {
		return nil, err
	}

	claimKey := environmentID + ":" + transactionID

	won, err := s.claims.Claim(ctx, claimKey, transactionClaimTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to claim transaction: %w", err)
	}

	if !won {
		// Retried transaction: the original publish already happened, so the
		// retry converges on the same acknowledgement.
		s.logger.InfoContext(ctx, "Duplicate transaction acknowledged",
			"transaction_id", transactionID)

		return &models.TriggerResult{
			Acknowledged:  true,
			Status:        models.TriggerStatusProcessed,
			TransactionID: transactionID,
		}, nil
	}

	event := events.TriggerRequested{
		BaseEvent:      events.NewBaseEvent(events.TriggerRequestedEvent, environmentID),
		WorkflowID:     wf.ID,
		OrganizationID: organizationID,
		TransactionID:  transactionID,
		Recipients:     recipients,
		Payload:        payload,
		Overrides:      request.Overrides,
		Tenant:         request.Tenant,
		Actor:          request.Actor,
	}

	err = s.publisher.Publish(ctx, transactionID, event)
	if err != nil {
		// A kept claim would turn the caller's retry into a silent no-op.
		if releaseErr := s.claims.Release(ctx, claimKey); releaseErr != nil {
			s.logger.ErrorContext(ctx, "Failed to release transaction claim",
				"transaction_id", transactionID, "error", releaseErr)
		}

		return nil, fmt.Errorf("failed to publish trigger event: %w", err)
	}

	s.logger.InfoContext(ctx, "Trigger accepted",
		"workflow_id", wf.ID,
		"transaction_id", transactionID,
		"recipients", len(recipients))

	return &models.TriggerResult{
		Acknowledged:  true,
		Status:        models.TriggerStatusProcessed,
		TransactionID: transactionID,
	}, nil
}
