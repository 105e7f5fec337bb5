package filter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/herald/pkg/models"
)

// MessageReader looks up the message a previous-step condition references.
type MessageReader interface {
	FindBySubscriberAndStep(ctx context.Context, environmentID, subscriberID, stepID, transactionID string) (*models.Message, error)
}

// Command carries the per-recipient context a filter tree evaluates against.
type Command struct {
	EnvironmentID string
	TransactionID string
	Subscriber    *models.Subscriber
	Payload       map[string]any
	Tenant        map[string]any
}

// Summary reports the decision plus the per-condition breakdown kept for the
// audit trail. The lists are observability only; Passed is the decision.
type Summary struct {
	Passed        bool
	Filters       []string
	PassedFilters []string
	FailedFilters []string
	// Errors lists conditions whose evaluation itself failed. Each one was
	// treated as not passed.
	Errors []string
}

// Matcher evaluates filter trees depth-first with short-circuiting, so
// webhook conditions never fire when a cheaper sibling already decided the
// group.
type Matcher struct {
	logger   *slog.Logger
	webhook  *WebhookClient
	messages MessageReader
	clock    func() time.Time
}

// NewMatcher creates a filter tree matcher.
func NewMatcher(logger *slog.Logger, webhook *WebhookClient, messages MessageReader) *Matcher {
	return &Matcher{
		logger:   logger.With("module", "filter_matcher"),
		webhook:  webhook,
		messages: messages,
		clock:    time.Now,
	}
}

// Match evaluates a step's filter list. An empty list always passes. Entries
// are combined with AND semantics and each entry short-circuits internally.
func (m *Matcher) Match(ctx context.Context, filters []*models.FilterNode, cmd Command) *Summary {
	summary := &Summary{Passed: true}

	if len(filters) == 0 {
		return summary
	}

	for _, node := range filters {
		passed := m.evaluateNode(ctx, node, cmd, summary)
		if !passed {
			summary.Passed = false

			return summary
		}
	}

	return summary
}

// SelectTemplate picks the first variant whose filters pass, falling back to
// the step's base template.
func (m *Matcher) SelectTemplate(ctx context.Context, step *models.Step, cmd Command) *models.MessageTemplate {
	for _, variant := range step.Variants {
		summary := m.Match(ctx, variant.Filters, cmd)
		if summary.Passed {
			return variant.Template
		}
	}

	return step.Template
}

func (m *Matcher) evaluateNode(ctx context.Context, node *models.FilterNode, cmd Command, summary *Summary) bool {
	if node.IsGroup() {
		return m.evaluateGroup(ctx, node, cmd, summary)
	}

	return m.evaluateLeaf(ctx, node, cmd, summary)
}

func (m *Matcher) evaluateGroup(ctx context.Context, group *models.FilterNode, cmd Command, summary *Summary) bool {
	var passed bool

	switch group.Operator {
	case models.GroupOperatorOr:
		passed = false

		for _, child := range group.Children {
			if m.evaluateNode(ctx, child, cmd, summary) {
				passed = true

				break
			}
		}
	default: // AND, also the default for a group with no operator set
		passed = true

		for _, child := range group.Children {
			if !m.evaluateNode(ctx, child, cmd, summary) {
				passed = false

				break
			}
		}
	}

	if group.IsNegated {
		passed = !passed
	}

	return passed
}

func (m *Matcher) evaluateLeaf(ctx context.Context, leaf *models.FilterNode, cmd Command, summary *Summary) bool {
	label := describe(leaf)
	summary.Filters = append(summary.Filters, label)

	result, err := m.evaluateCondition(ctx, leaf, cmd)
	if err != nil {
		m.logger.WarnContext(ctx, "Condition evaluation failed",
			"condition", label, "error", err)
		summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", label, err))
		summary.FailedFilters = append(summary.FailedFilters, label)

		return false
	}

	if result.Passed {
		summary.PassedFilters = append(summary.PassedFilters, label)
	} else {
		summary.FailedFilters = append(summary.FailedFilters, label)
	}

	return result.Passed
}

func (m *Matcher) evaluateCondition(ctx context.Context, leaf *models.FilterNode, cmd Command) (Result, error) {
	switch leaf.On {
	case models.FilterOnPayload:
		actual, defined := ResolvePath(cmd.Payload, leaf.Field)

		return EvaluateField(leaf.FieldOperator, leaf.Value, actual, defined), nil

	case models.FilterOnSubscriber:
		actual, defined := ResolvePath(subscriberFields(cmd.Subscriber), leaf.Field)

		return EvaluateField(leaf.FieldOperator, leaf.Value, actual, defined), nil

	case models.FilterOnTenant:
		actual, defined := ResolvePath(cmd.Tenant, leaf.Field)

		return EvaluateField(leaf.FieldOperator, leaf.Value, actual, defined), nil

	case models.FilterOnWebhook:
		return m.evaluateWebhook(ctx, leaf, cmd)

	case models.FilterOnIsOnline:
		return EvaluateOnline(cmd.Subscriber, leaf.Value), nil

	case models.FilterOnIsOnlineInLast:
		return EvaluateOnlineInLast(cmd.Subscriber, leaf.Value, leaf.TimeOperator, m.clock().UTC()), nil

	case models.FilterOnPreviousStep:
		return m.evaluatePreviousStep(ctx, leaf, cmd)
	}

	return Result{}, fmt.Errorf("unknown condition source %q", leaf.On)
}

func (m *Matcher) evaluateWebhook(ctx context.Context, leaf *models.FilterNode, cmd Command) (Result, error) {
	response, err := m.webhook.Query(ctx, leaf.WebhookURL, WebhookRequest{
		Payload:    cmd.Payload,
		Subscriber: cmd.Subscriber,
	})
	if err != nil {
		return Result{}, err
	}

	actual, defined := ResolvePath(response, leaf.Field)

	return EvaluateField(leaf.FieldOperator, leaf.Value, actual, defined), nil
}

func (m *Matcher) evaluatePreviousStep(ctx context.Context, leaf *models.FilterNode, cmd Command) (Result, error) {
	message, err := m.messages.FindBySubscriberAndStep(ctx,
		cmd.EnvironmentID, subscriberID(cmd.Subscriber), leaf.StepID, cmd.TransactionID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load previous step message: %w", err)
	}

	var passed bool

	switch leaf.StepKind {
	case models.PreviousStepSeen:
		passed = message.Seen
	case models.PreviousStepUnseen:
		passed = !message.Seen
	case models.PreviousStepRead:
		passed = message.Read
	case models.PreviousStepUnread:
		passed = !message.Read
	default:
		return Result{}, fmt.Errorf("unknown previous step kind %q", leaf.StepKind)
	}

	return Result{
		Passed:   passed,
		Expected: string(leaf.StepKind),
		Actual:   fmt.Sprintf("seen=%t read=%t", message.Seen, message.Read),
	}, nil
}

func subscriberFields(subscriber *models.Subscriber) map[string]any {
	if subscriber == nil {
		return nil
	}

	return map[string]any{
		"subscriberId": subscriber.SubscriberID,
		"firstName":    subscriber.FirstName,
		"lastName":     subscriber.LastName,
		"email":        subscriber.Email,
		"phone":        subscriber.Phone,
		"locale":       subscriber.Locale,
		"data":         subscriber.Data,
	}
}

func subscriberID(subscriber *models.Subscriber) string {
	if subscriber == nil {
		return ""
	}

	return subscriber.SubscriberID
}

func describe(leaf *models.FilterNode) string {
	switch leaf.On {
	case models.FilterOnWebhook:
		return "webhook:" + leaf.Field
	case models.FilterOnIsOnline:
		return "is_online"
	case models.FilterOnIsOnlineInLast:
		return "is_online_in_last"
	case models.FilterOnPreviousStep:
		return "previous_step:" + leaf.StepID
	default:
		return string(leaf.On) + "." + leaf.Field
	}
}
