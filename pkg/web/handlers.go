package web

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/dukex/herald/pkg/models"
	"github.com/dukex/herald/pkg/persistence"
	"github.com/dukex/herald/pkg/runner"
	"github.com/dukex/herald/pkg/subscribers"
	"github.com/dukex/herald/pkg/workflow"
)

// Scoping headers. Every request acts inside one environment; the
// organization id is carried onto created records.
const (
	HeaderEnvironmentID  = "X-Environment-Id"
	HeaderOrganizationID = "X-Organization-Id"
)

type APIHandlers struct {
	trigger   *workflow.TriggerService
	canceler  *runner.Canceler
	resolver  *subscribers.Resolver
	store     persistence.Persistence
	validator *validator.Validate
}

func NewAPIHandlers(
	trigger *workflow.TriggerService,
	canceler *runner.Canceler,
	resolver *subscribers.Resolver,
	store persistence.Persistence,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		trigger:   trigger,
		canceler:  canceler,
		resolver:  resolver,
		store:     store,
		validator: validator,
	}
}

// Register mounts every route onto the app.
func (h *APIHandlers) Register(app *fiber.App) {
	app.Get("/health", h.HealthCheck)

	v1 := app.Group("/v1")

	v1.Post("/events/trigger", h.TriggerEvent)
	v1.Delete("/events/transactions/:transactionId", h.CancelTransaction)
	v1.Get("/notifications/:transactionId", h.GetActivityFeed)

	v1.Post("/workflows", h.CreateWorkflow)
	v1.Get("/workflows", h.ListWorkflows)
	v1.Get("/workflows/:id", h.GetWorkflow)
	v1.Put("/workflows/:id", h.UpdateWorkflow)
	v1.Delete("/workflows/:id", h.DeleteWorkflow)

	v1.Put("/subscribers", h.UpsertSubscriber)
	v1.Get("/subscribers/:subscriberId", h.GetSubscriber)
	v1.Post("/subscribers/:subscriberId/online", h.UpdateOnlineStatus)
	v1.Get("/subscribers/:subscriberId/messages", h.ListSubscriberMessages)
	v1.Patch("/subscribers/:subscriberId/messages/seen", h.MarkAllMessagesSeen)
	v1.Patch("/subscribers/:subscriberId/messages/read", h.MarkAllMessagesRead)

	v1.Patch("/messages/:id/seen", h.MarkMessageSeen)
	v1.Patch("/messages/:id/read", h.MarkMessageRead)

	v1.Post("/integrations", h.CreateIntegration)
	v1.Get("/integrations", h.ListIntegrations)
	v1.Patch("/integrations/:id", h.UpdateIntegration)
}

func environmentID(c fiber.Ctx) string {
	return c.Get(HeaderEnvironmentID)
}

func organizationID(c fiber.Ctx) string {
	return c.Get(HeaderOrganizationID)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	err := h.store.HealthCheck(c.Context())

	status := "healthy"
	httpStatus := http.StatusOK

	if err != nil {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"timestamp": time.Now().UTC(),
	})
}

// TriggerEvent accepts a trigger call and acknowledges synchronously; all
// delivery work happens in the workers.
func (h *APIHandlers) TriggerEvent(c fiber.Ctx) error {
	env := environmentID(c)
	if env == "" {
		return badRequest(c, "X-Environment-Id header is required")
	}

	var req models.TriggerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	result, err := h.trigger.Trigger(c.Context(), env, organizationID(c), &req)
	if err != nil {
		return handleTriggerError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *APIHandlers) CancelTransaction(c fiber.Ctx) error {
	env := environmentID(c)
	if env == "" {
		return badRequest(c, "X-Environment-Id header is required")
	}

	transactionID := c.Params("transactionId")
	if transactionID == "" {
		return badRequest(c, "Transaction ID is required")
	}

	canceled, err := h.canceler.CancelTransaction(c.Context(), env, transactionID)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(CancelResult{TransactionID: transactionID, CanceledJobs: canceled})
}

// GetActivityFeed returns the jobs and audit trail of one transaction.
func (h *APIHandlers) GetActivityFeed(c fiber.Ctx) error {
	env := environmentID(c)
	if env == "" {
		return badRequest(c, "X-Environment-Id header is required")
	}

	transactionID := c.Params("transactionId")

	jobs, err := h.store.Jobs().FindByTransaction(c.Context(), transactionID)
	if err != nil {
		return internalError(c, err)
	}

	scoped := make([]*models.Job, 0, len(jobs))
	for _, job := range jobs {
		if job.EnvironmentID == env {
			scoped = append(scoped, job)
		}
	}

	if len(scoped) == 0 {
		return notFound(c, "No jobs found for transaction")
	}

	details, err := h.store.ExecutionDetails().FindByTransaction(c.Context(), transactionID)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(ActivityFeed{
		TransactionID: transactionID,
		Jobs:          scoped,
		Details:       details,
	})
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	env := environmentID(c)
	if env == "" {
		return badRequest(c, "X-Environment-Id header is required")
	}

	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	wf := &models.Workflow{
		EnvironmentID:     env,
		OrganizationID:    organizationID(c),
		Name:              req.Name,
		TriggerIdentifier: req.TriggerIdentifier,
		Active:            req.Active,
		Steps:             req.Steps,
		Variables:         req.Variables,
	}

	if err := h.store.Workflows().Create(c.Context(), wf); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(wf)
}

func (h *APIHandlers) ListWorkflows(c fiber.Ctx) error {
	env := environmentID(c)
	if env == "" {
		return badRequest(c, "X-Environment-Id header is required")
	}

	workflows, err := h.store.Workflows().List(c.Context(), env)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": workflows})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	env := environmentID(c)
	if env == "" {
		return badRequest(c, "X-Environment-Id header is required")
	}

	wf, err := h.store.Workflows().GetByID(c.Context(), env, c.Params("id"))
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return notFound(c, "Workflow not found")
		}

		return internalError(c, err)
	}

	return c.JSON(wf)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	env := environmentID(c)
	if env == "" {
		return badRequest(c, "X-Environment-Id header is required")
	}

	var req UpdateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	existing, err := h.store.Workflows().GetByID(c.Context(), env, c.Params("id"))
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return notFound(c, "Workflow not found")
		}

		return internalError(c, err)
	}

	if req.Name != nil {
		existing.Name = *req.Name
	}

	if req.Active != nil {
		existing.Active = *req.Active
	}

	if req.Steps != nil {
		existing.Steps = req.Steps
	}

	if req.Variables != nil {
		existing.Variables = req.Variables
	}

	if err := h.store.Workflows().Update(c.Context(), existing); err != nil {
		return internalError(c, err)
	}

	return c.JSON(existing)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	env := environmentID(c)
	if env == "" {
		return badRequest(c, "X-Environment-Id header is required")
	}

	err := h.store.Workflows().Delete(c.Context(), env, c.Params("id"))
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return notFound(c, "Workflow not found")
		}

		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// UpsertSubscriber creates or merges a subscriber profile with the same
// non-destructive rule trigger-time recipients use.
func (h *APIHandlers) UpsertSubscriber(c fiber.Ctx) error {
	env := environmentID(c)
	if env == "" {
		return badRequest(c, "X-Environment-Id header is required")
	}

	var req UpsertSubscriberRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	resolved, err := h.resolver.Resolve(c.Context(), env, []*models.SubscriberDefine{req.Define()})
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(resolved[0])
}

func (h *APIHandlers) GetSubscriber(c fiber.Ctx) error {
	env := environmentID(c)
	if env == "" {
		return badRequest(c, "X-Environment-Id header is required")
	}

	subscriber, err := h.store.Subscribers().GetBySubscriberID(c.Context(), env, c.Params("subscriberId"))
	if err != nil {
		if persistence.IsSubscriberNotFound(err) {
			return notFound(c, "Subscriber not found")
		}

		return internalError(c, err)
	}

	return c.JSON(subscriber)
}

// UpdateOnlineStatus records a presence heartbeat. Going offline stamps
// LastOnlineAt so is_online_in_last windows keep working.
func (h *APIHandlers) UpdateOnlineStatus(c fiber.Ctx) error {
	env := environmentID(c)
	if env == "" {
		return badRequest(c, "X-Environment-Id header is required")
	}

	var req OnlineStatusRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	subscriber, err := h.store.Subscribers().GetBySubscriberID(c.Context(), env, c.Params("subscriberId"))
	if err != nil {
		if persistence.IsSubscriberNotFound(err) {
			return notFound(c, "Subscriber not found")
		}

		return internalError(c, err)
	}

	now := time.Now().UTC()
	subscriber.IsOnline = &req.IsOnline
	subscriber.LastOnlineAt = &now

	if err := h.store.Subscribers().Update(c.Context(), subscriber); err != nil {
		return internalError(c, err)
	}

	return c.JSON(subscriber)
}

func (h *APIHandlers) ListSubscriberMessages(c fiber.Ctx) error {
	env := environmentID(c)
	if env == "" {
		return badRequest(c, "X-Environment-Id header is required")
	}

	messages, err := h.store.Messages().FindBySubscriber(c.Context(), env, c.Params("subscriberId"))
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"messages": messages})
}

func (h *APIHandlers) MarkMessageSeen(c fiber.Ctx) error {
	return h.markMessage(c, func(message *models.Message, now time.Time) {
		message.Seen = true
		message.LastSeenDate = &now
	})
}

func (h *APIHandlers) MarkMessageRead(c fiber.Ctx) error {
	// Read implies seen.
	return h.markMessage(c, func(message *models.Message, now time.Time) {
		message.Seen = true
		message.Read = true
		message.LastSeenDate = &now
	})
}

func (h *APIHandlers) MarkAllMessagesSeen(c fiber.Ctx) error {
	return h.markAllMessages(c, func(message *models.Message, now time.Time) {
		message.Seen = true
		message.LastSeenDate = &now
	})
}

func (h *APIHandlers) MarkAllMessagesRead(c fiber.Ctx) error {
	// Read implies seen.
	return h.markAllMessages(c, func(message *models.Message, now time.Time) {
		message.Seen = true
		message.Read = true
		message.LastSeenDate = &now
	})
}

func (h *APIHandlers) markAllMessages(c fiber.Ctx, apply func(*models.Message, time.Time)) error {
	env := environmentID(c)
	if env == "" {
		return badRequest(c, "X-Environment-Id header is required")
	}

	messages, err := h.store.Messages().FindBySubscriber(c.Context(), env, c.Params("subscriberId"))
	if err != nil {
		return internalError(c, err)
	}

	now := time.Now().UTC()
	updated := 0

	for _, message := range messages {
		apply(message, now)

		if err := h.store.Messages().Update(c.Context(), message); err != nil {
			return internalError(c, err)
		}

		updated++
	}

	return c.JSON(fiber.Map{"updated": updated})
}

func (h *APIHandlers) markMessage(c fiber.Ctx, apply func(*models.Message, time.Time)) error {
	env := environmentID(c)
	if env == "" {
		return badRequest(c, "X-Environment-Id header is required")
	}

	message, err := h.store.Messages().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		if persistence.IsMessageNotFound(err) {
			return notFound(c, "Message not found")
		}

		return internalError(c, err)
	}

	if message.EnvironmentID != env {
		return notFound(c, "Message not found")
	}

	apply(message, time.Now().UTC())

	if err := h.store.Messages().Update(c.Context(), message); err != nil {
		return internalError(c, err)
	}

	return c.JSON(message)
}

func (h *APIHandlers) CreateIntegration(c fiber.Ctx) error {
	env := environmentID(c)
	if env == "" {
		return badRequest(c, "X-Environment-Id header is required")
	}

	var req CreateIntegrationRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	integration := &models.Integration{
		EnvironmentID:  env,
		OrganizationID: organizationID(c),
		Channel:        req.Channel,
		ProviderID:     req.ProviderID,
		Active:         req.Active,
		Primary:        req.Primary,
		Priority:       req.Priority,
		Credentials:    req.Credentials,
	}

	if err := h.store.Integrations().Create(c.Context(), integration); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(integration)
}

func (h *APIHandlers) ListIntegrations(c fiber.Ctx) error {
	env := environmentID(c)
	if env == "" {
		return badRequest(c, "X-Environment-Id header is required")
	}

	integrations, err := h.store.Integrations().List(c.Context(), env)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"integrations": integrations})
}

func (h *APIHandlers) UpdateIntegration(c fiber.Ctx) error {
	env := environmentID(c)
	if env == "" {
		return badRequest(c, "X-Environment-Id header is required")
	}

	var req UpdateIntegrationRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	integrations, err := h.store.Integrations().List(c.Context(), env)
	if err != nil {
		return internalError(c, err)
	}

	var existing *models.Integration

	for _, integration := range integrations {
		if integration.ID == c.Params("id") {
			existing = integration

			break
		}
	}

	if existing == nil {
		return notFound(c, "Integration not found")
	}

	if req.Active != nil {
		existing.Active = *req.Active
	}

	if req.Primary != nil {
		existing.Primary = *req.Primary
	}

	if req.Priority != nil {
		existing.Priority = *req.Priority
	}

	if req.Credentials != nil {
		existing.Credentials = req.Credentials
	}

	if err := h.store.Integrations().Update(c.Context(), existing); err != nil {
		return internalError(c, err)
	}

	return c.JSON(existing)
}
