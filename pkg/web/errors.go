package web

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/dukex/herald/pkg/subscribers"
	"github.com/dukex/herald/pkg/workflow"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleTriggerError maps trigger-service failures onto problem responses.
// An unknown trigger identifier is 422: the request was well-formed but names
// a workflow that does not exist in the environment.
func handleTriggerError(c fiber.Ctx, err error) error {
	var verification *workflow.PayloadVerificationError

	switch {
	case errors.Is(err, workflow.ErrWorkflowNotFound):
		problem := problems.NewStatusProblem(422).
			WithInstance(c.Path()).
			WithType("workflow_not_found").
			WithDetail("workflow not found for trigger identifier")

		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)

	case errors.As(err, &verification):
		issues := make([]string, 0, len(verification.Issues))
		for _, issue := range verification.Issues {
			issues = append(issues, fmt.Sprintf("%s (%s): %s", issue.Name, issue.Type, issue.Reason))
		}

		problem := problems.NewStatusProblem(400).
			WithInstance(c.Path()).
			WithType("payload_verification_failed").
			WithDetail(strings.Join(issues, "; "))

		return c.Status(fiber.StatusBadRequest).JSON(problem)

	case errors.Is(err, workflow.ErrNoRecipients),
		errors.Is(err, subscribers.ErrMissingSubscriberID):
		return badRequest(c, err.Error())

	default:
		return internalError(c, err)
	}
}
