// Package persistence provides standardized error types for persistence operations.
package persistence

import "errors"

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates no workflow matched the identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrJobNotFound indicates a job was not found by the given identifier.
	ErrJobNotFound = errors.New("job not found")

	// ErrMessageNotFound indicates a message was not found.
	ErrMessageNotFound = errors.New("message not found")

	// ErrSubscriberNotFound indicates no subscriber exists for the
	// (environment, subscriber id) pair.
	ErrSubscriberNotFound = errors.New("subscriber not found")

	// ErrIntegrationNotFound indicates no active integration matched.
	ErrIntegrationNotFound = errors.New("integration not found")
)

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsJobNotFound checks if an error indicates a job was not found.
func IsJobNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound)
}

// IsMessageNotFound checks if an error indicates a message was not found.
func IsMessageNotFound(err error) bool {
	return errors.Is(err, ErrMessageNotFound)
}

// IsSubscriberNotFound checks if an error indicates a subscriber was not found.
func IsSubscriberNotFound(err error) bool {
	return errors.Is(err, ErrSubscriberNotFound)
}

// IsIntegrationNotFound checks if an error indicates no integration matched.
func IsIntegrationNotFound(err error) bool {
	return errors.Is(err, ErrIntegrationNotFound)
}
