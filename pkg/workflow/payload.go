// Package workflow implements trigger acceptance and job chain expansion.
package workflow

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/dukex/herald/pkg/models"
)

// VariableIssue names one payload variable that failed verification.
type VariableIssue struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// PayloadVerificationError reports every missing or mistyped required
// variable. Surfaced synchronously to the trigger caller; no job chain is
// created.
type PayloadVerificationError struct {
	Issues []VariableIssue
}

func (e *PayloadVerificationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, fmt.Sprintf("%s (%s): %s", issue.Name, issue.Type, issue.Reason))
	}

	return "payload verification failed: " + strings.Join(parts, ", ")
}

// VerifyPayload checks the trigger payload against the workflow's declared
// variables using a generated JSON schema.
func VerifyPayload(variables []*models.Variable, payload map[string]any) error {
	if len(variables) == 0 {
		return nil
	}

	properties := make(map[string]any, len(variables))
	required := make([]string, 0, len(variables))
	types := make(map[string]string, len(variables))

	for _, variable := range variables {
		variableType := variable.Type
		if variableType == "" {
			variableType = "string"
		}

		properties[variable.Name] = map[string]any{"type": variableType}
		types[variable.Name] = variableType

		if variable.Required {
			required = append(required, variable.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	if payload == nil {
		payload = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(payload))
	if err != nil {
		return fmt.Errorf("failed to verify payload: %w", err)
	}

	if result.Valid() {
		return nil
	}

	verification := &PayloadVerificationError{}

	for _, desc := range result.Errors() {
		name := desc.Field()
		if property, ok := desc.Details()["property"].(string); ok && desc.Type() == "required" {
			name = property
		}

		verification.Issues = append(verification.Issues, VariableIssue{
			Name:   name,
			Type:   types[name],
			Reason: desc.Description(),
		})
	}

	return verification
}

// ApplyDefaults fills declared variables absent from the payload with their
// default values. The input payload is not mutated.
func ApplyDefaults(variables []*models.Variable, payload map[string]any) map[string]any {
	merged := make(map[string]any, len(payload)+len(variables))

	for k, v := range payload {
		merged[k] = v
	}

	for _, variable := range variables {
		if variable.DefaultValue == nil {
			continue
		}

		if _, exists := merged[variable.Name]; !exists {
			merged[variable.Name] = variable.DefaultValue
		}
	}

	return merged
}
