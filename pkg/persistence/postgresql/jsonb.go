package postgresql

import (
	"encoding/json"
	"fmt"
)

// marshalJSONB encodes a value for a JSONB column, mapping empty values to
// SQL NULL so the column stays queryable.
func marshalJSONB(value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSONB value: %w", err)
	}

	text := string(data)
	if text == "null" || text == "{}" || text == "[]" {
		return nil, nil
	}

	return data, nil
}

// unmarshalJSONB decodes a JSONB column into target, leaving target untouched
// for SQL NULL.
func unmarshalJSONB(data []byte, target any) error {
	if len(data) == 0 {
		return nil
	}

	err := json.Unmarshal(data, target)
	if err != nil {
		return fmt.Errorf("failed to unmarshal JSONB value: %w", err)
	}

	return nil
}

// nullableString maps an empty string to SQL NULL.
func nullableString(value string) any {
	if value == "" {
		return nil
	}

	return value
}
