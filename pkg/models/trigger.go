package models

import (
	"encoding/json"
	"fmt"
)

// TriggerStatus is the synchronous acknowledgement outcome of a trigger call.
type TriggerStatus string

const (
	TriggerStatusProcessed             TriggerStatus = "processed"
	TriggerStatusNoWorkflowSteps       TriggerStatus = "no_workflow_steps_defined"
	TriggerStatusNoWorkflowActiveSteps TriggerStatus = "no_workflow_active_steps_defined"
	TriggerStatusNotActive             TriggerStatus = "trigger_not_active"
)

// TriggerRequest is the inbound trigger event: a workflow identifier, the
// addressed recipients, and the payload rendered into templates.
type TriggerRequest struct {
	Name string `json:"name" validate:"required"`
	// To accepts a single subscriber id string, a subscriber object, or an
	// array mixing both forms.
	To            RecipientsValue   `json:"to"`
	Payload       map[string]any    `json:"payload,omitempty"`
	Overrides     map[string]any    `json:"overrides,omitempty"`
	TransactionID string            `json:"transaction_id,omitempty"`
	Tenant        map[string]any    `json:"tenant,omitempty"`
	Actor         *SubscriberDefine `json:"actor,omitempty"`
}

// TriggerResult is returned synchronously to the trigger caller.
type TriggerResult struct {
	Acknowledged  bool          `json:"acknowledged"`
	Status        TriggerStatus `json:"status"`
	TransactionID string        `json:"transaction_id,omitempty"`
}

// RecipientsValue normalizes the polymorphic "to" field. Wire forms:
// "subscriber-id", {"subscriber_id": ...}, or an array of either.
type RecipientsValue struct {
	Items []*SubscriberDefine
}

// UnmarshalJSON accepts string, object, and heterogeneous array forms.
func (r *RecipientsValue) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	items, err := parseRecipients(raw)
	if err != nil {
		return err
	}

	r.Items = items

	return nil
}

// MarshalJSON always emits the array-of-objects form.
func (r RecipientsValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Items)
}

func parseRecipients(raw any) ([]*SubscriberDefine, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return []*SubscriberDefine{{SubscriberID: v}}, nil
	case map[string]any:
		def, err := parseRecipientObject(v)
		if err != nil {
			return nil, err
		}

		return []*SubscriberDefine{def}, nil
	case []any:
		items := make([]*SubscriberDefine, 0, len(v))

		for _, entry := range v {
			parsed, err := parseRecipients(entry)
			if err != nil {
				return nil, err
			}

			items = append(items, parsed...)
		}

		return items, nil
	default:
		return nil, fmt.Errorf("unsupported recipient form %T", raw)
	}
}

func parseRecipientObject(obj map[string]any) (*SubscriberDefine, error) {
	encoded, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}

	def := &SubscriberDefine{}
	if err := json.Unmarshal(encoded, def); err != nil {
		return nil, err
	}

	return def, nil
}
