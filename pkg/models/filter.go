package models

// FilterNodeType discriminates the filter tree sum type.
type FilterNodeType string

const (
	FilterNodeGroup FilterNodeType = "GROUP"
	FilterNodeLeaf  FilterNodeType = "LEAF"
)

// GroupOperator combines the results of a group's children.
type GroupOperator string

const (
	GroupOperatorAnd GroupOperator = "AND"
	GroupOperatorOr  GroupOperator = "OR"
)

// FilterOn names the data source a leaf condition reads from.
type FilterOn string

const (
	FilterOnPayload        FilterOn = "payload"
	FilterOnSubscriber     FilterOn = "subscriber"
	FilterOnWebhook        FilterOn = "webhook"
	FilterOnIsOnline       FilterOn = "is_online"
	FilterOnIsOnlineInLast FilterOn = "is_online_in_last"
	FilterOnPreviousStep   FilterOn = "previous_step"
	FilterOnTenant         FilterOn = "tenant"
)

// FieldOperator compares a resolved value against the condition value.
type FieldOperator string

const (
	OperatorEqual        FieldOperator = "EQUAL"
	OperatorNotEqual     FieldOperator = "NOT_EQUAL"
	OperatorLarger       FieldOperator = "LARGER"
	OperatorSmaller      FieldOperator = "SMALLER"
	OperatorLargerEqual  FieldOperator = "LARGER_EQUAL"
	OperatorSmallerEqual FieldOperator = "SMALLER_EQUAL"
	OperatorIn           FieldOperator = "IN"
	OperatorNotIn        FieldOperator = "NOT_IN"
	OperatorIsDefined    FieldOperator = "IS_DEFINED"
)

// TimeOperator is the unit for is-online-in-last windows.
type TimeOperator string

const (
	TimeOperatorMinutes TimeOperator = "minutes"
	TimeOperatorHours   TimeOperator = "hours"
	TimeOperatorDays    TimeOperator = "days"
)

// PreviousStepKind selects which state of a previous step's message the
// condition checks.
type PreviousStepKind string

const (
	PreviousStepSeen   PreviousStepKind = "seen"
	PreviousStepUnseen PreviousStepKind = "unseen"
	PreviousStepRead   PreviousStepKind = "read"
	PreviousStepUnread PreviousStepKind = "unread"
)

// FilterNode is one node of a step's boolean condition tree: either a group
// (Operator, IsNegated, Children) or a leaf condition (On plus the operator
// fields). Exactly one top-level group gates a step; no filters means the
// step always passes.
type FilterNode struct {
	Type FilterNodeType `json:"type" validate:"required"`

	// Group fields.
	Operator  GroupOperator `json:"operator,omitempty"`
	IsNegated bool          `json:"is_negated,omitempty"`
	Children  []*FilterNode `json:"children,omitempty"`

	// Leaf fields.
	On            FilterOn         `json:"on,omitempty"`
	Field         string           `json:"field,omitempty"`
	FieldOperator FieldOperator    `json:"field_operator,omitempty"`
	Value         any              `json:"value,omitempty"`
	WebhookURL    string           `json:"webhook_url,omitempty"`
	StepID        string           `json:"step_id,omitempty"`
	StepKind      PreviousStepKind `json:"step_kind,omitempty"`
	TimeOperator  TimeOperator     `json:"time_operator,omitempty"`
}

// IsGroup reports whether the node is a group node.
func (n *FilterNode) IsGroup() bool {
	return n.Type == FilterNodeGroup
}

// Group builds a group node.
func Group(op GroupOperator, negated bool, children ...*FilterNode) *FilterNode {
	return &FilterNode{
		Type:      FilterNodeGroup,
		Operator:  op,
		IsNegated: negated,
		Children:  children,
	}
}
