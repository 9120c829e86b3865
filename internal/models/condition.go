package models

import (
	"database/sql/driver"
	"encoding/json"
)

// Condition operators. Comparison operators fail closed when the
// referenced field is absent; only OpNotExists matches an absent field.
const (
	OpEqual        = "="
	OpNotEqual     = "!="
	OpGreaterThan  = ">"
	OpLessThan     = "<"
	OpGreaterEqual = ">="
	OpLessEqual    = "<="
	OpIn           = "in"
	OpNotIn        = "not_in"
	OpContains     = "contains"
	OpStartsWith   = "starts_with"
	OpEndsWith     = "ends_with"
	OpChanged      = "changed"
	OpChangedTo    = "changed_to"
	OpChangedFrom  = "changed_from"
	OpExists       = "exists"
	OpNotExists    = "not_exists"
)

// FieldCondition is one {field, operator, value} predicate evaluated
// against an entity snapshot or the event context document.
type FieldCondition struct {
	Field    string      `json:"field"`
	Operator string      `json:"operator"`
	Value    interface{} `json:"value,omitempty"`
}

// StateConditions match the transition metadata on the firing event.
// Absent fields are wildcards.
type StateConditions struct {
	FromState      *string `json:"from_state,omitempty"`
	ToState        *string `json:"to_state,omitempty"`
	TransitionName *string `json:"transition_name,omitempty"`
}

// Conditions is the declarative condition tree gating workflow
// triggers, workflow steps, and state transitions. All present
// families are AND-ed; an empty tree matches everything.
type Conditions struct {
	TriggerEvents []string         `json:"trigger_events,omitempty"`
	State         *StateConditions `json:"state,omitempty"`
	Fields        []FieldCondition `json:"fields,omitempty"`
	Context       []FieldCondition `json:"context,omitempty"`
}

// IsEmpty reports whether the tree carries no predicates at all.
func (c *Conditions) IsEmpty() bool {
	if c == nil {
		return true
	}
	return len(c.TriggerEvents) == 0 && c.State == nil &&
		len(c.Fields) == 0 && len(c.Context) == 0
}

// JSONB scanning for Conditions
func (c *Conditions) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, c)
}

func (c Conditions) Value() (driver.Value, error) {
	return json.Marshal(c)
}
