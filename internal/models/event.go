package models

import (
	"github.com/google/uuid"
)

// Well-known trigger event names. State transitions additionally emit
// EventStateTransitionPrefix + the transition name.
const (
	EventCreated               = "created"
	EventUpdated               = "updated"
	EventDeleted               = "deleted"
	EventStateChanged          = "state_changed"
	EventStateTransitionPrefix = "state_transition_"
	EventApprovalGranted       = "approval_granted"
	EventApprovalRejected      = "approval_rejected"
	EventApprovalTimeout       = "approval_timeout"
	EventWaitReleased          = "wait_released"
)

// EventContext is the evaluation context carried by one entity
// lifecycle event: the entity snapshot, its previous snapshot, the
// actor, and any transition metadata. It is what conditions are
// evaluated against and what executions persist as context_data.
type EventContext struct {
	EntityType     string     `json:"entity_type"`
	EntityID       string     `json:"entity_id"`
	EventName      string     `json:"event_name"`
	Snapshot       JSONB      `json:"snapshot,omitempty"`
	Previous       JSONB      `json:"previous,omitempty"`
	ActorID        *uuid.UUID `json:"actor_id,omitempty"`
	ActorName      string     `json:"actor_name,omitempty"`
	FromState      string     `json:"from_state,omitempty"`
	ToState        string     `json:"to_state,omitempty"`
	TransitionName string     `json:"transition_name,omitempty"`

	// Populated by the orchestrator before step evaluation; not part
	// of the wire payload.
	StepResults    JSONB `json:"-"`
	ExecutionCount int   `json:"-"`
	Variables      JSONB `json:"-"`
}

// ContextValues builds the flat document context conditions evaluate
// against: event metadata rather than entity fields.
func (ec *EventContext) ContextValues() map[string]interface{} {
	values := map[string]interface{}{
		"event_name":      ec.EventName,
		"entity_type":     ec.EntityType,
		"entity_id":       ec.EntityID,
		"actor_name":      ec.ActorName,
		"from_state":      ec.FromState,
		"to_state":        ec.ToState,
		"transition_name": ec.TransitionName,
		"execution_count": ec.ExecutionCount,
	}

	if ec.ActorID != nil {
		values["actor_id"] = ec.ActorID.String()
	}

	for k, v := range ec.StepResults {
		values["step_results."+k] = v
	}
	if len(ec.StepResults) > 0 {
		values["previous_step_result"] = lastStepResult(ec.StepResults)
	}

	return values
}

// lastStepResult picks the result recorded under the highest step
// order. Step results are keyed "step_<order>".
func lastStepResult(results JSONB) interface{} {
	var best string
	for k := range results {
		if best == "" || k > best {
			best = k
		}
	}
	if best == "" {
		return nil
	}
	return results[best]
}

// TemplateVariables merges global workflow variables, event metadata
// and the entity snapshot into one document for template rendering.
// Later sources win on key collision.
func (ec *EventContext) TemplateVariables(stepVars map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{})

	for k, v := range ec.Variables {
		merged[k] = v
	}
	for k, v := range ec.ContextValues() {
		merged[k] = v
	}
	merged["entity"] = map[string]interface{}(ec.Snapshot)
	for k, v := range stepVars {
		merged[k] = v
	}

	return merged
}

// ToDocument serializes the context for persistence as execution
// context_data.
func (ec *EventContext) ToDocument() JSONB {
	doc := JSONB{
		"entity_type":     ec.EntityType,
		"entity_id":       ec.EntityID,
		"event_name":      ec.EventName,
		"snapshot":        map[string]interface{}(ec.Snapshot),
		"previous":        map[string]interface{}(ec.Previous),
		"actor_name":      ec.ActorName,
		"from_state":      ec.FromState,
		"to_state":        ec.ToState,
		"transition_name": ec.TransitionName,
	}
	if ec.ActorID != nil {
		doc["actor_id"] = ec.ActorID.String()
	}
	return doc
}

// EventContextFromDocument rebuilds a context from persisted
// context_data. It tolerates missing keys; absent maps come back empty.
func EventContextFromDocument(doc JSONB) *EventContext {
	ec := &EventContext{
		EntityType:     stringValue(doc, "entity_type"),
		EntityID:       stringValue(doc, "entity_id"),
		EventName:      stringValue(doc, "event_name"),
		ActorName:      stringValue(doc, "actor_name"),
		FromState:      stringValue(doc, "from_state"),
		ToState:        stringValue(doc, "to_state"),
		TransitionName: stringValue(doc, "transition_name"),
		Snapshot:       mapValue(doc, "snapshot"),
		Previous:       mapValue(doc, "previous"),
	}

	if raw := stringValue(doc, "actor_id"); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			ec.ActorID = &id
		}
	}

	return ec
}

func stringValue(doc JSONB, key string) string {
	if v, ok := doc[key].(string); ok {
		return v
	}
	return ""
}

func mapValue(doc JSONB, key string) JSONB {
	if v, ok := doc[key].(map[string]interface{}); ok {
		return JSONB(v)
	}
	return JSONB{}
}
