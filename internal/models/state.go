package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ApprovalState is one named lifecycle state for one entity type.
// States are looked up uniquely by (model_type, name); for a given
// model_type at most one state has IsInitial set.
type ApprovalState struct {
	ID               uuid.UUID `json:"id" db:"id"`
	ModelType        string    `json:"model_type" db:"model_type"`
	Name             string    `json:"name" db:"name"`
	Label            string    `json:"label" db:"label"`
	IsInitial        bool      `json:"is_initial" db:"is_initial"`
	IsFinal          bool      `json:"is_final" db:"is_final"`
	RequiresApproval bool      `json:"requires_approval" db:"requires_approval"`
	SortOrder        int       `json:"sort_order" db:"sort_order"`
	IsActive         bool      `json:"is_active" db:"is_active"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// StateTransition is a directed, guarded edge between two states of the
// same entity type. Lookup is (model_type, from_state, name).
type StateTransition struct {
	ID                   uuid.UUID      `json:"id" db:"id"`
	ModelType            string         `json:"model_type" db:"model_type"`
	FromState            string         `json:"from_state" db:"from_state"`
	ToState              string         `json:"to_state" db:"to_state"`
	Name                 string         `json:"name" db:"name"`
	Label                string         `json:"label" db:"label"`
	RequiresPermission   bool           `json:"requires_permission" db:"requires_permission"`
	PermissionName       *string        `json:"permission_name,omitempty" db:"permission_name"`
	RequiresRole         bool           `json:"requires_role" db:"requires_role"`
	RoleNames            pq.StringArray `json:"role_names,omitempty" db:"role_names"`
	RequiresApproval     bool           `json:"requires_approval" db:"requires_approval"`
	ConditionRules       *Conditions    `json:"condition_rules,omitempty" db:"condition_rules"`
	NotificationTemplate *string        `json:"notification_template,omitempty" db:"notification_template"`
	SortOrder            int            `json:"sort_order" db:"sort_order"`
	IsActive             bool           `json:"is_active" db:"is_active"`
	CreatedAt            time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at" db:"updated_at"`
}

// StateHistoryEntry records one applied transition in an entity's
// approval history. The write is atomic with the state change.
type StateHistoryEntry struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	ModelType      string     `json:"model_type" db:"model_type"`
	EntityID       string     `json:"entity_id" db:"entity_id"`
	FromState      string     `json:"from_state" db:"from_state"`
	ToState        string     `json:"to_state" db:"to_state"`
	TransitionName string     `json:"transition_name" db:"transition_name"`
	ActorID        *uuid.UUID `json:"actor_id,omitempty" db:"actor_id"`
	Reason         *string    `json:"reason,omitempty" db:"reason"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// EntitySnapshot is the engine's read-only projection of a domain
// entity: its current state plus a flat attribute document. Projections
// are maintained from lifecycle events; the engine never reaches into
// host models directly.
type EntitySnapshot struct {
	ModelType  string    `json:"model_type" db:"model_type"`
	EntityID   string    `json:"entity_id" db:"entity_id"`
	State      string    `json:"state" db:"state"`
	Attributes JSONB     `json:"attributes" db:"attributes"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// AvailableTransition pairs a transition with its destination state for
// the "what can this actor do next" query.
type AvailableTransition struct {
	Transition StateTransition `json:"transition"`
	ToState    ApprovalState   `json:"to_state"`
}
