package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// StepType identifies the tagged-union variant carried by a step's config.
type StepType string

const (
	StepTypeNotification StepType = "notification"
	StepTypeApproval     StepType = "approval"
	StepTypeAction       StepType = "action"
	StepTypeCondition    StepType = "condition"
	StepTypeWait         StepType = "wait"
)

// AdvancedWorkflow is a named, versioned rule definition bound to one
// entity type. Multiple active workflows per target model are allowed
// and all fire in parallel for a matching event; IsMasterWorkflow is
// advisory, not unique-enforced.
type AdvancedWorkflow struct {
	ID                uuid.UUID   `json:"id" db:"id"`
	Name              string      `json:"name" db:"name"`
	Description       *string     `json:"description,omitempty" db:"description"`
	Version           int         `json:"version" db:"version"`
	TargetModel       string      `json:"target_model" db:"target_model"`
	TriggerConditions *Conditions `json:"trigger_conditions,omitempty" db:"trigger_conditions"`
	IsActive          bool        `json:"is_active" db:"is_active"`
	IsMasterWorkflow  bool        `json:"is_master_workflow" db:"is_master_workflow"`
	GlobalVariables   JSONB       `json:"global_variables,omitempty" db:"global_variables"`
	CreatedBy         *uuid.UUID  `json:"created_by,omitempty" db:"created_by"`
	CreatedAt         time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at" db:"updated_at"`
}

// WorkflowStepDefinition is one ordered step within a workflow.
// Definitions are immutable once an execution references them; edits
// affect only future executions.
type WorkflowStepDefinition struct {
	ID         uuid.UUID   `json:"id" db:"id"`
	WorkflowID uuid.UUID   `json:"workflow_id" db:"workflow_id"`
	StepOrder  int         `json:"step_order" db:"step_order"`
	Name       string      `json:"name" db:"name"`
	StepType   StepType    `json:"step_type" db:"step_type"`
	Config     StepConfig  `json:"step_config" db:"step_config"`
	Conditions *Conditions `json:"conditions,omitempty" db:"conditions"`
	IsRequired bool        `json:"is_required" db:"is_required"`
	IsActive   bool        `json:"is_active" db:"is_active"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at" db:"updated_at"`
}

// StepConfigSchemaVersion is the schema version written for new
// definitions. Older versions are migrated on read.
const StepConfigSchemaVersion = 1

// StepConfig is the versioned, discriminated step configuration.
// Exactly one variant matching the step's type must be set; this is
// checked at definition-save time, not at execution time.
type StepConfig struct {
	SchemaVersion int                 `json:"schema_version"`
	Notification  *NotificationConfig `json:"notification,omitempty"`
	Approval      *ApprovalConfig     `json:"approval,omitempty"`
	Action        *ActionConfig       `json:"action,omitempty"`
	Condition     *ConditionConfig    `json:"condition,omitempty"`
	Wait          *WaitConfig         `json:"wait,omitempty"`
}

// RecipientType selects a recipient resolution strategy.
type RecipientType string

const (
	RecipientCreator  RecipientType = "creator"
	RecipientUsers    RecipientType = "users"
	RecipientRoles    RecipientType = "roles"
	RecipientRelation RecipientType = "relation"
)

// RecipientConfig declares who a notification or approval targets.
type RecipientConfig struct {
	Type     RecipientType `json:"type"`
	UserIDs  []uuid.UUID   `json:"user_ids,omitempty"`
	Roles    []string      `json:"roles,omitempty"`
	Relation string        `json:"relation,omitempty"`
}

// NotificationConfig parameterizes a notification step.
type NotificationConfig struct {
	TemplateKey string                 `json:"template_key"`
	Recipients  RecipientConfig        `json:"recipients"`
	Variables   map[string]interface{} `json:"variables,omitempty"`
}

// Approval quorum types.
const (
	ApprovalTypeSingle = "single" // any one decision resolves the step
	ApprovalTypeAll    = "all"    // every approver must approve
)

// Timeout policies for approval steps.
const (
	TimeoutPolicyFail    = "fail"
	TimeoutPolicyApprove = "approve"
)

// ApprovalConfig parameterizes an approval step.
type ApprovalConfig struct {
	ApprovalType string          `json:"approval_type"`
	Approvers    RecipientConfig `json:"approvers"`
	TimeoutHours int             `json:"timeout_hours,omitempty"`
	OnTimeout    string          `json:"on_timeout,omitempty"`
	Message      string          `json:"message,omitempty"`
}

// Action kinds.
const (
	ActionUpdateFields = "update_fields"
	ActionCreateRecord = "create_record"
	ActionInvokeMethod = "invoke_method"
)

// ActionConfig declares a side effect against the target entity.
type ActionConfig struct {
	Type     string                 `json:"type"`
	Fields   map[string]interface{} `json:"fields,omitempty"`
	Relation string                 `json:"relation,omitempty"`
	Record   map[string]interface{} `json:"record,omitempty"`
	Method   string                 `json:"method,omitempty"`
	Args     map[string]interface{} `json:"args,omitempty"`
}

// ConditionConfig is the gate evaluated by a condition step.
type ConditionConfig struct {
	Gate Conditions `json:"gate"`
}

// Wait modes.
const (
	WaitModeDelay     = "delay"
	WaitModeCondition = "condition"
	WaitModeManual    = "manual"
)

// WaitConfig parameterizes a wait step. Waits are never busy-polled;
// they clear on re-entry via events or the timeout sweep.
type WaitConfig struct {
	Mode     string      `json:"mode"`
	Duration string      `json:"duration,omitempty"` // Go duration string, e.g. "24h"
	Until    *Conditions `json:"until,omitempty"`
}

// JSONB scanning for StepConfig
func (s *StepConfig) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	if err := json.Unmarshal(bytes, s); err != nil {
		return err
	}

	s.migrate()
	return nil
}

func (s StepConfig) Value() (driver.Value, error) {
	if s.SchemaVersion == 0 {
		s.SchemaVersion = StepConfigSchemaVersion
	}
	return json.Marshal(s)
}

// migrate upgrades configs written under older schema versions. Version
// 0 documents predate the schema_version field and are otherwise shaped
// like version 1.
func (s *StepConfig) migrate() {
	if s.SchemaVersion == 0 {
		s.SchemaVersion = StepConfigSchemaVersion
	}
}

// CreateWorkflowRequest is the request to create a workflow with its steps.
type CreateWorkflowRequest struct {
	Name              string              `json:"name" validate:"required"`
	Description       *string             `json:"description,omitempty"`
	TargetModel       string              `json:"target_model" validate:"required"`
	TriggerConditions *Conditions         `json:"trigger_conditions,omitempty"`
	IsMasterWorkflow  bool                `json:"is_master_workflow"`
	GlobalVariables   JSONB               `json:"global_variables,omitempty"`
	Steps             []CreateStepRequest `json:"steps" validate:"required,min=1,dive"`
}

// CreateStepRequest is one step definition within a create request.
type CreateStepRequest struct {
	StepOrder  int         `json:"step_order" validate:"min=1"`
	Name       string      `json:"name" validate:"required"`
	StepType   StepType    `json:"step_type" validate:"required"`
	Config     StepConfig  `json:"step_config"`
	Conditions *Conditions `json:"conditions,omitempty"`
	IsRequired bool        `json:"is_required"`
}
