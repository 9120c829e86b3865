package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ExecutionStatus represents the status of a workflow execution.
// Transitions go pending -> in_progress -> {completed, failed,
// cancelled} and never backward; the terminal statuses are final.
type ExecutionStatus string

const (
	ExecutionStatusPending    ExecutionStatus = "pending"
	ExecutionStatusInProgress ExecutionStatus = "in_progress"
	ExecutionStatusCompleted  ExecutionStatus = "completed"
	ExecutionStatusFailed     ExecutionStatus = "failed"
	ExecutionStatusCancelled  ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the status is final.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// Valid reports whether the value is a known execution status.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionStatusPending, ExecutionStatusInProgress, ExecutionStatusCompleted,
		ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// WorkflowExecution is one run of a workflow against one target entity
// instance. It is exclusively owned and mutated by the orchestrator;
// other components only read it and issue cancel/restart commands.
type WorkflowExecution struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	WorkflowID       uuid.UUID       `json:"workflow_id" db:"workflow_id"`
	TargetModel      string          `json:"target_model" db:"target_model"`
	TargetID         string          `json:"target_id" db:"target_id"`
	TriggerEvent     string          `json:"trigger_event" db:"trigger_event"`
	Status           ExecutionStatus `json:"status" db:"status"`
	CurrentStepID    *uuid.UUID      `json:"current_step_id,omitempty" db:"current_step_id"`
	CurrentStepOrder int             `json:"current_step_order" db:"current_step_order"`
	ContextData      JSONB           `json:"context_data" db:"context_data"`
	StepResults      JSONB           `json:"step_results" db:"step_results"`
	ExecutionCount   int             `json:"execution_count" db:"execution_count"`
	InitiatedBy      *uuid.UUID      `json:"initiated_by,omitempty" db:"initiated_by"`
	CancelReason     *string         `json:"cancel_reason,omitempty" db:"cancel_reason"`
	CancelledBy      *uuid.UUID      `json:"cancelled_by,omitempty" db:"cancelled_by"`
	ErrorMessage     *string         `json:"error_message,omitempty" db:"error_message"`
	RestartedFrom    *uuid.UUID      `json:"restarted_from,omitempty" db:"restarted_from"`
	StartedAt        *time.Time      `json:"started_at,omitempty" db:"started_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// StepStatus represents the status of a single step execution.
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
	StepStatusSkipped    StepStatus = "skipped"
	StepStatusCancelled  StepStatus = "cancelled"
)

// IsTerminal reports whether the step outcome is final.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusCompleted, StepStatusFailed, StepStatusSkipped, StepStatusCancelled:
		return true
	}
	return false
}

// StepExecution is the per-step record under an execution. It is
// created when the orchestrator begins a step and becomes immutable
// once a terminal outcome is recorded.
type StepExecution struct {
	ID                uuid.UUID      `json:"id" db:"id"`
	ExecutionID       uuid.UUID      `json:"execution_id" db:"execution_id"`
	StepID            uuid.UUID      `json:"step_id" db:"step_id"`
	StepOrder         int            `json:"step_order" db:"step_order"`
	StepType          StepType       `json:"step_type" db:"step_type"`
	Status            StepStatus     `json:"status" db:"status"`
	InputData         JSONB          `json:"input_data,omitempty" db:"input_data"`
	OutputData        JSONB          `json:"output_data,omitempty" db:"output_data"`
	NotificationsSent JSONBList      `json:"notifications_sent,omitempty" db:"notifications_sent"`
	AssignedTo        pq.StringArray `json:"assigned_to,omitempty" db:"assigned_to"`
	CompletedBy       *string        `json:"completed_by,omitempty" db:"completed_by"`
	DueAt             *time.Time     `json:"due_at,omitempty" db:"due_at"`
	StartedAt         time.Time      `json:"started_at" db:"started_at"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
}

// ApprovalStatus represents the status of one approver's pending decision.
type ApprovalStatus string

const (
	ApprovalStatusPending    ApprovalStatus = "pending"
	ApprovalStatusApproved   ApprovalStatus = "approved"
	ApprovalStatusRejected   ApprovalStatus = "rejected"
	ApprovalStatusExpired    ApprovalStatus = "expired"
	ApprovalStatusSuperseded ApprovalStatus = "superseded"
)

// ApprovalDecision is one approver's slot on an approval step. Single
// quorum creates one slot per approver and the first decision resolves
// the step; the remaining slots are marked superseded.
type ApprovalDecision struct {
	ID              uuid.UUID      `json:"id" db:"id"`
	ExecutionID     uuid.UUID      `json:"execution_id" db:"execution_id"`
	StepExecutionID uuid.UUID      `json:"step_execution_id" db:"step_execution_id"`
	ApproverID      uuid.UUID      `json:"approver_id" db:"approver_id"`
	Status          ApprovalStatus `json:"status" db:"status"`
	Reason          *string        `json:"reason,omitempty" db:"reason"`
	RequestedAt     time.Time      `json:"requested_at" db:"requested_at"`
	DecidedAt       *time.Time     `json:"decided_at,omitempty" db:"decided_at"`
	ExpiresAt       *time.Time     `json:"expires_at,omitempty" db:"expires_at"`
}

// ExecutionProgress is the read-only progress view exposed to the API.
type ExecutionProgress struct {
	ID               uuid.UUID       `json:"id"`
	WorkflowID       uuid.UUID       `json:"workflow_id"`
	Status           ExecutionStatus `json:"status"`
	CurrentStepOrder int             `json:"current_step_order"`
	TotalSteps       int             `json:"total_steps"`
	StepResults      JSONB           `json:"step_results"`
	Steps            []StepExecution `json:"steps,omitempty"`
}
