package handlers

import (
	"github.com/docflowhq/docflow/internal/engine"
	"github.com/docflowhq/docflow/internal/services"
	"github.com/docflowhq/docflow/pkg/logger"
)

// Handlers aggregates all HTTP handlers
type Handlers struct {
	Health     *HealthHandler
	Workflow   *WorkflowHandler
	Event      *EventHandler
	Execution  *ExecutionHandler
	Approval   *ApprovalHandler
	Transition *TransitionHandler
}

// HealthCheckers holds all health check dependencies
type HealthCheckers struct {
	DB    HealthChecker
	Redis HealthChecker
}

// NewHandlers creates a new handlers instance
func NewHandlers(
	log *logger.Logger,
	workflowService *services.WorkflowService,
	stateService *services.StateService,
	approvalService *services.ApprovalService,
	executions engine.ExecutionRepository,
	orchestrator *engine.Orchestrator,
	stateMachine *engine.StateMachine,
	healthCheckers *HealthCheckers,
	version string,
) *Handlers {
	return &Handlers{
		Health:     NewHealthHandler(log, healthCheckers.DB, healthCheckers.Redis, version),
		Workflow:   NewWorkflowHandler(log, workflowService),
		Event:      NewEventHandler(log, orchestrator),
		Execution:  NewExecutionHandler(log, executions, orchestrator),
		Approval:   NewApprovalHandler(log, approvalService),
		Transition: NewTransitionHandler(log, stateService, stateMachine),
	}
}
