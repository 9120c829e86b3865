package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docflowhq/docflow/internal/models"
	"github.com/docflowhq/docflow/pkg/logger"
	"github.com/google/uuid"
)

// ExecutionRepository defines the interface for execution persistence.
// FindOrCreateExecution must guarantee exactly one live execution per
// (workflow, target) even under concurrent triggers.
type ExecutionRepository interface {
	FindOrCreateExecution(ctx context.Context, execution *models.WorkflowExecution) (*models.WorkflowExecution, bool, error)
	GetExecutionByID(ctx context.Context, id uuid.UUID) (*models.WorkflowExecution, error)
	UpdateExecution(ctx context.Context, execution *models.WorkflowExecution) error
	ListExecutions(ctx context.Context, workflowID *uuid.UUID, status *models.ExecutionStatus, limit, offset int) ([]models.WorkflowExecution, int64, error)
	CountExecutions(ctx context.Context, workflowID uuid.UUID, targetModel, targetID string) (int, error)
	CreateStepExecution(ctx context.Context, step *models.StepExecution) error
	UpdateStepExecution(ctx context.Context, step *models.StepExecution) error
	GetStepExecutionByStep(ctx context.Context, executionID, stepID uuid.UUID) (*models.StepExecution, error)
	ListStepExecutions(ctx context.Context, executionID uuid.UUID) ([]models.StepExecution, error)
	ListDueWaitSteps(ctx context.Context, before time.Time, limit int) ([]models.StepExecution, error)
}

// ApprovalStore persists per-approver decision slots.
type ApprovalStore interface {
	CreateDecisions(ctx context.Context, decisions []models.ApprovalDecision) error
	ListDecisionsByStep(ctx context.Context, stepExecutionID uuid.UUID) ([]models.ApprovalDecision, error)
	UpdateDecision(ctx context.Context, decision *models.ApprovalDecision) error
	ListOverdueDecisions(ctx context.Context, before time.Time, limit int) ([]models.ApprovalDecision, error)
}

// NotificationAdapter renders and dispatches templated messages. Send
// failures are delivery problems and non-fatal; a hard configuration
// problem is reported as (or wrapping) ErrNotificationConfig.
type NotificationAdapter interface {
	Render(templateKey string, variables map[string]interface{}) (*models.RenderedMessage, error)
	Send(ctx context.Context, recipients []models.Recipient, message *models.RenderedMessage) error
}

// RecipientResolver turns a declarative recipient config into concrete
// recipients, using the entity's read-only projection for dynamic
// relations.
type RecipientResolver interface {
	Resolve(ctx context.Context, cfg models.RecipientConfig, ec *models.EventContext) ([]models.Recipient, error)
}

// ActionRunner executes declared side effects against the target
// entity. The host application provides the implementation.
type ActionRunner interface {
	UpdateFields(ctx context.Context, modelType, entityID string, fields map[string]interface{}) error
	CreateRecord(ctx context.Context, modelType, entityID, relation string, record map[string]interface{}) error
	InvokeMethod(ctx context.Context, modelType, entityID, method string, args map[string]interface{}) (interface{}, error)
}

// StepOutcome is the result of executing one workflow step.
type StepOutcome struct {
	Status        models.StepStatus
	Output        models.JSONB
	Notifications models.JSONBList
	AssignedTo    []string
	CompletedBy   *string
	DueAt         *time.Time
}

// StepEngine executes individual workflow steps. It owns the slow,
// side-effecting part of step processing and must be called without
// the execution lock held.
type StepEngine struct {
	evaluator  *Evaluator
	repo       ExecutionRepository
	approvals  ApprovalStore
	notifier   NotificationAdapter
	recipients RecipientResolver
	actions    ActionRunner
	logger     *logger.Logger
}

// NewStepEngine creates a new step engine.
func NewStepEngine(
	repo ExecutionRepository,
	approvals ApprovalStore,
	notifier NotificationAdapter,
	recipients RecipientResolver,
	actions ActionRunner,
	log *logger.Logger,
) *StepEngine {
	return &StepEngine{
		evaluator:  NewEvaluator(),
		repo:       repo,
		approvals:  approvals,
		notifier:   notifier,
		recipients: recipients,
		actions:    actions,
		logger:     log,
	}
}

// Execute runs one step and returns its outcome. Re-invoking a step
// already in a terminal outcome is a no-op returning the stored
// outcome; no side effect runs twice for the same (execution, step).
func (se *StepEngine) Execute(
	ctx context.Context,
	def *models.WorkflowStepDefinition,
	stepExec *models.StepExecution,
	exec *models.WorkflowExecution,
	ec *models.EventContext,
) (*StepOutcome, error) {
	if stepExec.Status.IsTerminal() {
		return outcomeFromRecord(stepExec), nil
	}

	switch def.StepType {
	case models.StepTypeNotification:
		return se.executeNotification(ctx, def, ec)

	case models.StepTypeApproval:
		return se.executeApproval(ctx, def, stepExec, exec, ec)

	case models.StepTypeAction:
		return se.executeAction(ctx, def, exec, ec)

	case models.StepTypeCondition:
		return se.executeCondition(def, ec)

	case models.StepTypeWait:
		return se.executeWait(def, stepExec, ec)

	default:
		return failedOutcome(fmt.Errorf("unsupported step type: %s", def.StepType)), nil
	}
}

// executeNotification resolves recipients, renders and dispatches.
// Delivery failures are logged on the outcome but do not fail the
// workflow; a configuration error does.
func (se *StepEngine) executeNotification(
	ctx context.Context,
	def *models.WorkflowStepDefinition,
	ec *models.EventContext,
) (*StepOutcome, error) {
	cfg := def.Config.Notification
	if cfg == nil {
		return failedOutcome(fmt.Errorf("notification step %q has no notification config", def.Name)), nil
	}

	recipients, err := se.recipients.Resolve(ctx, cfg.Recipients, ec)
	if err != nil {
		return failedOutcome(fmt.Errorf("failed to resolve recipients: %w", err)), nil
	}
	if len(recipients) == 0 {
		se.logger.Warnf("notification step %q resolved no recipients", def.Name)
		return &StepOutcome{
			Status: models.StepStatusCompleted,
			Output: models.JSONB{"recipients": 0, "skipped_reason": "no recipients"},
		}, nil
	}

	message, err := se.notifier.Render(cfg.TemplateKey, ec.TemplateVariables(cfg.Variables))
	if err != nil {
		// A missing or broken template is configuration, not delivery.
		return failedOutcome(fmt.Errorf("%w: render %q: %v", ErrNotificationConfig, cfg.TemplateKey, err)), nil
	}

	sent := make(models.JSONBList, 0, len(recipients))
	output := models.JSONB{"template_key": cfg.TemplateKey, "recipients": len(recipients)}

	sendErr := se.notifier.Send(ctx, recipients, message)
	now := time.Now()
	for _, r := range recipients {
		record := map[string]interface{}{
			"recipient_id": r.ID.String(),
			"email":        r.Email,
			"template_key": cfg.TemplateKey,
			"sent_at":      now.Format(time.RFC3339),
		}
		if sendErr != nil {
			record["error"] = sendErr.Error()
		}
		sent = append(sent, record)
	}

	if sendErr != nil {
		if isConfigError(sendErr) {
			out := failedOutcome(sendErr)
			out.Notifications = sent
			return out, nil
		}
		// Delivery failure: logged, not fatal.
		se.logger.Errorf("notification step %q delivery failed: %v", def.Name, sendErr)
		output["delivery_error"] = sendErr.Error()
	}

	return &StepOutcome{
		Status:        models.StepStatusCompleted,
		Output:        output,
		Notifications: sent,
	}, nil
}

// executeApproval creates one pending decision slot per approver and
// leaves the step in progress until a decision or timeout re-enters
// the execution. Re-entry on an in-progress approval is a no-op.
func (se *StepEngine) executeApproval(
	ctx context.Context,
	def *models.WorkflowStepDefinition,
	stepExec *models.StepExecution,
	exec *models.WorkflowExecution,
	ec *models.EventContext,
) (*StepOutcome, error) {
	cfg := def.Config.Approval
	if cfg == nil {
		return failedOutcome(fmt.Errorf("approval step %q has no approval config", def.Name)), nil
	}

	existing, err := se.approvals.ListDecisionsByStep(ctx, stepExec.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	if len(existing) > 0 {
		// Decisions already requested; keep waiting.
		return &StepOutcome{
			Status: models.StepStatusInProgress,
			Output: stepExec.OutputData,
			DueAt:  stepExec.DueAt,
		}, nil
	}

	approvers, err := se.recipients.Resolve(ctx, cfg.Approvers, ec)
	if err != nil {
		return failedOutcome(fmt.Errorf("failed to resolve approvers: %w", err)), nil
	}
	if len(approvers) == 0 {
		return failedOutcome(fmt.Errorf("approval step %q resolved no approvers", def.Name)), nil
	}

	now := time.Now()
	var dueAt *time.Time
	if cfg.TimeoutHours > 0 {
		due := now.Add(time.Duration(cfg.TimeoutHours) * time.Hour)
		dueAt = &due
	}

	decisions := make([]models.ApprovalDecision, 0, len(approvers))
	assigned := make([]string, 0, len(approvers))
	for _, approver := range approvers {
		decisions = append(decisions, models.ApprovalDecision{
			ID:              uuid.New(),
			ExecutionID:     exec.ID,
			StepExecutionID: stepExec.ID,
			ApproverID:      approver.ID,
			Status:          models.ApprovalStatusPending,
			RequestedAt:     now,
			ExpiresAt:       dueAt,
		})
		assigned = append(assigned, approver.ID.String())
	}

	if err := se.approvals.CreateDecisions(ctx, decisions); err != nil {
		return nil, fmt.Errorf("failed to create approval decisions: %w", err)
	}

	se.notifyApprovers(ctx, cfg, approvers, ec)

	return &StepOutcome{
		Status: models.StepStatusInProgress,
		Output: models.JSONB{
			"approval_type": cfg.ApprovalType,
			"approvers":     len(approvers),
		},
		AssignedTo: assigned,
		DueAt:      dueAt,
	}, nil
}

// notifyApprovers sends the approval-request notification. Best
// effort: the approval step itself does not fail on delivery problems.
func (se *StepEngine) notifyApprovers(
	ctx context.Context,
	cfg *models.ApprovalConfig,
	approvers []models.Recipient,
	ec *models.EventContext,
) {
	vars := ec.TemplateVariables(map[string]interface{}{"message": cfg.Message})
	message, err := se.notifier.Render("approval_requested", vars)
	if err != nil {
		se.logger.Warnf("failed to render approval request notification: %v", err)
		return
	}
	if err := se.notifier.Send(ctx, approvers, message); err != nil {
		se.logger.Errorf("failed to notify approvers: %v", err)
	}
}

// executeAction runs the declared side effect against the target entity.
func (se *StepEngine) executeAction(
	ctx context.Context,
	def *models.WorkflowStepDefinition,
	exec *models.WorkflowExecution,
	ec *models.EventContext,
) (*StepOutcome, error) {
	cfg := def.Config.Action
	if cfg == nil {
		return failedOutcome(fmt.Errorf("action step %q has no action config", def.Name)), nil
	}

	output := models.JSONB{"action_type": cfg.Type}

	switch cfg.Type {
	case models.ActionUpdateFields:
		if err := se.actions.UpdateFields(ctx, exec.TargetModel, exec.TargetID, cfg.Fields); err != nil {
			return failedOutcome(fmt.Errorf("update_fields: %w", err)), nil
		}
		output["updated_fields"] = len(cfg.Fields)

	case models.ActionCreateRecord:
		if err := se.actions.CreateRecord(ctx, exec.TargetModel, exec.TargetID, cfg.Relation, cfg.Record); err != nil {
			return failedOutcome(fmt.Errorf("create_record: %w", err)), nil
		}
		output["relation"] = cfg.Relation

	case models.ActionInvokeMethod:
		result, err := se.actions.InvokeMethod(ctx, exec.TargetModel, exec.TargetID, cfg.Method, cfg.Args)
		if err != nil {
			return failedOutcome(fmt.Errorf("invoke_method %q: %w", cfg.Method, err)), nil
		}
		output["method"] = cfg.Method
		output["result"] = result

	default:
		return failedOutcome(fmt.Errorf("unknown action type: %s", cfg.Type)), nil
	}

	return &StepOutcome{Status: models.StepStatusCompleted, Output: output}, nil
}

// executeCondition is a pure gate: it records a skipped outcome with
// the pass flag and never side-effects. The orchestrator halts the
// execution when pass is false.
func (se *StepEngine) executeCondition(
	def *models.WorkflowStepDefinition,
	ec *models.EventContext,
) (*StepOutcome, error) {
	cfg := def.Config.Condition
	if cfg == nil {
		return failedOutcome(fmt.Errorf("condition step %q has no condition config", def.Name)), nil
	}

	pass, err := se.evaluator.Evaluate(&cfg.Gate, ec)
	if err != nil {
		return nil, err
	}

	return &StepOutcome{
		Status: models.StepStatusSkipped,
		Output: models.JSONB{"pass": pass},
	}, nil
}

// executeWait handles delay, condition-poll and manual waits. The
// engine never blocks: unresolved waits stay in progress and are
// re-entered via events or the due-wait sweep.
func (se *StepEngine) executeWait(
	def *models.WorkflowStepDefinition,
	stepExec *models.StepExecution,
	ec *models.EventContext,
) (*StepOutcome, error) {
	cfg := def.Config.Wait
	if cfg == nil {
		return failedOutcome(fmt.Errorf("wait step %q has no wait config", def.Name)), nil
	}

	switch cfg.Mode {
	case models.WaitModeDelay:
		dueAt := stepExec.DueAt
		if dueAt == nil {
			duration, err := time.ParseDuration(cfg.Duration)
			if err != nil {
				return failedOutcome(fmt.Errorf("invalid wait duration %q: %w", cfg.Duration, err)), nil
			}
			due := stepExec.StartedAt.Add(duration)
			dueAt = &due
		}
		if !time.Now().Before(*dueAt) {
			return &StepOutcome{
				Status: models.StepStatusCompleted,
				Output: models.JSONB{"wait_mode": cfg.Mode},
			}, nil
		}
		return &StepOutcome{
			Status: models.StepStatusInProgress,
			Output: models.JSONB{"wait_mode": cfg.Mode, "resume_at": dueAt.Format(time.RFC3339)},
			DueAt:  dueAt,
		}, nil

	case models.WaitModeCondition:
		pass, err := se.evaluator.Evaluate(cfg.Until, ec)
		if err != nil {
			return nil, err
		}
		if pass {
			return &StepOutcome{
				Status: models.StepStatusCompleted,
				Output: models.JSONB{"wait_mode": cfg.Mode},
			}, nil
		}
		return &StepOutcome{
			Status: models.StepStatusInProgress,
			Output: models.JSONB{"wait_mode": cfg.Mode},
		}, nil

	case models.WaitModeManual:
		return &StepOutcome{
			Status: models.StepStatusInProgress,
			Output: models.JSONB{"wait_mode": cfg.Mode},
		}, nil

	default:
		return failedOutcome(fmt.Errorf("unknown wait mode: %s", cfg.Mode)), nil
	}
}

func failedOutcome(err error) *StepOutcome {
	return &StepOutcome{
		Status: models.StepStatusFailed,
		Output: models.JSONB{"error": err.Error()},
	}
}

func outcomeFromRecord(stepExec *models.StepExecution) *StepOutcome {
	return &StepOutcome{
		Status:        stepExec.Status,
		Output:        stepExec.OutputData,
		Notifications: stepExec.NotificationsSent,
		AssignedTo:    stepExec.AssignedTo,
		CompletedBy:   stepExec.CompletedBy,
		DueAt:         stepExec.DueAt,
	}
}

func isConfigError(err error) bool {
	return errors.Is(err, ErrNotificationConfig)
}
