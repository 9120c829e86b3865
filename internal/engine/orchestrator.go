package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/docflowhq/docflow/internal/models"
	"github.com/docflowhq/docflow/pkg/logger"
	"github.com/google/uuid"
)

// WorkflowRepository is the read side of workflow definitions the
// orchestrator needs.
type WorkflowRepository interface {
	GetWorkflowByID(ctx context.Context, id uuid.UUID) (*models.AdvancedWorkflow, error)
	ListActiveWorkflowsForModel(ctx context.Context, targetModel string) ([]models.AdvancedWorkflow, error)
	ListSteps(ctx context.Context, workflowID uuid.UUID) ([]models.WorkflowStepDefinition, error)
}

const (
	lockRetryAttempts = 5
	lockRetryBase     = 50 * time.Millisecond
)

// Orchestrator owns the execution lifecycle: it matches events against
// workflows, creates executions, advances them step by step and applies
// cancel/restart commands. All execution mutation happens here, under
// the per-execution lock; step side effects run outside the lock.
type Orchestrator struct {
	workflows  WorkflowRepository
	executions ExecutionRepository
	entities   EntityStore
	approvals  ApprovalStore
	steps      *StepEngine
	locker     ExecutionLocker
	evaluator  *Evaluator
	logger     *logger.Logger
}

// NewOrchestrator creates a new execution orchestrator.
func NewOrchestrator(
	workflows WorkflowRepository,
	executions ExecutionRepository,
	entities EntityStore,
	approvals ApprovalStore,
	steps *StepEngine,
	locker ExecutionLocker,
	log *logger.Logger,
) *Orchestrator {
	return &Orchestrator{
		workflows:  workflows,
		executions: executions,
		entities:   entities,
		approvals:  approvals,
		steps:      steps,
		locker:     locker,
		evaluator:  NewEvaluator(),
		logger:     log,
	}
}

// Publish implements EventPublisher so the state machine can hand its
// transition events straight to the orchestrator.
func (o *Orchestrator) Publish(ctx context.Context, ec *models.EventContext) error {
	return o.OnEvent(ctx, ec)
}

// OnEvent ingests one entity lifecycle event: it refreshes the entity
// projection, matches the event against every active workflow for the
// entity type, and finds or creates one execution per matching
// workflow. A workflow whose trigger conditions are malformed is
// logged and skipped, never matched.
func (o *Orchestrator) OnEvent(ctx context.Context, ec *models.EventContext) error {
	if err := o.refreshProjection(ctx, ec); err != nil {
		return err
	}

	workflows, err := o.workflows.ListActiveWorkflowsForModel(ctx, ec.EntityType)
	if err != nil {
		return fmt.Errorf("failed to list workflows for %s: %w", ec.EntityType, err)
	}

	for i := range workflows {
		wf := &workflows[i]

		matched, err := o.evaluator.Evaluate(wf.TriggerConditions, ec)
		if err != nil {
			o.logger.Errorf("workflow %s has invalid trigger conditions: %v", wf.ID, err)
			continue
		}
		if !matched {
			continue
		}

		if err := o.trigger(ctx, wf, ec); err != nil {
			o.logger.Errorf("failed to trigger workflow %s for %s/%s: %v",
				wf.ID, ec.EntityType, ec.EntityID, err)
		}
	}

	return nil
}

// refreshProjection keeps the engine's read-only entity snapshot in
// sync with the event stream.
func (o *Orchestrator) refreshProjection(ctx context.Context, ec *models.EventContext) error {
	state := ec.ToState
	if state == "" {
		if s, ok := ec.Snapshot["state"].(string); ok {
			state = s
		}
	}

	snapshot := &models.EntitySnapshot{
		ModelType:  ec.EntityType,
		EntityID:   ec.EntityID,
		State:      state,
		Attributes: ec.Snapshot,
	}
	if err := o.entities.UpsertEntity(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to update entity projection %s/%s: %w", ec.EntityType, ec.EntityID, err)
	}
	return nil
}

// trigger finds or creates the live execution for (workflow, target)
// and processes it. Concurrent triggers for the same pair converge on
// one execution; a later event for an in-flight execution refreshes
// its context before processing.
func (o *Orchestrator) trigger(ctx context.Context, wf *models.AdvancedWorkflow, ec *models.EventContext) error {
	priorRuns, err := o.executions.CountExecutions(ctx, wf.ID, ec.EntityType, ec.EntityID)
	if err != nil {
		return fmt.Errorf("failed to count executions: %w", err)
	}

	candidate := &models.WorkflowExecution{
		ID:             uuid.New(),
		WorkflowID:     wf.ID,
		TargetModel:    ec.EntityType,
		TargetID:       ec.EntityID,
		TriggerEvent:   ec.EventName,
		Status:         models.ExecutionStatusPending,
		ContextData:    ec.ToDocument(),
		StepResults:    models.JSONB{},
		ExecutionCount: priorRuns + 1,
		InitiatedBy:    ec.ActorID,
	}

	exec, created, err := o.executions.FindOrCreateExecution(ctx, candidate)
	if err != nil {
		return fmt.Errorf("failed to find or create execution: %w", err)
	}

	if created {
		o.logger.Info("workflow execution created",
			logger.String("execution_id", exec.ID.String()),
			logger.String("workflow_id", wf.ID.String()),
			logger.String("target", ec.EntityType+"/"+ec.EntityID),
			logger.String("trigger_event", ec.EventName),
		)
	} else {
		// Existing live execution: fold in the fresh event context so
		// condition-mode waits and later steps see current data.
		if err := o.refreshContext(ctx, exec.ID, ec); err != nil {
			return err
		}
	}

	return o.processWithRetry(ctx, exec.ID)
}

// refreshContext replaces the stored context document under the
// execution lock.
func (o *Orchestrator) refreshContext(ctx context.Context, executionID uuid.UUID, ec *models.EventContext) error {
	release, err := o.acquireWithRetry(ctx, executionID)
	if err != nil {
		return err
	}
	defer release()

	exec, err := o.executions.GetExecutionByID(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status.IsTerminal() {
		return nil
	}

	exec.ContextData = ec.ToDocument()
	return o.executions.UpdateExecution(ctx, exec)
}

// processWithRetry runs Process, retrying lock contention with
// exponential backoff. Contention means another process is already
// advancing the execution, so giving up after the retries is safe.
func (o *Orchestrator) processWithRetry(ctx context.Context, executionID uuid.UUID) error {
	var err error
	for attempt := 0; attempt < lockRetryAttempts; attempt++ {
		err = o.Process(ctx, executionID)
		if !errors.Is(err, ErrLockContention) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryBase << attempt):
		}
	}
	return err
}

// acquireWithRetry is the same backoff applied to a bare lock acquire.
func (o *Orchestrator) acquireWithRetry(ctx context.Context, executionID uuid.UUID) (func(), error) {
	var release func()
	var err error
	for attempt := 0; attempt < lockRetryAttempts; attempt++ {
		release, err = o.locker.Acquire(ctx, executionID)
		if err == nil {
			return release, nil
		}
		if !errors.Is(err, ErrLockContention) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryBase << attempt):
		}
	}
	return nil, err
}

// stepWork is one unit handed from beginNextStep to the step engine.
type stepWork struct {
	exec     *models.WorkflowExecution
	def      *models.WorkflowStepDefinition
	stepExec *models.StepExecution
	ec       *models.EventContext
}

// Process advances an execution until it reaches a terminal status or
// blocks on an approval or wait. Each iteration holds the execution
// lock only for bookkeeping: the next step is claimed under the lock,
// executed without it, and its outcome applied under the lock again.
func (o *Orchestrator) Process(ctx context.Context, executionID uuid.UUID) error {
	for {
		release, err := o.locker.Acquire(ctx, executionID)
		if err != nil {
			return err
		}

		work, err := o.beginNextStep(ctx, executionID)
		release()
		if err != nil {
			return err
		}
		if work == nil {
			return nil
		}

		outcome, execErr := o.steps.Execute(ctx, work.def, work.stepExec, work.exec, work.ec)
		if execErr != nil {
			if errors.Is(execErr, ErrInvalidCondition) {
				// A malformed condition inside a step is flagged and
				// skipped rather than failing the workflow.
				o.logger.Errorf("step %q of execution %s has invalid conditions: %v",
					work.def.Name, executionID, execErr)
				outcome = &StepOutcome{
					Status: models.StepStatusSkipped,
					Output: models.JSONB{"condition_error": execErr.Error()},
				}
			} else {
				stepErr := &StepExecutionError{StepID: work.def.ID, StepName: work.def.Name, Err: execErr}
				o.logger.Errorf("execution %s: %v", executionID, stepErr)
				outcome = failedOutcome(stepErr)
			}
		}

		release, err = o.acquireWithRetry(ctx, executionID)
		if err != nil {
			return err
		}
		proceed, err := o.applyOutcome(ctx, work, outcome)
		release()
		if err != nil {
			return err
		}
		if !proceed {
			return nil
		}
	}
}

// beginNextStep claims the next step of the execution. Caller holds
// the execution lock. It returns nil work when the execution is
// terminal, blocked, or just finished its last step.
func (o *Orchestrator) beginNextStep(ctx context.Context, executionID uuid.UUID) (*stepWork, error) {
	exec, err := o.executions.GetExecutionByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status.IsTerminal() {
		return nil, nil
	}

	wf, err := o.workflows.GetWorkflowByID(ctx, exec.WorkflowID)
	if err != nil {
		return nil, err
	}

	defs, err := o.workflows.ListSteps(ctx, exec.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow steps: %w", err)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].StepOrder < defs[j].StepOrder })

	ec := o.contextFor(exec, wf)

	for i := range defs {
		def := &defs[i]
		if !def.IsActive {
			continue
		}

		existing, err := o.executions.GetStepExecutionByStep(ctx, exec.ID, def.ID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if existing != nil {
			if existing.Status.IsTerminal() {
				continue
			}
			// Non-terminal step: re-enter it (wait clearing, approval
			// still pending, or recovery after a crash).
			return &stepWork{exec: exec, def: def, stepExec: existing, ec: ec}, nil
		}

		// Per-step conditions decide whether the step runs at all.
		matched, err := o.evaluator.Evaluate(def.Conditions, ec)
		if err != nil {
			o.logger.Errorf("step %q of execution %s has invalid conditions: %v", def.Name, exec.ID, err)
			if err := o.recordSkip(ctx, exec, def, models.JSONB{"condition_error": err.Error()}); err != nil {
				return nil, err
			}
			continue
		}
		if !matched {
			if err := o.recordSkip(ctx, exec, def, models.JSONB{"reason": "conditions not met"}); err != nil {
				return nil, err
			}
			continue
		}

		stepExec := &models.StepExecution{
			ID:          uuid.New(),
			ExecutionID: exec.ID,
			StepID:      def.ID,
			StepOrder:   def.StepOrder,
			StepType:    def.StepType,
			Status:      models.StepStatusInProgress,
			InputData:   exec.ContextData,
			StartedAt:   time.Now(),
		}
		if err := o.executions.CreateStepExecution(ctx, stepExec); err != nil {
			return nil, fmt.Errorf("failed to create step execution: %w", err)
		}

		if err := o.markCurrent(ctx, exec, def, stepExec); err != nil {
			return nil, err
		}

		return &stepWork{exec: exec, def: def, stepExec: stepExec, ec: ec}, nil
	}

	return nil, o.finish(ctx, exec, models.ExecutionStatusCompleted, nil)
}

// contextFor rebuilds the evaluation context from the persisted
// execution state.
func (o *Orchestrator) contextFor(exec *models.WorkflowExecution, wf *models.AdvancedWorkflow) *models.EventContext {
	ec := models.EventContextFromDocument(exec.ContextData)
	ec.StepResults = exec.StepResults
	ec.ExecutionCount = exec.ExecutionCount
	ec.Variables = wf.GlobalVariables
	return ec
}

// recordSkip writes a terminal skipped step execution without running
// the step.
func (o *Orchestrator) recordSkip(
	ctx context.Context,
	exec *models.WorkflowExecution,
	def *models.WorkflowStepDefinition,
	output models.JSONB,
) error {
	now := time.Now()
	stepExec := &models.StepExecution{
		ID:          uuid.New(),
		ExecutionID: exec.ID,
		StepID:      def.ID,
		StepOrder:   def.StepOrder,
		StepType:    def.StepType,
		Status:      models.StepStatusSkipped,
		OutputData:  output,
		StartedAt:   now,
		CompletedAt: &now,
	}
	if err := o.executions.CreateStepExecution(ctx, stepExec); err != nil {
		return fmt.Errorf("failed to record skipped step: %w", err)
	}

	o.recordResult(exec, def.StepOrder, models.StepStatusSkipped, output)
	return o.advanceCursor(ctx, exec, def, nil)
}

// markCurrent moves the execution onto the claimed step. The cursor
// only ever moves forward.
func (o *Orchestrator) markCurrent(
	ctx context.Context,
	exec *models.WorkflowExecution,
	def *models.WorkflowStepDefinition,
	stepExec *models.StepExecution,
) error {
	exec.CurrentStepID = &def.ID
	if def.StepOrder > exec.CurrentStepOrder {
		exec.CurrentStepOrder = def.StepOrder
	}
	if exec.Status == models.ExecutionStatusPending {
		exec.Status = models.ExecutionStatusInProgress
		now := time.Now()
		exec.StartedAt = &now
	}
	return o.executions.UpdateExecution(ctx, exec)
}

// advanceCursor persists cursor movement past a step that produced no
// separate outcome application.
func (o *Orchestrator) advanceCursor(
	ctx context.Context,
	exec *models.WorkflowExecution,
	def *models.WorkflowStepDefinition,
	currentStepID *uuid.UUID,
) error {
	if def.StepOrder > exec.CurrentStepOrder {
		exec.CurrentStepOrder = def.StepOrder
	}
	exec.CurrentStepID = currentStepID
	if exec.Status == models.ExecutionStatusPending {
		exec.Status = models.ExecutionStatusInProgress
		now := time.Now()
		exec.StartedAt = &now
	}
	return o.executions.UpdateExecution(ctx, exec)
}

// recordResult appends the step outcome to the execution's step_results
// document, keyed by step order for later conditions and templates.
func (o *Orchestrator) recordResult(exec *models.WorkflowExecution, stepOrder int, status models.StepStatus, output models.JSONB) {
	if exec.StepResults == nil {
		exec.StepResults = models.JSONB{}
	}
	exec.StepResults[fmt.Sprintf("step_%d", stepOrder)] = map[string]interface{}{
		"status": string(status),
		"output": map[string]interface{}(output),
	}
}

// applyOutcome folds one step outcome into the execution. Caller holds
// the execution lock. It returns true when processing should continue
// with the next step.
func (o *Orchestrator) applyOutcome(ctx context.Context, work *stepWork, outcome *StepOutcome) (bool, error) {
	exec, err := o.executions.GetExecutionByID(ctx, work.exec.ID)
	if err != nil {
		return false, err
	}

	stepExec := work.stepExec
	if exec.Status == models.ExecutionStatusCancelled {
		// Cancelled while the step was in flight: discard the outcome.
		if !stepExec.Status.IsTerminal() {
			now := time.Now()
			stepExec.Status = models.StepStatusCancelled
			stepExec.CompletedAt = &now
			if err := o.executions.UpdateStepExecution(ctx, stepExec); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	stepExec.Status = outcome.Status
	stepExec.OutputData = outcome.Output
	if len(outcome.Notifications) > 0 {
		stepExec.NotificationsSent = outcome.Notifications
	}
	if len(outcome.AssignedTo) > 0 {
		stepExec.AssignedTo = outcome.AssignedTo
	}
	stepExec.CompletedBy = outcome.CompletedBy
	stepExec.DueAt = outcome.DueAt
	if outcome.Status.IsTerminal() && stepExec.CompletedAt == nil {
		now := time.Now()
		stepExec.CompletedAt = &now
	}
	if err := o.executions.UpdateStepExecution(ctx, stepExec); err != nil {
		return false, err
	}

	switch outcome.Status {
	case models.StepStatusInProgress:
		// Blocked on an approval decision or a wait. A later event,
		// decision or sweep re-enters the execution.
		return false, o.executions.UpdateExecution(ctx, exec)

	case models.StepStatusCompleted:
		o.recordResult(exec, work.def.StepOrder, outcome.Status, outcome.Output)
		return true, o.executions.UpdateExecution(ctx, exec)

	case models.StepStatusSkipped:
		o.recordResult(exec, work.def.StepOrder, outcome.Status, outcome.Output)
		if work.def.StepType == models.StepTypeCondition {
			if pass, ok := outcome.Output["pass"].(bool); ok && !pass {
				// Gate closed: the workflow ends here, successfully.
				return false, o.finish(ctx, exec, models.ExecutionStatusCompleted, nil)
			}
		}
		return true, o.executions.UpdateExecution(ctx, exec)

	case models.StepStatusFailed:
		o.recordResult(exec, work.def.StepOrder, outcome.Status, outcome.Output)
		if work.def.IsRequired {
			msg := fmt.Sprintf("required step %q failed", work.def.Name)
			if e, ok := outcome.Output["error"].(string); ok {
				msg = fmt.Sprintf("required step %q failed: %s", work.def.Name, e)
			}
			return false, o.finish(ctx, exec, models.ExecutionStatusFailed, &msg)
		}
		o.logger.Warnf("optional step %q of execution %s failed, continuing", work.def.Name, exec.ID)
		return true, o.executions.UpdateExecution(ctx, exec)

	default:
		return false, fmt.Errorf("unexpected step outcome status %q", outcome.Status)
	}
}

// finish moves the execution into a terminal status. Caller holds the
// execution lock.
func (o *Orchestrator) finish(
	ctx context.Context,
	exec *models.WorkflowExecution,
	status models.ExecutionStatus,
	errorMessage *string,
) error {
	now := time.Now()
	exec.Status = status
	exec.ErrorMessage = errorMessage
	exec.CurrentStepID = nil
	exec.CompletedAt = &now
	if exec.StartedAt == nil {
		exec.StartedAt = &now
	}
	if err := o.executions.UpdateExecution(ctx, exec); err != nil {
		return err
	}

	o.logger.Info("workflow execution finished",
		logger.String("execution_id", exec.ID.String()),
		logger.String("status", string(status)),
	)
	return nil
}

// Cancel stops a live execution. In-flight step outcomes arriving after
// cancellation are discarded; pending approval decisions are
// superseded. Cancelling a terminal execution is rejected.
func (o *Orchestrator) Cancel(ctx context.Context, executionID uuid.UUID, actorID *uuid.UUID, reason string) error {
	release, err := o.acquireWithRetry(ctx, executionID)
	if err != nil {
		return err
	}
	defer release()

	exec, err := o.executions.GetExecutionByID(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status.IsTerminal() {
		return fmt.Errorf("%w: execution %s is %s", ErrNotCancellable, executionID, exec.Status)
	}

	now := time.Now()
	exec.Status = models.ExecutionStatusCancelled
	exec.CancelReason = &reason
	exec.CancelledBy = actorID
	exec.CurrentStepID = nil
	exec.CompletedAt = &now
	if err := o.executions.UpdateExecution(ctx, exec); err != nil {
		return err
	}

	stepExecs, err := o.executions.ListStepExecutions(ctx, executionID)
	if err != nil {
		return err
	}
	for i := range stepExecs {
		stepExec := &stepExecs[i]
		if stepExec.Status.IsTerminal() {
			continue
		}
		stepExec.Status = models.StepStatusCancelled
		stepExec.CompletedAt = &now
		if err := o.executions.UpdateStepExecution(ctx, stepExec); err != nil {
			return err
		}
		o.supersedePending(ctx, stepExec.ID)
	}

	o.logger.Info("workflow execution cancelled",
		logger.String("execution_id", executionID.String()),
		logger.String("reason", reason),
	)
	return nil
}

// supersedePending marks every pending decision slot of a step as
// superseded. Best effort during cancellation.
func (o *Orchestrator) supersedePending(ctx context.Context, stepExecutionID uuid.UUID) {
	decisions, err := o.approvals.ListDecisionsByStep(ctx, stepExecutionID)
	if err != nil {
		o.logger.Errorf("failed to list decisions for step execution %s: %v", stepExecutionID, err)
		return
	}
	now := time.Now()
	for i := range decisions {
		d := &decisions[i]
		if d.Status != models.ApprovalStatusPending {
			continue
		}
		d.Status = models.ApprovalStatusSuperseded
		d.DecidedAt = &now
		if err := o.approvals.UpdateDecision(ctx, d); err != nil {
			o.logger.Errorf("failed to supersede decision %s: %v", d.ID, err)
		}
	}
}

// Restart clones a failed or cancelled execution into a fresh run from
// the first step. The clone links back via restarted_from and bumps
// the per-target run counter.
func (o *Orchestrator) Restart(ctx context.Context, executionID uuid.UUID, actorID *uuid.UUID) (*models.WorkflowExecution, error) {
	source, err := o.executions.GetExecutionByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if source.Status != models.ExecutionStatusFailed && source.Status != models.ExecutionStatusCancelled {
		return nil, fmt.Errorf("%w: execution %s is %s", ErrNotRestartable, executionID, source.Status)
	}

	priorRuns, err := o.executions.CountExecutions(ctx, source.WorkflowID, source.TargetModel, source.TargetID)
	if err != nil {
		return nil, fmt.Errorf("failed to count executions: %w", err)
	}

	sourceID := source.ID
	candidate := &models.WorkflowExecution{
		ID:             uuid.New(),
		WorkflowID:     source.WorkflowID,
		TargetModel:    source.TargetModel,
		TargetID:       source.TargetID,
		TriggerEvent:   source.TriggerEvent,
		Status:         models.ExecutionStatusPending,
		ContextData:    source.ContextData,
		StepResults:    models.JSONB{},
		ExecutionCount: priorRuns + 1,
		InitiatedBy:    actorID,
		RestartedFrom:  &sourceID,
	}

	exec, created, err := o.executions.FindOrCreateExecution(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("failed to create restarted execution: %w", err)
	}
	if !created {
		return nil, fmt.Errorf("%w: a live execution already exists for this target", ErrNotRestartable)
	}

	o.logger.Info("workflow execution restarted",
		logger.String("execution_id", exec.ID.String()),
		logger.String("restarted_from", sourceID.String()),
	)

	if err := o.processWithRetry(ctx, exec.ID); err != nil {
		return exec, err
	}
	return exec, nil
}

// ResolveApprovalStep records the resolved outcome of an approval step
// and resumes the execution. The approval service calls this once a
// quorum is reached or the timeout policy fires.
func (o *Orchestrator) ResolveApprovalStep(
	ctx context.Context,
	executionID, stepExecutionID uuid.UUID,
	approved bool,
	completedBy string,
	output models.JSONB,
) error {
	if err := o.resolveBlockedStep(ctx, executionID, stepExecutionID, approved, &completedBy, output); err != nil {
		return err
	}
	return o.processWithRetry(ctx, executionID)
}

// ReleaseWait completes a manual wait step and resumes the execution.
func (o *Orchestrator) ReleaseWait(ctx context.Context, executionID, stepExecutionID uuid.UUID, actor *models.Actor) error {
	var completedBy *string
	if actor != nil {
		id := actor.ID.String()
		completedBy = &id
	}
	output := models.JSONB{"wait_mode": models.WaitModeManual, "released": true}
	if err := o.resolveBlockedStep(ctx, executionID, stepExecutionID, true, completedBy, output); err != nil {
		return err
	}
	return o.processWithRetry(ctx, executionID)
}

// resolveBlockedStep moves a blocked (in-progress) step to a terminal
// outcome under the execution lock, applying the required/optional
// failure rule. Resolving an already-terminal step is a no-op so
// concurrent decisions and sweeps stay idempotent.
func (o *Orchestrator) resolveBlockedStep(
	ctx context.Context,
	executionID, stepExecutionID uuid.UUID,
	success bool,
	completedBy *string,
	output models.JSONB,
) error {
	release, err := o.acquireWithRetry(ctx, executionID)
	if err != nil {
		return err
	}
	defer release()

	exec, err := o.executions.GetExecutionByID(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status.IsTerminal() {
		return nil
	}

	stepExecs, err := o.executions.ListStepExecutions(ctx, executionID)
	if err != nil {
		return err
	}
	var stepExec *models.StepExecution
	for i := range stepExecs {
		if stepExecs[i].ID == stepExecutionID {
			stepExec = &stepExecs[i]
			break
		}
	}
	if stepExec == nil {
		return fmt.Errorf("%w: step execution %s", ErrNotFound, stepExecutionID)
	}
	if stepExec.Status.IsTerminal() {
		return nil
	}

	now := time.Now()
	if success {
		stepExec.Status = models.StepStatusCompleted
	} else {
		stepExec.Status = models.StepStatusFailed
	}
	stepExec.OutputData = output
	stepExec.CompletedBy = completedBy
	stepExec.CompletedAt = &now
	if err := o.executions.UpdateStepExecution(ctx, stepExec); err != nil {
		return err
	}

	o.recordResult(exec, stepExec.StepOrder, stepExec.Status, output)

	if !success {
		def, err := o.stepDefinition(ctx, exec.WorkflowID, stepExec.StepID)
		if err != nil {
			return err
		}
		if def == nil || def.IsRequired {
			msg := fmt.Sprintf("required step at order %d failed", stepExec.StepOrder)
			if def != nil {
				msg = fmt.Sprintf("required step %q failed", def.Name)
			}
			if e, ok := output["error"].(string); ok {
				msg += ": " + e
			}
			return o.finish(ctx, exec, models.ExecutionStatusFailed, &msg)
		}
	}

	return o.executions.UpdateExecution(ctx, exec)
}

func (o *Orchestrator) stepDefinition(ctx context.Context, workflowID, stepID uuid.UUID) (*models.WorkflowStepDefinition, error) {
	defs, err := o.workflows.ListSteps(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	for i := range defs {
		if defs[i].ID == stepID {
			return &defs[i], nil
		}
	}
	return nil, nil
}

// ReleaseDueWaits resumes executions whose delay waits have come due.
// Called periodically by the sweep worker.
func (o *Orchestrator) ReleaseDueWaits(ctx context.Context, limit int) error {
	due, err := o.executions.ListDueWaitSteps(ctx, time.Now(), limit)
	if err != nil {
		return fmt.Errorf("failed to list due wait steps: %w", err)
	}

	for i := range due {
		if err := o.processWithRetry(ctx, due[i].ExecutionID); err != nil {
			o.logger.Errorf("failed to resume execution %s from wait: %v", due[i].ExecutionID, err)
		}
	}
	return nil
}

// GetExecution returns the progress view of one execution.
func (o *Orchestrator) GetExecution(ctx context.Context, executionID uuid.UUID) (*models.ExecutionProgress, error) {
	exec, err := o.executions.GetExecutionByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	defs, err := o.workflows.ListSteps(ctx, exec.WorkflowID)
	if err != nil {
		return nil, err
	}
	active := 0
	for i := range defs {
		if defs[i].IsActive {
			active++
		}
	}

	stepExecs, err := o.executions.ListStepExecutions(ctx, executionID)
	if err != nil {
		return nil, err
	}
	sort.Slice(stepExecs, func(i, j int) bool { return stepExecs[i].StepOrder < stepExecs[j].StepOrder })

	return &models.ExecutionProgress{
		ID:               exec.ID,
		WorkflowID:       exec.WorkflowID,
		Status:           exec.Status,
		CurrentStepOrder: exec.CurrentStepOrder,
		TotalSteps:       active,
		StepResults:      exec.StepResults,
		Steps:            stepExecs,
	}, nil
}
