package services

import (
	"context"
	"fmt"
	"time"

	"github.com/docflowhq/docflow/internal/engine"
	"github.com/docflowhq/docflow/internal/models"
	"github.com/docflowhq/docflow/pkg/logger"
	"github.com/google/uuid"
)

// ApprovalRepository is the approval persistence the service needs on
// top of what the step engine uses.
type ApprovalRepository interface {
	engine.ApprovalStore
	GetDecision(ctx context.Context, id uuid.UUID) (*models.ApprovalDecision, error)
	ListPendingByApprover(ctx context.Context, approverID uuid.UUID) ([]models.ApprovalDecision, error)
}

// ExecutionResumer resumes a blocked execution once its approval step
// is resolved. The orchestrator implements it.
type ExecutionResumer interface {
	ResolveApprovalStep(ctx context.Context, executionID, stepExecutionID uuid.UUID, approved bool, completedBy string, output models.JSONB) error
}

// timeoutActor marks step completions applied by the timeout policy
// rather than a person.
const timeoutActor = "system:timeout"

// ApprovalService records approver decisions, applies the quorum rules
// and expires overdue approvals. Resolution is funneled through the
// orchestrator so the execution state only changes under its lock.
type ApprovalService struct {
	approvals  ApprovalRepository
	executions engine.ExecutionRepository
	workflows  engine.WorkflowRepository
	resumer    ExecutionResumer
	logger     *logger.Logger
}

// NewApprovalService creates a new approval service.
func NewApprovalService(
	approvals ApprovalRepository,
	executions engine.ExecutionRepository,
	workflows engine.WorkflowRepository,
	resumer ExecutionResumer,
	log *logger.Logger,
) *ApprovalService {
	return &ApprovalService{
		approvals:  approvals,
		executions: executions,
		workflows:  workflows,
		resumer:    resumer,
		logger:     log,
	}
}

// Decide records one approver's decision on a step and resolves the
// step when the quorum rule is satisfied. Only the assigned approver
// may fill their slot, and only once.
func (s *ApprovalService) Decide(
	ctx context.Context,
	stepExecutionID uuid.UUID,
	actor *models.Actor,
	approve bool,
	reason *string,
) error {
	if actor == nil {
		return engine.ErrForbidden
	}

	decisions, err := s.approvals.ListDecisionsByStep(ctx, stepExecutionID)
	if err != nil {
		return fmt.Errorf("failed to list decisions: %w", err)
	}
	if len(decisions) == 0 {
		return fmt.Errorf("%w: no approval pending on step execution %s", engine.ErrNotFound, stepExecutionID)
	}

	var slot *models.ApprovalDecision
	for i := range decisions {
		if decisions[i].ApproverID == actor.ID {
			slot = &decisions[i]
			break
		}
	}
	if slot == nil {
		return fmt.Errorf("%w: %s is not an approver on this step", engine.ErrForbidden, actor.ID)
	}
	if slot.Status != models.ApprovalStatusPending {
		return fmt.Errorf("decision already recorded as %s", slot.Status)
	}

	now := time.Now()
	if approve {
		slot.Status = models.ApprovalStatusApproved
	} else {
		slot.Status = models.ApprovalStatusRejected
	}
	slot.Reason = reason
	slot.DecidedAt = &now
	if err := s.approvals.UpdateDecision(ctx, slot); err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}

	s.logger.Info("approval decision recorded",
		logger.String("step_execution_id", stepExecutionID.String()),
		logger.String("approver_id", actor.ID.String()),
		logger.Bool("approved", approve),
	)

	return s.resolveQuorum(ctx, slot, decisions)
}

// resolveQuorum applies the step's quorum rule after one slot changed.
// Single quorum: the first decision wins and the remaining slots are
// superseded. All quorum: one rejection resolves immediately, approval
// requires every slot approved.
func (s *ApprovalService) resolveQuorum(
	ctx context.Context,
	decided *models.ApprovalDecision,
	decisions []models.ApprovalDecision,
) error {
	cfg, err := s.approvalConfig(ctx, decided)
	if err != nil {
		return err
	}

	quorum := models.ApprovalTypeSingle
	if cfg != nil && cfg.ApprovalType != "" {
		quorum = cfg.ApprovalType
	}

	approved := decided.Status == models.ApprovalStatusApproved

	if quorum == models.ApprovalTypeAll && approved {
		for i := range decisions {
			d := &decisions[i]
			if d.ID == decided.ID {
				continue
			}
			if d.Status != models.ApprovalStatusApproved {
				// Still waiting on other approvers.
				return nil
			}
		}
	} else {
		// Single quorum, or a rejection under all quorum: resolve now
		// and close the untouched slots.
		s.supersedePending(ctx, decisions, decided.ID)
	}

	output := models.JSONB{
		"approval_type": quorum,
		"decided_by":    decided.ApproverID.String(),
	}
	if decided.Reason != nil {
		output["reason"] = *decided.Reason
	}
	if !approved {
		output["error"] = "approval rejected"
	}

	return s.resumer.ResolveApprovalStep(
		ctx,
		decided.ExecutionID,
		decided.StepExecutionID,
		approved,
		decided.ApproverID.String(),
		output,
	)
}

// ExpireOverdue finds pending decisions past their expiry and applies
// each step's timeout policy: fail the step (default) or auto-approve
// it with the system timeout actor. Called periodically by the sweep
// worker; re-running over the same rows is harmless.
func (s *ApprovalService) ExpireOverdue(ctx context.Context, limit int) error {
	overdue, err := s.approvals.ListOverdueDecisions(ctx, time.Now(), limit)
	if err != nil {
		return fmt.Errorf("failed to list overdue decisions: %w", err)
	}

	byStep := make(map[uuid.UUID][]models.ApprovalDecision)
	for _, d := range overdue {
		byStep[d.StepExecutionID] = append(byStep[d.StepExecutionID], d)
	}

	for stepExecutionID, group := range byStep {
		if err := s.expireStep(ctx, stepExecutionID, group); err != nil {
			s.logger.Errorf("failed to expire approval step %s: %v", stepExecutionID, err)
		}
	}
	return nil
}

func (s *ApprovalService) expireStep(ctx context.Context, stepExecutionID uuid.UUID, overdue []models.ApprovalDecision) error {
	now := time.Now()
	for i := range overdue {
		d := &overdue[i]
		if d.Status != models.ApprovalStatusPending {
			continue
		}
		d.Status = models.ApprovalStatusExpired
		d.DecidedAt = &now
		if err := s.approvals.UpdateDecision(ctx, d); err != nil {
			return fmt.Errorf("failed to expire decision %s: %w", d.ID, err)
		}
	}

	first := &overdue[0]
	cfg, err := s.approvalConfig(ctx, first)
	if err != nil {
		return err
	}

	policy := models.TimeoutPolicyFail
	if cfg != nil && cfg.OnTimeout != "" {
		policy = cfg.OnTimeout
	}
	approved := policy == models.TimeoutPolicyApprove

	// Close any slots that were not themselves overdue yet.
	remaining, err := s.approvals.ListDecisionsByStep(ctx, stepExecutionID)
	if err == nil {
		s.supersedePending(ctx, remaining, uuid.Nil)
	}

	output := models.JSONB{
		"timed_out":  true,
		"on_timeout": policy,
	}
	if !approved {
		output["error"] = engine.ErrTimeoutExceeded.Error()
	}

	s.logger.Info("approval step timed out",
		logger.String("step_execution_id", stepExecutionID.String()),
		logger.String("policy", policy),
	)

	return s.resumer.ResolveApprovalStep(ctx, first.ExecutionID, stepExecutionID, approved, timeoutActor, output)
}

// ListPendingForApprover returns the approver's open decision slots.
func (s *ApprovalService) ListPendingForApprover(ctx context.Context, approverID uuid.UUID) ([]models.ApprovalDecision, error) {
	return s.approvals.ListPendingByApprover(ctx, approverID)
}

// GetDecision returns one decision slot.
func (s *ApprovalService) GetDecision(ctx context.Context, id uuid.UUID) (*models.ApprovalDecision, error) {
	return s.approvals.GetDecision(ctx, id)
}

// approvalConfig digs the step's approval config out of its workflow
// definition. A nil return means the definition is gone; the caller
// falls back to defaults.
func (s *ApprovalService) approvalConfig(ctx context.Context, decision *models.ApprovalDecision) (*models.ApprovalConfig, error) {
	exec, err := s.executions.GetExecutionByID(ctx, decision.ExecutionID)
	if err != nil {
		return nil, err
	}

	stepExecs, err := s.executions.ListStepExecutions(ctx, decision.ExecutionID)
	if err != nil {
		return nil, err
	}
	var stepID *uuid.UUID
	for i := range stepExecs {
		if stepExecs[i].ID == decision.StepExecutionID {
			stepID = &stepExecs[i].StepID
			break
		}
	}
	if stepID == nil {
		return nil, nil
	}

	defs, err := s.workflows.ListSteps(ctx, exec.WorkflowID)
	if err != nil {
		return nil, err
	}
	for i := range defs {
		if defs[i].ID == *stepID {
			return defs[i].Config.Approval, nil
		}
	}
	return nil, nil
}

// supersedePending marks all still-pending slots superseded, except the
// one identified by keep.
func (s *ApprovalService) supersedePending(ctx context.Context, decisions []models.ApprovalDecision, keep uuid.UUID) {
	now := time.Now()
	for i := range decisions {
		d := &decisions[i]
		if d.ID == keep || d.Status != models.ApprovalStatusPending {
			continue
		}
		d.Status = models.ApprovalStatusSuperseded
		d.DecidedAt = &now
		if err := s.approvals.UpdateDecision(ctx, d); err != nil {
			s.logger.Errorf("failed to supersede decision %s: %v", d.ID, err)
		}
	}
}
