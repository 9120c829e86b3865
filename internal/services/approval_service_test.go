package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docflowhq/docflow/internal/engine"
	"github.com/docflowhq/docflow/internal/mocks"
	"github.com/docflowhq/docflow/internal/models"
	"github.com/docflowhq/docflow/pkg/logger"
)

type approvalFixture struct {
	workflows  *mocks.WorkflowRepository
	executions *mocks.ExecutionRepository
	approvals  *mocks.ApprovalRepository
	actions    *mocks.ActionRunner
	orch       *engine.Orchestrator
	service    *ApprovalService

	alice models.Recipient
	bob   models.Recipient
}

// newApprovalFixture wires a real orchestrator as the resumer and
// leaves an execution blocked on the given approval step.
func newApprovalFixture(t *testing.T, cfg models.ApprovalConfig) (*approvalFixture, *models.WorkflowExecution, uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	f := &approvalFixture{
		workflows:  mocks.NewWorkflowRepository(),
		executions: mocks.NewExecutionRepository(),
		approvals:  mocks.NewApprovalRepository(),
		actions:    mocks.NewActionRunner(),
		alice:      models.Recipient{ID: uuid.New(), Name: "Alice", Email: "alice@example.com"},
		bob:        models.Recipient{ID: uuid.New(), Name: "Bob", Email: "bob@example.com"},
	}

	log := logger.NewForTesting()
	entities := mocks.NewEntityStore()
	notifier := mocks.NewNotificationAdapter()
	resolver := &mocks.StaticRecipientResolver{Recipients: []models.Recipient{f.alice, f.bob}}
	stepEngine := engine.NewStepEngine(f.executions, f.approvals, notifier, resolver, f.actions, log)
	f.orch = engine.NewOrchestrator(f.workflows, f.executions, entities, f.approvals, stepEngine, engine.NewMemoryLocker(), log)
	f.service = NewApprovalService(f.approvals, f.executions, f.workflows, f.orch, log)

	wf := &models.AdvancedWorkflow{
		ID:          uuid.New(),
		Name:        "approval workflow",
		Version:     1,
		TargetModel: "document",
		IsActive:    true,
	}
	steps := []models.WorkflowStepDefinition{
		{
			ID:         uuid.New(),
			WorkflowID: wf.ID,
			StepOrder:  1,
			Name:       "manager approval",
			StepType:   models.StepTypeApproval,
			IsRequired: true,
			IsActive:   true,
			Config:     models.StepConfig{Approval: &cfg},
		},
		{
			ID:         uuid.New(),
			WorkflowID: wf.ID,
			StepOrder:  2,
			Name:       "mark reviewed",
			StepType:   models.StepTypeAction,
			IsRequired: true,
			IsActive:   true,
			Config: models.StepConfig{
				Action: &models.ActionConfig{Type: models.ActionUpdateFields, Fields: map[string]interface{}{"reviewed": true}},
			},
		},
	}
	require.NoError(t, f.workflows.CreateWorkflowWithSteps(ctx, wf, steps))

	require.NoError(t, f.orch.OnEvent(ctx, &models.EventContext{
		EntityType: "document",
		EntityID:   "42",
		EventName:  "created",
	}))

	execs, _, err := f.executions.ListExecutions(ctx, &wf.ID, nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	exec := &execs[0]
	require.Equal(t, models.ExecutionStatusInProgress, exec.Status)

	stepExecs, err := f.executions.ListStepExecutions(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, stepExecs, 1)

	return f, exec, stepExecs[0].ID
}

func (f *approvalFixture) executionStatus(t *testing.T, id uuid.UUID) models.ExecutionStatus {
	t.Helper()

	exec, err := f.executions.GetExecutionByID(context.Background(), id)
	require.NoError(t, err)
	return exec.Status
}

func TestApprovalService_SingleQuorum(t *testing.T) {
	ctx := context.Background()
	f, exec, stepExecID := newApprovalFixture(t, models.ApprovalConfig{
		ApprovalType: models.ApprovalTypeSingle,
		Approvers:    models.RecipientConfig{Type: models.RecipientRoles, Roles: []string{"manager"}},
	})

	pending, err := f.service.ListPendingForApprover(ctx, f.alice.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	actor := &models.Actor{ID: f.alice.ID, Name: "Alice"}
	require.NoError(t, f.service.Decide(ctx, stepExecID, actor, true, nil))

	// First decision resolves the step; the workflow ran to the end.
	assert.Equal(t, models.ExecutionStatusCompleted, f.executionStatus(t, exec.ID))
	assert.Equal(t, 1, f.actions.CallCount())

	// Bob's untouched slot was superseded.
	decisions, err := f.approvals.ListDecisionsByStep(ctx, stepExecID)
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	for _, d := range decisions {
		switch d.ApproverID {
		case f.alice.ID:
			assert.Equal(t, models.ApprovalStatusApproved, d.Status)
		case f.bob.ID:
			assert.Equal(t, models.ApprovalStatusSuperseded, d.Status)
		}
	}

	pending, err = f.service.ListPendingForApprover(ctx, f.bob.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestApprovalService_SingleQuorumRejection(t *testing.T) {
	ctx := context.Background()
	f, exec, stepExecID := newApprovalFixture(t, models.ApprovalConfig{
		ApprovalType: models.ApprovalTypeSingle,
		Approvers:    models.RecipientConfig{Type: models.RecipientRoles, Roles: []string{"manager"}},
	})

	reason := "budget exceeded"
	actor := &models.Actor{ID: f.bob.ID, Name: "Bob"}
	require.NoError(t, f.service.Decide(ctx, stepExecID, actor, false, &reason))

	assert.Equal(t, models.ExecutionStatusFailed, f.executionStatus(t, exec.ID))
	assert.Equal(t, 0, f.actions.CallCount())
}

func TestApprovalService_AllQuorum(t *testing.T) {
	ctx := context.Background()

	t.Run("waits for every approver", func(t *testing.T) {
		f, exec, stepExecID := newApprovalFixture(t, models.ApprovalConfig{
			ApprovalType: models.ApprovalTypeAll,
			Approvers:    models.RecipientConfig{Type: models.RecipientRoles, Roles: []string{"manager"}},
		})

		require.NoError(t, f.service.Decide(ctx, stepExecID, &models.Actor{ID: f.alice.ID}, true, nil))
		assert.Equal(t, models.ExecutionStatusInProgress, f.executionStatus(t, exec.ID))

		require.NoError(t, f.service.Decide(ctx, stepExecID, &models.Actor{ID: f.bob.ID}, true, nil))
		assert.Equal(t, models.ExecutionStatusCompleted, f.executionStatus(t, exec.ID))
	})

	t.Run("one rejection resolves immediately", func(t *testing.T) {
		f, exec, stepExecID := newApprovalFixture(t, models.ApprovalConfig{
			ApprovalType: models.ApprovalTypeAll,
			Approvers:    models.RecipientConfig{Type: models.RecipientRoles, Roles: []string{"manager"}},
		})

		require.NoError(t, f.service.Decide(ctx, stepExecID, &models.Actor{ID: f.alice.ID}, false, nil))
		assert.Equal(t, models.ExecutionStatusFailed, f.executionStatus(t, exec.ID))

		// Bob's slot is closed, not decidable.
		err := f.service.Decide(ctx, stepExecID, &models.Actor{ID: f.bob.ID}, true, nil)
		assert.Error(t, err)
	})
}

func TestApprovalService_DecideGuards(t *testing.T) {
	ctx := context.Background()
	f, _, stepExecID := newApprovalFixture(t, models.ApprovalConfig{
		ApprovalType: models.ApprovalTypeAll,
		Approvers:    models.RecipientConfig{Type: models.RecipientRoles, Roles: []string{"manager"}},
	})

	t.Run("nil actor", func(t *testing.T) {
		err := f.service.Decide(ctx, stepExecID, nil, true, nil)
		assert.True(t, errors.Is(err, engine.ErrForbidden))
	})

	t.Run("non-approver", func(t *testing.T) {
		stranger := &models.Actor{ID: uuid.New(), Name: "Mallory"}
		err := f.service.Decide(ctx, stepExecID, stranger, true, nil)
		assert.True(t, errors.Is(err, engine.ErrForbidden))
	})

	t.Run("unknown step execution", func(t *testing.T) {
		err := f.service.Decide(ctx, uuid.New(), &models.Actor{ID: f.alice.ID}, true, nil)
		assert.True(t, errors.Is(err, engine.ErrNotFound))
	})

	t.Run("double decide", func(t *testing.T) {
		actor := &models.Actor{ID: f.alice.ID, Name: "Alice"}
		require.NoError(t, f.service.Decide(ctx, stepExecID, actor, true, nil))
		err := f.service.Decide(ctx, stepExecID, actor, true, nil)
		assert.Error(t, err)
	})
}

// expireAllSlots backdates every pending slot so the sweep sees them.
func expireAllSlots(t *testing.T, f *approvalFixture, stepExecID uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	decisions, err := f.approvals.ListDecisionsByStep(ctx, stepExecID)
	require.NoError(t, err)
	past := time.Now().Add(-time.Hour)
	for i := range decisions {
		decisions[i].ExpiresAt = &past
		require.NoError(t, f.approvals.UpdateDecision(ctx, &decisions[i]))
	}
}

func TestApprovalService_ExpireOverdue(t *testing.T) {
	ctx := context.Background()

	t.Run("default policy fails the step", func(t *testing.T) {
		f, exec, stepExecID := newApprovalFixture(t, models.ApprovalConfig{
			ApprovalType: models.ApprovalTypeSingle,
			Approvers:    models.RecipientConfig{Type: models.RecipientRoles, Roles: []string{"manager"}},
			TimeoutHours: 24,
		})
		expireAllSlots(t, f, stepExecID)

		require.NoError(t, f.service.ExpireOverdue(ctx, 100))

		assert.Equal(t, models.ExecutionStatusFailed, f.executionStatus(t, exec.ID))

		stepExecs, err := f.executions.ListStepExecutions(ctx, exec.ID)
		require.NoError(t, err)
		require.Len(t, stepExecs, 1)
		assert.Equal(t, models.StepStatusFailed, stepExecs[0].Status)
		require.NotNil(t, stepExecs[0].CompletedBy)
		assert.Equal(t, "system:timeout", *stepExecs[0].CompletedBy)

		decisions, err := f.approvals.ListDecisionsByStep(ctx, stepExecID)
		require.NoError(t, err)
		for _, d := range decisions {
			assert.Equal(t, models.ApprovalStatusExpired, d.Status)
		}
	})

	t.Run("approve policy auto-approves", func(t *testing.T) {
		f, exec, stepExecID := newApprovalFixture(t, models.ApprovalConfig{
			ApprovalType: models.ApprovalTypeSingle,
			Approvers:    models.RecipientConfig{Type: models.RecipientRoles, Roles: []string{"manager"}},
			TimeoutHours: 24,
			OnTimeout:    models.TimeoutPolicyApprove,
		})
		expireAllSlots(t, f, stepExecID)

		require.NoError(t, f.service.ExpireOverdue(ctx, 100))

		assert.Equal(t, models.ExecutionStatusCompleted, f.executionStatus(t, exec.ID))
		assert.Equal(t, 1, f.actions.CallCount())

		stepExecs, err := f.executions.ListStepExecutions(ctx, exec.ID)
		require.NoError(t, err)
		require.NotNil(t, stepExecs[0].CompletedBy)
		assert.Equal(t, "system:timeout", *stepExecs[0].CompletedBy)
	})

	t.Run("re-running the sweep is harmless", func(t *testing.T) {
		f, exec, stepExecID := newApprovalFixture(t, models.ApprovalConfig{
			ApprovalType: models.ApprovalTypeSingle,
			Approvers:    models.RecipientConfig{Type: models.RecipientRoles, Roles: []string{"manager"}},
			TimeoutHours: 24,
		})
		expireAllSlots(t, f, stepExecID)

		require.NoError(t, f.service.ExpireOverdue(ctx, 100))
		require.NoError(t, f.service.ExpireOverdue(ctx, 100))

		assert.Equal(t, models.ExecutionStatusFailed, f.executionStatus(t, exec.ID))
	})
}
