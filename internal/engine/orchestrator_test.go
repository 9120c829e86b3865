package engine_test

import (
	"context"
	"errors"
	"fmt"
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

type orchFixture struct {
	workflows  *mocks.WorkflowRepository
	executions *mocks.ExecutionRepository
	entities   *mocks.EntityStore
	approvals  *mocks.ApprovalRepository
	notifier   *mocks.NotificationAdapter
	actions    *mocks.ActionRunner
	orch       *engine.Orchestrator
}

func newOrchFixture() *orchFixture {
	f := &orchFixture{
		workflows:  mocks.NewWorkflowRepository(),
		executions: mocks.NewExecutionRepository(),
		entities:   mocks.NewEntityStore(),
		approvals:  mocks.NewApprovalRepository(),
		notifier:   mocks.NewNotificationAdapter(),
		actions:    mocks.NewActionRunner(),
	}

	log := logger.NewForTesting()
	recipients := &mocks.StaticRecipientResolver{
		Recipients: []models.Recipient{
			{ID: uuid.New(), Name: "Alice", Email: "alice@example.com"},
			{ID: uuid.New(), Name: "Bob", Email: "bob@example.com"},
		},
	}
	stepEngine := engine.NewStepEngine(f.executions, f.approvals, f.notifier, recipients, f.actions, log)
	f.orch = engine.NewOrchestrator(f.workflows, f.executions, f.entities, f.approvals, stepEngine, engine.NewMemoryLocker(), log)
	return f
}

func (f *orchFixture) addWorkflow(t *testing.T, trigger *models.Conditions, steps ...models.WorkflowStepDefinition) *models.AdvancedWorkflow {
	t.Helper()

	wf := &models.AdvancedWorkflow{
		ID:                uuid.New(),
		Name:              "review workflow",
		Version:           1,
		TargetModel:       "document",
		TriggerConditions: trigger,
		IsActive:          true,
		GlobalVariables:   models.JSONB{},
		CreatedAt:         time.Now(),
	}
	for i := range steps {
		steps[i].ID = uuid.New()
		steps[i].WorkflowID = wf.ID
		steps[i].IsActive = true
	}
	require.NoError(t, f.workflows.CreateWorkflowWithSteps(context.Background(), wf, steps))
	return wf
}

func (f *orchFixture) singleExecution(t *testing.T, workflowID uuid.UUID) *models.WorkflowExecution {
	t.Helper()

	execs, _, err := f.executions.ListExecutions(context.Background(), &workflowID, nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	return &execs[0]
}

func actionStep(order int, name string, required bool) models.WorkflowStepDefinition {
	return models.WorkflowStepDefinition{
		StepOrder:  order,
		Name:       name,
		StepType:   models.StepTypeAction,
		IsRequired: required,
		Config: models.StepConfig{
			Action: &models.ActionConfig{
				Type:   models.ActionUpdateFields,
				Fields: map[string]interface{}{"touched_by": name},
			},
		},
	}
}

func documentEvent(eventName string, snapshot models.JSONB) *models.EventContext {
	return &models.EventContext{
		EntityType: "document",
		EntityID:   "42",
		EventName:  eventName,
		Snapshot:   snapshot,
	}
}

func TestOrchestrator_RunsToCompletion(t *testing.T) {
	ctx := context.Background()
	f := newOrchFixture()
	wf := f.addWorkflow(t, nil,
		actionStep(1, "first", true),
		actionStep(2, "second", true),
	)

	err := f.orch.OnEvent(ctx, documentEvent("created", models.JSONB{"title": "Q3 report"}))
	require.NoError(t, err)

	exec := f.singleExecution(t, wf.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
	assert.NotNil(t, exec.StartedAt)
	assert.NotNil(t, exec.CompletedAt)
	assert.Equal(t, 2, f.actions.CallCount())
	assert.Contains(t, exec.StepResults, "step_1")
	assert.Contains(t, exec.StepResults, "step_2")

	// The event refreshed the entity projection.
	snapshot, err := f.entities.GetEntity(ctx, "document", "42")
	require.NoError(t, err)
	assert.Equal(t, "Q3 report", snapshot.Attributes["title"])
}

func TestOrchestrator_TriggerConditions(t *testing.T) {
	ctx := context.Background()

	t.Run("non-matching event creates no execution", func(t *testing.T) {
		f := newOrchFixture()
		wf := f.addWorkflow(t,
			&models.Conditions{TriggerEvents: []string{"created"}},
			actionStep(1, "first", true),
		)

		require.NoError(t, f.orch.OnEvent(ctx, documentEvent("deleted", nil)))

		execs, _, err := f.executions.ListExecutions(ctx, &wf.ID, nil, 10, 0)
		require.NoError(t, err)
		assert.Empty(t, execs)
	})

	t.Run("malformed trigger conditions never match", func(t *testing.T) {
		f := newOrchFixture()
		wf := f.addWorkflow(t,
			&models.Conditions{Fields: []models.FieldCondition{{Field: "total", Operator: "bogus"}}},
			actionStep(1, "first", true),
		)

		require.NoError(t, f.orch.OnEvent(ctx, documentEvent("created", models.JSONB{"total": 10.0})))

		execs, _, err := f.executions.ListExecutions(ctx, &wf.ID, nil, 10, 0)
		require.NoError(t, err)
		assert.Empty(t, execs)
	})
}

func TestOrchestrator_OneLiveExecutionPerTarget(t *testing.T) {
	ctx := context.Background()
	f := newOrchFixture()
	wf := f.addWorkflow(t, nil,
		models.WorkflowStepDefinition{
			StepOrder:  1,
			Name:       "hold",
			StepType:   models.StepTypeWait,
			IsRequired: true,
			Config:     models.StepConfig{Wait: &models.WaitConfig{Mode: models.WaitModeManual}},
		},
	)

	require.NoError(t, f.orch.OnEvent(ctx, documentEvent("created", nil)))
	require.NoError(t, f.orch.OnEvent(ctx, documentEvent("updated", nil)))

	exec := f.singleExecution(t, wf.ID)
	assert.Equal(t, models.ExecutionStatusInProgress, exec.Status)

	steps, err := f.executions.ListStepExecutions(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, models.StepStatusInProgress, steps[0].Status)

	actor := &models.Actor{ID: uuid.New(), Name: "ops"}
	require.NoError(t, f.orch.ReleaseWait(ctx, exec.ID, steps[0].ID, actor))

	exec = f.singleExecution(t, wf.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)

	// With no live execution left, the next event starts a new run.
	require.NoError(t, f.orch.OnEvent(ctx, documentEvent("updated", nil)))
	execs, _, err := f.executions.ListExecutions(ctx, &wf.ID, nil, 10, 0)
	require.NoError(t, err)
	assert.Len(t, execs, 2)
}

func TestOrchestrator_ConditionGateHaltsCompleted(t *testing.T) {
	ctx := context.Background()
	f := newOrchFixture()
	wf := f.addWorkflow(t, nil,
		models.WorkflowStepDefinition{
			StepOrder:  1,
			Name:       "amount gate",
			StepType:   models.StepTypeCondition,
			IsRequired: true,
			Config: models.StepConfig{
				Condition: &models.ConditionConfig{
					Gate: models.Conditions{
						Fields: []models.FieldCondition{{Field: "total", Operator: ">", Value: 100}},
					},
				},
			},
		},
		actionStep(2, "after gate", true),
	)

	require.NoError(t, f.orch.OnEvent(ctx, documentEvent("created", models.JSONB{"total": 50.0})))

	exec := f.singleExecution(t, wf.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
	assert.Nil(t, exec.ErrorMessage)
	// The step behind the closed gate never ran.
	assert.Equal(t, 0, f.actions.CallCount())

	steps, err := f.executions.ListStepExecutions(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, models.StepStatusSkipped, steps[0].Status)
	assert.Equal(t, false, steps[0].OutputData["pass"])
}

func TestOrchestrator_RequiredStepFailureFailsExecution(t *testing.T) {
	ctx := context.Background()
	f := newOrchFixture()
	f.actions.FailErr = fmt.Errorf("entity is locked")
	wf := f.addWorkflow(t, nil, actionStep(1, "first", true))

	require.NoError(t, f.orch.OnEvent(ctx, documentEvent("created", nil)))

	exec := f.singleExecution(t, wf.ID)
	assert.Equal(t, models.ExecutionStatusFailed, exec.Status)
	require.NotNil(t, exec.ErrorMessage)
	assert.Contains(t, *exec.ErrorMessage, "first")
}

func TestOrchestrator_OptionalStepFailureContinues(t *testing.T) {
	ctx := context.Background()
	f := newOrchFixture()
	f.actions.FailErr = fmt.Errorf("entity is locked")
	wf := f.addWorkflow(t, nil,
		actionStep(1, "optional side effect", false),
		models.WorkflowStepDefinition{
			StepOrder:  2,
			Name:       "notify",
			StepType:   models.StepTypeNotification,
			IsRequired: true,
			Config: models.StepConfig{
				Notification: &models.NotificationConfig{
					TemplateKey: "document_submitted",
					Recipients:  models.RecipientConfig{Type: models.RecipientCreator},
				},
			},
		},
	)

	require.NoError(t, f.orch.OnEvent(ctx, documentEvent("created", nil)))

	exec := f.singleExecution(t, wf.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, 1, f.notifier.SendCalls)
}

func TestOrchestrator_InvalidStepConditionsSkip(t *testing.T) {
	ctx := context.Background()
	f := newOrchFixture()
	wf := f.addWorkflow(t, nil,
		models.WorkflowStepDefinition{
			StepOrder:  1,
			Name:       "misconfigured",
			StepType:   models.StepTypeAction,
			IsRequired: true,
			Conditions: &models.Conditions{
				Fields: []models.FieldCondition{{Field: "total", Operator: "bogus"}},
			},
			Config: models.StepConfig{
				Action: &models.ActionConfig{Type: models.ActionUpdateFields, Fields: map[string]interface{}{"x": 1}},
			},
		},
		actionStep(2, "second", true),
	)

	require.NoError(t, f.orch.OnEvent(ctx, documentEvent("created", nil)))

	exec := f.singleExecution(t, wf.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
	// Only the second step's action ran.
	assert.Equal(t, 1, f.actions.CallCount())

	steps, err := f.executions.ListStepExecutions(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, models.StepStatusSkipped, steps[0].Status)
	assert.Contains(t, steps[0].OutputData, "condition_error")
}

func TestOrchestrator_CancelAndRestart(t *testing.T) {
	ctx := context.Background()
	f := newOrchFixture()
	wf := f.addWorkflow(t, nil,
		models.WorkflowStepDefinition{
			StepOrder:  1,
			Name:       "manager approval",
			StepType:   models.StepTypeApproval,
			IsRequired: true,
			Config: models.StepConfig{
				Approval: &models.ApprovalConfig{
					ApprovalType: models.ApprovalTypeSingle,
					Approvers:    models.RecipientConfig{Type: models.RecipientRoles, Roles: []string{"manager"}},
				},
			},
		},
	)

	require.NoError(t, f.orch.OnEvent(ctx, documentEvent("created", nil)))
	exec := f.singleExecution(t, wf.ID)
	require.Equal(t, models.ExecutionStatusInProgress, exec.Status)

	actorID := uuid.New()
	require.NoError(t, f.orch.Cancel(ctx, exec.ID, &actorID, "no longer needed"))

	cancelled, err := f.executions.GetExecutionByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelReason)
	assert.Equal(t, "no longer needed", *cancelled.CancelReason)

	steps, err := f.executions.ListStepExecutions(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, models.StepStatusCancelled, steps[0].Status)

	// Pending decision slots were superseded.
	decisions, err := f.approvals.ListDecisionsByStep(ctx, steps[0].ID)
	require.NoError(t, err)
	for _, d := range decisions {
		assert.Equal(t, models.ApprovalStatusSuperseded, d.Status)
	}

	// Cancelling twice is rejected.
	err = f.orch.Cancel(ctx, exec.ID, &actorID, "again")
	assert.True(t, errors.Is(err, engine.ErrNotCancellable))

	// Restart clones into a fresh run.
	clone, err := f.orch.Restart(ctx, exec.ID, &actorID)
	require.NoError(t, err)
	require.NotNil(t, clone.RestartedFrom)
	assert.Equal(t, exec.ID, *clone.RestartedFrom)
	assert.Equal(t, 2, clone.ExecutionCount)

	restarted, err := f.executions.GetExecutionByID(ctx, clone.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusInProgress, restarted.Status)

	// A live execution cannot be restarted.
	_, err = f.orch.Restart(ctx, clone.ID, &actorID)
	assert.True(t, errors.Is(err, engine.ErrNotRestartable))
}

func TestOrchestrator_ApprovalResolution(t *testing.T) {
	ctx := context.Background()

	approvalWorkflow := func(f *orchFixture, required bool) *models.AdvancedWorkflow {
		return f.addWorkflow(t, nil,
			models.WorkflowStepDefinition{
				StepOrder:  1,
				Name:       "manager approval",
				StepType:   models.StepTypeApproval,
				IsRequired: required,
				Config: models.StepConfig{
					Approval: &models.ApprovalConfig{
						ApprovalType: models.ApprovalTypeSingle,
						Approvers:    models.RecipientConfig{Type: models.RecipientRoles, Roles: []string{"manager"}},
					},
				},
			},
			actionStep(2, "after approval", true),
		)
	}

	t.Run("approval resumes and completes", func(t *testing.T) {
		f := newOrchFixture()
		wf := approvalWorkflow(f, true)

		require.NoError(t, f.orch.OnEvent(ctx, documentEvent("created", nil)))
		exec := f.singleExecution(t, wf.ID)
		require.Equal(t, models.ExecutionStatusInProgress, exec.Status)

		steps, err := f.executions.ListStepExecutions(ctx, exec.ID)
		require.NoError(t, err)
		require.Len(t, steps, 1)

		approver := uuid.New().String()
		err = f.orch.ResolveApprovalStep(ctx, exec.ID, steps[0].ID, true, approver,
			models.JSONB{"approval_type": "single", "decided_by": approver})
		require.NoError(t, err)

		exec = f.singleExecution(t, wf.ID)
		assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
		assert.Equal(t, 1, f.actions.CallCount())

		steps, err = f.executions.ListStepExecutions(ctx, exec.ID)
		require.NoError(t, err)
		require.Len(t, steps, 2)
		assert.Equal(t, models.StepStatusCompleted, steps[0].Status)
		require.NotNil(t, steps[0].CompletedBy)
		assert.Equal(t, approver, *steps[0].CompletedBy)
	})

	t.Run("rejection on a required step fails the execution", func(t *testing.T) {
		f := newOrchFixture()
		wf := approvalWorkflow(f, true)

		require.NoError(t, f.orch.OnEvent(ctx, documentEvent("created", nil)))
		exec := f.singleExecution(t, wf.ID)
		steps, err := f.executions.ListStepExecutions(ctx, exec.ID)
		require.NoError(t, err)

		err = f.orch.ResolveApprovalStep(ctx, exec.ID, steps[0].ID, false, uuid.New().String(),
			models.JSONB{"error": "approval rejected"})
		require.NoError(t, err)

		exec = f.singleExecution(t, wf.ID)
		assert.Equal(t, models.ExecutionStatusFailed, exec.Status)
		assert.Equal(t, 0, f.actions.CallCount())
	})

	t.Run("resolving an already resolved step is a no-op", func(t *testing.T) {
		f := newOrchFixture()
		wf := approvalWorkflow(f, true)

		require.NoError(t, f.orch.OnEvent(ctx, documentEvent("created", nil)))
		exec := f.singleExecution(t, wf.ID)
		steps, err := f.executions.ListStepExecutions(ctx, exec.ID)
		require.NoError(t, err)

		approver := uuid.New().String()
		require.NoError(t, f.orch.ResolveApprovalStep(ctx, exec.ID, steps[0].ID, true, approver, models.JSONB{}))
		require.NoError(t, f.orch.ResolveApprovalStep(ctx, exec.ID, steps[0].ID, false, approver, models.JSONB{}))

		exec = f.singleExecution(t, wf.ID)
		assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
		assert.Equal(t, 1, f.actions.CallCount())
	})
}

func TestOrchestrator_ReleaseDueWaits(t *testing.T) {
	ctx := context.Background()
	f := newOrchFixture()
	wf := f.addWorkflow(t, nil,
		models.WorkflowStepDefinition{
			StepOrder:  1,
			Name:       "cool down",
			StepType:   models.StepTypeWait,
			IsRequired: true,
			Config:     models.StepConfig{Wait: &models.WaitConfig{Mode: models.WaitModeDelay, Duration: "200ms"}},
		},
		actionStep(2, "after delay", true),
	)

	require.NoError(t, f.orch.OnEvent(ctx, documentEvent("created", nil)))
	exec := f.singleExecution(t, wf.ID)
	require.Equal(t, models.ExecutionStatusInProgress, exec.Status)

	// Sweeping before the delay elapses changes nothing.
	require.NoError(t, f.orch.ReleaseDueWaits(ctx, 10))
	exec = f.singleExecution(t, wf.ID)
	require.Equal(t, models.ExecutionStatusInProgress, exec.Status)

	time.Sleep(250 * time.Millisecond)
	require.NoError(t, f.orch.ReleaseDueWaits(ctx, 10))

	exec = f.singleExecution(t, wf.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, 1, f.actions.CallCount())
}

func TestOrchestrator_GetExecution(t *testing.T) {
	ctx := context.Background()
	f := newOrchFixture()
	wf := f.addWorkflow(t, nil,
		actionStep(1, "first", true),
		actionStep(2, "second", true),
	)

	require.NoError(t, f.orch.OnEvent(ctx, documentEvent("created", nil)))
	exec := f.singleExecution(t, wf.ID)

	progress, err := f.orch.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, exec.ID, progress.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, progress.Status)
	assert.Equal(t, 2, progress.TotalSteps)
	assert.Len(t, progress.Steps, 2)

	_, err = f.orch.GetExecution(ctx, uuid.New())
	assert.True(t, errors.Is(err, engine.ErrNotFound))
}
