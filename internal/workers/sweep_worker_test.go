package workers

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docflowhq/docflow/internal/engine"
	"github.com/docflowhq/docflow/internal/mocks"
	"github.com/docflowhq/docflow/internal/models"
	"github.com/docflowhq/docflow/internal/services"
	"github.com/docflowhq/docflow/pkg/logger"
)

type sweepFixture struct {
	workflows  *mocks.WorkflowRepository
	executions *mocks.ExecutionRepository
	actions    *mocks.ActionRunner
	orch       *engine.Orchestrator
	approvals  *services.ApprovalService
}

func newSweepFixture() *sweepFixture {
	workflows := mocks.NewWorkflowRepository()
	executions := mocks.NewExecutionRepository()
	entities := mocks.NewEntityStore()
	approvalRepo := mocks.NewApprovalRepository()
	actions := mocks.NewActionRunner()

	log := logger.NewForTesting()
	recipients := &mocks.StaticRecipientResolver{
		Recipients: []models.Recipient{{ID: uuid.New(), Name: "Alice", Email: "alice@example.com"}},
	}
	stepEngine := engine.NewStepEngine(executions, approvalRepo, mocks.NewNotificationAdapter(), recipients, actions, log)
	orch := engine.NewOrchestrator(workflows, executions, entities, approvalRepo, stepEngine, engine.NewMemoryLocker(), log)

	return &sweepFixture{
		workflows:  workflows,
		executions: executions,
		actions:    actions,
		orch:       orch,
		approvals:  services.NewApprovalService(approvalRepo, executions, workflows, orch, log),
	}
}

func TestSweepWorker_ReleasesDueWaits(t *testing.T) {
	ctx := context.Background()
	f := newSweepFixture()

	wf := &models.AdvancedWorkflow{
		ID:              uuid.New(),
		Name:            "delayed follow-up",
		Version:         1,
		TargetModel:     "document",
		IsActive:        true,
		GlobalVariables: models.JSONB{},
		CreatedAt:       time.Now(),
	}
	steps := []models.WorkflowStepDefinition{
		{
			ID:         uuid.New(),
			WorkflowID: wf.ID,
			StepOrder:  1,
			Name:       "cool off",
			StepType:   models.StepTypeWait,
			IsRequired: true,
			IsActive:   true,
			Config: models.StepConfig{
				Wait: &models.WaitConfig{Mode: models.WaitModeDelay, Duration: "30ms"},
			},
		},
		{
			ID:         uuid.New(),
			WorkflowID: wf.ID,
			StepOrder:  2,
			Name:       "follow up",
			StepType:   models.StepTypeAction,
			IsRequired: true,
			IsActive:   true,
			Config: models.StepConfig{
				Action: &models.ActionConfig{
					Type:   models.ActionUpdateFields,
					Fields: map[string]interface{}{"followed_up": true},
				},
			},
		},
	}
	require.NoError(t, f.workflows.CreateWorkflowWithSteps(ctx, wf, steps))

	require.NoError(t, f.orch.OnEvent(ctx, &models.EventContext{
		EntityType: "document",
		EntityID:   "42",
		EventName:  "created",
		Snapshot:   models.JSONB{"title": "Q3 report"},
	}))

	execs, _, err := f.executions.ListExecutions(ctx, &wf.ID, nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	require.Equal(t, models.ExecutionStatusInProgress, execs[0].Status)

	worker := NewSweepWorker(f.approvals, f.orch, logger.NewForTesting(), 20*time.Millisecond, 100)
	worker.Start(ctx)
	defer worker.Stop()

	require.Eventually(t, func() bool {
		execs, _, err := f.executions.ListExecutions(ctx, &wf.ID, nil, 10, 0)
		return err == nil && len(execs) == 1 && execs[0].Status == models.ExecutionStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, f.actions.CallCount())
}

func TestSweepWorker_StopIsClean(t *testing.T) {
	f := newSweepFixture()
	worker := NewSweepWorker(f.approvals, f.orch, logger.NewForTesting(), 10*time.Millisecond, 100)

	worker.Start(context.Background())
	time.Sleep(30 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		worker.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop in time")
	}
}

func TestNewSweepWorker_Defaults(t *testing.T) {
	f := newSweepFixture()
	worker := NewSweepWorker(f.approvals, f.orch, logger.NewForTesting(), 0, 0)

	assert.Equal(t, time.Minute, worker.sweepInterval)
	assert.Equal(t, 100, worker.batchSize)
}
