package engine_test

import (
	"context"
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

type stepFixture struct {
	repo       *mocks.ExecutionRepository
	approvals  *mocks.ApprovalRepository
	notifier   *mocks.NotificationAdapter
	recipients *mocks.StaticRecipientResolver
	actions    *mocks.ActionRunner
	engine     *engine.StepEngine
}

func newStepFixture() *stepFixture {
	f := &stepFixture{
		repo:      mocks.NewExecutionRepository(),
		approvals: mocks.NewApprovalRepository(),
		notifier:  mocks.NewNotificationAdapter(),
		recipients: &mocks.StaticRecipientResolver{
			Recipients: []models.Recipient{
				{ID: uuid.New(), Name: "Alice", Email: "alice@example.com"},
				{ID: uuid.New(), Name: "Bob", Email: "bob@example.com"},
			},
		},
		actions: mocks.NewActionRunner(),
	}
	f.engine = engine.NewStepEngine(f.repo, f.approvals, f.notifier, f.recipients, f.actions, logger.NewForTesting())
	return f
}

func stepDef(stepType models.StepType, cfg models.StepConfig) *models.WorkflowStepDefinition {
	return &models.WorkflowStepDefinition{
		ID:         uuid.New(),
		WorkflowID: uuid.New(),
		StepOrder:  1,
		Name:       "test step",
		StepType:   stepType,
		Config:     cfg,
		IsRequired: true,
		IsActive:   true,
	}
}

func liveStepExec(def *models.WorkflowStepDefinition, exec *models.WorkflowExecution) *models.StepExecution {
	return &models.StepExecution{
		ID:          uuid.New(),
		ExecutionID: exec.ID,
		StepID:      def.ID,
		StepOrder:   def.StepOrder,
		StepType:    def.StepType,
		Status:      models.StepStatusInProgress,
		StartedAt:   time.Now(),
	}
}

func testExecution() *models.WorkflowExecution {
	return &models.WorkflowExecution{
		ID:          uuid.New(),
		WorkflowID:  uuid.New(),
		TargetModel: "document",
		TargetID:    "42",
		Status:      models.ExecutionStatusInProgress,
	}
}

func testEvent() *models.EventContext {
	return &models.EventContext{
		EntityType: "document",
		EntityID:   "42",
		EventName:  "created",
		Snapshot:   models.JSONB{"title": "Q3 report", "total": 150.0},
	}
}

func TestStepEngine_Notification(t *testing.T) {
	ctx := context.Background()

	t.Run("renders and sends to resolved recipients", func(t *testing.T) {
		f := newStepFixture()
		def := stepDef(models.StepTypeNotification, models.StepConfig{
			Notification: &models.NotificationConfig{
				TemplateKey: "document_submitted",
				Recipients:  models.RecipientConfig{Type: models.RecipientCreator},
			},
		})
		exec := testExecution()

		outcome, err := f.engine.Execute(ctx, def, liveStepExec(def, exec), exec, testEvent())
		require.NoError(t, err)

		assert.Equal(t, models.StepStatusCompleted, outcome.Status)
		assert.Equal(t, 1, f.notifier.SendCalls)
		assert.Len(t, outcome.Notifications, 2)
	})

	t.Run("delivery failure does not fail the step", func(t *testing.T) {
		f := newStepFixture()
		f.notifier.SendErr = fmt.Errorf("smtp connection refused")
		def := stepDef(models.StepTypeNotification, models.StepConfig{
			Notification: &models.NotificationConfig{
				TemplateKey: "document_submitted",
				Recipients:  models.RecipientConfig{Type: models.RecipientCreator},
			},
		})
		exec := testExecution()

		outcome, err := f.engine.Execute(ctx, def, liveStepExec(def, exec), exec, testEvent())
		require.NoError(t, err)

		assert.Equal(t, models.StepStatusCompleted, outcome.Status)
		assert.Contains(t, outcome.Output, "delivery_error")
		// The per-recipient records carry the error.
		assert.Contains(t, outcome.Notifications[0], "error")
	})

	t.Run("render failure is a configuration error and fails the step", func(t *testing.T) {
		f := newStepFixture()
		f.notifier.RenderErr = fmt.Errorf("template not found")
		def := stepDef(models.StepTypeNotification, models.StepConfig{
			Notification: &models.NotificationConfig{
				TemplateKey: "nope",
				Recipients:  models.RecipientConfig{Type: models.RecipientCreator},
			},
		})
		exec := testExecution()

		outcome, err := f.engine.Execute(ctx, def, liveStepExec(def, exec), exec, testEvent())
		require.NoError(t, err)

		assert.Equal(t, models.StepStatusFailed, outcome.Status)
		assert.Equal(t, 0, f.notifier.SendCalls)
	})

	t.Run("send config error fails the step", func(t *testing.T) {
		f := newStepFixture()
		f.notifier.SendErr = fmt.Errorf("%w: smtp host not configured", engine.ErrNotificationConfig)
		def := stepDef(models.StepTypeNotification, models.StepConfig{
			Notification: &models.NotificationConfig{
				TemplateKey: "document_submitted",
				Recipients:  models.RecipientConfig{Type: models.RecipientCreator},
			},
		})
		exec := testExecution()

		outcome, err := f.engine.Execute(ctx, def, liveStepExec(def, exec), exec, testEvent())
		require.NoError(t, err)

		assert.Equal(t, models.StepStatusFailed, outcome.Status)
	})

	t.Run("no recipients completes with a note", func(t *testing.T) {
		f := newStepFixture()
		f.recipients.Recipients = nil
		def := stepDef(models.StepTypeNotification, models.StepConfig{
			Notification: &models.NotificationConfig{
				TemplateKey: "document_submitted",
				Recipients:  models.RecipientConfig{Type: models.RecipientCreator},
			},
		})
		exec := testExecution()

		outcome, err := f.engine.Execute(ctx, def, liveStepExec(def, exec), exec, testEvent())
		require.NoError(t, err)

		assert.Equal(t, models.StepStatusCompleted, outcome.Status)
		assert.Equal(t, 0, f.notifier.SendCalls)
	})

	t.Run("terminal step execution replays the stored outcome", func(t *testing.T) {
		f := newStepFixture()
		def := stepDef(models.StepTypeNotification, models.StepConfig{
			Notification: &models.NotificationConfig{
				TemplateKey: "document_submitted",
				Recipients:  models.RecipientConfig{Type: models.RecipientCreator},
			},
		})
		exec := testExecution()
		now := time.Now()
		stepExec := liveStepExec(def, exec)
		stepExec.Status = models.StepStatusCompleted
		stepExec.OutputData = models.JSONB{"template_key": "document_submitted"}
		stepExec.CompletedAt = &now

		outcome, err := f.engine.Execute(ctx, def, stepExec, exec, testEvent())
		require.NoError(t, err)

		assert.Equal(t, models.StepStatusCompleted, outcome.Status)
		assert.Equal(t, stepExec.OutputData, outcome.Output)
		// No side effect may run twice.
		assert.Equal(t, 0, f.notifier.SendCalls)
	})
}

func TestStepEngine_Approval(t *testing.T) {
	ctx := context.Background()

	t.Run("creates one pending slot per approver and blocks", func(t *testing.T) {
		f := newStepFixture()
		def := stepDef(models.StepTypeApproval, models.StepConfig{
			Approval: &models.ApprovalConfig{
				ApprovalType: models.ApprovalTypeSingle,
				Approvers:    models.RecipientConfig{Type: models.RecipientRoles, Roles: []string{"manager"}},
				TimeoutHours: 24,
			},
		})
		exec := testExecution()
		stepExec := liveStepExec(def, exec)

		outcome, err := f.engine.Execute(ctx, def, stepExec, exec, testEvent())
		require.NoError(t, err)

		assert.Equal(t, models.StepStatusInProgress, outcome.Status)
		assert.Len(t, outcome.AssignedTo, 2)
		require.NotNil(t, outcome.DueAt)
		assert.WithinDuration(t, time.Now().Add(24*time.Hour), *outcome.DueAt, time.Minute)

		decisions, err := f.approvals.ListDecisionsByStep(ctx, stepExec.ID)
		require.NoError(t, err)
		assert.Len(t, decisions, 2)
		for _, d := range decisions {
			assert.Equal(t, models.ApprovalStatusPending, d.Status)
			assert.Equal(t, exec.ID, d.ExecutionID)
		}

		// Approvers get notified once.
		assert.Equal(t, 1, f.notifier.SendCalls)
	})

	t.Run("re-entry with existing slots is a no-op", func(t *testing.T) {
		f := newStepFixture()
		def := stepDef(models.StepTypeApproval, models.StepConfig{
			Approval: &models.ApprovalConfig{
				ApprovalType: models.ApprovalTypeAll,
				Approvers:    models.RecipientConfig{Type: models.RecipientRoles, Roles: []string{"manager"}},
			},
		})
		exec := testExecution()
		stepExec := liveStepExec(def, exec)

		_, err := f.engine.Execute(ctx, def, stepExec, exec, testEvent())
		require.NoError(t, err)

		outcome, err := f.engine.Execute(ctx, def, stepExec, exec, testEvent())
		require.NoError(t, err)

		assert.Equal(t, models.StepStatusInProgress, outcome.Status)
		decisions, err := f.approvals.ListDecisionsByStep(ctx, stepExec.ID)
		require.NoError(t, err)
		assert.Len(t, decisions, 2)
		assert.Equal(t, 1, f.notifier.SendCalls)
	})

	t.Run("no approvers fails the step", func(t *testing.T) {
		f := newStepFixture()
		f.recipients.Recipients = nil
		def := stepDef(models.StepTypeApproval, models.StepConfig{
			Approval: &models.ApprovalConfig{
				ApprovalType: models.ApprovalTypeSingle,
				Approvers:    models.RecipientConfig{Type: models.RecipientRoles, Roles: []string{"manager"}},
			},
		})
		exec := testExecution()

		outcome, err := f.engine.Execute(ctx, def, liveStepExec(def, exec), exec, testEvent())
		require.NoError(t, err)
		assert.Equal(t, models.StepStatusFailed, outcome.Status)
	})
}

func TestStepEngine_Action(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		cfg      models.ActionConfig
		wantKind string
	}{
		{
			name:     "update fields",
			cfg:      models.ActionConfig{Type: models.ActionUpdateFields, Fields: map[string]interface{}{"status": "reviewed"}},
			wantKind: "update_fields",
		},
		{
			name:     "create record",
			cfg:      models.ActionConfig{Type: models.ActionCreateRecord, Relation: "comments", Record: map[string]interface{}{"body": "auto"}},
			wantKind: "create_record",
		},
		{
			name:     "invoke method",
			cfg:      models.ActionConfig{Type: models.ActionInvokeMethod, Method: "archive"},
			wantKind: "invoke_method",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newStepFixture()
			def := stepDef(models.StepTypeAction, models.StepConfig{Action: &tt.cfg})
			exec := testExecution()

			outcome, err := f.engine.Execute(ctx, def, liveStepExec(def, exec), exec, testEvent())
			require.NoError(t, err)

			assert.Equal(t, models.StepStatusCompleted, outcome.Status)
			require.Equal(t, 1, f.actions.CallCount())
			assert.Equal(t, tt.wantKind, f.actions.Calls[0].Kind)
			assert.Equal(t, "document", f.actions.Calls[0].ModelType)
			assert.Equal(t, "42", f.actions.Calls[0].EntityID)
		})
	}

	t.Run("runner failure fails the step", func(t *testing.T) {
		f := newStepFixture()
		f.actions.FailErr = fmt.Errorf("entity is locked")
		def := stepDef(models.StepTypeAction, models.StepConfig{
			Action: &models.ActionConfig{Type: models.ActionUpdateFields, Fields: map[string]interface{}{"x": 1}},
		})
		exec := testExecution()

		outcome, err := f.engine.Execute(ctx, def, liveStepExec(def, exec), exec, testEvent())
		require.NoError(t, err)
		assert.Equal(t, models.StepStatusFailed, outcome.Status)
	})
}

func TestStepEngine_ConditionGate(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		value    interface{}
		wantPass bool
	}{
		{"gate open", 150.0, true},
		{"gate closed", 50.0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newStepFixture()
			def := stepDef(models.StepTypeCondition, models.StepConfig{
				Condition: &models.ConditionConfig{
					Gate: models.Conditions{
						Fields: []models.FieldCondition{{Field: "total", Operator: ">", Value: 100}},
					},
				},
			})
			exec := testExecution()
			ec := testEvent()
			ec.Snapshot["total"] = tt.value

			outcome, err := f.engine.Execute(ctx, def, liveStepExec(def, exec), exec, ec)
			require.NoError(t, err)

			assert.Equal(t, models.StepStatusSkipped, outcome.Status)
			assert.Equal(t, tt.wantPass, outcome.Output["pass"])
		})
	}
}

func TestStepEngine_Wait(t *testing.T) {
	ctx := context.Background()

	t.Run("delay before due stays in progress with due_at", func(t *testing.T) {
		f := newStepFixture()
		def := stepDef(models.StepTypeWait, models.StepConfig{
			Wait: &models.WaitConfig{Mode: models.WaitModeDelay, Duration: "1h"},
		})
		exec := testExecution()

		outcome, err := f.engine.Execute(ctx, def, liveStepExec(def, exec), exec, testEvent())
		require.NoError(t, err)

		assert.Equal(t, models.StepStatusInProgress, outcome.Status)
		require.NotNil(t, outcome.DueAt)
		assert.WithinDuration(t, time.Now().Add(time.Hour), *outcome.DueAt, time.Minute)
	})

	t.Run("delay past due completes", func(t *testing.T) {
		f := newStepFixture()
		def := stepDef(models.StepTypeWait, models.StepConfig{
			Wait: &models.WaitConfig{Mode: models.WaitModeDelay, Duration: "1h"},
		})
		exec := testExecution()
		stepExec := liveStepExec(def, exec)
		due := time.Now().Add(-time.Minute)
		stepExec.DueAt = &due

		outcome, err := f.engine.Execute(ctx, def, stepExec, exec, testEvent())
		require.NoError(t, err)
		assert.Equal(t, models.StepStatusCompleted, outcome.Status)
	})

	t.Run("invalid delay duration fails the step", func(t *testing.T) {
		f := newStepFixture()
		def := stepDef(models.StepTypeWait, models.StepConfig{
			Wait: &models.WaitConfig{Mode: models.WaitModeDelay, Duration: "tomorrow"},
		})
		exec := testExecution()

		outcome, err := f.engine.Execute(ctx, def, liveStepExec(def, exec), exec, testEvent())
		require.NoError(t, err)
		assert.Equal(t, models.StepStatusFailed, outcome.Status)
	})

	t.Run("condition wait clears when the condition holds", func(t *testing.T) {
		f := newStepFixture()
		def := stepDef(models.StepTypeWait, models.StepConfig{
			Wait: &models.WaitConfig{
				Mode: models.WaitModeCondition,
				Until: &models.Conditions{
					Fields: []models.FieldCondition{{Field: "total", Operator: ">", Value: 100}},
				},
			},
		})
		exec := testExecution()

		outcome, err := f.engine.Execute(ctx, def, liveStepExec(def, exec), exec, testEvent())
		require.NoError(t, err)
		assert.Equal(t, models.StepStatusCompleted, outcome.Status)

		ec := testEvent()
		ec.Snapshot["total"] = 10.0
		outcome, err = f.engine.Execute(ctx, def, liveStepExec(def, exec), exec, ec)
		require.NoError(t, err)
		assert.Equal(t, models.StepStatusInProgress, outcome.Status)
	})

	t.Run("manual wait always blocks", func(t *testing.T) {
		f := newStepFixture()
		def := stepDef(models.StepTypeWait, models.StepConfig{
			Wait: &models.WaitConfig{Mode: models.WaitModeManual},
		})
		exec := testExecution()

		outcome, err := f.engine.Execute(ctx, def, liveStepExec(def, exec), exec, testEvent())
		require.NoError(t, err)
		assert.Equal(t, models.StepStatusInProgress, outcome.Status)
	})
}
