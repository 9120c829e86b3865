package validators

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docflowhq/docflow/internal/models"
)

func validRequest() *models.CreateWorkflowRequest {
	return &models.CreateWorkflowRequest{
		Name:        "invoice review",
		TargetModel: "invoice",
		TriggerConditions: &models.Conditions{
			TriggerEvents: []string{"created"},
		},
		Steps: []models.CreateStepRequest{
			{
				StepOrder: 1,
				Name:      "notify finance",
				StepType:  models.StepTypeNotification,
				Config: models.StepConfig{
					Notification: &models.NotificationConfig{
						TemplateKey: "invoice_created",
						Recipients:  models.RecipientConfig{Type: models.RecipientRoles, Roles: []string{"finance"}},
					},
				},
				IsRequired: true,
			},
			{
				StepOrder: 2,
				Name:      "manager approval",
				StepType:  models.StepTypeApproval,
				Config: models.StepConfig{
					Approval: &models.ApprovalConfig{
						ApprovalType: models.ApprovalTypeSingle,
						Approvers:    models.RecipientConfig{Type: models.RecipientUsers, UserIDs: []uuid.UUID{uuid.New()}},
						TimeoutHours: 48,
						OnTimeout:    models.TimeoutPolicyFail,
					},
				},
				IsRequired: true,
			},
		},
	}
}

func TestWorkflowValidator_ValidateCreate(t *testing.T) {
	v := NewWorkflowValidator()

	t.Run("valid request", func(t *testing.T) {
		require.NoError(t, v.ValidateCreate(validRequest()))
	})

	tests := []struct {
		name    string
		mutate  func(req *models.CreateWorkflowRequest)
		wantErr string
	}{
		{
			name:    "missing name",
			mutate:  func(req *models.CreateWorkflowRequest) { req.Name = "" },
			wantErr: "invalid workflow request",
		},
		{
			name:    "missing target model",
			mutate:  func(req *models.CreateWorkflowRequest) { req.TargetModel = "" },
			wantErr: "invalid workflow request",
		},
		{
			name:    "no steps",
			mutate:  func(req *models.CreateWorkflowRequest) { req.Steps = nil },
			wantErr: "invalid workflow request",
		},
		{
			name: "duplicate step order",
			mutate: func(req *models.CreateWorkflowRequest) {
				req.Steps[1].StepOrder = req.Steps[0].StepOrder
			},
			wantErr: "duplicate step_order",
		},
		{
			name: "unknown operator in trigger conditions",
			mutate: func(req *models.CreateWorkflowRequest) {
				req.TriggerConditions = &models.Conditions{
					Fields: []models.FieldCondition{{Field: "total", Operator: "~="}},
				}
			},
			wantErr: "unknown operator",
		},
		{
			name: "empty field name in step conditions",
			mutate: func(req *models.CreateWorkflowRequest) {
				req.Steps[0].Conditions = &models.Conditions{
					Fields: []models.FieldCondition{{Field: "", Operator: "="}},
				}
			},
			wantErr: "empty field name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)
			err := v.ValidateCreate(req)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWorkflowValidator_ValidateConfig(t *testing.T) {
	v := NewWorkflowValidator()

	notification := &models.NotificationConfig{
		TemplateKey: "invoice_created",
		Recipients:  models.RecipientConfig{Type: models.RecipientCreator},
	}

	tests := []struct {
		name     string
		stepType models.StepType
		cfg      models.StepConfig
		wantErr  string
	}{
		{
			name:     "config variant must match step type",
			stepType: models.StepTypeApproval,
			cfg:      models.StepConfig{Notification: notification},
			wantErr:  "approval step needs an approval config",
		},
		{
			name:     "no variant",
			stepType: models.StepTypeNotification,
			cfg:      models.StepConfig{},
			wantErr:  "exactly one variant",
		},
		{
			name:     "two variants",
			stepType: models.StepTypeNotification,
			cfg: models.StepConfig{
				Notification: notification,
				Wait:         &models.WaitConfig{Mode: models.WaitModeManual},
			},
			wantErr: "exactly one variant",
		},
		{
			name:     "notification without template key",
			stepType: models.StepTypeNotification,
			cfg: models.StepConfig{
				Notification: &models.NotificationConfig{
					Recipients: models.RecipientConfig{Type: models.RecipientCreator},
				},
			},
			wantErr: "template_key is required",
		},
		{
			name:     "roles recipient without roles",
			stepType: models.StepTypeNotification,
			cfg: models.StepConfig{
				Notification: &models.NotificationConfig{
					TemplateKey: "x",
					Recipients:  models.RecipientConfig{Type: models.RecipientRoles},
				},
			},
			wantErr: "at least one role",
		},
		{
			name:     "unknown approval type",
			stepType: models.StepTypeApproval,
			cfg: models.StepConfig{
				Approval: &models.ApprovalConfig{
					ApprovalType: "majority",
					Approvers:    models.RecipientConfig{Type: models.RecipientCreator},
				},
			},
			wantErr: "unknown approval_type",
		},
		{
			name:     "negative approval timeout",
			stepType: models.StepTypeApproval,
			cfg: models.StepConfig{
				Approval: &models.ApprovalConfig{
					ApprovalType: models.ApprovalTypeAll,
					Approvers:    models.RecipientConfig{Type: models.RecipientCreator},
					TimeoutHours: -1,
				},
			},
			wantErr: "timeout_hours",
		},
		{
			name:     "unknown timeout policy",
			stepType: models.StepTypeApproval,
			cfg: models.StepConfig{
				Approval: &models.ApprovalConfig{
					ApprovalType: models.ApprovalTypeAll,
					Approvers:    models.RecipientConfig{Type: models.RecipientCreator},
					OnTimeout:    "escalate",
				},
			},
			wantErr: "unknown on_timeout",
		},
		{
			name:     "update_fields without fields",
			stepType: models.StepTypeAction,
			cfg: models.StepConfig{
				Action: &models.ActionConfig{Type: models.ActionUpdateFields},
			},
			wantErr: "at least one field",
		},
		{
			name:     "invoke_method without method",
			stepType: models.StepTypeAction,
			cfg: models.StepConfig{
				Action: &models.ActionConfig{Type: models.ActionInvokeMethod},
			},
			wantErr: "method name",
		},
		{
			name:     "condition step with empty gate",
			stepType: models.StepTypeCondition,
			cfg: models.StepConfig{
				Condition: &models.ConditionConfig{},
			},
			wantErr: "gate is empty",
		},
		{
			name:     "delay wait with bad duration",
			stepType: models.StepTypeWait,
			cfg: models.StepConfig{
				Wait: &models.WaitConfig{Mode: models.WaitModeDelay, Duration: "soon"},
			},
			wantErr: "invalid wait duration",
		},
		{
			name:     "condition wait without until",
			stepType: models.StepTypeWait,
			cfg: models.StepConfig{
				Wait: &models.WaitConfig{Mode: models.WaitModeCondition},
			},
			wantErr: "until condition",
		},
		{
			name:     "unknown wait mode",
			stepType: models.StepTypeWait,
			cfg: models.StepConfig{
				Wait: &models.WaitConfig{Mode: "poll"},
			},
			wantErr: "unknown wait mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateConfig(tt.stepType, &tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("manual wait needs no extras", func(t *testing.T) {
		err := v.ValidateConfig(models.StepTypeWait, &models.StepConfig{
			Wait: &models.WaitConfig{Mode: models.WaitModeManual},
		})
		assert.NoError(t, err)
	})
}
