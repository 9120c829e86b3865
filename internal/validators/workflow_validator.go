package validators

import (
	"fmt"
	"time"

	"github.com/docflowhq/docflow/internal/models"
	"github.com/go-playground/validator/v10"
)

// WorkflowValidator checks workflow definitions at save time. The
// engine assumes definitions are well-formed, so everything the struct
// tags cannot express (the tagged-union config, operator names, step
// ordering) is checked here.
type WorkflowValidator struct {
	validate *validator.Validate
}

// NewWorkflowValidator creates a workflow validator.
func NewWorkflowValidator() *WorkflowValidator {
	return &WorkflowValidator{validate: validator.New()}
}

var validOperators = map[string]bool{
	models.OpEqual: true, models.OpNotEqual: true,
	models.OpGreaterThan: true, models.OpLessThan: true,
	models.OpGreaterEqual: true, models.OpLessEqual: true,
	models.OpIn: true, models.OpNotIn: true,
	models.OpContains: true, models.OpStartsWith: true, models.OpEndsWith: true,
	models.OpChanged: true, models.OpChangedTo: true, models.OpChangedFrom: true,
	models.OpExists: true, models.OpNotExists: true,
}

// ValidateCreate checks a full create request: struct tags, condition
// trees, unique and contiguous enough step ordering, and one config
// variant per step matching its type.
func (v *WorkflowValidator) ValidateCreate(req *models.CreateWorkflowRequest) error {
	if err := v.validate.Struct(req); err != nil {
		return fmt.Errorf("invalid workflow request: %w", err)
	}

	if err := v.ValidateConditions(req.TriggerConditions); err != nil {
		return fmt.Errorf("trigger conditions: %w", err)
	}

	seenOrders := make(map[int]bool, len(req.Steps))
	for i := range req.Steps {
		step := &req.Steps[i]
		if seenOrders[step.StepOrder] {
			return fmt.Errorf("step %q: duplicate step_order %d", step.Name, step.StepOrder)
		}
		seenOrders[step.StepOrder] = true

		if err := v.ValidateStep(step); err != nil {
			return fmt.Errorf("step %q: %w", step.Name, err)
		}
	}

	return nil
}

// ValidateStep checks one step definition.
func (v *WorkflowValidator) ValidateStep(step *models.CreateStepRequest) error {
	if err := v.ValidateConditions(step.Conditions); err != nil {
		return fmt.Errorf("conditions: %w", err)
	}
	return v.ValidateConfig(step.StepType, &step.Config)
}

// ValidateConfig checks that exactly the variant matching the step
// type is present and that its fields are coherent.
func (v *WorkflowValidator) ValidateConfig(stepType models.StepType, cfg *models.StepConfig) error {
	variants := 0
	if cfg.Notification != nil {
		variants++
	}
	if cfg.Approval != nil {
		variants++
	}
	if cfg.Action != nil {
		variants++
	}
	if cfg.Condition != nil {
		variants++
	}
	if cfg.Wait != nil {
		variants++
	}
	if variants != 1 {
		return fmt.Errorf("step config must carry exactly one variant, has %d", variants)
	}

	switch stepType {
	case models.StepTypeNotification:
		if cfg.Notification == nil {
			return fmt.Errorf("notification step needs a notification config")
		}
		return v.validateNotification(cfg.Notification)

	case models.StepTypeApproval:
		if cfg.Approval == nil {
			return fmt.Errorf("approval step needs an approval config")
		}
		return v.validateApproval(cfg.Approval)

	case models.StepTypeAction:
		if cfg.Action == nil {
			return fmt.Errorf("action step needs an action config")
		}
		return v.validateAction(cfg.Action)

	case models.StepTypeCondition:
		if cfg.Condition == nil {
			return fmt.Errorf("condition step needs a condition config")
		}
		if cfg.Condition.Gate.IsEmpty() {
			return fmt.Errorf("condition step gate is empty")
		}
		return v.ValidateConditions(&cfg.Condition.Gate)

	case models.StepTypeWait:
		if cfg.Wait == nil {
			return fmt.Errorf("wait step needs a wait config")
		}
		return v.validateWait(cfg.Wait)

	default:
		return fmt.Errorf("unknown step type %q", stepType)
	}
}

func (v *WorkflowValidator) validateNotification(cfg *models.NotificationConfig) error {
	if cfg.TemplateKey == "" {
		return fmt.Errorf("template_key is required")
	}
	return v.validateRecipients(&cfg.Recipients)
}

func (v *WorkflowValidator) validateApproval(cfg *models.ApprovalConfig) error {
	switch cfg.ApprovalType {
	case models.ApprovalTypeSingle, models.ApprovalTypeAll:
	case "":
		return fmt.Errorf("approval_type is required")
	default:
		return fmt.Errorf("unknown approval_type %q", cfg.ApprovalType)
	}

	if cfg.TimeoutHours < 0 {
		return fmt.Errorf("timeout_hours must not be negative")
	}

	switch cfg.OnTimeout {
	case "", models.TimeoutPolicyFail, models.TimeoutPolicyApprove:
	default:
		return fmt.Errorf("unknown on_timeout policy %q", cfg.OnTimeout)
	}

	return v.validateRecipients(&cfg.Approvers)
}

func (v *WorkflowValidator) validateAction(cfg *models.ActionConfig) error {
	switch cfg.Type {
	case models.ActionUpdateFields:
		if len(cfg.Fields) == 0 {
			return fmt.Errorf("update_fields action needs at least one field")
		}
	case models.ActionCreateRecord:
		if cfg.Relation == "" {
			return fmt.Errorf("create_record action needs a relation")
		}
	case models.ActionInvokeMethod:
		if cfg.Method == "" {
			return fmt.Errorf("invoke_method action needs a method name")
		}
	case "":
		return fmt.Errorf("action type is required")
	default:
		return fmt.Errorf("unknown action type %q", cfg.Type)
	}
	return nil
}

func (v *WorkflowValidator) validateWait(cfg *models.WaitConfig) error {
	switch cfg.Mode {
	case models.WaitModeDelay:
		if _, err := time.ParseDuration(cfg.Duration); err != nil {
			return fmt.Errorf("invalid wait duration %q: %w", cfg.Duration, err)
		}
	case models.WaitModeCondition:
		if cfg.Until.IsEmpty() {
			return fmt.Errorf("condition wait needs an until condition")
		}
		return v.ValidateConditions(cfg.Until)
	case models.WaitModeManual:
	case "":
		return fmt.Errorf("wait mode is required")
	default:
		return fmt.Errorf("unknown wait mode %q", cfg.Mode)
	}
	return nil
}

func (v *WorkflowValidator) validateRecipients(cfg *models.RecipientConfig) error {
	switch cfg.Type {
	case models.RecipientCreator:
	case models.RecipientUsers:
		if len(cfg.UserIDs) == 0 {
			return fmt.Errorf("users recipient needs at least one user id")
		}
	case models.RecipientRoles:
		if len(cfg.Roles) == 0 {
			return fmt.Errorf("roles recipient needs at least one role")
		}
	case models.RecipientRelation:
		if cfg.Relation == "" {
			return fmt.Errorf("relation recipient needs a relation name")
		}
	case "":
		return fmt.Errorf("recipient type is required")
	default:
		return fmt.Errorf("unknown recipient type %q", cfg.Type)
	}
	return nil
}

// ValidateConditions walks a condition tree and rejects unknown
// operators and empty field names before they can reach the evaluator.
func (v *WorkflowValidator) ValidateConditions(cond *models.Conditions) error {
	if cond.IsEmpty() {
		return nil
	}

	for _, fc := range cond.Fields {
		if err := validateFieldCondition(fc); err != nil {
			return err
		}
	}
	for _, cc := range cond.Context {
		if err := validateFieldCondition(cc); err != nil {
			return err
		}
	}
	return nil
}

func validateFieldCondition(fc models.FieldCondition) error {
	if fc.Field == "" {
		return fmt.Errorf("field condition has empty field name")
	}
	if !validOperators[fc.Operator] {
		return fmt.Errorf("unknown operator %q for field %q", fc.Operator, fc.Field)
	}
	return nil
}
