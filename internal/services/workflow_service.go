package services

import (
	"context"
	"fmt"
	"time"

	"github.com/docflowhq/docflow/internal/engine"
	"github.com/docflowhq/docflow/internal/models"
	"github.com/docflowhq/docflow/internal/validators"
	"github.com/docflowhq/docflow/pkg/logger"
	"github.com/google/uuid"
)

// WorkflowStore is the full workflow persistence surface, extending
// the read side the orchestrator uses.
type WorkflowStore interface {
	engine.WorkflowRepository
	CreateWorkflowWithSteps(ctx context.Context, wf *models.AdvancedWorkflow, steps []models.WorkflowStepDefinition) error
	UpdateWorkflow(ctx context.Context, wf *models.AdvancedWorkflow) error
	ListWorkflows(ctx context.Context, targetModel *string, limit, offset int) ([]models.AdvancedWorkflow, int64, error)
	SetWorkflowActive(ctx context.Context, id uuid.UUID, active bool) error
}

// WorkflowService manages workflow definitions. All validation happens
// here, at save time; the engine trusts what it loads.
type WorkflowService struct {
	store     WorkflowStore
	validator *validators.WorkflowValidator
	logger    *logger.Logger
}

// NewWorkflowService creates a new workflow service.
func NewWorkflowService(store WorkflowStore, log *logger.Logger) *WorkflowService {
	return &WorkflowService{
		store:     store,
		validator: validators.NewWorkflowValidator(),
		logger:    log,
	}
}

// Create validates and persists a workflow with its steps. New
// workflows start inactive so authors can review before enabling.
func (s *WorkflowService) Create(ctx context.Context, req *models.CreateWorkflowRequest, actor *models.Actor) (*models.AdvancedWorkflow, error) {
	if err := s.validator.ValidateCreate(req); err != nil {
		return nil, err
	}

	now := time.Now()
	wf := &models.AdvancedWorkflow{
		ID:                uuid.New(),
		Name:              req.Name,
		Description:       req.Description,
		Version:           1,
		TargetModel:       req.TargetModel,
		TriggerConditions: req.TriggerConditions,
		IsActive:          false,
		IsMasterWorkflow:  req.IsMasterWorkflow,
		GlobalVariables:   req.GlobalVariables,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if actor != nil {
		actorID := actor.ID
		wf.CreatedBy = &actorID
	}

	steps := make([]models.WorkflowStepDefinition, 0, len(req.Steps))
	for _, sr := range req.Steps {
		cfg := sr.Config
		if cfg.SchemaVersion == 0 {
			cfg.SchemaVersion = models.StepConfigSchemaVersion
		}
		steps = append(steps, models.WorkflowStepDefinition{
			ID:         uuid.New(),
			WorkflowID: wf.ID,
			StepOrder:  sr.StepOrder,
			Name:       sr.Name,
			StepType:   sr.StepType,
			Config:     cfg,
			Conditions: sr.Conditions,
			IsRequired: sr.IsRequired,
			IsActive:   true,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	if err := s.store.CreateWorkflowWithSteps(ctx, wf, steps); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	s.logger.Info("workflow created",
		logger.String("workflow_id", wf.ID.String()),
		logger.String("name", wf.Name),
		logger.String("target_model", wf.TargetModel),
		logger.Int("steps", len(steps)),
	)

	return wf, nil
}

// Get returns one workflow with its steps.
func (s *WorkflowService) Get(ctx context.Context, id uuid.UUID) (*models.AdvancedWorkflow, []models.WorkflowStepDefinition, error) {
	wf, err := s.store.GetWorkflowByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	steps, err := s.store.ListSteps(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return wf, steps, nil
}

// List returns workflows, optionally filtered by target model.
func (s *WorkflowService) List(ctx context.Context, targetModel *string, limit, offset int) ([]models.AdvancedWorkflow, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListWorkflows(ctx, targetModel, limit, offset)
}

// SetActive enables or disables a workflow. Running executions of a
// disabled workflow finish; only new triggering stops.
func (s *WorkflowService) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	if _, err := s.store.GetWorkflowByID(ctx, id); err != nil {
		return err
	}
	if err := s.store.SetWorkflowActive(ctx, id, active); err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}

	s.logger.Info("workflow active flag changed",
		logger.String("workflow_id", id.String()),
		logger.Bool("active", active),
	)
	return nil
}

// UpdateMetadata updates name, description and global variables and
// bumps the version. Steps are immutable through this path; shipping a
// new step list means creating a new workflow version.
func (s *WorkflowService) UpdateMetadata(ctx context.Context, id uuid.UUID, name string, description *string, variables models.JSONB) (*models.AdvancedWorkflow, error) {
	wf, err := s.store.GetWorkflowByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if name != "" {
		wf.Name = name
	}
	if description != nil {
		wf.Description = description
	}
	if variables != nil {
		wf.GlobalVariables = variables
	}
	wf.Version++
	wf.UpdatedAt = time.Now()

	if err := s.store.UpdateWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}
	return wf, nil
}

// ValidateDefinition runs save-time validation without persisting.
// Used by the CLI and the dry-run endpoint.
func (s *WorkflowService) ValidateDefinition(req *models.CreateWorkflowRequest) error {
	return s.validator.ValidateCreate(req)
}
