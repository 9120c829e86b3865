package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/docflowhq/docflow/internal/engine"
	"github.com/docflowhq/docflow/internal/models"
	"github.com/google/uuid"
)

// WorkflowRepository is an in-memory workflow store for testing.
type WorkflowRepository struct {
	mu        sync.RWMutex
	workflows map[uuid.UUID]models.AdvancedWorkflow
	steps     map[uuid.UUID][]models.WorkflowStepDefinition
}

// NewWorkflowRepository creates a new in-memory workflow repository.
func NewWorkflowRepository() *WorkflowRepository {
	return &WorkflowRepository{
		workflows: make(map[uuid.UUID]models.AdvancedWorkflow),
		steps:     make(map[uuid.UUID][]models.WorkflowStepDefinition),
	}
}

// CreateWorkflowWithSteps stores a workflow and its steps.
func (r *WorkflowRepository) CreateWorkflowWithSteps(_ context.Context, wf *models.AdvancedWorkflow, steps []models.WorkflowStepDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.workflows[wf.ID] = *wf
	r.steps[wf.ID] = append([]models.WorkflowStepDefinition(nil), steps...)
	return nil
}

// GetWorkflowByID retrieves one workflow.
func (r *WorkflowRepository) GetWorkflowByID(_ context.Context, id uuid.UUID) (*models.AdvancedWorkflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wf, ok := r.workflows[id]
	if !ok {
		return nil, fmt.Errorf("%w: workflow %s", engine.ErrNotFound, id)
	}
	copied := wf
	return &copied, nil
}

// ListActiveWorkflowsForModel retrieves active workflows for a model.
func (r *WorkflowRepository) ListActiveWorkflowsForModel(_ context.Context, targetModel string) ([]models.AdvancedWorkflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.AdvancedWorkflow
	for _, wf := range r.workflows {
		if wf.IsActive && wf.TargetModel == targetModel {
			out = append(out, wf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListWorkflows retrieves workflows with optional filter.
func (r *WorkflowRepository) ListWorkflows(_ context.Context, targetModel *string, limit, offset int) ([]models.AdvancedWorkflow, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []models.AdvancedWorkflow
	for _, wf := range r.workflows {
		if targetModel != nil && wf.TargetModel != *targetModel {
			continue
		}
		all = append(all, wf)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

// UpdateWorkflow overwrites workflow metadata.
func (r *WorkflowRepository) UpdateWorkflow(_ context.Context, wf *models.AdvancedWorkflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.workflows[wf.ID]; !ok {
		return fmt.Errorf("%w: workflow %s", engine.ErrNotFound, wf.ID)
	}
	r.workflows[wf.ID] = *wf
	return nil
}

// SetWorkflowActive flips the active flag.
func (r *WorkflowRepository) SetWorkflowActive(_ context.Context, id uuid.UUID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wf, ok := r.workflows[id]
	if !ok {
		return fmt.Errorf("%w: workflow %s", engine.ErrNotFound, id)
	}
	wf.IsActive = active
	r.workflows[id] = wf
	return nil
}

// ListSteps retrieves the steps of a workflow in order.
func (r *WorkflowRepository) ListSteps(_ context.Context, workflowID uuid.UUID) ([]models.WorkflowStepDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	steps := append([]models.WorkflowStepDefinition(nil), r.steps[workflowID]...)
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })
	return steps, nil
}
