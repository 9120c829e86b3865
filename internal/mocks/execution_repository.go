package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/docflowhq/docflow/internal/engine"
	"github.com/docflowhq/docflow/internal/models"
	"github.com/google/uuid"
)

// ExecutionRepository is an in-memory execution store for testing. It
// mirrors the database semantics that matter to the orchestrator: the
// one-live-execution rule and the immutability of terminal rows.
type ExecutionRepository struct {
	mu         sync.RWMutex
	executions map[uuid.UUID]models.WorkflowExecution
	steps      map[uuid.UUID]models.StepExecution
}

// NewExecutionRepository creates a new in-memory execution repository.
func NewExecutionRepository() *ExecutionRepository {
	return &ExecutionRepository{
		executions: make(map[uuid.UUID]models.WorkflowExecution),
		steps:      make(map[uuid.UUID]models.StepExecution),
	}
}

// FindOrCreateExecution stores the candidate unless a live execution
// for the same (workflow, target) already exists.
func (r *ExecutionRepository) FindOrCreateExecution(_ context.Context, execution *models.WorkflowExecution) (*models.WorkflowExecution, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.executions {
		if existing.WorkflowID == execution.WorkflowID &&
			existing.TargetModel == execution.TargetModel &&
			existing.TargetID == execution.TargetID &&
			!existing.Status.IsTerminal() {
			copied := existing
			return &copied, false, nil
		}
	}

	now := time.Now()
	execution.CreatedAt = now
	execution.UpdatedAt = now
	r.executions[execution.ID] = *execution

	copied := *execution
	return &copied, true, nil
}

// GetExecutionByID retrieves one execution.
func (r *ExecutionRepository) GetExecutionByID(_ context.Context, id uuid.UUID) (*models.WorkflowExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.executions[id]
	if !ok {
		return nil, fmt.Errorf("%w: execution %s", engine.ErrNotFound, id)
	}
	copied := e
	return &copied, nil
}

// UpdateExecution overwrites an execution. Terminal rows stay terminal.
func (r *ExecutionRepository) UpdateExecution(_ context.Context, e *models.WorkflowExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.executions[e.ID]
	if !ok {
		return fmt.Errorf("%w: execution %s", engine.ErrNotFound, e.ID)
	}
	if stored.Status.IsTerminal() && stored.Status != e.Status {
		return fmt.Errorf("%w: execution %s not updatable", engine.ErrNotFound, e.ID)
	}
	e.UpdatedAt = time.Now()
	r.executions[e.ID] = *e
	return nil
}

// ListExecutions retrieves executions with optional filters.
func (r *ExecutionRepository) ListExecutions(_ context.Context, workflowID *uuid.UUID, status *models.ExecutionStatus, limit, offset int) ([]models.WorkflowExecution, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []models.WorkflowExecution
	for _, e := range r.executions {
		if workflowID != nil && e.WorkflowID != *workflowID {
			continue
		}
		if status != nil && e.Status != *status {
			continue
		}
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

// CountExecutions counts all runs of one workflow against one target.
func (r *ExecutionRepository) CountExecutions(_ context.Context, workflowID uuid.UUID, targetModel, targetID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, e := range r.executions {
		if e.WorkflowID == workflowID && e.TargetModel == targetModel && e.TargetID == targetID {
			count++
		}
	}
	return count, nil
}

// CreateStepExecution stores a step execution record.
func (r *ExecutionRepository) CreateStepExecution(_ context.Context, step *models.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.steps[step.ID] = *step
	return nil
}

// UpdateStepExecution overwrites a step execution. Terminal records
// are immutable.
func (r *ExecutionRepository) UpdateStepExecution(_ context.Context, step *models.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.steps[step.ID]
	if !ok {
		return fmt.Errorf("%w: step execution %s", engine.ErrNotFound, step.ID)
	}
	if stored.Status.IsTerminal() {
		return fmt.Errorf("%w: step execution %s not updatable", engine.ErrNotFound, step.ID)
	}
	r.steps[step.ID] = *step
	return nil
}

// GetStepExecutionByStep retrieves the newest step execution of one
// definition step under one execution.
func (r *ExecutionRepository) GetStepExecutionByStep(_ context.Context, executionID, stepID uuid.UUID) (*models.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var newest *models.StepExecution
	for _, s := range r.steps {
		if s.ExecutionID != executionID || s.StepID != stepID {
			continue
		}
		copied := s
		if newest == nil || copied.StartedAt.After(newest.StartedAt) {
			newest = &copied
		}
	}
	if newest == nil {
		return nil, fmt.Errorf("%w: step execution for step %s", engine.ErrNotFound, stepID)
	}
	return newest, nil
}

// ListStepExecutions retrieves all step executions of one execution.
func (r *ExecutionRepository) ListStepExecutions(_ context.Context, executionID uuid.UUID) ([]models.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.StepExecution
	for _, s := range r.steps {
		if s.ExecutionID == executionID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StepOrder != out[j].StepOrder {
			return out[i].StepOrder < out[j].StepOrder
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

// ListDueWaitSteps retrieves overdue in-progress delay waits.
func (r *ExecutionRepository) ListDueWaitSteps(_ context.Context, before time.Time, limit int) ([]models.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.StepExecution
	for _, s := range r.steps {
		if s.StepType != models.StepTypeWait || s.Status != models.StepStatusInProgress {
			continue
		}
		if s.DueAt == nil || s.DueAt.After(before) {
			continue
		}
		out = append(out, s)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
