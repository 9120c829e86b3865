package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/docflowhq/docflow/internal/engine"
	"github.com/docflowhq/docflow/internal/models"
	"github.com/google/uuid"
)

// WorkflowRepository handles workflow definition database operations.
type WorkflowRepository struct {
	db *sql.DB
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

const workflowColumns = `id, name, description, version, target_model, trigger_conditions,
	is_active, is_master_workflow, global_variables, created_by, created_at, updated_at`

func scanWorkflow(row interface{ Scan(...interface{}) error }) (*models.AdvancedWorkflow, error) {
	wf := &models.AdvancedWorkflow{}
	var conditions models.Conditions
	err := row.Scan(
		&wf.ID, &wf.Name, &wf.Description, &wf.Version, &wf.TargetModel, &conditions,
		&wf.IsActive, &wf.IsMasterWorkflow, &wf.GlobalVariables, &wf.CreatedBy,
		&wf.CreatedAt, &wf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if !conditions.IsEmpty() {
		wf.TriggerConditions = &conditions
	}
	return wf, nil
}

// CreateWorkflowWithSteps inserts a workflow and its steps in one
// transaction. A workflow is never visible with a partial step list.
func (r *WorkflowRepository) CreateWorkflowWithSteps(
	ctx context.Context,
	wf *models.AdvancedWorkflow,
	steps []models.WorkflowStepDefinition,
) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	conditions := models.Conditions{}
	if wf.TriggerConditions != nil {
		conditions = *wf.TriggerConditions
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO advanced_workflows (
			id, name, description, version, target_model, trigger_conditions,
			is_active, is_master_workflow, global_variables, created_by,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		wf.ID, wf.Name, wf.Description, wf.Version, wf.TargetModel, conditions,
		wf.IsActive, wf.IsMasterWorkflow, wf.GlobalVariables, wf.CreatedBy,
		wf.CreatedAt, wf.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert workflow: %w", err)
	}

	for i := range steps {
		step := &steps[i]
		stepConditions := models.Conditions{}
		if step.Conditions != nil {
			stepConditions = *step.Conditions
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflow_steps (
				id, workflow_id, step_order, name, step_type, step_config,
				conditions, is_required, is_active, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			step.ID, step.WorkflowID, step.StepOrder, step.Name, step.StepType,
			step.Config, stepConditions, step.IsRequired, step.IsActive,
			step.CreatedAt, step.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert step %q: %w", step.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit workflow: %w", err)
	}
	return nil
}

// GetWorkflowByID retrieves one workflow.
func (r *WorkflowRepository) GetWorkflowByID(ctx context.Context, id uuid.UUID) (*models.AdvancedWorkflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM advanced_workflows WHERE id = $1`

	wf, err := scanWorkflow(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: workflow %s", engine.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return wf, nil
}

// ListActiveWorkflowsForModel retrieves every active workflow bound to
// a target model. All of them fire for a matching event.
func (r *WorkflowRepository) ListActiveWorkflowsForModel(ctx context.Context, targetModel string) ([]models.AdvancedWorkflow, error) {
	query := `SELECT ` + workflowColumns + `
		FROM advanced_workflows
		WHERE target_model = $1 AND is_active
		ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, targetModel)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []models.AdvancedWorkflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		workflows = append(workflows, *wf)
	}
	return workflows, rows.Err()
}

// ListWorkflows retrieves workflows with optional target-model filter
// and pagination.
func (r *WorkflowRepository) ListWorkflows(ctx context.Context, targetModel *string, limit, offset int) ([]models.AdvancedWorkflow, int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM advanced_workflows
		WHERE ($1::text IS NULL OR target_model = $1)`,
		targetModel,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count workflows: %w", err)
	}

	query := `SELECT ` + workflowColumns + `
		FROM advanced_workflows
		WHERE ($1::text IS NULL OR target_model = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, targetModel, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []models.AdvancedWorkflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan workflow: %w", err)
		}
		workflows = append(workflows, *wf)
	}
	return workflows, total, rows.Err()
}

// UpdateWorkflow updates workflow metadata.
func (r *WorkflowRepository) UpdateWorkflow(ctx context.Context, wf *models.AdvancedWorkflow) error {
	query := `
		UPDATE advanced_workflows
		SET name = $2, description = $3, version = $4, global_variables = $5,
		    is_master_workflow = $6, updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query,
		wf.ID, wf.Name, wf.Description, wf.Version, wf.GlobalVariables, wf.IsMasterWorkflow,
	)
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: workflow %s", engine.ErrNotFound, wf.ID)
	}
	return nil
}

// SetWorkflowActive flips the active flag.
func (r *WorkflowRepository) SetWorkflowActive(ctx context.Context, id uuid.UUID, active bool) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE advanced_workflows SET is_active = $2, updated_at = NOW() WHERE id = $1`,
		id, active,
	)
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: workflow %s", engine.ErrNotFound, id)
	}
	return nil
}

// ListSteps retrieves the steps of a workflow in execution order.
func (r *WorkflowRepository) ListSteps(ctx context.Context, workflowID uuid.UUID) ([]models.WorkflowStepDefinition, error) {
	query := `
		SELECT id, workflow_id, step_order, name, step_type, step_config,
		       conditions, is_required, is_active, created_at, updated_at
		FROM workflow_steps
		WHERE workflow_id = $1
		ORDER BY step_order`

	rows, err := r.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	var steps []models.WorkflowStepDefinition
	for rows.Next() {
		var step models.WorkflowStepDefinition
		var conditions models.Conditions
		if err := rows.Scan(
			&step.ID, &step.WorkflowID, &step.StepOrder, &step.Name, &step.StepType,
			&step.Config, &conditions, &step.IsRequired, &step.IsActive,
			&step.CreatedAt, &step.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		if !conditions.IsEmpty() {
			step.Conditions = &conditions
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}
