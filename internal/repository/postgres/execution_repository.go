package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/docflowhq/docflow/internal/engine"
	"github.com/docflowhq/docflow/internal/models"
	"github.com/google/uuid"
)

// ExecutionRepository handles workflow execution and step execution
// database operations.
type ExecutionRepository struct {
	db *sql.DB
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

const executionColumns = `id, workflow_id, target_model, target_id, trigger_event, status,
	current_step_id, current_step_order, context_data, step_results, execution_count,
	initiated_by, cancel_reason, cancelled_by, error_message, restarted_from,
	started_at, completed_at, created_at, updated_at`

func scanExecution(row interface{ Scan(...interface{}) error }) (*models.WorkflowExecution, error) {
	e := &models.WorkflowExecution{}
	err := row.Scan(
		&e.ID, &e.WorkflowID, &e.TargetModel, &e.TargetID, &e.TriggerEvent, &e.Status,
		&e.CurrentStepID, &e.CurrentStepOrder, &e.ContextData, &e.StepResults, &e.ExecutionCount,
		&e.InitiatedBy, &e.CancelReason, &e.CancelledBy, &e.ErrorMessage, &e.RestartedFrom,
		&e.StartedAt, &e.CompletedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// FindOrCreateExecution inserts the candidate execution unless a live
// one already exists for the same (workflow, target). The partial
// unique index on non-terminal executions makes this race-free: the
// losing inserter reads back the winner's row. The second return value
// reports whether the candidate was inserted.
func (r *ExecutionRepository) FindOrCreateExecution(ctx context.Context, execution *models.WorkflowExecution) (*models.WorkflowExecution, bool, error) {
	insert := `
		INSERT INTO workflow_executions (
			id, workflow_id, target_model, target_id, trigger_event, status,
			current_step_order, context_data, step_results, execution_count,
			initiated_by, restarted_from, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		ON CONFLICT (workflow_id, target_model, target_id) WHERE status IN ('pending', 'in_progress')
		DO NOTHING
		RETURNING ` + executionColumns

	created, err := scanExecution(r.db.QueryRowContext(ctx, insert,
		execution.ID, execution.WorkflowID, execution.TargetModel, execution.TargetID,
		execution.TriggerEvent, execution.Status, execution.CurrentStepOrder,
		execution.ContextData, execution.StepResults, execution.ExecutionCount,
		execution.InitiatedBy, execution.RestartedFrom,
	))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to create execution: %w", err)
	}

	// Conflict: somebody else holds the live execution. Read it back.
	find := `
		SELECT ` + executionColumns + `
		FROM workflow_executions
		WHERE workflow_id = $1 AND target_model = $2 AND target_id = $3
		  AND status IN ('pending', 'in_progress')`

	existing, err := scanExecution(r.db.QueryRowContext(ctx, find,
		execution.WorkflowID, execution.TargetModel, execution.TargetID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		// The live execution finished between insert and reread; rare
		// enough that the caller simply retriggers on the next event.
		return nil, false, fmt.Errorf("%w: live execution vanished during find-or-create", engine.ErrNotFound)
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to find execution: %w", err)
	}
	return existing, false, nil
}

// GetExecutionByID retrieves one execution.
func (r *ExecutionRepository) GetExecutionByID(ctx context.Context, id uuid.UUID) (*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions WHERE id = $1`

	e, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: execution %s", engine.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return e, nil
}

// UpdateExecution writes the mutable execution fields. Terminal rows
// never move back to a live status; the WHERE clause enforces it even
// if a stale caller tries.
func (r *ExecutionRepository) UpdateExecution(ctx context.Context, e *models.WorkflowExecution) error {
	query := `
		UPDATE workflow_executions
		SET status = $2, current_step_id = $3, current_step_order = $4,
		    context_data = $5, step_results = $6, cancel_reason = $7,
		    cancelled_by = $8, error_message = $9, started_at = $10,
		    completed_at = $11, updated_at = NOW()
		WHERE id = $1
		  AND (status IN ('pending', 'in_progress') OR status = $2)`

	result, err := r.db.ExecContext(ctx, query,
		e.ID, e.Status, e.CurrentStepID, e.CurrentStepOrder,
		e.ContextData, e.StepResults, e.CancelReason,
		e.CancelledBy, e.ErrorMessage, e.StartedAt, e.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: execution %s not updatable", engine.ErrNotFound, e.ID)
	}
	return nil
}

// ListExecutions retrieves executions with optional filters and
// pagination.
func (r *ExecutionRepository) ListExecutions(ctx context.Context, workflowID *uuid.UUID, status *models.ExecutionStatus, limit, offset int) ([]models.WorkflowExecution, int64, error) {
	var statusStr *string
	if status != nil {
		s := string(*status)
		statusStr = &s
	}

	var total int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM workflow_executions
		WHERE ($1::uuid IS NULL OR workflow_id = $1)
		AND ($2::text IS NULL OR status = $2)`,
		workflowID, statusStr,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count executions: %w", err)
	}

	query := `SELECT ` + executionColumns + `
		FROM workflow_executions
		WHERE ($1::uuid IS NULL OR workflow_id = $1)
		AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`

	rows, err := r.db.QueryContext(ctx, query, workflowID, statusStr, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var executions []models.WorkflowExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, *e)
	}
	return executions, total, rows.Err()
}

// CountExecutions counts all runs, terminal included, of one workflow
// against one target.
func (r *ExecutionRepository) CountExecutions(ctx context.Context, workflowID uuid.UUID, targetModel, targetID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM workflow_executions
		WHERE workflow_id = $1 AND target_model = $2 AND target_id = $3`,
		workflowID, targetModel, targetID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}
	return count, nil
}

const stepExecutionColumns = `id, execution_id, step_id, step_order, step_type, status,
	input_data, output_data, notifications_sent, assigned_to, completed_by, due_at,
	started_at, completed_at`

func scanStepExecution(row interface{ Scan(...interface{}) error }) (*models.StepExecution, error) {
	s := &models.StepExecution{}
	err := row.Scan(
		&s.ID, &s.ExecutionID, &s.StepID, &s.StepOrder, &s.StepType, &s.Status,
		&s.InputData, &s.OutputData, &s.NotificationsSent, &s.AssignedTo,
		&s.CompletedBy, &s.DueAt, &s.StartedAt, &s.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// CreateStepExecution inserts a step execution record.
func (r *ExecutionRepository) CreateStepExecution(ctx context.Context, step *models.StepExecution) error {
	query := `
		INSERT INTO step_executions (
			id, execution_id, step_id, step_order, step_type, status,
			input_data, output_data, notifications_sent, assigned_to,
			completed_by, due_at, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.db.ExecContext(ctx, query,
		step.ID, step.ExecutionID, step.StepID, step.StepOrder, step.StepType, step.Status,
		step.InputData, step.OutputData, step.NotificationsSent, step.AssignedTo,
		step.CompletedBy, step.DueAt, step.StartedAt, step.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create step execution: %w", err)
	}
	return nil
}

// UpdateStepExecution writes a step execution's outcome. A terminal
// record is immutable.
func (r *ExecutionRepository) UpdateStepExecution(ctx context.Context, step *models.StepExecution) error {
	query := `
		UPDATE step_executions
		SET status = $2, output_data = $3, notifications_sent = $4,
		    assigned_to = $5, completed_by = $6, due_at = $7, completed_at = $8
		WHERE id = $1
		  AND status IN ('pending', 'in_progress')`

	result, err := r.db.ExecContext(ctx, query,
		step.ID, step.Status, step.OutputData, step.NotificationsSent,
		step.AssignedTo, step.CompletedBy, step.DueAt, step.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update step execution: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: step execution %s not updatable", engine.ErrNotFound, step.ID)
	}
	return nil
}

// GetStepExecutionByStep retrieves the newest step execution of one
// definition step under one execution.
func (r *ExecutionRepository) GetStepExecutionByStep(ctx context.Context, executionID, stepID uuid.UUID) (*models.StepExecution, error) {
	query := `SELECT ` + stepExecutionColumns + `
		FROM step_executions
		WHERE execution_id = $1 AND step_id = $2
		ORDER BY started_at DESC
		LIMIT 1`

	s, err := scanStepExecution(r.db.QueryRowContext(ctx, query, executionID, stepID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: step execution for step %s", engine.ErrNotFound, stepID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get step execution: %w", err)
	}
	return s, nil
}

// ListStepExecutions retrieves all step executions of one execution.
func (r *ExecutionRepository) ListStepExecutions(ctx context.Context, executionID uuid.UUID) ([]models.StepExecution, error) {
	query := `SELECT ` + stepExecutionColumns + `
		FROM step_executions
		WHERE execution_id = $1
		ORDER BY step_order, started_at`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list step executions: %w", err)
	}
	defer rows.Close()

	var steps []models.StepExecution
	for rows.Next() {
		s, err := scanStepExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step execution: %w", err)
		}
		steps = append(steps, *s)
	}
	return steps, rows.Err()
}

// ListDueWaitSteps retrieves in-progress delay waits whose due time has
// passed, for the sweep worker.
func (r *ExecutionRepository) ListDueWaitSteps(ctx context.Context, before time.Time, limit int) ([]models.StepExecution, error) {
	query := `SELECT ` + stepExecutionColumns + `
		FROM step_executions
		WHERE step_type = 'wait' AND status = 'in_progress'
		  AND due_at IS NOT NULL AND due_at <= $1
		ORDER BY due_at
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due wait steps: %w", err)
	}
	defer rows.Close()

	var steps []models.StepExecution
	for rows.Next() {
		s, err := scanStepExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step execution: %w", err)
		}
		steps = append(steps, *s)
	}
	return steps, rows.Err()
}
