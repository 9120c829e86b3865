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

// ApprovalRepository handles approval decision database operations.
type ApprovalRepository struct {
	db *sql.DB
}

// NewApprovalRepository creates a new approval repository.
func NewApprovalRepository(db *sql.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

const decisionColumns = `id, execution_id, step_execution_id, approver_id, status,
	reason, requested_at, decided_at, expires_at`

func scanDecision(row interface{ Scan(...interface{}) error }) (*models.ApprovalDecision, error) {
	d := &models.ApprovalDecision{}
	err := row.Scan(
		&d.ID, &d.ExecutionID, &d.StepExecutionID, &d.ApproverID, &d.Status,
		&d.Reason, &d.RequestedAt, &d.DecidedAt, &d.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// CreateDecisions inserts one pending slot per approver in one
// transaction.
func (r *ApprovalRepository) CreateDecisions(ctx context.Context, decisions []models.ApprovalDecision) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i := range decisions {
		d := &decisions[i]
		_, err = tx.ExecContext(ctx, `
			INSERT INTO approval_decisions (
				id, execution_id, step_execution_id, approver_id, status,
				reason, requested_at, decided_at, expires_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			d.ID, d.ExecutionID, d.StepExecutionID, d.ApproverID, d.Status,
			d.Reason, d.RequestedAt, d.DecidedAt, d.ExpiresAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert decision for approver %s: %w", d.ApproverID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit decisions: %w", err)
	}
	return nil
}

// GetDecision retrieves one decision slot.
func (r *ApprovalRepository) GetDecision(ctx context.Context, id uuid.UUID) (*models.ApprovalDecision, error) {
	query := `SELECT ` + decisionColumns + ` FROM approval_decisions WHERE id = $1`

	d, err := scanDecision(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: decision %s", engine.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get decision: %w", err)
	}
	return d, nil
}

// ListDecisionsByStep retrieves every slot of one approval step.
func (r *ApprovalRepository) ListDecisionsByStep(ctx context.Context, stepExecutionID uuid.UUID) ([]models.ApprovalDecision, error) {
	query := `SELECT ` + decisionColumns + `
		FROM approval_decisions
		WHERE step_execution_id = $1
		ORDER BY requested_at`

	return r.queryDecisions(ctx, query, stepExecutionID)
}

// ListPendingByApprover retrieves an approver's open slots, soonest
// expiry first.
func (r *ApprovalRepository) ListPendingByApprover(ctx context.Context, approverID uuid.UUID) ([]models.ApprovalDecision, error) {
	query := `SELECT ` + decisionColumns + `
		FROM approval_decisions
		WHERE approver_id = $1 AND status = 'pending'
		ORDER BY expires_at NULLS LAST, requested_at`

	return r.queryDecisions(ctx, query, approverID)
}

// ListOverdueDecisions retrieves pending slots whose expiry has passed.
func (r *ApprovalRepository) ListOverdueDecisions(ctx context.Context, before time.Time, limit int) ([]models.ApprovalDecision, error) {
	query := `SELECT ` + decisionColumns + `
		FROM approval_decisions
		WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2`

	return r.queryDecisions(ctx, query, before, limit)
}

// UpdateDecision writes a slot's status. Pending is the only mutable
// state, which keeps concurrent deciders and the sweep from fighting.
func (r *ApprovalRepository) UpdateDecision(ctx context.Context, d *models.ApprovalDecision) error {
	query := `
		UPDATE approval_decisions
		SET status = $2, reason = $3, decided_at = $4
		WHERE id = $1 AND status = 'pending'`

	result, err := r.db.ExecContext(ctx, query, d.ID, d.Status, d.Reason, d.DecidedAt)
	if err != nil {
		return fmt.Errorf("failed to update decision: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: decision %s not pending", engine.ErrNotFound, d.ID)
	}
	return nil
}

func (r *ApprovalRepository) queryDecisions(ctx context.Context, query string, args ...interface{}) ([]models.ApprovalDecision, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer rows.Close()

	var decisions []models.ApprovalDecision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		decisions = append(decisions, *d)
	}
	return decisions, rows.Err()
}
