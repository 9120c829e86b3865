package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/docflowhq/docflow/internal/engine"
	"github.com/docflowhq/docflow/internal/models"
)

// StateRepository handles state model database operations: states,
// transitions, entity projections and approval history.
type StateRepository struct {
	db *sql.DB
}

// NewStateRepository creates a new state repository.
func NewStateRepository(db *sql.DB) *StateRepository {
	return &StateRepository{db: db}
}

const stateColumns = `id, model_type, name, label, is_initial, is_final, requires_approval, sort_order, is_active, created_at, updated_at`

func scanState(row interface{ Scan(...interface{}) error }) (*models.ApprovalState, error) {
	state := &models.ApprovalState{}
	err := row.Scan(
		&state.ID, &state.ModelType, &state.Name, &state.Label,
		&state.IsInitial, &state.IsFinal, &state.RequiresApproval,
		&state.SortOrder, &state.IsActive, &state.CreatedAt, &state.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return state, nil
}

// CreateState inserts a state definition.
func (r *StateRepository) CreateState(ctx context.Context, state *models.ApprovalState) error {
	query := `
		INSERT INTO approval_states (
			id, model_type, name, label, is_initial, is_final,
			requires_approval, sort_order, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.ExecContext(ctx, query,
		state.ID, state.ModelType, state.Name, state.Label,
		state.IsInitial, state.IsFinal, state.RequiresApproval,
		state.SortOrder, state.IsActive, state.CreatedAt, state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create state: %w", err)
	}
	return nil
}

// UpdateState updates a state definition.
func (r *StateRepository) UpdateState(ctx context.Context, state *models.ApprovalState) error {
	query := `
		UPDATE approval_states
		SET label = $3, is_initial = $4, is_final = $5, requires_approval = $6,
		    sort_order = $7, is_active = $8, updated_at = NOW()
		WHERE model_type = $1 AND name = $2`

	result, err := r.db.ExecContext(ctx, query,
		state.ModelType, state.Name, state.Label, state.IsInitial,
		state.IsFinal, state.RequiresApproval, state.SortOrder, state.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to update state: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: state %s/%s", engine.ErrNotFound, state.ModelType, state.Name)
	}
	return nil
}

// GetState retrieves one state by model type and name.
func (r *StateRepository) GetState(ctx context.Context, modelType, name string) (*models.ApprovalState, error) {
	query := `SELECT ` + stateColumns + ` FROM approval_states WHERE model_type = $1 AND name = $2`

	state, err := scanState(r.db.QueryRowContext(ctx, query, modelType, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: state %s/%s", engine.ErrNotFound, modelType, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state: %w", err)
	}
	return state, nil
}

// GetInitialState retrieves the initial state of a model type.
func (r *StateRepository) GetInitialState(ctx context.Context, modelType string) (*models.ApprovalState, error) {
	query := `SELECT ` + stateColumns + ` FROM approval_states WHERE model_type = $1 AND is_initial AND is_active`

	state, err := scanState(r.db.QueryRowContext(ctx, query, modelType))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: initial state for %s", engine.ErrNotFound, modelType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get initial state: %w", err)
	}
	return state, nil
}

// ListStates retrieves the states of a model type in sort order.
func (r *StateRepository) ListStates(ctx context.Context, modelType string) ([]models.ApprovalState, error) {
	query := `SELECT ` + stateColumns + ` FROM approval_states WHERE model_type = $1 ORDER BY sort_order, name`

	rows, err := r.db.QueryContext(ctx, query, modelType)
	if err != nil {
		return nil, fmt.Errorf("failed to list states: %w", err)
	}
	defer rows.Close()

	var states []models.ApprovalState
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan state: %w", err)
		}
		states = append(states, *state)
	}
	return states, rows.Err()
}

const transitionColumns = `id, model_type, from_state, to_state, name, label,
	requires_permission, permission_name, requires_role, role_names,
	requires_approval, condition_rules, notification_template, sort_order,
	is_active, created_at, updated_at`

func scanTransition(row interface{ Scan(...interface{}) error }) (*models.StateTransition, error) {
	t := &models.StateTransition{}
	err := row.Scan(
		&t.ID, &t.ModelType, &t.FromState, &t.ToState, &t.Name, &t.Label,
		&t.RequiresPermission, &t.PermissionName, &t.RequiresRole, &t.RoleNames,
		&t.RequiresApproval, &t.ConditionRules, &t.NotificationTemplate, &t.SortOrder,
		&t.IsActive, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// CreateTransition inserts a transition definition.
func (r *StateRepository) CreateTransition(ctx context.Context, t *models.StateTransition) error {
	query := `
		INSERT INTO state_transitions (
			id, model_type, from_state, to_state, name, label,
			requires_permission, permission_name, requires_role, role_names,
			requires_approval, condition_rules, notification_template, sort_order,
			is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.ModelType, t.FromState, t.ToState, t.Name, t.Label,
		t.RequiresPermission, t.PermissionName, t.RequiresRole, t.RoleNames,
		t.RequiresApproval, t.ConditionRules, t.NotificationTemplate, t.SortOrder,
		t.IsActive, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create transition: %w", err)
	}
	return nil
}

// GetTransition retrieves one transition by model type, source state
// and name.
func (r *StateRepository) GetTransition(ctx context.Context, modelType, fromState, name string) (*models.StateTransition, error) {
	query := `SELECT ` + transitionColumns + `
		FROM state_transitions
		WHERE model_type = $1 AND from_state = $2 AND name = $3`

	t, err := scanTransition(r.db.QueryRowContext(ctx, query, modelType, fromState, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: transition %q from %s/%s", engine.ErrNotFound, name, modelType, fromState)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transition: %w", err)
	}
	return t, nil
}

// ListTransitionsFrom retrieves the transitions leaving one state.
func (r *StateRepository) ListTransitionsFrom(ctx context.Context, modelType, fromState string) ([]models.StateTransition, error) {
	query := `SELECT ` + transitionColumns + `
		FROM state_transitions
		WHERE model_type = $1 AND from_state = $2
		ORDER BY name`

	return r.queryTransitions(ctx, query, modelType, fromState)
}

// ListTransitions retrieves every transition of a model type.
func (r *StateRepository) ListTransitions(ctx context.Context, modelType string) ([]models.StateTransition, error) {
	query := `SELECT ` + transitionColumns + `
		FROM state_transitions
		WHERE model_type = $1
		ORDER BY from_state, name`

	return r.queryTransitions(ctx, query, modelType)
}

func (r *StateRepository) queryTransitions(ctx context.Context, query string, args ...interface{}) ([]models.StateTransition, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	defer rows.Close()

	var transitions []models.StateTransition
	for rows.Next() {
		t, err := scanTransition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		transitions = append(transitions, *t)
	}
	return transitions, rows.Err()
}

// ApplyTransition writes the entity's new state and appends the
// history entry in one transaction, so state and history never diverge.
func (r *StateRepository) ApplyTransition(ctx context.Context, modelType, entityID, toState string, entry *models.StateHistoryEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE entity_snapshots
		SET state = $3, updated_at = NOW()
		WHERE model_type = $1 AND entity_id = $2`,
		modelType, entityID, toState,
	)
	if err != nil {
		return fmt.Errorf("failed to update entity state: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: entity %s/%s", engine.ErrNotFound, modelType, entityID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO state_history (
			id, model_type, entity_id, from_state, to_state,
			transition_name, actor_id, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.ModelType, entry.EntityID, entry.FromState, entry.ToState,
		entry.TransitionName, entry.ActorID, entry.Reason, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}
	return nil
}

// ListHistory retrieves the approval history of one entity, oldest first.
func (r *StateRepository) ListHistory(ctx context.Context, modelType, entityID string) ([]models.StateHistoryEntry, error) {
	query := `
		SELECT id, model_type, entity_id, from_state, to_state,
		       transition_name, actor_id, reason, created_at
		FROM state_history
		WHERE model_type = $1 AND entity_id = $2
		ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, modelType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var entries []models.StateHistoryEntry
	for rows.Next() {
		var e models.StateHistoryEntry
		if err := rows.Scan(
			&e.ID, &e.ModelType, &e.EntityID, &e.FromState, &e.ToState,
			&e.TransitionName, &e.ActorID, &e.Reason, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// EntityRepository maintains the engine's read-only entity projections.
type EntityRepository struct {
	db *sql.DB
}

// NewEntityRepository creates a new entity projection repository.
func NewEntityRepository(db *sql.DB) *EntityRepository {
	return &EntityRepository{db: db}
}

// GetEntity retrieves one entity projection.
func (r *EntityRepository) GetEntity(ctx context.Context, modelType, entityID string) (*models.EntitySnapshot, error) {
	query := `
		SELECT model_type, entity_id, state, attributes, updated_at
		FROM entity_snapshots
		WHERE model_type = $1 AND entity_id = $2`

	snapshot := &models.EntitySnapshot{}
	err := r.db.QueryRowContext(ctx, query, modelType, entityID).Scan(
		&snapshot.ModelType, &snapshot.EntityID, &snapshot.State,
		&snapshot.Attributes, &snapshot.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: entity %s/%s", engine.ErrNotFound, modelType, entityID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return snapshot, nil
}

// UpsertEntity writes an entity projection from the event stream. The
// incoming snapshot wins: events arrive in order per entity.
func (r *EntityRepository) UpsertEntity(ctx context.Context, snapshot *models.EntitySnapshot) error {
	query := `
		INSERT INTO entity_snapshots (model_type, entity_id, state, attributes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (model_type, entity_id) DO UPDATE
		SET state = CASE WHEN EXCLUDED.state <> '' THEN EXCLUDED.state ELSE entity_snapshots.state END,
		    attributes = EXCLUDED.attributes,
		    updated_at = NOW()`

	_, err := r.db.ExecContext(ctx, query,
		snapshot.ModelType, snapshot.EntityID, snapshot.State, snapshot.Attributes,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert entity: %w", err)
	}
	return nil
}
