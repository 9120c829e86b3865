package services

import (
	"context"
	"fmt"
	"time"

	"github.com/docflowhq/docflow/internal/engine"
	"github.com/docflowhq/docflow/internal/models"
	"github.com/docflowhq/docflow/pkg/logger"
	"github.com/google/uuid"
)

// StateStore is the state-model persistence surface, extending the
// read/apply side the state machine uses with definition management.
type StateStore interface {
	engine.StateRepository
	CreateState(ctx context.Context, state *models.ApprovalState) error
	UpdateState(ctx context.Context, state *models.ApprovalState) error
	CreateTransition(ctx context.Context, transition *models.StateTransition) error
	ListTransitions(ctx context.Context, modelType string) ([]models.StateTransition, error)
}

// StateService manages state and transition definitions for the state
// model. The one-initial-state-per-model rule is enforced here and
// backed by a partial unique index.
type StateService struct {
	store  StateStore
	logger *logger.Logger
}

// NewStateService creates a new state service.
func NewStateService(store StateStore, log *logger.Logger) *StateService {
	return &StateService{store: store, logger: log}
}

// CreateState adds a state to a model type. Creating a second initial
// state for the same model type is rejected.
func (s *StateService) CreateState(ctx context.Context, state *models.ApprovalState) error {
	if state.Name == "" || state.ModelType == "" {
		return fmt.Errorf("state name and model_type are required")
	}

	if state.IsInitial {
		existing, err := s.store.GetInitialState(ctx, state.ModelType)
		if err == nil && existing != nil {
			return fmt.Errorf("model type %q already has initial state %q", state.ModelType, existing.Name)
		}
	}

	if state.ID == uuid.Nil {
		state.ID = uuid.New()
	}
	now := time.Now()
	state.CreatedAt = now
	state.UpdatedAt = now

	if err := s.store.CreateState(ctx, state); err != nil {
		return fmt.Errorf("failed to create state: %w", err)
	}

	s.logger.Info("state created",
		logger.String("model_type", state.ModelType),
		logger.String("state", state.Name),
	)
	return nil
}

// CreateTransition adds a transition between two existing states of
// the same model type.
func (s *StateService) CreateTransition(ctx context.Context, transition *models.StateTransition) error {
	if transition.Name == "" {
		return fmt.Errorf("transition name is required")
	}

	if _, err := s.store.GetState(ctx, transition.ModelType, transition.FromState); err != nil {
		return fmt.Errorf("from state %q: %w", transition.FromState, err)
	}
	if _, err := s.store.GetState(ctx, transition.ModelType, transition.ToState); err != nil {
		return fmt.Errorf("to state %q: %w", transition.ToState, err)
	}

	if transition.ID == uuid.Nil {
		transition.ID = uuid.New()
	}
	now := time.Now()
	transition.CreatedAt = now
	transition.UpdatedAt = now

	if err := s.store.CreateTransition(ctx, transition); err != nil {
		return fmt.Errorf("failed to create transition: %w", err)
	}

	s.logger.Info("transition created",
		logger.String("model_type", transition.ModelType),
		logger.String("transition", transition.Name),
		logger.String("from", transition.FromState),
		logger.String("to", transition.ToState),
	)
	return nil
}

// ListStates returns the states of a model type ordered for display.
func (s *StateService) ListStates(ctx context.Context, modelType string) ([]models.ApprovalState, error) {
	return s.store.ListStates(ctx, modelType)
}

// ListTransitions returns every transition of a model type.
func (s *StateService) ListTransitions(ctx context.Context, modelType string) ([]models.StateTransition, error) {
	return s.store.ListTransitions(ctx, modelType)
}
