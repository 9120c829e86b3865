package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/docflowhq/docflow/internal/models"
	"github.com/docflowhq/docflow/pkg/logger"
	"github.com/google/uuid"
)

// StateRepository defines the interface for state model persistence.
// ApplyTransition must write the entity state and append the history
// entry in one transaction.
type StateRepository interface {
	GetState(ctx context.Context, modelType, name string) (*models.ApprovalState, error)
	GetInitialState(ctx context.Context, modelType string) (*models.ApprovalState, error)
	ListStates(ctx context.Context, modelType string) ([]models.ApprovalState, error)
	GetTransition(ctx context.Context, modelType, fromState, name string) (*models.StateTransition, error)
	ListTransitionsFrom(ctx context.Context, modelType, fromState string) ([]models.StateTransition, error)
	ApplyTransition(ctx context.Context, modelType, entityID, toState string, entry *models.StateHistoryEntry) error
	ListHistory(ctx context.Context, modelType, entityID string) ([]models.StateHistoryEntry, error)
}

// EntityStore reads the engine's entity projections.
type EntityStore interface {
	GetEntity(ctx context.Context, modelType, entityID string) (*models.EntitySnapshot, error)
	UpsertEntity(ctx context.Context, snapshot *models.EntitySnapshot) error
}

// Authorizer answers permission and role questions about an actor.
type Authorizer interface {
	ActorHasPermission(ctx context.Context, actor *models.Actor, permission string) (bool, error)
	ActorHasAnyRole(ctx context.Context, actor *models.Actor, roles []string) (bool, error)
}

// EventPublisher receives the lifecycle events a successful transition
// emits. The orchestrator implements it; failures downstream never
// roll back an applied transition.
type EventPublisher interface {
	Publish(ctx context.Context, ec *models.EventContext) error
}

// ClaimsAuthorizer answers authorization questions from the roles and
// permissions already resolved onto the actor (e.g. from JWT claims).
type ClaimsAuthorizer struct{}

func (ClaimsAuthorizer) ActorHasPermission(_ context.Context, actor *models.Actor, permission string) (bool, error) {
	return actor != nil && actor.HasPermission(permission), nil
}

func (ClaimsAuthorizer) ActorHasAnyRole(_ context.Context, actor *models.Actor, roles []string) (bool, error) {
	return actor != nil && actor.HasAnyRole(roles...), nil
}

// StateMachine validates and applies guarded state transitions.
type StateMachine struct {
	states    StateRepository
	entities  EntityStore
	auth      Authorizer
	evaluator *Evaluator
	publisher EventPublisher
	logger    *logger.Logger
}

// NewStateMachine creates a new state machine.
func NewStateMachine(
	states StateRepository,
	entities EntityStore,
	auth Authorizer,
	publisher EventPublisher,
	log *logger.Logger,
) *StateMachine {
	return &StateMachine{
		states:    states,
		entities:  entities,
		auth:      auth,
		evaluator: NewEvaluator(),
		publisher: publisher,
		logger:    log,
	}
}

// ExecuteTransition looks up the transition by (current state, name),
// checks its guards and applies it atomically. On any guard failure
// the entity state is untouched. On success it emits state_changed
// plus state_transition_<name> for workflow matching.
func (sm *StateMachine) ExecuteTransition(
	ctx context.Context,
	modelType, entityID, transitionName string,
	actor *models.Actor,
	reason *string,
) (*models.ApprovalState, error) {
	snapshot, err := sm.entities.GetEntity(ctx, modelType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entity %s/%s: %w", modelType, entityID, err)
	}

	transition, err := sm.states.GetTransition(ctx, modelType, snapshot.State, transitionName)
	if err != nil {
		return nil, err
	}
	if !transition.IsActive {
		return nil, fmt.Errorf("%w: transition %q from state %q", ErrNotFound, transitionName, snapshot.State)
	}

	if err := sm.checkGuards(ctx, transition, actor, snapshot); err != nil {
		return nil, err
	}

	toState, err := sm.states.GetState(ctx, modelType, transition.ToState)
	if err != nil {
		return nil, err
	}

	entry := &models.StateHistoryEntry{
		ID:             uuid.New(),
		ModelType:      modelType,
		EntityID:       entityID,
		FromState:      snapshot.State,
		ToState:        toState.Name,
		TransitionName: transition.Name,
		Reason:         reason,
		CreatedAt:      time.Now(),
	}
	if actor != nil {
		actorID := actor.ID
		entry.ActorID = &actorID
	}

	if err := sm.states.ApplyTransition(ctx, modelType, entityID, toState.Name, entry); err != nil {
		return nil, fmt.Errorf("failed to apply transition %q: %w", transitionName, err)
	}

	sm.logger.Info("state transition applied",
		logger.String("model_type", modelType),
		logger.String("entity_id", entityID),
		logger.String("transition", transition.Name),
		logger.String("from", snapshot.State),
		logger.String("to", toState.Name),
	)

	sm.publishTransitionEvents(ctx, snapshot, transition, actor)

	return toState, nil
}

// ListAvailableTransitions returns the transitions the actor may
// currently execute, with their destination states. It has no side
// effects.
func (sm *StateMachine) ListAvailableTransitions(
	ctx context.Context,
	modelType, entityID string,
	actor *models.Actor,
) ([]models.AvailableTransition, error) {
	snapshot, err := sm.entities.GetEntity(ctx, modelType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entity %s/%s: %w", modelType, entityID, err)
	}

	transitions, err := sm.states.ListTransitionsFrom(ctx, modelType, snapshot.State)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}

	available := make([]models.AvailableTransition, 0, len(transitions))
	for _, transition := range transitions {
		if !transition.IsActive {
			continue
		}
		if err := sm.checkGuards(ctx, &transition, actor, snapshot); err != nil {
			continue
		}

		toState, err := sm.states.GetState(ctx, modelType, transition.ToState)
		if err != nil {
			sm.logger.Warnf("transition %q points at unknown state %q", transition.Name, transition.ToState)
			continue
		}

		available = append(available, models.AvailableTransition{
			Transition: transition,
			ToState:    *toState,
		})
	}

	return available, nil
}

// GetHistory returns the entity's approval history, newest last.
func (sm *StateMachine) GetHistory(ctx context.Context, modelType, entityID string) ([]models.StateHistoryEntry, error) {
	return sm.states.ListHistory(ctx, modelType, entityID)
}

// checkGuards runs the permission, role and condition guards of a
// transition against an actor and the entity snapshot.
func (sm *StateMachine) checkGuards(
	ctx context.Context,
	transition *models.StateTransition,
	actor *models.Actor,
	snapshot *models.EntitySnapshot,
) error {
	if transition.RequiresPermission && transition.PermissionName != nil {
		ok, err := sm.auth.ActorHasPermission(ctx, actor, *transition.PermissionName)
		if err != nil {
			return fmt.Errorf("permission check failed: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: permission %q required for transition %q", ErrForbidden, *transition.PermissionName, transition.Name)
		}
	}

	if transition.RequiresRole && len(transition.RoleNames) > 0 {
		ok, err := sm.auth.ActorHasAnyRole(ctx, actor, transition.RoleNames)
		if err != nil {
			return fmt.Errorf("role check failed: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: one of roles %v required for transition %q", ErrForbidden, []string(transition.RoleNames), transition.Name)
		}
	}

	if !transition.ConditionRules.IsEmpty() {
		ec := &models.EventContext{
			EntityType: snapshot.ModelType,
			EntityID:   snapshot.EntityID,
			EventName:  models.EventStateChanged,
			Snapshot:   snapshot.Attributes,
			FromState:  transition.FromState,
			ToState:    transition.ToState,
		}
		ok, err := sm.evaluator.Evaluate(transition.ConditionRules, ec)
		if err != nil {
			return fmt.Errorf("%w: transition %q", ErrInvalidCondition, transition.Name)
		}
		if !ok {
			return fmt.Errorf("%w: transition %q", ErrConditionNotMet, transition.Name)
		}
	}

	return nil
}

// publishTransitionEvents emits the generic and the transition-specific
// event. Publishing errors are logged, never propagated: the
// transition is already committed.
func (sm *StateMachine) publishTransitionEvents(
	ctx context.Context,
	before *models.EntitySnapshot,
	transition *models.StateTransition,
	actor *models.Actor,
) {
	if sm.publisher == nil {
		return
	}

	after := make(models.JSONB, len(before.Attributes)+1)
	for k, v := range before.Attributes {
		after[k] = v
	}
	after["state"] = transition.ToState

	previous := make(models.JSONB, len(before.Attributes)+1)
	for k, v := range before.Attributes {
		previous[k] = v
	}
	previous["state"] = before.State

	for _, eventName := range []string{
		models.EventStateChanged,
		models.EventStateTransitionPrefix + transition.Name,
	} {
		ec := &models.EventContext{
			EntityType:     before.ModelType,
			EntityID:       before.EntityID,
			EventName:      eventName,
			Snapshot:       after,
			Previous:       previous,
			FromState:      before.State,
			ToState:        transition.ToState,
			TransitionName: transition.Name,
		}
		if actor != nil {
			actorID := actor.ID
			ec.ActorID = &actorID
			ec.ActorName = actor.Name
		}

		if err := sm.publisher.Publish(ctx, ec); err != nil {
			sm.logger.Errorf("failed to publish %s event for %s/%s: %v",
				eventName, before.ModelType, before.EntityID, err)
		}
	}
}
