package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/docflowhq/docflow/internal/engine"
	"github.com/docflowhq/docflow/internal/models"
)

// StateRepository is an in-memory state model store for testing.
type StateRepository struct {
	mu          sync.RWMutex
	states      map[string]models.ApprovalState   // keyed model_type/name
	transitions map[string]models.StateTransition // keyed model_type/from/name
	history     map[string][]models.StateHistoryEntry
	entities    *EntityStore
}

// NewStateRepository creates a new in-memory state repository bound to
// an entity store, so ApplyTransition can write entity state the way
// the SQL repository does in one transaction.
func NewStateRepository(entities *EntityStore) *StateRepository {
	return &StateRepository{
		states:      make(map[string]models.ApprovalState),
		transitions: make(map[string]models.StateTransition),
		history:     make(map[string][]models.StateHistoryEntry),
		entities:    entities,
	}
}

func stateKey(modelType, name string) string { return modelType + "/" + name }
func entityKey(modelType, id string) string  { return modelType + "/" + id }
func transitionKey(m, f, n string) string    { return m + "/" + f + "/" + n }

// CreateState stores a state definition.
func (r *StateRepository) CreateState(_ context.Context, state *models.ApprovalState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[stateKey(state.ModelType, state.Name)] = *state
	return nil
}

// UpdateState overwrites a state definition.
func (r *StateRepository) UpdateState(_ context.Context, state *models.ApprovalState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := stateKey(state.ModelType, state.Name)
	if _, ok := r.states[key]; !ok {
		return fmt.Errorf("%w: state %s", engine.ErrNotFound, key)
	}
	r.states[key] = *state
	return nil
}

// GetState retrieves one state.
func (r *StateRepository) GetState(_ context.Context, modelType, name string) (*models.ApprovalState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.states[stateKey(modelType, name)]
	if !ok {
		return nil, fmt.Errorf("%w: state %s/%s", engine.ErrNotFound, modelType, name)
	}
	copied := state
	return &copied, nil
}

// GetInitialState retrieves the initial state of a model type.
func (r *StateRepository) GetInitialState(_ context.Context, modelType string) (*models.ApprovalState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, state := range r.states {
		if state.ModelType == modelType && state.IsInitial && state.IsActive {
			copied := state
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("%w: initial state for %s", engine.ErrNotFound, modelType)
}

// ListStates retrieves the states of a model type in sort order.
func (r *StateRepository) ListStates(_ context.Context, modelType string) ([]models.ApprovalState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.ApprovalState
	for _, state := range r.states {
		if state.ModelType == modelType {
			out = append(out, state)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out, nil
}

// CreateTransition stores a transition definition.
func (r *StateRepository) CreateTransition(_ context.Context, t *models.StateTransition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions[transitionKey(t.ModelType, t.FromState, t.Name)] = *t
	return nil
}

// GetTransition retrieves one transition.
func (r *StateRepository) GetTransition(_ context.Context, modelType, fromState, name string) (*models.StateTransition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.transitions[transitionKey(modelType, fromState, name)]
	if !ok {
		return nil, fmt.Errorf("%w: transition %q from %s/%s", engine.ErrNotFound, name, modelType, fromState)
	}
	copied := t
	return &copied, nil
}

// ListTransitionsFrom retrieves the transitions leaving one state.
func (r *StateRepository) ListTransitionsFrom(_ context.Context, modelType, fromState string) ([]models.StateTransition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.StateTransition
	for _, t := range r.transitions {
		if t.ModelType == modelType && t.FromState == fromState {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListTransitions retrieves every transition of a model type.
func (r *StateRepository) ListTransitions(_ context.Context, modelType string) ([]models.StateTransition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.StateTransition
	for _, t := range r.transitions {
		if t.ModelType == modelType {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ApplyTransition writes the entity state and appends history
// atomically under the repository lock.
func (r *StateRepository) ApplyTransition(ctx context.Context, modelType, entityID, toState string, entry *models.StateHistoryEntry) error {
	snapshot, err := r.entities.GetEntity(ctx, modelType, entityID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot.State = toState
	if err := r.entities.upsertLocked(snapshot); err != nil {
		return err
	}
	key := entityKey(modelType, entityID)
	r.history[key] = append(r.history[key], *entry)
	return nil
}

// ListHistory retrieves the approval history of one entity.
func (r *StateRepository) ListHistory(_ context.Context, modelType, entityID string) ([]models.StateHistoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]models.StateHistoryEntry(nil), r.history[entityKey(modelType, entityID)]...), nil
}

// EntityStore is an in-memory entity projection store for testing.
type EntityStore struct {
	mu       sync.RWMutex
	entities map[string]models.EntitySnapshot
}

// NewEntityStore creates a new in-memory entity store.
func NewEntityStore() *EntityStore {
	return &EntityStore{entities: make(map[string]models.EntitySnapshot)}
}

// GetEntity retrieves one entity projection.
func (s *EntityStore) GetEntity(_ context.Context, modelType, entityID string) (*models.EntitySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.entities[entityKey(modelType, entityID)]
	if !ok {
		return nil, fmt.Errorf("%w: entity %s/%s", engine.ErrNotFound, modelType, entityID)
	}
	copied := snapshot
	return &copied, nil
}

// UpsertEntity writes an entity projection.
func (s *EntityStore) UpsertEntity(_ context.Context, snapshot *models.EntitySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(snapshot)
}

func (s *EntityStore) upsertLocked(snapshot *models.EntitySnapshot) error {
	key := entityKey(snapshot.ModelType, snapshot.EntityID)
	if existing, ok := s.entities[key]; ok && snapshot.State == "" {
		snapshot.State = existing.State
	}
	s.entities[key] = *snapshot
	return nil
}
