package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/docflowhq/docflow/internal/api/rest/middleware"
	"github.com/docflowhq/docflow/internal/engine"
	"github.com/docflowhq/docflow/internal/models"
	"github.com/docflowhq/docflow/internal/services"
	"github.com/docflowhq/docflow/pkg/logger"
)

// TransitionHandler handles state model definition and entity
// transition HTTP requests.
type TransitionHandler struct {
	logger       *logger.Logger
	states       *services.StateService
	stateMachine *engine.StateMachine
}

// NewTransitionHandler creates a new transition handler
func NewTransitionHandler(log *logger.Logger, states *services.StateService, sm *engine.StateMachine) *TransitionHandler {
	return &TransitionHandler{
		logger:       log,
		states:       states,
		stateMachine: sm,
	}
}

// ListStates retrieves the state definitions of a model type
func (h *TransitionHandler) ListStates(w http.ResponseWriter, r *http.Request) {
	modelType := chi.URLParam(r, "model_type")

	states, err := h.states.ListStates(r.Context(), modelType)
	if err != nil {
		respondEngineError(w, h.logger, err, "Failed to list states")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"states": states})
}

// CreateState registers a state definition
func (h *TransitionHandler) CreateState(w http.ResponseWriter, r *http.Request) {
	var state models.ApprovalState
	if err := json.NewDecoder(r.Body).Decode(&state); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.states.CreateState(r.Context(), &state); err != nil {
		respondEngineError(w, h.logger, err, "Failed to create state")
		return
	}

	respondJSON(w, http.StatusCreated, state)
}

// ListTransitionDefinitions retrieves the transition definitions of a model type
func (h *TransitionHandler) ListTransitionDefinitions(w http.ResponseWriter, r *http.Request) {
	modelType := chi.URLParam(r, "model_type")

	transitions, err := h.states.ListTransitions(r.Context(), modelType)
	if err != nil {
		respondEngineError(w, h.logger, err, "Failed to list transitions")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"transitions": transitions})
}

// CreateTransition registers a transition definition between two states
func (h *TransitionHandler) CreateTransition(w http.ResponseWriter, r *http.Request) {
	var transition models.StateTransition
	if err := json.NewDecoder(r.Body).Decode(&transition); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.states.CreateTransition(r.Context(), &transition); err != nil {
		respondEngineError(w, h.logger, err, "Failed to create transition")
		return
	}

	respondJSON(w, http.StatusCreated, transition)
}

// ListAvailable retrieves the transitions the caller can execute on one
// entity from its current state.
func (h *TransitionHandler) ListAvailable(w http.ResponseWriter, r *http.Request) {
	modelType := chi.URLParam(r, "model_type")
	entityID := chi.URLParam(r, "entity_id")

	actor := middleware.GetActor(r.Context())
	available, err := h.stateMachine.ListAvailableTransitions(r.Context(), modelType, entityID, actor)
	if err != nil {
		respondEngineError(w, h.logger, err, "Failed to list available transitions")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"transitions": available})
}

// Execute runs a named transition on one entity
func (h *TransitionHandler) Execute(w http.ResponseWriter, r *http.Request) {
	modelType := chi.URLParam(r, "model_type")
	entityID := chi.URLParam(r, "entity_id")
	name := chi.URLParam(r, "name")

	var req struct {
		Reason *string `json:"reason,omitempty"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	actor := middleware.GetActor(r.Context())
	toState, err := h.stateMachine.ExecuteTransition(r.Context(), modelType, entityID, name, actor, req.Reason)
	if err != nil {
		respondEngineError(w, h.logger, err, "Failed to execute transition")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Transition executed",
		"state":   toState,
	})
}

// History retrieves the approval history of one entity
func (h *TransitionHandler) History(w http.ResponseWriter, r *http.Request) {
	modelType := chi.URLParam(r, "model_type")
	entityID := chi.URLParam(r, "entity_id")

	history, err := h.stateMachine.GetHistory(r.Context(), modelType, entityID)
	if err != nil {
		respondEngineError(w, h.logger, err, "Failed to get history")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"history": history})
}
