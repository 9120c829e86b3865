package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/docflowhq/docflow/internal/api/rest/middleware"
	"github.com/docflowhq/docflow/internal/engine"
	"github.com/docflowhq/docflow/internal/models"
	"github.com/docflowhq/docflow/pkg/logger"
)

// ExecutionHandler handles workflow execution HTTP requests
type ExecutionHandler struct {
	logger       *logger.Logger
	executions   engine.ExecutionRepository
	orchestrator *engine.Orchestrator
}

// NewExecutionHandler creates a new execution handler
func NewExecutionHandler(log *logger.Logger, executions engine.ExecutionRepository, orchestrator *engine.Orchestrator) *ExecutionHandler {
	return &ExecutionHandler{
		logger:       log,
		executions:   executions,
		orchestrator: orchestrator,
	}
}

// ListExecutions retrieves executions with optional filters
func (h *ExecutionHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r, 20)

	var workflowID *uuid.UUID
	if v := r.URL.Query().Get("workflow_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid workflow_id filter")
			return
		}
		workflowID = &id
	}

	var status *models.ExecutionStatus
	if v := r.URL.Query().Get("status"); v != "" {
		s := models.ExecutionStatus(v)
		if !s.Valid() {
			respondError(w, http.StatusBadRequest, "Invalid status filter")
			return
		}
		status = &s
	}

	executions, total, err := h.executions.ListExecutions(r.Context(), workflowID, status, limit, offset)
	if err != nil {
		respondEngineError(w, h.logger, err, "Failed to list executions")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"executions": executions,
		"total":      total,
		"limit":      limit,
		"offset":     offset,
	})
}

// GetExecution retrieves one execution with its step progress
func (h *ExecutionHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid execution ID")
		return
	}

	progress, err := h.orchestrator.GetExecution(r.Context(), id)
	if err != nil {
		respondEngineError(w, h.logger, err, "Failed to get execution")
		return
	}

	respondJSON(w, http.StatusOK, progress)
}

// CancelExecution cancels a live execution
func (h *ExecutionHandler) CancelExecution(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid execution ID")
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	var actorID *uuid.UUID
	if actor := middleware.GetActor(r.Context()); actor != nil {
		actorID = &actor.ID
	}

	if err := h.orchestrator.Cancel(r.Context(), id, actorID, req.Reason); err != nil {
		respondEngineError(w, h.logger, err, "Failed to cancel execution")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "Execution cancelled"})
}

// RestartExecution clones a failed or cancelled execution and runs the
// clone from the first step.
func (h *ExecutionHandler) RestartExecution(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid execution ID")
		return
	}

	var actorID *uuid.UUID
	if actor := middleware.GetActor(r.Context()); actor != nil {
		actorID = &actor.ID
	}

	execution, err := h.orchestrator.Restart(r.Context(), id, actorID)
	if err != nil {
		respondEngineError(w, h.logger, err, "Failed to restart execution")
		return
	}

	respondJSON(w, http.StatusCreated, execution)
}

// ReleaseWait releases a manual wait step on a live execution
func (h *ExecutionHandler) ReleaseWait(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid execution ID")
		return
	}

	stepID, err := uuid.Parse(chi.URLParam(r, "step_execution_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid step execution ID")
		return
	}

	actor := middleware.GetActor(r.Context())
	if err := h.orchestrator.ReleaseWait(r.Context(), id, stepID, actor); err != nil {
		respondEngineError(w, h.logger, err, "Failed to release wait step")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "Wait step released"})
}
