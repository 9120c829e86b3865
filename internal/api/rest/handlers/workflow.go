package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/docflowhq/docflow/internal/api/rest/middleware"
	"github.com/docflowhq/docflow/internal/models"
	"github.com/docflowhq/docflow/internal/services"
	"github.com/docflowhq/docflow/pkg/logger"
)

// WorkflowHandler handles workflow definition HTTP requests
type WorkflowHandler struct {
	logger  *logger.Logger
	service *services.WorkflowService
}

// NewWorkflowHandler creates a new workflow handler
func NewWorkflowHandler(log *logger.Logger, service *services.WorkflowService) *WorkflowHandler {
	return &WorkflowHandler{
		logger:  log,
		service: service,
	}
}

// Create creates a new workflow with its steps
func (h *WorkflowHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	actor := middleware.GetActor(r.Context())
	workflow, err := h.service.Create(r.Context(), &req, actor)
	if err != nil {
		respondEngineError(w, h.logger, err, "Failed to create workflow")
		return
	}

	respondJSON(w, http.StatusCreated, workflow)
}

// Validate checks a workflow definition without persisting it
func (h *WorkflowHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req models.CreateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.ValidateDefinition(&req); err != nil {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"valid": false,
			"error": err.Error(),
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"valid": true})
}

// Get retrieves a workflow with its steps
func (h *WorkflowHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid workflow ID")
		return
	}

	workflow, steps, err := h.service.Get(r.Context(), id)
	if err != nil {
		respondEngineError(w, h.logger, err, "Failed to get workflow")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"workflow": workflow,
		"steps":    steps,
	})
}

// List retrieves workflows, optionally filtered by target model
func (h *WorkflowHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r, 20)

	var targetModel *string
	if tm := r.URL.Query().Get("target_model"); tm != "" {
		targetModel = &tm
	}

	workflows, total, err := h.service.List(r.Context(), targetModel, limit, offset)
	if err != nil {
		respondEngineError(w, h.logger, err, "Failed to list workflows")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"workflows": workflows,
		"total":     total,
		"limit":     limit,
		"offset":    offset,
	})
}

// Update updates workflow metadata. Steps are immutable after creation.
func (h *WorkflowHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid workflow ID")
		return
	}

	var req struct {
		Name        string       `json:"name"`
		Description *string      `json:"description,omitempty"`
		Variables   models.JSONB `json:"global_variables,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	workflow, err := h.service.UpdateMetadata(r.Context(), id, req.Name, req.Description, req.Variables)
	if err != nil {
		respondEngineError(w, h.logger, err, "Failed to update workflow")
		return
	}

	respondJSON(w, http.StatusOK, workflow)
}

// Enable activates a workflow
func (h *WorkflowHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true, "Workflow enabled")
}

// Disable deactivates a workflow
func (h *WorkflowHandler) Disable(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false, "Workflow disabled")
}

func (h *WorkflowHandler) setActive(w http.ResponseWriter, r *http.Request, active bool, message string) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid workflow ID")
		return
	}

	if err := h.service.SetActive(r.Context(), id, active); err != nil {
		respondEngineError(w, h.logger, err, "Failed to update workflow")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": message})
}
