package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/docflowhq/docflow/internal/api/rest/middleware"
	"github.com/docflowhq/docflow/internal/services"
	"github.com/docflowhq/docflow/pkg/logger"
)

// ApprovalHandler handles approval decision HTTP requests
type ApprovalHandler struct {
	logger  *logger.Logger
	service *services.ApprovalService
}

// NewApprovalHandler creates a new approval handler
func NewApprovalHandler(log *logger.Logger, service *services.ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{
		logger:  log,
		service: service,
	}
}

// ListPending retrieves the caller's open approval slots
func (h *ApprovalHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	if actor == nil {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	decisions, err := h.service.ListPendingForApprover(r.Context(), actor.ID)
	if err != nil {
		respondEngineError(w, h.logger, err, "Failed to list pending approvals")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"approvals": decisions,
		"total":     len(decisions),
	})
}

// GetApproval retrieves one approval decision slot
func (h *ApprovalHandler) GetApproval(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid approval ID")
		return
	}

	decision, err := h.service.GetDecision(r.Context(), id)
	if err != nil {
		respondEngineError(w, h.logger, err, "Failed to get approval")
		return
	}

	respondJSON(w, http.StatusOK, decision)
}

// Approve records an approval on a blocked step
func (h *ApprovalHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, true, "Approval recorded")
}

// Reject records a rejection on a blocked step
func (h *ApprovalHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, false, "Rejection recorded")
}

func (h *ApprovalHandler) decide(w http.ResponseWriter, r *http.Request, approve bool, message string) {
	stepExecutionID, err := uuid.Parse(chi.URLParam(r, "step_execution_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid step execution ID")
		return
	}

	var req struct {
		Reason *string `json:"reason,omitempty"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	actor := middleware.GetActor(r.Context())
	if err := h.service.Decide(r.Context(), stepExecutionID, actor, approve, req.Reason); err != nil {
		respondEngineError(w, h.logger, err, "Failed to record decision")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": message})
}
