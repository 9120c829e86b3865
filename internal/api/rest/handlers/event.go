package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/docflowhq/docflow/internal/api/rest/middleware"
	"github.com/docflowhq/docflow/internal/engine"
	"github.com/docflowhq/docflow/internal/models"
	"github.com/docflowhq/docflow/pkg/logger"
)

// EventHandler handles entity event ingestion
type EventHandler struct {
	logger       *logger.Logger
	orchestrator *engine.Orchestrator
}

// NewEventHandler creates a new event handler
func NewEventHandler(log *logger.Logger, orchestrator *engine.Orchestrator) *EventHandler {
	return &EventHandler{
		logger:       log,
		orchestrator: orchestrator,
	}
}

// CreateEvent ingests an entity lifecycle event and triggers matching
// workflows synchronously.
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var ec models.EventContext
	if err := json.NewDecoder(r.Body).Decode(&ec); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if ec.EntityType == "" || ec.EntityID == "" || ec.EventName == "" {
		respondError(w, http.StatusBadRequest, "entity_type, entity_id and event_name are required")
		return
	}

	if actor := middleware.GetActor(r.Context()); actor != nil && ec.ActorID == nil {
		ec.ActorID = &actor.ID
		ec.ActorName = actor.Name
	}

	if err := h.orchestrator.Publish(r.Context(), &ec); err != nil {
		respondEngineError(w, h.logger, err, "Failed to process event")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"event":  ec.EventName,
	})
}
