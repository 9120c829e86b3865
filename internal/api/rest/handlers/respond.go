package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/docflowhq/docflow/internal/engine"
	"github.com/docflowhq/docflow/pkg/logger"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondEngineError maps engine sentinel errors onto HTTP statuses.
// Anything unrecognized is a 500 with the generic message; the detail
// stays in the log.
func respondEngineError(w http.ResponseWriter, log *logger.Logger, err error, message string) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrForbidden):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, engine.ErrConditionNotMet):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, engine.ErrNotCancellable), errors.Is(err, engine.ErrNotRestartable):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrInvalidCondition):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		log.Errorf("%s: %v", message, err)
		respondError(w, http.StatusInternalServerError, message)
	}
}

func parsePagination(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 {
			limit = l
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if o, err := strconv.Atoi(v); err == nil && o >= 0 {
			offset = o
		}
	}
	return limit, offset
}
