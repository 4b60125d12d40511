package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/priorauth/internal/audit"
)

// GetAudit returns the full audit record for a request.
// GET /api/prior-auth/{id}/audit
func (h *PriorAuthHandler) GetAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "request id is required")
		return
	}

	rec, err := h.service.GetAudit(r.Context(), id)
	if err != nil {
		if errors.Is(err, audit.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "no audit record for request")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load audit record")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}
