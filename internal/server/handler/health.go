package handler

import (
	"context"
	"net/http"

	"github.com/xela07ax/priorauth/internal/domain"
)

// ReferenceChecker reports database liveness and reference-data coverage.
type ReferenceChecker interface {
	Ping(ctx context.Context) error
	GetReferenceCounts(ctx context.Context) (*domain.ReferenceCounts, error)
}

type HealthHandler struct {
	checker ReferenceChecker
}

func NewHealthHandler(checker ReferenceChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// Check reports liveness plus reference-table row counts. An empty
// exclusion or code table means screens silently pass, so the counts are
// part of the health signal, not just decoration.
// GET /health
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	if err := h.checker.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  "database unreachable",
		})
		return
	}

	counts, err := h.checker.GetReferenceCounts(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  "reference tables unreadable",
		})
		return
	}

	status := "ok"
	code := http.StatusOK
	if counts.Exclusions == 0 || counts.CodeEdits == 0 || counts.Diagnoses == 0 {
		status = "degraded"
	}

	writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"references": counts,
	})
}
