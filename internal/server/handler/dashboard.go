package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/priorauth/internal/server/service"
)

type DashboardHandler struct {
	service *service.AdjudicationService
	logger  *zap.Logger
}

func NewDashboardHandler(s *service.AdjudicationService, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{service: s, logger: logger.Named("dashboard-handler")}
}

// GetStats returns the 24-hour operational snapshot.
// GET /api/v1/dashboard/stats
func (h *DashboardHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.DashboardStats(r.Context())
	if err != nil {
		h.logger.Error("dashboard stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to collect stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
