package handlers

import (
	"net/http"

	"github.com/mediguard/mediguard-platform/internal/observability/metrics"
)

// AdminStats handles GET /api/app/admin/stats (admin).
func (h *AppHandler) AdminStats(w http.ResponseWriter, r *http.Request) {
	snap, err := metrics.Gather(h.gatherer)
	if err != nil {
		h.logger.Warn("partial metrics gather", "error", err)
	}
	pending, err := h.repo.PendingAppointments(r.Context())
	if err != nil {
		h.logger.Error("failed to count pending appointments", "error", err)
		jsonError(w, "failed to load stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pending_appointments": len(pending),
		"metrics":              snap,
	})
}
