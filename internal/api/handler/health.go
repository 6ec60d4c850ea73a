package handler

import (
	"net/http"

	"github.com/remiblancher/encrypto/internal/api/dto"
	"github.com/remiblancher/encrypto/pkg/qpgp"
)

// HealthHandler handles health and readiness endpoints.
type HealthHandler struct {
	version string
	backend qpgp.Backend
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(version string, backend qpgp.Backend) *HealthHandler {
	return &HealthHandler{version: version, backend: backend}
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, dto.HealthResponse{
		Status:  "ok",
		Version: h.version,
		Backend: h.backend.Name(),
	})
}

// Ready handles GET /ready. The keyring must be listable.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	_, err := h.backend.ListKeys(r.Context())
	checks := map[string]bool{
		"server":  true,
		"keyring": err == nil,
	}

	resp := dto.ReadyResponse{Ready: err == nil, Checks: checks}
	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, resp)
}
