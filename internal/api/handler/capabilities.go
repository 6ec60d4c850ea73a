package handler

import (
	"net/http"

	"github.com/remiblancher/encrypto/internal/api/dto"
	"github.com/remiblancher/encrypto/internal/native"
	"github.com/remiblancher/encrypto/pkg/qpgp"
)

// CapabilitiesHandler reports what the backend can do.
type CapabilitiesHandler struct {
	backend  qpgp.Backend
	policies PolicySource
}

// NewCapabilitiesHandler creates a new CapabilitiesHandler.
func NewCapabilitiesHandler(backend qpgp.Backend, policies PolicySource) *CapabilitiesHandler {
	return &CapabilitiesHandler{backend: backend, policies: policies}
}

// Get handles GET /api/v1/capabilities
func (h *CapabilitiesHandler) Get(w http.ResponseWriter, r *http.Request) {
	policies := make(map[string]string)
	for _, op := range []qpgp.Operation{qpgp.OpGenerate, qpgp.OpEncrypt, qpgp.OpDecrypt, qpgp.OpSign, qpgp.OpVerify, qpgp.OpRotate} {
		p, _ := h.policies.resolve(op, "")
		policies[string(op)] = p.String()
	}

	respondJSON(w, http.StatusOK, dto.CapabilitiesResponse{
		Backend:     h.backend.Name(),
		SupportsPQC: h.backend.SupportsPQC(),
		Profile:     qpgp.OpenPGPPQCDraft,
		Suites:      native.SuiteNames(h.backend.SupportsPQC()),
		Policies:    policies,
	})
}
