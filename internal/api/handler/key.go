package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/remiblancher/encrypto/internal/api/dto"
	apierrors "github.com/remiblancher/encrypto/internal/api/errors"
	"github.com/remiblancher/encrypto/internal/native"
	"github.com/remiblancher/encrypto/internal/validate"
	"github.com/remiblancher/encrypto/pkg/qpgp"
)

// KeyHandler handles keyring requests. Only public material crosses the
// API.
type KeyHandler struct {
	backend qpgp.Backend
}

// NewKeyHandler creates a new KeyHandler.
func NewKeyHandler(backend qpgp.Backend) *KeyHandler {
	return &KeyHandler{backend: backend}
}

// List handles GET /api/v1/keys
func (h *KeyHandler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.backend.ListKeys(r.Context())
	if err != nil {
		respondFailure(w, err)
		return
	}

	resp := dto.KeyListResponse{Keys: make([]dto.KeyInfo, 0, len(keys)), Total: len(keys)}
	for _, k := range keys {
		resp.Keys = append(resp.Keys, dto.KeyInfoFromMeta(k))
	}
	respondJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/keys/{fingerprint}
func (h *KeyHandler) Get(w http.ResponseWriter, r *http.Request) {
	fp, err := validate.Fingerprint(chi.URLParam(r, "fingerprint"))
	if err != nil {
		respondFailure(w, err)
		return
	}

	keys, err := h.backend.ListKeys(r.Context())
	if err != nil {
		respondFailure(w, err)
		return
	}
	var info *dto.KeyInfo
	for _, k := range keys {
		if k.KeyID == fp {
			ki := dto.KeyInfoFromMeta(k)
			info = &ki
			break
		}
	}
	if info == nil {
		respondError(w, http.StatusNotFound, &dto.APIError{
			Code:    "NOT_FOUND",
			Message: "key not found",
			Details: map[string]string{"fingerprint": fp.String()},
		})
		return
	}

	cert, err := h.backend.ExportKey(r.Context(), fp, false, true)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.KeyExportResponse{Key: *info, Certificate: dto.NewBinaryData(cert, true)})
}

// Import handles POST /api/v1/keys/import
func (h *KeyHandler) Import(w http.ResponseWriter, r *http.Request) {
	var req dto.KeyImportRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	data, ok := decodeField(w, "key", &req.Key)
	if !ok {
		return
	}
	if native.HasSecretKey(data) {
		respondError(w, http.StatusForbidden, apierrors.NewForbidden("secret keys cannot be imported over the API"))
		return
	}

	meta, err := h.backend.ImportKey(r.Context(), data)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, dto.KeyInfoFromMeta(meta))
}
