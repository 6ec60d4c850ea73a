package handler

import (
	"net/http"

	"github.com/remiblancher/encrypto/internal/api/dto"
	"github.com/remiblancher/encrypto/internal/validate"
	"github.com/remiblancher/encrypto/pkg/qpgp"
)

// CryptoHandler handles public-key operations: encryption to recipients
// and signature verification.
type CryptoHandler struct {
	backend  qpgp.Backend
	policies PolicySource
}

// NewCryptoHandler creates a new CryptoHandler.
func NewCryptoHandler(backend qpgp.Backend, policies PolicySource) *CryptoHandler {
	return &CryptoHandler{backend: backend, policies: policies}
}

// Encrypt handles POST /api/v1/encrypt
func (h *CryptoHandler) Encrypt(w http.ResponseWriter, r *http.Request) {
	var req dto.EncryptRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	recipients, err := validate.Recipients(req.Recipients)
	if err != nil {
		respondFailure(w, err)
		return
	}
	policy, err := h.policies.resolve(qpgp.OpEncrypt, req.PqcPolicy)
	if err != nil {
		respondFailure(w, err)
		return
	}
	plaintext, ok := decodeField(w, "plaintext", &req.Plaintext)
	if !ok {
		return
	}

	ct, err := h.backend.Encrypt(r.Context(), qpgp.EncryptRequest{
		Recipients: recipients,
		Plaintext:  plaintext,
		Armor:      req.Armor,
		PqcPolicy:  policy,
		Compat:     req.Compat,
	})
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.EncryptResponse{Ciphertext: dto.NewBinaryData(ct, req.Armor)})
}

// Verify handles POST /api/v1/verify. An invalid signature is a 200 with
// valid=false.
func (h *CryptoHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req dto.VerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	signer, err := validate.VerifySigner(req.Signer)
	if err != nil {
		respondFailure(w, err)
		return
	}
	policy, err := h.policies.resolve(qpgp.OpVerify, req.PqcPolicy)
	if err != nil {
		respondFailure(w, err)
		return
	}
	sig, ok := decodeField(w, "signature", &req.Signature)
	if !ok {
		return
	}
	var msg []byte
	if req.Message != nil {
		if msg, ok = decodeField(w, "message", req.Message); !ok {
			return
		}
	}

	res, err := h.backend.Verify(r.Context(), qpgp.VerifyRequest{
		Signer:    signer,
		Message:   msg,
		Signature: sig,
		Cleartext: req.Cleartext,
		PqcPolicy: policy,
	})
	if err != nil {
		respondFailure(w, err)
		return
	}

	resp := dto.VerifyResponse{Valid: res.Valid}
	if res.Signer != nil {
		resp.Signer = res.Signer.String()
	}
	if res.Message != nil {
		m := dto.NewBinaryData(res.Message, false)
		resp.Message = &m
	}
	respondJSON(w, http.StatusOK, resp)
}
