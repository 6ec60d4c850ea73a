// Package handler provides HTTP handlers for the REST API.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/remiblancher/encrypto/internal/api/dto"
	apierrors "github.com/remiblancher/encrypto/internal/api/errors"
	"github.com/remiblancher/encrypto/internal/validate"
	"github.com/remiblancher/encrypto/pkg/qpgp"
)

// maxBody bounds JSON request bodies.
const maxBody = 16 << 20

// PolicySource returns the default pqc policy for an operation.
type PolicySource func(qpgp.Operation) qpgp.PqcPolicy

func (p PolicySource) resolve(op qpgp.Operation, override string) (qpgp.PqcPolicy, error) {
	if override != "" {
		return validate.Policy(override)
	}
	if p == nil {
		return qpgp.DefaultPolicy, nil
	}
	return p(op), nil
}

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

// respondError writes an error response.
func respondError(w http.ResponseWriter, status int, apiErr *dto.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiErr)
}

// respondFailure maps err through the error table.
func respondFailure(w http.ResponseWriter, err error) {
	status, apiErr := apierrors.MapError(err)
	respondError(w, status, apiErr)
}

// decodeJSON reads a bounded JSON body, answering 400 itself on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, apierrors.NewBadRequest("Invalid JSON request body: "+err.Error()))
		return false
	}
	return true
}

// decodeField decodes a BinaryData field, answering 400 on failure.
func decodeField(w http.ResponseWriter, name string, b *dto.BinaryData) ([]byte, bool) {
	data, err := b.Decode()
	if err != nil {
		respondError(w, http.StatusBadRequest, apierrors.NewBadRequest(name+": "+err.Error()))
		return nil, false
	}
	return data, true
}
