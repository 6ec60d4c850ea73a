// Package errors maps backend errors to HTTP responses.
package errors

import (
	"errors"
	"net/http"

	"github.com/remiblancher/encrypto/internal/api/dto"
	"github.com/remiblancher/encrypto/internal/validate"
	"github.com/remiblancher/encrypto/pkg/qpgp"
)

// Error codes for API responses.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeValidation     = "VALIDATION_ERROR"
	CodePolicyDenied   = "POLICY_DENIED"
	CodeNotImplemented = "NOT_IMPLEMENTED"
	CodeStorage        = "STORAGE_ERROR"
	CodeCrypto         = "CRYPTO_ERROR"
	CodeForbidden      = "FORBIDDEN"
	CodeInternal       = "INTERNAL_ERROR"
)

// MapError maps err to a status and response body.
func MapError(err error) (int, *dto.APIError) {
	if err == nil {
		return http.StatusOK, nil
	}

	var verr *validate.Error
	if errors.As(err, &verr) {
		return http.StatusBadRequest, &dto.APIError{
			Code:    CodeValidation,
			Message: verr.Msg,
			Details: map[string]string{"field": verr.Field},
		}
	}

	if qpgp.IsPolicyDenial(err) {
		status := http.StatusUnprocessableEntity
		if qpgp.KindOf(err) == qpgp.KindNotImplemented {
			status = http.StatusNotImplemented
		}
		return status, &dto.APIError{Code: CodePolicyDenied, Message: err.Error()}
	}

	switch qpgp.KindOf(err) {
	case qpgp.KindInvalidInput:
		return http.StatusBadRequest, &dto.APIError{Code: CodeInvalidRequest, Message: err.Error()}
	case qpgp.KindNotImplemented:
		return http.StatusNotImplemented, &dto.APIError{Code: CodeNotImplemented, Message: err.Error()}
	case qpgp.KindIO:
		return http.StatusServiceUnavailable, &dto.APIError{Code: CodeStorage, Message: err.Error()}
	case qpgp.KindBackend:
		return http.StatusInternalServerError, &dto.APIError{Code: CodeCrypto, Message: err.Error()}
	}

	return http.StatusInternalServerError, &dto.APIError{
		Code:    CodeInternal,
		Message: "An internal error occurred",
	}
}

// NewBadRequest creates a bad request error.
func NewBadRequest(message string) *dto.APIError {
	return &dto.APIError{Code: CodeInvalidRequest, Message: message}
}

// NewForbidden creates a forbidden error.
func NewForbidden(message string) *dto.APIError {
	return &dto.APIError{Code: CodeForbidden, Message: message}
}
