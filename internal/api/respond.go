package api

import (
	"encoding/json"
	"net/http"

	"github.com/safar/go-storefront/internal/apperr"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidInput:
		return http.StatusBadRequest
	case apperr.KindConflict, apperr.KindInsufficientStock, apperr.KindStockViolation:
		return http.StatusConflict
	case apperr.KindEmptyCart:
		return http.StatusUnprocessableEntity
	case apperr.KindUnauthorized:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// respondAppError maps an error's kind to a status. Internal errors are
// logged and hidden from the client.
func respondAppError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)

	if status == http.StatusInternalServerError {
		zap.L().Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		respondError(w, status, kind.String(), "internal server error")
		return
	}

	respondJSON(w, status, ErrorResponse{
		Error:   apperr.ReasonOf(err),
		Code:    kind.String(),
		Details: err.Error(),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, apperr.KindInvalidInput.String(), "invalid JSON body")
		return false
	}
	return true
}
