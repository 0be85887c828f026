package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/dispatch-orchestrator/internal/errors"
	"github.com/dispatch-orchestrator/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	respondJSON(w, statusCode, ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// respondServiceError maps a categorized error onto its status code. Only
// user errors expose their message; everything else is reported generically.
func respondServiceError(w http.ResponseWriter, err error) {
	catErr := apperrors.Categorize(err)
	message := catErr.Message
	if catErr.StatusCode >= http.StatusInternalServerError && catErr.Category != apperrors.CategoryTransport &&
		catErr.Category != apperrors.CategoryNoAccounts {
		message = "An internal error occurred"
	}
	respondJSON(w, catErr.StatusCode, ErrorResponse{
		Error: types.ServiceError{
			Code:     catErr.Code,
			Category: string(catErr.Category),
			Message:  message,
			Details:  catErr.Details,
		},
	})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody parses JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// Common error codes
const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)
