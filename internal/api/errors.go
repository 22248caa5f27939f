package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/mint-scanner/internal/errors"
	"github.com/mint-scanner/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	_ = json.NewEncoder(w).Encode(response)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Common error codes
const (
	ErrCodeInvalidInput   = "INVALID_INPUT"
	ErrCodeSyncAllRunning = "SYNC_ALL_RUNNING"
)

// respondServiceError maps a service error to its HTTP status and body.
// The wrapped cause is never written to the client.
func respondServiceError(w http.ResponseWriter, err error) {
	catErr := apperrors.Categorize(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(catErr.StatusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: *catErr.ToServiceError()})
}
