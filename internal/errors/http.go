package errors

import (
	"encoding/json"
	"net/http"

	"github.com/3leaps/govarcall/pkg/output"
)

// HTTP error codes beyond the output record codes.
const (
	CodeRouteNotFound      = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternalError      = "INTERNAL_ERROR"
)

// HTTPError is the body of every error response.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// HTTPErrorResponse wraps HTTPError under an "error" key.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// WriteHTTPError writes a JSON error body with the given status.
func WriteHTTPError(w http.ResponseWriter, status int, body HTTPError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: body})
}

// RespondWithError classifies err and writes the matching status and body.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	_, code := Classify(err)
	status := http.StatusInternalServerError
	switch code {
	case output.ErrCodeNotFound:
		status = http.StatusNotFound
	case output.ErrCodeInvalidConfig:
		status = http.StatusBadRequest
	case output.ErrCodeAccessDenied:
		status = http.StatusForbidden
	case output.ErrCodeCancelled:
		status = http.StatusServiceUnavailable
	}
	WriteHTTPError(w, status, HTTPError{Code: code, Message: err.Error()})
}
