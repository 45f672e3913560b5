package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/wisbric/fleethub/internal/apierr"
)

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// ErrorDetail is the standard JSON error envelope body, per spec §4.14.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps ErrorDetail under the "detail" key.
type ErrorResponse struct {
	Detail ErrorDetail `json:"detail"`
}

// RespondError writes a JSON error response using a raw code and message.
func RespondError(w http.ResponseWriter, status int, code, message string) {
	Respond(w, status, ErrorResponse{Detail: ErrorDetail{Code: code, Message: message}})
}

// RespondAPIError maps a typed *apierr.Error to its HTTP status and envelope.
// This is the only place in the codebase that performs that mapping.
func RespondAPIError(w http.ResponseWriter, err *apierr.Error) {
	if err.Kind == apierr.KindRateLimited && err.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(err.RetryAfter))
	}
	RespondError(w, err.Kind.HTTPStatus(), string(err.Kind), err.Message)
}
