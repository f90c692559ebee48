package handler

// RESPONSE HELPERS:
// Every API response goes through these two functions so the frontend can
// rely on one shape:
//   {"error": "not_found", "message": "family not found with id f99"}
//
// The service layer speaks apperror sentinels; this file is the single place
// where those are translated into HTTP status codes. Handlers never pick
// status codes by hand.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/memora-app/memora/internal/apperror"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`   // machine-readable kind (e.g. "not_found")
	Message string `json:"message"` // human-readable description
}

// writeJSON sends a JSON response with the given status code. Headers and
// status must be written before the body; once Encode starts writing, any
// later header changes are silently dropped.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to its HTTP status and sends it.
//
// The mapping covers the full error taxonomy of the service layer:
//
//	ErrValidation      → 400 validation_error
//	ErrUnauthenticated → 401 unauthenticated
//	ErrForbidden       → 403 forbidden     (access rules denied the operation)
//	ErrNotFound        → 404 not_found
//	ErrConflict        → 409 conflict      (transaction lost the race; retryable)
//	ErrProvisioning    → 500 provisioning_failed (retries exhausted; sign in again to retry)
//
// Anything else is an unknown internal error: log-worthy, never exposed raw.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		errorType := "internal_error"

		switch {
		// Provisioning exhaustion wraps its cause (usually a conflict), so
		// it must be matched before the narrower sentinels.
		case errors.Is(err, apperror.ErrProvisioning):
			status = http.StatusInternalServerError
			errorType = "provisioning_failed"
		case errors.Is(err, apperror.ErrValidation):
			status = http.StatusBadRequest
			errorType = "validation_error"
		case errors.Is(err, apperror.ErrUnauthenticated):
			status = http.StatusUnauthorized
			errorType = "unauthenticated"
		case errors.Is(err, apperror.ErrForbidden):
			status = http.StatusForbidden
			errorType = "forbidden"
		case errors.Is(err, apperror.ErrNotFound):
			status = http.StatusNotFound
			errorType = "not_found"
		case errors.Is(err, apperror.ErrConflict):
			status = http.StatusConflict
			errorType = "conflict"
		}

		writeJSON(w, status, ErrorResponse{
			Error:   errorType,
			Message: appErr.Message,
		})
		return
	}

	if errors.Is(err, apperror.ErrProvisioning) {
		// ProvisioningExhausted wraps the sentinel without an AppError shell.
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "provisioning_failed",
			Message: "We could not finish setting up your account. Please sign in again to retry.",
		})
		return
	}

	// Never leak internal details (queries, file paths) to the client.
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}

// decodeBody parses a JSON request body into dst, with a size cap so a
// hostile client cannot feed us an unbounded document.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, apperror.ValidationFailed("body", "invalid JSON request body"))
		return false
	}
	return true
}
