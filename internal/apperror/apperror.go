package apperror

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the failure taxonomy. The service layer classifies
// every store and identity failure into one of these before returning it, and
// the HTTP layer maps them to status codes with errors.Is — nothing is ever
// logged-and-swallowed in between.
var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation error")
	ErrConflict        = errors.New("transaction conflict")
	ErrForbidden       = errors.New("forbidden")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrProvisioning    = errors.New("provisioning failed")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Conflict reports an optimistic-concurrency abort: a document read during a
// transaction was modified before commit. Callers retry the whole attempt a
// bounded number of times before giving up.
func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s was modified concurrently (id %s)", resource, id),
	}
}

// Forbidden returns an AppError indicating the access policy denied the
// operation. Policy denials are never retried; HTTP handlers map this to 403.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthenticated returns an AppError for requests carrying no verified
// identity. HTTP handlers map this to 401.
func Unauthenticated(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthenticated,
		Message: message,
	}
}

// ProvisioningExhausted is returned when account setup ran out of transaction
// retries or hit an unexpected store failure. The transactional store
// guarantees no partial documents were written, so the caller can simply retry.
func ProvisioningExhausted(cause error) *AppError {
	return &AppError{
		Err:     fmt.Errorf("%w: %w", ErrProvisioning, cause),
		Message: "account setup failed, please try again",
	}
}
