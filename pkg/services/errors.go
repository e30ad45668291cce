// Package services holds the administration use cases behind the HTTP API:
// definition management, transaction control and task update intake.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/sagaflow/pkg/engine"
	"github.com/dukex/sagaflow/pkg/lock"
	"github.com/dukex/sagaflow/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidDefinition = errors.New("invalid definition")
	ErrKeyMismatch       = errors.New("definition key does not match the request path")
	ErrInvalidUpdate     = errors.New("invalid task update")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidDefinition) ||
		errors.Is(err, ErrKeyMismatch) ||
		errors.Is(err, ErrInvalidUpdate) ||
		errors.Is(err, engine.ErrInvalidInput)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return persistence.IsAlreadyExists(err) ||
		errors.Is(err, engine.ErrTransactionNotRunning)
}

// IsUnavailableError checks if the request may succeed when retried later (HTTP 503).
func IsUnavailableError(err error) bool {
	return errors.Is(err, lock.ErrNotAcquired) || errors.Is(err, engine.ErrDeferred)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
