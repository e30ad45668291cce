// Package persistence defines the store contracts of the engine and the
// standardized errors every backend returns.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrDefinitionNotFound indicates a task or workflow definition was not found by its key.
	ErrDefinitionNotFound = errors.New("definition not found")

	// ErrDefinitionAlreadyExists indicates a definition with the same key already exists.
	ErrDefinitionAlreadyExists = errors.New("definition already exists")

	// ErrTransactionNotFound indicates a transaction was not found by the given identifier.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrTransactionAlreadyExists indicates a start command was delivered twice.
	ErrTransactionAlreadyExists = errors.New("transaction already exists")

	// ErrWorkflowNotFound indicates a workflow instance was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrTaskNotFound indicates a task instance was not found by the given identifier.
	ErrTaskNotFound = errors.New("task not found")

	// ErrStaleUpdate indicates a conditional update was rejected because the
	// current status is not an allowed predecessor of the requested one.
	ErrStaleUpdate = errors.New("stale update")
)

// InstanceError wraps instance store errors with additional context.
type InstanceError struct {
	Op   string // Operation being performed (e.g., "Get", "Update", "Reload")
	Kind string // "transaction", "workflow", "task" or "definition"
	ID   string // Identifier of the instance
	Err  error  // Underlying error
}

func (e *InstanceError) Error() string {
	return fmt.Sprintf("%s operation failed for %s %s: %v", e.Op, e.Kind, e.ID, e.Err)
}

func (e *InstanceError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for instance errors.
func (e *InstanceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewTransactionError creates a new transaction error with context.
func NewTransactionError(op, transactionID string, err error) *InstanceError {
	return &InstanceError{Op: op, Kind: "transaction", ID: transactionID, Err: err}
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, workflowID string, err error) *InstanceError {
	return &InstanceError{Op: op, Kind: "workflow", ID: workflowID, Err: err}
}

// NewTaskError creates a new task error with context.
func NewTaskError(op, taskID string, err error) *InstanceError {
	return &InstanceError{Op: op, Kind: "task", ID: taskID, Err: err}
}

// NewDefinitionError creates a new definition error with context.
func NewDefinitionError(op, key string, err error) *InstanceError {
	return &InstanceError{Op: op, Kind: "definition", ID: key, Err: err}
}

// IsStaleUpdate checks if an error indicates a rejected conditional update.
func IsStaleUpdate(err error) bool {
	return errors.Is(err, ErrStaleUpdate)
}

// IsNotFound checks if an error indicates any missing definition or instance.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrTaskNotFound)
}

// IsAlreadyExists checks if an error indicates a duplicate create.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrDefinitionAlreadyExists) || errors.Is(err, ErrTransactionAlreadyExists)
}
