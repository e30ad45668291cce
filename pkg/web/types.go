package web

import (
	"github.com/dukex/sagaflow/pkg/engine"
	"github.com/dukex/sagaflow/pkg/models"
)

// StartTransactionRequest represents the request body for starting a transaction.
type StartTransactionRequest struct {
	// TransactionID makes the start idempotent; a fresh id is generated when empty.
	TransactionID string             `json:"transaction_id,omitempty"`
	Workflow      models.WorkflowRef `json:"workflow"                 validate:"required"`
	Input         map[string]any     `json:"input"`
	Tags          []string           `json:"tags,omitempty"`
}

// StartRequest converts the body into the engine start command.
func (r StartTransactionRequest) StartRequest() engine.StartRequest {
	return engine.StartRequest{
		TransactionID: r.TransactionID,
		Workflow:      r.Workflow,
		Input:         r.Input,
		Tags:          r.Tags,
	}
}

// TaskUpdateRequest represents a status report of an HTTP speaking worker.
type TaskUpdateRequest struct {
	TaskID string            `json:"task_id" validate:"required"`
	Status models.TaskStatus `json:"status"  validate:"required,oneof=INPROGRESS COMPLETED FAILED"`
	Output map[string]any    `json:"output,omitempty"`
	Logs   []string          `json:"logs,omitempty"`
}

// TaskUpdate converts the body into an update routed by the stored task.
func (r TaskUpdateRequest) TaskUpdate() models.TaskUpdate {
	return models.TaskUpdate{
		TaskID: r.TaskID,
		Status: r.Status,
		Output: r.Output,
		Logs:   r.Logs,
	}
}
