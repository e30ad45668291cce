package models

import "time"

// TransactionStatus is the saga-level outcome.
type TransactionStatus string

const (
	TransactionStatusRunning     TransactionStatus = "RUNNING"
	TransactionStatusCompleted   TransactionStatus = "COMPLETED"
	TransactionStatusFailed      TransactionStatus = "FAILED"
	TransactionStatusCancelled   TransactionStatus = "CANCELLED"
	TransactionStatusCompensated TransactionStatus = "COMPENSATED"
)

// IsTerminal reports whether no further transition is possible.
func (s TransactionStatus) IsTerminal() bool {
	return s != TransactionStatusRunning
}

// ParentRef links a sub-transaction to the task that started it.
type ParentRef struct {
	TransactionID string `json:"transaction_id"`
	TaskID        string `json:"task_id"`
	WorkflowID    string `json:"workflow_id"`
}

// Transaction is one saga-level request; it owns a history of workflow attempts.
type Transaction struct {
	TransactionID      string             `json:"transaction_id"`
	Status             TransactionStatus  `json:"status"`
	Input              map[string]any     `json:"input"`
	Output             map[string]any     `json:"output,omitempty"`
	WorkflowDefinition WorkflowDefinition `json:"workflow_definition"`
	Tags               []string           `json:"tags,omitempty"`
	Parent             *ParentRef         `json:"parent,omitempty"`
	CreateTime         time.Time          `json:"create_time"`
	EndTime            time.Time          `json:"end_time,omitzero"`
}

// TransactionUpdate moves a running transaction to a terminal status.
type TransactionUpdate struct {
	TransactionID string            `json:"transaction_id"`
	Status        TransactionStatus `json:"status"`
	Output        map[string]any    `json:"output,omitempty"`
}
