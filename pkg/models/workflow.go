package models

import "time"

// WorkflowType tells why a workflow attempt was created.
type WorkflowType string

const (
	WorkflowTypeWorkflow                    WorkflowType = "WORKFLOW"
	WorkflowTypeCompensateWorkflow          WorkflowType = "COMPENSATE_WORKFLOW"
	WorkflowTypeCompensateThenRetryWorkflow WorkflowType = "COMPENSATE_THEN_RETRY_WORKFLOW"
	WorkflowTypeCancelWorkflow              WorkflowType = "CANCEL_WORKFLOW"
	WorkflowTypeSubWorkflow                 WorkflowType = "SUB_WORKFLOW"
)

// WorkflowStatus represents the lifecycle state of a workflow attempt.
type WorkflowStatus string

const (
	WorkflowStatusRunning   WorkflowStatus = "RUNNING"
	WorkflowStatusCompleted WorkflowStatus = "COMPLETED"
	WorkflowStatusFailed    WorkflowStatus = "FAILED"
	WorkflowStatusTimeout   WorkflowStatus = "TIMEOUT"
	WorkflowStatusCancelled WorkflowStatus = "CANCELLED"
)

// Workflow is one execution attempt of a WorkflowDefinition within a transaction.
type Workflow struct {
	WorkflowID    string         `json:"workflow_id"`
	TransactionID string         `json:"transaction_id"`
	Type          WorkflowType   `json:"type"`
	Status        WorkflowStatus `json:"status"`
	Retries       int            `json:"retries"`
	Input         map[string]any `json:"input"`
	Output        map[string]any `json:"output,omitempty"`
	// WorkflowDefinition may be synthetic (compensation runs).
	WorkflowDefinition WorkflowDefinition `json:"workflow_definition"`
	// ParentTaskID is set for SUB_WORKFLOW attempts.
	ParentTaskID string    `json:"parent_task_id,omitempty"`
	CreateTime   time.Time `json:"create_time"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time,omitzero"`
}

// WorkflowUpdate moves a running workflow to a new status.
type WorkflowUpdate struct {
	WorkflowID    string         `json:"workflow_id"`
	TransactionID string         `json:"transaction_id"`
	Status        WorkflowStatus `json:"status"`
	Output        map[string]any `json:"output,omitempty"`
}
