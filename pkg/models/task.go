package models

import "time"

// TaskStatus is the lifecycle state of a materialized task.
type TaskStatus string

const (
	TaskStatusScheduled  TaskStatus = "SCHEDULED"
	TaskStatusInprogress TaskStatus = "INPROGRESS"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusFailed     TaskStatus = "FAILED"
	TaskStatusTimeout    TaskStatus = "TIMEOUT"
	TaskStatusAckTimeout TaskStatus = "ACK_TIMEOUT"
)

// IsFailure reports whether the status is one of the failed terminal states.
func (s TaskStatus) IsFailure() bool {
	return s == TaskStatusFailed || s == TaskStatusTimeout || s == TaskStatusAckTimeout
}

// IsActive reports whether the task has not settled yet.
func (s TaskStatus) IsActive() bool {
	return s == TaskStatusScheduled || s == TaskStatusInprogress
}

// Task is one materialized unit of work bound to a tree position.
type Task struct {
	TaskID            string         `json:"task_id"`
	TaskName          string         `json:"task_name"`
	TaskReferenceName string         `json:"task_reference_name"`
	WorkflowID        string         `json:"workflow_id"`
	TransactionID     string         `json:"transaction_id"`
	Type              TaskType       `json:"type"`
	Status            TaskStatus     `json:"status"`
	IsRetried         bool           `json:"is_retried"`
	Input             map[string]any `json:"input"`
	Output            map[string]any `json:"output,omitempty"`
	Logs              []string       `json:"logs,omitempty"`
	Retries           int            `json:"retries"`
	// RetryDelay, AckTimeout and Timeout are in milliseconds.
	RetryDelay int64 `json:"retry_delay"`
	AckTimeout int64 `json:"ack_timeout"`
	Timeout    int64 `json:"timeout"`

	// Structural copies taken at creation so navigation never re-reads the definition.
	Decisions       map[string][]TaskNode `json:"decisions,omitempty"`
	DefaultDecision []TaskNode            `json:"default_decision,omitempty"`
	ParallelTasks   [][]TaskNode          `json:"parallel_tasks,omitempty"`
	DynamicTasks    []TaskNode            `json:"dynamic_tasks,omitempty"`

	CreateTime time.Time `json:"create_time"`
	StartTime  time.Time `json:"start_time,omitzero"`
	EndTime    time.Time `json:"end_time,omitzero"`
}

// AwaitingRetry reports whether a failed task will still be retried at the task level.
func (t *Task) AwaitingRetry() bool {
	return t.Status.IsFailure() && !t.IsRetried && t.Retries > 0 && t.Type.IsWorker() && t.Type != TaskTypeCompensate
}

// TaskUpdate is a status report for one task, from a worker or from the engine itself.
type TaskUpdate struct {
	TransactionID string         `json:"transaction_id"`
	WorkflowID    string         `json:"workflow_id"`
	TaskID        string         `json:"task_id"`
	Status        TaskStatus     `json:"status"`
	Output        map[string]any `json:"output,omitempty"`
	Logs          []string       `json:"logs,omitempty"`
	IsSystem      bool           `json:"is_system"`
	DoNotRetry    bool           `json:"do_not_retry,omitempty"`
	// RetryDelayElapsed marks the redelivery of a failure once its retry delay passed.
	RetryDelayElapsed bool `json:"retry_delay_elapsed,omitempty"`
}

// TaskData is the flat reference-name keyed view of a workflow's tasks.
type TaskData map[string]*Task

// NewTaskData indexes tasks by reference name, skipping retired instances.
func NewTaskData(tasks []*Task) TaskData {
	data := make(TaskData, len(tasks))

	for _, task := range tasks {
		if task.IsRetried {
			continue
		}

		data[task.TaskReferenceName] = task
	}

	return data
}
