package persistence

import (
	"slices"
	"time"

	"github.com/dukex/sagaflow/pkg/models"
	"github.com/dukex/sagaflow/pkg/state"
)

// ApplyTaskUpdate moves task to update.Status when the transition table allows
// it and reports whether it did. Backends share it so they agree on timestamps
// and on how outputs and logs are merged.
func ApplyTaskUpdate(task *models.Task, update models.TaskUpdate, now time.Time) bool {
	if !slices.Contains(state.Predecessors(update.Status, update.IsSystem), task.Status) {
		return false
	}

	task.Status = update.Status

	switch {
	case update.Status == models.TaskStatusInprogress:
		task.StartTime = now
	case !update.Status.IsActive():
		if task.StartTime.IsZero() {
			task.StartTime = now
		}

		task.EndTime = now
	}

	if update.Output != nil {
		task.Output = update.Output
	}

	task.Logs = append(task.Logs, update.Logs...)

	if update.DoNotRetry {
		task.Retries = 0
	}

	return true
}

// RetryOf builds the replacement of a task for a task-level retry.
func RetryOf(task *models.Task, taskID string, now time.Time) *models.Task {
	retry := *task
	retry.TaskID = taskID
	retry.Status = state.InitialTaskStatus(task.Type)
	retry.IsRetried = false
	retry.Output = nil
	retry.Logs = nil
	retry.Retries = max(task.Retries-1, 0)
	retry.CreateTime = now
	retry.StartTime = time.Time{}
	retry.EndTime = time.Time{}

	return &retry
}

// ApplyWorkflowUpdate settles a running workflow.
func ApplyWorkflowUpdate(workflow *models.Workflow, update models.WorkflowUpdate, now time.Time) bool {
	if !state.CanTransitionWorkflow(workflow.Status, update.Status) {
		return false
	}

	workflow.Status = update.Status
	workflow.EndTime = now

	if update.Output != nil {
		workflow.Output = update.Output
	}

	return true
}

// ApplyTransactionUpdate settles a running transaction.
func ApplyTransactionUpdate(transaction *models.Transaction, update models.TransactionUpdate, now time.Time) bool {
	if !state.CanTransitionTransaction(transaction.Status, update.Status) {
		return false
	}

	transaction.Status = update.Status
	transaction.EndTime = now

	if update.Output != nil {
		transaction.Output = update.Output
	}

	return true
}
