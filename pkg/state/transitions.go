// Package state holds the transition tables gating status changes of tasks,
// workflows and transactions.
package state

import "github.com/dukex/sagaflow/pkg/models"

// workerTransitions lists, for each target status, the statuses a worker-issued
// update may move a task from.
var workerTransitions = map[models.TaskStatus][]models.TaskStatus{
	models.TaskStatusInprogress: {models.TaskStatusScheduled},
	models.TaskStatusAckTimeout: {models.TaskStatusScheduled},
	models.TaskStatusCompleted:  {models.TaskStatusInprogress},
	models.TaskStatusFailed:     {models.TaskStatusInprogress},
	models.TaskStatusTimeout:    {models.TaskStatusInprogress},
}

// systemTransitions is the table for updates issued by the engine itself,
// which settle system tasks and timers without a worker ack.
var systemTransitions = map[models.TaskStatus][]models.TaskStatus{
	models.TaskStatusCompleted: {models.TaskStatusScheduled, models.TaskStatusInprogress},
	models.TaskStatusFailed:    {models.TaskStatusScheduled, models.TaskStatusInprogress},
}

// Predecessors returns the statuses a task must currently hold for an update to
// target to be accepted. An empty result means the move is never allowed.
func Predecessors(target models.TaskStatus, isSystem bool) []models.TaskStatus {
	table := workerTransitions
	if isSystem {
		table = systemTransitions
	}

	return table[target]
}

// CanTransitionTask reports whether a task in status from may move to to.
func CanTransitionTask(from, to models.TaskStatus, isSystem bool) bool {
	for _, status := range Predecessors(to, isSystem) {
		if status == from {
			return true
		}
	}

	return false
}

// CanTransitionWorkflow reports whether a workflow may move from one status to another.
func CanTransitionWorkflow(from, to models.WorkflowStatus) bool {
	return from == models.WorkflowStatusRunning && to != models.WorkflowStatusRunning
}

// CanTransitionTransaction reports whether a transaction may move from one status to another.
func CanTransitionTransaction(from, to models.TransactionStatus) bool {
	return from == models.TransactionStatusRunning && to.IsTerminal()
}

// InitialTaskStatus is the status a task is created in. Tasks the engine
// settles itself start in progress, worker and timer driven ones start scheduled.
func InitialTaskStatus(taskType models.TaskType) models.TaskStatus {
	switch taskType {
	case models.TaskTypeDecision, models.TaskTypeParallel, models.TaskTypeDynamicTask,
		models.TaskTypeSubTransaction, models.TaskTypeSubWorkflow:
		return models.TaskStatusInprogress
	default:
		return models.TaskStatusScheduled
	}
}

// WorkflowStatusFor maps the terminal status of the task that failed a workflow
// onto the workflow status.
func WorkflowStatusFor(status models.TaskStatus) models.WorkflowStatus {
	switch status {
	case models.TaskStatusTimeout, models.TaskStatusAckTimeout:
		return models.WorkflowStatusTimeout
	default:
		return models.WorkflowStatusFailed
	}
}
