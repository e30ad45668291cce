package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"

	"github.com/dukex/sagaflow/pkg/events"
	"github.com/dukex/sagaflow/pkg/models"
	"github.com/dukex/sagaflow/pkg/persistence"
	"github.com/dukex/sagaflow/pkg/state"
	"github.com/tidwall/gjson"
)

var errCancelled = errors.New("transaction cancelled")

// handleFailedTask retries a failed task while it has retries left, and
// escalates to the failure strategy of its workflow afterwards.
func (e *Engine) handleFailedTask(ctx context.Context, task *models.Task, delayElapsed bool) error {
	workflow, err := e.getWorkflow(ctx, task.WorkflowID)
	if err != nil {
		return err
	}

	switch workflow.Status {
	case models.WorkflowStatusCancelled:
		return e.handleCancelWorkflow(ctx, workflow)
	case models.WorkflowStatusRunning:
	default:
		return nil
	}

	if task.AwaitingRetry() {
		if task.RetryDelay > 0 && !delayElapsed {
			return e.sendTimer(ctx, models.TimerTypeRetryDelay, millis(task.RetryDelay), models.TaskUpdate{
				TransactionID:     task.TransactionID,
				WorkflowID:        task.WorkflowID,
				TaskID:            task.TaskID,
				Status:            task.Status,
				IsSystem:          true,
				RetryDelayElapsed: true,
			})
		}

		return e.retryTask(ctx, task)
	}

	taskData, err := e.taskData(ctx, workflow.WorkflowID)
	if err != nil {
		return err
	}

	return e.resolveFailure(ctx, workflow, task, taskData)
}

func (e *Engine) retryTask(ctx context.Context, task *models.Task) error {
	retry, err := e.reloadTask(ctx, task)
	if err != nil || retry == nil {
		return err
	}

	e.logger.InfoContext(ctx, "Retrying task",
		"transaction_id", retry.TransactionID,
		"task_ref", retry.TaskReferenceName,
		"task_id", retry.TaskID,
		"retries_left", retry.Retries)

	return e.dispatch(ctx, retry)
}

// hasPendingTasks reports whether a task that can still settle exists.
// Branching tasks only wait on their children and do not count.
func hasPendingTasks(taskData models.TaskData, countRetries bool) bool {
	for _, task := range taskData {
		if task.Type.IsSystem() {
			continue
		}

		if task.Status.IsActive() || (countRetries && task.AwaitingRetry()) {
			return true
		}
	}

	return false
}

// resolveFailure applies the failure strategy once no other task is pending.
func (e *Engine) resolveFailure(ctx context.Context, workflow *models.Workflow, failed *models.Task, taskData models.TaskData) error {
	if hasPendingTasks(taskData, true) {
		e.logger.DebugContext(ctx, "Waiting for pending tasks before failing workflow",
			"transaction_id", workflow.TransactionID, "workflow_id", workflow.WorkflowID)

		return nil
	}

	output := failureOutput(failed)

	updated, err := e.updateWorkflow(ctx, models.WorkflowUpdate{
		WorkflowID:    workflow.WorkflowID,
		TransactionID: workflow.TransactionID,
		Status:        state.WorkflowStatusFor(failed.Status),
		Output:        output,
	})
	if err != nil || updated == nil {
		return err
	}

	e.logger.InfoContext(ctx, "Workflow failed",
		"transaction_id", updated.TransactionID,
		"workflow_id", updated.WorkflowID,
		"workflow_type", updated.Type,
		"status", updated.Status,
		"task_ref", failed.TaskReferenceName)

	switch updated.Type {
	case models.WorkflowTypeWorkflow:
	case models.WorkflowTypeSubWorkflow:
		return e.settleParentTask(ctx, updated, models.TaskStatusFailed, output)
	default:
		return e.finishTransaction(ctx, updated.TransactionID, models.TransactionStatusFailed, output)
	}

	switch updated.WorkflowDefinition.FailureStrategy {
	case models.FailureStrategyRetry:
		if updated.Retries <= 0 {
			return e.finishTransaction(ctx, updated.TransactionID, models.TransactionStatusFailed, output)
		}

		_, err := e.startWorkflow(ctx, workflowRun{
			TransactionID: updated.TransactionID,
			Type:          models.WorkflowTypeWorkflow,
			Definition:    updated.WorkflowDefinition,
			Input:         updated.Input,
			Retries:       updated.Retries - 1,
		})

		return err
	case models.FailureStrategyCompensate:
		return e.compensate(ctx, updated, taskData, models.WorkflowTypeCompensateWorkflow)
	case models.FailureStrategyCompensateThenRetry:
		return e.compensate(ctx, updated, taskData, models.WorkflowTypeCompensateThenRetryWorkflow)
	case models.FailureStrategyRecoveryWorkflow:
		return e.startRecovery(ctx, updated, taskData, models.WorkflowTypeCompensateWorkflow)
	default:
		return e.finishTransaction(ctx, updated.TransactionID, models.TransactionStatusFailed, output)
	}
}

func failureOutput(failed *models.Task) map[string]any {
	message := fmt.Sprintf("task %s ended %s", failed.TaskReferenceName, failed.Status)
	if cause, ok := failed.Output["error"]; ok {
		message = fmt.Sprintf("%s: %v", message, cause)
	}

	return map[string]any{
		"error":   message,
		"task_id": failed.TaskID,
	}
}

// compensate runs the compensating task of every completed worker task, most
// recently completed first.
func (e *Engine) compensate(ctx context.Context, workflow *models.Workflow, taskData models.TaskData, workflowType models.WorkflowType) error {
	nodes := compensationNodes(taskData)
	if len(nodes) == 0 {
		return e.compensationCompleted(ctx, workflow.TransactionID, workflowType, workflow.Retries)
	}

	definition := models.WorkflowDefinition{
		Name:            workflow.WorkflowDefinition.Name + "_compensate",
		Rev:             workflow.WorkflowDefinition.Rev,
		Tasks:           nodes,
		FailureStrategy: models.FailureStrategyFailed,
	}

	_, err := e.startWorkflow(ctx, workflowRun{
		TransactionID: workflow.TransactionID,
		Type:          workflowType,
		Definition:    definition,
		Input:         snapshot(taskData),
		Retries:       workflow.Retries,
	})

	return err
}

func compensationNodes(taskData models.TaskData) []models.TaskNode {
	var completed []*models.Task

	for _, task := range taskData {
		if task.Type == models.TaskTypeTask && task.Status == models.TaskStatusCompleted {
			completed = append(completed, task)
		}
	}

	sort.Slice(completed, func(i, j int) bool {
		if completed[i].EndTime.Equal(completed[j].EndTime) {
			return completed[i].CreateTime.After(completed[j].CreateTime)
		}

		return completed[i].EndTime.After(completed[j].EndTime)
	})

	nodes := make([]models.TaskNode, 0, len(completed))

	for _, task := range completed {
		ref := task.TaskReferenceName
		path := "workflow.input." + gjson.Escape(ref)
		nodes = append(nodes, models.TaskNode{
			Type:              models.TaskTypeCompensate,
			Name:              task.TaskName,
			TaskReferenceName: ref,
			InputParameters: map[string]any{
				"input":  "${" + path + ".input}",
				"output": "${" + path + ".output}",
			},
		})
	}

	return nodes
}

// startRecovery runs the recovery workflow of the definition, or the definition
// itself, with the failed run's task data under input.recovery.
func (e *Engine) startRecovery(ctx context.Context, workflow *models.Workflow, taskData models.TaskData, workflowType models.WorkflowType) error {
	definition := workflow.WorkflowDefinition

	if ref := definition.RecoveryWorkflow; ref != nil {
		recovery, err := e.workflowDefinitions.Get(ctx, ref.Key())
		if err != nil {
			return err
		}

		if recovery == nil {
			cause := persistence.NewDefinitionError("Get", ref.Key(), persistence.ErrDefinitionNotFound)
			e.emit(ctx, events.NewSystemError(workflow.TransactionID, ref, cause))

			status := models.TransactionStatusFailed
			if workflowType == models.WorkflowTypeCancelWorkflow {
				status = models.TransactionStatusCancelled
			}

			return e.finishTransaction(ctx, workflow.TransactionID, status, errorOutput(cause))
		}

		definition = *recovery
	}

	input := make(map[string]any, len(workflow.Input)+1)
	maps.Copy(input, workflow.Input)
	input["recovery"] = snapshot(taskData)

	_, err := e.startWorkflow(ctx, workflowRun{
		TransactionID: workflow.TransactionID,
		Type:          workflowType,
		Definition:    definition,
		Input:         input,
	})

	return err
}

// handleCancelWorkflow resolves a cancelled workflow once its in-flight tasks settled.
func (e *Engine) handleCancelWorkflow(ctx context.Context, workflow *models.Workflow) error {
	taskData, err := e.taskData(ctx, workflow.WorkflowID)
	if err != nil {
		return err
	}

	if hasPendingTasks(taskData, false) {
		e.logger.DebugContext(ctx, "Waiting for in-flight tasks of cancelled workflow",
			"transaction_id", workflow.TransactionID, "workflow_id", workflow.WorkflowID)

		return nil
	}

	if workflow.Type == models.WorkflowTypeSubWorkflow {
		return e.settleParentTask(ctx, workflow, models.TaskStatusFailed, errorOutput(errCancelled))
	}

	transaction, err := e.transactions.Get(ctx, workflow.TransactionID)
	if err != nil {
		return err
	}

	if transaction == nil || transaction.Status.IsTerminal() {
		return nil
	}

	attempts, err := e.workflows.ListByTransaction(ctx, workflow.TransactionID)
	if err != nil {
		return err
	}

	for _, attempt := range attempts {
		if attempt.Status == models.WorkflowStatusRunning {
			return nil
		}
	}

	e.logger.InfoContext(ctx, "Resolving cancelled workflow",
		"transaction_id", workflow.TransactionID, "workflow_id", workflow.WorkflowID)

	if workflow.Type != models.WorkflowTypeWorkflow {
		return e.finishTransaction(ctx, workflow.TransactionID, models.TransactionStatusCancelled, errorOutput(errCancelled))
	}

	switch workflow.WorkflowDefinition.FailureStrategy {
	case models.FailureStrategyCompensate:
		return e.compensate(ctx, workflow, taskData, models.WorkflowTypeCompensateWorkflow)
	case models.FailureStrategyCompensateThenRetry:
		return e.compensate(ctx, workflow, taskData, models.WorkflowTypeCompensateThenRetryWorkflow)
	case models.FailureStrategyRecoveryWorkflow:
		return e.startRecovery(ctx, workflow, taskData, models.WorkflowTypeCancelWorkflow)
	default:
		return e.finishTransaction(ctx, workflow.TransactionID, models.TransactionStatusCancelled, errorOutput(errCancelled))
	}
}

// isCancelled reports whether a cancellation hit any attempt of the transaction.
func (e *Engine) isCancelled(ctx context.Context, transactionID string) (bool, error) {
	attempts, err := e.workflows.ListByTransaction(ctx, transactionID)
	if err != nil {
		return false, err
	}

	for _, attempt := range attempts {
		if attempt.Status == models.WorkflowStatusCancelled {
			return true, nil
		}
	}

	return false, nil
}
