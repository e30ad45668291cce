package engine

import (
	"context"
	"fmt"

	"github.com/dukex/sagaflow/pkg/models"
	"github.com/dukex/sagaflow/pkg/template"
	"github.com/dukex/sagaflow/pkg/tree"
)

// handleCompletedTask moves the workflow past a completed task.
func (e *Engine) handleCompletedTask(ctx context.Context, task *models.Task) error {
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

	taskData, err := e.taskData(ctx, workflow.WorkflowID)
	if err != nil {
		return err
	}

	tasks := workflow.WorkflowDefinition.Tasks

	path := tree.FindTaskPath(task.TaskReferenceName, tasks, taskData)
	if path == nil {
		return fmt.Errorf("%w: %s is not part of workflow %s", tree.ErrMalformedTree, task.TaskReferenceName, workflow.WorkflowID)
	}

	next, err := tree.GetNextTaskPath(tasks, path, taskData)
	if err != nil {
		return err
	}

	switch {
	case next.IsLastChild && next.ParentTask != nil:
		return e.completeSystemTask(ctx, next.ParentTask)
	case next.TaskPath != nil:
		return e.createTask(ctx, workflow, next.TaskPath, taskData)
	case !next.IsCompleted:
		if failed := failedTask(taskData); failed != nil {
			return e.resolveFailure(ctx, workflow, failed, taskData)
		}

		return nil
	default:
		return e.completeWorkflow(ctx, workflow, taskData)
	}
}

// completeSystemTask settles a branching task whose last child finished and
// continues from it.
func (e *Engine) completeSystemTask(ctx context.Context, parent *models.Task) error {
	task, err := e.updateTask(ctx, models.TaskUpdate{
		TransactionID: parent.TransactionID,
		WorkflowID:    parent.WorkflowID,
		TaskID:        parent.TaskID,
		Status:        models.TaskStatusCompleted,
		IsSystem:      true,
	})
	if err != nil || task == nil {
		return err
	}

	return e.handleCompletedTask(ctx, task)
}

// failedTask returns a settled failure that will not be retried, if any.
func failedTask(taskData models.TaskData) *models.Task {
	for _, task := range taskData {
		if task.Status.IsFailure() && !task.AwaitingRetry() {
			return task
		}
	}

	return nil
}

func (e *Engine) completeWorkflow(ctx context.Context, workflow *models.Workflow, taskData models.TaskData) error {
	var output map[string]any

	if params := workflow.WorkflowDefinition.OutputParameters; len(params) > 0 {
		resolved, err := template.Resolve(params, resolverData(workflow, taskData))
		if err != nil {
			resolved = errorOutput(fmt.Errorf("failed to resolve workflow output: %w", err))
		}

		output = resolved
	}

	updated, err := e.updateWorkflow(ctx, models.WorkflowUpdate{
		WorkflowID:    workflow.WorkflowID,
		TransactionID: workflow.TransactionID,
		Status:        models.WorkflowStatusCompleted,
		Output:        output,
	})
	if err != nil || updated == nil {
		return err
	}

	e.logger.InfoContext(ctx, "Workflow completed",
		"transaction_id", updated.TransactionID, "workflow_id", updated.WorkflowID, "workflow_type", updated.Type)

	switch updated.Type {
	case models.WorkflowTypeWorkflow:
		return e.finishTransaction(ctx, updated.TransactionID, models.TransactionStatusCompleted, output)
	case models.WorkflowTypeSubWorkflow:
		return e.settleParentTask(ctx, updated, models.TaskStatusCompleted, output)
	case models.WorkflowTypeCancelWorkflow:
		return e.finishTransaction(ctx, updated.TransactionID, models.TransactionStatusCancelled, output)
	default:
		return e.compensationCompleted(ctx, updated.TransactionID, updated.Type, updated.Retries)
	}
}

// compensationCompleted ends a compensation or recovery run.
func (e *Engine) compensationCompleted(ctx context.Context, transactionID string, workflowType models.WorkflowType, retries int) error {
	cancelled, err := e.isCancelled(ctx, transactionID)
	if err != nil {
		return err
	}

	if cancelled {
		return e.finishTransaction(ctx, transactionID, models.TransactionStatusCancelled, nil)
	}

	if workflowType == models.WorkflowTypeCompensateThenRetryWorkflow && retries > 0 {
		transaction, err := e.getTransaction(ctx, transactionID)
		if err != nil {
			return err
		}

		_, err = e.startWorkflow(ctx, workflowRun{
			TransactionID: transactionID,
			Type:          models.WorkflowTypeWorkflow,
			Definition:    transaction.WorkflowDefinition,
			Input:         transaction.Input,
			Retries:       retries - 1,
		})

		return err
	}

	return e.finishTransaction(ctx, transactionID, models.TransactionStatusCompensated, nil)
}

// settleParentTask reports the outcome of a sub workflow to the task that spawned it.
func (e *Engine) settleParentTask(ctx context.Context, workflow *models.Workflow, status models.TaskStatus, output map[string]any) error {
	parent, err := e.tasks.Get(ctx, workflow.ParentTaskID)
	if err != nil {
		return err
	}

	if parent == nil {
		return fmt.Errorf("parent task %s of workflow %s not found", workflow.ParentTaskID, workflow.WorkflowID)
	}

	return e.processUpdate(ctx, models.TaskUpdate{
		TransactionID: parent.TransactionID,
		WorkflowID:    parent.WorkflowID,
		TaskID:        parent.TaskID,
		Status:        status,
		Output:        output,
		IsSystem:      true,
		DoNotRetry:    status == models.TaskStatusFailed,
	})
}
