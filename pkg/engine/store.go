package engine

import (
	"context"
	"fmt"

	"github.com/dukex/sagaflow/pkg/events"
	"github.com/dukex/sagaflow/pkg/models"
	"github.com/dukex/sagaflow/pkg/persistence"
)

// Every mutation below emits exactly one event. A stale or unknown target is
// reported as an error event and yields a nil result with a nil error.

func isRejected(err error) bool {
	return persistence.IsStaleUpdate(err) || persistence.IsNotFound(err)
}

func (e *Engine) createWorkflow(ctx context.Context, workflow *models.Workflow) error {
	err := e.workflows.Create(ctx, workflow)
	e.emit(ctx, events.NewWorkflowCreated(workflow, err))

	if err != nil {
		return fmt.Errorf("failed to create workflow for transaction %s: %w", workflow.TransactionID, err)
	}

	return nil
}

func (e *Engine) storeTask(ctx context.Context, task *models.Task) error {
	err := e.tasks.Create(ctx, task)
	e.emit(ctx, events.NewTaskCreated(task, err))

	if err != nil {
		return fmt.Errorf("failed to create task %s: %w", task.TaskReferenceName, err)
	}

	return nil
}

func (e *Engine) updateTask(ctx context.Context, update models.TaskUpdate) (*models.Task, error) {
	task, err := e.tasks.Update(ctx, update)
	e.emit(ctx, events.NewTaskUpdated(update, task, err))

	if err != nil {
		if isRejected(err) {
			e.logger.DebugContext(ctx, "Ignoring task update",
				"task_id", update.TaskID, "status", update.Status, "error", err)

			return nil, nil
		}

		return nil, err
	}

	return task, nil
}

func (e *Engine) reloadTask(ctx context.Context, task *models.Task) (*models.Task, error) {
	retry, err := e.tasks.Reload(ctx, task)
	e.emit(ctx, events.NewTaskReloaded(task, retry, err))

	if err != nil {
		if isRejected(err) {
			return nil, nil
		}

		return nil, err
	}

	return retry, nil
}

func (e *Engine) updateWorkflow(ctx context.Context, update models.WorkflowUpdate) (*models.Workflow, error) {
	workflow, err := e.workflows.Update(ctx, update)
	e.emit(ctx, events.NewWorkflowUpdated(update, workflow, err))

	if err != nil {
		if isRejected(err) {
			return nil, nil
		}

		return nil, err
	}

	return workflow, nil
}

func (e *Engine) updateTransaction(ctx context.Context, update models.TransactionUpdate) (*models.Transaction, error) {
	transaction, err := e.transactions.Update(ctx, update)
	e.emit(ctx, events.NewTransactionUpdated(update, transaction, err))

	if err != nil {
		if isRejected(err) {
			return nil, nil
		}

		return nil, err
	}

	return transaction, nil
}

func (e *Engine) getWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	workflow, err := e.workflows.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow == nil {
		return nil, persistence.NewWorkflowError("Get", workflowID, persistence.ErrWorkflowNotFound)
	}

	return workflow, nil
}

func (e *Engine) taskData(ctx context.Context, workflowID string) (models.TaskData, error) {
	tasks, err := e.tasks.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	return models.NewTaskData(tasks), nil
}
