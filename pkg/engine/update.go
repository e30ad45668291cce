package engine

import (
	"context"
	"errors"

	"github.com/dukex/sagaflow/pkg/events"
	"github.com/dukex/sagaflow/pkg/lock"
	"github.com/dukex/sagaflow/pkg/models"
	"github.com/dukex/sagaflow/pkg/otelhelper"
	"github.com/dukex/sagaflow/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// ProcessUpdateTasks handles a batch of updates. Updates of one workflow run
// in order, distinct workflows run concurrently. The result is aligned with
// updates: lock.ErrNotAcquired or ErrDeferred mark updates to redeliver.
func (e *Engine) ProcessUpdateTasks(ctx context.Context, updates []models.TaskUpdate) []error {
	errs := make([]error, len(updates))

	var order []string

	groups := make(map[string][]int)

	routed := make([]models.TaskUpdate, len(updates))

	for i, update := range updates {
		routed[i] = e.RouteUpdate(ctx, update)

		key := groupKey(routed[i])
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}

		groups[key] = append(groups[key], i)
	}

	var g errgroup.Group

	for _, key := range order {
		indexes := groups[key]

		g.Go(func() error {
			for n, i := range indexes {
				err := e.ProcessUpdateTask(ctx, routed[i])
				if err == nil {
					continue
				}

				errs[i] = err
				for _, rest := range indexes[n+1:] {
					errs[rest] = ErrDeferred
				}

				break
			}

			return nil
		})
	}

	_ = g.Wait()

	return errs
}

// RouteUpdate fills the transaction and workflow ids a worker left out from
// the stored task. Updates of one workflow then share a group whatever the
// sender included. An unknown task is returned unchanged.
func (e *Engine) RouteUpdate(ctx context.Context, update models.TaskUpdate) models.TaskUpdate {
	if update.TransactionID != "" && update.WorkflowID != "" {
		return update
	}

	task, err := e.tasks.Get(ctx, update.TaskID)
	if err != nil || task == nil {
		return update
	}

	update.TransactionID = task.TransactionID
	update.WorkflowID = task.WorkflowID

	return update
}

func groupKey(update models.TaskUpdate) string {
	switch {
	case update.WorkflowID != "":
		return update.WorkflowID
	case update.TransactionID != "":
		return update.TransactionID
	default:
		return update.TaskID
	}
}

// ProcessUpdateTask applies one update under the transaction lock. Only a
// failure to take the lock is returned; everything else is reported as a
// system error event.
func (e *Engine) ProcessUpdateTask(ctx context.Context, update models.TaskUpdate) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.ProcessUpdateTask",
		attribute.String(otelhelper.TransactionIDKey, update.TransactionID),
		attribute.String(otelhelper.WorkflowIDKey, update.WorkflowID),
		attribute.String(otelhelper.TaskIDKey, update.TaskID),
		attribute.String(otelhelper.TaskStatusKey, string(update.Status)),
	)
	defer span.End()

	update = e.RouteUpdate(ctx, update)

	if update.TransactionID == "" {
		e.emit(ctx, events.NewTaskUpdated(update, nil, persistence.NewTaskError("Update", update.TaskID, persistence.ErrTaskNotFound)))

		return nil
	}

	err := e.withLock(ctx, update.TransactionID, func(ctx context.Context) error {
		return e.processUpdate(ctx, update)
	})

	if errors.Is(err, lock.ErrNotAcquired) {
		otelhelper.SetError(span, err, lock.ErrNotAcquired)
		e.logger.WarnContext(ctx, "Transaction is locked, deferring update",
			"transaction_id", update.TransactionID, "task_id", update.TaskID)

		return err
	}

	if err != nil {
		otelhelper.SetError(span, err)
		e.logger.ErrorContext(ctx, "Failed to process task update",
			"transaction_id", update.TransactionID, "task_id", update.TaskID, "status", update.Status, "error", err)
		e.emit(ctx, events.NewSystemError(update.TransactionID, update, err))
	}

	return nil
}

func (e *Engine) processUpdate(ctx context.Context, update models.TaskUpdate) error {
	if update.RetryDelayElapsed {
		task, err := e.tasks.Get(ctx, update.TaskID)
		if err != nil {
			return err
		}

		if task == nil || !task.AwaitingRetry() {
			return nil
		}

		return e.handleFailedTask(ctx, task, true)
	}

	task, err := e.updateTask(ctx, update)
	if err != nil || task == nil {
		return err
	}

	switch {
	case task.Status == models.TaskStatusInprogress:
		if task.Timeout <= 0 || !task.Type.IsWorker() {
			return nil
		}

		return e.sendTimer(ctx, models.TimerTypeTimeout, millis(task.Timeout), models.TaskUpdate{
			TransactionID: task.TransactionID,
			WorkflowID:    task.WorkflowID,
			TaskID:        task.TaskID,
			Status:        models.TaskStatusTimeout,
		})
	case task.Status == models.TaskStatusCompleted:
		return e.handleCompletedTask(ctx, task)
	case task.Status.IsFailure():
		return e.handleFailedTask(ctx, task, false)
	default:
		return nil
	}
}
