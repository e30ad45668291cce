package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/sagaflow/pkg/events"
	"github.com/dukex/sagaflow/pkg/lock"
	"github.com/dukex/sagaflow/pkg/models"
	"github.com/dukex/sagaflow/pkg/otelhelper"
	"github.com/dukex/sagaflow/pkg/persistence"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
)

// StartRequest asks for a new transaction running a stored workflow definition.
type StartRequest struct {
	// TransactionID dedupes start commands; a fresh id is used when empty.
	TransactionID string
	Workflow      models.WorkflowRef
	Input         map[string]any
	Tags          []string
}

// StartTransaction stores a transaction and starts its root workflow.
func (e *Engine) StartTransaction(ctx context.Context, request StartRequest) (*models.Transaction, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.StartTransaction",
		attribute.String(otelhelper.WorkflowNameKey, request.Workflow.Key()),
	)
	defer span.End()

	definition, err := e.workflowDefinitions.Get(ctx, request.Workflow.Key())
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if definition == nil {
		err := persistence.NewDefinitionError("Get", request.Workflow.Key(), persistence.ErrDefinitionNotFound)
		otelhelper.SetError(span, err)

		return nil, err
	}

	if request.TransactionID == "" {
		request.TransactionID = e.newID()
	}

	span.SetAttributes(attribute.String(otelhelper.TransactionIDKey, request.TransactionID))

	transaction := &models.Transaction{
		TransactionID:      request.TransactionID,
		Status:             models.TransactionStatusRunning,
		Input:              request.Input,
		WorkflowDefinition: *definition,
		Tags:               request.Tags,
	}

	if err := e.startTransaction(ctx, transaction); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	return transaction, nil
}

func (e *Engine) startTransaction(ctx context.Context, transaction *models.Transaction) error {
	if err := validateInput(transaction.WorkflowDefinition.InputSchema, transaction.Input); err != nil {
		return err
	}

	return e.withLock(ctx, transaction.TransactionID, func(ctx context.Context) error {
		err := e.transactions.Create(ctx, transaction)
		e.emit(ctx, events.NewTransactionCreated(transaction, err))

		if err != nil {
			return err
		}

		e.logger.InfoContext(ctx, "Transaction started",
			"transaction_id", transaction.TransactionID,
			"definition", transaction.WorkflowDefinition.DefinitionKey())

		_, err = e.startWorkflow(ctx, workflowRun{
			TransactionID: transaction.TransactionID,
			Type:          models.WorkflowTypeWorkflow,
			Definition:    transaction.WorkflowDefinition,
			Input:         transaction.Input,
			Retries:       transaction.WorkflowDefinition.RetryLimit(),
		})

		return err
	})
}

func validateInput(schema map[string]any, input map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	if input == nil {
		input = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(input))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}

	return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(problems, "; "))
}

// CancelTransaction cancels every running workflow of a transaction. Tasks
// already dispatched keep running; the cancellation resolves once they settle.
func (e *Engine) CancelTransaction(ctx context.Context, transactionID string) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.CancelTransaction",
		attribute.String(otelhelper.TransactionIDKey, transactionID),
	)
	defer span.End()

	err := e.withLock(ctx, transactionID, func(ctx context.Context) error {
		return e.cancelTransaction(ctx, transactionID)
	})
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return err
}

func (e *Engine) cancelTransaction(ctx context.Context, transactionID string) error {
	transaction, err := e.getTransaction(ctx, transactionID)
	if err != nil {
		return err
	}

	if transaction.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrTransactionNotRunning, transactionID, transaction.Status)
	}

	attempts, err := e.workflows.ListByTransaction(ctx, transactionID)
	if err != nil {
		return err
	}

	var cancelled []*models.Workflow

	for _, attempt := range attempts {
		if attempt.Status != models.WorkflowStatusRunning {
			continue
		}

		workflow, err := e.updateWorkflow(ctx, models.WorkflowUpdate{
			WorkflowID:    attempt.WorkflowID,
			TransactionID: transactionID,
			Status:        models.WorkflowStatusCancelled,
		})
		if err != nil {
			return err
		}

		if workflow != nil {
			cancelled = append(cancelled, workflow)
		}
	}

	e.logger.InfoContext(ctx, "Transaction cancelled", "transaction_id", transactionID, "workflows", len(cancelled))

	if len(cancelled) == 0 {
		return e.finishTransaction(ctx, transactionID, models.TransactionStatusCancelled, errorOutput(errCancelled))
	}

	var children []string

	for _, workflow := range cancelled {
		taskData, err := e.taskData(ctx, workflow.WorkflowID)
		if err != nil {
			return err
		}

		for _, task := range taskData {
			if task.Type == models.TaskTypeSubTransaction && task.Status.IsActive() {
				children = append(children, task.TaskID)
			}
		}
	}

	// Sub workflows first, they settle the tasks their parents wait on.
	for i := len(cancelled) - 1; i >= 0; i-- {
		if err := e.handleCancelWorkflow(ctx, cancelled[i]); err != nil {
			return err
		}
	}

	for _, child := range children {
		err := e.withLock(ctx, child, func(ctx context.Context) error {
			return e.cancelTransaction(ctx, child)
		})
		if err != nil && !errors.Is(err, ErrTransactionNotRunning) {
			e.logger.WarnContext(ctx, "Failed to cancel sub transaction",
				"transaction_id", transactionID, "sub_transaction_id", child, "error", err)
		}
	}

	return nil
}

// finishTransaction settles a transaction and reports it to its parent task.
// Instance data may be gone once it returns.
func (e *Engine) finishTransaction(ctx context.Context, transactionID string, status models.TransactionStatus, output map[string]any) error {
	transaction, err := e.updateTransaction(ctx, models.TransactionUpdate{
		TransactionID: transactionID,
		Status:        status,
		Output:        output,
	})
	if err != nil || transaction == nil {
		return err
	}

	e.logger.InfoContext(ctx, "Transaction finished", "transaction_id", transactionID, "status", status)

	parent := transaction.Parent
	if parent == nil {
		return nil
	}

	update := models.TaskUpdate{
		TransactionID: parent.TransactionID,
		WorkflowID:    parent.WorkflowID,
		TaskID:        parent.TaskID,
		Status:        models.TaskStatusCompleted,
		Output:        transaction.Output,
		IsSystem:      true,
	}

	if transaction.Status != models.TransactionStatusCompleted {
		update.Status = models.TaskStatusFailed
		update.DoNotRetry = true
		update.Output = map[string]any{
			"error":  fmt.Sprintf("sub transaction %s ended %s", transactionID, transaction.Status),
			"output": transaction.Output,
		}
	}

	return e.sendTimer(ctx, models.TimerTypeSubResult, 0, update)
}

func (e *Engine) getTransaction(ctx context.Context, transactionID string) (*models.Transaction, error) {
	transaction, err := e.transactions.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	if transaction == nil {
		return nil, persistence.NewTransactionError("Get", transactionID, persistence.ErrTransactionNotFound)
	}

	return transaction, nil
}

// withLock runs fn while holding the lock of key. Any acquisition failure is
// reported as lock.ErrNotAcquired so callers redeliver.
func (e *Engine) withLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	release, err := e.locker.Lock(ctx, key)
	if err != nil {
		if !errors.Is(err, lock.ErrNotAcquired) {
			err = fmt.Errorf("%w: %w", lock.ErrNotAcquired, err)
		}

		return err
	}

	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			e.logger.WarnContext(ctx, "Failed to release lock", "key", key, "error", err)
		}
	}()

	return fn(ctx)
}
