package services

import (
	"context"
	"fmt"

	"github.com/dukex/sagaflow/pkg/engine"
	"github.com/dukex/sagaflow/pkg/models"
	"github.com/dukex/sagaflow/pkg/persistence"
)

// Engine is the part of the engine the administration surface drives.
type Engine interface {
	StartTransaction(ctx context.Context, request engine.StartRequest) (*models.Transaction, error)
	CancelTransaction(ctx context.Context, transactionID string) error
}

// UpdatePublisher hands a task update to the engine through the update topic.
type UpdatePublisher interface {
	PublishUpdate(ctx context.Context, update models.TaskUpdate) error
}

// TransactionDetail is a transaction with every workflow attempt and task it ran.
type TransactionDetail struct {
	Transaction *models.Transaction `json:"transaction"`
	Workflows   []WorkflowDetail    `json:"workflows"`
}

// WorkflowDetail is one attempt with its tasks, retired ones included.
type WorkflowDetail struct {
	Workflow *models.Workflow `json:"workflow"`
	Tasks    []*models.Task   `json:"tasks"`
}

type Transactions struct {
	engine      Engine
	persistence persistence.Persistence
	updates     UpdatePublisher
}

// NewTransactions creates the transaction service.
func NewTransactions(engine Engine, persistence persistence.Persistence, updates UpdatePublisher) *Transactions {
	return &Transactions{
		engine:      engine,
		persistence: persistence,
		updates:     updates,
	}
}

// HealthCheck checks the health of the persistence layer.
func (t *Transactions) HealthCheck(ctx context.Context) (string, bool) {
	if t.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := t.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Start starts a transaction for a stored workflow definition.
func (t *Transactions) Start(ctx context.Context, request engine.StartRequest) (*models.Transaction, error) {
	transaction, err := t.engine.StartTransaction(ctx, request)
	if err != nil {
		return nil, err
	}

	return transaction, nil
}

// Cancel cancels a running transaction.
func (t *Transactions) Cancel(ctx context.Context, transactionID string) error {
	return t.engine.CancelTransaction(ctx, transactionID)
}

// Get returns a transaction with its attempts and tasks.
func (t *Transactions) Get(ctx context.Context, transactionID string) (*TransactionDetail, error) {
	transaction, err := t.persistence.Transactions().Get(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", transactionID, err)
	}

	if transaction == nil {
		return nil, persistence.NewTransactionError("Get", transactionID, persistence.ErrTransactionNotFound)
	}

	workflows, err := t.persistence.Workflows().ListByTransaction(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows of transaction %s: %w", transactionID, err)
	}

	detail := &TransactionDetail{
		Transaction: transaction,
		Workflows:   make([]WorkflowDetail, 0, len(workflows)),
	}

	for _, workflow := range workflows {
		tasks, err := t.persistence.Tasks().ListByWorkflow(ctx, workflow.WorkflowID)
		if err != nil {
			return nil, fmt.Errorf("failed to list tasks of workflow %s: %w", workflow.WorkflowID, err)
		}

		detail.Workflows = append(detail.Workflows, WorkflowDetail{Workflow: workflow, Tasks: tasks})
	}

	return detail, nil
}

// List returns transactions, newest first, optionally filtered by status.
func (t *Transactions) List(ctx context.Context, status models.TransactionStatus) ([]*models.Transaction, error) {
	switch status {
	case "", models.TransactionStatusRunning, models.TransactionStatusCompleted, models.TransactionStatusFailed,
		models.TransactionStatusCancelled, models.TransactionStatusCompensated:
	default:
		return nil, NewValidationError("List", "invalid_status", "unknown transaction status "+string(status), ErrInvalidRequest)
	}

	transactions, err := t.persistence.Transactions().List(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	return transactions, nil
}

// workerStatuses are the statuses an external worker may report.
var workerStatuses = map[models.TaskStatus]struct{}{
	models.TaskStatusInprogress: {},
	models.TaskStatusCompleted:  {},
	models.TaskStatusFailed:     {},
}

// ReportUpdate publishes a worker's status report for a task. The routing ids
// are taken from the stored task, engine-only flags are cleared.
func (t *Transactions) ReportUpdate(ctx context.Context, update models.TaskUpdate) error {
	if update.TaskID == "" {
		return NewValidationError("ReportUpdate", "invalid_update", "task_id is required", ErrInvalidUpdate)
	}

	if _, ok := workerStatuses[update.Status]; !ok {
		return NewValidationError("ReportUpdate", "invalid_update", "status must be INPROGRESS, COMPLETED or FAILED", ErrInvalidUpdate)
	}

	task, err := t.persistence.Tasks().Get(ctx, update.TaskID)
	if err != nil {
		return fmt.Errorf("failed to get task %s: %w", update.TaskID, err)
	}

	if task == nil {
		return persistence.NewTaskError("Get", update.TaskID, persistence.ErrTaskNotFound)
	}

	update.TransactionID = task.TransactionID
	update.WorkflowID = task.WorkflowID
	update.IsSystem = false
	update.RetryDelayElapsed = false

	if err := t.updates.PublishUpdate(ctx, update); err != nil {
		return fmt.Errorf("failed to publish update for task %s: %w", update.TaskID, err)
	}

	return nil
}
