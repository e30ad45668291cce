package persistence

import (
	"context"

	"github.com/dukex/sagaflow/pkg/models"
)

// HealthChecker is implemented by every store.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Definition is a stored template addressed by a natural key.
type Definition interface {
	models.TaskDefinition | models.WorkflowDefinition
	DefinitionKey() string
}

// DefinitionStore keeps operator-managed templates. Get returns nil, nil when
// the key is unknown.
type DefinitionStore[T Definition] interface {
	HealthChecker

	Get(ctx context.Context, key string) (*T, error)
	Create(ctx context.Context, definition *T) error
	Update(ctx context.Context, definition *T) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]*T, error)
}

// TransactionStore keeps transactions. Updates only apply to running ones.
type TransactionStore interface {
	HealthChecker

	Get(ctx context.Context, transactionID string) (*models.Transaction, error)
	// Create rejects an already used id with ErrTransactionAlreadyExists.
	Create(ctx context.Context, transaction *models.Transaction) error
	// Update returns ErrStaleUpdate when the transaction already settled.
	Update(ctx context.Context, update models.TransactionUpdate) (*models.Transaction, error)
	Delete(ctx context.Context, transactionID string) error
	// List filters by status, an empty status lists everything.
	List(ctx context.Context, status models.TransactionStatus) ([]*models.Transaction, error)
}

// WorkflowStore keeps workflow attempts.
type WorkflowStore interface {
	HealthChecker

	Get(ctx context.Context, workflowID string) (*models.Workflow, error)
	// ListByTransaction returns the attempts of a transaction, oldest first.
	ListByTransaction(ctx context.Context, transactionID string) ([]*models.Workflow, error)
	// Create assigns a fresh WorkflowID, retrying with a new one on collision.
	Create(ctx context.Context, workflow *models.Workflow) error
	// Update returns ErrStaleUpdate when the workflow is no longer running.
	Update(ctx context.Context, update models.WorkflowUpdate) (*models.Workflow, error)
	Delete(ctx context.Context, workflowID string) error
}

// TaskStore keeps task instances, including retired ones.
type TaskStore interface {
	HealthChecker

	Get(ctx context.Context, taskID string) (*models.Task, error)
	// ListByWorkflow returns every task of a workflow, retired ones included, oldest first.
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Task, error)
	// Create assigns a fresh TaskID.
	Create(ctx context.Context, task *models.Task) error
	// Update applies the update only if the current status is one of
	// state.Predecessors(update.Status, update.IsSystem), returning ErrStaleUpdate otherwise.
	Update(ctx context.Context, update models.TaskUpdate) (*models.Task, error)
	// Reload atomically retires task and creates its replacement with one retry less.
	Reload(ctx context.Context, task *models.Task) (*models.Task, error)
	Delete(ctx context.Context, taskID string) error
}

// Persistence aggregates every store of one backend.
type Persistence interface {
	TaskDefinitions() DefinitionStore[models.TaskDefinition]
	WorkflowDefinitions() DefinitionStore[models.WorkflowDefinition]
	Transactions() TransactionStore
	Workflows() WorkflowStore
	Tasks() TaskStore

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
