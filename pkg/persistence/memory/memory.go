// Package memory provides an in-process implementation of every store, used
// for development runs and engine tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dukex/sagaflow/pkg/models"
	"github.com/dukex/sagaflow/pkg/persistence"
	"github.com/google/uuid"
)

// Option configures the memory backend.
type Option func(*Persistence)

// WithCleanup deletes the workflows and tasks of a transaction once it settles.
func WithCleanup() Option {
	return func(p *Persistence) {
		p.cleanup = true
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Persistence) {
		p.now = now
	}
}

// Persistence implements persistence.Persistence in memory. A single mutex
// guards every store so Reload and cleanup are atomic.
type Persistence struct {
	mu      sync.RWMutex
	cleanup bool
	now     func() time.Time
	newID   func() string

	taskDefinitions     map[string]models.TaskDefinition
	workflowDefinitions map[string]models.WorkflowDefinition
	transactions        map[string]*models.Transaction
	workflows           map[string]*models.Workflow
	tasks               map[string]*models.Task
}

// NewPersistence creates an empty memory backend.
func NewPersistence(opts ...Option) *Persistence {
	p := &Persistence{
		now:                 func() time.Time { return time.Now().UTC() },
		newID:               func() string { return uuid.Must(uuid.NewV7()).String() },
		taskDefinitions:     make(map[string]models.TaskDefinition),
		workflowDefinitions: make(map[string]models.WorkflowDefinition),
		transactions:        make(map[string]*models.Transaction),
		workflows:           make(map[string]*models.Workflow),
		tasks:               make(map[string]*models.Task),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

func (p *Persistence) TaskDefinitions() persistence.DefinitionStore[models.TaskDefinition] {
	return &definitionStore[models.TaskDefinition]{p: p, items: p.taskDefinitions}
}

func (p *Persistence) WorkflowDefinitions() persistence.DefinitionStore[models.WorkflowDefinition] {
	return &definitionStore[models.WorkflowDefinition]{p: p, items: p.workflowDefinitions}
}

func (p *Persistence) Transactions() persistence.TransactionStore { return &transactionStore{p} }
func (p *Persistence) Workflows() persistence.WorkflowStore       { return &workflowStore{p} }
func (p *Persistence) Tasks() persistence.TaskStore               { return &taskStore{p} }

// HealthCheck always succeeds.
func (p *Persistence) HealthCheck(_ context.Context) error { return nil }

// Close performs any necessary cleanup. For memory persistence, there is nothing to clean up.
func (p *Persistence) Close(_ context.Context) error { return nil }

type definitionStore[T persistence.Definition] struct {
	p     *Persistence
	items map[string]T
}

func (s *definitionStore[T]) HealthCheck(ctx context.Context) error { return s.p.HealthCheck(ctx) }

func (s *definitionStore[T]) Get(_ context.Context, key string) (*T, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()

	item, ok := s.items[key]
	if !ok {
		return nil, nil
	}

	return &item, nil
}

func (s *definitionStore[T]) Create(_ context.Context, definition *T) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()

	key := (*definition).DefinitionKey()
	if _, ok := s.items[key]; ok {
		return persistence.NewDefinitionError("Create", key, persistence.ErrDefinitionAlreadyExists)
	}

	s.items[key] = *definition

	return nil
}

func (s *definitionStore[T]) Update(_ context.Context, definition *T) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()

	key := (*definition).DefinitionKey()
	if _, ok := s.items[key]; !ok {
		return persistence.NewDefinitionError("Update", key, persistence.ErrDefinitionNotFound)
	}

	s.items[key] = *definition

	return nil
}

func (s *definitionStore[T]) Delete(_ context.Context, key string) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()

	if _, ok := s.items[key]; !ok {
		return persistence.NewDefinitionError("Delete", key, persistence.ErrDefinitionNotFound)
	}

	delete(s.items, key)

	return nil
}

func (s *definitionStore[T]) List(_ context.Context) ([]*T, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()

	keys := make([]string, 0, len(s.items))
	for key := range s.items {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	items := make([]*T, 0, len(keys))

	for _, key := range keys {
		item := s.items[key]
		items = append(items, &item)
	}

	return items, nil
}

type transactionStore struct{ p *Persistence }

func (s *transactionStore) HealthCheck(ctx context.Context) error { return s.p.HealthCheck(ctx) }

func (s *transactionStore) Get(_ context.Context, transactionID string) (*models.Transaction, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()

	transaction, ok := s.p.transactions[transactionID]
	if !ok {
		return nil, nil
	}

	return cloneTransaction(transaction), nil
}

func (s *transactionStore) Create(_ context.Context, transaction *models.Transaction) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()

	if _, ok := s.p.transactions[transaction.TransactionID]; ok {
		return persistence.NewTransactionError("Create", transaction.TransactionID, persistence.ErrTransactionAlreadyExists)
	}

	if transaction.CreateTime.IsZero() {
		transaction.CreateTime = s.p.now()
	}

	s.p.transactions[transaction.TransactionID] = cloneTransaction(transaction)

	return nil
}

func (s *transactionStore) Update(_ context.Context, update models.TransactionUpdate) (*models.Transaction, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()

	transaction, ok := s.p.transactions[update.TransactionID]
	if !ok {
		return nil, persistence.NewTransactionError("Update", update.TransactionID, persistence.ErrTransactionNotFound)
	}

	update.Output = cloneMap(update.Output)

	if !persistence.ApplyTransactionUpdate(transaction, update, s.p.now()) {
		return nil, persistence.NewTransactionError("Update", update.TransactionID, persistence.ErrStaleUpdate)
	}

	if s.p.cleanup && transaction.Status.IsTerminal() {
		s.p.deleteInstancesLocked(transaction.TransactionID)
	}

	return cloneTransaction(transaction), nil
}

func (s *transactionStore) Delete(_ context.Context, transactionID string) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()

	if _, ok := s.p.transactions[transactionID]; !ok {
		return persistence.NewTransactionError("Delete", transactionID, persistence.ErrTransactionNotFound)
	}

	s.p.deleteInstancesLocked(transactionID)
	delete(s.p.transactions, transactionID)

	return nil
}

func (s *transactionStore) List(_ context.Context, status models.TransactionStatus) ([]*models.Transaction, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()

	transactions := make([]*models.Transaction, 0, len(s.p.transactions))

	for _, transaction := range s.p.transactions {
		if status != "" && transaction.Status != status {
			continue
		}

		transactions = append(transactions, cloneTransaction(transaction))
	}

	sort.Slice(transactions, func(i, j int) bool {
		return transactions[i].CreateTime.After(transactions[j].CreateTime)
	})

	return transactions, nil
}

func (p *Persistence) deleteInstancesLocked(transactionID string) {
	for id, workflow := range p.workflows {
		if workflow.TransactionID == transactionID {
			delete(p.workflows, id)
		}
	}

	for id, task := range p.tasks {
		if task.TransactionID == transactionID {
			delete(p.tasks, id)
		}
	}
}

type workflowStore struct{ p *Persistence }

func (s *workflowStore) HealthCheck(ctx context.Context) error { return s.p.HealthCheck(ctx) }

func (s *workflowStore) Get(_ context.Context, workflowID string) (*models.Workflow, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()

	workflow, ok := s.p.workflows[workflowID]
	if !ok {
		return nil, nil
	}

	return cloneWorkflow(workflow), nil
}

func (s *workflowStore) ListByTransaction(_ context.Context, transactionID string) ([]*models.Workflow, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()

	var workflows []*models.Workflow

	for _, workflow := range s.p.workflows {
		if workflow.TransactionID == transactionID {
			workflows = append(workflows, cloneWorkflow(workflow))
		}
	}

	sort.SliceStable(workflows, func(i, j int) bool {
		return workflows[i].CreateTime.Before(workflows[j].CreateTime)
	})

	return workflows, nil
}

func (s *workflowStore) Create(_ context.Context, workflow *models.Workflow) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()

	for {
		workflow.WorkflowID = s.p.newID()
		if _, taken := s.p.workflows[workflow.WorkflowID]; !taken {
			break
		}
	}

	now := s.p.now()
	if workflow.CreateTime.IsZero() {
		workflow.CreateTime = now
	}

	if workflow.StartTime.IsZero() {
		workflow.StartTime = now
	}

	s.p.workflows[workflow.WorkflowID] = cloneWorkflow(workflow)

	return nil
}

func (s *workflowStore) Update(_ context.Context, update models.WorkflowUpdate) (*models.Workflow, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()

	workflow, ok := s.p.workflows[update.WorkflowID]
	if !ok {
		return nil, persistence.NewWorkflowError("Update", update.WorkflowID, persistence.ErrWorkflowNotFound)
	}

	update.Output = cloneMap(update.Output)

	if !persistence.ApplyWorkflowUpdate(workflow, update, s.p.now()) {
		return nil, persistence.NewWorkflowError("Update", update.WorkflowID, persistence.ErrStaleUpdate)
	}

	return cloneWorkflow(workflow), nil
}

func (s *workflowStore) Delete(_ context.Context, workflowID string) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()

	if _, ok := s.p.workflows[workflowID]; !ok {
		return persistence.NewWorkflowError("Delete", workflowID, persistence.ErrWorkflowNotFound)
	}

	delete(s.p.workflows, workflowID)

	for id, task := range s.p.tasks {
		if task.WorkflowID == workflowID {
			delete(s.p.tasks, id)
		}
	}

	return nil
}

type taskStore struct{ p *Persistence }

func (s *taskStore) HealthCheck(ctx context.Context) error { return s.p.HealthCheck(ctx) }

func (s *taskStore) Get(_ context.Context, taskID string) (*models.Task, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()

	task, ok := s.p.tasks[taskID]
	if !ok {
		return nil, nil
	}

	return cloneTask(task), nil
}

func (s *taskStore) ListByWorkflow(_ context.Context, workflowID string) ([]*models.Task, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()

	var tasks []*models.Task

	for _, task := range s.p.tasks {
		if task.WorkflowID == workflowID {
			tasks = append(tasks, cloneTask(task))
		}
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].CreateTime.Equal(tasks[j].CreateTime) {
			return tasks[i].TaskID < tasks[j].TaskID
		}

		return tasks[i].CreateTime.Before(tasks[j].CreateTime)
	})

	return tasks, nil
}

func (s *taskStore) Create(_ context.Context, task *models.Task) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()

	s.createLocked(task)

	return nil
}

func (s *taskStore) createLocked(task *models.Task) {
	for {
		task.TaskID = s.p.newID()
		if _, taken := s.p.tasks[task.TaskID]; !taken {
			break
		}
	}

	if task.CreateTime.IsZero() {
		task.CreateTime = s.p.now()
	}

	s.p.tasks[task.TaskID] = cloneTask(task)
}

func (s *taskStore) Update(_ context.Context, update models.TaskUpdate) (*models.Task, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()

	task, ok := s.p.tasks[update.TaskID]
	if !ok {
		return nil, persistence.NewTaskError("Update", update.TaskID, persistence.ErrTaskNotFound)
	}

	update.Output = cloneMap(update.Output)

	if !persistence.ApplyTaskUpdate(task, update, s.p.now()) {
		return nil, persistence.NewTaskError("Update", update.TaskID, persistence.ErrStaleUpdate)
	}

	return cloneTask(task), nil
}

func (s *taskStore) Reload(_ context.Context, task *models.Task) (*models.Task, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()

	current, ok := s.p.tasks[task.TaskID]
	if !ok {
		return nil, persistence.NewTaskError("Reload", task.TaskID, persistence.ErrTaskNotFound)
	}

	if current.IsRetried {
		return nil, persistence.NewTaskError("Reload", task.TaskID, persistence.ErrStaleUpdate)
	}

	current.IsRetried = true

	retry := persistence.RetryOf(current, "", s.p.now())
	s.createLocked(retry)

	return retry, nil
}

func (s *taskStore) Delete(_ context.Context, taskID string) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()

	if _, ok := s.p.tasks[taskID]; !ok {
		return persistence.NewTaskError("Delete", taskID, persistence.ErrTaskNotFound)
	}

	delete(s.p.tasks, taskID)

	return nil
}
