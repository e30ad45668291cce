// Package events defines the domain events emitted for every state change of
// transactions, workflows and tasks.
package events

import (
	"time"

	"github.com/dukex/sagaflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic domain events are published on.
const Topic = "sagaflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	TransactionCreatedEvent EventType = "transaction.created"
	TransactionUpdatedEvent EventType = "transaction.updated"

	WorkflowCreatedEvent EventType = "workflow.created"
	WorkflowUpdatedEvent EventType = "workflow.updated"

	TaskCreatedEvent  EventType = "task.created"
	TaskUpdatedEvent  EventType = "task.updated"
	TaskReloadedEvent EventType = "task.reloaded"

	SystemErrorEvent EventType = "system.error"
)

// Event is anything published on Topic.
type Event interface {
	GetType() EventType
	GetTransactionID() string
}

type BaseEvent struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	TransactionID string    `json:"transaction_id"`
	IsError       bool      `json:"is_error"`
	Error         string    `json:"error,omitempty"`
}

func (b BaseEvent) GetType() EventType {
	return b.Type
}

func (b BaseEvent) GetTransactionID() string {
	return b.TransactionID
}

func NewBaseEvent(eventType EventType, transactionID string) BaseEvent {
	return BaseEvent{
		ID:            uuid.New().String(),
		Type:          eventType,
		Timestamp:     time.Now().UTC(),
		TransactionID: transactionID,
	}
}

// withError flags the event as the report of a rejected mutation.
func (b BaseEvent) withError(err error) BaseEvent {
	if err != nil {
		b.IsError = true
		b.Error = err.Error()
	}

	return b
}

type TransactionEvent struct {
	BaseEvent

	Transaction *models.Transaction       `json:"transaction,omitempty"`
	Update      *models.TransactionUpdate `json:"update,omitempty"`
}

// NewTransactionCreated reports a stored transaction, or the rejected create when err is set.
func NewTransactionCreated(transaction *models.Transaction, err error) TransactionEvent {
	return TransactionEvent{
		BaseEvent:   NewBaseEvent(TransactionCreatedEvent, transaction.TransactionID).withError(err),
		Transaction: transaction,
	}
}

// NewTransactionUpdated reports an applied update. On error, transaction may be nil.
func NewTransactionUpdated(update models.TransactionUpdate, transaction *models.Transaction, err error) TransactionEvent {
	return TransactionEvent{
		BaseEvent:   NewBaseEvent(TransactionUpdatedEvent, update.TransactionID).withError(err),
		Transaction: transaction,
		Update:      &update,
	}
}

type WorkflowEvent struct {
	BaseEvent

	Workflow *models.Workflow       `json:"workflow,omitempty"`
	Update   *models.WorkflowUpdate `json:"update,omitempty"`
}

func NewWorkflowCreated(workflow *models.Workflow, err error) WorkflowEvent {
	return WorkflowEvent{
		BaseEvent: NewBaseEvent(WorkflowCreatedEvent, workflow.TransactionID).withError(err),
		Workflow:  workflow,
	}
}

func NewWorkflowUpdated(update models.WorkflowUpdate, workflow *models.Workflow, err error) WorkflowEvent {
	return WorkflowEvent{
		BaseEvent: NewBaseEvent(WorkflowUpdatedEvent, update.TransactionID).withError(err),
		Workflow:  workflow,
		Update:    &update,
	}
}

type TaskEvent struct {
	BaseEvent

	Task   *models.Task       `json:"task,omitempty"`
	Update *models.TaskUpdate `json:"update,omitempty"`
	// RetiredTaskID is set on reloads.
	RetiredTaskID string `json:"retired_task_id,omitempty"`
}

func NewTaskCreated(task *models.Task, err error) TaskEvent {
	return TaskEvent{
		BaseEvent: NewBaseEvent(TaskCreatedEvent, task.TransactionID).withError(err),
		Task:      task,
	}
}

func NewTaskUpdated(update models.TaskUpdate, task *models.Task, err error) TaskEvent {
	return TaskEvent{
		BaseEvent: NewBaseEvent(TaskUpdatedEvent, update.TransactionID).withError(err),
		Task:      task,
		Update:    &update,
	}
}

// NewTaskReloaded reports the replacement of retired by task.
func NewTaskReloaded(retired *models.Task, task *models.Task, err error) TaskEvent {
	return TaskEvent{
		BaseEvent:     NewBaseEvent(TaskReloadedEvent, retired.TransactionID).withError(err),
		Task:          task,
		RetiredTaskID: retired.TaskID,
	}
}

// SystemEvent reports an unexpected failure of the engine along with what it was processing.
type SystemEvent struct {
	BaseEvent

	Payload any `json:"payload,omitempty"`
}

func NewSystemError(transactionID string, payload any, err error) SystemEvent {
	return SystemEvent{
		BaseEvent: NewBaseEvent(SystemErrorEvent, transactionID).withError(err),
		Payload:   payload,
	}
}
