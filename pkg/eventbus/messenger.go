package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/sagaflow/pkg/events"
	"github.com/dukex/sagaflow/pkg/models"
	"github.com/dukex/sagaflow/pkg/timer"
)

const (
	TransactionIDMetadataKey = "transaction_id"
	TaskIDMetadataKey        = "task_id"
)

// Messenger is the engine's outbound gateway: tasks go to their task topic,
// domain events to the event bus and timers to the timer store.
type Messenger struct {
	publisher message.Publisher
	events    EventPublisher
	timers    timer.Store
	logger    *slog.Logger
}

func NewMessenger(logger *slog.Logger, publisher message.Publisher, bus EventPublisher, timers timer.Store) *Messenger {
	return &Messenger{
		publisher: publisher,
		events:    bus,
		timers:    timers,
		logger:    logger.With("module", "messenger"),
	}
}

// Dispatch publishes a materialized task for worker execution.
func (m *Messenger) Dispatch(ctx context.Context, task *models.Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", task.TaskID, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(events.EventMetadataKey, task.TransactionID)
	msg.Metadata.Set(TransactionIDMetadataKey, task.TransactionID)
	msg.Metadata.Set(TaskIDMetadataKey, task.TaskID)

	topic := TaskTopic(task.TaskName)

	m.logger.DebugContext(ctx, "Dispatching task",
		"topic", topic, "task_id", task.TaskID, "transaction_id", task.TransactionID)

	return m.publisher.Publish(topic, msg)
}

// SendEvent publishes a domain event keyed by its transaction.
func (m *Messenger) SendEvent(ctx context.Context, event events.Event) error {
	return m.events.Publish(ctx, event.GetTransactionID(), event)
}

// SendTimer stores a deferred redelivery.
func (m *Messenger) SendTimer(ctx context.Context, t models.Timer) error {
	return m.timers.Schedule(ctx, t)
}

// PublishUpdate puts a task update on the update topic.
func (m *Messenger) PublishUpdate(ctx context.Context, update models.TaskUpdate) error {
	return PublishUpdate(ctx, m.publisher, update)
}

// PublishUpdate encodes update and publishes it on UpdatesTopic.
func PublishUpdate(ctx context.Context, publisher message.Publisher, update models.TaskUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal update for task %s: %w", update.TaskID, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(events.EventMetadataKey, update.TransactionID)
	msg.Metadata.Set(TransactionIDMetadataKey, update.TransactionID)
	msg.Metadata.Set(TaskIDMetadataKey, update.TaskID)

	return publisher.Publish(UpdatesTopic, msg)
}
