// Package eventbus connects the engine to the message broker: it dispatches
// tasks to workers, publishes domain events and consumes task updates.
package eventbus

import (
	"context"

	"github.com/dukex/sagaflow/pkg/events"
)

const (
	// UpdatesTopic carries task updates reported by workers and fired timers.
	UpdatesTopic    = "sagaflow.task.updates"
	taskTopicPrefix = "sagaflow.tasks."
)

// TaskTopic is the topic workers of a task definition subscribe to.
func TaskTopic(taskName string) string {
	return taskTopicPrefix + taskName
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event events.Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
}
