// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/sagaflow/pkg/channels/gochannel"
	"github.com/dukex/sagaflow/pkg/channels/kafka"
	"github.com/dukex/sagaflow/pkg/eventbus"
)

// Bus is the broker connection of one binary.
type Bus struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	Events     eventbus.EventBus
	// InProcess is set when messages live only in this process. Such a bus
	// delivers one message at a time and loses everything on exit.
	InProcess bool
}

// NewEventBus connects to the broker named by provider. serviceName picks the
// consumer group, so every binary consumes its topics independently.
func NewEventBus(provider string, brokers []string, serviceName string, logger *slog.Logger) (*Bus, error) {
	watermillLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermillLogger, brokers, serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return &Bus{Publisher: pub, Subscriber: sub, Events: eventbus.NewWatermillEventBus(pub, sub)}, nil
	case "memory", "gochannel":
		pub, sub, err := gochannel.CreateChannel(watermillLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-process pub/sub: %w", err)
		}

		return &Bus{Publisher: pub, Subscriber: sub, Events: eventbus.NewWatermillEventBus(pub, sub), InProcess: true}, nil
	default:
		return nil, errors.New("unsupported event bus provider: " + provider)
	}
}

// Close closes the publisher and the subscriber.
func (b *Bus) Close() error {
	return b.Events.Close()
}
