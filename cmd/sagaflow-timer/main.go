// Package main provides the Sagaflow timer service, which moves due timers
// back onto the task update topic.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/sagaflow/pkg/cmd"
	"github.com/dukex/sagaflow/pkg/eventbus"
	"github.com/dukex/sagaflow/pkg/log"
	"github.com/dukex/sagaflow/pkg/models"
	"github.com/dukex/sagaflow/pkg/timer"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "sagaflow-timer",
		Usage:                 "Deliver due timers as task updates",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, memory)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Kafka broker addresses",
				Value:   []string{"localhost:9092"},
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:     "redis-url",
				Usage:    "Redis URL of the timer store",
				Required: true,
				Sources:  cli.EnvVars("REDIS_URL"),
			},
			&cli.DurationFlag{
				Name:    "timer-poll-interval",
				Usage:   "How often due timers are claimed",
				Value:   time.Second,
				Sources: cli.EnvVars("TIMER_POLL_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "batch-size",
				Usage:   "Maximum number of timers claimed at once",
				Value:   100,
				Sources: cli.EnvVars("BATCH_SIZE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: run,
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	logger := log.WithModule("timer")

	logger.InfoContext(ctx, "Initializing Sagaflow timer service")

	redisClient, err := cmd.NewRedisClient(ctx, command.String("redis-url"))
	if err != nil {
		return err
	}

	if redisClient == nil {
		return errors.New("the timer service needs a redis timer store")
	}

	defer func() {
		_ = redisClient.Close()
	}()

	bus, err := cmd.NewEventBus(command.String("event-bus"), command.StringSlice("kafka-brokers"), "sagaflow-timer", logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := bus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	poller := timer.NewPoller(logger, cmd.NewTimerStore(redisClient), updatePublisher{bus: bus},
		command.Duration("timer-poll-interval"), int(command.Int("batch-size")))

	return poller.Run(ctx)
}

// updatePublisher publishes fired timers on the update topic.
type updatePublisher struct {
	bus *cmd.Bus
}

func (p updatePublisher) PublishUpdate(ctx context.Context, update models.TaskUpdate) error {
	return eventbus.PublishUpdate(ctx, p.bus.Publisher, update)
}
