package main

import (
	"context"
	"os"

	"github.com/dukex/sagaflow/pkg/cmd"
	"github.com/dukex/sagaflow/pkg/lock"
	"github.com/dukex/sagaflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "sagaflow-api",
		Usage:                 "Manage definitions and start, inspect and cancel transactions",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (postgres://, file://, memory://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
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
				Name:    "redis-url",
				Usage:   "Redis URL for the transaction lock and the timer store, in-process when empty",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.DurationFlag{
				Name:    "lock-timeout",
				Usage:   "How long to wait for a transaction lock",
				Value:   lock.DefaultOptions.Timeout,
				Sources: cli.EnvVars("LOCK_TIMEOUT"),
			},
			&cli.DurationFlag{
				Name:    "lock-ttl",
				Usage:   "How long a transaction lock lives when its holder dies",
				Value:   lock.DefaultOptions.TTL,
				Sources: cli.EnvVars("LOCK_TTL"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
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

	logger := log.WithModule("api")

	logger.InfoContext(ctx, "Initializing Sagaflow API")

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := persistence.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	bus, err := cmd.NewEventBus(command.String("event-bus"), command.StringSlice("kafka-brokers"), "sagaflow-api", logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := bus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	redisClient, err := cmd.NewRedisClient(ctx, command.String("redis-url"))
	if err != nil {
		return err
	}

	if redisClient != nil {
		defer func() {
			_ = redisClient.Close()
		}()
	}

	tracer, shutdownTracer := cmd.NewTracer(ctx, logger, command.Bool("tracing"), "sagaflow-api")

	defer func() {
		if err := shutdownTracer(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to flush traces", "error", err)
		}
	}()

	locker := cmd.NewLocker(redisClient, lock.Options{
		Timeout: command.Duration("lock-timeout"),
		TTL:     command.Duration("lock-ttl"),
	})

	engine, messenger := cmd.NewEngine(logger, persistence, bus, locker, cmd.NewTimerStore(redisClient), tracer)

	api := NewAPI(logger, persistence, engine, messenger)

	return api.Start(int(command.Int("port")))
}
