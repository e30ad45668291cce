package cmd

import (
	"context"
	"log/slog"

	"github.com/dukex/sagaflow/pkg/engine"
	"github.com/dukex/sagaflow/pkg/eventbus"
	"github.com/dukex/sagaflow/pkg/lock"
	"github.com/dukex/sagaflow/pkg/otelhelper"
	"github.com/dukex/sagaflow/pkg/persistence"
	"github.com/dukex/sagaflow/pkg/timer"
	"go.opentelemetry.io/otel/trace"
)

// NewEngine wires an engine to the broker, the lock and the timer store. The
// returned messenger also publishes task updates.
func NewEngine(
	logger *slog.Logger,
	p persistence.Persistence,
	bus *Bus,
	locker lock.Locker,
	timers timer.Store,
	tracer trace.Tracer,
) (*engine.Engine, *eventbus.Messenger) {
	messenger := eventbus.NewMessenger(logger, bus.Publisher, bus.Events, timers)

	e := engine.New(engine.Config{
		Persistence: p,
		Messenger:   messenger,
		Locker:      locker,
		Logger:      logger,
		Tracer:      tracer,
	})

	return e, messenger
}

// NewTracer exports spans over OTLP when enabled. A nil tracer makes the
// engine fall back to the global provider. The returned shutdown is never nil.
// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func NewTracer(ctx context.Context, logger *slog.Logger, enabled bool, serviceName string) (trace.Tracer, otelhelper.Shutdown) {
	noop := func(context.Context) error { return nil }

	if !enabled {
		return nil, noop
	}

	tracer, shutdown, err := otelhelper.NewTracer(ctx, serviceName)
	if err != nil {
		logger.WarnContext(ctx, "Tracing disabled, failed to create tracer", "error", err)

		return nil, noop
	}

	return tracer, shutdown
}
