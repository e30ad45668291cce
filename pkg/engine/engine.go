// Package engine drives transactions through their workflow task trees. It
// reacts to task updates, materializes and dispatches the next tasks, and
// resolves failures through retries, compensation and recovery runs.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukex/sagaflow/pkg/events"
	"github.com/dukex/sagaflow/pkg/lock"
	"github.com/dukex/sagaflow/pkg/models"
	"github.com/dukex/sagaflow/pkg/persistence"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrDeferred is returned for updates queued behind one whose lock could not be acquired.
	ErrDeferred = errors.New("update deferred")
	// ErrInvalidInput is returned when a transaction input does not match the definition's input schema.
	ErrInvalidInput = errors.New("invalid transaction input")
	// ErrTransactionNotRunning is returned when cancelling a settled transaction.
	ErrTransactionNotRunning = errors.New("transaction is not running")
)

// Messenger is how the engine talks to the outside world.
type Messenger interface {
	// Dispatch publishes a materialized task for worker execution.
	Dispatch(ctx context.Context, task *models.Task) error
	// SendEvent publishes a domain event.
	SendEvent(ctx context.Context, event events.Event) error
	// SendTimer schedules the redelivery of a task update.
	SendTimer(ctx context.Context, timer models.Timer) error
}

type Config struct {
	Persistence persistence.Persistence
	Messenger   Messenger
	Locker      lock.Locker
	Logger      *slog.Logger
	// Tracer defaults to the global tracer provider.
	Tracer trace.Tracer
	// Now defaults to time.Now in UTC.
	Now func() time.Time
}

type Engine struct {
	taskDefinitions     persistence.DefinitionStore[models.TaskDefinition]
	workflowDefinitions persistence.DefinitionStore[models.WorkflowDefinition]
	transactions        persistence.TransactionStore
	workflows           persistence.WorkflowStore
	tasks               persistence.TaskStore

	messenger Messenger
	locker    lock.Locker
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
	newID     func() string
	cron      cron.Parser
}

func New(config Config) *Engine {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tracer := config.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/dukex/sagaflow/pkg/engine")
	}

	now := config.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Engine{
		taskDefinitions:     config.Persistence.TaskDefinitions(),
		workflowDefinitions: config.Persistence.WorkflowDefinitions(),
		transactions:        config.Persistence.Transactions(),
		workflows:           config.Persistence.Workflows(),
		tasks:               config.Persistence.Tasks(),
		messenger:           config.Messenger,
		locker:              config.Locker,
		logger:              logger.With("module", "engine"),
		tracer:              tracer,
		now:                 now,
		newID:               uuid.NewString,
		cron:                cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// emit publishes an event. Events are an audit trail, a failed publish is logged and swallowed.
func (e *Engine) emit(ctx context.Context, event events.Event) {
	if err := e.messenger.SendEvent(ctx, event); err != nil {
		e.logger.ErrorContext(ctx, "Failed to send event",
			"event_type", event.GetType(), "transaction_id", event.GetTransactionID(), "error", err)
	}
}

func (e *Engine) sendTimer(ctx context.Context, timerType models.TimerType, delay time.Duration, update models.TaskUpdate) error {
	t := models.NewTimer(e.newID(), timerType, delay, update)
	t.DueAt = e.now().Add(delay)

	return e.messenger.SendTimer(ctx, t)
}

// settleLater makes the engine report a status for one of its own tasks on a later pass.
func (e *Engine) settleLater(ctx context.Context, task *models.Task, status models.TaskStatus, output map[string]any) error {
	return e.sendTimer(ctx, models.TimerTypeSystemUpdate, 0, models.TaskUpdate{
		TransactionID: task.TransactionID,
		WorkflowID:    task.WorkflowID,
		TaskID:        task.TaskID,
		Status:        status,
		Output:        output,
		IsSystem:      true,
		DoNotRetry:    status == models.TaskStatusFailed,
	})
}

func errorOutput(err error) map[string]any {
	return map[string]any{"error": err.Error()}
}
