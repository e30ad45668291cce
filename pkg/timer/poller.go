package timer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/sagaflow/pkg/models"
)

// Publisher puts a task update back on the update stream.
type Publisher interface {
	PublishUpdate(ctx context.Context, update models.TaskUpdate) error
}

// Poller moves due timers back onto the update stream.
type Poller struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewPoller creates a poller claiming at most batchSize timers every interval.
func NewPoller(logger *slog.Logger, store Store, publisher Publisher, interval time.Duration, batchSize int) *Poller {
	if batchSize <= 0 {
		batchSize = 100
	}

	return &Poller{
		store:     store,
		publisher: publisher,
		logger:    logger.With("module", "timer_poller"),
		interval:  interval,
		batchSize: batchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "Starting timer poller", "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.InfoContext(ctx, "Timer poller stopped")

			return nil
		case <-ticker.C:
			if _, err := p.Poll(ctx); err != nil {
				p.logger.ErrorContext(ctx, "Error polling timers", "error", err)
			}
		}
	}
}

// Poll delivers every due timer once and returns how many were delivered.
// A timer whose publish fails is scheduled again. Timers claimed alongside a
// store error are still delivered before the error is returned.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	delivered := 0

	for {
		timers, claimErr := p.store.ClaimDue(ctx, p.now(), p.batchSize)

		var errs []error

		for _, timer := range timers {
			published, err := p.deliver(ctx, timer)
			if err != nil {
				errs = append(errs, err)
			}

			if published {
				delivered++
			}
		}

		if claimErr != nil || len(errs) > 0 {
			return delivered, errors.Join(append(errs, claimErr)...)
		}

		if len(timers) < p.batchSize {
			return delivered, nil
		}
	}
}

// deliver publishes timer, or schedules it again when the publish fails.
func (p *Poller) deliver(ctx context.Context, timer models.Timer) (bool, error) {
	if err := p.publisher.PublishUpdate(ctx, timer.Update); err != nil {
		p.logger.ErrorContext(ctx, "Failed to publish timer update, rescheduling",
			"timer_id", timer.ID, "task_id", timer.Update.TaskID, "error", err)

		timer.DueAt = p.now().Add(p.interval)
		if err := p.store.Schedule(ctx, timer); err != nil {
			return false, fmt.Errorf("failed to reschedule timer %s: %w", timer.ID, err)
		}

		return false, nil
	}

	p.logger.DebugContext(ctx, "Timer fired",
		"timer_id", timer.ID, "type", timer.Type, "task_id", timer.Update.TaskID)

	return true, nil
}
