// Package timer stores deferred redeliveries and puts them back on the update
// stream once they are due.
package timer

import (
	"context"
	"time"

	"github.com/dukex/sagaflow/pkg/models"
)

// Store keeps timers until they are due.
type Store interface {
	// Schedule stores a timer. Scheduling an existing id replaces it.
	Schedule(ctx context.Context, timer models.Timer) error
	// ClaimDue removes and returns at most limit timers due at now. A timer is
	// handed to exactly one caller.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.Timer, error)
}
