// Package lock provides the mutual exclusion held around every
// read-navigate-write sequence of the engine, keyed by transaction id.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotAcquired is returned when the lock is still held by someone else once
// the acquisition timeout elapsed. Callers redeliver the work later.
var ErrNotAcquired = errors.New("lock not acquired")

// Release gives a held lock back.
type Release func(ctx context.Context) error

// Locker acquires named locks.
type Locker interface {
	Lock(ctx context.Context, key string) (Release, error)
}

// Options bound how long a lock is held and how long acquisition may wait.
type Options struct {
	// TTL expires a lock whose holder died.
	TTL time.Duration
	// Timeout bounds acquisition.
	Timeout time.Duration
	// RetryInterval is the pause between two acquisition attempts.
	RetryInterval time.Duration
}

// DefaultOptions are used for zero fields.
var DefaultOptions = Options{
	TTL:           30 * time.Second,
	Timeout:       5 * time.Second,
	RetryInterval: 50 * time.Millisecond,
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultOptions.TTL
	}

	if o.Timeout <= 0 {
		o.Timeout = DefaultOptions.Timeout
	}

	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultOptions.RetryInterval
	}

	return o
}

// acquire retries try until it succeeds, fails, or the timeout elapses.
func acquire(ctx context.Context, opts Options, try func(ctx context.Context) (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	ticker := time.NewTicker(opts.RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := try(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ErrNotAcquired
			}

			return err
		}

		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ErrNotAcquired
		case <-ticker.C:
		}
	}
}
