package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	token   string
	expires time.Time
}

// MemoryLocker is a process-local Locker for single-instance runs and tests.
type MemoryLocker struct {
	mu      sync.Mutex
	opts    Options
	entries map[string]memoryEntry
}

// NewMemoryLocker creates a process-local locker.
func NewMemoryLocker(opts Options) *MemoryLocker {
	return &MemoryLocker{opts: opts.withDefaults(), entries: make(map[string]memoryEntry)}
}

func (l *MemoryLocker) Lock(ctx context.Context, key string) (Release, error) {
	token := uuid.NewString()

	err := acquire(ctx, l.opts, func(context.Context) (bool, error) {
		l.mu.Lock()
		defer l.mu.Unlock()

		now := time.Now()
		if entry, held := l.entries[key]; held && now.Before(entry.expires) {
			return false, nil
		}

		l.entries[key] = memoryEntry{token: token, expires: now.Add(l.opts.TTL)}

		return true, nil
	})
	if err != nil {
		return nil, err
	}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()

		if entry, held := l.entries[key]; held && entry.token == token {
			delete(l.entries, key)
		}

		return nil
	}, nil
}
