package timer

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/dukex/sagaflow/pkg/models"
)

// MemoryStore is a process-local Store ordered by due time.
type MemoryStore struct {
	mu     sync.Mutex
	queue  timerQueue
	active map[string]models.Timer
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{active: make(map[string]models.Timer)}
}

func (s *MemoryStore) Schedule(_ context.Context, timer models.Timer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active[timer.ID] = timer
	heap.Push(&s.queue, timer)

	return nil
}

func (s *MemoryStore) ClaimDue(_ context.Context, now time.Time, limit int) ([]models.Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []models.Timer

	for s.queue.Len() > 0 && len(due) < limit {
		next := s.queue[0]
		if next.DueAt.After(now) {
			break
		}

		heap.Pop(&s.queue)

		// skip entries replaced by a later Schedule of the same id
		current, ok := s.active[next.ID]
		if !ok || !current.DueAt.Equal(next.DueAt) {
			continue
		}

		delete(s.active, next.ID)
		due = append(due, next)
	}

	return due, nil
}

// Len reports how many timers are pending.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.active)
}

type timerQueue []models.Timer

func (q timerQueue) Len() int           { return len(q) }
func (q timerQueue) Less(i, j int) bool { return q[i].DueAt.Before(q[j].DueAt) }
func (q timerQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *timerQueue) Push(x any) { *q = append(*q, x.(models.Timer)) }

func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]

	return item
}
