package storage

import (
	"container/list"
	"context"
	"sync"
)

// CleanupQueue is an unbounded, thread-safe FIFO of staged file paths
// awaiting deletion (spec.md §2 component 1). Take blocks until an
// item is available or ctx is cancelled.
type CleanupQueue struct {
	mu      sync.Mutex
	items   *list.List
	nonEmpty chan struct{}
}

// NewCleanupQueue creates an empty queue.
func NewCleanupQueue() *CleanupQueue {
	return &CleanupQueue{
		items:    list.New(),
		nonEmpty: make(chan struct{}, 1),
	}
}

// Push enqueues path for later deletion.
func (q *CleanupQueue) Push(path string) {
	q.mu.Lock()
	q.items.PushBack(path)
	q.mu.Unlock()

	select {
	case q.nonEmpty <- struct{}{}:
	default:
	}
}

// Take removes and returns the oldest enqueued path, blocking until
// one is available or ctx is done.
func (q *CleanupQueue) Take(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		front := q.items.Front()
		if front != nil {
			q.items.Remove(front)
			q.mu.Unlock()
			return front.Value.(string), nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-q.nonEmpty:
		}
	}
}

// Len reports the current queue depth, for health/status reporting.
func (q *CleanupQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
