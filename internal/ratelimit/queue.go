package ratelimit

import (
	"sync"

	"github.com/aristath/backmarket-repricer/internal/domain"
)

// priorityLevels orders the four strict priority levels from highest
// to lowest, matching domain.Priority's iota ordering reversed.
var priorityLevels = []domain.Priority{
	domain.PriorityCritical,
	domain.PriorityHigh,
	domain.PriorityNormal,
	domain.PriorityLow,
}

// PriorityQueue is a four-level strict-priority, FIFO-within-level
// waiting list. CRITICAL always preempts HIGH/NORMAL/LOW with no
// fairness guarantee across levels — it exists to let a human-
// initiated emergency recovery cut the line.
type PriorityQueue[T any] struct {
	mu     sync.Mutex
	levels map[domain.Priority][]T
}

// NewPriorityQueue creates an empty queue.
func NewPriorityQueue[T any]() *PriorityQueue[T] {
	return &PriorityQueue[T]{
		levels: make(map[domain.Priority][]T, len(priorityLevels)),
	}
}

// Enqueue appends item to the tail of its priority level.
func (q *PriorityQueue[T]) Enqueue(item T, priority domain.Priority) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.levels[priority] = append(q.levels[priority], item)
}

// Peek returns the oldest item of the highest non-empty level without
// removing it.
func (q *PriorityQueue[T]) Peek() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range priorityLevels {
		if len(q.levels[p]) > 0 {
			return q.levels[p][0], true
		}
	}
	var zero T
	return zero, false
}

// Dequeue removes and returns the oldest item of the highest non-empty
// level.
func (q *PriorityQueue[T]) Dequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range priorityLevels {
		bucket := q.levels[p]
		if len(bucket) > 0 {
			item := bucket[0]
			q.levels[p] = bucket[1:]
			return item, true
		}
	}
	var zero T
	return zero, false
}

// Len returns the total number of items queued across all levels.
func (q *PriorityQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, p := range priorityLevels {
		n += len(q.levels[p])
	}
	return n
}

// DrainAll removes and returns every queued item, highest priority
// first, FIFO within level. Used for graceful-shutdown rejection.
func (q *PriorityQueue[T]) DrainAll() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	var all []T
	for _, p := range priorityLevels {
		all = append(all, q.levels[p]...)
		q.levels[p] = nil
	}
	return all
}
