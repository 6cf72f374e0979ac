package transport

import "sync"

// Queue is the bridge between a transport's background tasks and the
// synchronous game loop. Producers push from any goroutine; the single
// consumer drains once per tick. The queue is unbounded: back-pressure on
// gameplay events would stall the network reader, and a consumer that
// stops draining has worse problems than memory growth.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
}

// NewQueue returns an empty queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Push appends one item. Safe for concurrent use.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
}

// Drain removes and returns all queued items in push order. Returns nil
// when the queue is empty.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()
	return items
}

// Len reports the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
