// Package memory provides the in-process candidate queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/2php/iffse/internal/crawler"
)

// ErrClosed is returned once the queue has been closed and drained.
var ErrClosed = crawler.ErrQueueClosed

// Queue is a bounded in-memory queue with context-aware operations.
// Close stops new enqueues; items already buffered can still be dequeued.
type Queue struct {
	ch        chan crawler.Candidate
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch:   make(chan crawler.Candidate, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue pushes a candidate, blocking while the queue is full.
func (q *Queue) Enqueue(ctx context.Context, candidate crawler.Candidate) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return ErrClosed
	case q.ch <- candidate:
		return nil
	}
}

// Dequeue pops the next candidate, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (crawler.Candidate, error) {
	select {
	case <-ctx.Done():
		return crawler.Candidate{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case candidate := <-q.ch:
		return candidate, nil
	case <-q.done:
		select {
		case candidate := <-q.ch:
			return candidate, nil
		default:
			return crawler.Candidate{}, ErrClosed
		}
	}
}

// Len returns the number of buffered candidates.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Close stops the queue. It is safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
