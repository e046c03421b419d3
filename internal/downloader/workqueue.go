package downloader

import (
	"context"
	"sync"
)

// WorkQueue is an unbounded FIFO of items waiting for a worker. Push never
// blocks; Pop blocks until an item is available or ctx is done.
type WorkQueue struct {
	mu    sync.Mutex
	items []*Item
	ready chan struct{}
}

func NewWorkQueue() *WorkQueue {
	return &WorkQueue{ready: make(chan struct{}, 1)}
}

func (q *WorkQueue) Push(item *Item) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	q.signal()
}

func (q *WorkQueue) Pop(ctx context.Context) (*Item, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()

			// pass the wakeup on to the next waiting worker
			if more {
				q.signal()
			}

			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.ready:
		}
	}
}

func (q *WorkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

func (q *WorkQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
