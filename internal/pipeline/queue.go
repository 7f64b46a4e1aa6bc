package pipeline

import (
	"context"
	"sync"
)

// workQueue is an unbounded FIFO. Push never blocks so filesystem events are
// never dropped for lack of space; the coordinator watches its depth instead.
type workQueue struct {
	mu     sync.Mutex
	items  []*WorkItem
	notify chan struct{}
}

func newWorkQueue() *workQueue {
	return &workQueue{notify: make(chan struct{}, 1)}
}

func (q *workQueue) Push(item *WorkItem) int {
	q.mu.Lock()
	q.items = append(q.items, item)
	depth := len(q.items)
	q.mu.Unlock()
	q.signal()
	return depth
}

// Pop blocks until an item is available or ctx is done.
func (q *workQueue) Pop(ctx context.Context) (*WorkItem, bool) {
	for {
		if ctx.Err() != nil {
			return nil, false
		}
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			if len(q.items) == 0 {
				q.items = nil
			}
			remaining := len(q.items)
			q.mu.Unlock()
			if remaining > 0 {
				q.signal()
			}
			return item, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-q.notify:
		}
	}
}

func (q *workQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain removes and returns everything still queued.
func (q *workQueue) Drain() []*WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *workQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// tracker counts outstanding work items (queued, in flight, or waiting on a
// retry timer) and lets callers wait for zero.
type tracker struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

func newTracker() *tracker {
	ch := make(chan struct{})
	close(ch)
	return &tracker{idle: ch}
}

func (t *tracker) add() {
	t.mu.Lock()
	if t.n == 0 {
		t.idle = make(chan struct{})
	}
	t.n++
	t.mu.Unlock()
}

func (t *tracker) done() {
	t.mu.Lock()
	if t.n > 0 {
		t.n--
		if t.n == 0 {
			close(t.idle)
		}
	}
	t.mu.Unlock()
}

func (t *tracker) wait() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.idle
}

func (t *tracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}
