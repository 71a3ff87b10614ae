package runner

import (
	"sync"
	"sync/atomic"

	"github.com/maxpert/sqlrunner/id"
)

// requestQueue is the FIFO between callers and the worker. All enqueues
// share one lock, which also assigns request ids, so submission order and
// id order agree.
type requestQueue struct {
	mu     sync.Mutex
	items  []*request
	closed bool
	ids    id.Generator

	// wake has capacity 1; a pending signal covers any number of enqueues
	wake chan struct{}

	// queued plus taken-but-unfinished requests
	pending atomic.Int64
}

func newRequestQueue(ids id.Generator) *requestQueue {
	return &requestQueue{
		ids:  ids,
		wake: make(chan struct{}, 1),
	}
}

func (q *requestQueue) enqueue(r *request) (uint64, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0, ErrStopped
	}
	r.id = q.ids.NextID()
	q.items = append(q.items, r)
	q.pending.Add(1)
	q.mu.Unlock()

	q.signal()
	return r.id, nil
}

func (q *requestQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// drainAll removes and returns every queued request in order. Worker only.
func (q *requestQueue) drainAll() []*request {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	batch := q.items
	q.items = nil
	return batch
}

// done marks one drained request as handled
func (q *requestQueue) done() {
	q.pending.Add(-1)
}

func (q *requestQueue) pendingCount() int {
	return int(q.pending.Load())
}

func (q *requestQueue) queuedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// close makes every later enqueue fail with ErrStopped. Already queued
// requests stay for the final drain.
func (q *requestQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}
