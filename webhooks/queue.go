package webhooks

import (
	"sync"

	"github.com/goliatone/go-eventhooks/core"
)

// endpointQueue is the bounded FIFO of pending attempts for one endpoint.
// An attempt id stays tracked from push until the worker releases it, so
// the recovery sweep never queues an attempt that is already in hand.
type endpointQueue struct {
	mu       sync.Mutex
	items    []core.DeliveryAttempt
	tracked  map[string]struct{}
	capacity int
	signal   chan struct{}
}

func newEndpointQueue(capacity int) *endpointQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &endpointQueue{
		tracked:  make(map[string]struct{}),
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

// push appends the attempt. It returns false when the attempt is already
// tracked or the queue is full.
func (q *endpointQueue) push(attempt core.DeliveryAttempt) bool {
	q.mu.Lock()
	if _, ok := q.tracked[attempt.ID]; ok {
		q.mu.Unlock()
		return false
	}
	if len(q.items) >= q.capacity {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, attempt)
	q.tracked[attempt.ID] = struct{}{}
	q.mu.Unlock()
	q.notify()
	return true
}

// pushFront puts a retry at the head of the line. Capacity is not enforced:
// the retry replaces the attempt the worker just released.
func (q *endpointQueue) pushFront(attempt core.DeliveryAttempt) {
	q.mu.Lock()
	if _, ok := q.tracked[attempt.ID]; ok {
		q.mu.Unlock()
		return
	}
	q.items = append([]core.DeliveryAttempt{attempt}, q.items...)
	q.tracked[attempt.ID] = struct{}{}
	q.mu.Unlock()
	q.notify()
}

func (q *endpointQueue) pop() (core.DeliveryAttempt, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return core.DeliveryAttempt{}, false
	}
	attempt := q.items[0]
	q.items[0] = core.DeliveryAttempt{}
	q.items = q.items[1:]
	remaining := len(q.items)
	q.mu.Unlock()
	if remaining > 0 {
		q.notify()
	}
	return attempt, true
}

func (q *endpointQueue) release(id string) {
	q.mu.Lock()
	delete(q.tracked, id)
	q.mu.Unlock()
}

func (q *endpointQueue) tracks(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.tracked[id]
	return ok
}

func (q *endpointQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *endpointQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// endpointWorker owns the queue and the goroutines draining it. limit is
// the endpoint's max_in_flight and may change while running.
type endpointWorker struct {
	endpointID string
	queue      *endpointQueue

	mu      sync.Mutex
	limit   int
	running int
}

func newEndpointWorker(endpointID string, limit int, capacity int) *endpointWorker {
	if limit < 1 {
		limit = 1
	}
	return &endpointWorker{
		endpointID: endpointID,
		queue:      newEndpointQueue(capacity),
		limit:      limit,
	}
}

func (w *endpointWorker) setLimit(limit int) {
	if limit < 1 {
		limit = 1
	}
	w.mu.Lock()
	w.limit = limit
	w.mu.Unlock()
}

// grow reserves the goroutines missing to reach the limit and returns
// how many the caller must start.
func (w *endpointWorker) grow() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	missing := w.limit - w.running
	if missing < 0 {
		missing = 0
	}
	w.running += missing
	return missing
}

// retire reports whether the calling goroutine is above the limit and
// should exit. The running count is decremented when it returns true.
func (w *endpointWorker) retire() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running > w.limit {
		w.running--
		return true
	}
	return false
}

func (w *endpointWorker) exited() {
	w.mu.Lock()
	w.running--
	w.mu.Unlock()
}

func (w *endpointWorker) inFlightLimit() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.limit
}
