package engine

import "sync"

// dispatchItem is one ready node awaiting admission.
type dispatchItem struct {
	runID  string
	nodeID string
}

// readyQueue is the engine-wide FIFO admission queue. Ready nodes from all
// runs enter in arrival order and are popped by the bounded worker pool, so
// admission is starvation-free: nothing ever jumps ahead of an earlier
// arrival.
type readyQueue struct {
	mu     sync.Mutex
	items  []dispatchItem
	signal chan struct{}
	closed bool
}

func newReadyQueue() *readyQueue {
	return &readyQueue{signal: make(chan struct{}, 1)}
}

// wake is called with q.mu held.
func (q *readyQueue) wake() {
	if q.closed {
		return
	}
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// push appends an item. Never blocks.
func (q *readyQueue) push(item dispatchItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, item)
	q.wake()
}

// pop removes the oldest item, blocking until one is available or the queue
// is closed. Returns ok=false once the queue is closed.
func (q *readyQueue) pop() (dispatchItem, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			if len(q.items) > 0 {
				q.wake()
			}
			q.mu.Unlock()
			return item, true
		}
		if q.closed {
			q.mu.Unlock()
			return dispatchItem{}, false
		}
		q.mu.Unlock()
		<-q.signal
	}
}

// close wakes all blocked workers and rejects further pushes.
func (q *readyQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// depth returns the number of queued items.
func (q *readyQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
