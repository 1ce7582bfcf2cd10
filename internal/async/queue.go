package async

import "sync"

// Queue is the completion FIFO plus the active-query list, guarded by a
// single mutex since both are touched together on push and the combined
// critical section is O(1) pointer manipulation.
//
// Wake plays the self-pipe's role: one value is sent (non-blocking, already
// coalesced by the buffer) every time a query transitions to a terminal
// state. The protocol loop selects on Wake, then calls PopAll to drain every
// completed query — the two are deliberately separate so that a single
// select wakeup, however many pushes coalesced into it, still yields every
// completed query rather than just one.
type Queue struct {
	mu     sync.Mutex
	fifo   []*Query
	active map[int64]*Query // keyed by slot id, so CancelBySlot can find the running query

	Wake chan struct{}
}

// NewQueue creates an empty completion queue.
func NewQueue() *Queue {
	return &Queue{
		active: make(map[int64]*Query),
		Wake:   make(chan struct{}, 1),
	}
}

// Launch registers q as active on its slot, ahead of a worker goroutine
// being started for it.
func (q *Queue) Launch(query *Query) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.active[query.SlotID] = query
}

// CancelBySlot finds the running query on slotID, if any, and marks it
// cancel-requested. Returns whether a matching query was found, which is
// the synchronous result of the "cancel" method.
func (q *Queue) CancelBySlot(slotID int64) bool {
	q.mu.Lock()
	query, ok := q.active[slotID]
	q.mu.Unlock()
	if !ok {
		return false
	}
	query.RequestCancel()
	return true
}

// Push moves query from active to the completion FIFO and signals Wake.
// Called by a worker exactly once, after the query reaches a terminal
// state.
func (q *Queue) Push(query *Query) {
	q.mu.Lock()
	if q.active[query.SlotID] == query {
		delete(q.active, query.SlotID)
	}
	q.fifo = append(q.fifo, query)
	q.mu.Unlock()

	select {
	case q.Wake <- struct{}{}:
	default:
		// A wake is already pending; the drain that consumes it will see
		// this push too since PopAll drains the whole FIFO.
	}
}

// PopAll drains and returns every completed query currently queued, in push
// order. Safe to call after any number of coalesced Wake signals.
func (q *Queue) PopAll() []*Query {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.fifo) == 0 {
		return nil
	}
	drained := q.fifo
	q.fifo = nil
	return drained
}

// ActiveCount returns the number of queries currently running, for tests
// and diagnostics.
func (q *Queue) ActiveCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}
