package fwevent

import (
	"container/list"
	"log/slog"
	"sync"
)

// Queue is the ordered list of pending firmware events, owned by the
// adapter and drained by a single Worker.
//
// Enqueue takes two references on the event: one for queue membership,
// one for the unit of work handed to the worker. Dequeue and Remove drop
// the membership reference; the unit-of-work reference travels with the
// returned event.
type Queue struct {
	mu      sync.Mutex
	pending *list.List

	// active is true while a worker is attached and running, guarded by
	// mu so an enqueue cannot pass the check while the worker shuts
	// down. Enqueue to an inactive queue drops the event.
	active bool

	// notify wakes the worker; buffered so the completion path never
	// blocks on it.
	notify chan struct{}

	logger *slog.Logger
}

// NewQueue creates an empty event queue. logger may be nil, in which
// case slog.Default() is used.
func NewQueue(logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		pending: list.New(),
		notify:  make(chan struct{}, 1),
		logger:  logger,
	}
}

// Enqueue appends the event to the tail of the queue and schedules it
// onto the worker, taking one reference for queue membership and one for
// the scheduled unit of work.
//
// If no worker is active the event is dropped with a warning: the queue
// settles the construction reference so the destructor still runs
// exactly once, and nothing is queued.
func (q *Queue) Enqueue(ev *Event) {
	q.mu.Lock()
	if !q.active {
		q.mu.Unlock()
		q.logger.Warn("dropping firmware event, no active worker",
			"kind", ev.Kind.String(), "sequence", ev.Sequence)
		ev.finish()
		ev.Release()
		return
	}
	// Membership reference while the event sits on the list.
	ev.Acquire()
	ev.elem = q.pending.PushBack(ev)
	// Unit-of-work reference for the worker that will run it.
	ev.Acquire()
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Dequeue pops the head of the queue, dropping the membership reference.
// The returned event still carries the unit-of-work reference. Returns
// nil when the queue is empty.
func (q *Queue) Dequeue() *Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	front := q.pending.Front()
	if front == nil {
		return nil
	}
	ev := front.Value.(*Event)
	q.pending.Remove(front)
	ev.elem = nil
	// Membership reference dropped after unlinking from the list.
	ev.Release()
	return ev
}

// Remove unlinks a specific event from anywhere in the queue, dropping
// the membership reference if it was found. Used when a synthetic event
// must be pre-empted. The caller still has to settle the unit-of-work
// and construction references via Worker.Cancel.
func (q *Queue) Remove(ev *Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if ev.elem == nil {
		return false
	}
	q.pending.Remove(ev.elem)
	ev.elem = nil
	ev.Release()
	return true
}

// Len returns the number of pending events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

// ForEach calls fn for every pending event in order, under the queue
// lock. fn must not mutate the queue; this is the read-only iteration
// used by diagnostics.
func (q *Queue) ForEach(fn func(*Event)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for e := q.pending.Front(); e != nil; e = e.Next() {
		fn(e.Value.(*Event))
	}
}

func (q *Queue) setActive(on bool) {
	q.mu.Lock()
	q.active = on
	q.mu.Unlock()
}
