package fwevent

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Dispatch is the event dispatch function supplied by the adapter. It
// runs on the worker goroutine with the executing event marked in ctx
// (see FromContext) so that cancellation logic reached from inside a
// dispatch can detect self-reentrancy.
type Dispatch func(ctx context.Context, ev *Event)

// AckFunc sends an acknowledgement for the event to the controller.
// Called after dispatch, never before, and skipped for discarded events.
type AckFunc func(ctx context.Context, ev *Event)

// Worker is the single logical worker that drains the event queue in
// strict FIFO order.
type Worker struct {
	queue    *Queue
	dispatch Dispatch
	ack      AckFunc
	logger   *slog.Logger

	mu      sync.Mutex
	current *Event

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewWorker creates a worker for the given queue. dispatch may be nil
// for queues whose events never set ProcessRequired; ack may be nil when
// no acknowledgement path exists. logger may be nil.
func NewWorker(queue *Queue, dispatch Dispatch, ack AckFunc, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		queue:    queue,
		dispatch: dispatch,
		ack:      ack,
		logger:   logger,
	}
}

// Start begins draining the queue on a new goroutine.
func (w *Worker) Start() {
	if w.running.Swap(true) {
		return // Already running
	}

	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.queue.setActive(true)
	w.wg.Add(1)
	go w.loop()
}

// Stop deactivates the queue, so that further enqueues are dropped, and
// waits for the worker goroutine to finish draining the events already
// queued. Callers that need queued events cancelled rather than executed
// must run the reset coordinator's cleanup first.
func (w *Worker) Stop() {
	if !w.running.Swap(false) {
		return // Not running
	}

	w.queue.setActive(false)
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()

	// An enqueue that won the activity check just before the queue
	// deactivated can leave an event the goroutine never observed;
	// settle those here so the destructor still runs exactly once.
	for {
		ev := w.queue.Dequeue()
		if ev == nil {
			break
		}
		w.logger.Warn("cancelling event left queued at shutdown",
			"kind", ev.Kind.String(), "sequence", ev.Sequence)
		w.Cancel(ev)
	}
}

// Current returns the event currently executing on the worker, or nil.
// The returned pointer is only a marker for identity comparison and
// discard signalling; the caller holds no reference through it.
func (w *Worker) Current() *Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Cancel settles an event that has been dequeued and is guaranteed never
// to run: it drops the unit-of-work reference and the construction
// reference, marks the event cancelled and closes its done channel.
//
// Must not be called for an event the worker is executing; wait on
// Done() for those and let the execution path settle them.
func (w *Worker) Cancel(ev *Event) {
	ev.cancelled.Store(true)
	ev.finish()
	// Unit-of-work reference.
	ev.Release()
	// Construction reference.
	ev.Release()
}

func (w *Worker) loop() {
	defer w.wg.Done()

	for {
		ev := w.take()
		if ev == nil {
			select {
			case <-w.ctx.Done():
				return
			case <-w.queue.notify:
				continue
			}
		}
		w.process(ev)
	}
}

// take pops the head of the queue and records it as current in one
// critical section: a cleanup pass that drains the queue and then finds
// Current() nil is guaranteed no event is in flight between the two.
func (w *Worker) take() *Event {
	q := w.queue
	q.mu.Lock()
	front := q.pending.Front()
	if front == nil {
		q.mu.Unlock()
		return nil
	}
	ev := front.Value.(*Event)
	q.pending.Remove(front)
	ev.elem = nil
	w.mu.Lock()
	w.current = ev
	w.mu.Unlock()
	// Membership reference; never the last one, the unit-of-work and
	// construction references are still held.
	ev.Release()
	q.mu.Unlock()
	return ev
}

// process executes one event and settles its references. Mirrors the
// bottom-half processing of the original event worker: dispatch, ack,
// clear current, then drop the construction and unit-of-work
// references. take has already recorded the event as current.
func (w *Worker) process(ev *Event) {
	ctx := withEvent(w.ctx, ev)

	if ev.ProcessRequired && !ev.Discarded() && w.dispatch != nil {
		w.dispatch(ctx, ev)
	}
	if ev.AckRequired && !ev.Discarded() && w.ack != nil {
		w.ack(ctx, ev)
	}

	w.mu.Lock()
	w.current = nil
	w.mu.Unlock()

	// Construction reference.
	ev.Release()
	// Unit-of-work reference; usually the last one, freeing the event.
	ev.Release()
	ev.finish()
}

// contextKey marks the executing event in the dispatch context.
type contextKey struct{}

func withEvent(ctx context.Context, ev *Event) context.Context {
	return context.WithValue(ctx, contextKey{}, ev)
}

// FromContext returns the event executing in this call chain, or nil if
// the context does not originate from a dispatch. The reset coordinator
// uses it to detect that it is being invoked from inside the very event
// it would otherwise wait for.
func FromContext(ctx context.Context) *Event {
	ev, _ := ctx.Value(contextKey{}).(*Event)
	return ev
}
