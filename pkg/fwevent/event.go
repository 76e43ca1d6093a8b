package fwevent

import (
	"container/list"
	"sync/atomic"

	"github.com/storfab/storfab-go/pkg/refcount"
)

// Kind identifies the type of a firmware event.
type Kind uint16

const (
	// KindDeviceAdded reports a new device attached to the controller.
	KindDeviceAdded Kind = 0x01

	// KindDeviceInfoChanged reports changed device parameters, including
	// restored firmware queue depths.
	KindDeviceInfoChanged Kind = 0x02

	// KindDeviceStatusChanged reports a device being hidden or unhidden.
	KindDeviceStatusChanged Kind = 0x03

	// KindDeviceRemoved reports a device detached from the controller.
	KindDeviceRemoved Kind = 0x04

	// KindDiagnosticTrigger carries host diagnostic buffer trigger data.
	KindDiagnosticTrigger Kind = 0x05

	// KindDevicesRefreshWait is a synthetic event used to sequence
	// post-reset device refresh behind earlier events.
	KindDevicesRefreshWait Kind = 0xFFFE

	// KindQueueDepthReduction is a synthetic event generated by the
	// driver to reduce the queue depth of a throttle group.
	KindQueueDepthReduction Kind = 0xFFFF
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindDeviceAdded:
		return "DEVICE_ADDED"
	case KindDeviceInfoChanged:
		return "DEVICE_INFO_CHANGED"
	case KindDeviceStatusChanged:
		return "DEVICE_STATUS_CHANGED"
	case KindDeviceRemoved:
		return "DEVICE_REMOVED"
	case KindDiagnosticTrigger:
		return "DIAGNOSTIC_TRIGGER"
	case KindDevicesRefreshWait:
		return "DEVICES_REFRESH_WAIT"
	case KindQueueDepthReduction:
		return "QUEUE_DEPTH_REDUCTION"
	default:
		return "UNKNOWN"
	}
}

// sequence is the global event sequence counter, informational only.
var sequence atomic.Uint64

// Event is a deferred unit of work carrying an event-specific payload.
//
// Ownership is shared: the queue, the worker and any cancellation path
// each hold their own reference. The event is destroyed exactly once,
// when the last reference is released.
type Event struct {
	// Kind identifies the event type.
	Kind Kind

	// Sequence is the global submission sequence number, informational.
	Sequence uint64

	// Payload is the opaque event data as delivered by the controller
	// (or synthesized by the driver). Cleared on destruction.
	Payload []byte

	// AckRequired requests an acknowledgement message to the controller
	// after dispatch.
	AckRequired bool

	// ProcessRequired requests dispatch; events that only need an ack
	// leave it unset.
	ProcessRequired bool

	// AckContext is the controller-assigned context echoed in the ack.
	AckContext uint32

	// OnDestroy, if set before the event is shared, runs from the
	// destructor. Used by tests to observe event lifetime.
	OnDestroy func()

	ref refcount.Counter

	discard            atomic.Bool
	pendingAtSubsystem atomic.Bool
	cancelled          atomic.Bool
	destroyed          atomic.Bool

	// elem is the queue linkage; guarded by the owning queue's mutex.
	elem *list.Element

	// done is closed when the event has finished running or has been
	// cancelled before running.
	done     chan struct{}
	finished atomic.Bool
}

// New allocates a firmware event with the given kind and payload and
// initializes its reference count to the construction reference.
func New(kind Kind, payload []byte) *Event {
	ev := &Event{
		Kind:     kind,
		Sequence: sequence.Add(1),
		Payload:  payload,
		done:     make(chan struct{}),
	}
	ev.ref.Init(ev.destroy)
	return ev
}

func (ev *Event) destroy() {
	ev.destroyed.Store(true)
	ev.Payload = nil
	if ev.OnDestroy != nil {
		ev.OnDestroy()
	}
}

// Acquire takes an additional reference on the event.
func (ev *Event) Acquire() { ev.ref.Acquire() }

// Release drops a reference on the event, destroying it when the last
// reference is gone.
func (ev *Event) Release() { ev.ref.Release() }

// RefCount returns the current reference count. Diagnostics and tests.
func (ev *Event) RefCount() int64 { return ev.ref.Count() }

// Destroyed reports whether the destructor has run. Tests only.
func (ev *Event) Destroyed() bool { return ev.destroyed.Load() }

// Discard asks a running event to skip any further side effects that
// would reach the upper storage stack. Set only by the reset coordinator
// while the event is executing. Best-effort quiesce, not an error.
func (ev *Event) Discard() { ev.discard.Store(true) }

// Discarded reports whether the event has been discarded. Dispatch
// handlers must check this immediately after any call that can block on
// the upper stack.
func (ev *Event) Discarded() bool { return ev.discard.Load() }

// SetPendingAtSubsystem marks the event as blocked inside an upper-stack
// call (device scan or removal). The reset coordinator never waits
// synchronously on an event in this state.
func (ev *Event) SetPendingAtSubsystem(pending bool) {
	ev.pendingAtSubsystem.Store(pending)
}

// PendingAtSubsystem reports whether the event is blocked inside an
// upper-stack call.
func (ev *Event) PendingAtSubsystem() bool { return ev.pendingAtSubsystem.Load() }

// Cancelled reports whether the event was cancelled before running.
func (ev *Event) Cancelled() bool { return ev.cancelled.Load() }

// Done returns a channel closed once the event has finished running or
// has been cancelled before running.
func (ev *Event) Done() <-chan struct{} { return ev.done }

// finish closes the done channel exactly once.
func (ev *Event) finish() {
	if ev.finished.CompareAndSwap(false, true) {
		close(ev.done)
	}
}
