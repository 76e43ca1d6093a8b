package device

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/storfab/storfab-go/pkg/refcount"
)

// InvalidHandle is the sentinel for a controller handle that is not
// currently assigned. Handles are invalidated on disconnect and on
// controller reset.
const InvalidHandle uint16 = 0xFFFF

// State is the exposure state machine of a target device.
// Only Deleted devices are unlinked from the registry; RemovalStarted
// devices intentionally remain visible to lookups during teardown.
type State uint8

const (
	// StateCreated is a device linked into the registry but not yet
	// exposed to the upper storage stack.
	StateCreated State = iota

	// StateExposed is a device visible to the upper storage stack.
	StateExposed

	// StateRemovalStarted is a device whose teardown has begun.
	StateRemovalStarted

	// StateDeleted is a device unlinked from the registry.
	StateDeleted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateExposed:
		return "EXPOSED"
	case StateRemovalStarted:
		return "REMOVAL_STARTED"
	case StateDeleted:
		return "DELETED"
	default:
		return "UNKNOWN"
	}
}

// TargetDevice is the driver's record of one attached storage device.
// It is reference counted; every holder (registry, lookup caller,
// dispatch in flight) owns one reference and the record is destroyed
// when the last is released.
type TargetDevice struct {
	// PersistentID is the stable identifier surviving handle changes.
	PersistentID uint16

	// WWID is the world-wide identifier reported by the controller.
	WWID uint64

	// OnDestroy, if set before the device is shared, runs from the
	// destructor. Tests only.
	OnDestroy func()

	mu            sync.Mutex
	handle        uint16
	state         State
	hidden        bool
	hostExposed   bool
	queueDepth    uint16
	throttleGroup *ThrottleGroup

	// blockIO gates I/O submission during removal windows; atomic so the
	// submission fast path never takes the device mutex.
	blockIO atomic.Bool

	ref refcount.Counter

	// elem is the registry linkage, guarded by the registry lock.
	elem *list.Element
}

// New allocates a target device record with the construction reference.
func New(persistentID, handle uint16, wwid uint64) *TargetDevice {
	d := &TargetDevice{
		PersistentID: persistentID,
		WWID:         wwid,
		handle:       handle,
	}
	d.ref.Init(d.destroy)
	return d
}

func (d *TargetDevice) destroy() {
	d.mu.Lock()
	d.throttleGroup = nil
	d.mu.Unlock()
	if d.OnDestroy != nil {
		d.OnDestroy()
	}
}

// Acquire takes an additional reference on the device.
func (d *TargetDevice) Acquire() { d.ref.Acquire() }

// Release drops a reference, destroying the record when it is the last.
func (d *TargetDevice) Release() { d.ref.Release() }

// RefCount returns the current reference count. Diagnostics and tests.
func (d *TargetDevice) RefCount() int64 { return d.ref.Count() }

// Handle returns the current controller handle, InvalidHandle when
// unassigned.
func (d *TargetDevice) Handle() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handle
}

// SetHandle assigns a new controller handle.
func (d *TargetDevice) SetHandle(h uint16) {
	d.mu.Lock()
	d.handle = h
	d.mu.Unlock()
}

// State returns the exposure state.
func (d *TargetDevice) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// HandleAndState returns handle and exposure state as one consistent
// pair. Readers racing the refresh pass must use this rather than the
// individual accessors: handle validity does not imply registry
// membership, nor the reverse.
func (d *TargetDevice) HandleAndState() (uint16, State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handle, d.state
}

func (d *TargetDevice) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// Hidden reports whether controller policy hides the device from the
// upper stack.
func (d *TargetDevice) Hidden() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hidden
}

// SetHidden updates the hidden policy flag.
func (d *TargetDevice) SetHidden(hidden bool) {
	d.mu.Lock()
	d.hidden = hidden
	d.mu.Unlock()
}

// HostExposed reports whether the device is currently exposed to the
// upper storage stack.
func (d *TargetDevice) HostExposed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hostExposed
}

// SetHostExposed updates the exposure flag and moves the state machine
// between Created and Exposed accordingly. RemovalStarted and Deleted
// are only left via the registry.
func (d *TargetDevice) SetHostExposed(exposed bool) {
	d.mu.Lock()
	d.hostExposed = exposed
	switch {
	// RemovalStarted devices can be re-exposed: a hidden device leaves
	// the upper stack but stays registered, and may be unhidden later.
	case exposed && (d.state == StateCreated || d.state == StateRemovalStarted):
		d.state = StateExposed
	case !exposed && d.state == StateExposed:
		d.state = StateRemovalStarted
	}
	d.mu.Unlock()
}

// MarkRemoval moves an exposed device to RemovalStarted without
// clearing the exposure flag: the device is logically removed but the
// upper-stack teardown has not happened yet. The refresh pass uses this
// to record removal intent in its first phase.
func (d *TargetDevice) MarkRemoval() {
	d.mu.Lock()
	if d.state == StateExposed {
		d.state = StateRemovalStarted
	}
	d.mu.Unlock()
}

// QueueDepth returns the device's current queue depth.
func (d *TargetDevice) QueueDepth() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queueDepth
}

// SetQueueDepth updates the device's queue depth.
func (d *TargetDevice) SetQueueDepth(depth uint16) {
	d.mu.Lock()
	d.queueDepth = depth
	d.mu.Unlock()
}

// Throttle returns the throttle group the device belongs to, nil when
// unthrottled.
func (d *TargetDevice) Throttle() *ThrottleGroup {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.throttleGroup
}

// SetThrottle attaches the device to a throttle group (nil to detach).
func (d *TargetDevice) SetThrottle(tg *ThrottleGroup) {
	d.mu.Lock()
	d.throttleGroup = tg
	d.mu.Unlock()
}

// SetBlockIO gates or ungates I/O submission for the device.
func (d *TargetDevice) SetBlockIO(block bool) { d.blockIO.Store(block) }

// BlockIO reports whether I/O submission is gated.
func (d *TargetDevice) BlockIO() bool { return d.blockIO.Load() }

// Info is a point-in-time copy of a device's mutable fields, for
// diagnostics dumps.
type Info struct {
	PersistentID uint16
	Handle       uint16
	WWID         uint64
	State        State
	Hidden       bool
	HostExposed  bool
	QueueDepth   uint16
	ThrottleID   int // -1 when unthrottled
}

// Snapshot returns a consistent copy of the device's fields.
func (d *TargetDevice) Snapshot() Info {
	d.mu.Lock()
	defer d.mu.Unlock()
	info := Info{
		PersistentID: d.PersistentID,
		Handle:       d.handle,
		WWID:         d.WWID,
		State:        d.state,
		Hidden:       d.hidden,
		HostExposed:  d.hostExposed,
		QueueDepth:   d.queueDepth,
		ThrottleID:   -1,
	}
	if d.throttleGroup != nil {
		info.ThrottleID = int(d.throttleGroup.ID)
	}
	return info
}
