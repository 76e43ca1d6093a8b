package device

import (
	"container/list"
	"sync"
)

// Registry is the lock-protected list of target devices, keyed by
// controller handle and by persistent ID.
//
// The registry lock is a leaf lock: it is never held across calls into
// the upper storage stack, which can re-enter the driver. Reference
// counts are the only cross-thread-safe handle to a device once it has
// left the protection of the lock, which is why lookups return an
// additional reference.
type Registry struct {
	mu      sync.Mutex
	devices *list.List
}

// NewRegistry creates an empty device registry.
func NewRegistry() *Registry {
	return &Registry{devices: list.New()}
}

// Add links the device into the registry, taking a membership reference
// and moving it to the Created state.
func (r *Registry) Add(dev *TargetDevice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dev.Acquire()
	dev.elem = r.devices.PushBack(dev)
	dev.setState(StateCreated)
}

// Remove unlinks the device if its removal has started, or
// unconditionally when mustDelete is set (forced teardown). An unlinked
// device moves to Deleted and the membership reference is dropped.
// Returns whether the device was unlinked.
func (r *Registry) Remove(dev *TargetDevice, mustDelete bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if dev.State() != StateRemovalStarted && !mustDelete {
		return false
	}
	if dev.elem == nil {
		return false
	}
	r.devices.Remove(dev.elem)
	dev.elem = nil
	dev.setState(StateDeleted)
	dev.Release()
	return true
}

// GetByHandle returns the device with the given controller handle,
// holding an additional reference the caller must release. Returns nil
// when no device matches.
func (r *Registry) GetByHandle(handle uint16) *TargetDevice {
	r.mu.Lock()
	defer r.mu.Unlock()
	for e := r.devices.Front(); e != nil; e = e.Next() {
		dev := e.Value.(*TargetDevice)
		if dev.Handle() == handle {
			dev.Acquire()
			return dev
		}
	}
	return nil
}

// GetByPersistentID returns the device with the given persistent ID,
// holding an additional reference the caller must release. Returns nil
// when no device matches.
func (r *Registry) GetByPersistentID(persistentID uint16) *TargetDevice {
	r.mu.Lock()
	defer r.mu.Unlock()
	for e := r.devices.Front(); e != nil; e = e.Next() {
		dev := e.Value.(*TargetDevice)
		if dev.PersistentID == persistentID {
			dev.Acquire()
			return dev
		}
	}
	return nil
}

// Count returns the number of devices linked into the registry.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.devices.Len()
}

// ForEach calls fn for every linked device, under the registry lock.
// fn must not mutate the registry or call back into it. Diagnostics
// readers use this with Snapshot.
func (r *Registry) ForEach(fn func(*TargetDevice)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for e := r.devices.Front(); e != nil; e = e.Next() {
		fn(e.Value.(*TargetDevice))
	}
}

// Snapshot returns the linked devices in order, each with an additional
// reference held for the caller. Used by the refresh pass, which must
// not hold the registry lock while calling into the upper stack.
func (r *Registry) Snapshot() []*TargetDevice {
	r.mu.Lock()
	defer r.mu.Unlock()
	devs := make([]*TargetDevice, 0, r.devices.Len())
	for e := r.devices.Front(); e != nil; e = e.Next() {
		dev := e.Value.(*TargetDevice)
		dev.Acquire()
		devs = append(devs, dev)
	}
	return devs
}

// ReleaseAll releases the references held by a Snapshot result.
func ReleaseAll(devs []*TargetDevice) {
	for _, dev := range devs {
		dev.Release()
	}
}

// InvalidateHandles marks every registered device's handle invalid and
// detaches throttling state. Called after a controller reset, before the
// controller is reinitialized: handles are reassigned by the controller
// and must not be trusted across the reset. Exposed devices get their
// I/O gated until refresh reconciles them.
func (r *Registry) InvalidateHandles() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for e := r.devices.Front(); e != nil; e = e.Next() {
		dev := e.Value.(*TargetDevice)
		dev.SetHandle(InvalidHandle)
		dev.SetThrottle(nil)
		if dev.HostExposed() {
			dev.SetBlockIO(true)
		}
	}
}

// SetIODivertForGroup gates or ungates I/O for every device attached to
// the given throttle group.
func (r *Registry) SetIODivertForGroup(tg *ThrottleGroup, divert bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for e := r.devices.Front(); e != nil; e = e.Next() {
		dev := e.Value.(*TargetDevice)
		if dev.Throttle() == tg {
			dev.SetBlockIO(divert)
		}
	}
}
