package device

import "sync"

// DefaultQDFloor is the minimum queue depth a reduction may produce.
const DefaultQDFloor uint16 = 8

// ThrottleGroup is a set of devices sharing one queue-depth-reduction
// policy. All devices reporting the same group ID point at the same
// ThrottleGroup instance.
type ThrottleGroup struct {
	// ID is the controller-assigned throttle group identifier.
	ID uint8

	mu sync.Mutex

	// fwQD is the queue depth the controller wants for the group.
	fwQD uint16

	// modifiedQD is the queue depth the driver has applied (or is about
	// to apply). A reduction is outstanding while it differs from fwQD.
	modifiedQD uint16

	// reduction is the reduction factor in tenths: the reduced depth is
	// fwQD * reduction / 10, floored.
	reduction uint16
}

// NewThrottleGroup creates a throttle group with the controller-reported
// queue depth and reduction factor. No reduction is outstanding
// initially.
func NewThrottleGroup(id uint8, fwQD, reduction uint16) *ThrottleGroup {
	return &ThrottleGroup{
		ID:         id,
		fwQD:       fwQD,
		modifiedQD: fwQD,
		reduction:  reduction,
	}
}

// QueueDepths returns the firmware-requested and driver-applied queue
// depths as one consistent pair.
func (tg *ThrottleGroup) QueueDepths() (fw, modified uint16) {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	return tg.fwQD, tg.modifiedQD
}

// BeginReduction computes and records the reduced queue depth for the
// group, returning it with ok=true.
//
// If a reduction is already outstanding (the applied depth differs from
// the firmware depth and has not been restored by a device info change
// event) the request is suppressed with ok=false, preventing event
// storms: one reduction event per restore window.
func (tg *ThrottleGroup) BeginReduction(floor uint16) (qd uint16, ok bool) {
	if floor == 0 {
		floor = DefaultQDFloor
	}
	tg.mu.Lock()
	defer tg.mu.Unlock()

	if tg.fwQD != tg.modifiedQD {
		return 0, false
	}
	qd = tg.fwQD * tg.reduction / 10
	if qd < floor {
		qd = floor
	}
	tg.modifiedQD = qd
	return qd, true
}

// Restore resets the applied depth to the firmware depth, clearing any
// outstanding reduction. Called when a device info change event reports
// the depth restored.
func (tg *ThrottleGroup) Restore(fwQD uint16) {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	if fwQD != 0 {
		tg.fwQD = fwQD
	}
	tg.modifiedQD = tg.fwQD
}

// Groups tracks the throttle groups known to one adapter, keyed by
// controller group ID.
type Groups struct {
	mu     sync.Mutex
	groups map[uint8]*ThrottleGroup
}

// NewGroups creates an empty throttle group table.
func NewGroups() *Groups {
	return &Groups{groups: make(map[uint8]*ThrottleGroup)}
}

// GetOrCreate returns the group with the given ID, creating it with the
// supplied parameters on first sight.
func (g *Groups) GetOrCreate(id uint8, fwQD, reduction uint16) *ThrottleGroup {
	g.mu.Lock()
	defer g.mu.Unlock()
	tg, ok := g.groups[id]
	if !ok {
		tg = NewThrottleGroup(id, fwQD, reduction)
		g.groups[id] = tg
	}
	return tg
}

// Get returns the group with the given ID, or nil.
func (g *Groups) Get(id uint8) *ThrottleGroup {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.groups[id]
}

// Clear drops every group. Called on adapter teardown.
func (g *Groups) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.groups = make(map[uint8]*ThrottleGroup)
}
