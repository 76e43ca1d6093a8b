package adapter

import (
	"context"

	"github.com/storfab/storfab-go/pkg/device"
	"github.com/storfab/storfab-go/pkg/fwevent"
	"github.com/storfab/storfab-go/pkg/trace"
)

// RefreshTargetDevices reconciles the registry with the upper stack
// after a controller reset. It runs three ordered phases over a snapshot
// of the registry:
//
//  1. Every exposed device whose handle is invalid or which is hidden is
//     marked logically removed and has its gated I/O unblocked, without
//     touching the upper stack yet.
//  2. Every device with an invalid handle is removed from the upper
//     stack (if exposed) and unlinked from the registry. Devices with a
//     valid handle that are hidden but still exposed are removed from
//     the upper stack only; the registry entry stays. A device matching
//     both conditions is treated as invalid-handle: unlinking wins.
//  3. Every remaining device with a valid handle that is neither exposed
//     nor hidden is exposed.
//
// Phase order matters: phase 1 must mark removal intent before phase 2
// acts on it. The pass is not atomic; concurrent lookups observe the
// intermediate states and must check handle validity and exposure state
// together. Running the pass twice with no intervening controller events
// leaves the registry unchanged.
func (a *Adapter) RefreshTargetDevices(ctx context.Context) {
	a.logger.Info("refreshing target devices", "adapter_id", a.id.String())
	a.traceReset(trace.ResetRefresh, 0, 0)

	// Phase 1: mark removal intent and unblock gated I/O, without
	// touching the upper stack yet.
	devs := a.registry.Snapshot()
	for _, dev := range devs {
		handle, _ := dev.HandleAndState()
		if (handle == device.InvalidHandle || dev.Hidden()) && dev.HostExposed() {
			dev.MarkRemoval()
			dev.SetBlockIO(false)
			a.traceDevice(dev, trace.DeviceRemovalStarted)
		}
	}
	device.ReleaseAll(devs)

	// Phase 2: act on the removal intent. The upper-stack calls run
	// without any adapter lock held and with the executing event, if
	// any, marked pending-at-subsystem, so the reset coordinator never
	// waits on a refresh blocked inside a removal. A discard declared
	// while one was blocked aborts the pass; the next refresh
	// reconciles whatever is left.
	ev := fwevent.FromContext(ctx)
	devs = a.registry.Snapshot()
	for _, dev := range devs {
		handle, _ := dev.HandleAndState()
		switch {
		case handle == device.InvalidHandle:
			a.RemoveFromHost(ctx, dev)
			if ev != nil && ev.Discarded() {
				device.ReleaseAll(devs)
				return
			}
			a.registry.Remove(dev, true)
			a.traceDevice(dev, trace.DeviceRemoved)
		case dev.Hidden() && dev.HostExposed():
			// Hidden but still exposed: leave the registry entry.
			a.RemoveFromHost(ctx, dev)
			if ev != nil && ev.Discarded() {
				device.ReleaseAll(devs)
				return
			}
			a.traceDevice(dev, trace.DeviceHidden)
		}
	}
	device.ReleaseAll(devs)

	// Phase 3: expose what remains eligible.
	devs = a.registry.Snapshot()
	for _, dev := range devs {
		handle, _ := dev.HandleAndState()
		if handle != device.InvalidHandle && !dev.HostExposed() && !dev.Hidden() {
			a.ReportToHost(ctx, dev.PersistentID)
		}
	}
	device.ReleaseAll(devs)

	a.logger.Info("target device refresh complete",
		"devices", a.registry.Count())
}
