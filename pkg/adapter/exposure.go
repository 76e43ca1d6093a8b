package adapter

import (
	"context"

	"github.com/storfab/storfab-go/pkg/device"
	"github.com/storfab/storfab-go/pkg/fwevent"
	"github.com/storfab/storfab-go/pkg/trace"
)

// ExposeResult is the outcome of a ReportToHost call. Policy refusals
// are results, not errors: the device stays registered and becomes
// eligible again at the next refresh.
type ExposeResult int

const (
	// Exposed: the device was made visible to the upper stack.
	Exposed ExposeResult = iota

	// NotEligible: refused by policy (hidden, already exposed, or a
	// reset in progress).
	NotEligible

	// NoDevice: no registered device has that persistent ID.
	NoDevice
)

func (r ExposeResult) String() string {
	switch r {
	case Exposed:
		return "exposed"
	case NotEligible:
		return "not-eligible"
	case NoDevice:
		return "no-device"
	default:
		return "unknown"
	}
}

// ReportToHost exposes the device with the given persistent ID to the
// upper stack. The blocking ScanTarget call can itself re-enter the
// adapter, so no adapter lock is held across it; the executing event, if
// any, is marked pending-at-subsystem for its duration so the reset
// coordinator never waits on it synchronously.
func (a *Adapter) ReportToHost(ctx context.Context, persistentID uint16) ExposeResult {
	if a.resetInProgress.Load() {
		return NotEligible
	}

	dev := a.registry.GetByPersistentID(persistentID)
	if dev == nil {
		return NoDevice
	}
	defer dev.Release()

	if dev.Hidden() || dev.HostExposed() {
		return NotEligible
	}

	dev.SetHostExposed(true)

	ev := fwevent.FromContext(ctx)
	if ev != nil {
		ev.SetPendingAtSubsystem(true)
	}
	err := a.host.ScanTarget(persistentID)
	if ev != nil {
		ev.SetPendingAtSubsystem(false)
		if ev.Discarded() {
			// A reset was declared while the scan was blocked. The
			// exposure may or may not have landed; the next refresh
			// pass reconciles it.
			a.deviceEventNotice(true)
			a.removeFromHost(dev)
			return NotEligible
		}
	}
	if err != nil {
		a.logger.Warn("target scan failed",
			"persistent_id", persistentID, "error", err)
		dev.SetHostExposed(false)
		return NotEligible
	}

	a.logger.Info("device exposed to host",
		"persistent_id", persistentID, "handle", dev.Handle())
	a.traceDevice(dev, trace.DeviceExposed)
	return Exposed
}

// RemoveFromHost tears down the upper-stack state for an exposed device.
// The registry entry is left alone; callers unlink it separately when the
// device is truly gone. Safe to call for devices that were never exposed.
func (a *Adapter) RemoveFromHost(ctx context.Context, dev *device.TargetDevice) {
	if !dev.HostExposed() {
		return
	}

	ev := fwevent.FromContext(ctx)
	if ev != nil {
		ev.SetPendingAtSubsystem(true)
	}
	a.host.RemoveTarget(dev.PersistentID)
	dev.SetHostExposed(false)
	if ev != nil {
		ev.SetPendingAtSubsystem(false)
		if ev.Discarded() {
			a.deviceEventNotice(false)
			return
		}
	}

	a.logger.Info("device removed from host",
		"persistent_id", dev.PersistentID)
	a.traceDevice(dev, trace.DeviceRemovalStarted)
}

// removeFromHost is the non-event variant used to unwind a discarded
// exposure.
func (a *Adapter) removeFromHost(dev *device.TargetDevice) {
	if !dev.HostExposed() {
		return
	}
	a.host.RemoveTarget(dev.PersistentID)
	dev.SetHostExposed(false)
}

// deviceEventNotice logs the advisory for an exposure or removal that
// completed across a reset. Devices may appear or disappear without a
// matching controller event; the post-reset refresh reconciles them.
func (a *Adapter) deviceEventNotice(adding bool) {
	verb := "removal"
	if adding {
		verb = "exposure"
	}
	a.logger.Info("device "+verb+" completed across a reset, device state will be reconciled by refresh",
		"adapter_id", a.id.String())
}
