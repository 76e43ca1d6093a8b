package adapter

import (
	"context"
	"time"

	"github.com/storfab/storfab-go/pkg/device"
	"github.com/storfab/storfab-go/pkg/fwevent"
	"github.com/storfab/storfab-go/pkg/trace"
)

// dispatchEvent runs on the worker goroutine and maps each event kind to
// its registry, throttle-group or diagnostic mutation. Handlers check
// ev.Discarded() immediately after any call that can block on the upper
// stack and abort further side effects without error; the reset
// coordinator relies on that for its cooperative quiesce.
func (a *Adapter) dispatchEvent(ctx context.Context, ev *fwevent.Event) {
	a.traceFwEvent(ev, trace.StageDispatched)
	a.logger.Debug("dispatching event", "kind", ev.Kind.String(), "seq", ev.Sequence)

	switch ev.Kind {
	case fwevent.KindDeviceAdded:
		a.handleDeviceAdded(ctx, ev)
	case fwevent.KindDeviceInfoChanged:
		a.handleDeviceInfoChanged(ctx, ev)
	case fwevent.KindDeviceStatusChanged:
		a.handleDeviceStatusChanged(ctx, ev)
	case fwevent.KindDeviceRemoved:
		a.handleDeviceRemoved(ctx, ev)
	case fwevent.KindQueueDepthReduction:
		a.handleQueueDepthReduction(ctx, ev)
	case fwevent.KindDiagnosticTrigger:
		a.handleDiagnosticTrigger(ev)
	case fwevent.KindDevicesRefreshWait:
		a.RefreshTargetDevices(ctx)
	default:
		a.logger.Warn("unhandled event kind", "kind", uint16(ev.Kind))
	}

	if ev.Discarded() {
		a.traceFwEvent(ev, trace.StageDiscarded)
	} else {
		a.traceFwEvent(ev, trace.StageCompleted)
	}
}

// ApplyDevicePage creates or updates the registry entry for a reported
// device without touching the upper stack. Used by the DEVICE_ADDED and
// DEVICE_INFO_CHANGED handlers and by post-reset revalidation. The
// returned device holds an extra reference; the caller releases it.
func (a *Adapter) ApplyDevicePage(page DevicePage) *device.TargetDevice {
	dev := a.registry.GetByPersistentID(page.PersistentID)
	if dev == nil {
		if a.cfg.MaxDevices > 0 && a.registry.Count() >= a.cfg.MaxDevices {
			// Log and drop. The device will be rediscovered at the
			// next reset if capacity frees up.
			a.logger.Warn("device table full, dropping device report",
				"persistent_id", page.PersistentID, "handle", page.Handle)
			return nil
		}
		dev = device.New(page.PersistentID, page.Handle, page.WWID)
		a.registry.Add(dev)
		// The construction reference becomes the caller's lookup-style
		// reference; the registry holds its own membership reference,
		// dropped when the device is unlinked. Once both are gone the
		// destructor runs.
		a.traceDevice(dev, trace.DeviceAdded)
	}

	dev.SetHandle(page.Handle)
	dev.SetHidden(page.Hidden)
	if page.QueueDepth != 0 {
		dev.SetQueueDepth(page.QueueDepth)
	}
	if page.ThrottleGroupID != 0 {
		reduction := page.ReductionFactor
		if reduction == 0 {
			reduction = 5
		}
		tg := a.groups.GetOrCreate(page.ThrottleGroupID, page.FwQueueDepth, reduction)
		dev.SetThrottle(tg)
	} else {
		dev.SetThrottle(nil)
	}
	return dev
}

func (a *Adapter) handleDeviceAdded(ctx context.Context, ev *fwevent.Event) {
	var page DevicePage
	if err := UnmarshalPayload(ev.Payload, &page); err != nil {
		a.logger.Warn("malformed device added payload", "error", err)
		return
	}

	dev := a.ApplyDevicePage(page)
	if dev == nil {
		return
	}
	defer dev.Release()

	if ev.Discarded() {
		return
	}
	if !dev.Hidden() {
		a.ReportToHost(ctx, page.PersistentID)
	}
}

func (a *Adapter) handleDeviceInfoChanged(ctx context.Context, ev *fwevent.Event) {
	var page DevicePage
	if err := UnmarshalPayload(ev.Payload, &page); err != nil {
		a.logger.Warn("malformed device info payload", "error", err)
		return
	}

	dev := a.registry.GetByHandle(page.Handle)
	if dev == nil {
		a.logger.Debug("info change for unknown handle", "handle", page.Handle)
		return
	}
	defer dev.Release()

	wasDepth := dev.QueueDepth()
	if updated := a.ApplyDevicePage(page); updated != nil {
		updated.Release()
	}

	// A restored firmware queue depth cancels any outstanding reduction
	// for the group and ungates the members' diverted I/O.
	if tg := dev.Throttle(); tg != nil && page.FwQueueDepth != 0 {
		tg.Restore(page.FwQueueDepth)
		a.registry.SetIODivertForGroup(tg, false)
	}

	if ev.Discarded() {
		return
	}
	if dev.HostExposed() && dev.QueueDepth() != wasDepth {
		a.host.ChangeQueueDepth(dev.PersistentID, dev.QueueDepth())
	}
	// A device that became eligible is exposed now rather than waiting
	// for the next refresh pass.
	if !dev.Hidden() && !dev.HostExposed() {
		a.ReportToHost(ctx, dev.PersistentID)
	}
}

func (a *Adapter) handleDeviceStatusChanged(ctx context.Context, ev *fwevent.Event) {
	var sc DeviceStatusChange
	if err := UnmarshalPayload(ev.Payload, &sc); err != nil {
		a.logger.Warn("malformed status change payload", "error", err)
		return
	}

	dev := a.registry.GetByHandle(sc.Handle)
	if dev == nil {
		a.logger.Debug("status change for unknown handle", "handle", sc.Handle)
		return
	}
	defer dev.Release()

	dev.SetHidden(sc.Hidden)
	if ev.Discarded() {
		return
	}

	if sc.Hidden && dev.HostExposed() {
		// Hidden devices leave the upper stack but stay registered.
		a.RemoveFromHost(ctx, dev)
		a.traceDevice(dev, trace.DeviceHidden)
	} else if !sc.Hidden && !dev.HostExposed() {
		a.ReportToHost(ctx, dev.PersistentID)
	}
}

func (a *Adapter) handleDeviceRemoved(ctx context.Context, ev *fwevent.Event) {
	var rm DeviceRemoval
	if err := UnmarshalPayload(ev.Payload, &rm); err != nil {
		a.logger.Warn("malformed device removal payload", "error", err)
		return
	}

	dev := a.registry.GetByHandle(rm.Handle)
	if dev == nil {
		return
	}
	defer dev.Release()

	a.RemoveFromHost(ctx, dev)
	if ev.Discarded() {
		return
	}
	// Forced: the controller reported the device gone, so even a
	// never-exposed entry is unlinked.
	a.registry.Remove(dev, true)
	a.traceDevice(dev, trace.DeviceRemoved)
}

// handleQueueDepthReduction submits the throttle change to the
// controller, then applies the group's reduced queue depth to every
// member device and diverts their I/O until a device info change
// restores the firmware depth. Suppression already happened at event
// generation.
func (a *Adapter) handleQueueDepthReduction(ctx context.Context, ev *fwevent.Event) {
	var qr QueueDepthReduction
	if err := UnmarshalPayload(ev.Payload, &qr); err != nil {
		a.logger.Warn("malformed reduction payload", "error", err)
		return
	}

	tg := a.groups.Get(qr.GroupID)
	if tg == nil {
		return
	}

	if a.link != nil {
		// A failed control message is logged and the reduction still
		// applies locally; the controller reconciles at the next reset.
		if err := a.link.SubmitControlMessage(ctx, OpSetIOThrottle, ev.Payload); err != nil {
			a.logger.Warn("throttle control message failed",
				"throttle_group", qr.GroupID, "error", err)
		}
	}
	if ev.Discarded() {
		return
	}

	a.registry.SetIODivertForGroup(tg, true)
	members := a.registry.Snapshot()
	defer device.ReleaseAll(members)
	for _, dev := range members {
		if ev.Discarded() {
			return
		}
		if dev.Throttle() != tg {
			continue
		}
		dev.SetQueueDepth(qr.Depth)
		if dev.HostExposed() {
			a.host.ChangeQueueDepth(dev.PersistentID, qr.Depth)
		}
	}
	a.logger.Info("queue depth reduced for throttle group",
		"throttle_group", qr.GroupID, "depth", qr.Depth)
}

func (a *Adapter) handleDiagnosticTrigger(ev *fwevent.Event) {
	var dt DiagnosticTrigger
	if err := UnmarshalPayload(ev.Payload, &dt); err != nil {
		a.logger.Warn("malformed diagnostic trigger payload", "error", err)
		return
	}
	a.logger.Info("diagnostic trigger", "trigger_type", dt.TriggerType, "bytes", len(dt.Data))
	a.tracer.Trace(trace.Event{
		Timestamp: time.Now(),
		AdapterID: a.id.String(),
		Category:  trace.CategoryError,
		Error: &trace.ErrorData{
			Message: "diagnostic trigger",
			Context: "dispatchEvent",
		},
	})
}
