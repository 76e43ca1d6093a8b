package adapter

import (
	"context"
	"fmt"

	"github.com/storfab/storfab-go/pkg/fwevent"
	"github.com/storfab/storfab-go/pkg/iotag"
	"github.com/storfab/storfab-go/pkg/trace"
)

// CleanupPendingEvents drains and cancels every queued event, then deals
// with the event currently executing on the worker, if any:
//
//   - executing on the calling goroutine (the cleanup was reached from
//     inside its own dispatch), or blocked inside an upper-stack call:
//     set its discard flag and return immediately. Waiting would
//     deadlock; the in-flight dispatch observes the flag and unwinds.
//   - otherwise: wait for it to finish. Its own execution path settles
//     the references.
//
// Cancelled queued events have both their unit-of-work and construction
// references released here; their destructors run and their side effects
// never happen. Returns the number of events cancelled.
func (a *Adapter) CleanupPendingEvents(ctx context.Context) (int, error) {
	cancelled := 0
	for {
		ev := a.queue.Dequeue()
		if ev == nil {
			break
		}
		ev.Discard()
		a.worker.Cancel(ev)
		a.traceFwEvent(ev, trace.StageCancelled)
		cancelled++
	}
	a.traceReset(trace.ResetCleanup, cancelled, 0)

	cur := a.worker.Current()
	if cur == nil {
		return cancelled, nil
	}

	if fwevent.FromContext(ctx) == cur || cur.PendingAtSubsystem() {
		cur.Discard()
		return cancelled, nil
	}

	select {
	case <-cur.Done():
		return cancelled, nil
	case <-ctx.Done():
		return cancelled, ctx.Err()
	}
}

// FlushAllIO clears the scope of every outstanding command and completes
// it back to the upper stack with reset status, exactly once each.
// Returns the number of commands flushed.
func (a *Adapter) FlushAllIO() int {
	flushed := a.table.FlushAll(func(cmd *iotag.Command, status iotag.Status) {
		a.host.Complete(cmd, status)
	})
	if flushed > 0 {
		a.logger.Info("flushed outstanding io", "commands", flushed)
	}
	a.traceReset(trace.ResetFlush, 0, flushed)
	return flushed
}

// FlushForUnrecoverable is the terminal path: the controller will never
// come back. It marks the adapter unrecoverable, waits for any lock-free
// per-queue poll loops to quiesce, then flushes all outstanding I/O.
func (a *Adapter) FlushForUnrecoverable(ctx context.Context) (int, error) {
	a.unrecoverable.Store(true)
	a.logger.Error("controller declared unrecoverable, flushing all io")
	a.traceReset(trace.ResetUnrecoverable, 0, 0)

	if err := a.table.Quiesce(ctx, a.cfg.QuiescePollInterval.Std()); err != nil {
		return 0, fmt.Errorf("waiting for poll loops to quiesce: %w", err)
	}
	return a.FlushAllIO(), nil
}

// Reset runs a soft controller reset: cancel pending and in-flight
// events, invalidate every device handle, flush outstanding I/O, let the
// caller revalidate devices against the recovered controller, then
// refresh the registry. revalidate may be nil when the controller state
// is reapplied out of band (or the controller is gone for good).
//
// Exposure is refused for the whole duration; a Reset that is already
// running or an unrecoverable controller refuse with sentinel errors.
func (a *Adapter) Reset(ctx context.Context, revalidate func(context.Context) error) error {
	if a.unrecoverable.Load() {
		return ErrUnrecoverable
	}
	if a.resetInProgress.Swap(true) {
		return ErrResetInProgress
	}
	defer a.resetInProgress.Store(false)

	a.logger.Info("controller reset starting", "adapter_id", a.id.String())

	cancelled, err := a.CleanupPendingEvents(ctx)
	if err != nil {
		return fmt.Errorf("cleaning up pending events: %w", err)
	}
	if cancelled > 0 {
		a.logger.Info("cancelled pending events", "events", cancelled)
	}

	a.registry.InvalidateHandles()
	a.groups.Clear()
	a.traceReset(trace.ResetInvalidate, 0, 0)

	a.FlushAllIO()

	if revalidate != nil {
		if err := revalidate(ctx); err != nil {
			return fmt.Errorf("revalidating devices: %w", err)
		}
	}

	// Refresh must run with the reset flag already cleared, or its
	// exposure phase would refuse every device.
	a.resetInProgress.Store(false)
	a.RefreshTargetDevices(ctx)

	a.traceReset(trace.ResetDone, cancelled, 0)
	a.logger.Info("controller reset complete", "adapter_id", a.id.String())
	return nil
}
