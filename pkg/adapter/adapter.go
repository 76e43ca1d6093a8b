package adapter

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/storfab/storfab-go/pkg/device"
	"github.com/storfab/storfab-go/pkg/fwevent"
	"github.com/storfab/storfab-go/pkg/iotag"
	"github.com/storfab/storfab-go/pkg/trace"
)

// Adapter is one controller instance: the event queue and worker, the
// target device registry, the throttle groups and the I/O tag table,
// plus the collaborators it drives.
type Adapter struct {
	id     uuid.UUID
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer

	host HostStack
	link ControlLink

	queue    *fwevent.Queue
	worker   *fwevent.Worker
	registry *device.Registry
	groups   *device.Groups
	table    *iotag.Table

	running         atomic.Bool
	resetInProgress atomic.Bool
	unrecoverable   atomic.Bool
}

// New creates an adapter from a validated configuration. logger may be
// nil for slog.Default(); tracer may be nil to disable tracing.
func New(cfg Config, host HostStack, link ControlLink, logger *slog.Logger, tracer trace.Tracer) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if tracer == nil {
		tracer = trace.NoopTracer{}
	}

	a := &Adapter{
		id:       uuid.New(),
		cfg:      cfg,
		logger:   logger,
		tracer:   tracer,
		host:     host,
		link:     link,
		registry: device.NewRegistry(),
		groups:   device.NewGroups(),
		table:    iotag.NewTable(cfg.NumQueues, cfg.QueueBudget),
	}
	a.queue = fwevent.NewQueue(logger)
	a.worker = fwevent.NewWorker(a.queue, a.dispatchEvent, a.ackEvent, logger)
	return a, nil
}

// ID returns the adapter instance ID stamped into trace events.
func (a *Adapter) ID() uuid.UUID { return a.id }

// Registry returns the target device registry.
func (a *Adapter) Registry() *device.Registry { return a.registry }

// Groups returns the throttle groups.
func (a *Adapter) Groups() *device.Groups { return a.groups }

// Table returns the I/O tag table.
func (a *Adapter) Table() *iotag.Table { return a.table }

// Queue returns the pending event queue. Diagnostics only.
func (a *Adapter) Queue() *fwevent.Queue { return a.queue }

// Unrecoverable reports whether the controller has been declared
// unrecoverable.
func (a *Adapter) Unrecoverable() bool { return a.unrecoverable.Load() }

// ResetInProgress reports whether a reset is currently running.
func (a *Adapter) ResetInProgress() bool { return a.resetInProgress.Load() }

// Start activates the event queue and starts the worker.
func (a *Adapter) Start() error {
	if a.running.Swap(true) {
		return ErrAlreadyStarted
	}
	a.worker.Start()
	a.logger.Info("adapter started", "adapter_id", a.id.String())
	return nil
}

// Stop deactivates the queue and waits for the worker to drain. Events
// enqueued after Stop are dropped with a warning.
func (a *Adapter) Stop() error {
	if !a.running.Swap(false) {
		return ErrNotStarted
	}
	a.worker.Stop()
	a.logger.Info("adapter stopped", "adapter_id", a.id.String())
	return nil
}

// EventOpts carries the dispatch flags for a controller notification.
type EventOpts struct {
	// AckRequired requests an acknowledgement to the controller after
	// dispatch.
	AckRequired bool

	// AckContext is echoed in the acknowledgement.
	AckContext uint32

	// ProcessRequired requests dispatch. Notifications that only need
	// an ack leave it unset.
	ProcessRequired bool
}

// AllocAndEnqueueEvent is the completion-path entry point for raw
// controller notifications. It never blocks on the worker. When the
// adapter is stopped the event is dropped with a warning; events are
// reconstructible from controller-side state at the next reset, so
// dropped events are never retried.
func (a *Adapter) AllocAndEnqueueEvent(kind fwevent.Kind, payload []byte, opts EventOpts) *fwevent.Event {
	ev := fwevent.New(kind, payload)
	ev.AckRequired = opts.AckRequired
	ev.AckContext = opts.AckContext
	ev.ProcessRequired = opts.ProcessRequired

	a.traceFwEvent(ev, trace.StageQueued)
	a.queue.Enqueue(ev)

	if n := a.queue.Len(); a.cfg.QueueWarnDepth > 0 && n > a.cfg.QueueWarnDepth {
		a.logger.Warn("event queue depth above threshold",
			"depth", n, "threshold", a.cfg.QueueWarnDepth)
	}
	return ev
}

// QueueDepthReductionEvent generates the synthetic queue-depth-reduction
// event for a throttle group. The event is suppressed, returning false,
// when a reduction is already outstanding for the group.
func (a *Adapter) QueueDepthReductionEvent(groupID uint8) bool {
	tg := a.groups.Get(groupID)
	if tg == nil {
		return false
	}
	qd, ok := tg.BeginReduction(a.cfg.QDReductionFloor)
	if !ok {
		a.logger.Debug("queue depth reduction suppressed, one already outstanding",
			"throttle_group", groupID)
		return false
	}

	payload, err := MarshalPayload(QueueDepthReduction{GroupID: groupID, Depth: qd})
	if err != nil {
		a.logger.Warn("failed to encode reduction payload, dropping event", "error", err)
		return false
	}
	a.AllocAndEnqueueEvent(fwevent.KindQueueDepthReduction, payload, EventOpts{
		ProcessRequired: true,
	})
	return true
}

// traceFwEvent emits a firmware-event lifecycle trace record.
func (a *Adapter) traceFwEvent(ev *fwevent.Event, stage trace.Stage) {
	a.tracer.Trace(trace.Event{
		Timestamp: time.Now(),
		AdapterID: a.id.String(),
		Category:  trace.CategoryFwEvent,
		FwEvent: &trace.FwEventData{
			Kind:       uint16(ev.Kind),
			Sequence:   ev.Sequence,
			Stage:      stage,
			AckContext: ev.AckContext,
			Pending:    a.queue.Len(),
		},
	})
}

// traceDevice emits a device lifecycle trace record.
func (a *Adapter) traceDevice(dev *device.TargetDevice, action trace.DeviceAction) {
	handle, state := dev.HandleAndState()
	a.tracer.Trace(trace.Event{
		Timestamp: time.Now(),
		AdapterID: a.id.String(),
		Category:  trace.CategoryDevice,
		Device: &trace.DeviceData{
			PersistentID: uint32(dev.PersistentID),
			Handle:       handle,
			WWID:         dev.WWID,
			Action:       action,
			State:        state.String(),
		},
	})
}

// traceReset emits a reset-phase trace record.
func (a *Adapter) traceReset(phase trace.ResetPhase, cancelled, flushed int) {
	a.tracer.Trace(trace.Event{
		Timestamp: time.Now(),
		AdapterID: a.id.String(),
		Category:  trace.CategoryReset,
		Reset: &trace.ResetData{
			Phase:     phase,
			Cancelled: cancelled,
			Flushed:   flushed,
		},
	})
}

// ackEvent sends the controller acknowledgement for an event. Runs on
// the worker after dispatch, never before it.
func (a *Adapter) ackEvent(ctx context.Context, ev *fwevent.Event) {
	if a.link == nil {
		return
	}
	if err := a.link.SendEventAck(ctx, uint16(ev.Kind), ev.AckContext); err != nil {
		a.logger.Warn("failed to ack event",
			"kind", ev.Kind.String(), "ack_ctx", ev.AckContext, "error", err)
		return
	}
	a.traceFwEvent(ev, trace.StageAcked)
}
