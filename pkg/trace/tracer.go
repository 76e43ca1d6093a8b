package trace

// Tracer is the interface applications implement to receive diagnostic
// trace events. Pass nil or NoopTracer to disable tracing.
type Tracer interface {
	// Trace records a diagnostic event. Implementations must be thread-safe.
	// The event should be processed quickly or queued; blocking affects
	// the adapter's event worker.
	Trace(event Event)
}

// NoopTracer discards all events. Use when tracing is disabled.
// NoopTracer is safe for concurrent use and usable as a zero value.
type NoopTracer struct{}

// Trace discards the event.
func (NoopTracer) Trace(Event) {}

// Compile-time interface satisfaction check.
var _ Tracer = NoopTracer{}
