package trace

// MultiTracer sends events to multiple tracers.
// Useful when you want both console output (via SlogAdapter)
// and file output (via FileTracer) simultaneously.
type MultiTracer struct {
	tracers []Tracer
}

// NewMultiTracer creates a MultiTracer that sends events to all provided tracers.
func NewMultiTracer(tracers ...Tracer) *MultiTracer {
	return &MultiTracer{tracers: tracers}
}

// Trace sends the event to all configured tracers.
func (m *MultiTracer) Trace(event Event) {
	for _, t := range m.tracers {
		t.Trace(event)
	}
}

// Compile-time interface satisfaction check.
var _ Tracer = (*MultiTracer)(nil)
