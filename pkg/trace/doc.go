// Package trace provides the structured diagnostic event stream for the
// adapter.
//
// This package defines the Tracer interface and Event types for
// capturing firmware event, device lifecycle, I/O and reset activity in
// machine-readable form. It is separate from operational logging (slog):
// the trace is a complete, replayable record used for post-mortem
// analysis of event ordering and reset behavior.
//
// # Basic Usage
//
// Applications configure tracing by providing a Tracer implementation:
//
//	// For development: mirror trace events to the console via slog
//	cfg.Tracer = trace.NewSlogAdapter(slog.Default())
//
//	// For production: write to a binary file
//	cfg.Tracer, _ = trace.NewFileTracer("/var/log/storfab/adapter.strace")
//
//	// Both: use MultiTracer
//	cfg.Tracer = trace.NewMultiTracer(
//	    trace.NewSlogAdapter(slog.Default()),
//	    fileTracer,
//	)
//
// # File Format
//
// Trace files use CBOR encoding with integer keys for compactness. The
// Reader type streams and filters recorded events.
package trace
