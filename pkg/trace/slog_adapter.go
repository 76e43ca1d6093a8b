package trace

import (
	"context"
	"log/slog"
)

// SlogAdapter writes diagnostic events to an slog.Logger.
// Useful for development when you want to see trace events in console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Trace writes the event to the slog logger at Debug level.
func (a *SlogAdapter) Trace(event Event) {
	attrs := []slog.Attr{
		slog.String("adapter_id", event.AdapterID),
		slog.String("category", event.Category.String()),
	}

	// Add type-specific attributes
	switch {
	case event.FwEvent != nil:
		attrs = append(attrs,
			slog.Uint64("kind", uint64(event.FwEvent.Kind)),
			slog.Uint64("seq", event.FwEvent.Sequence),
			slog.String("stage", event.FwEvent.Stage.String()),
		)
		if event.FwEvent.AckContext != 0 {
			attrs = append(attrs, slog.Uint64("ack_ctx", uint64(event.FwEvent.AckContext)))
		}
		if event.FwEvent.Pending != 0 {
			attrs = append(attrs, slog.Int("pending", event.FwEvent.Pending))
		}
	case event.Device != nil:
		attrs = append(attrs,
			slog.Uint64("persistent_id", uint64(event.Device.PersistentID)),
			slog.Uint64("handle", uint64(event.Device.Handle)),
			slog.String("action", event.Device.Action.String()),
		)
		if event.Device.State != "" {
			attrs = append(attrs, slog.String("state", event.Device.State))
		}
	case event.IO != nil:
		attrs = append(attrs,
			slog.Uint64("host_tag", uint64(event.IO.HostTag)),
			slog.Uint64("queue", uint64(event.IO.QueueIndex)),
		)
		if event.IO.Status != "" {
			attrs = append(attrs, slog.String("status", event.IO.Status))
		}
		if event.IO.Flushed != 0 {
			attrs = append(attrs, slog.Int("flushed", event.IO.Flushed))
		}
	case event.Reset != nil:
		attrs = append(attrs,
			slog.String("phase", event.Reset.Phase.String()),
			slog.Int("cancelled", event.Reset.Cancelled),
			slog.Int("flushed", event.Reset.Flushed),
		)
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "trace", attrs...)
}

// Compile-time interface satisfaction check.
var _ Tracer = (*SlogAdapter)(nil)
