package adapter

import (
	"context"

	"github.com/storfab/storfab-go/pkg/iotag"
)

// HostStack is the upper storage stack consumed by the adapter. Scan and
// removal calls may block for a long time and may re-enter the adapter;
// the adapter never holds its queue or registry locks across them.
type HostStack interface {
	// ScanTarget makes the device with the given persistent ID visible
	// to the upper stack. Blocking.
	ScanTarget(persistentID uint16) error

	// RemoveTarget tears down the upper-stack state for the device with
	// the given persistent ID. Blocking.
	RemoveTarget(persistentID uint16)

	// Complete delivers a completion for an outstanding command.
	Complete(cmd *iotag.Command, status iotag.Status)

	// ChangeQueueDepth adjusts the queue depth of an exposed device.
	ChangeQueueDepth(persistentID uint16, depth uint16)
}

// Control operations submitted over the ControlLink.
const (
	// OpSetIOThrottle applies a throttle group's queue-depth change at
	// the controller. Payload: an encoded QueueDepthReduction.
	OpSetIOThrottle uint8 = 0x01
)

// ControlLink is the synchronous control-message path to the controller,
// owned by the excluded command-protocol layer.
type ControlLink interface {
	// SubmitControlMessage sends a control operation, such as an I/O
	// throttling change, and waits for the controller's reply.
	SubmitControlMessage(ctx context.Context, op uint8, payload []byte) error

	// SendEventAck acknowledges a controller event by kind and context.
	SendEventAck(ctx context.Context, kind uint16, eventCtx uint32) error
}
