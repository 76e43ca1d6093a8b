package simharness

import (
	"context"
	"fmt"
	"sync"

	"github.com/storfab/storfab-go/pkg/adapter"
	"github.com/storfab/storfab-go/pkg/fwevent"
)

// Ack records one event acknowledgement received by the controller.
type Ack struct {
	Kind     uint16
	EventCtx uint32
}

// ControlMsg records one control message received by the controller.
type ControlMsg struct {
	Op      uint8
	Payload []byte
}

// Controller simulates the controller side: it holds the authoritative
// device table, emits firmware events into an adapter, and records the
// acks and control messages it receives. It implements
// adapter.ControlLink and is safe for concurrent use.
type Controller struct {
	// AckErr, when set, fails every SendEventAck call.
	AckErr error

	mu      sync.Mutex
	devices map[uint16]adapter.DevicePage
	acks    []Ack
	ctrl    []ControlMsg
	ackCtx  uint32
}

// NewController creates a controller with an empty device table.
func NewController() *Controller {
	return &Controller{devices: make(map[uint16]adapter.DevicePage)}
}

// SendEventAck records the acknowledgement.
func (c *Controller) SendEventAck(_ context.Context, kind uint16, eventCtx uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.AckErr != nil {
		return c.AckErr
	}
	c.acks = append(c.acks, Ack{Kind: kind, EventCtx: eventCtx})
	return nil
}

// SubmitControlMessage records the control message.
func (c *Controller) SubmitControlMessage(_ context.Context, op uint8, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ctrl = append(c.ctrl, ControlMsg{Op: op, Payload: append([]byte(nil), payload...)})
	return nil
}

// Acks returns the recorded acknowledgements in order.
func (c *Controller) Acks() []Ack {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Ack(nil), c.acks...)
}

// ControlMsgs returns the recorded control messages in order.
func (c *Controller) ControlMsgs() []ControlMsg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ControlMsg(nil), c.ctrl...)
}

// nextAckCtx hands out the controller-assigned event context.
func (c *Controller) nextAckCtx() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ackCtx++
	return c.ackCtx
}

// AttachDevice adds a device to the controller's table and emits a
// DEVICE_ADDED event into the adapter. Returns the enqueued event.
func (c *Controller) AttachDevice(a *adapter.Adapter, page adapter.DevicePage) (*fwevent.Event, error) {
	c.mu.Lock()
	c.devices[page.PersistentID] = page
	c.mu.Unlock()

	payload, err := adapter.MarshalPayload(page)
	if err != nil {
		return nil, fmt.Errorf("encoding device page: %w", err)
	}
	ev := a.AllocAndEnqueueEvent(fwevent.KindDeviceAdded, payload, adapter.EventOpts{
		ProcessRequired: true,
		AckRequired:     true,
		AckContext:      c.nextAckCtx(),
	})
	return ev, nil
}

// DetachDevice removes a device from the controller's table and emits a
// DEVICE_REMOVED event for its current handle.
func (c *Controller) DetachDevice(a *adapter.Adapter, persistentID uint16) (*fwevent.Event, error) {
	c.mu.Lock()
	page, ok := c.devices[persistentID]
	if ok {
		delete(c.devices, persistentID)
	}
	c.mu.Unlock()
	if !ok {
		return nil, ErrDeviceUnknown
	}

	payload, err := adapter.MarshalPayload(adapter.DeviceRemoval{Handle: page.Handle})
	if err != nil {
		return nil, fmt.Errorf("encoding device removal: %w", err)
	}
	ev := a.AllocAndEnqueueEvent(fwevent.KindDeviceRemoved, payload, adapter.EventOpts{
		ProcessRequired: true,
		AckRequired:     true,
		AckContext:      c.nextAckCtx(),
	})
	return ev, nil
}

// SetDeviceHidden flips a device's hidden policy and emits a
// DEVICE_STATUS_CHANGED event.
func (c *Controller) SetDeviceHidden(a *adapter.Adapter, persistentID uint16, hidden bool) (*fwevent.Event, error) {
	c.mu.Lock()
	page, ok := c.devices[persistentID]
	if ok {
		page.Hidden = hidden
		c.devices[persistentID] = page
	}
	c.mu.Unlock()
	if !ok {
		return nil, ErrDeviceUnknown
	}

	payload, err := adapter.MarshalPayload(adapter.DeviceStatusChange{Handle: page.Handle, Hidden: hidden})
	if err != nil {
		return nil, fmt.Errorf("encoding status change: %w", err)
	}
	ev := a.AllocAndEnqueueEvent(fwevent.KindDeviceStatusChanged, payload, adapter.EventOpts{
		ProcessRequired: true,
		AckRequired:     true,
		AckContext:      c.nextAckCtx(),
	})
	return ev, nil
}

// UpdateDevice replaces a device page and emits a DEVICE_INFO_CHANGED
// event.
func (c *Controller) UpdateDevice(a *adapter.Adapter, page adapter.DevicePage) (*fwevent.Event, error) {
	c.mu.Lock()
	_, ok := c.devices[page.PersistentID]
	if ok {
		c.devices[page.PersistentID] = page
	}
	c.mu.Unlock()
	if !ok {
		return nil, ErrDeviceUnknown
	}

	payload, err := adapter.MarshalPayload(page)
	if err != nil {
		return nil, fmt.Errorf("encoding device page: %w", err)
	}
	ev := a.AllocAndEnqueueEvent(fwevent.KindDeviceInfoChanged, payload, adapter.EventOpts{
		ProcessRequired: true,
		AckRequired:     true,
		AckContext:      c.nextAckCtx(),
	})
	return ev, nil
}

// ReassignHandle simulates the controller handing out a new handle after
// a reset, without emitting an event; Revalidate carries it over.
func (c *Controller) ReassignHandle(persistentID, newHandle uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	page, ok := c.devices[persistentID]
	if !ok {
		return ErrDeviceUnknown
	}
	page.Handle = newHandle
	c.devices[persistentID] = page
	return nil
}

// DropDevice removes a device from the controller's table without
// emitting an event, simulating a device lost across a reset.
func (c *Controller) DropDevice(persistentID uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.devices, persistentID)
}

// Revalidate reapplies the controller's device table to the adapter's
// registry, restoring handles after a reset. Passed to adapter.Reset.
func (c *Controller) Revalidate(a *adapter.Adapter) func(context.Context) error {
	return func(context.Context) error {
		c.mu.Lock()
		pages := make([]adapter.DevicePage, 0, len(c.devices))
		for _, page := range c.devices {
			pages = append(pages, page)
		}
		c.mu.Unlock()

		for _, page := range pages {
			if dev := a.ApplyDevicePage(page); dev != nil {
				dev.Release()
			}
		}
		return nil
	}
}

// Devices returns a copy of the controller's device table.
func (c *Controller) Devices() map[uint16]adapter.DevicePage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[uint16]adapter.DevicePage, len(c.devices))
	for id, page := range c.devices {
		out[id] = page
	}
	return out
}
