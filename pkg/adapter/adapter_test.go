package adapter_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storfab/storfab-go/internal/simharness"
	"github.com/storfab/storfab-go/pkg/adapter"
	"github.com/storfab/storfab-go/pkg/device"
	"github.com/storfab/storfab-go/pkg/fwevent"
	"github.com/storfab/storfab-go/pkg/refcount"
)

func TestMain(m *testing.M) {
	refcount.SetStrict(true)
	os.Exit(m.Run())
}

const waitTick = 2 * time.Millisecond

// newTestAdapter wires an adapter to a recording host and controller and
// starts it.
func newTestAdapter(t *testing.T) (*adapter.Adapter, *simharness.Host, *simharness.Controller) {
	t.Helper()
	host := simharness.NewHost()
	ctrl := simharness.NewController()
	a, err := adapter.New(adapter.DefaultConfig(), host, ctrl, nil, nil)
	require.NoError(t, err)
	require.NoError(t, a.Start())
	t.Cleanup(func() { _ = a.Stop() })
	return a, host, ctrl
}

func TestDeviceAddedExposesDevice(t *testing.T) {
	a, host, ctrl := newTestAdapter(t)

	_, err := ctrl.AttachDevice(a, adapter.DevicePage{
		PersistentID: 7, Handle: 0x1A, WWID: 0x5000c500a1b2c3d4,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return host.Visible(7) },
		time.Second, waitTick, "device never became visible")

	dev := a.Registry().GetByPersistentID(7)
	require.NotNil(t, dev)
	defer dev.Release()

	handle, state := dev.HandleAndState()
	assert.Equal(t, uint16(0x1A), handle)
	assert.Equal(t, device.StateExposed, state)
	assert.True(t, dev.HostExposed())
}

func TestHiddenDeviceNotExposed(t *testing.T) {
	a, host, ctrl := newTestAdapter(t)

	ev, err := ctrl.AttachDevice(a, adapter.DevicePage{
		PersistentID: 3, Handle: 0x10, Hidden: true,
	})
	require.NoError(t, err)

	select {
	case <-ev.Done():
	case <-time.After(time.Second):
		t.Fatal("event never finished")
	}

	assert.False(t, host.Visible(3))
	assert.Empty(t, host.Scans())

	dev := a.Registry().GetByPersistentID(3)
	require.NotNil(t, dev, "hidden device must still be registered")
	defer dev.Release()
	assert.Equal(t, device.StateCreated, dev.State())
}

func TestDeviceRemoved(t *testing.T) {
	a, host, ctrl := newTestAdapter(t)

	_, err := ctrl.AttachDevice(a, adapter.DevicePage{PersistentID: 5, Handle: 0x22})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return host.Visible(5) }, time.Second, waitTick)

	ev, err := ctrl.DetachDevice(a, 5)
	require.NoError(t, err)
	select {
	case <-ev.Done():
	case <-time.After(time.Second):
		t.Fatal("removal event never finished")
	}

	assert.False(t, host.Visible(5))
	assert.Equal(t, []uint16{5}, host.Removals())
	assert.Nil(t, a.Registry().GetByPersistentID(5))
	assert.Equal(t, 0, a.Registry().Count())
}

func TestDeviceDestroyedAfterRemoval(t *testing.T) {
	a, _, _ := newTestAdapter(t)

	dev := a.ApplyDevicePage(adapter.DevicePage{PersistentID: 9, Handle: 0x19})
	require.NotNil(t, dev)
	destroyed := false
	dev.OnDestroy = func() { destroyed = true }

	// Steady state: only the registry's membership reference remains.
	dev.Release()
	require.True(t, a.Registry().Remove(dev, true))

	assert.True(t, destroyed, "unlinking the last reference must run the destructor")
	assert.Equal(t, int64(0), dev.RefCount())
	assert.Equal(t, device.StateDeleted, dev.State())
}

func TestStatusChangeHidesAndUnhides(t *testing.T) {
	a, host, ctrl := newTestAdapter(t)

	_, err := ctrl.AttachDevice(a, adapter.DevicePage{PersistentID: 9, Handle: 0x30})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return host.Visible(9) }, time.Second, waitTick)

	ev, err := ctrl.SetDeviceHidden(a, 9, true)
	require.NoError(t, err)
	<-ev.Done()

	assert.False(t, host.Visible(9))
	dev := a.Registry().GetByPersistentID(9)
	require.NotNil(t, dev, "hidden device stays registered")
	dev.Release()

	ev, err = ctrl.SetDeviceHidden(a, 9, false)
	require.NoError(t, err)
	<-ev.Done()

	require.Eventually(t, func() bool { return host.Visible(9) }, time.Second, waitTick)
	dev = a.Registry().GetByPersistentID(9)
	require.NotNil(t, dev)
	defer dev.Release()
	assert.Equal(t, device.StateExposed, dev.State())
}

func TestEventAckedAfterDispatch(t *testing.T) {
	a, _, ctrl := newTestAdapter(t)

	ev, err := ctrl.AttachDevice(a, adapter.DevicePage{PersistentID: 2, Handle: 0x12})
	require.NoError(t, err)

	select {
	case <-ev.Done():
	case <-time.After(time.Second):
		t.Fatal("event never finished")
	}

	require.Eventually(t, func() bool { return len(ctrl.Acks()) == 1 },
		time.Second, waitTick, "ack never arrived")
	ack := ctrl.Acks()[0]
	assert.Equal(t, uint16(fwevent.KindDeviceAdded), ack.Kind)
	assert.Equal(t, ev.AckContext, ack.EventCtx)
}

func TestEnqueueAfterStopDropsEvent(t *testing.T) {
	host := simharness.NewHost()
	ctrl := simharness.NewController()
	a, err := adapter.New(adapter.DefaultConfig(), host, ctrl, nil, nil)
	require.NoError(t, err)
	require.NoError(t, a.Start())
	require.NoError(t, a.Stop())

	destroyed := make(chan struct{})
	payload, err := adapter.MarshalPayload(adapter.DevicePage{PersistentID: 1, Handle: 1})
	require.NoError(t, err)

	ev := fwevent.New(fwevent.KindDeviceAdded, payload)
	ev.ProcessRequired = true
	ev.OnDestroy = func() { close(destroyed) }
	a.Queue().Enqueue(ev)

	select {
	case <-destroyed:
	case <-time.After(time.Second):
		t.Fatal("dropped event's destructor never ran")
	}
	assert.Empty(t, host.Scans(), "dropped event must have no side effects")
	assert.Equal(t, 0, a.Queue().Len())
}

func TestQueueDepthReductionAppliesAndSuppresses(t *testing.T) {
	a, host, ctrl := newTestAdapter(t)

	ev, err := ctrl.AttachDevice(a, adapter.DevicePage{
		PersistentID:    11,
		Handle:          0x40,
		QueueDepth:      100,
		ThrottleGroupID: 2,
		FwQueueDepth:    100,
		ReductionFactor: 5,
	})
	require.NoError(t, err)
	<-ev.Done()
	require.Eventually(t, func() bool { return host.Visible(11) }, time.Second, waitTick)

	require.True(t, a.QueueDepthReductionEvent(2), "first reduction must be accepted")
	// Outstanding reduction: fw and modified depths differ now.
	assert.False(t, a.QueueDepthReductionEvent(2), "second reduction must be suppressed")

	require.Eventually(t, func() bool {
		return len(host.QueueDepthChanges()) == 1
	}, time.Second, waitTick, "reduced depth never reached the host")

	qd := host.QueueDepthChanges()[0]
	assert.Equal(t, uint16(11), qd.PersistentID)
	assert.Equal(t, uint16(50), qd.Depth, "100 * 5 / 10")

	// The throttle change was submitted to the controller before the
	// member depths were applied, and member I/O is diverted while the
	// reduction is in effect.
	msgs := ctrl.ControlMsgs()
	require.Len(t, msgs, 1)
	assert.Equal(t, adapter.OpSetIOThrottle, msgs[0].Op)
	var sent adapter.QueueDepthReduction
	require.NoError(t, adapter.UnmarshalPayload(msgs[0].Payload, &sent))
	assert.Equal(t, uint8(2), sent.GroupID)
	assert.Equal(t, uint16(50), sent.Depth)

	dev := a.Registry().GetByPersistentID(11)
	require.NotNil(t, dev)
	assert.True(t, dev.BlockIO(), "member io must be diverted during the reduction")
	dev.Release()

	// A restored firmware depth re-arms the group.
	ev, err = ctrl.UpdateDevice(a, adapter.DevicePage{
		PersistentID:    11,
		Handle:          0x40,
		QueueDepth:      100,
		ThrottleGroupID: 2,
		FwQueueDepth:    100,
		ReductionFactor: 5,
	})
	require.NoError(t, err)
	<-ev.Done()

	dev = a.Registry().GetByPersistentID(11)
	require.NotNil(t, dev)
	assert.False(t, dev.BlockIO(), "restore must ungate member io")
	dev.Release()

	assert.True(t, a.QueueDepthReductionEvent(2), "restored group must accept a new reduction")
}

func TestUnknownGroupReductionRefused(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	assert.False(t, a.QueueDepthReductionEvent(99))
}

func TestStartStopLifecycle(t *testing.T) {
	host := simharness.NewHost()
	ctrl := simharness.NewController()
	a, err := adapter.New(adapter.DefaultConfig(), host, ctrl, nil, nil)
	require.NoError(t, err)

	require.NoError(t, a.Start())
	assert.ErrorIs(t, a.Start(), adapter.ErrAlreadyStarted)
	require.NoError(t, a.Stop())
	assert.ErrorIs(t, a.Stop(), adapter.ErrNotStarted)
}
