package storfab_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storfab/storfab-go/internal/simharness"
	"github.com/storfab/storfab-go/pkg/adapter"
	"github.com/storfab/storfab-go/pkg/device"
	"github.com/storfab/storfab-go/pkg/iotag"
	"github.com/storfab/storfab-go/pkg/trace"
)

// TestFullLifecycle drives an adapter through device attach, throttling,
// outstanding I/O, a soft reset with a lost device, and the terminal
// unrecoverable flush, with the diagnostic trace enabled throughout.
func TestFullLifecycle(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "adapter.strace")
	tracer, err := trace.NewFileTracer(tracePath)
	require.NoError(t, err)

	host := simharness.NewHost()
	ctrl := simharness.NewController()
	cfg := adapter.DefaultConfig()
	a, err := adapter.New(cfg, host, ctrl, slog.Default(), tracer)
	require.NoError(t, err)
	require.NoError(t, a.Start())

	ctx := context.Background()

	// Attach three devices, one throttled, one hidden.
	pages := []adapter.DevicePage{
		{PersistentID: 1, Handle: 0x11, WWID: 0xA1},
		{PersistentID: 2, Handle: 0x12, WWID: 0xA2,
			QueueDepth: 100, ThrottleGroupID: 1, FwQueueDepth: 100, ReductionFactor: 5},
		{PersistentID: 3, Handle: 0x13, WWID: 0xA3, Hidden: true},
	}
	for _, page := range pages {
		_, err := ctrl.AttachDevice(a, page)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return host.Visible(1) && host.Visible(2)
	}, time.Second, 2*time.Millisecond, "devices never became visible")
	assert.False(t, host.Visible(3), "hidden device must not be exposed")
	assert.Equal(t, 3, a.Registry().Count())

	// Throttle group 1 reduces its queue depth; a second request is
	// suppressed while the first is outstanding.
	require.True(t, a.QueueDepthReductionEvent(1))
	assert.False(t, a.QueueDepthReductionEvent(1))
	require.Eventually(t, func() bool {
		return len(host.QueueDepthChanges()) == 1
	}, time.Second, 2*time.Millisecond)
	assert.Equal(t, uint16(50), host.QueueDepthChanges()[0].Depth)

	// Outstanding I/O on two queues.
	for pos := uint16(0); pos < 4; pos++ {
		cmd := &iotag.Command{TargetID: 1}
		require.NotEqual(t, iotag.InvalidTag, a.Table().TagForCommand(cmd, 0, pos))
	}
	cmd := &iotag.Command{TargetID: 2}
	require.NotEqual(t, iotag.InvalidTag, a.Table().TagForCommand(cmd, 1, 0))
	assert.Equal(t, 5, a.Table().Outstanding())

	// Soft reset: device 3 is lost, device 2 comes back with a new
	// handle. All outstanding I/O completes with reset status.
	ctrl.DropDevice(3)
	require.NoError(t, ctrl.ReassignHandle(2, 0x55))
	require.NoError(t, a.Reset(ctx, ctrl.Revalidate(a)))

	assert.Equal(t, 0, a.Table().Outstanding())
	require.Len(t, host.Completions(), 5)
	for _, c := range host.Completions() {
		assert.Equal(t, iotag.StatusReset, c.Status)
	}

	assert.Equal(t, 2, a.Registry().Count())
	assert.Nil(t, a.Registry().GetByPersistentID(3))
	assert.True(t, host.Visible(1))
	assert.True(t, host.Visible(2))

	dev := a.Registry().GetByPersistentID(2)
	require.NotNil(t, dev)
	handle, state := dev.HandleAndState()
	assert.Equal(t, uint16(0x55), handle)
	assert.Equal(t, device.StateExposed, state)
	dev.Release()

	// Restored firmware queue depth across the reset: the throttle
	// group accepts a new reduction.
	ev, err := ctrl.UpdateDevice(a, adapter.DevicePage{
		PersistentID: 2, Handle: 0x55,
		QueueDepth: 100, ThrottleGroupID: 1, FwQueueDepth: 100, ReductionFactor: 5,
	})
	require.NoError(t, err)
	<-ev.Done()
	assert.True(t, a.QueueDepthReductionEvent(1))

	// Terminal path: the controller dies for good.
	cmd = &iotag.Command{TargetID: 1}
	require.NotEqual(t, iotag.InvalidTag, a.Table().TagForCommand(cmd, 0, 0))
	flushed, err := a.FlushForUnrecoverable(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, flushed)
	assert.ErrorIs(t, a.Reset(ctx, nil), adapter.ErrUnrecoverable)

	require.NoError(t, a.Stop())
	require.NoError(t, tracer.Close())

	// The trace file replays the whole run.
	reader, err := trace.NewReader(tracePath)
	require.NoError(t, err)
	defer reader.Close()

	counts := make(map[trace.Category]int)
	for {
		tev, err := reader.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, a.ID().String(), tev.AdapterID)
		counts[tev.Category]++
	}
	assert.Greater(t, counts[trace.CategoryFwEvent], 0, "no firmware event records")
	assert.Greater(t, counts[trace.CategoryDevice], 0, "no device records")
	assert.Greater(t, counts[trace.CategoryReset], 0, "no reset records")
}

// TestAcksMatchEvents checks that every processed controller event is
// acknowledged exactly once and in dispatch order.
func TestAcksMatchEvents(t *testing.T) {
	host := simharness.NewHost()
	ctrl := simharness.NewController()
	a, err := adapter.New(adapter.DefaultConfig(), host, ctrl, nil, nil)
	require.NoError(t, err)
	require.NoError(t, a.Start())
	defer a.Stop()

	var want []uint32
	for i := uint16(1); i <= 5; i++ {
		ev, err := ctrl.AttachDevice(a, adapter.DevicePage{PersistentID: i, Handle: 0x10 + i})
		require.NoError(t, err)
		want = append(want, ev.AckContext)
	}

	require.Eventually(t, func() bool { return len(ctrl.Acks()) == 5 },
		time.Second, 2*time.Millisecond, "acks never all arrived")

	var got []uint32
	for _, ack := range ctrl.Acks() {
		got = append(got, ack.EventCtx)
	}
	assert.Equal(t, want, got, "acks must follow dispatch order")
}
