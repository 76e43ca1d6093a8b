package device

import (
	"testing"

	"github.com/storfab/storfab-go/pkg/refcount"
)

func TestMain(m *testing.M) {
	refcount.SetStrict(true)
	m.Run()
}

func TestRegistryLookupsReturnExtraReference(t *testing.T) {
	r := NewRegistry()
	dev := New(7, 0x10, 0xdead)
	r.Add(dev)

	if got := dev.RefCount(); got != 2 {
		t.Fatalf("RefCount() = %d after Add, want 2 (construction + membership)", got)
	}

	byHandle := r.GetByHandle(0x10)
	if byHandle != dev {
		t.Fatal("GetByHandle did not find the device")
	}
	if got := dev.RefCount(); got != 3 {
		t.Errorf("RefCount() = %d after lookup, want 3", got)
	}
	byHandle.Release()

	byID := r.GetByPersistentID(7)
	if byID != dev {
		t.Fatal("GetByPersistentID did not find the device")
	}
	byID.Release()

	if r.GetByHandle(0x11) != nil {
		t.Error("GetByHandle(0x11) != nil for unknown handle")
	}
	if r.GetByPersistentID(8) != nil {
		t.Error("GetByPersistentID(8) != nil for unknown ID")
	}
}

func TestRegistryRemoveRequiresRemovalStarted(t *testing.T) {
	r := NewRegistry()
	dev := New(1, 0x01, 0)
	r.Add(dev)

	if r.Remove(dev, false) {
		t.Error("Remove unlinked a Created device without mustDelete")
	}

	dev.SetHostExposed(true)
	dev.SetHostExposed(false) // Exposed -> RemovalStarted
	if dev.State() != StateRemovalStarted {
		t.Fatalf("State() = %v, want RemovalStarted", dev.State())
	}

	// Still visible for lookup during teardown.
	if got := r.GetByHandle(0x01); got == nil {
		t.Error("RemovalStarted device not visible to lookup")
	} else {
		got.Release()
	}

	if !r.Remove(dev, false) {
		t.Fatal("Remove refused a RemovalStarted device")
	}
	if dev.State() != StateDeleted {
		t.Errorf("State() = %v after removal, want Deleted", dev.State())
	}
	if r.GetByHandle(0x01) != nil {
		t.Error("Deleted device still visible to lookup")
	}
	if r.Remove(dev, true) {
		t.Error("second Remove reported an unlink")
	}
}

func TestRegistryForcedRemove(t *testing.T) {
	r := NewRegistry()
	dev := New(2, 0x02, 0)
	destroyed := 0
	dev.OnDestroy = func() { destroyed++ }
	r.Add(dev)

	if !r.Remove(dev, true) {
		t.Fatal("forced Remove refused a Created device")
	}
	dev.Release() // construction reference
	if destroyed != 1 {
		t.Errorf("destructor ran %d times, want 1", destroyed)
	}
}

func TestInvalidateHandles(t *testing.T) {
	r := NewRegistry()
	tg := NewThrottleGroup(1, 64, 5)

	exposed := New(1, 0x01, 0)
	exposed.SetThrottle(tg)
	r.Add(exposed)
	exposed.SetHostExposed(true)

	hiddenDev := New(2, 0x02, 0)
	r.Add(hiddenDev)

	r.InvalidateHandles()

	if h := exposed.Handle(); h != InvalidHandle {
		t.Errorf("exposed.Handle() = %#x, want InvalidHandle", h)
	}
	if exposed.Throttle() != nil {
		t.Error("throttle group not detached on invalidate")
	}
	if !exposed.BlockIO() {
		t.Error("exposed device I/O not gated on invalidate")
	}
	if hiddenDev.BlockIO() {
		t.Error("unexposed device I/O gated on invalidate")
	}

	// Registry membership survives handle invalidation: the window
	// between reset and refresh is observable.
	if got := r.GetByPersistentID(1); got == nil {
		t.Error("device with invalid handle absent from registry")
	} else {
		if h, s := got.HandleAndState(); h != InvalidHandle || s != StateExposed {
			t.Errorf("HandleAndState() = (%#x, %v), want (InvalidHandle, Exposed)", h, s)
		}
		got.Release()
	}
}

func TestSetIODivertForGroup(t *testing.T) {
	r := NewRegistry()
	tg := NewThrottleGroup(3, 32, 5)
	other := NewThrottleGroup(4, 32, 5)

	in := New(1, 0x01, 0)
	in.SetThrottle(tg)
	out := New(2, 0x02, 0)
	out.SetThrottle(other)
	r.Add(in)
	r.Add(out)

	r.SetIODivertForGroup(tg, true)
	if !in.BlockIO() {
		t.Error("group member not diverted")
	}
	if out.BlockIO() {
		t.Error("non-member diverted")
	}

	r.SetIODivertForGroup(tg, false)
	if in.BlockIO() {
		t.Error("group member still diverted after clear")
	}
}

func TestSnapshotHoldsReferences(t *testing.T) {
	r := NewRegistry()
	for i := uint16(1); i <= 3; i++ {
		r.Add(New(i, i, 0))
	}

	devs := r.Snapshot()
	if len(devs) != 3 {
		t.Fatalf("Snapshot returned %d devices, want 3", len(devs))
	}
	for _, dev := range devs {
		if got := dev.RefCount(); got != 3 {
			t.Errorf("RefCount() = %d inside snapshot, want 3", got)
		}
	}
	ReleaseAll(devs)
	for _, dev := range devs {
		if got := dev.RefCount(); got != 2 {
			t.Errorf("RefCount() = %d after ReleaseAll, want 2", got)
		}
	}
}
