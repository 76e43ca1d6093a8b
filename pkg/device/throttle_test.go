package device

import "testing"

func TestBeginReductionSuppression(t *testing.T) {
	tg := NewThrottleGroup(1, 100, 5)

	qd, ok := tg.BeginReduction(0)
	if !ok {
		t.Fatal("first BeginReduction suppressed, want accepted")
	}
	if qd != 50 {
		t.Errorf("reduced qd = %d, want 50 (100 * 5 / 10)", qd)
	}

	// Outstanding reduction: fw and modified depths differ.
	if _, ok := tg.BeginReduction(0); ok {
		t.Error("second BeginReduction accepted while reduction outstanding")
	}

	// Device info change restores the depth; a new request is accepted.
	tg.Restore(100)
	if _, ok := tg.BeginReduction(0); !ok {
		t.Error("BeginReduction suppressed after restore")
	}
}

func TestBeginReductionFloor(t *testing.T) {
	tg := NewThrottleGroup(2, 10, 1)

	qd, ok := tg.BeginReduction(0)
	if !ok {
		t.Fatal("BeginReduction suppressed")
	}
	if qd != DefaultQDFloor {
		t.Errorf("reduced qd = %d, want floor %d", qd, DefaultQDFloor)
	}
}

func TestGroupsGetOrCreate(t *testing.T) {
	g := NewGroups()

	tg := g.GetOrCreate(5, 64, 5)
	if tg == nil || tg.ID != 5 {
		t.Fatal("GetOrCreate did not create the group")
	}
	if again := g.GetOrCreate(5, 128, 9); again != tg {
		t.Error("GetOrCreate created a duplicate group for the same ID")
	}
	if fw, _ := tg.QueueDepths(); fw != 64 {
		t.Errorf("fwQD = %d, later parameters must not overwrite the group", fw)
	}
	if g.Get(6) != nil {
		t.Error("Get(6) != nil for unknown group")
	}

	g.Clear()
	if g.Get(5) != nil {
		t.Error("Get(5) != nil after Clear")
	}
}
