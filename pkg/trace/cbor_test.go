package trace

import (
	"testing"
	"time"
)

func TestEventCBORRoundTrip(t *testing.T) {
	ts := time.Date(2026, 8, 12, 9, 41, 7, 123456789, time.UTC)
	original := Event{
		Timestamp: ts,
		AdapterID: "abc12345-def6-7890-abcd-ef1234567890",
		Category:  CategoryFwEvent,
		FwEvent: &FwEventData{
			Kind:       0x04,
			Sequence:   17,
			Stage:      StageDispatched,
			AckContext: 0x0042,
		},
	}

	data, err := EncodeEvent(original)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}

	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}

	if !decoded.Timestamp.Equal(original.Timestamp) {
		t.Errorf("Timestamp: got %v, want %v", decoded.Timestamp, original.Timestamp)
	}
	if decoded.AdapterID != original.AdapterID {
		t.Errorf("AdapterID: got %q, want %q", decoded.AdapterID, original.AdapterID)
	}
	if decoded.Category != original.Category {
		t.Errorf("Category: got %v, want %v", decoded.Category, original.Category)
	}
	if decoded.FwEvent == nil {
		t.Fatal("FwEvent is nil")
	}
	if decoded.FwEvent.Kind != original.FwEvent.Kind {
		t.Errorf("FwEvent.Kind: got 0x%02x, want 0x%02x", decoded.FwEvent.Kind, original.FwEvent.Kind)
	}
	if decoded.FwEvent.Sequence != original.FwEvent.Sequence {
		t.Errorf("FwEvent.Sequence: got %d, want %d", decoded.FwEvent.Sequence, original.FwEvent.Sequence)
	}
	if decoded.FwEvent.Stage != original.FwEvent.Stage {
		t.Errorf("FwEvent.Stage: got %v, want %v", decoded.FwEvent.Stage, original.FwEvent.Stage)
	}
	if decoded.FwEvent.AckContext != original.FwEvent.AckContext {
		t.Errorf("FwEvent.AckContext: got 0x%04x, want 0x%04x", decoded.FwEvent.AckContext, original.FwEvent.AckContext)
	}
}

func TestDeviceEventCBORRoundTrip(t *testing.T) {
	original := Event{
		Timestamp: time.Now(),
		AdapterID: "adapter-1",
		Category:  CategoryDevice,
		Device: &DeviceData{
			PersistentID: 7,
			Handle:       0x001A,
			WWID:         0x5000c500a1b2c3d4,
			Action:       DeviceExposed,
			State:        "EXPOSED",
		},
	}

	data, err := EncodeEvent(original)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}

	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}

	if decoded.Device == nil {
		t.Fatal("Device is nil")
	}
	if decoded.Device.PersistentID != original.Device.PersistentID {
		t.Errorf("Device.PersistentID: got %d, want %d", decoded.Device.PersistentID, original.Device.PersistentID)
	}
	if decoded.Device.Handle != original.Device.Handle {
		t.Errorf("Device.Handle: got 0x%04x, want 0x%04x", decoded.Device.Handle, original.Device.Handle)
	}
	if decoded.Device.WWID != original.Device.WWID {
		t.Errorf("Device.WWID: got 0x%x, want 0x%x", decoded.Device.WWID, original.Device.WWID)
	}
	if decoded.Device.Action != original.Device.Action {
		t.Errorf("Device.Action: got %v, want %v", decoded.Device.Action, original.Device.Action)
	}
	if decoded.Device.State != original.Device.State {
		t.Errorf("Device.State: got %q, want %q", decoded.Device.State, original.Device.State)
	}
}

func TestResetEventCBORRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		reset *ResetData
	}{
		{
			name:  "cleanup",
			reset: &ResetData{Phase: ResetCleanup, Cancelled: 3},
		},
		{
			name:  "flush",
			reset: &ResetData{Phase: ResetFlush, Flushed: 42},
		},
		{
			name:  "done",
			reset: &ResetData{Phase: ResetDone},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := Event{
				Timestamp: time.Now(),
				AdapterID: "adapter-1",
				Category:  CategoryReset,
				Reset:     tt.reset,
			}

			data, err := EncodeEvent(original)
			if err != nil {
				t.Fatalf("EncodeEvent failed: %v", err)
			}

			decoded, err := DecodeEvent(data)
			if err != nil {
				t.Fatalf("DecodeEvent failed: %v", err)
			}

			if decoded.Reset == nil {
				t.Fatal("Reset is nil")
			}
			if decoded.Reset.Phase != tt.reset.Phase {
				t.Errorf("Reset.Phase: got %v, want %v", decoded.Reset.Phase, tt.reset.Phase)
			}
			if decoded.Reset.Cancelled != tt.reset.Cancelled {
				t.Errorf("Reset.Cancelled: got %d, want %d", decoded.Reset.Cancelled, tt.reset.Cancelled)
			}
			if decoded.Reset.Flushed != tt.reset.Flushed {
				t.Errorf("Reset.Flushed: got %d, want %d", decoded.Reset.Flushed, tt.reset.Flushed)
			}
		})
	}
}

func TestErrorEventCBORRoundTrip(t *testing.T) {
	original := Event{
		Timestamp: time.Now(),
		AdapterID: "adapter-1",
		Category:  CategoryError,
		Error: &ErrorData{
			Message: "event queue inactive",
			Context: "AllocAndEnqueueEvent",
		},
	}

	data, err := EncodeEvent(original)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}

	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}

	if decoded.Error == nil {
		t.Fatal("Error is nil")
	}
	if decoded.Error.Message != original.Error.Message {
		t.Errorf("Error.Message: got %q, want %q", decoded.Error.Message, original.Error.Message)
	}
	if decoded.Error.Context != original.Error.Context {
		t.Errorf("Error.Context: got %q, want %q", decoded.Error.Context, original.Error.Context)
	}
}

func TestEventCBORUsesIntegerKeys(t *testing.T) {
	event := Event{
		Timestamp: time.Now(),
		AdapterID: "adapter-1",
		Category:  CategoryIO,
		IO:        &IOData{HostTag: 6, QueueIndex: 2},
	}

	data, err := EncodeEvent(event)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}

	// Decode to generic map and verify keys are integers
	var rawMap map[uint64]any
	if err := traceDecMode.Unmarshal(data, &rawMap); err != nil {
		t.Fatalf("failed to decode as map: %v", err)
	}

	expectedKeys := []uint64{1, 2, 3, 12}
	for _, key := range expectedKeys {
		if _, ok := rawMap[key]; !ok {
			t.Errorf("expected integer key %d not found in encoded data", key)
		}
	}

	// Verify no string keys
	var stringMap map[string]any
	if err := traceDecMode.Unmarshal(data, &stringMap); err == nil && len(stringMap) > 0 {
		t.Error("encoded data contains string keys, expected integer keys only")
	}
}

func TestEnumStrings(t *testing.T) {
	if got := CategoryReset.String(); got != "RESET" {
		t.Errorf("CategoryReset.String() = %q, want %q", got, "RESET")
	}
	if got := StageDiscarded.String(); got != "discarded" {
		t.Errorf("StageDiscarded.String() = %q, want %q", got, "discarded")
	}
	if got := DeviceRemovalStarted.String(); got != "removal-started" {
		t.Errorf("DeviceRemovalStarted.String() = %q, want %q", got, "removal-started")
	}
	if got := ResetUnrecoverable.String(); got != "unrecoverable" {
		t.Errorf("ResetUnrecoverable.String() = %q, want %q", got, "unrecoverable")
	}
}
