package adapter

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// payloadEncMode is the CBOR encoder mode for event payloads.
var payloadEncMode cbor.EncMode

// payloadDecMode is the CBOR decoder mode for event payloads.
var payloadDecMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}
	payloadEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create payload CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}
	payloadDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create payload CBOR decoder mode: %v", err))
	}
}

// DevicePage describes a target device as reported by the controller.
// Carried by DEVICE_ADDED and DEVICE_INFO_CHANGED events and by the
// post-reset revalidation path.
type DevicePage struct {
	PersistentID    uint16 `cbor:"1,keyasint"`
	Handle          uint16 `cbor:"2,keyasint"`
	WWID            uint64 `cbor:"3,keyasint,omitempty"`
	Hidden          bool   `cbor:"4,keyasint,omitempty"`
	QueueDepth      uint16 `cbor:"5,keyasint,omitempty"`
	ThrottleGroupID uint8  `cbor:"6,keyasint,omitempty"`
	FwQueueDepth    uint16 `cbor:"7,keyasint,omitempty"`
	ReductionFactor uint16 `cbor:"8,keyasint,omitempty"`
}

// DeviceStatusChange is the payload of a DEVICE_STATUS_CHANGED event.
type DeviceStatusChange struct {
	Handle uint16 `cbor:"1,keyasint"`
	Hidden bool   `cbor:"2,keyasint"`
}

// DeviceRemoval is the payload of a DEVICE_REMOVED event.
type DeviceRemoval struct {
	Handle uint16 `cbor:"1,keyasint"`
}

// QueueDepthReduction is the payload of the synthetic
// QUEUE_DEPTH_REDUCTION event.
type QueueDepthReduction struct {
	GroupID uint8  `cbor:"1,keyasint"`
	Depth   uint16 `cbor:"2,keyasint"`
}

// DiagnosticTrigger is the payload of a DIAGNOSTIC_TRIGGER event.
type DiagnosticTrigger struct {
	TriggerType uint8  `cbor:"1,keyasint"`
	Data        []byte `cbor:"2,keyasint,omitempty"`
}

// MarshalPayload encodes an event payload struct to its CBOR form.
func MarshalPayload(v any) ([]byte, error) {
	return payloadEncMode.Marshal(v)
}

// UnmarshalPayload decodes a CBOR event payload into v.
func UnmarshalPayload(data []byte, v any) error {
	return payloadDecMode.Unmarshal(data, v)
}
