package trace

import (
	"time"
)

// Category classifies the subsystem an Event refers to.
type Category int

const (
	CategoryFwEvent Category = iota + 1
	CategoryDevice
	CategoryIO
	CategoryReset
	CategoryError
)

func (c Category) String() string {
	switch c {
	case CategoryFwEvent:
		return "FWEVENT"
	case CategoryDevice:
		return "DEVICE"
	case CategoryIO:
		return "IO"
	case CategoryReset:
		return "RESET"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Stage marks where in its lifecycle a firmware event was observed.
type Stage int

const (
	StageQueued Stage = iota + 1
	StageDispatched
	StageCompleted
	StageCancelled
	StageDiscarded
	StageAcked
	StageDropped
)

func (s Stage) String() string {
	switch s {
	case StageQueued:
		return "queued"
	case StageDispatched:
		return "dispatched"
	case StageCompleted:
		return "completed"
	case StageCancelled:
		return "cancelled"
	case StageDiscarded:
		return "discarded"
	case StageAcked:
		return "acked"
	case StageDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// DeviceAction names a device lifecycle transition.
type DeviceAction int

const (
	DeviceAdded DeviceAction = iota + 1
	DeviceExposed
	DeviceHidden
	DeviceRemovalStarted
	DeviceRemoved
	DeviceInvalidated
	DeviceRefreshed
)

func (a DeviceAction) String() string {
	switch a {
	case DeviceAdded:
		return "added"
	case DeviceExposed:
		return "exposed"
	case DeviceHidden:
		return "hidden"
	case DeviceRemovalStarted:
		return "removal-started"
	case DeviceRemoved:
		return "removed"
	case DeviceInvalidated:
		return "invalidated"
	case DeviceRefreshed:
		return "refreshed"
	default:
		return "unknown"
	}
}

// ResetPhase names a phase of the reset sequence.
type ResetPhase int

const (
	ResetCleanup ResetPhase = iota + 1
	ResetInvalidate
	ResetFlush
	ResetRefresh
	ResetDone
	ResetUnrecoverable
)

func (p ResetPhase) String() string {
	switch p {
	case ResetCleanup:
		return "cleanup"
	case ResetInvalidate:
		return "invalidate"
	case ResetFlush:
		return "flush"
	case ResetRefresh:
		return "refresh"
	case ResetDone:
		return "done"
	case ResetUnrecoverable:
		return "unrecoverable"
	default:
		return "unknown"
	}
}

// Event is a single trace record. Exactly one of the pointer fields is
// set, selected by Category.
type Event struct {
	Timestamp time.Time `cbor:"1,keyasint"`
	AdapterID string    `cbor:"2,keyasint"`
	Category  Category  `cbor:"3,keyasint"`

	FwEvent *FwEventData `cbor:"10,keyasint,omitempty"`
	Device  *DeviceData  `cbor:"11,keyasint,omitempty"`
	IO      *IOData      `cbor:"12,keyasint,omitempty"`
	Reset   *ResetData   `cbor:"13,keyasint,omitempty"`
	Error   *ErrorData   `cbor:"14,keyasint,omitempty"`
}

// FwEventData records a firmware event lifecycle transition.
type FwEventData struct {
	Kind       uint16 `cbor:"1,keyasint"`
	Sequence   uint64 `cbor:"2,keyasint"`
	Stage      Stage  `cbor:"3,keyasint"`
	AckContext uint32 `cbor:"4,keyasint,omitempty"`
	Pending    int    `cbor:"5,keyasint,omitempty"`
}

// DeviceData records a target device lifecycle transition.
type DeviceData struct {
	PersistentID uint32       `cbor:"1,keyasint"`
	Handle       uint16       `cbor:"2,keyasint"`
	WWID         uint64       `cbor:"3,keyasint,omitempty"`
	Action       DeviceAction `cbor:"4,keyasint"`
	State        string       `cbor:"5,keyasint,omitempty"`
}

// IOData records an I/O tag table operation.
type IOData struct {
	HostTag    uint16 `cbor:"1,keyasint,omitempty"`
	QueueIndex uint16 `cbor:"2,keyasint,omitempty"`
	Status     string `cbor:"3,keyasint,omitempty"`
	Flushed    int    `cbor:"4,keyasint,omitempty"`
}

// ResetData records progress through a reset sequence.
type ResetData struct {
	Phase     ResetPhase `cbor:"1,keyasint"`
	Cancelled int        `cbor:"2,keyasint,omitempty"`
	Flushed   int        `cbor:"3,keyasint,omitempty"`
}

// ErrorData records an operational error with its context.
type ErrorData struct {
	Message string `cbor:"1,keyasint"`
	Context string `cbor:"2,keyasint,omitempty"`
}
