package simharness

import (
	"sync"

	"github.com/storfab/storfab-go/pkg/iotag"
)

// Completion records one command completion delivered to the host.
type Completion struct {
	Cmd    *iotag.Command
	Status iotag.Status
}

// QDChange records one queue-depth change delivered to the host.
type QDChange struct {
	PersistentID uint16
	Depth        uint16
}

// HostHandlers holds optional callbacks for host operations. They run
// inside the recording calls, on the calling goroutine, so a handler can
// block or re-enter the adapter the way the real upper stack does.
type HostHandlers struct {
	// OnScanTarget is called during ScanTarget, before recording its
	// outcome. A non-nil error refuses the scan.
	OnScanTarget func(persistentID uint16) error

	// OnRemoveTarget is called during RemoveTarget.
	OnRemoveTarget func(persistentID uint16)
}

// Host is a recording upper storage stack. It implements
// adapter.HostStack and is safe for concurrent use.
type Host struct {
	// Handlers are optional per-operation callbacks.
	Handlers HostHandlers

	mu          sync.Mutex
	scans       []uint16
	removals    []uint16
	completions []Completion
	qdChanges   []QDChange
	visible     map[uint16]bool
}

// NewHost creates an empty recording host.
func NewHost() *Host {
	return &Host{visible: make(map[uint16]bool)}
}

// ScanTarget records the scan and marks the target visible.
func (h *Host) ScanTarget(persistentID uint16) error {
	if h.Handlers.OnScanTarget != nil {
		if err := h.Handlers.OnScanTarget(persistentID); err != nil {
			return err
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scans = append(h.scans, persistentID)
	h.visible[persistentID] = true
	return nil
}

// RemoveTarget records the removal and marks the target gone.
func (h *Host) RemoveTarget(persistentID uint16) {
	if h.Handlers.OnRemoveTarget != nil {
		h.Handlers.OnRemoveTarget(persistentID)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removals = append(h.removals, persistentID)
	delete(h.visible, persistentID)
}

// Complete records a command completion.
func (h *Host) Complete(cmd *iotag.Command, status iotag.Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.completions = append(h.completions, Completion{Cmd: cmd, Status: status})
}

// ChangeQueueDepth records a queue-depth change.
func (h *Host) ChangeQueueDepth(persistentID uint16, depth uint16) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.qdChanges = append(h.qdChanges, QDChange{PersistentID: persistentID, Depth: depth})
}

// Scans returns the recorded scan targets in order.
func (h *Host) Scans() []uint16 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]uint16(nil), h.scans...)
}

// Removals returns the recorded removal targets in order.
func (h *Host) Removals() []uint16 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]uint16(nil), h.removals...)
}

// Completions returns the recorded completions in order.
func (h *Host) Completions() []Completion {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Completion(nil), h.completions...)
}

// QueueDepthChanges returns the recorded queue-depth changes in order.
func (h *Host) QueueDepthChanges() []QDChange {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]QDChange(nil), h.qdChanges...)
}

// Visible reports whether the host currently sees the target.
func (h *Host) Visible(persistentID uint16) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.visible[persistentID]
}

// VisibleCount returns how many targets the host currently sees.
func (h *Host) VisibleCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.visible)
}
