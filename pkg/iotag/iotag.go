package iotag

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/storfab/storfab-go/pkg/refcount"
)

// InvalidTag is the "no command" sentinel. Host tags are 1-based so that
// zero never names a command.
const InvalidTag uint16 = 0

// invalidQueue marks a cleared record's queue index.
const invalidQueue uint16 = 0xFFFF

// Status is the completion status reported to the originating caller.
type Status uint8

const (
	// StatusSuccess is a normal completion.
	StatusSuccess Status = iota

	// StatusReset reports that the command was flushed by a controller
	// reset and should be retried by the upper layers.
	StatusReset

	// StatusError is a terminal command failure.
	StatusError
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusReset:
		return "RESET"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// CommandRecord is the tag-tracking state embedded in each outstanding
// command. Guarded by the owning Table's lock.
type CommandRecord struct {
	// HostTag is the 1-based hardware-visible tag, InvalidTag when the
	// command is not in driver scope.
	HostTag uint16

	// QueueIndex is the submission queue the command was tagged on.
	QueueIndex uint16

	// InScope marks the record valid. A record found by lookup with
	// InScope false must be ignored: the slot may have been reused.
	InScope bool
}

// Command is one outstanding I/O command. The payload is opaque to the
// tag layer.
type Command struct {
	// TargetID is the persistent ID of the device the command addresses.
	TargetID uint16

	// Data is the opaque command payload.
	Data []byte

	rec CommandRecord
}

// Record returns a copy of the command's tag-tracking record.
func (c *Command) Record() CommandRecord { return c.rec }

// Table is the per-adapter host tag table, provisioned with a fixed
// number of submission queues and a per-queue command budget.
type Table struct {
	mu        sync.Mutex
	numQueues uint16
	budget    uint16
	slots     [][]*Command

	// inUse counts lock-free poll loops active per queue; the terminal
	// flush path waits for these to quiesce.
	inUse []atomic.Int64
}

// NewTable provisions a tag table for numQueues submission queues of
// budget commands each.
func NewTable(numQueues, budget uint16) *Table {
	slots := make([][]*Command, numQueues)
	for i := range slots {
		slots[i] = make([]*Command, budget)
	}
	return &Table{
		numQueues: numQueues,
		budget:    budget,
		slots:     slots,
		inUse:     make([]atomic.Int64, numQueues),
	}
}

// TagForCommand derives the host tag for a command at the given position
// of the given submission queue and records it as in scope. Returns
// InvalidTag when the queue index exceeds the provisioned queue count or
// the position exceeds the command budget.
//
// Host tag zero is invalid, hence the returned tag is position + 1.
func (t *Table) TagForCommand(cmd *Command, queueIndex, position uint16) uint16 {
	if queueIndex >= t.numQueues || position >= t.budget {
		return InvalidTag
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	cmd.rec.HostTag = position + 1
	cmd.rec.QueueIndex = queueIndex
	cmd.rec.InScope = true
	t.slots[queueIndex][position] = cmd
	return cmd.rec.HostTag
}

// CommandForTag reverses the tag mapping. Returns nil for the sentinel
// tag, for out-of-range tags or queues, and for records that are no
// longer in scope (stale reuse guard).
func (t *Table) CommandForTag(tag, queueIndex uint16) *Command {
	if tag == InvalidTag || tag > t.budget || queueIndex >= t.numQueues {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	cmd := t.slots[queueIndex][tag-1]
	if cmd == nil || !cmd.rec.InScope {
		return nil
	}
	return cmd
}

// ClearRecord invalidates the command's tag record, marking it out of
// driver scope. Clearing an already-cleared record is a logic defect:
// strict mode panics, production mode no-ops without corrupting state.
func (t *Table) ClearRecord(cmd *Command) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearRecordLocked(cmd)
}

func (t *Table) clearRecordLocked(cmd *Command) {
	if !cmd.rec.InScope {
		if refcount.Strict() {
			panic("iotag: clearing a command record that is not in scope")
		}
		return
	}
	if q, pos := cmd.rec.QueueIndex, cmd.rec.HostTag-1; q < t.numQueues && pos < t.budget {
		t.slots[q][pos] = nil
	}
	cmd.rec.HostTag = InvalidTag
	cmd.rec.QueueIndex = invalidQueue
	cmd.rec.InScope = false
}

// FlushAll clears every in-scope command record and completes the
// command back to the originating caller with StatusReset. Completion
// callbacks run outside the table lock, since they may re-enter the
// driver. Returns the number of commands flushed.
func (t *Table) FlushAll(complete func(*Command, Status)) int {
	t.mu.Lock()
	var flushed []*Command
	for _, queue := range t.slots {
		for _, cmd := range queue {
			if cmd == nil || !cmd.rec.InScope {
				continue
			}
			t.clearRecordLocked(cmd)
			flushed = append(flushed, cmd)
		}
	}
	t.mu.Unlock()

	for _, cmd := range flushed {
		if complete != nil {
			complete(cmd, StatusReset)
		}
	}
	return len(flushed)
}

// Outstanding returns the number of in-scope commands.
func (t *Table) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, queue := range t.slots {
		for _, cmd := range queue {
			if cmd != nil && cmd.rec.InScope {
				n++
			}
		}
	}
	return n
}

// EnterPoll marks a lock-free poll loop active on the queue. Returns
// false when the queue index is out of range.
func (t *Table) EnterPoll(queueIndex uint16) bool {
	if queueIndex >= t.numQueues {
		return false
	}
	t.inUse[queueIndex].Add(1)
	return true
}

// ExitPoll marks a poll loop finished on the queue.
func (t *Table) ExitPoll(queueIndex uint16) {
	if queueIndex >= t.numQueues {
		return
	}
	t.inUse[queueIndex].Add(-1)
}

// Quiesce waits, polling with the given delay, until no poll loops are
// active on any queue. Used by the unrecoverable-controller flush path
// before completing commands out from under the pollers. Returns the
// context error if ctx expires first.
func (t *Table) Quiesce(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		delay = 500 * time.Microsecond
	}
	for {
		busy := false
		for i := range t.inUse {
			if t.inUse[i].Load() != 0 {
				busy = true
				break
			}
		}
		if !busy {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
