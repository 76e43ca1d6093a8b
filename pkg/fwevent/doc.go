// Package fwevent implements the firmware event queue and its worker.
//
// A firmware event is a self-contained unit of deferred work created on
// the controller completion path (or synthesized by the driver) and
// dispatched, strictly in submission order, by a single worker goroutine.
// Events are reference counted: the queue holds one reference while the
// event is linked, the worker holds one for the scheduled unit of work,
// and the construction reference is settled by whichever side finishes
// the event (normal execution or cancellation). This is what makes
// dequeue-and-free and execute-and-free unable to race each other into a
// double free.
//
// Cancellation of a queued event is unconditional; cancellation of the
// running event is cooperative through its discard flag, observed by
// dispatch handlers at well-defined points.
package fwevent
