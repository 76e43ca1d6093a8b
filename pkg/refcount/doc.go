// Package refcount provides an atomic reference counter with a
// release-triggered destructor, used for objects that are shared between
// the firmware event queue, the event worker and the target device
// registry. The payload of a counted object is destroyed exactly once,
// on the 1 -> 0 transition.
//
// Misuse (acquiring a dead object, releasing below zero) is a programming
// defect, not a recoverable condition. In strict mode such misuse panics;
// in production mode it is a safe no-op. Tests enable strict mode.
package refcount
