// Package adapter implements the firmware-event dispatch and target-device
// lifecycle subsystem of a storage-controller driver.
//
// An Adapter owns the event queue and its single worker, the target device
// registry, the throttle groups and the I/O tag table. Raw controller
// notifications enter through AllocAndEnqueueEvent; the worker dispatches
// them in FIFO order, mutating the registry and calling into the upper
// storage stack (HostStack). The reset coordinator (Reset,
// CleanupPendingEvents, FlushAllIO) cancels pending and in-flight work
// without deadlocking against the worker that processes it.
package adapter
