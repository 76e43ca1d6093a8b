// Package device holds the driver's in-memory records of storage devices
// attached through the controller, and the lock-protected registry that
// tracks them by volatile hardware handle and by stable persistent ID.
//
// A device's handle is invalidated independently of its exposure state:
// after a reset a device may sit in the registry with an invalid handle
// until the refresh pass reconciles it. Consumers must therefore check
// handle validity and exposure state together, never one alone.
package device
