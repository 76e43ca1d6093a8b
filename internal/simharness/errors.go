package simharness

import "errors"

// Harness package errors.
var (
	// ErrLinkDown is returned when the simulated control link is down.
	ErrLinkDown = errors.New("control link down")

	// ErrScanRefused is returned by a host configured to refuse scans.
	ErrScanRefused = errors.New("target scan refused")

	// ErrDeviceUnknown is returned when operating on a device the
	// controller never reported.
	ErrDeviceUnknown = errors.New("device unknown to controller")
)
