package adapter

import "errors"

// Adapter package errors.
var (
	// ErrNotStarted is returned when operating on a stopped adapter.
	ErrNotStarted = errors.New("adapter not started")

	// ErrAlreadyStarted is returned when starting a running adapter.
	ErrAlreadyStarted = errors.New("adapter already started")

	// ErrInvalidConfig is returned for configurations that fail validation.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrResetInProgress is returned when a reset is requested while one
	// is already running.
	ErrResetInProgress = errors.New("reset already in progress")

	// ErrUnrecoverable is returned once the controller has been declared
	// unrecoverable; no further resets are attempted.
	ErrUnrecoverable = errors.New("controller unrecoverable")
)
