// Package simharness provides a simulated controller and a recording
// host stack for tests and the storfab-sim binary.
package simharness
