// Package iotag maps hardware-visible host tags to in-flight command
// records and back. Tags are dense, 1-based per submission queue; zero
// is the universal "no command" sentinel. A record whose scope flag is
// clear must be ignored even if found by tag lookup: it may be stale, or
// already reused.
//
// The flush path uses the same table to complete every in-scope command
// with a reset status after a controller reset.
package iotag
