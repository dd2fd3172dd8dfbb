// internal/poller/types.go
package poller

import "time"

// ReadBlock describes one holding-register read.
// Geometry only: no semantics.
type ReadBlock struct {
	Address  uint16
	Quantity uint16
}

// Result is the outcome of one fetch.
// All-or-nothing: Registers is set only when Err is nil.
type Result struct {
	At        time.Time
	Took      time.Duration
	Block     ReadBlock
	Registers []uint16
	Err       error // non-nil means the fetch failed
}
