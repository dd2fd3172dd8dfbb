// internal/poller/poller.go
package poller

import (
	"fmt"
	"time"
)

// Reader abstracts the one Modbus operation a fetch needs (FC 3).
type Reader interface {
	ReadRegisters(start, length uint16, timeout time.Duration) ([]uint16, error)
}

// ErrShortRead is returned when the device answers with a different number
// of registers than requested.
type ErrShortRead struct {
	Want int
	Got  int
}

func (e *ErrShortRead) Error() string {
	return fmt.Sprintf("poller: got %d registers, want %d", e.Got, e.Want)
}

// Fetch performs exactly one read of b with the given response timeout.
// A read that returns any count other than b.Quantity is a failure;
// there is no partial success.
func Fetch(r Reader, b ReadBlock, timeout time.Duration) Result {
	res := Result{
		At:    time.Now(),
		Block: b,
	}

	regs, err := r.ReadRegisters(b.Address, b.Quantity, timeout)
	res.Took = time.Since(res.At)
	if err != nil {
		res.Err = err
		return res
	}
	if len(regs) != int(b.Quantity) {
		res.Err = &ErrShortRead{Want: int(b.Quantity), Got: len(regs)}
		return res
	}

	// Commit only on a complete read
	res.Registers = regs
	return res
}
