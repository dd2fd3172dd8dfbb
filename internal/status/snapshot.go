// internal/status/snapshot.go
package status

import (
	"fmt"
	"strings"
	"time"
)

// Snapshot is the coordinator's view of the device at one point in time.
// It contains no logic and no memory of the past beyond current state.
type Snapshot struct {
	Connected bool
	Polling   bool
	Address   string

	Health              uint16
	LastErrorCode       uint16
	ConsecutiveFailures uint32
	LastPollAt          time.Time

	// Text is the last status line shown to the operator.
	Text string
}

// HealthName renders a health code.
func HealthName(h uint16) string {
	switch h {
	case HealthUnknown:
		return "unknown"
	case HealthOK:
		return "ok"
	case HealthError:
		return "error"
	case HealthDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("health(%d)", h)
	}
}

// String renders the snapshot on one line.
func (s Snapshot) String() string {
	var b strings.Builder

	if s.Connected {
		fmt.Fprintf(&b, "connected=%s", s.Address)
	} else {
		b.WriteString("connected=no")
	}
	fmt.Fprintf(&b, " polling=%t health=%s", s.Polling, HealthName(s.Health))

	if s.LastErrorCode != 0 {
		fmt.Fprintf(&b, " last_error=0x%04x failures=%d", s.LastErrorCode, s.ConsecutiveFailures)
	}
	if !s.LastPollAt.IsZero() {
		fmt.Fprintf(&b, " last_poll=%s", s.LastPollAt.Format("15:04:05"))
	}
	return b.String()
}
