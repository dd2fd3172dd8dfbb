// internal/coordinator/types.go
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tamzrod/modbus-supervisor/internal/register"
	"github.com/tamzrod/modbus-supervisor/internal/session"
)

var (
	// ErrInvalidParams wraps missing or out-of-range connection/poll parameters.
	ErrInvalidParams = errors.New("invalid parameters")

	// ErrInvalidTransition is returned for an intent that is not legal in the
	// current state. The state is left unchanged.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrClosed is returned once the coordinator loop has exited.
	ErrClosed = errors.New("coordinator closed")
)

// DefaultReadTimeout is the response timeout applied to every poll read.
const DefaultReadTimeout = time.Second

// MaxReadQuantity is the largest holding-register count one FC 3 request may carry.
const MaxReadQuantity = 125

// Session is the transport the coordinator drives.
type Session interface {
	Connect(ctx context.Context, p session.ConnectionParams) error
	Disconnect()
	ReadRegisters(start, length uint16, timeout time.Duration) ([]uint16, error)
}

// Timer is the repeating poll timer.
type Timer interface {
	Start(interval time.Duration, onTick func()) error
	Stop()
}

// State is the connection/poll state.
// Polling implies connected.
type State int32

const (
	StateDisconnected State = iota
	StateIdle               // connected, not polling
	StatePolling            // connected, timer armed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateIdle:
		return "connected/idle"
	case StatePolling:
		return "connected/polling"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Connected reports whether s holds a connection.
func (s State) Connected() bool { return s != StateDisconnected }

// PollParams describes one polling session.
type PollParams struct {
	Interval     time.Duration
	StartAddress uint16
	Length       uint16

	// ReadTimeout defaults to DefaultReadTimeout when zero.
	ReadTimeout time.Duration
}

// Validate checks interval, length and address-space bounds.
func (p PollParams) Validate() error {
	if p.Interval <= 0 {
		return errors.New("interval must be > 0")
	}
	if p.Length == 0 {
		return errors.New("length must be > 0")
	}
	if p.Length > MaxReadQuantity {
		return fmt.Errorf("length %d exceeds %d registers per read", p.Length, MaxReadQuantity)
	}
	if int(p.StartAddress)+int(p.Length) > register.Size {
		return fmt.Errorf("range %d+%d exceeds address space", p.StartAddress, p.Length)
	}
	if p.ReadTimeout < 0 {
		return errors.New("read timeout must be >= 0")
	}
	return nil
}

func (p PollParams) readTimeout() time.Duration {
	if p.ReadTimeout > 0 {
		return p.ReadTimeout
	}
	return DefaultReadTimeout
}

// EventKind tags an Event.
type EventKind int

const (
	EventStatusChanged EventKind = iota
	EventPollSucceeded
	EventPollFailed
	EventCleared
)

func (k EventKind) String() string {
	switch k {
	case EventStatusChanged:
		return "status"
	case EventPollSucceeded:
		return "poll-succeeded"
	case EventPollFailed:
		return "poll-failed"
	case EventCleared:
		return "cleared"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is emitted to the consumer. Which fields are set depends on Kind:
//
//	StatusChanged: Text
//	PollSucceeded: StartAddress, Values
//	PollFailed:    StartAddress, Text, Err
//	Cleared:       none
type Event struct {
	Kind EventKind
	At   time.Time

	Text string

	StartAddress uint16
	Values       []uint16

	Err error
}

// Lines renders the event for a text log.
func (e Event) Lines() []string {
	switch e.Kind {
	case EventPollSucceeded:
		out := make([]string, 0, len(e.Values)+1)
		out = append(out, "read at "+e.At.Format("15:04:05"))
		for i, v := range e.Values {
			out = append(out, fmt.Sprintf("Address: %d, Data: %d", int(e.StartAddress)+i, v))
		}
		return out
	case EventPollFailed:
		return []string{"no data: " + e.Text}
	case EventCleared:
		return []string{"registers cleared"}
	default:
		return []string{e.Text}
	}
}
