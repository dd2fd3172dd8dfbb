// internal/session/session.go
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"github.com/rs/zerolog"
)

// DefaultConnectTimeout bounds the TCP dial when ConnectionParams leaves it unset.
const DefaultConnectTimeout = 3 * time.Second

// ConnectionParams identifies one slave device.
// Immutable once a connection attempt is started.
type ConnectionParams struct {
	Host    string
	Port    uint16
	SlaveID uint8

	ConnectTimeout time.Duration
}

// Address returns host:port.
func (p ConnectionParams) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(int(p.Port)))
}

// Validate checks that the parameters can be dialed.
func (p ConnectionParams) Validate() error {
	if p.Host == "" {
		return errors.New("host required")
	}
	if p.Port == 0 {
		return errors.New("port required")
	}
	if p.ConnectTimeout < 0 {
		return errors.New("connect timeout must be >= 0")
	}
	return nil
}

// Options tunes a Session.
type Options struct {
	// TraceFrames logs every request/response ADU at debug level.
	TraceFrames bool
}

// Session wraps one Modbus TCP connection to a slave device.
//
// The transport handle is created by Connect and destroyed by Disconnect;
// it is never reused across a reconnect. At most one ReadRegisters call
// runs at a time; a concurrent call fails with CodeBusy instead of queueing.
type Session struct {
	log  zerolog.Logger
	opts Options

	mu      sync.RWMutex // guards handler/client/params; read-held for a whole read
	handler *modbus.TCPClientHandler
	client  modbus.Client
	params  ConnectionParams

	busy sync.Mutex // held for the duration of one read
}

// New creates a disconnected session.
func New(logger zerolog.Logger, opts Options) *Session {
	return &Session{
		log:  logger.With().Str("component", "session").Logger(),
		opts: opts,
	}
}

// Connect dials the slave and binds the slave id.
// On failure the session holds no handle.
func (s *Session) Connect(ctx context.Context, p ConnectionParams) error {
	if err := p.Validate(); err != nil {
		return &TransportError{Op: "connect", Code: CodeUnknown, Err: err}
	}

	if s.Connected() {
		return &TransportError{Op: "connect", Code: CodeAlreadyConnected}
	}

	timeout := p.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	h := modbus.NewTCPClientHandler(p.Address())
	h.SlaveId = p.SlaveID
	h.Timeout = timeout
	// Keep the single connection open for the lifetime of the session.
	h.IdleTimeout = 0
	if s.opts.TraceFrames {
		h.Logger = log.New(s.log.With().Str("stream", "frames").Logger(), "", 0)
	}

	s.log.Debug().Str("address", p.Address()).Uint8("slave_id", p.SlaveID).Msg("dialing")

	done := make(chan error, 1)
	go func() {
		done <- h.Connect()
	}()

	select {
	case err := <-done:
		if err != nil {
			_ = h.Close()
			return transportErr("connect", err)
		}
	case <-ctx.Done():
		// Release the handle once the abandoned dial returns.
		go func() {
			<-done
			_ = h.Close()
		}()
		return &TransportError{Op: "connect", Code: CodeTimeout, Err: ctx.Err()}
	}

	s.mu.Lock()
	s.handler = h
	s.client = modbus.NewClient(h)
	s.params = p
	s.mu.Unlock()

	s.log.Info().Str("address", p.Address()).Uint8("slave_id", p.SlaveID).Msg("connected")
	return nil
}

// Disconnect releases the transport handle. Safe to call when not connected.
// Close errors are logged and swallowed.
func (s *Session) Disconnect() {
	s.mu.Lock()
	h := s.handler
	addr := s.params.Address()
	s.handler = nil
	s.client = nil
	s.params = ConnectionParams{}
	s.mu.Unlock()

	if h == nil {
		return
	}

	// Blocks until an in-flight request on this handle has returned.
	if err := h.Close(); err != nil {
		s.log.Warn().Err(err).Str("address", addr).Msg("close failed")
		return
	}
	s.log.Debug().Str("address", addr).Msg("disconnected")
}

// Connected reports whether a transport handle is held.
func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handler != nil
}

// ReadRegisters reads length holding registers starting at start (FC 3).
// The response timeout is applied before every read.
func (s *Session) ReadRegisters(start, length uint16, timeout time.Duration) ([]uint16, error) {
	if !s.busy.TryLock() {
		return nil, &TransportError{Op: "read", Code: CodeBusy}
	}
	defer s.busy.Unlock()

	// Disconnect waits for this read, so the handle cannot be closed
	// underneath it (goburrow would silently redial a closed handle).
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, client := s.handler, s.client
	if h == nil {
		return nil, &TransportError{Op: "read", Code: CodeNotConnected}
	}
	if length == 0 {
		return nil, &TransportError{Op: "read", Code: CodeUnknown, Err: errors.New("quantity must be > 0")}
	}

	if timeout > 0 {
		h.Timeout = timeout
	}

	raw, err := client.ReadHoldingRegisters(start, length)
	if err != nil {
		te := transportErr("read", err)
		if te.Code == CodeTimeout || te.Code == CodeMalformed {
			s.resetStream(h, te)
		}
		return nil, te
	}

	regs, err := decodeRegisters(raw, length)
	if err != nil {
		return nil, err
	}
	return regs, nil
}

// resetStream drops the TCP stream after a timeout or a garbled reply, so a
// late response cannot be matched against the next request. The handler
// stays bound and goburrow redials on the next read.
func (s *Session) resetStream(h *modbus.TCPClientHandler, cause *TransportError) {
	if err := h.Close(); err != nil {
		s.log.Warn().Err(err).Msg("stream reset failed")
		return
	}
	s.log.Debug().Stringer("cause", cause.Code).Msg("stream reset")
}

// decodeRegisters unpacks big-endian registers and insists on exactly length values.
func decodeRegisters(raw []byte, length uint16) ([]uint16, error) {
	want := int(length) * 2

	if len(raw) < want {
		return nil, &TransportError{
			Op:   "read",
			Code: CodeShortRead,
			Err:  fmt.Errorf("got %d registers, want %d", len(raw)/2, length),
		}
	}
	if len(raw) != want {
		return nil, &TransportError{
			Op:   "read",
			Code: CodeMalformed,
			Err:  fmt.Errorf("payload is %d bytes, want %d", len(raw), want),
		}
	}

	out := make([]uint16, length)
	for i := range out {
		out[i] = uint16(raw[2*i])<<8 | uint16(raw[2*i+1])
	}
	return out, nil
}
