// internal/session/errors.go
package session

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/goburrow/modbus"
)

// ErrorCode classifies a transport failure.
type ErrorCode uint16

const (
	CodeUnknown ErrorCode = iota
	CodeNotConnected
	CodeRefused
	CodeUnreachable
	CodeTimeout
	CodeResolve
	CodeMalformed
	CodeShortRead
	CodeException
	CodeBusy
	CodeAlreadyConnected
)

func (c ErrorCode) String() string {
	switch c {
	case CodeNotConnected:
		return "not connected"
	case CodeRefused:
		return "connection refused"
	case CodeUnreachable:
		return "unreachable"
	case CodeTimeout:
		return "timeout"
	case CodeResolve:
		return "resolve failed"
	case CodeMalformed:
		return "malformed response"
	case CodeShortRead:
		return "short read"
	case CodeException:
		return "device exception"
	case CodeBusy:
		return "read in flight"
	case CodeAlreadyConnected:
		return "already connected"
	default:
		return "transport error"
	}
}

// TransportError is returned by every failing Session operation.
type TransportError struct {
	Op   string // "connect" or "read"
	Code ErrorCode
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is matches another *TransportError by code, so callers can write
// errors.Is(err, &TransportError{Code: CodeTimeout}).
func (e *TransportError) Is(target error) bool {
	t, ok := target.(*TransportError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// ExceptionCode returns the Modbus exception code carried by the error, or 0.
func (e *TransportError) ExceptionCode() uint16 {
	var me *modbus.ModbusError
	if errors.As(e.Err, &me) {
		return uint16(me.ExceptionCode)
	}
	return 0
}

// TransportClass returns Code as a plain number for status reporting.
func (e *TransportError) TransportClass() uint16 { return uint16(e.Code) }

// IsCode reports whether err is a TransportError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Code == code
}

func transportErr(op string, err error) *TransportError {
	return &TransportError{Op: op, Code: classify(err), Err: err}
}

// classify maps dial/read failures onto ErrorCode.
func classify(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	var me *modbus.ModbusError
	if errors.As(err, &me) {
		return CodeException
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CodeResolve
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return CodeRefused
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return CodeUnreachable
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return CodeMalformed
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return CodeTimeout
	}

	// goburrow reports framing problems as plain "modbus: ..." errors.
	if strings.HasPrefix(err.Error(), "modbus:") {
		return CodeMalformed
	}

	return CodeUnknown
}
