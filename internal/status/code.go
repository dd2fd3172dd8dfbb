// internal/status/code.go
package status

import "errors"

// Errors describe themselves to ErrorCode through these methods, so status
// does not depend on the transport package.
type (
	exceptionCoder interface{ ExceptionCode() uint16 }
	transportClass interface{ TransportClass() uint16 }
)

// ErrorCode maps err onto the one-register LastErrorCode:
//
//	0                          no error
//	1..255                     Modbus exception code reported by the device
//	CodeTransportBase + class  transport failure (timeout, refused, ...)
//	CodeGeneric                anything else
func ErrorCode(err error) uint16 {
	if err == nil {
		return 0
	}

	var ex exceptionCoder
	if errors.As(err, &ex) {
		if code := ex.ExceptionCode(); code != 0 {
			return code
		}
	}

	var tc transportClass
	if errors.As(err, &tc) {
		return CodeTransportBase + tc.TransportClass()
	}

	return CodeGeneric
}
