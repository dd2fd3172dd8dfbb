// internal/status/text.go
package status

import (
	"fmt"
	"time"
)

// Operator-facing status lines.

const (
	TextReady          = "ready"
	TextDisconnected   = "disconnected"
	TextPollingStopped = "polling stopped"
)

// TextConnected reports an open connection to address.
func TextConnected(address string) string {
	return "connected: " + address
}

// TextConnectFailed reports a failed connect attempt.
func TextConnectFailed(err error) string {
	return fmt.Sprintf("connect failed: %v", err)
}

// TextPolling reports the armed poll geometry.
func TextPolling(interval time.Duration, start, length uint16) string {
	return fmt.Sprintf("polling every %s: address %d, length %d", interval, start, length)
}
