// internal/config/validate.go
package config

import (
	"fmt"

	"github.com/tamzrod/modbus-supervisor/internal/coordinator"
	"github.com/tamzrod/modbus-supervisor/internal/register"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	// ------------------------------------------------------------
	// CONNECTION
	// ------------------------------------------------------------

	c := cfg.Connection
	if c.Host == "" {
		return fmt.Errorf("connection.host is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("connection.port must be 1-65535")
	}
	if c.SlaveID == nil {
		return fmt.Errorf("connection.slave_id is required")
	}
	if c.ConnectTimeoutMs < 0 {
		return fmt.Errorf("connection.connect_timeout_ms must be >= 0, got %d", c.ConnectTimeoutMs)
	}

	// ------------------------------------------------------------
	// POLL GEOMETRY
	// ------------------------------------------------------------

	p := cfg.Poll
	if p.IntervalMs <= 0 {
		return fmt.Errorf("poll.interval_ms must be > 0, got %d", p.IntervalMs)
	}
	if p.Length == 0 {
		return fmt.Errorf("poll.length must be > 0")
	}
	if p.Length > coordinator.MaxReadQuantity {
		return fmt.Errorf(
			"poll.length %d exceeds %d registers per read",
			p.Length,
			coordinator.MaxReadQuantity,
		)
	}
	if int(p.StartAddress)+int(p.Length) > register.Size {
		return fmt.Errorf(
			"poll range start=%d length=%d exceeds address space (%d)",
			p.StartAddress,
			p.Length,
			register.Size,
		)
	}
	if p.ReadTimeoutMs < 0 {
		return fmt.Errorf("poll.read_timeout_ms must be >= 0, got %d", p.ReadTimeoutMs)
	}

	// ------------------------------------------------------------
	// LOG
	// ------------------------------------------------------------

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q: want debug, info, warn or error", cfg.Log.Level)
	}

	switch cfg.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format %q: want console or json", cfg.Log.Format)
	}

	return nil
}
