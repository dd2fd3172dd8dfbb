// internal/config/normalize.go
package config

import "strings"

const (
	DefaultHost             = "127.0.0.1"
	DefaultPort             = 502
	DefaultSlaveID          = 1
	DefaultConnectTimeoutMs = 3000

	DefaultIntervalMs    = 3000
	DefaultLength        = 8
	DefaultReadTimeoutMs = 1000

	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"
)

// Normalize fills unset fields with defaults.
// It is allowed to mutate configuration.
// It MUST be called before Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	// ---- connection ----

	c := &cfg.Connection
	c.Host = strings.TrimSpace(c.Host)
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.SlaveID == nil {
		id := uint8(DefaultSlaveID)
		c.SlaveID = &id
	}
	if c.ConnectTimeoutMs == 0 {
		c.ConnectTimeoutMs = DefaultConnectTimeoutMs
	}

	// ---- poll ----

	// start_address 0 is a real address, so it has no default to fill.
	p := &cfg.Poll
	if p.IntervalMs == 0 {
		p.IntervalMs = DefaultIntervalMs
	}
	if p.Length == 0 {
		p.Length = DefaultLength
	}
	if p.ReadTimeoutMs == 0 {
		p.ReadTimeoutMs = DefaultReadTimeoutMs
	}

	// ---- log ----

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}

	cfg.Metrics.Listen = strings.TrimSpace(cfg.Metrics.Listen)
}
