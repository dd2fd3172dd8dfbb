// internal/config/params.go
package config

import (
	"time"

	"github.com/tamzrod/modbus-supervisor/internal/coordinator"
	"github.com/tamzrod/modbus-supervisor/internal/session"
)

// ConnectionParams converts the connection section.
// cfg must have been normalized.
func (c *Config) ConnectionParams() session.ConnectionParams {
	return session.ConnectionParams{
		Host:           c.Connection.Host,
		Port:           c.Connection.Port,
		SlaveID:        *c.Connection.SlaveID,
		ConnectTimeout: ms(c.Connection.ConnectTimeoutMs),
	}
}

// PollParams converts the poll section.
func (c *Config) PollParams() coordinator.PollParams {
	return coordinator.PollParams{
		Interval:     ms(c.Poll.IntervalMs),
		StartAddress: c.Poll.StartAddress,
		Length:       c.Poll.Length,
		ReadTimeout:  ms(c.Poll.ReadTimeoutMs),
	}
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
