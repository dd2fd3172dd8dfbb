// internal/config/config.go
package config

type Config struct {
	Connection ConnectionConfig `yaml:"connection"`
	Poll       PollConfig       `yaml:"poll"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ---- CONNECTION ----

type ConnectionConfig struct {
	Host             string `yaml:"host"`
	Port             uint16 `yaml:"port"`
	SlaveID          *uint8 `yaml:"slave_id"` // 0 is a valid unit id on gateways
	ConnectTimeoutMs int    `yaml:"connect_timeout_ms"`
}

// ---- POLL ----

type PollConfig struct {
	IntervalMs    int    `yaml:"interval_ms"`
	StartAddress  uint16 `yaml:"start_address"`
	Length        uint16 `yaml:"length"`
	ReadTimeoutMs int    `yaml:"read_timeout_ms"`

	// Connect and start polling as soon as the process is up.
	Autostart bool `yaml:"autostart"`
}

// ---- LOG ----

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // console | json

	// Trace every Modbus frame at debug level.
	Frames bool `yaml:"frames"`
}

// ---- METRICS ----

type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty disables the /metrics endpoint
}
