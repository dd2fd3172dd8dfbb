// internal/status/constants.go
package status

// ---- HEALTH CODES ----

// HealthUnknown represents a connected device that has not been polled yet.
const HealthUnknown uint16 = 0

// HealthOK represents a device whose last poll succeeded.
const HealthOK uint16 = 1

// HealthError represents a device whose last poll or connect attempt failed.
const HealthError uint16 = 2

// HealthDisconnected represents no active connection.
const HealthDisconnected uint16 = 4

// ---- ERROR CODES ----

// CodeGeneric is reported for errors that carry no code of their own.
const CodeGeneric uint16 = 1

// CodeTransportBase offsets transport error classes away from Modbus
// exception codes (1..255), so both fit in one register-sized value.
const CodeTransportBase uint16 = 0x100
