// Package alarm implements the vibro-alarmd daemon: a fixed-interval
// actuation loop that consumes the fault state published by the sensor
// daemon and drives the alarm outputs on the PLC through debounced Modbus
// register writes.
package alarm
