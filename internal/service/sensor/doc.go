// Package sensor implements the vibro-sensord daemon: a fixed-interval
// poll loop that reads vibration registers over Modbus, classifies every
// channel into a fault level and publishes the combined fault state for the
// alarm daemon to consume.
package sensor
