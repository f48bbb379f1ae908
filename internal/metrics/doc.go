// Package metrics defines the Prometheus instrumentation for the sensor
// and alarm daemons and serves it over HTTP.
package metrics
