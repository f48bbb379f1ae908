// Package fault contains the core domain types for fault classification.
//
// It defines Level (the ordered severity enumeration), ChannelState (one
// channel's latest classification) and Snapshot (the versioned record that
// crosses the process boundary between the sensor and alarm daemons).
package fault
