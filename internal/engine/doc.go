// Package engine turns fault-state snapshots into debounced alarm output
// decisions. Each output runs a small state machine that requires a number
// of consecutive agreeing decisions before a register write is emitted, and
// that fails toward alarm indication when the fault state is stale or the
// sensors report a communication fault.
package engine
