// Package faultstate implements the durable fault-state handoff between the
// sensor and alarm daemons.
//
// The FileStore writes the state as JSON via an atomic temp-file-and-rename
// replace, stamps every record with a strictly increasing sequence number,
// and reports records older than the configured maximum age as stale. It is
// the only coordination point between the two processes.
package faultstate
