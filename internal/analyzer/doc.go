// Package analyzer turns raw streams of physical sensor values into fault
// levels with a sliding window, consecutive-run escalation and hysteresis on
// de-escalation. It is pure state-machine logic: no I/O, no clocks. A
// communication failure never reaches the analyzer; the poll loop signals it
// with a distinct CommFault level instead.
package analyzer
