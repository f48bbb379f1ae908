// Package config loads, validates and persists the shared YAML settings of
// both daemons: Modbus link parameters, sensor channel definitions with their
// thresholds, alarm output definitions, and the fault-state handoff contract.
//
// Validation applies defaults in place, so a loaded Config is always fully
// resolved. The core components never read files or environment themselves;
// they are constructed from the resolved Config.
package config
