package fault

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Level is the ordered fault severity of a sensor channel.
// Comparing two levels with < and > compares severity.
type Level int

const (
	// LevelNormal means the channel is within its normal operating range.
	LevelNormal Level = iota
	// LevelWarning means the first threshold has been held long enough to matter.
	LevelWarning
	// LevelAlarm means the second threshold has been held long enough to matter.
	LevelAlarm
	// LevelCritical means the third threshold has been held long enough to matter.
	LevelCritical
	// LevelCommFault means the producer could not read the channel at all.
	// It is assigned by the poll loop, never by the threshold analyzer.
	LevelCommFault
)

// levelNames maps levels to their wire names. The fault-state file stores
// levels by name, not number, so the schema stays readable and extensible.
//
//nolint:gochecknoglobals // Static lookup table.
var levelNames = map[Level]string{
	LevelNormal:    "normal",
	LevelWarning:   "warning",
	LevelAlarm:     "alarm",
	LevelCritical:  "critical",
	LevelCommFault: "comm_fault",
}

// String returns the wire name of the level.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}

	return fmt.Sprintf("level(%d)", int(l))
}

// Valid reports whether the level is one of the defined severities.
func (l Level) Valid() bool {
	_, ok := levelNames[l]

	return ok
}

// ParseLevel converts a wire name back into a Level.
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for level, name := range levelNames {
		if s == name {
			return level, nil
		}
	}

	return LevelNormal, fmt.Errorf("unknown fault level %q", s)
}

// MarshalJSON encodes the level by name.
func (l Level) MarshalJSON() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("cannot marshal %s", l)
	}

	return json.Marshal(l.String())
}

// UnmarshalJSON decodes a level from its name.
func (l *Level) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}

	parsed, err := ParseLevel(name)
	if err != nil {
		return err
	}

	*l = parsed

	return nil
}

// Max returns the more severe of two levels.
func Max(a, b Level) Level {
	if a > b {
		return a
	}

	return b
}
