package fault

import "time"

// SchemaVersion is the current version of the fault-state file contract.
// Producer and consumer run as separate processes with no shared code at
// runtime, so the schema is versioned explicitly.
const SchemaVersion = 1

// ChannelState is the latest classified state of one sensor channel.
type ChannelState struct {
	// Channel is the logical channel id, e.g. "crank_left".
	Channel string `json:"channel"`
	// Level is the classified fault severity.
	Level Level `json:"level"`
	// Value is the derived physical value that produced the level, in the
	// channel's engineering unit (mm/s for vibration speed).
	Value float64 `json:"value"`
	// Timestamp is when the channel was last successfully evaluated.
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is the full fault state crossing the process boundary.
// It is written exclusively by vibro-sensord and read-only to vibro-alarmd.
type Snapshot struct {
	// Version is the schema version of the record.
	Version int `json:"version"`
	// Sequence increases strictly with every publish.
	Sequence uint64 `json:"sequence"`
	// Timestamp is when the snapshot was published. The reader compares it
	// against its own clock to detect a stopped or stuck producer.
	Timestamp time.Time `json:"timestamp"`
	// Channels maps channel id to its latest state.
	Channels map[string]ChannelState `json:"channels"`
}

// NewSnapshot returns an empty snapshot at the current schema version.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Version:  SchemaVersion,
		Channels: make(map[string]ChannelState),
	}
}

// Clone returns a deep copy of the snapshot to avoid leaking internal references.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}

	cloned := &Snapshot{
		Version:   s.Version,
		Sequence:  s.Sequence,
		Timestamp: s.Timestamp,
		Channels:  make(map[string]ChannelState, len(s.Channels)),
	}
	for id, ch := range s.Channels {
		cloned.Channels[id] = ch
	}

	return cloned
}

// WorstLevel returns the maximum severity across all channels.
// An empty snapshot is Normal.
func (s *Snapshot) WorstLevel() Level {
	worst := LevelNormal
	for _, ch := range s.Channels {
		worst = Max(worst, ch.Level)
	}

	return worst
}

// LevelOf returns the level of a single channel,
// Normal when the channel is not present.
func (s *Snapshot) LevelOf(channel string) Level {
	if ch, ok := s.Channels[channel]; ok {
		return ch.Level
	}

	return LevelNormal
}
