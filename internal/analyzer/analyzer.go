package analyzer

import (
	"github.com/fieldbus-tools/vibro-sentinel/internal/domain/fault"
)

// Config are the classification parameters of one channel.
type Config struct {
	// Warning, Alarm and Critical are the ordered escalation boundaries in
	// the channel's engineering unit.
	Warning  float64
	Alarm    float64
	Critical float64
	// Hysteresis is subtracted from a level's own threshold before
	// de-escalation from it is considered.
	Hysteresis float64
	// Window is the sliding-window capacity in samples.
	Window int
	// EscalateRun is the consecutive qualifying samples required to move up
	// one level.
	EscalateRun int
	// DeescalateRun is the consecutive qualifying samples required to move
	// down one level.
	DeescalateRun int
	// StrictEscalation requires a sample strictly above the threshold to
	// qualify; the default counts equality as qualifying.
	StrictEscalation bool
}

// Analyzer classifies one channel's stream of physical values into a fault
// level. It owns the channel's window and run counters exclusively; the
// state lives for the process lifetime and is rebuilt from scratch after a
// restart.
type Analyzer struct {
	cfg      Config
	window   []float64
	level    fault.Level
	overRun  int
	underRun int
}

// New returns an analyzer starting at Normal with an empty window.
func New(cfg Config) *Analyzer {
	return &Analyzer{
		cfg:    cfg,
		window: make([]float64, 0, cfg.Window),
	}
}

// threshold returns the boundary guarding entry into the given level.
func (a *Analyzer) threshold(level fault.Level) float64 {
	switch level {
	case fault.LevelWarning:
		return a.cfg.Warning
	case fault.LevelAlarm:
		return a.cfg.Alarm
	default:
		return a.cfg.Critical
	}
}

// Classify folds one sample into the channel state and returns the level.
//
// Escalation moves one level at a time: the sample must reach the next
// level's threshold for EscalateRun consecutive samples, and the counters
// re-arm after each step, so even a hard spike walks up level by level.
// De-escalation requires the sample to stay strictly below the current
// level's threshold minus the hysteresis margin for DeescalateRun
// consecutive samples, which rejects chatter at the boundary.
func (a *Analyzer) Classify(value float64) fault.Level {
	a.window = append(a.window, value)
	if len(a.window) > a.cfg.Window {
		a.window = a.window[1:]
	}

	qualifiesUp := false

	if a.level < fault.LevelCritical {
		next := a.threshold(a.level + 1)
		if a.cfg.StrictEscalation {
			qualifiesUp = value > next
		} else {
			qualifiesUp = value >= next
		}
	}

	qualifiesDown := false
	if a.level > fault.LevelNormal {
		qualifiesDown = value < a.threshold(a.level)-a.cfg.Hysteresis
	}

	if qualifiesUp {
		a.overRun++
	} else {
		a.overRun = 0
	}

	if qualifiesDown {
		a.underRun++
	} else {
		a.underRun = 0
	}

	switch {
	case qualifiesUp && a.overRun >= a.cfg.EscalateRun:
		a.level++
		a.overRun, a.underRun = 0, 0
	case qualifiesDown && a.underRun >= a.cfg.DeescalateRun:
		a.level--
		a.overRun, a.underRun = 0, 0
	}

	return a.level
}

// Level returns the current fault level without consuming a sample.
func (a *Analyzer) Level() fault.Level {
	return a.level
}

// Mean returns the average of the values currently in the window, 0 when
// the window is empty. Used for heartbeat logging and status output.
func (a *Analyzer) Mean() float64 {
	if len(a.window) == 0 {
		return 0
	}

	var sum float64
	for _, v := range a.window {
		sum += v
	}

	return sum / float64(len(a.window))
}

// Set groups per-channel analyzers under their channel ids.
type Set struct {
	analyzers map[string]*Analyzer
}

// NewSet builds one analyzer per configured channel.
func NewSet(configs map[string]Config) *Set {
	s := &Set{analyzers: make(map[string]*Analyzer, len(configs))}
	for id, cfg := range configs {
		s.analyzers[id] = New(cfg)
	}

	return s
}

// Classify routes a sample to its channel's analyzer. Samples for unknown
// channels classify as Normal; the configuration is immutable after start,
// so this only happens on programmer error.
func (s *Set) Classify(channel string, value float64) fault.Level {
	if a, ok := s.analyzers[channel]; ok {
		return a.Classify(value)
	}

	return fault.LevelNormal
}

// Level returns a channel's current level without consuming a sample.
func (s *Set) Level(channel string) fault.Level {
	if a, ok := s.analyzers[channel]; ok {
		return a.Level()
	}

	return fault.LevelNormal
}

// Mean returns a channel's current window average.
func (s *Set) Mean(channel string) float64 {
	if a, ok := s.analyzers[channel]; ok {
		return a.Mean()
	}

	return 0
}
