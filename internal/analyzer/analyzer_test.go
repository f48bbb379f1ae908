package analyzer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fieldbus-tools/vibro-sentinel/internal/domain/fault"
)

// referenceConfig mirrors the documented reference scenario:
// thresholds {5, 10, 20}, hysteresis 1, window 5, runs of 3.
func referenceConfig() Config {
	return Config{
		Warning:       5,
		Alarm:         10,
		Critical:      20,
		Hysteresis:    1,
		Window:        5,
		EscalateRun:   3,
		DeescalateRun: 3,
	}
}

// feed pushes samples and returns the level after the last one.
func feed(a *Analyzer, values ...float64) fault.Level {
	var level fault.Level
	for _, v := range values {
		level = a.Classify(v)
	}

	return level
}

// TestStaysNormalBelowWarning: sequences that never reach the warning
// threshold never classify above Normal.
func TestStaysNormalBelowWarning(t *testing.T) {
	t.Parallel()

	a := New(referenceConfig())
	for _, v := range []float64{0, 4.9, 3, 4.99, 1, 4, 2, 4.5, 0.1} {
		require.Equal(t, fault.LevelNormal, a.Classify(v))
	}
}

// TestEscalationRequiresFullRun: escalateRun-1 qualifying samples followed
// by a non-qualifying one must not escalate.
func TestEscalationRequiresFullRun(t *testing.T) {
	t.Parallel()

	a := New(referenceConfig())
	require.Equal(t, fault.LevelNormal, feed(a, 6, 6, 4))

	// The broken run re-arms: two more qualifying samples are not enough.
	require.Equal(t, fault.LevelNormal, feed(a, 6, 6))

	// The third consecutive qualifying sample escalates.
	require.Equal(t, fault.LevelWarning, a.Classify(6))
}

// TestReferenceEscalationScenario: [4,4,6,6,6] transitions to Warning
// exactly at the third consecutive value >= 5.
func TestReferenceEscalationScenario(t *testing.T) {
	t.Parallel()

	a := New(referenceConfig())

	require.Equal(t, fault.LevelNormal, a.Classify(4))
	require.Equal(t, fault.LevelNormal, a.Classify(4))
	require.Equal(t, fault.LevelNormal, a.Classify(6))
	require.Equal(t, fault.LevelNormal, a.Classify(6))
	require.Equal(t, fault.LevelWarning, a.Classify(6))
}

// TestOneLevelPerRun: a hard spike walks up one level per qualifying run,
// never jumping from Normal to Critical.
func TestOneLevelPerRun(t *testing.T) {
	t.Parallel()

	a := New(referenceConfig())

	require.Equal(t, fault.LevelWarning, feed(a, 25, 25, 25))
	require.Equal(t, fault.LevelAlarm, feed(a, 25, 25, 25))
	require.Equal(t, fault.LevelCritical, feed(a, 25, 25, 25))

	// Already at the top: further spikes change nothing.
	require.Equal(t, fault.LevelCritical, feed(a, 25, 25, 25))
}

// TestDeescalationHysteresis: after Critical, samples exactly at
// threshold-margin must NOT de-escalate; only strictly below counts.
func TestDeescalationHysteresis(t *testing.T) {
	t.Parallel()

	a := New(referenceConfig())
	require.Equal(t, fault.LevelCritical, feed(a, 22, 22, 22, 22, 22, 22, 22, 22, 22))

	// 19 == critical(20) - hysteresis(1): boundary case, stays Critical.
	require.Equal(t, fault.LevelCritical, feed(a, 19, 19, 19))

	// Strictly below the margin for a full run de-escalates one level.
	require.Equal(t, fault.LevelAlarm, feed(a, 18.9, 18.9, 18.9))
}

// TestDeescalationRequiresFullRun: a single bounce above the margin re-arms
// the de-escalation counter.
func TestDeescalationRequiresFullRun(t *testing.T) {
	t.Parallel()

	cfg := referenceConfig()
	a := New(cfg)
	require.Equal(t, fault.LevelWarning, feed(a, 6, 6, 6))

	// Two clear undershoots, one bounce, then two more: still Warning.
	require.Equal(t, fault.LevelWarning, feed(a, 3, 3, 4.5, 3, 3))

	// Completing the run de-escalates.
	require.Equal(t, fault.LevelNormal, a.Classify(3))
}

// TestStrictEscalation: with strict inequality a sample equal to the
// threshold does not qualify.
func TestStrictEscalation(t *testing.T) {
	t.Parallel()

	cfg := referenceConfig()
	cfg.StrictEscalation = true
	a := New(cfg)

	require.Equal(t, fault.LevelNormal, feed(a, 5, 5, 5, 5, 5))
	require.Equal(t, fault.LevelWarning, feed(a, 5.1, 5.1, 5.1))
}

// TestWindowMean: the diagnostic mean follows the sliding window.
func TestWindowMean(t *testing.T) {
	t.Parallel()

	a := New(referenceConfig())
	require.Zero(t, a.Mean())

	feed(a, 1, 2, 3)
	require.InDelta(t, 2.0, a.Mean(), 1e-9)

	// Window capacity is 5: the oldest samples fall out.
	feed(a, 4, 4, 4, 4, 4)
	require.InDelta(t, 4.0, a.Mean(), 1e-9)
}

// TestSetRoutesChannels: the set keeps channels independent.
func TestSetRoutesChannels(t *testing.T) {
	t.Parallel()

	s := NewSet(map[string]Config{
		"crank_left":  referenceConfig(),
		"crank_right": referenceConfig(),
	})

	for i := 0; i < 3; i++ {
		s.Classify("crank_left", 6)
		s.Classify("crank_right", 1)
	}

	require.Equal(t, fault.LevelWarning, s.Level("crank_left"))
	require.Equal(t, fault.LevelNormal, s.Level("crank_right"))
	require.Equal(t, fault.LevelNormal, s.Classify("unknown", 100))
}
