package engine

import (
	"github.com/fieldbus-tools/vibro-sentinel/internal/domain/fault"
)

// AggregateWorst makes an output follow the maximum severity across all
// channels. Any other Aggregate value names a single channel to follow.
const AggregateWorst = "worst"

// OutputConfig describes one alarm output.
type OutputConfig struct {
	// ID is the logical output name.
	ID string
	// UnitID and Register address the holding register on the alarm device.
	UnitID   uint8
	Register uint16
	// Aggregate is AggregateWorst or a channel id.
	Aggregate string
	// Debounce is how many consecutive agreeing decisions are required
	// before a changed action is emitted.
	Debounce int
	// Actions maps fault levels to register values. A level without an
	// entry leaves the output at its last written value; in particular an
	// output that does not map CommFault holds its alarms on communication
	// loss instead of clearing them.
	Actions map[fault.Level]uint16
	// VerifyReadback asks the actuator to re-read the register after a
	// write.
	VerifyReadback bool
}

// State is the per-output debounce state.
type State int

const (
	// StateIdle: the output is at its clear value with no change pending.
	StateIdle State = iota
	// StatePendingAssert: an assertion is being confirmed.
	StatePendingAssert
	// StateAsserted: the output holds an asserted value, nothing pending.
	StateAsserted
	// StatePendingClear: a clear is being confirmed.
	StatePendingClear
)

// String names the state for logs.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePendingAssert:
		return "pending-assert"
	case StateAsserted:
		return "asserted"
	case StatePendingClear:
		return "pending-clear"
	default:
		return "unknown"
	}
}

// Decision is the engine's verdict for one output on one tick. Only
// decisions with Changed set require a device write; the rest confirm the
// already-applied state.
type Decision struct {
	Output   string
	UnitID   uint8
	Register uint16
	// Value is the register value the output should hold.
	Value uint16
	// Level is the effective fault level that produced the value.
	Level fault.Level
	// Changed reports that the debounce is satisfied and Value differs from
	// what was last confirmed as written.
	Changed bool
	// Verify mirrors the output's read-back setting.
	Verify bool
}

// outputState is the engine-owned runtime state of one output. It lives for
// the process lifetime and is rebuilt after a restart.
type outputState struct {
	cfg           OutputConfig
	state         State
	applied       uint16
	haveApplied   bool
	pending       uint16
	confirmations int
}

// Engine maps fault-state snapshots to debounced output decisions. It is
// pure decision logic: no I/O and no clock, which keeps it trivially
// testable. The debounce is independent of the hysteresis already applied
// upstream; it protects the relays from a flapping fault state, whatever
// its cause.
type Engine struct {
	outputs []*outputState
}

// New builds an engine for the configured outputs.
func New(outputs []OutputConfig) *Engine {
	e := &Engine{outputs: make([]*outputState, 0, len(outputs))}
	for _, cfg := range outputs {
		if cfg.Debounce <= 0 {
			cfg.Debounce = 1
		}

		e.outputs = append(e.outputs, &outputState{cfg: cfg})
	}

	return e
}

// Decide evaluates one snapshot against every output. A stale or missing
// snapshot is treated as CommFault for decision purposes: the engine fails
// toward alarm indication, never toward a silent all-clear.
func (e *Engine) Decide(snapshot *fault.Snapshot, stale bool) []Decision {
	decisions := make([]Decision, 0, len(e.outputs))
	for _, out := range e.outputs {
		decisions = append(decisions, out.decide(snapshot, stale))
	}

	return decisions
}

// Confirm records a decision's value as actually written. The engine does
// not advance its applied state on its own: a failed device write keeps the
// change pending, so the next tick re-emits it.
func (e *Engine) Confirm(d Decision) {
	for _, out := range e.outputs {
		if out.cfg.ID == d.Output {
			out.applied = d.Value
			out.haveApplied = true
			out.confirmations = 0
			out.state = out.stableState()

			return
		}
	}
}

// StateOf reports an output's debounce state.
func (e *Engine) StateOf(output string) State {
	for _, out := range e.outputs {
		if out.cfg.ID == output {
			return out.state
		}
	}

	return StateIdle
}

// decide runs one debounce step for the output.
func (o *outputState) decide(snapshot *fault.Snapshot, stale bool) Decision {
	level := o.effectiveLevel(snapshot, stale)

	d := Decision{
		Output:   o.cfg.ID,
		UnitID:   o.cfg.UnitID,
		Register: o.cfg.Register,
		Level:    level,
		Verify:   o.cfg.VerifyReadback,
		Value:    o.applied,
	}

	desired, mapped := o.cfg.Actions[level]
	if !mapped {
		// No action for this level: hold the last written value.
		o.confirmations = 0
		o.state = o.stableState()

		return d
	}

	d.Value = desired

	if o.haveApplied && desired == o.applied {
		// Agreement with the device: nothing pending.
		o.confirmations = 0
		o.state = o.stableState()

		return d
	}

	// A contradicting sample re-arms the confirmation counter.
	if o.confirmations == 0 || o.pending != desired {
		o.pending = desired
		o.confirmations = 0
	}

	o.confirmations++

	if o.isClear(desired) {
		o.state = StatePendingClear
	} else {
		o.state = StatePendingAssert
	}

	d.Changed = o.confirmations >= o.cfg.Debounce

	return d
}

// effectiveLevel resolves the level driving this output.
func (o *outputState) effectiveLevel(snapshot *fault.Snapshot, stale bool) fault.Level {
	if stale || snapshot == nil {
		return fault.LevelCommFault
	}

	if o.cfg.Aggregate == AggregateWorst || o.cfg.Aggregate == "" {
		return snapshot.WorstLevel()
	}

	return snapshot.LevelOf(o.cfg.Aggregate)
}

// isClear reports whether a value is the output's configured Normal action.
func (o *outputState) isClear(value uint16) bool {
	clear, ok := o.cfg.Actions[fault.LevelNormal]

	return ok && value == clear
}

// stableState is the resting state matching the applied value.
func (o *outputState) stableState() State {
	if !o.haveApplied || o.isClear(o.applied) {
		return StateIdle
	}

	return StateAsserted
}
