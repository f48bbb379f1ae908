package alarm

import (
	"context"
	"errors"
	"time"

	"github.com/fieldbus-tools/vibro-sentinel/internal/config"
	"github.com/fieldbus-tools/vibro-sentinel/internal/domain/fault"
	"github.com/fieldbus-tools/vibro-sentinel/internal/engine"
	"github.com/fieldbus-tools/vibro-sentinel/internal/logger"
	"github.com/fieldbus-tools/vibro-sentinel/internal/metrics"
	"github.com/fieldbus-tools/vibro-sentinel/internal/repository/faultstate"
)

// registerWriter is the slice of the Modbus link the actuator needs. Reads
// are only used for write verification.
type registerWriter interface {
	WriteRegister(ctx context.Context, unit uint8, addr, value uint16) error
	ReadHoldingRegisters(ctx context.Context, unit uint8, addr, count uint16) ([]uint16, error)
}

// service owns one actuation loop: it consumes the published fault state,
// runs the decision engine and writes the changed outputs to the alarm
// device.
type service struct {
	cfg     *config.Config
	bus     registerWriter
	store   faultstate.Store
	engine  *engine.Engine
	metrics *metrics.Metrics
	now     func() time.Time
	// lastSequence detects a fault state that stopped advancing between
	// timestamp-based staleness checks.
	lastSequence uint64
}

func newService(cfg *config.Config, bus registerWriter, store faultstate.Store, m *metrics.Metrics) *service {
	outputs := make([]engine.OutputConfig, 0, len(cfg.Outputs))
	for _, out := range cfg.Outputs {
		actions := make(map[fault.Level]uint16, len(out.Actions))

		for name, value := range out.Actions {
			// Validate already rejected unknown level names.
			level, err := fault.ParseLevel(name)
			if err != nil {
				continue
			}

			actions[level] = value
		}

		outputs = append(outputs, engine.OutputConfig{
			ID:             out.ID,
			UnitID:         out.UnitID,
			Register:       out.Register,
			Aggregate:      out.Aggregate,
			Debounce:       out.Debounce,
			Actions:        actions,
			VerifyReadback: out.VerifyReadback,
		})
	}

	return &service{
		cfg:     cfg,
		bus:     bus,
		store:   store,
		engine:  engine.New(outputs),
		metrics: m,
		now:     time.Now,
	}
}

// tick runs one read-decide-write cycle. Device write failures never stop
// the loop: the engine keeps the change pending and the next tick retries.
func (s *service) tick(ctx context.Context) {
	started := s.now()

	snapshot, stale := s.readState(ctx)

	for _, decision := range s.engine.Decide(snapshot, stale) {
		if !decision.Changed {
			continue
		}

		s.apply(ctx, decision)
	}

	s.metrics.Ticks.WithLabelValues("alarm", "ok").Inc()
	s.metrics.TickDuration.WithLabelValues("alarm").Observe(s.now().Sub(started).Seconds())
}

// readState fetches the latest fault state. Missing, unreadable or stale
// state is reported as stale input: the engine fails toward alarm
// indication, never toward a silent all-clear.
func (s *service) readState(ctx context.Context) (*fault.Snapshot, bool) {
	snapshot, err := s.store.Read(ctx)

	switch {
	case err == nil:
	case errors.Is(err, faultstate.ErrStale):
		s.metrics.StaleReads.Inc()
		logger.WarnKV(ctx, "Fault state is stale", "error", err)

		return snapshot, true
	case errors.Is(err, faultstate.ErrNotFound):
		logger.Warn(ctx, "Fault state not published yet")

		return nil, true
	default:
		logger.ErrorKV(ctx, "Read fault state failed", "error", err)

		return nil, true
	}

	if snapshot.Sequence == s.lastSequence {
		// The producer republishes every tick, so a frozen sequence means
		// it stopped while the record is still within the age window.
		logger.WarnKV(ctx, "Fault state sequence is not advancing", "sequence", snapshot.Sequence)
	}

	s.lastSequence = snapshot.Sequence

	return snapshot, false
}

// apply writes one changed decision to the device and confirms it with the
// engine only after the write succeeds.
func (s *service) apply(ctx context.Context, decision engine.Decision) {
	err := s.bus.WriteRegister(ctx, decision.UnitID, decision.Register, decision.Value)
	if err != nil {
		s.metrics.RegisterWrites.WithLabelValues(decision.Output, "error").Inc()
		logger.ErrorKV(ctx, "Output write failed",
			"output", decision.Output,
			"unit", decision.UnitID,
			"register", decision.Register,
			"value", decision.Value,
			"error", err)

		return
	}

	s.metrics.RegisterWrites.WithLabelValues(decision.Output, "ok").Inc()
	s.engine.Confirm(decision)

	logger.InfoKV(ctx, "Output changed",
		"output", decision.Output,
		"level", decision.Level.String(),
		"value", decision.Value)

	if decision.Verify {
		s.verify(ctx, decision)
	}
}

// verify re-reads the register after a write and logs a mismatch. The write
// already succeeded at the protocol level, so a mismatch points at a device
// that rejects or remaps the value.
func (s *service) verify(ctx context.Context, decision engine.Decision) {
	registers, err := s.bus.ReadHoldingRegisters(ctx, decision.UnitID, decision.Register, 1)
	if err != nil {
		logger.WarnKV(ctx, "Read-back failed",
			"output", decision.Output,
			"error", err)

		return
	}

	if len(registers) != 1 || registers[0] != decision.Value {
		logger.ErrorKV(ctx, "Read-back mismatch",
			"output", decision.Output,
			"written", decision.Value,
			"read", registers)
	}
}
