package sensor

import (
	"context"
	"errors"
	"time"

	"github.com/fieldbus-tools/vibro-sentinel/internal/analyzer"
	"github.com/fieldbus-tools/vibro-sentinel/internal/config"
	"github.com/fieldbus-tools/vibro-sentinel/internal/domain/fault"
	"github.com/fieldbus-tools/vibro-sentinel/internal/logger"
	"github.com/fieldbus-tools/vibro-sentinel/internal/metrics"
	"github.com/fieldbus-tools/vibro-sentinel/internal/modbus"
	"github.com/fieldbus-tools/vibro-sentinel/internal/repository/faultstate"
)

// registerReader is the slice of the Modbus link the poll loop needs.
type registerReader interface {
	ReadHoldingRegisters(ctx context.Context, unit uint8, addr, count uint16) ([]uint16, error)
}

// service owns one sensor poll loop: it scans the configured channels every
// tick, classifies the readings, and publishes the resulting fault state.
type service struct {
	cfg       *config.Config
	bus       registerReader
	analyzers *analyzer.Set
	store     faultstate.Store
	metrics   *metrics.Metrics
	// failures counts consecutive failed reads per channel.
	failures map[string]int
	// channels holds the last classified state per channel. A channel that
	// could not be read this tick keeps its previous entry, so downstream
	// consumers never see fabricated values.
	channels map[string]fault.ChannelState
	now      func() time.Time
}

func newService(cfg *config.Config, bus registerReader, store faultstate.Store, m *metrics.Metrics) *service {
	configs := make(map[string]analyzer.Config, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		configs[ch.ID] = analyzer.Config{
			Warning:          ch.Thresholds.Warning,
			Alarm:            ch.Thresholds.Alarm,
			Critical:         ch.Thresholds.Critical,
			Hysteresis:       ch.Hysteresis,
			Window:           ch.Window,
			EscalateRun:      ch.EscalateRun,
			DeescalateRun:    ch.DeescalateRun,
			StrictEscalation: ch.StrictEscalation,
		}
	}

	return &service{
		cfg:       cfg,
		bus:       bus,
		analyzers: analyzer.NewSet(configs),
		store:     store,
		metrics:   m,
		failures:  make(map[string]int, len(cfg.Channels)),
		channels:  make(map[string]fault.ChannelState, len(cfg.Channels)),
		now:       time.Now,
	}
}

// tick runs one full scan-classify-publish cycle. It never returns an
// error for a single channel failure; only a failed publication is
// reported, and even that leaves the loop running.
func (s *service) tick(ctx context.Context) error {
	started := s.now()
	deadline := started.Add(s.cfg.PollInterval)

	for _, channel := range s.cfg.Channels {
		// A tick never borrows time from the next one: channels that do
		// not fit into the budget keep their previous state.
		if s.now().After(deadline) {
			logger.WarnKV(ctx, "Tick budget exhausted, skipping remaining channels",
				"channel", channel.ID)
			s.metrics.Ticks.WithLabelValues("sensor", "overrun").Inc()

			break
		}

		s.scanChannel(ctx, channel)
	}

	snapshot := fault.NewSnapshot()
	for id, state := range s.channels {
		snapshot.Channels[id] = state
	}

	if err := s.store.Publish(ctx, snapshot); err != nil {
		s.metrics.PublishErrors.Inc()

		return err
	}

	s.metrics.Ticks.WithLabelValues("sensor", "ok").Inc()
	s.metrics.TickDuration.WithLabelValues("sensor").Observe(s.now().Sub(started).Seconds())

	logger.DebugKV(ctx, "Tick complete",
		"worst", snapshot.WorstLevel().String(),
		"duration", s.now().Sub(started).String())

	return nil
}

// scanChannel reads and classifies one channel.
func (s *service) scanChannel(ctx context.Context, channel config.Channel) {
	registers, err := s.bus.ReadHoldingRegisters(ctx, channel.UnitID, channel.Register, channel.Count)
	if err != nil {
		s.metrics.RegisterReads.WithLabelValues(channel.ID, "error").Inc()
		s.readFailed(ctx, channel, err)

		return
	}

	s.metrics.RegisterReads.WithLabelValues(channel.ID, "ok").Inc()
	s.failures[channel.ID] = 0
	s.metrics.CommFault.WithLabelValues(channel.ID).Set(0)

	// A multi-register channel carries one axis per register; the worst
	// axis drives the classification.
	var raw uint16
	for _, r := range registers {
		if r > raw {
			raw = r
		}
	}

	value := float64(raw) * channel.Scale

	previous := s.channels[channel.ID].Level
	level := s.analyzers.Classify(channel.ID, value)

	s.channels[channel.ID] = fault.ChannelState{
		Channel:   channel.ID,
		Level:     level,
		Value:     value,
		Timestamp: s.now(),
	}

	s.metrics.FaultLevel.WithLabelValues(channel.ID).Set(float64(level))

	logger.DebugKV(ctx, "Channel sample",
		"channel", channel.ID,
		"value", value,
		"mean", s.analyzers.Mean(channel.ID),
		"level", level.String())

	if level != previous {
		logger.InfoKV(ctx, "Channel level changed",
			"channel", channel.ID,
			"from", previous.String(),
			"to", level.String(),
			"value", value)
	}
}

// readFailed records one failed read and flips the channel to CommFault
// once the consecutive-failure threshold is reached. The analyzer never
// sees failures: CommFault is assigned here and the window stays intact for
// when the line recovers.
func (s *service) readFailed(ctx context.Context, channel config.Channel, err error) {
	s.failures[channel.ID]++
	s.metrics.TransportErrors.WithLabelValues(errorKind(err)).Inc()

	// A device exception is a deterministic rejection, not line trouble.
	if exc, ok := modbus.IsException(err); ok {
		logger.WarnKV(ctx, "Channel read rejected by device",
			"channel", channel.ID,
			"unit", channel.UnitID,
			"exception", exc.Code.String(),
			"failures", s.failures[channel.ID])
	} else {
		logger.WarnKV(ctx, "Channel read failed",
			"channel", channel.ID,
			"unit", channel.UnitID,
			"failures", s.failures[channel.ID],
			"error", err)
	}

	if s.failures[channel.ID] < s.cfg.CommFaultThreshold {
		return
	}

	s.metrics.CommFault.WithLabelValues(channel.ID).Set(1)

	previous := s.channels[channel.ID]
	if previous.Level == fault.LevelCommFault {
		return
	}

	logger.ErrorKV(ctx, "Channel in communication fault",
		"channel", channel.ID,
		"failures", s.failures[channel.ID])

	// The last measured value is retained so operators can still see the
	// reading that preceded the loss.
	s.channels[channel.ID] = fault.ChannelState{
		Channel:   channel.ID,
		Level:     fault.LevelCommFault,
		Value:     previous.Value,
		Timestamp: s.now(),
	}

	s.metrics.FaultLevel.WithLabelValues(channel.ID).Set(float64(fault.LevelCommFault))
}

// errorKind buckets a bus failure for the transport error counter.
func errorKind(err error) string {
	if _, ok := modbus.IsException(err); ok {
		return "exception"
	}

	switch {
	case errors.Is(err, modbus.ErrTimeout):
		return "timeout"
	case errors.Is(err, modbus.ErrCRC):
		return "crc"
	case errors.Is(err, modbus.ErrFrame):
		return "frame"
	case errors.Is(err, modbus.ErrConnection):
		return "connection"
	default:
		return "other"
	}
}
