package sensor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/fieldbus-tools/vibro-sentinel/internal/config"
	"github.com/fieldbus-tools/vibro-sentinel/internal/domain/fault"
	"github.com/fieldbus-tools/vibro-sentinel/internal/metrics"
	"github.com/fieldbus-tools/vibro-sentinel/internal/modbus"
)

type fakeBus struct {
	handler func(unit uint8, addr, count uint16) ([]uint16, error)
	calls   int
}

func (b *fakeBus) ReadHoldingRegisters(_ context.Context, unit uint8, addr, count uint16) ([]uint16, error) {
	b.calls++

	return b.handler(unit, addr, count)
}

type fakeStore struct {
	published []*fault.Snapshot
	sequence  uint64
	err       error
}

// Publish stamps the record the way the file store does, so tests can
// assert on the sequence the consumer would observe.
func (s *fakeStore) Publish(_ context.Context, snapshot *fault.Snapshot) error {
	if s.err != nil {
		return s.err
	}

	s.sequence++

	record := snapshot.Clone()
	record.Sequence = s.sequence
	record.Timestamp = time.Now()

	s.published = append(s.published, record)

	return nil
}

func (s *fakeStore) Read(_ context.Context) (*fault.Snapshot, error) {
	return nil, errors.New("not implemented")
}

func testConfig() *config.Config {
	channel := func(id string, unit uint8, count uint16) config.Channel {
		return config.Channel{
			ID:       id,
			UnitID:   unit,
			Register: 1,
			Count:    count,
			Scale:    0.01,
			Thresholds: config.Thresholds{
				Warning:  5,
				Alarm:    10,
				Critical: 20,
			},
			Hysteresis:    1,
			Window:        10,
			EscalateRun:   3,
			DeescalateRun: 3,
		}
	}

	return &config.Config{
		PollInterval:       time.Second,
		CommFaultThreshold: 3,
		Channels: []config.Channel{
			channel("crank_left", 1, 1),
			channel("tail_bearing", 3, 3),
		},
	}
}

func TestTickPublishesClassifiedState(t *testing.T) {
	t.Parallel()

	bus := &fakeBus{handler: func(uint8, uint16, uint16) ([]uint16, error) {
		return []uint16{200, 120, 180}, nil
	}}
	store := &fakeStore{}

	svc := newService(testConfig(), bus, store, metrics.New())

	require.NoError(t, svc.tick(context.Background()))
	require.Len(t, store.published, 1)

	snapshot := store.published[0]
	require.Len(t, snapshot.Channels, 2)
	require.Equal(t, fault.LevelNormal, snapshot.Channels["crank_left"].Level)
	require.InDelta(t, 2.0, snapshot.Channels["crank_left"].Value, 1e-9)
	require.Equal(t, uint64(1), snapshot.Sequence)
}

func TestMultiRegisterWorstAxisWins(t *testing.T) {
	t.Parallel()

	bus := &fakeBus{handler: func(unit uint8, _, count uint16) ([]uint16, error) {
		if count == 3 {
			return []uint16{100, 700, 300}, nil
		}

		return []uint16{100}, nil
	}}
	store := &fakeStore{}

	svc := newService(testConfig(), bus, store, metrics.New())

	require.NoError(t, svc.tick(context.Background()))
	require.InDelta(t, 7.0, store.published[0].Channels["tail_bearing"].Value, 1e-9)
}

func TestCommFaultAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	bus := &fakeBus{handler: func(unit uint8, _, _ uint16) ([]uint16, error) {
		if unit == 1 {
			return nil, errors.New("timeout")
		}

		return []uint16{150, 150, 150}, nil
	}}
	store := &fakeStore{}

	svc := newService(testConfig(), bus, store, metrics.New())

	// Two failures are below the threshold: the channel simply has no
	// state yet, it must not be reported as comm fault.
	for i := 0; i < 2; i++ {
		require.NoError(t, svc.tick(context.Background()))
	}

	_, present := store.published[1].Channels["crank_left"]
	require.False(t, present)

	require.NoError(t, svc.tick(context.Background()))

	state := store.published[2].Channels["crank_left"]
	require.Equal(t, fault.LevelCommFault, state.Level)

	// The healthy channel is unaffected.
	require.Equal(t, fault.LevelNormal, store.published[2].Channels["tail_bearing"].Level)
}

func TestCommFaultRetainsLastValue(t *testing.T) {
	t.Parallel()

	failing := false
	bus := &fakeBus{handler: func(uint8, uint16, uint16) ([]uint16, error) {
		if failing {
			return nil, errors.New("timeout")
		}

		return []uint16{300, 300, 300}, nil
	}}
	store := &fakeStore{}

	svc := newService(testConfig(), bus, store, metrics.New())

	require.NoError(t, svc.tick(context.Background()))

	failing = true
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.tick(context.Background()))
	}

	state := store.published[3].Channels["crank_left"]
	require.Equal(t, fault.LevelCommFault, state.Level)
	require.InDelta(t, 3.0, state.Value, 1e-9)
}

func TestRecoveryResetsFailureCount(t *testing.T) {
	t.Parallel()

	failures := 0
	bus := &fakeBus{handler: func(uint8, uint16, uint16) ([]uint16, error) {
		if failures > 0 {
			failures--

			return nil, errors.New("timeout")
		}

		return []uint16{100, 100, 100}, nil
	}}
	store := &fakeStore{}

	svc := newService(testConfig(), bus, store, metrics.New())

	// Two failures, then recovery, then two more failures: the threshold
	// of three consecutive failures is never reached.
	failures = 2

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.tick(context.Background()))
	}

	failures = 2

	for i := 0; i < 2; i++ {
		require.NoError(t, svc.tick(context.Background()))
	}

	for _, snapshot := range store.published {
		if state, ok := snapshot.Channels["crank_left"]; ok {
			require.NotEqual(t, fault.LevelCommFault, state.Level)
		}
	}
}

func TestTickBudgetSkipsRemainingChannels(t *testing.T) {
	t.Parallel()

	bus := &fakeBus{handler: func(uint8, uint16, uint16) ([]uint16, error) {
		return []uint16{100, 100, 100}, nil
	}}
	store := &fakeStore{}

	svc := newService(testConfig(), bus, store, metrics.New())

	// The clock advances 600ms per reading against a 1s budget: the first
	// channel fits, the second one is already past the deadline.
	base := time.Now()
	calls := 0
	svc.now = func() time.Time {
		calls++

		return base.Add(time.Duration(calls) * 600 * time.Millisecond)
	}

	require.NoError(t, svc.tick(context.Background()))
	require.Equal(t, 1, bus.calls)

	snapshot := store.published[0]
	_, present := snapshot.Channels["tail_bearing"]
	require.False(t, present)
}

func TestTransportErrorsCountedByKind(t *testing.T) {
	t.Parallel()

	var busErr error

	bus := &fakeBus{handler: func(uint8, uint16, uint16) ([]uint16, error) {
		if busErr != nil {
			return nil, busErr
		}

		return []uint16{100, 100, 100}, nil
	}}
	store := &fakeStore{}

	m := metrics.New()
	svc := newService(testConfig(), bus, store, m)

	busErr = fmt.Errorf("%w: no response", modbus.ErrTimeout)
	require.NoError(t, svc.tick(context.Background()))

	busErr = modbus.ErrCRC
	require.NoError(t, svc.tick(context.Background()))

	busErr = &modbus.ExceptionError{Function: modbus.FnReadHoldingRegisters, Code: modbus.ExBadAddress}
	require.NoError(t, svc.tick(context.Background()))

	// Two channels per tick, both failing.
	require.Equal(t, float64(2), testutil.ToFloat64(m.TransportErrors.WithLabelValues("timeout")))
	require.Equal(t, float64(2), testutil.ToFloat64(m.TransportErrors.WithLabelValues("crc")))
	require.Equal(t, float64(2), testutil.ToFloat64(m.TransportErrors.WithLabelValues("exception")))
	require.Equal(t, float64(0), testutil.ToFloat64(m.TransportErrors.WithLabelValues("connection")))
}

func TestPublishErrorIsReturned(t *testing.T) {
	t.Parallel()

	bus := &fakeBus{handler: func(uint8, uint16, uint16) ([]uint16, error) {
		return []uint16{100}, nil
	}}
	store := &fakeStore{err: errors.New("disk full")}

	svc := newService(testConfig(), bus, store, metrics.New())

	require.Error(t, svc.tick(context.Background()))
}
