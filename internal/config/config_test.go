package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// validConfig returns a minimal configuration that passes validation.
func validConfig() *Config {
	return &Config{
		SensorBus: Bus{
			Mode:   BusModeRTU,
			Device: "/dev/ttyS2",
		},
		Channels: []Channel{
			{
				ID:         "crank_left",
				UnitID:     1,
				Register:   1,
				Count:      3,
				Scale:      0.01,
				Thresholds: Thresholds{Warning: 5, Alarm: 10, Critical: 20},
				Hysteresis: 1,
			},
		},
		Outputs: []Output{
			{
				ID:       "overall_level",
				UnitID:   9,
				Register: 3502,
				Actions: map[string]uint16{
					"normal":   0,
					"warning":  1,
					"alarm":    2,
					"critical": 3,
				},
			},
		},
	}
}

// TestValidateDefaults checks that validation fills in every default.
func TestValidateDefaults(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	require.NoError(t, Validate(cfg))

	require.Equal(t, DefaultBaudrate, cfg.SensorBus.Baudrate)
	require.Equal(t, DefaultTimeout, cfg.SensorBus.Timeout)
	require.Equal(t, DefaultMaxRetries, cfg.SensorBus.MaxRetries)
	require.Equal(t, DefaultPollInterval, cfg.PollInterval)
	require.Equal(t, DefaultActuateInterval, cfg.ActuateInterval)
	require.Equal(t, 5*time.Second, cfg.StateMaxAge)
	require.Equal(t, DefaultCommFaultThreshold, cfg.CommFaultThreshold)
	require.Equal(t, DefaultStateFilename, cfg.StateFile)

	require.Equal(t, 10, cfg.Channels[0].Window)
	require.Equal(t, 3, cfg.Channels[0].EscalateRun)
	require.Equal(t, 3, cfg.Channels[0].DeescalateRun)

	require.Equal(t, AggregationWorst, cfg.Outputs[0].Aggregate)
	require.Equal(t, DefaultDebounce, cfg.Outputs[0].Debounce)
}

// TestValidateRejects covers the broken configurations Validate must refuse.
func TestValidateRejects(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*Config){
		"nil bus mode": func(c *Config) {
			c.SensorBus.Mode = ""
		},
		"rtu without device": func(c *Config) {
			c.SensorBus.Device = ""
		},
		"tcp without address": func(c *Config) {
			c.SensorBus = Bus{Mode: BusModeTCP}
		},
		"no channels": func(c *Config) {
			c.Channels = nil
		},
		"duplicate channel id": func(c *Config) {
			c.Channels = append(c.Channels, c.Channels[0])
		},
		"zero unit id": func(c *Config) {
			c.Channels[0].UnitID = 0
		},
		"unordered thresholds": func(c *Config) {
			c.Channels[0].Thresholds = Thresholds{Warning: 10, Alarm: 5, Critical: 20}
		},
		"negative hysteresis": func(c *Config) {
			c.Channels[0].Hysteresis = -1
		},
		"no outputs": func(c *Config) {
			c.Outputs = nil
		},
		"output without actions": func(c *Config) {
			c.Outputs[0].Actions = nil
		},
		"output with unknown action level": func(c *Config) {
			c.Outputs[0].Actions = map[string]uint16{"meltdown": 5}
		},
		"output bound to unknown channel": func(c *Config) {
			c.Outputs[0].Aggregate = "no_such_channel"
		},
	}

	for name, mutate := range cases {
		mutate := mutate
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			mutate(cfg)
			require.Error(t, Validate(cfg))
		})
	}
}

// TestSaveLoadRoundtrip ensures settings survive a write/read cycle.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")

	cfg := validConfig()
	cfg.LogLevel = "debug"
	cfg.StateFile = filepath.Join(t.TempDir(), "fault-state.json")

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.LogLevel, loaded.LogLevel)
	require.Equal(t, cfg.StateFile, loaded.StateFile)
	require.Equal(t, cfg.Channels, loaded.Channels)
	require.Equal(t, cfg.Outputs, loaded.Outputs)
}

// TestBusFor picks the alarm bus only when one is configured.
func TestBusFor(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	require.NoError(t, Validate(cfg))
	require.Equal(t, cfg.SensorBus, cfg.BusFor(true))

	cfg.AlarmBus = &Bus{Mode: BusModeTCP, Address: "10.0.0.7:502"}
	require.NoError(t, Validate(cfg))
	require.Equal(t, *cfg.AlarmBus, cfg.BusFor(true))
	require.Equal(t, cfg.SensorBus, cfg.BusFor(false))
}
