package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fieldbus-tools/vibro-sentinel/internal/domain/fault"
)

// BusMode selects the Modbus transport variant.
type BusMode string

const (
	// BusModeRTU is Modbus over an asynchronous serial line.
	BusModeRTU BusMode = "rtu"
	// BusModeTCP is Modbus over a TCP socket.
	BusModeTCP BusMode = "tcp"
)

// Bus holds the Modbus link parameters shared by all transactions on one
// physical link.
type Bus struct {
	// Mode is "rtu" or "tcp".
	Mode BusMode `yaml:"mode"`
	// Device is the serial device path for RTU mode, e.g. /dev/ttyS2.
	Device string `yaml:"device,omitempty"`
	// Baudrate is the serial bitrate for RTU mode; framing is fixed 8N1.
	Baudrate int `yaml:"baudrate,omitempty"`
	// Address is the host:port for TCP mode.
	Address string `yaml:"address,omitempty"`
	// Timeout bounds a single request/response transaction.
	Timeout time.Duration `yaml:"timeout"`
	// MaxRetries is how many times a timed-out or garbled transaction is
	// retried before the failure is surfaced.
	MaxRetries int `yaml:"max_retries"`
	// BackoffBase is the initial retry delay; it doubles per attempt.
	BackoffBase time.Duration `yaml:"backoff_base"`
	// BackoffCap is the upper bound on the retry delay.
	BackoffCap time.Duration `yaml:"backoff_cap"`
}

// Thresholds are the three escalation boundaries of a channel, in the
// channel's engineering unit. Severity order: Warning < Alarm < Critical.
type Thresholds struct {
	Warning  float64 `yaml:"warning"`
	Alarm    float64 `yaml:"alarm"`
	Critical float64 `yaml:"critical"`
}

// Channel is the immutable per-channel acquisition and classification
// configuration. It is resolved once at startup and passed by value into the
// components that need it.
type Channel struct {
	// ID is the logical channel name, e.g. "crank_left".
	ID string `yaml:"id"`
	// UnitID is the Modbus slave address of the sensor.
	UnitID uint8 `yaml:"unit_id"`
	// Register is the first holding register to read.
	Register uint16 `yaml:"register"`
	// Count is how many consecutive registers to read. With more than one
	// register (multi-axis sensors) the derived value is the maximum of the
	// scaled registers.
	Count uint16 `yaml:"count"`
	// Scale converts a raw register value to the physical value.
	Scale float64 `yaml:"scale"`
	// Thresholds are the escalation boundaries.
	Thresholds Thresholds `yaml:"thresholds"`
	// Hysteresis is subtracted from a threshold before de-escalation is
	// considered, to reject chatter at the boundary.
	Hysteresis float64 `yaml:"hysteresis"`
	// Window is the sliding-window capacity in samples.
	Window int `yaml:"window"`
	// EscalateRun is how many consecutive over-threshold samples are needed
	// to move up one level.
	EscalateRun int `yaml:"escalate_run"`
	// DeescalateRun is how many consecutive under-threshold samples are
	// needed to move down one level.
	DeescalateRun int `yaml:"deescalate_run"`
	// StrictEscalation makes a sample qualify only when it is strictly above
	// the threshold. The default (false) counts samples equal to the
	// threshold as qualifying; confirm against the device during integration.
	StrictEscalation bool `yaml:"strict_escalation,omitempty"`
}

// AggregationWorst makes an output follow the maximum severity across all
// channels instead of a single channel.
const AggregationWorst = "worst"

// Output is one alarm output: a holding register on the alarm RTU/PLC driven
// from the aggregated or per-channel fault level.
type Output struct {
	// ID is the logical output name, e.g. "overall_level" or "siren".
	ID string `yaml:"id"`
	// UnitID is the Modbus slave address of the alarm device.
	UnitID uint8 `yaml:"unit_id"`
	// Register is the holding register the action value is written to.
	Register uint16 `yaml:"register"`
	// Aggregate is "worst" for worst-wins across all channels, or a channel
	// id to follow that channel alone.
	Aggregate string `yaml:"aggregate"`
	// Debounce is how many consecutive agreeing decisions are required
	// before a changed action is actually written.
	Debounce int `yaml:"debounce"`
	// Actions maps a fault level name to the register value to write. Levels
	// without an entry leave the output untouched at that severity; in
	// particular an output without a comm_fault entry holds its last value
	// on communication loss instead of clearing.
	Actions map[string]uint16 `yaml:"actions"`
	// VerifyReadback re-reads the register after a write and logs mismatches.
	VerifyReadback bool `yaml:"verify_readback,omitempty"`
}

// Config holds everything both daemons need. One file is shared so the
// producer and consumer agree on channels, paths and intervals.
type Config struct {
	// LogLevel is the zap level name, e.g. "info".
	LogLevel string `yaml:"log_level,omitempty"`
	// MetricsAddress, when set, serves Prometheus metrics on this address.
	MetricsAddress string `yaml:"metrics_addr,omitempty"`
	// SensorBus is the link the sensor daemon polls.
	SensorBus Bus `yaml:"sensor_bus"`
	// AlarmBus is the link the alarm daemon writes to. When omitted the
	// sensor bus settings are reused; the port is still opened exclusively
	// by whichever daemon gets there first.
	AlarmBus *Bus `yaml:"alarm_bus,omitempty"`
	// StateFile is the fault-state handoff path.
	StateFile string `yaml:"state_file"`
	// StateMaxAge is how old the fault state may grow before the consumer
	// treats it as stale.
	StateMaxAge time.Duration `yaml:"state_max_age"`
	// PollInterval is the sensor daemon tick.
	PollInterval time.Duration `yaml:"poll_interval"`
	// ActuateInterval is the alarm daemon tick.
	ActuateInterval time.Duration `yaml:"actuate_interval"`
	// CommFaultThreshold is how many consecutive failed reads of a channel
	// turn its published level into comm_fault.
	CommFaultThreshold int `yaml:"comm_fault_threshold"`
	// Channels are the monitored sensor channels.
	Channels []Channel `yaml:"channels"`
	// Outputs are the alarm outputs.
	Outputs []Output `yaml:"outputs"`
}

const (
	// DefaultConfigFilename is the default filename for daemon settings.
	DefaultConfigFilename = "vibro-sentinel.yaml"

	// DefaultStateFilename is the default fault-state handoff file.
	DefaultStateFilename = "fault-state.json"

	// DefaultBaudrate matches the reference deployment (9600 8N1).
	DefaultBaudrate = 9600

	// DefaultTimeout bounds one Modbus transaction.
	DefaultTimeout = 500 * time.Millisecond

	// DefaultMaxRetries is the transaction retry budget.
	DefaultMaxRetries = 3

	// DefaultBackoffBase is the initial retry delay.
	DefaultBackoffBase = 100 * time.Millisecond

	// DefaultBackoffCap is the retry delay ceiling.
	DefaultBackoffCap = 2 * time.Second

	// DefaultPollInterval is the sensor daemon tick.
	DefaultPollInterval = time.Second

	// DefaultActuateInterval is the alarm daemon tick.
	DefaultActuateInterval = time.Second

	// DefaultCommFaultThreshold is the consecutive-failure count that flips
	// a channel to comm_fault.
	DefaultCommFaultThreshold = 3

	// DefaultDebounce is the per-output confirmation count.
	DefaultDebounce = 2

	// DefaultFilePermissions is the file permission for written settings.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errNoChannels is returned when no sensor channels are configured.
	errNoChannels = errors.New("at least one channel must be configured")
	// errNoOutputs is returned when no alarm outputs are configured.
	errNoOutputs = errors.New("at least one output must be configured")
)

// Load reads configuration from the provided path and validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks required fields, applies defaults, and verifies that the
// channel and output definitions are internally consistent.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if err := validateBus(&cfg.SensorBus, "sensor_bus"); err != nil {
		return err
	}

	if cfg.AlarmBus != nil {
		if err := validateBus(cfg.AlarmBus, "alarm_bus"); err != nil {
			return err
		}
	}

	if cfg.StateFile == "" {
		cfg.StateFile = DefaultStateFilename
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	if cfg.ActuateInterval <= 0 {
		cfg.ActuateInterval = DefaultActuateInterval
	}

	if cfg.StateMaxAge <= 0 {
		// A small multiple of the publish interval: one slow tick does not
		// count as a dead producer.
		cfg.StateMaxAge = 5 * cfg.PollInterval
	}

	if cfg.CommFaultThreshold <= 0 {
		cfg.CommFaultThreshold = DefaultCommFaultThreshold
	}

	if len(cfg.Channels) == 0 {
		return errNoChannels
	}

	seen := make(map[string]struct{}, len(cfg.Channels))
	for i := range cfg.Channels {
		if err := validateChannel(&cfg.Channels[i], seen); err != nil {
			return err
		}
	}

	if len(cfg.Outputs) == 0 {
		return errNoOutputs
	}

	for i := range cfg.Outputs {
		if err := validateOutput(&cfg.Outputs[i], seen); err != nil {
			return err
		}
	}

	return nil
}

// validateBus checks one bus section and applies its defaults.
func validateBus(bus *Bus, section string) error {
	switch bus.Mode {
	case BusModeRTU:
		if bus.Device == "" {
			return fmt.Errorf("%s: serial device must be provided in rtu mode", section)
		}

		if bus.Baudrate <= 0 {
			bus.Baudrate = DefaultBaudrate
		}
	case BusModeTCP:
		if bus.Address == "" {
			return fmt.Errorf("%s: address must be provided in tcp mode", section)
		}
	default:
		return fmt.Errorf("%s: unknown bus mode %q", section, bus.Mode)
	}

	if bus.Timeout <= 0 {
		bus.Timeout = DefaultTimeout
	}

	if bus.MaxRetries <= 0 {
		bus.MaxRetries = DefaultMaxRetries
	}

	if bus.BackoffBase <= 0 {
		bus.BackoffBase = DefaultBackoffBase
	}

	if bus.BackoffCap <= 0 {
		bus.BackoffCap = DefaultBackoffCap
	}

	return nil
}

// validateChannel checks one channel definition and applies its defaults.
func validateChannel(ch *Channel, seen map[string]struct{}) error {
	if ch.ID == "" {
		return errors.New("channel: id must be provided")
	}

	if _, dup := seen[ch.ID]; dup {
		return fmt.Errorf("channel %s: duplicate id", ch.ID)
	}

	seen[ch.ID] = struct{}{}

	if ch.UnitID == 0 {
		return fmt.Errorf("channel %s: unit_id must be in 1..247", ch.ID)
	}

	if ch.Count == 0 {
		ch.Count = 1
	}

	if ch.Scale == 0 {
		ch.Scale = 1
	}

	t := ch.Thresholds
	if !(t.Warning < t.Alarm && t.Alarm < t.Critical) {
		return fmt.Errorf("channel %s: thresholds must increase warning < alarm < critical", ch.ID)
	}

	if ch.Hysteresis < 0 {
		return fmt.Errorf("channel %s: hysteresis must not be negative", ch.ID)
	}

	if ch.Window <= 0 {
		ch.Window = 10
	}

	if ch.EscalateRun <= 0 {
		ch.EscalateRun = 3
	}

	if ch.DeescalateRun <= 0 {
		ch.DeescalateRun = 3
	}

	return nil
}

// validateOutput checks one output definition and applies its defaults.
func validateOutput(out *Output, channels map[string]struct{}) error {
	if out.ID == "" {
		return errors.New("output: id must be provided")
	}

	if out.UnitID == 0 {
		return fmt.Errorf("output %s: unit_id must be in 1..247", out.ID)
	}

	if out.Aggregate == "" {
		out.Aggregate = AggregationWorst
	}

	if out.Aggregate != AggregationWorst {
		if _, ok := channels[out.Aggregate]; !ok {
			return fmt.Errorf("output %s: aggregate %q is not a configured channel", out.ID, out.Aggregate)
		}
	}

	if out.Debounce <= 0 {
		out.Debounce = DefaultDebounce
	}

	if len(out.Actions) == 0 {
		return fmt.Errorf("output %s: at least one action must be configured", out.ID)
	}

	for name := range out.Actions {
		if _, err := fault.ParseLevel(name); err != nil {
			return fmt.Errorf("output %s: %w", out.ID, err)
		}
	}

	return nil
}

// BusFor returns the bus configuration the alarm daemon should use.
func (c *Config) BusFor(alarm bool) Bus {
	if alarm && c.AlarmBus != nil {
		return *c.AlarmBus
	}

	return c.SensorBus
}
