package alarm

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldbus-tools/vibro-sentinel/internal/config"
	"github.com/fieldbus-tools/vibro-sentinel/internal/logger"
	"github.com/fieldbus-tools/vibro-sentinel/internal/metrics"
	"github.com/fieldbus-tools/vibro-sentinel/internal/modbus"
	"github.com/fieldbus-tools/vibro-sentinel/internal/repository/faultstate"
)

// Options controls the alarm daemon process and configuration.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// StateFile overrides the fault-state path from the configuration.
	StateFile string
	// ActuateInterval overrides the tick interval from the configuration.
	ActuateInterval time.Duration
}

// Run drives the alarm outputs until the context is canceled. Each tick
// reads the published fault state, debounces the per-output decisions and
// writes changed values to the alarm device.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "vibro-alarmd")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if opts.StateFile != "" {
		cfg.StateFile = opts.StateFile
	}

	if opts.ActuateInterval > 0 {
		cfg.ActuateInterval = opts.ActuateInterval
	}

	if level, ok := logger.ParseLogLevel(cfg.LogLevel); ok {
		logger.SetLevel(level)
	}

	bus, err := dialBus(cfg)
	if err != nil {
		return fmt.Errorf("open alarm bus: %w", err)
	}

	defer func() {
		_ = bus.Close()
	}()

	store, err := faultstate.Open(cfg.StateFile, cfg.StateMaxAge)
	if err != nil {
		return fmt.Errorf("open fault-state store: %w", err)
	}

	m := metrics.New()
	m.Serve(ctx, cfg.MetricsAddress)

	svc := newService(cfg, bus, store, m)

	logger.InfoKV(ctx, "Driving alarm outputs",
		"outputs", len(cfg.Outputs),
		"interval", cfg.ActuateInterval.String(),
		"state_file", cfg.StateFile)

	ticker := time.NewTicker(cfg.ActuateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Context canceled, exiting")
			return nil
		case <-ticker.C:
			svc.tick(ctx)
		}
	}
}

// dialBus opens the Modbus link described by the alarm bus configuration,
// falling back to the sensor bus when no separate one is set.
func dialBus(cfg *config.Config) (*modbus.Link, error) {
	bus := cfg.BusFor(true)

	return modbus.Dial(modbus.Config{
		Mode:        modbus.Mode(bus.Mode),
		Device:      bus.Device,
		Baudrate:    bus.Baudrate,
		Address:     bus.Address,
		Timeout:     bus.Timeout,
		MaxRetries:  bus.MaxRetries,
		BackoffBase: bus.BackoffBase,
		BackoffCap:  bus.BackoffCap,
	})
}
