package sensor

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

// Options controls the sensor daemon process and configuration.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// StateFile overrides the fault-state path from the configuration.
	StateFile string
	// PollInterval overrides the tick interval from the configuration.
	PollInterval time.Duration
}

// Run polls the sensor bus until the context is canceled. Each tick scans
// every configured channel, classifies the readings and publishes the fault
// state; a failing bus degrades channels to communication fault instead of
// stopping the loop.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "vibro-sensord")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if opts.StateFile != "" {
		cfg.StateFile = opts.StateFile
	}

	if opts.PollInterval > 0 {
		cfg.PollInterval = opts.PollInterval
	}

	if level, ok := logger.ParseLogLevel(cfg.LogLevel); ok {
		logger.SetLevel(level)
	}

	bus, err := dialBus(cfg)
	if err != nil {
		return fmt.Errorf("open sensor bus: %w", err)
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

	logger.InfoKV(ctx, "Polling sensor channels",
		"channels", len(cfg.Channels),
		"interval", cfg.PollInterval.String(),
		"state_file", cfg.StateFile)

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Context canceled, exiting")
			return nil
		case <-ticker.C:
			if err := svc.tick(ctx); err != nil {
				logger.ErrorKV(ctx, "Publish fault state failed", "error", err)
			}
		}
	}
}

// dialBus opens the Modbus link described by the sensor bus configuration.
func dialBus(cfg *config.Config) (*modbus.Link, error) {
	bus := cfg.BusFor(false)

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
