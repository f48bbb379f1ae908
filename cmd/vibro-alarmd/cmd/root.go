package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldbus-tools/vibro-sentinel/internal/config"
	"github.com/fieldbus-tools/vibro-sentinel/internal/service/alarm"
	"github.com/fieldbus-tools/vibro-sentinel/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// stateFile path where the fault state is consumed from.
	stateFile string
	// actuateInterval overrides the tick interval from the configuration.
	actuateInterval time.Duration

	// rootCmd represents the base command for running the alarm daemon.
	rootCmd = &cobra.Command{
		Use:   "vibro-alarmd",
		Short: "Drive alarm outputs from the published fault state.",
		Long: `Background daemon that drives alarm outputs on a PLC from the fault state
published by vibro-sensord.

Every tick the daemon reads the fault-state file, debounces the per-output
decisions and writes changed values to the alarm device over Modbus. A
missing or stale fault state is treated as a sensor communication fault:
outputs with a comm fault action assert it, all others hold their last
written value so an alarm is never silently cleared.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &alarm.Options{
				ConfigPath:      configPath,
				StateFile:       stateFile,
				ActuateInterval: actuateInterval,
			}

			return alarm.Run(ctx, options)
		},
	}
)

// Execute runs the vibro-alarmd CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().
		StringVarP(&stateFile, "state-file", "s", "", "path to consume the fault state from (overrides configuration)")
	rootCmd.Flags().
		DurationVarP(&actuateInterval, "actuate-interval", "i", 0, "actuation interval (overrides configuration)")
}
