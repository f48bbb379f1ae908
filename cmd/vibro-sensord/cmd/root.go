package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldbus-tools/vibro-sentinel/internal/config"
	"github.com/fieldbus-tools/vibro-sentinel/internal/service/sensor"
	"github.com/fieldbus-tools/vibro-sentinel/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// stateFile path where the fault state is published.
	stateFile string
	// pollInterval overrides the tick interval from the configuration.
	pollInterval time.Duration

	// rootCmd represents the base command for running the sensor daemon.
	rootCmd = &cobra.Command{
		Use:   "vibro-sensord",
		Short: "Poll vibration sensors and publish the fault state.",
		Long: `Background daemon that polls vibration sensors over Modbus and classifies
each channel into a fault level.

Every tick the daemon reads the configured holding registers, feeds the
scaled values through a sliding-window threshold classifier and atomically
publishes the combined fault state to a JSON file. A sensor that stops
answering degrades its channel to communication fault after a configurable
number of consecutive failures; the alarm daemon consumes the published
state independently.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &sensor.Options{
				ConfigPath:   configPath,
				StateFile:    stateFile,
				PollInterval: pollInterval,
			}

			return sensor.Run(ctx, options)
		},
	}
)

// Execute runs the vibro-sensord CLI and exits with non-zero status on error.
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
		StringVarP(&stateFile, "state-file", "s", "", "path to publish the fault state (overrides configuration)")
	rootCmd.Flags().
		DurationVarP(&pollInterval, "poll-interval", "i", 0, "poll interval (overrides configuration)")
}
