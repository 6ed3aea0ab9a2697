package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/alarm-bridge/internal/config"
	"github.com/oshokin/alarm-bridge/internal/logger"
	"github.com/oshokin/alarm-bridge/internal/service/gateway"
	"github.com/oshokin/alarm-bridge/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// logLevel overrides the level from the configuration file.
	logLevel string

	// rootCmd represents the base command for running the gateway.
	rootCmd = &cobra.Command{
		Use:   "alarm-bridge",
		Short: "Bridge security panels to MQTT.",
		Long: `Runs one gateway between a family of security panels and the MQTT broker.

The panel system (Proton, Mirazh or Tandem), its connection, timers, the broker
and the state cache are read from the configuration file. Device events are
published as retained state and alarm notifications; JSON-RPC commands received
over MQTT or gRPC are sent to the devices and confirmed by their events.`,
		Args: cobra.NoArgs,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if logLevel == "" {
				return nil
			}

			if !logger.SetLevelFromString(logLevel) {
				return errUnknownLevel(logLevel)
			}

			return nil
		},
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			defer logger.Sync()

			return gateway.Run(ctx, &gateway.Options{
				ConfigPath: configPath,
				LogLevel:   logLevel,
			})
		},
	}
)

// Execute runs the alarm-bridge CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)
	rootCmd.AddCommand(newStateCommand(), newSendCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().
		StringVarP(&logLevel, "log-level", "l", "", "log level: debug, info, warn, error")
}
