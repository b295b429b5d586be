package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/stoppuhr/internal/config"
	"github.com/oshokin/stoppuhr/internal/service/client"
	"github.com/oshokin/stoppuhr/internal/version"
)

var (
	// cfgPath stores the configuration file path.
	cfgPath string
	// serverAddress overrides the gRPC address from config.
	serverAddress string
	// stopwatchMS is an optional stopwatch reading, negative means none.
	stopwatchMS int64

	// rootCmd represents the base command for sending a press.
	rootCmd = &cobra.Command{
		Use:   "taster-press <mac>",
		Short: "Send a taster press to the lane router.",
		Long: `Reports a press of the taster with the given MAC address.

The press time is taken when the command starts. While the router is
unreachable the press is resent every second with the same timestamp until it
is delivered or the command is interrupted. A press the router rejects
(unknown, unassigned or pending taster) ends the command with an error.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			opts := &client.Options{
				ConfigPath:    cfgPath,
				ServerAddress: serverAddress,
				MAC:           args[0],
			}

			if stopwatchMS >= 0 {
				opts.StopwatchMS = &stopwatchMS
			}

			return client.Run(ctx, opts)
		},
	}
)

// Execute runs the taster-press CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&cfgPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&serverAddress, "server", "s", "", "gRPC server address, overrides grpc_addr")
	rootCmd.Flags().Int64Var(&stopwatchMS, "stopwatch-ms", -1, "stopwatch reading in milliseconds")
}
