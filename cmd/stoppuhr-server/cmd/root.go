package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/stoppuhr/internal/config"
	"github.com/oshokin/stoppuhr/internal/service/server"
	"github.com/oshokin/stoppuhr/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// httpAddress overrides the JSON API listen address.
	httpAddress string

	// rootCmd represents the base command for running the lane router.
	rootCmd = &cobra.Command{
		Use:   "stoppuhr-server [grpc-listen-address]",
		Short: "Run the taster lane router.",
		Long: `Starts the lane router that binds tasters to lanes and routes their presses.

The router serves the operator JSON API and event stream over HTTP, the timing
service over gRPC and, when enabled, bridges taster heartbeats and presses over MQTT.
Only the port from grpc_addr config is used for listening (e.g., :50051).
The gRPC listen address can be provided as argument to override config.
Lane count follows the start card export when a base URL is configured.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			var grpcAddress string
			if len(args) > 0 {
				grpcAddress = args[0]
			}

			return server.Run(ctx, &server.Options{
				ConfigPath:  configPath,
				HTTPAddress: httpAddress,
				GRPCAddress: grpcAddress,
			})
		},
	}
)

// Execute runs the stoppuhr-server CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVar(&httpAddress, "http", "", "HTTP listen address, overrides http_addr")
}
