package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"

	grpcapi "github.com/oshokin/stoppuhr/internal/api/grpc/timing"
	httpapi "github.com/oshokin/stoppuhr/internal/api/http/timing"
	"github.com/oshokin/stoppuhr/internal/config"
	"github.com/oshokin/stoppuhr/internal/domain/timing"
	"github.com/oshokin/stoppuhr/internal/logger"
	"github.com/oshokin/stoppuhr/internal/metrics"
	"github.com/oshokin/stoppuhr/internal/repository/registry"
	"github.com/oshokin/stoppuhr/internal/service/system"
	"github.com/oshokin/stoppuhr/internal/startcard"
	"github.com/oshokin/stoppuhr/internal/telemetry/mqtt"
)

// Options controls the stoppuhr-server process and configuration.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// HTTPAddress overrides the listen address of the JSON API.
	HTTPAddress string
	// GRPCAddress overrides the listen address of the gRPC server.
	GRPCAddress string
}

// ErrNoServerAddress indicates missing server configuration.
var ErrNoServerAddress = errors.New("no server address configured")

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// Run starts the HTTP, gRPC and MQTT front ends and blocks until ctx is
// canceled or one of the servers fails.
//
//nolint:funlen // Start-up wiring reads best top to bottom.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "stoppuhr-server")

	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if !logger.Configure(settings.LogLevel) {
		logger.WarnKV(ctx, "Unknown log level, keeping default", "log_level", settings.LogLevel)
	}

	accessLevel, ok := logger.ParseLogLevel(settings.AccessLogLevel)
	if !ok {
		accessLevel = zapcore.InfoLevel
	}

	httpAddress := settings.HTTPAddress
	if opts.HTTPAddress != "" {
		httpAddress = opts.HTTPAddress
	}

	grpcAddress, err := resolveListenAddress(settings.GRPCAddress, opts.GRPCAddress)
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}

	var (
		m     = metrics.New()
		cards = startcard.NewProvider(startcard.Settings{
			BaseURL: settings.StartCards.BaseURL,
			Suffix:  settings.StartCards.Suffix,
		}, settings.DefaultMaxLane, settings.Timeout)
	)

	svc, err := newService(serviceOptions{
		maxLane:    settings.DefaultMaxLane,
		staleAfter: settings.StaleAfter,
		startCards: cards,
		metrics:    m,
	})
	if err != nil {
		return fmt.Errorf("initialise service: %w", err)
	}

	seedTasters(ctx, svc, settings.Tasters)

	if settings.StartCards.BaseURL != "" {
		if _, err = svc.ReloadStartCards(ctx); err != nil {
			logger.WarnKV(ctx, "Initial start card load failed", "error", err)
		}
	}

	if err = cards.Schedule(ctx, settings.StartCards.RefreshSchedule, svc.ReloadStartCards); err != nil {
		return fmt.Errorf("schedule start cards: %w", err)
	}

	if settings.MQTT.Enabled {
		client, err := startMQTT(ctx, svc, settings)
		if err != nil {
			return err
		}

		defer client.Close() //nolint:errcheck // Close never fails.
	}

	lc := net.ListenConfig{}

	grpcListener, err := lc.Listen(ctx, "tcp", grpcAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", grpcAddress, err)
	}

	httpListener, err := lc.Listen(ctx, "tcp", httpAddress)
	if err != nil {
		_ = grpcListener.Close()

		return fmt.Errorf("listen on %s: %w", httpAddress, err)
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcapi.UnaryLogger()))
	grpcapi.RegisterTimingServiceServer(grpcServer, grpcapi.NewServer(svc))

	if logger.Level() > zapcore.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	handler := httpapi.NewHandler(httpapi.Options{
		Service:        svc,
		Events:         svc.hub,
		Metrics:        m.Handler(),
		Status:         system.NewReporter(settings.Services),
		AccessLogLevel: accessLevel,
	})

	httpServer := &http.Server{
		Handler:           handler.Engine(),
		ReadHeaderTimeout: settings.Timeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	logger.InfoKV(ctx, "Lane router listening",
		"http_address", httpAddress,
		"grpc_address", grpcAddress,
		"max_lane", svc.store.MaxLane(),
	)

	errs := make(chan error, 2)

	go func() {
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errs <- fmt.Errorf("serve gRPC: %w", err)
		}
	}()

	go func() {
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("serve HTTP: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-errs:
		logger.ErrorKV(ctx, "Server failed", "error", err)
	}

	logger.Info(ctx, "Shutting down servers")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.WarnKV(ctx, "HTTP shutdown incomplete", "error", shutdownErr)
	}

	grpcServer.GracefulStop()
	logger.Info(ctx, "Servers stopped")

	return err
}

// startMQTT connects to the broker and bridges taster traffic into svc.
func startMQTT(ctx context.Context, svc *service, settings *config.Config) (*mqtt.Client, error) {
	client, err := mqtt.Connect(ctx, settings.MQTT, settings.Timeout)
	if err != nil {
		return nil, fmt.Errorf("connect mqtt: %w", err)
	}

	consumer := mqtt.NewConsumer(svc, client, settings.MQTT.TopicPrefix, settings.MQTT.QoS)
	if err = consumer.Start(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("start mqtt consumer: %w", err)
	}

	svc.addPublisher(consumer)
	logger.InfoKV(ctx, "MQTT bridge started", "broker", settings.MQTT.Broker, "prefix", settings.MQTT.TopicPrefix)

	return client, nil
}

// seedTasters registers the configured tasters and applies their bindings.
// Invalid seeds are logged and skipped.
func seedTasters(ctx context.Context, svc *service, seeds []config.TasterSeed) {
	for _, seed := range seeds {
		device, err := svc.Heartbeat(ctx, registry.Record{MAC: seed.MAC, Label: seed.Name})
		if err != nil {
			logger.WarnKV(ctx, "Skipping taster seed", "mac", seed.MAC, "error", err)

			continue
		}

		var target timing.Target

		switch {
		case seed.Starter:
			target.Starter = true
		case seed.Lane > 0:
			target.Lane = seed.Lane
		default:
			continue
		}

		if _, err = svc.Assign(ctx, device.MAC, target); err != nil {
			logger.WarnKV(ctx, "Skipping seed binding", "mac", device.MAC, "lane", target.String(), "error", err)
		}
	}
}

// resolveListenAddress determines the listen address for the gRPC server.
// If override is provided, uses it directly. Otherwise extracts port from configAddr
// so the server binds on all interfaces.
func resolveListenAddress(configAddr, override string) (string, error) {
	if override != "" {
		return override, nil
	}

	if configAddr == "" {
		return "", ErrNoServerAddress
	}

	_, port, err := net.SplitHostPort(configAddr)
	if err != nil {
		return "", fmt.Errorf("invalid server address format %q: %w", configAddr, err)
	}

	return ":" + port, nil
}
