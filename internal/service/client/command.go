package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	timingapi "github.com/oshokin/stoppuhr/internal/api/grpc/timing"
	"github.com/oshokin/stoppuhr/internal/config"
	"github.com/oshokin/stoppuhr/internal/logger"
	"github.com/oshokin/stoppuhr/internal/service/common"
)

// Options configures a single press.
type Options struct {
	// ConfigPath to YAML settings file, defaults to standard filename if empty.
	ConfigPath string

	// ServerAddress overrides server address from config when specified.
	ServerAddress string

	// MAC is the hardware address of the pressing taster.
	MAC string

	// StopwatchMS is the stopwatch reading sent along, if any.
	StopwatchMS *int64
}

// Presser is the part of the gRPC client used by the command.
type Presser interface {
	Press(ctx context.Context, req common.PressRequest) (*timingapi.PressReply, error)
}

// defaultPushInterval defines retry delay when the server is unreachable.
const defaultPushInterval = 1 * time.Second

// ErrPressRejected is returned when the router refuses the press.
var ErrPressRejected = errors.New("press rejected")

// Run sends one press, retrying on transport failures until success or cancellation.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "taster-press")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	serverAddress := cfg.GRPCAddress
	if opts.ServerAddress != "" {
		serverAddress = opts.ServerAddress
	}

	client, err := common.Dial(ctx, serverAddress, common.WithCallTimeout(cfg.Timeout))
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	ts := time.Now().UnixMilli()

	logger.InfoKV(ctx, "Sending press", "server_address", serverAddress, "mac", opts.MAC, "ts", ts)

	return Push(ctx, client, common.PressRequest{
		MAC:         opts.MAC,
		TS:          &ts,
		StopwatchMS: opts.StopwatchMS,
	}, defaultPushInterval)
}

// Push sends req through presser until the server answers. Transport
// failures are retried every interval; a rejected press is final.
func Push(ctx context.Context, presser Presser, req common.PressRequest, interval time.Duration) error {
	// attempt tries once to deliver the press, returns (completed, error).
	attempt := func() (bool, error) {
		resp, err := presser.Press(ctx, req)
		if err != nil {
			if retryable(err) {
				logger.WarnKV(ctx, "Press not delivered, retrying", "error", err)

				return false, nil
			}

			return false, err
		}

		if !resp.OK {
			return false, fmt.Errorf("%w: %s", ErrPressRejected, resp.Error)
		}

		logger.Infof(ctx, "Press routed: %s", formatPress(resp.Press))

		return true, nil
	}

	if done, err := attempt(); err != nil || done {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			done, err := attempt()
			if err != nil || done {
				return err
			}
		}
	}
}

// retryable reports whether err is a transport failure worth another attempt.
func retryable(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// formatPress converts a routed press to a readable log message.
func formatPress(press *timingapi.PressEvent) string {
	if press == nil {
		return "<nil press>"
	}

	target := "starter"
	if press.Lane != nil {
		target = fmt.Sprintf("lane %d", *press.Lane)
	}

	run := "-"
	if press.Run != nil {
		run = *press.Run
	}

	return fmt.Sprintf("%s, run %s at %s", target, run, time.UnixMilli(press.TS).Format(time.RFC3339Nano))
}
