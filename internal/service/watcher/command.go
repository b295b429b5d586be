package watcher

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	timingapi "github.com/oshokin/stoppuhr/internal/api/grpc/timing"
	"github.com/oshokin/stoppuhr/internal/config"
	"github.com/oshokin/stoppuhr/internal/logger"
	"github.com/oshokin/stoppuhr/internal/service/common"
)

// Options controls the watcher polling behavior and configuration.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// ServerAddress provides an optional gRPC server address override.
	ServerAddress string
	// PollInterval defines the interval between mapping checks.
	PollInterval time.Duration
}

// MappingSource is the part of the gRPC client used by the watcher.
type MappingSource interface {
	GetMapping(ctx context.Context) (*timingapi.MappingReply, error)
}

// DefaultPollInterval defines the default polling interval.
const DefaultPollInterval = 2 * time.Second

// Run polls the lane table until ctx is canceled.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "lane-watch")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	serverAddress := cfg.GRPCAddress
	if opts.ServerAddress != "" {
		serverAddress = opts.ServerAddress
	}

	client, err := common.Dial(ctx, serverAddress, common.WithCallTimeout(cfg.Timeout))
	if err != nil {
		return fmt.Errorf("dial server: %w", err)
	}

	defer func() {
		_ = client.Close()
	}()

	logger.InfoKV(ctx, "Watching lane table", "server_address", serverAddress, "interval", opts.PollInterval.String())

	Watch(ctx, client, opts.PollInterval)

	return nil
}

// Watch logs the lane table once and then every change seen on each tick.
func Watch(ctx context.Context, source MappingSource, interval time.Duration) {
	var previous *timingapi.MappingReply

	check := func() {
		current, err := source.GetMapping(ctx)
		if err != nil {
			logger.ErrorKV(ctx, "Get mapping failed", "error", err)

			return
		}

		for _, change := range Diff(previous, current) {
			logger.Info(ctx, change)
		}

		previous = current
	}

	check()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Context canceled, exiting")

			return
		case <-ticker.C:
			check()
		}
	}
}

// Diff describes what changed between two lane tables. A nil previous
// table reports every binding of current.
func Diff(previous, current *timingapi.MappingReply) []string {
	if current == nil {
		return nil
	}

	if previous == nil {
		previous = new(timingapi.MappingReply)
	}

	var changes []string

	if previous.MaxLane != current.MaxLane {
		changes = append(changes, fmt.Sprintf("max lane: %d -> %d", previous.MaxLane, current.MaxLane))
	}

	if run := describeRun(current.CurrentRun); run != describeRun(previous.CurrentRun) {
		changes = append(changes, fmt.Sprintf("current run: %s -> %s", describeRun(previous.CurrentRun), run))
	}

	for _, key := range laneKeys(previous, current) {
		changes = appendChange(changes, "lane "+key, previous.Mapping[key], current.Mapping[key])
		changes = appendChange(changes, "lane "+key+" pending", previous.Pending[key], current.Pending[key])
	}

	return appendChange(changes, "starter", previous.Starter, current.Starter)
}

// appendChange adds a line when the taster bound to slot changed.
func appendChange(changes []string, slot string, before, after *timingapi.Device) []string {
	if describe(before) == describe(after) {
		return changes
	}

	return append(changes, fmt.Sprintf("%s: %s -> %s", slot, describe(before), describe(after)))
}

// laneKeys returns the lane keys of both tables in numeric order.
func laneKeys(tables ...*timingapi.MappingReply) []string {
	seen := make(map[int]struct{})

	for _, table := range tables {
		for _, m := range []map[string]*timingapi.Device{table.Mapping, table.Pending} {
			for key := range m {
				if lane, err := strconv.Atoi(key); err == nil {
					seen[lane] = struct{}{}
				}
			}
		}
	}

	lanes := make([]int, 0, len(seen))
	for lane := range seen {
		lanes = append(lanes, lane)
	}

	slices.Sort(lanes)

	keys := make([]string, len(lanes))
	for i, lane := range lanes {
		keys[i] = strconv.Itoa(lane)
	}

	return keys
}

// describe renders a taster as "name (mac)".
func describe(device *timingapi.Device) string {
	switch {
	case device == nil:
		return "-"
	case device.Name == "":
		return device.MAC
	default:
		return device.Name + " (" + device.MAC + ")"
	}
}

// describeRun renders an optional run.
func describeRun(run *string) string {
	if run == nil {
		return "-"
	}

	return *run
}
