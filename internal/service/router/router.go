package router

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/stoppuhr/internal/domain/timing"
	"github.com/oshokin/stoppuhr/internal/logger"
)

// Devices looks up tasters and records that they were seen.
type Devices interface {
	FindByMAC(mac string) (*timing.Device, bool)
	Touch(mac string, ts time.Time) bool
}

// Lanes resolves the binding of a taster.
type Lanes interface {
	ResolveLane(deviceID string) (timing.Binding, bool)
}

// Runs supplies the current heat.
type Runs interface {
	Current() (string, bool)
}

// Request is a raw press as received from a transport.
type Request struct {
	// MAC is the address of the pressing taster.
	MAC string
	// TS is the press time in ms since the epoch, nil means "now".
	TS *int64
	// StopwatchMS is the stopwatch reading, if the taster sends one.
	StopwatchMS *int64
}

// Router resolves presses.
type Router struct {
	devices Devices
	lanes   Lanes
	runs    Runs
	now     func() time.Time
	newID   func() string
}

// Option configures a Router.
type Option func(*Router)

// WithClock replaces the time source used for presses without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// WithIDGenerator replaces the press id generator.
func WithIDGenerator(newID func() string) Option {
	return func(r *Router) {
		if newID != nil {
			r.newID = newID
		}
	}
}

// New creates a router over the given collaborators.
func New(devices Devices, lanes Lanes, runs Runs, opts ...Option) *Router {
	r := &Router{
		devices: devices,
		lanes:   lanes,
		runs:    runs,
		now:     time.Now,
		newID:   uuid.NewString,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Route resolves req. The returned press always carries the request data;
// its Err is set when the press cannot be attributed to a lane.
// Failed presses mutate nothing. A routed press marks its taster seen at the
// press timestamp; an older timestamp never moves LastSeen back.
func (r *Router) Route(ctx context.Context, req Request) *timing.Press {
	press := &timing.Press{
		ID:          r.newID(),
		MAC:         req.MAC,
		StopwatchMS: req.StopwatchMS,
	}

	if req.TS != nil {
		press.TS = *req.TS
	} else {
		press.TS = r.now().UnixMilli()
	}

	mac, err := timing.NormalizeMAC(req.MAC)
	if err != nil {
		press.Err = fmt.Errorf("route press: %w", err)

		return r.done(ctx, press)
	}

	press.MAC = mac

	device, ok := r.devices.FindByMAC(mac)
	if !ok {
		press.Err = fmt.Errorf("route press from %s: %w", mac, timing.ErrDeviceUnknown)

		return r.done(ctx, press)
	}

	binding, ok := r.lanes.ResolveLane(device.ID)
	if !ok {
		press.Err = fmt.Errorf("route press from %s: %w", device.ID, timing.ErrUnassigned)

		return r.done(ctx, press)
	}

	switch binding.Role {
	case timing.RolePending:
		press.Err = fmt.Errorf("route press from %s on lane %d: %w",
			device.ID, binding.Lane, timing.ErrPendingNotConfirmed)

		return r.done(ctx, press)
	case timing.RoleStarter:
		press.Starter = true
	case timing.RoleActive:
		press.Lane = binding.Lane
	}

	if current, ok := r.runs.Current(); ok {
		press.Run = current
	}

	r.devices.Touch(mac, time.UnixMilli(press.TS))

	return r.done(ctx, press)
}

// done logs the outcome of press and returns it.
func (r *Router) done(ctx context.Context, press *timing.Press) *timing.Press {
	if press.Err != nil {
		logger.DebugKV(ctx, "Press rejected", "mac", press.MAC, "error", press.Kind())

		return press
	}

	logger.DebugKV(ctx, "Press routed",
		"mac", press.MAC,
		"lane", press.Lane,
		"starter", press.Starter,
		"run", press.Run,
		"ts", press.TS,
	)

	return press
}
