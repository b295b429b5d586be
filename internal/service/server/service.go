package server

import (
	"context"
	"fmt"
	"time"

	"github.com/oshokin/stoppuhr/internal/config"
	"github.com/oshokin/stoppuhr/internal/domain/timing"
	"github.com/oshokin/stoppuhr/internal/logger"
	"github.com/oshokin/stoppuhr/internal/metrics"
	"github.com/oshokin/stoppuhr/internal/repository/assignment"
	"github.com/oshokin/stoppuhr/internal/repository/registry"
	"github.com/oshokin/stoppuhr/internal/repository/run"
	"github.com/oshokin/stoppuhr/internal/service/events"
	"github.com/oshokin/stoppuhr/internal/service/router"
	"github.com/oshokin/stoppuhr/internal/startcard"
)

// Assignment operation names used in logs and metrics.
const (
	opAssign   = "assign"
	opUnassign = "unassign"
	opConfirm  = "confirm"
)

// PressPublisher forwards routed presses to another transport.
type PressPublisher interface {
	PublishPress(ctx context.Context, press *timing.Press) error
}

// service ties the registry, the lane table, the run context and the
// router together. It is unexported to keep the transports decoupled from
// the implementation.
type service struct {
	// registry holds the known tasters.
	registry *registry.Registry
	// store is the lane table.
	store *assignment.Store
	// runs is the current heat.
	runs *run.Context
	// router resolves presses.
	router *router.Router
	// startCards supplies the lane count and display rows.
	startCards *startcard.Provider
	// metrics records operations, nil disables them.
	metrics *metrics.Metrics
	// hub fans events out to display subscribers.
	hub *events.Hub
	// publishers receive every successful press.
	publishers []PressPublisher
	// staleAfter is the heartbeat age after which a taster is stale.
	staleAfter time.Duration
	// now is the service clock.
	now func() time.Time
}

// serviceOptions collects the collaborators of newService.
type serviceOptions struct {
	maxLane    int
	staleAfter time.Duration
	startCards *startcard.Provider
	metrics    *metrics.Metrics
	hub        *events.Hub
	now        func() time.Time
	newID      func() string
}

// newService creates a service with an empty lane table of opts.maxLane lanes.
func newService(opts serviceOptions) (*service, error) {
	if opts.now == nil {
		opts.now = time.Now
	}

	if opts.hub == nil {
		opts.hub = events.NewHub(0)
	}

	if opts.startCards == nil {
		opts.startCards = startcard.NewProvider(startcard.Settings{}, opts.maxLane, config.DefaultTimeout)
	}

	store, err := assignment.NewStore(opts.maxLane)
	if err != nil {
		return nil, fmt.Errorf("create lane table: %w", err)
	}

	var (
		reg  = registry.New(registry.WithClock(opts.now))
		runs = run.New()
	)

	s := &service{
		registry:   reg,
		store:      store,
		runs:       runs,
		startCards: opts.startCards,
		metrics:    opts.metrics,
		hub:        opts.hub,
		staleAfter: opts.staleAfter,
		now:        opts.now,
		router: router.New(reg, store, runs,
			router.WithClock(opts.now),
			router.WithIDGenerator(opts.newID),
		),
	}

	s.metrics.SetLanes(store.Snapshots())

	return s, nil
}

// addPublisher registers p for successful presses.
func (s *service) addPublisher(p PressPublisher) {
	s.publishers = append(s.publishers, p)
}

// Heartbeat merges a telemetry record into the registry.
func (s *service) Heartbeat(ctx context.Context, rec registry.Record) (*timing.Device, error) {
	device, err := s.registry.Upsert(rec)
	if err != nil {
		return nil, err
	}

	s.metrics.SetDevices(s.registry.Len())
	logger.DebugKV(ctx, "Heartbeat", "device_id", device.ID, "mac", device.MAC)

	return device, nil
}

// Devices returns all known tasters.
func (s *service) Devices(context.Context) []*timing.Device {
	return s.registry.List()
}

// IsStale reports whether device missed its heartbeats.
func (s *service) IsStale(device *timing.Device) bool {
	return device.IsStale(s.now(), s.staleAfter)
}

// Assign binds the taster with the given MAC to target. Tasters the registry
// has not seen yet are bound provisionally under the id derived from the MAC.
func (s *service) Assign(ctx context.Context, mac string, target timing.Target) (*timing.Device, error) {
	device, err := s.lookup(mac)
	if err != nil {
		s.metrics.ObserveAssignment(opAssign, err)

		return nil, err
	}

	if target.Starter {
		err = s.store.AssignStarter(device.ID)
	} else {
		err = s.store.Assign(device.ID, target.Lane)
	}

	s.metrics.ObserveAssignment(opAssign, err)

	if err != nil {
		logger.WarnKV(ctx, "Assign rejected", "mac", device.MAC, "lane", target.String(), "error", timing.KindOf(err))

		return nil, fmt.Errorf("assign %s to %s: %w", device.ID, target, err)
	}

	logger.InfoKV(ctx, "Taster assigned", "device_id", device.ID, "lane", target.String())
	s.mappingChanged()

	return device, nil
}

// Unassign clears target: the pending taster of a lane first, then its active one.
func (s *service) Unassign(ctx context.Context, target timing.Target) error {
	var err error

	if target.Starter {
		s.store.UnassignStarter()
	} else {
		err = s.store.Unassign(target.Lane)
	}

	s.metrics.ObserveAssignment(opUnassign, err)

	if err != nil {
		return fmt.Errorf("unassign %s: %w", target, err)
	}

	logger.InfoKV(ctx, "Lane unassigned", "lane", target.String())
	s.mappingChanged()

	return nil
}

// Confirm promotes the pending taster of lane.
func (s *service) Confirm(ctx context.Context, lane int) error {
	err := s.store.ConfirmPending(lane)
	s.metrics.ObserveAssignment(opConfirm, err)

	if err != nil {
		return fmt.Errorf("confirm lane %d: %w", lane, err)
	}

	logger.InfoKV(ctx, "Pending taster confirmed", "lane", lane)
	s.mappingChanged()

	return nil
}

// Press routes a press and notifies subscribers and publishers of the result.
func (s *service) Press(ctx context.Context, req router.Request) *timing.Press {
	press := s.router.Route(ctx, req)
	s.metrics.ObservePress(press)
	s.hub.Publish(events.Event{Type: events.TypePress, Data: press})

	if !press.OK() {
		return press
	}

	for _, p := range s.publishers {
		if err := p.PublishPress(ctx, press); err != nil {
			logger.WarnKV(ctx, "Failed to forward press", "lane", press.Lane, "error", err)
		}
	}

	return press
}

// CurrentRun returns the selected heat.
func (s *service) CurrentRun(context.Context) (string, bool) {
	return s.runs.Current()
}

// SetRun selects the current heat; a blank value clears it.
func (s *service) SetRun(ctx context.Context, value string) string {
	current := s.runs.SetCurrent(value)

	logger.InfoKV(ctx, "Current run changed", "run", current)
	s.hub.Publish(events.Event{Type: events.TypeRun, Data: current})

	return current
}

// Mapping returns the display view of the lane table.
func (s *service) Mapping(context.Context) *timing.Mapping {
	states, starter := s.store.Table()

	var (
		bound  = make(map[string]struct{})
		result = &timing.Mapping{
			MaxLane: len(states),
			Lanes:   make([]timing.LaneView, len(states)),
		}
	)

	for i, state := range states {
		view := timing.LaneView{Lane: i + 1}

		if id, ok := state.Active(); ok {
			view.Active = s.resolve(id)
			bound[id] = struct{}{}
		}

		if id, ok := state.Pending(); ok {
			view.Pending = s.resolve(id)
			bound[id] = struct{}{}
		}

		result.Lanes[i] = view
	}

	if starter != "" {
		result.Starter = s.resolve(starter)
		bound[starter] = struct{}{}
	}

	result.Unmapped = make([]*timing.Device, 0)

	for _, device := range s.registry.List() {
		if _, ok := bound[device.ID]; !ok {
			result.Unmapped = append(result.Unmapped, device)
		}
	}

	result.CurrentRun, _ = s.runs.Current()

	return result
}

// StartCards returns the current start card snapshot.
func (s *service) StartCards(context.Context) *startcard.Snapshot {
	return s.startCards.Snapshot()
}

// StartCardSettings returns the export location.
func (s *service) StartCardSettings(context.Context) startcard.Settings {
	return s.startCards.Settings()
}

// UpdateStartCardSettings changes the export location.
func (s *service) UpdateStartCardSettings(ctx context.Context, settings startcard.Settings) startcard.Settings {
	updated := s.startCards.SetSettings(settings)
	logger.InfoKV(ctx, "Start card settings updated", "url", updated.URL())

	return updated
}

// ReloadStartCards refreshes the start cards and resizes the lane table to
// their lane count. On failure the previous snapshot and table stay in place.
func (s *service) ReloadStartCards(ctx context.Context) (*startcard.Snapshot, error) {
	snapshot, err := s.startCards.Refresh(ctx)
	s.metrics.ObserveStartCardFetch(err)

	if err != nil {
		return snapshot, err
	}

	s.applyMaxLane(ctx, snapshot)

	return snapshot, nil
}

// applyMaxLane resizes the lane table to the lane count of snapshot.
func (s *service) applyMaxLane(ctx context.Context, snapshot *startcard.Snapshot) {
	if snapshot == nil || snapshot.MaxLane < 1 || snapshot.MaxLane == s.store.MaxLane() {
		return
	}

	released, err := s.store.Resize(snapshot.MaxLane)
	if err != nil {
		logger.ErrorKV(ctx, "Failed to resize lane table", "max_lane", snapshot.MaxLane, "error", err)

		return
	}

	for _, r := range released {
		active, _ := r.State.Active()
		pending, _ := r.State.Pending()
		logger.WarnKV(ctx, "Binding dropped by lane table resize", "lane", r.Lane, "active", active, "pending", pending)
	}

	logger.InfoKV(ctx, "Lane table resized", "max_lane", snapshot.MaxLane)
	s.mappingChanged()
}

// lookup returns the registered device for mac or a provisional one.
func (s *service) lookup(mac string) (*timing.Device, error) {
	normalized, err := timing.NormalizeMAC(mac)
	if err != nil {
		return nil, err
	}

	if device, ok := s.registry.FindByMAC(normalized); ok {
		return device, nil
	}

	return &timing.Device{
		ID:  timing.DeviceIDFromMAC(normalized),
		MAC: normalized,
	}, nil
}

// resolve returns the device with id, or a provisional record when the
// registry has not seen it.
func (s *service) resolve(id string) *timing.Device {
	if device, ok := s.registry.FindByID(id); ok {
		return device
	}

	mac, _ := timing.MACFromDeviceID(id)

	return &timing.Device{
		ID:  id,
		MAC: mac,
	}
}

// mappingChanged refreshes the lane gauges and notifies subscribers.
func (s *service) mappingChanged() {
	s.metrics.SetLanes(s.store.Snapshots())
	s.hub.Publish(events.Event{Type: events.TypeMapping})
}
