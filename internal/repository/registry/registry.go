package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oshokin/stoppuhr/internal/domain/timing"
)

// Record is one heartbeat or telemetry observation of a taster.
type Record struct {
	// MAC is the hardware address in any notation NormalizeMAC accepts.
	MAC string
	// Label is the display name, empty when the source does not know it.
	Label string
	// SeenAt is the observation time, zero means "now".
	SeenAt time.Time
	// BatteryPercent is the reported charge, nil when unknown.
	BatteryPercent *int
	// RSSIDbm is the reported signal strength, nil when unknown.
	RSSIDbm *int
}

// Registry holds devices keyed by normalised MAC.
type Registry struct {
	// devices maps normalised MAC to device.
	devices map[string]*timing.Device
	// byID maps device id to normalised MAC.
	byID map[string]string
	// now returns the current time, replaceable in tests.
	now func() time.Time
	// mu protects devices and byID.
	mu sync.RWMutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces the time source used for records without SeenAt.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		devices: make(map[string]*timing.Device),
		byID:    make(map[string]string),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Upsert merges rec into the registry and returns a copy of the stored device.
//
// Fields of a record at least as recent as the stored one overwrite it; an
// older record only fills fields the stored device does not have yet.
func (r *Registry) Upsert(rec Record) (*timing.Device, error) {
	mac, err := timing.NormalizeMAC(rec.MAC)
	if err != nil {
		return nil, fmt.Errorf("upsert taster: %w", err)
	}

	seenAt := rec.SeenAt
	if seenAt.IsZero() {
		seenAt = r.now()
	}

	label := strings.TrimSpace(rec.Label)

	r.mu.Lock()
	defer r.mu.Unlock()

	device, ok := r.devices[mac]
	if !ok {
		device = &timing.Device{
			ID:  timing.DeviceIDFromMAC(mac),
			MAC: mac,
		}

		r.devices[mac] = device
		r.byID[device.ID] = mac
	}

	if !seenAt.Before(device.LastSeen) {
		device.LastSeen = seenAt

		if label != "" {
			device.Label = label
		}

		if rec.BatteryPercent != nil {
			device.BatteryPercent = copyInt(rec.BatteryPercent)
		}

		if rec.RSSIDbm != nil {
			device.RSSIDbm = copyInt(rec.RSSIDbm)
		}

		return device.Clone(), nil
	}

	if device.Label == "" {
		device.Label = label
	}

	if device.BatteryPercent == nil {
		device.BatteryPercent = copyInt(rec.BatteryPercent)
	}

	if device.RSSIDbm == nil {
		device.RSSIDbm = copyInt(rec.RSSIDbm)
	}

	return device.Clone(), nil
}

// FindByMAC returns the device with the given address.
func (r *Registry) FindByMAC(mac string) (*timing.Device, bool) {
	normalized, err := timing.NormalizeMAC(mac)
	if err != nil {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	device, ok := r.devices[normalized]
	if !ok {
		return nil, false
	}

	return device.Clone(), true
}

// FindByID returns the device with the given id.
func (r *Registry) FindByID(id string) (*timing.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mac, ok := r.byID[id]
	if !ok {
		return nil, false
	}

	return r.devices[mac].Clone(), true
}

// List returns copies of all devices ordered by id.
func (r *Registry) List() []*timing.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*timing.Device, 0, len(r.devices))
	for _, device := range r.devices {
		result = append(result, device.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	return result
}

// Touch moves the last-seen time of mac forward to ts.
// It reports false when the device is unknown.
func (r *Registry) Touch(mac string, ts time.Time) bool {
	normalized, err := timing.NormalizeMAC(mac)
	if err != nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	device, ok := r.devices[normalized]
	if !ok {
		return false
	}

	if ts.After(device.LastSeen) {
		device.LastSeen = ts
	}

	return true
}

// Len returns the number of known devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.devices)
}

// copyInt copies an optional integer.
func copyInt(v *int) *int {
	if v == nil {
		return nil
	}

	c := *v

	return &c
}
