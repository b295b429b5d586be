package timing

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// macLength is the number of octets in a hardware address.
const macLength = 6

// ErrInvalidMAC is returned when a hardware address cannot be parsed.
var ErrInvalidMAC = errors.New("invalid mac address")

// Device is a taster known to the registry.
type Device struct {
	// ID is the stable identifier derived from the MAC.
	ID string
	// MAC is the normalised hardware address, the external key of a taster.
	MAC string
	// Label is the short display name, usually a letter.
	Label string
	// LastSeen is the time of the latest heartbeat or press.
	LastSeen time.Time
	// BatteryPercent is the last reported battery charge, if any.
	BatteryPercent *int
	// RSSIDbm is the last reported signal strength, if any.
	RSSIDbm *int
}

// Clone returns a deep copy of the device.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}

	cloned := *d
	cloned.BatteryPercent = cloneInt(d.BatteryPercent)
	cloned.RSSIDbm = cloneInt(d.RSSIDbm)

	return &cloned
}

// IsStale reports whether the device has not been seen within after.
func (d *Device) IsStale(now time.Time, after time.Duration) bool {
	if d.LastSeen.IsZero() {
		return true
	}

	return now.Sub(d.LastSeen) > after
}

// NormalizeMAC parses a hardware address written with colons, dashes, dots
// or no separators and returns it as upper-case colon-separated octets.
func NormalizeMAC(raw string) (string, error) {
	cleaned := strings.NewReplacer(":", "", "-", "", ".", "", " ", "").Replace(strings.TrimSpace(raw))

	octets, err := hex.DecodeString(cleaned)
	if err != nil || len(octets) != macLength {
		return "", fmt.Errorf("%w: %q", ErrInvalidMAC, raw)
	}

	parts := make([]string, len(octets))
	for i, octet := range octets {
		parts[i] = fmt.Sprintf("%02X", octet)
	}

	return strings.Join(parts, ":"), nil
}

// DeviceIDFromMAC derives the stable device id of a normalised MAC.
// A lane can be bound to a taster that has never sent a heartbeat, so the
// id must be computable from the MAC alone.
func DeviceIDFromMAC(mac string) string {
	return "T-" + strings.ReplaceAll(mac, ":", "")
}

// MACFromDeviceID recovers the normalised MAC of an id built by DeviceIDFromMAC.
func MACFromDeviceID(id string) (string, bool) {
	hexDigits, ok := strings.CutPrefix(id, "T-")
	if !ok {
		return "", false
	}

	mac, err := NormalizeMAC(hexDigits)
	if err != nil {
		return "", false
	}

	return mac, true
}

// cloneInt copies an optional integer.
func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}

	c := *v

	return &c
}
