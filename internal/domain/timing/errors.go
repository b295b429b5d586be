package timing

import "errors"

// Routing and assignment failures. They are returned wrapped, use errors.Is.
var (
	// ErrLaneOutOfRange is returned for lanes outside [1, maxLane].
	ErrLaneOutOfRange = errors.New("lane out of range")
	// ErrDeviceUnknown is returned when a press comes from an unregistered MAC.
	ErrDeviceUnknown = errors.New("device unknown")
	// ErrUnassigned is returned when the pressing taster has no binding.
	ErrUnassigned = errors.New("device unassigned")
	// ErrPendingNotConfirmed is returned when the pressing taster is only pending.
	ErrPendingNotConfirmed = errors.New("pending assignment not confirmed")
	// ErrTransport is returned when an external fetch fails.
	ErrTransport = errors.New("transport error")
	// ErrBadRequest is returned for malformed input.
	ErrBadRequest = errors.New("bad request")
)

// Kind is the wire name of a failure.
type Kind string

// Wire names of failures, as reported in {"ok": false, "error": ...}.
const (
	KindNone                Kind = ""
	KindLaneOutOfRange      Kind = "LaneOutOfRange"
	KindDeviceUnknown       Kind = "DeviceUnknown"
	KindUnassigned          Kind = "Unassigned"
	KindPendingNotConfirmed Kind = "PendingNotConfirmed"
	KindTransportError      Kind = "TransportError"
	KindBadRequest          Kind = "BadRequest"
	KindInternal            Kind = "Internal"
)

// kinds maps sentinels to wire names in match order.
//
//nolint:gochecknoglobals // Read-only lookup table.
var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrLaneOutOfRange, KindLaneOutOfRange},
	{ErrDeviceUnknown, KindDeviceUnknown},
	{ErrUnassigned, KindUnassigned},
	{ErrPendingNotConfirmed, KindPendingNotConfirmed},
	{ErrTransport, KindTransportError},
	{ErrBadRequest, KindBadRequest},
	{ErrInvalidMAC, KindBadRequest},
}

// KindOf returns the wire name for err.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}

	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}

	return KindInternal
}
