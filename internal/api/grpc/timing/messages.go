package timing

import (
	"encoding/json"
	"fmt"
	"strconv"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	domain "github.com/oshokin/stoppuhr/internal/domain/timing"
)

// Device is the wire form of a taster.
type Device struct {
	ID             string `json:"id"`
	MAC            string `json:"mac"`
	Name           string `json:"name"`
	LastSeenTS     *int64 `json:"last_seen_ts"`
	BatteryPercent *int   `json:"battery_percent"`
	RSSIDbm        *int   `json:"rssi_dbm"`
	Stale          bool   `json:"stale"`
}

// PressEvent is the wire form of a routed press.
type PressEvent struct {
	ID          string  `json:"id"`
	Lane        *int    `json:"lane"`
	Run         *string `json:"run"`
	MAC         string  `json:"mac"`
	TS          int64   `json:"ts"`
	StopwatchMS *int64  `json:"stopwatch_ms"`
	Starter     bool    `json:"starter"`
}

// PressReply answers Press.
type PressReply struct {
	OK    bool        `json:"ok"`
	Error string      `json:"error,omitempty"`
	Press *PressEvent `json:"press,omitempty"`
}

// Reply answers Assign, Unassign and SetRun.
type Reply struct {
	OK     bool    `json:"ok"`
	Error  string  `json:"error,omitempty"`
	Taster *Device `json:"taster,omitempty"`
	Run    *string `json:"run"`
}

// MappingReply answers GetMapping.
type MappingReply struct {
	Mapping    map[string]*Device `json:"mapping"`
	Pending    map[string]*Device `json:"pending"`
	Unmapped   []*Device          `json:"unmapped"`
	Starter    *Device            `json:"starter"`
	MaxLane    int                `json:"max_lane"`
	CurrentRun *string            `json:"current_run"`
}

// ToStruct encodes v, a JSON-tagged value, as a Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	out := new(structpb.Struct)
	if err = protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	return out, nil
}

// FromStruct decodes s into v, a JSON-tagged value.
func FromStruct(s *structpb.Struct, v any) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode message: %w", err)
	}

	if err = json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}

	return nil
}

// NewDevice converts a domain device, marking it stale by isStale.
// A nil device yields nil.
func NewDevice(device *domain.Device, isStale func(*domain.Device) bool) *Device {
	if device == nil {
		return nil
	}

	out := &Device{
		ID:             device.ID,
		MAC:            device.MAC,
		Name:           device.Label,
		BatteryPercent: device.BatteryPercent,
		RSSIDbm:        device.RSSIDbm,
		Stale:          isStale(device),
	}

	if !device.LastSeen.IsZero() {
		ms := device.LastSeen.UnixMilli()
		out.LastSeenTS = &ms
	}

	return out
}

// NewDevices converts a list of devices.
func NewDevices(devices []*domain.Device, isStale func(*domain.Device) bool) []*Device {
	out := make([]*Device, 0, len(devices))
	for _, device := range devices {
		out = append(out, NewDevice(device, isStale))
	}

	return out
}

// NewPressEvent converts a press. Lane is set only for a routed lane press.
func NewPressEvent(press *domain.Press) *PressEvent {
	out := &PressEvent{
		ID:          press.ID,
		MAC:         press.MAC,
		TS:          press.TS,
		StopwatchMS: press.StopwatchMS,
		Starter:     press.Starter,
	}

	if press.OK() && !press.Starter {
		lane := press.Lane
		out.Lane = &lane
	}

	if press.Run != "" {
		run := press.Run
		out.Run = &run
	}

	return out
}

// NewMappingReply converts the lane table view.
func NewMappingReply(mapping *domain.Mapping, isStale func(*domain.Device) bool) *MappingReply {
	reply := &MappingReply{
		Mapping:  make(map[string]*Device, len(mapping.Lanes)),
		Pending:  make(map[string]*Device),
		Unmapped: NewDevices(mapping.Unmapped, isStale),
		Starter:  NewDevice(mapping.Starter, isStale),
		MaxLane:  mapping.MaxLane,
	}

	for _, lane := range mapping.Lanes {
		key := strconv.Itoa(lane.Lane)
		reply.Mapping[key] = NewDevice(lane.Active, isStale)

		if lane.Pending != nil {
			reply.Pending[key] = NewDevice(lane.Pending, isStale)
		}
	}

	if mapping.CurrentRun != "" {
		current := mapping.CurrentRun
		reply.CurrentRun = &current
	}

	return reply
}
