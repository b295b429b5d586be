package timing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	grpcapi "github.com/oshokin/stoppuhr/internal/api/grpc/timing"
	domain "github.com/oshokin/stoppuhr/internal/domain/timing"
)

// mappingResponse is the body of GET /api/mapping. unmapped_taster repeats
// unmapped for older displays.
type mappingResponse struct {
	*grpcapi.MappingReply

	UnmappedTaster []*grpcapi.Device `json:"unmapped_taster"`
}

// pressDTO is a press with its routing outcome, as streamed to displays.
type pressDTO struct {
	*grpcapi.PressEvent

	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// assignRequest is the body of POST /api/assign.
type assignRequest struct {
	MAC  string      `json:"mac"`
	Lane laneOrToken `json:"lane"`
}

// laneRequest is the body of POST /api/unassign and /api/confirm.
type laneRequest struct {
	Lane laneOrToken `json:"lane"`
}

// triggerRequest is the body of POST /api/triggers.
type triggerRequest struct {
	MAC         string `json:"mac"`
	TS          *int64 `json:"ts"`
	StopwatchMS *int64 `json:"stopwatch_ms"`
}

// runRequest is the body of POST /api/runs.
type runRequest struct {
	CurrentRun looseString `json:"current_run"`
}

// heartbeatRequest is the body of POST /api/taster.
type heartbeatRequest struct {
	MAC            string `json:"mac"`
	Name           string `json:"name"`
	TS             *int64 `json:"ts"`
	BatteryPercent *int   `json:"battery_percent"`
	RSSIDbm        *int   `json:"rssi_dbm"`
}

// reloadRequest is the optional body of POST /api/startcards/reload.
type reloadRequest struct {
	BaseURL string `json:"base_url"`
	Suffix  string `json:"suffix"`
}

// laneOrToken accepts 3, "3" or "starter".
type laneOrToken struct {
	raw string
	set bool
}

// UnmarshalJSON keeps the raw token for ParseTarget.
func (l *laneOrToken) UnmarshalJSON(data []byte) error {
	value, ok, err := decodeLoose(data)
	if err != nil {
		return err
	}

	l.raw, l.set = value, ok

	return nil
}

// target parses the token.
func (l laneOrToken) target() (domain.Target, error) {
	if !l.set {
		return domain.Target{}, fmt.Errorf("%w: lane is required", domain.ErrBadRequest)
	}

	return domain.ParseTarget(l.raw)
}

// looseString accepts a string, a number or null.
type looseString struct {
	value string
}

// UnmarshalJSON decodes strings and numbers, null leaves the value empty.
func (s *looseString) UnmarshalJSON(data []byte) error {
	value, _, err := decodeLoose(data)
	if err != nil {
		return err
	}

	s.value = value

	return nil
}

// decodeLoose reads a JSON string, number or null.
func decodeLoose(data []byte) (string, bool, error) {
	data = bytes.TrimSpace(data)

	if bytes.Equal(data, []byte("null")) {
		return "", false, nil
	}

	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		return strings.TrimSpace(text), true, nil
	}

	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return "", false, fmt.Errorf("%w: expected string or number, got %s", domain.ErrBadRequest, data)
	}

	return number.String(), true, nil
}

// toMappingResponse converts the table view.
func toMappingResponse(mapping *domain.Mapping, isStale func(*domain.Device) bool) *mappingResponse {
	reply := grpcapi.NewMappingReply(mapping, isStale)

	return &mappingResponse{
		MappingReply:   reply,
		UnmappedTaster: reply.Unmapped,
	}
}

// toPressDTO converts a press.
func toPressDTO(press *domain.Press) *pressDTO {
	return &pressDTO{
		PressEvent: grpcapi.NewPressEvent(press),
		OK:         press.OK(),
		Error:      string(press.Kind()),
	}
}
