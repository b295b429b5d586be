package mqtt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oshokin/stoppuhr/internal/domain/timing"
	"github.com/oshokin/stoppuhr/internal/logger"
	"github.com/oshokin/stoppuhr/internal/repository/registry"
	"github.com/oshokin/stoppuhr/internal/service/router"
)

// Sink receives decoded taster traffic.
type Sink interface {
	Heartbeat(ctx context.Context, rec registry.Record) (*timing.Device, error)
	Press(ctx context.Context, req router.Request) *timing.Press
}

// Transport is the broker side of the consumer.
type Transport interface {
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// heartbeatMessage is the payload of <prefix>/taster/<mac>/heartbeat.
type heartbeatMessage struct {
	Name           string `json:"name"`
	TS             *int64 `json:"ts"`
	BatteryPercent *int   `json:"battery_percent"`
	RSSIDbm        *int   `json:"rssi_dbm"`
}

// pressMessage is the payload of <prefix>/taster/<mac>/press.
type pressMessage struct {
	TS          *int64 `json:"ts"`
	StopwatchMS *int64 `json:"stopwatch_ms"`
}

// laneMessage is the payload published for a resolved press.
type laneMessage struct {
	ID          string  `json:"id"`
	Lane        *int    `json:"lane"`
	Run         *string `json:"run"`
	MAC         string  `json:"mac"`
	TS          int64   `json:"ts"`
	StopwatchMS *int64  `json:"stopwatch_ms"`
	Starter     bool    `json:"starter"`
}

// errUnexpectedTopic is returned for messages outside the taster topics.
var errUnexpectedTopic = errors.New("unexpected topic")

// Consumer bridges taster MQTT traffic and the lane router.
type Consumer struct {
	sink      Sink
	transport Transport
	topics    Topics
	qos       byte
}

// NewConsumer creates a consumer for topics under prefix.
func NewConsumer(sink Sink, transport Transport, prefix string, qos byte) *Consumer {
	return &Consumer{
		sink:      sink,
		transport: transport,
		topics:    Topics{Prefix: prefix},
		qos:       qos,
	}
}

// Start subscribes to taster heartbeats and presses.
func (c *Consumer) Start() error {
	if err := c.transport.Subscribe(c.topics.TasterHeartbeats(), c.qos, c.HandleHeartbeat); err != nil {
		return fmt.Errorf("subscribe heartbeats: %w", err)
	}

	if err := c.transport.Subscribe(c.topics.TasterPresses(), c.qos, c.HandlePress); err != nil {
		return fmt.Errorf("subscribe presses: %w", err)
	}

	return nil
}

// HandleHeartbeat merges a heartbeat into the registry.
func (c *Consumer) HandleHeartbeat(topic string, payload []byte) error {
	mac, leaf, ok := c.topics.ParseTasterTopic(topic)
	if !ok || leaf != leafHeartbeat {
		return fmt.Errorf("%w: %s", errUnexpectedTopic, topic)
	}

	var msg heartbeatMessage
	if err := decode(payload, &msg); err != nil {
		return fmt.Errorf("decode heartbeat: %w", err)
	}

	rec := registry.Record{
		MAC:            mac,
		Label:          msg.Name,
		BatteryPercent: msg.BatteryPercent,
		RSSIDbm:        msg.RSSIDbm,
	}

	if msg.TS != nil {
		rec.SeenAt = time.UnixMilli(*msg.TS)
	}

	if _, err := c.sink.Heartbeat(context.Background(), rec); err != nil {
		return fmt.Errorf("heartbeat from %s: %w", mac, err)
	}

	return nil
}

// HandlePress routes a press. Rejected presses are logged, not returned.
func (c *Consumer) HandlePress(topic string, payload []byte) error {
	mac, leaf, ok := c.topics.ParseTasterTopic(topic)
	if !ok || leaf != leafPress {
		return fmt.Errorf("%w: %s", errUnexpectedTopic, topic)
	}

	var msg pressMessage
	if err := decode(payload, &msg); err != nil {
		return fmt.Errorf("decode press: %w", err)
	}

	ctx := logger.WithName(context.Background(), "mqtt")

	press := c.sink.Press(ctx, router.Request{
		MAC:         mac,
		TS:          msg.TS,
		StopwatchMS: msg.StopwatchMS,
	})

	if !press.OK() {
		logger.WarnKV(ctx, "Press rejected", "mac", mac, "error", press.Kind())
	}

	return nil
}

// PublishPress forwards a resolved press to its lane topic.
func (c *Consumer) PublishPress(_ context.Context, press *timing.Press) error {
	msg := laneMessage{
		ID:          press.ID,
		MAC:         press.MAC,
		TS:          press.TS,
		StopwatchMS: press.StopwatchMS,
		Starter:     press.Starter,
	}

	topic := c.topics.StarterPress()

	if !press.Starter {
		lane := press.Lane
		msg.Lane = &lane
		topic = c.topics.LanePress(lane)
	}

	if press.Run != "" {
		run := press.Run
		msg.Run = &run
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode press: %w", err)
	}

	return c.transport.Publish(topic, c.qos, false, payload)
}

// decode unmarshals payload into v; an empty payload leaves v untouched.
func decode(payload []byte, v any) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}

	return json.Unmarshal(payload, v)
}
