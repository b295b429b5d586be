package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/oshokin/stoppuhr/internal/config"
	"github.com/oshokin/stoppuhr/internal/logger"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for the initial connection.
	defaultConnectTimeout = 10 * time.Second
	// defaultDisconnectQuiesce is the time in ms granted to pending work on disconnect.
	defaultDisconnectQuiesce = 250
	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 30 * time.Second
	// maxReconnectInterval caps the reconnect backoff.
	maxReconnectInterval = time.Minute
	// maxQoS is the highest MQTT quality of service level.
	maxQoS = 2
)

// MessageHandler is the callback signature for received messages.
// Handlers run on paho goroutines and should not block.
type MessageHandler func(topic string, payload []byte) error

// subscription holds subscription details for re-subscription on reconnect.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// Client wraps a paho client with tracked subscriptions and handler recovery.
type Client struct {
	client pahomqtt.Client
	// timeout bounds subscribe and publish acknowledgements.
	timeout time.Duration

	// subscriptions are restored after every reconnect.
	subscriptions map[string]subscription
	subMu         sync.RWMutex
}

// Connect dials the broker described by cfg.
func Connect(ctx context.Context, cfg config.MQTTConfig, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = config.DefaultTimeout
	}

	c := &Client{
		timeout:       timeout,
		subscriptions: make(map[string]subscription),
	}

	opts := buildClientOptions(cfg)

	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		logger.InfoKV(ctx, "MQTT connected", "broker", cfg.Broker)
		c.restoreSubscriptions()
	})

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.WarnKV(ctx, "MQTT connection lost", "broker", cfg.Broker, "error", err)
	})

	c.client = pahomqtt.NewClient(opts)

	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}

	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return c, nil
}

// buildClientOptions creates paho options from the broker settings.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(maxReconnectInterval)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)
	// Press handlers publish and wait for the broker ack; with ordered
	// delivery that ack queues behind the handler itself.
	opts.SetOrderMatters(false)

	return opts
}

// Subscribe registers handler for topic. Wildcards are allowed.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	if qos > maxQoS {
		return ErrInvalidQoS
	}

	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{topic: topic, qos: qos, handler: handler}
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, qos, wrapHandler(handler))
	if err := c.wait(token); err != nil {
		c.subMu.Lock()
		delete(c.subscriptions, topic)
		c.subMu.Unlock()

		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	return nil
}

// Publish sends payload to topic and waits for the acknowledgement.
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := c.wait(c.client.Publish(topic, qos, retained, payload)); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// IsConnected reports the paho connection state.
func (c *Client) IsConnected() bool {
	return c != nil && c.client != nil && c.client.IsConnected()
}

// Close disconnects from the broker.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}

	c.client.Disconnect(defaultDisconnectQuiesce)

	return nil
}

// wait blocks until token completes or the client timeout expires.
func (c *Client) wait(token pahomqtt.Token) error {
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("timeout after %v", c.timeout)
	}

	return token.Error()
}

// restoreSubscriptions re-subscribes to all tracked topics after reconnect.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscriptions {
		c.client.Subscribe(sub.topic, sub.qos, wrapHandler(sub.handler))
	}
}

// wrapHandler adapts handler to paho, recovering panics and logging errors.
func wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		ctx := logger.WithKV(context.Background(), "topic", msg.Topic())

		defer func() {
			if r := recover(); r != nil {
				logger.ErrorKV(ctx, "MQTT handler panic recovered", "panic", r)
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			logger.WarnKV(ctx, "MQTT handler returned error", "error", err)
		}
	}
}
