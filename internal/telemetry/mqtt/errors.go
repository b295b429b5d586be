package mqtt

import "errors"

var (
	// ErrConnectionFailed is returned when the broker cannot be reached.
	ErrConnectionFailed = errors.New("mqtt connection failed")
	// ErrNotConnected is returned when an operation needs a live connection.
	ErrNotConnected = errors.New("mqtt not connected")
	// ErrInvalidTopic is returned for empty topics.
	ErrInvalidTopic = errors.New("invalid mqtt topic")
	// ErrInvalidQoS is returned for QoS values above 2.
	ErrInvalidQoS = errors.New("invalid mqtt qos")
	// ErrSubscribeFailed is returned when the broker rejects a subscription.
	ErrSubscribeFailed = errors.New("mqtt subscribe failed")
	// ErrPublishFailed is returned when a publish is not acknowledged.
	ErrPublishFailed = errors.New("mqtt publish failed")
)
