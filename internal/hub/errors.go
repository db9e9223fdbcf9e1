package hub

import "errors"

// Router errors. None of them is fatal; callers log and carry on.
var (
	// ErrInvalidRegistration: missing or malformed deviceId. The sender is told.
	ErrInvalidRegistration = errors.New("invalid device registration")

	// ErrUnresolvedSender: telemetry or heartbeat from a connection with no device.
	ErrUnresolvedSender = errors.New("connection has no registered device")

	// ErrMalformedPayload: telemetry body that does not parse to a JSON object.
	ErrMalformedPayload = errors.New("malformed telemetry payload")

	// ErrUnknownTarget: control command for a device that is not registered.
	ErrUnknownTarget = errors.New("unknown target device")
)
