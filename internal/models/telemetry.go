package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// TelemetryPoint is one timestamped measurement kept in a device's history.
// Data is whatever JSON value the device sent: usually an object, but
// arrays, scalars and null are kept as-is.
type TelemetryPoint struct {
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// TelemetryEvent is the payload for an outbound MessageTypeTelemetry
type TelemetryEvent struct {
	DeviceID  string      `json:"deviceId"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// ParseTelemetryData decodes an inbound telemetry payload. A JSON string is
// unwrapped once and its content parsed as JSON; any other value is taken
// as-is. Only a body that fails to parse is an error.
func ParseTelemetryData(raw json.RawMessage) (interface{}, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty telemetry payload")
	}

	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("failed to parse telemetry: %w", err)
	}

	encoded, ok := value.(string)
	if !ok {
		return value, nil
	}
	var inner interface{}
	if err := json.Unmarshal([]byte(encoded), &inner); err != nil {
		return nil, fmt.Errorf("failed to parse telemetry string: %w", err)
	}
	return inner, nil
}
