package hub

import "github.com/afroash/device-hub/internal/models"

// ClientsGroup is the delivery group every registered observer joins
const ClientsGroup = "clients"

// DeviceGroup returns the delivery group used to reach one device
func DeviceGroup(deviceID string) string {
	return "device:" + deviceID
}

// Transport delivers events to connections. Implementations must not block:
// sends are fire-and-forget.
type Transport interface {
	SendToOne(connID string, event models.MessageType, payload interface{})
	SendToGroup(group string, event models.MessageType, payload interface{})
	Join(connID, group string)
	Leave(connID, group string)
}

// Recorder receives every accepted telemetry point (e.g. a persistent archive)
type Recorder interface {
	RecordTelemetry(deviceID string, point models.TelemetryPoint)
}

// Publisher mirrors every event broadcast to clients (e.g. onto a message bus)
type Publisher interface {
	Publish(event models.MessageType, payload interface{})
}
