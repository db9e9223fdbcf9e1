package server

import (
	"encoding/json"
	"time"

	"github.com/afroash/device-hub/internal/models"
	"github.com/afroash/device-hub/internal/storage"
)

// EventRouter receives decoded inbound events.
// hub.Router implements this interface.
type EventRouter interface {
	OnRegisterDevice(connID, deviceID string) error
	OnRegisterClient(connID string)
	OnTelemetry(connID string, raw json.RawMessage) error
	OnControlDevice(deviceID string, command json.RawMessage) error
	OnGetTelemetryHistory(connID, deviceID string, limit int)
	OnGetStats(connID string)
	OnHeartbeat(connID string) error
	OnDeviceOffline(connID string) error
	OnDisconnect(connID string)
}

// DeviceQuerier exposes read-only snapshots of hub state.
// hub.Router implements this interface.
type DeviceQuerier interface {
	// Devices returns every registered device, sorted by id
	Devices() []models.DeviceSummary

	// History returns up to limit recent points for a device, oldest first
	History(deviceID string, limit int) []models.TelemetryPoint

	// Stats returns device, client and telemetry counts
	Stats() models.DeviceStats
}

// ArchiveReader defines read access to the persistent telemetry archive.
// storage.SQLiteStore implements this interface.
type ArchiveReader interface {
	// GetTelemetrySince returns records at or after since, oldest first
	GetTelemetrySince(deviceID string, since time.Time, limit int) ([]*storage.TelemetryRecord, error)

	// GetStorageStats returns database statistics
	GetStorageStats() (*storage.StorageStats, error)

	// GetDeviceIDs returns every device id with archived telemetry
	GetDeviceIDs() ([]string, error)
}

// StatsFunc reports the counters of a background component
type StatsFunc func() interface{}
