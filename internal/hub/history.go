package hub

import (
	"time"

	"github.com/afroash/device-hub/internal/models"
)

// DefaultHistorySize is the number of points kept per device
const DefaultHistorySize = 100

// TelemetryStore is a bounded FIFO history per device id. Buffers are keyed
// by device id only, so they outlive the device entry in the Registry.
// It is not safe for concurrent use; the Router serializes access.
type TelemetryStore struct {
	capacity int
	data     map[string][]models.TelemetryPoint
}

// NewTelemetryStore creates a store keeping capacity points per device
func NewTelemetryStore(capacity int) *TelemetryStore {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &TelemetryStore{
		capacity: capacity,
		data:     make(map[string][]models.TelemetryPoint),
	}
}

// Append stamps data with now and pushes it to the tail of the device's
// history, dropping the oldest point when the buffer is full.
func (s *TelemetryStore) Append(deviceID string, data interface{}, now time.Time) models.TelemetryPoint {
	point := models.TelemetryPoint{Data: data, Timestamp: now}

	points := s.data[deviceID]
	if len(points) >= s.capacity {
		points = points[len(points)-s.capacity+1:]
	}
	s.data[deviceID] = append(points, point)
	return point
}

// Recent returns the last min(limit, len) points, oldest first.
// Point data is never mutated after Append, so it is shared.
func (s *TelemetryStore) Recent(deviceID string, limit int) []models.TelemetryPoint {
	points := s.data[deviceID]
	if limit <= 0 || len(points) == 0 {
		return []models.TelemetryPoint{}
	}

	start := len(points) - limit
	if start < 0 {
		start = 0
	}
	result := make([]models.TelemetryPoint, len(points)-start)
	copy(result, points[start:])
	return result
}

// Len returns the number of points held for deviceID
func (s *TelemetryStore) Len(deviceID string) int {
	return len(s.data[deviceID])
}

// TotalPoints returns the number of points held across all devices
func (s *TelemetryStore) TotalPoints() int {
	total := 0
	for _, points := range s.data {
		total += len(points)
	}
	return total
}

// Capacity returns the per-device limit
func (s *TelemetryStore) Capacity() int {
	return s.capacity
}
