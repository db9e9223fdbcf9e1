package models

import (
	"fmt"
	"time"
)

// Reading is a DHT measurement taken on the device side before it is sent as telemetry
type Reading struct {
	DeviceID    string    `json:"device_id"`
	Timestamp   time.Time `json:"timestamp"`
	Humidity    float64   `json:"humidity"`
	Temperature float64   `json:"temperature"`
}

// IsValid checks if the reading values are within acceptable ranges
// DHT11 ranges: temp -20 to 60°C, humidity 0-100%
func (r *Reading) IsValid() bool {
	const (
		minTemp     = -20.0
		maxTemp     = 60.0
		minHumidity = 0.0
		maxHumidity = 100.0
	)

	if r.DeviceID == "" || r.Timestamp.IsZero() {
		return false
	}
	if r.Temperature < minTemp || r.Temperature > maxTemp {
		return false
	}
	if r.Humidity < minHumidity || r.Humidity > maxHumidity {
		return false
	}
	return true
}

// TelemetryData returns the body a device puts on the wire: {temp, hum}
func (r *Reading) TelemetryData() map[string]interface{} {
	return map[string]interface{}{
		"temp": r.Temperature,
		"hum":  r.Humidity,
	}
}

func (r *Reading) String() string {
	return fmt.Sprintf("DeviceID: %s, Timestamp: %s, Humidity: %.1f%%, Temperature: %.1f°C",
		r.DeviceID,
		r.Timestamp.Format(time.RFC3339),
		r.Humidity,
		r.Temperature)
}

// NewReading creates a new Reading with the current timestamp
func NewReading(deviceID string, temperature, humidity float64) *Reading {
	return &Reading{
		DeviceID:    deviceID,
		Timestamp:   time.Now(),
		Humidity:    humidity,
		Temperature: temperature,
	}
}
