// internal/models/reading_test.go
package models

import (
	"testing"
	"time"
)

func TestReading_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		reading  Reading
		expected bool
	}{
		{"valid reading", Reading{DeviceID: "esp32-01", Temperature: 22.5, Humidity: 45.0, Timestamp: time.Now()}, true},
		{"temperature too low", Reading{DeviceID: "esp32-01", Temperature: -25.0, Humidity: 45.0, Timestamp: time.Now()}, false},
		{"temperature too high", Reading{DeviceID: "esp32-01", Temperature: 65.0, Humidity: 45.0, Timestamp: time.Now()}, false},
		{"humidity too high", Reading{DeviceID: "esp32-01", Temperature: 22.5, Humidity: 105.0, Timestamp: time.Now()}, false},
		{"missing device", Reading{Temperature: 22.5, Humidity: 45.0, Timestamp: time.Now()}, false},
		{"zero timestamp", Reading{DeviceID: "esp32-01", Temperature: 22.5, Humidity: 45.0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := tt.reading.IsValid(); result != tt.expected {
				t.Errorf("IsValid() = %v, expected %v", result, tt.expected)
			}
		})
	}
}

func TestReading_TelemetryData(t *testing.T) {
	r := NewReading("esp32-01", 31, 50)
	data := r.TelemetryData()
	if data["temp"] != 31.0 || data["hum"] != 50.0 {
		t.Errorf("TelemetryData() = %v", data)
	}
}

func TestDeviceInfo_Uptime(t *testing.T) {
	info := NewDeviceInfo("esp32-01", "Lab", "DHT11", "v1.0.0")
	info.StartTime = time.Now().Add(-1 * time.Hour)

	uptime := info.Uptime()
	if uptime < 59*time.Minute || uptime > 61*time.Minute {
		t.Errorf("Uptime = %v, expected approximately 1 hour", uptime)
	}
}
