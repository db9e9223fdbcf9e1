package sensor

import (
	"fmt"

	"github.com/afroash/dht"
)

// Source produces one temperature/humidity sample per Read
type Source interface {
	// Read returns temperature (°C) and relative humidity (%)
	Read() (temperature float64, humidity float64, err error)

	// Close releases the underlying hardware
	Close() error
}

// DHT11Reader reads a DHT11 wired to a GPIO pin
type DHT11Reader struct {
	pin        int
	maxRetries int
	sensor     *dht.Sensor
}

// NewDHT11Reader opens the sensor on pin
func NewDHT11Reader(pin int) (*DHT11Reader, error) {
	s, err := dht.NewDHT11(pin)
	if err != nil {
		return nil, fmt.Errorf("failed to open DHT11 on GPIO %d: %w", pin, err)
	}
	return &DHT11Reader{
		pin:        pin,
		maxRetries: 3,
		sensor:     s,
	}, nil
}

// Read samples the sensor, retrying checksum failures
func (d *DHT11Reader) Read() (float64, float64, error) {
	reading, err := d.sensor.ReadRetry(d.maxRetries)
	if err != nil {
		return 0, 0, fmt.Errorf("GPIO %d: read failed after %d retries: %w", d.pin, d.maxRetries, err)
	}
	if err := validateReading(reading.Temperature, reading.Humidity); err != nil {
		return 0, 0, fmt.Errorf("invalid reading: %w", err)
	}
	return reading.Temperature, reading.Humidity, nil
}

// Close releases the GPIO pin
func (d *DHT11Reader) Close() error {
	return d.sensor.Close()
}

// validateReading rejects values outside what a DHT11 can report
func validateReading(temp, humidity float64) error {
	const (
		minTemp     = -20.0
		maxTemp     = 60.0
		minHumidity = 0.0
		maxHumidity = 100.0
	)
	if temp < minTemp || temp > maxTemp {
		return fmt.Errorf("temperature %.1f°C outside [%.0f, %.0f]", temp, minTemp, maxTemp)
	}
	if humidity < minHumidity || humidity > maxHumidity {
		return fmt.Errorf("humidity %.1f%% outside [%.0f, %.0f]", humidity, minHumidity, maxHumidity)
	}
	return nil
}
