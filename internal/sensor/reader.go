package sensor

import (
	"context"
	"time"

	"github.com/afroash/device-hub/internal/models"
	"github.com/rs/zerolog"
)

// Reader samples a Source on a fixed interval and publishes readings
type Reader struct {
	source   Source
	deviceID string
	interval time.Duration
	logger   zerolog.Logger
	readings chan *models.Reading
}

// NewReader creates a reader for deviceID
func NewReader(source Source, deviceID string, interval time.Duration, logger zerolog.Logger) *Reader {
	return &Reader{
		source:   source,
		deviceID: deviceID,
		interval: interval,
		logger:   logger,
		readings: make(chan *models.Reading, 10),
	}
}

// Start samples until ctx is cancelled. The first sample is taken immediately.
func (r *Reader) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.readAndPublish()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.readAndPublish()
		}
	}
}

// ReadOnce takes a single sample
func (r *Reader) ReadOnce() (*models.Reading, error) {
	temperature, humidity, err := r.source.Read()
	if err != nil {
		return nil, err
	}
	return models.NewReading(r.deviceID, temperature, humidity), nil
}

func (r *Reader) readAndPublish() {
	reading, err := r.ReadOnce()
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to read from sensor")
		return
	}
	if !reading.IsValid() {
		r.logger.Warn().Str("reading", reading.String()).Msg("Sample out of sensor range, discarded")
		return
	}

	// Consumers that fall behind lose samples rather than stall the ticker
	select {
	case r.readings <- reading:
		r.logger.Debug().Str("reading", reading.String()).Msg("Sensor sampled")
	default:
		r.logger.Warn().Msg("Reading channel full, sample dropped")
	}
}

// Readings returns the channel readings are published on
func (r *Reader) Readings() <-chan *models.Reading {
	return r.readings
}

// Close releases the source
func (r *Reader) Close() error {
	return r.source.Close()
}
