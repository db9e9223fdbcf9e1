package hub

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/afroash/device-hub/internal/models"
	"github.com/rs/zerolog"
)

// Config holds the tunables of the Router
type Config struct {
	HistorySize     int           // points kept per device (default: 100)
	ClientBacklog   int           // points per device replayed to a new client (default: 10)
	HistoryLimit    int           // default limit for history queries (default: 50)
	LivenessTimeout time.Duration // inactivity before a device is evicted (default: 60s)
}

// DefaultConfig returns the defaults listed on Config
func DefaultConfig() Config {
	return Config{
		HistorySize:     DefaultHistorySize,
		ClientBacklog:   10,
		HistoryLimit:    50,
		LivenessTimeout: 60 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	if c.ClientBacklog < 0 {
		c.ClientBacklog = 0
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = d.HistoryLimit
	}
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = d.LivenessTimeout
	}
}

// Router applies inbound events to the Registry and TelemetryStore and fans
// the results out through the Transport.
//
// mu guards registry and store together: every lookup-then-mutate sequence
// runs under it. Outbound deliveries are collected while holding mu and
// performed after it is released; flushMu is taken before mu is released so
// that deliveries leave in the same order the mutations happened.
type Router struct {
	mu       sync.Mutex
	flushMu  sync.Mutex
	registry *Registry
	store    *TelemetryStore

	transport Transport
	recorder  Recorder
	publisher Publisher
	config    Config
	now       func() time.Time
	logger    zerolog.Logger
}

// Option configures optional Router collaborators
type Option func(*Router)

// WithRecorder archives every accepted telemetry point
func WithRecorder(rec Recorder) Option {
	return func(r *Router) { r.recorder = rec }
}

// WithPublisher mirrors client broadcasts
func WithPublisher(pub Publisher) Option {
	return func(r *Router) { r.publisher = pub }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// NewRouter creates a Router delivering through transport
func NewRouter(transport Transport, config Config, logger zerolog.Logger, opts ...Option) *Router {
	config.applyDefaults()
	r := &Router{
		registry:  NewRegistry(),
		store:     NewTelemetryStore(config.HistorySize),
		transport: transport,
		config:    config,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the effective configuration
func (r *Router) Config() Config {
	return r.config
}

// apply runs fn under the state lock and then flushes what it queued
func (r *Router) apply(fn func(out *outbox) error) error {
	var out outbox

	r.mu.Lock()
	err := fn(&out)
	r.flushMu.Lock()
	r.mu.Unlock()

	out.flush(r.transport, r.recorder, r.publisher)
	r.flushMu.Unlock()
	return err
}

// OnRegisterDevice registers deviceID on connID and acknowledges it
func (r *Router) OnRegisterDevice(connID, deviceID string) error {
	return r.apply(func(out *outbox) error {
		if err := ValidateDeviceID(deviceID); err != nil {
			out.toOne(connID, models.MessageTypeRegistrationError, models.ErrorMessage{
				Code:    "invalid_device_id",
				Message: err.Error(),
			})
			return err
		}

		prev, replaced := r.registry.Device(deviceID)
		if replaced && prev.ConnectionID != connID {
			// The orphaned connection stops receiving this device's commands
			out.leave(prev.ConnectionID, DeviceGroup(deviceID))
		}
		old, rebound := r.registry.FindDeviceByConnection(connID)
		rebound = rebound && old.DeviceID != deviceID
		if rebound {
			out.leave(connID, DeviceGroup(old.DeviceID))
		}

		d, err := r.registry.RegisterDevice(connID, deviceID, r.now())
		if err != nil {
			return err
		}
		if rebound {
			out.toGroup(ClientsGroup, models.MessageTypeDeviceUpdate, old.Update())
		}
		out.join(connID, DeviceGroup(deviceID))
		out.toGroup(ClientsGroup, models.MessageTypeDeviceList, r.registry.ListDevices())
		out.toOne(connID, models.MessageTypeRegistrationSuccess, models.RegistrationAck{DeviceID: d.DeviceID})

		r.logger.Info().
			Str("device_id", deviceID).
			Str("conn_id", connID).
			Bool("replaced", replaced).
			Msg("Device registered")
		return nil
	})
}

// OnRegisterClient adds connID as an observer and sends it the current
// device list followed by each device's recent telemetry.
func (r *Router) OnRegisterClient(connID string) {
	_ = r.apply(func(out *outbox) error {
		r.registry.RegisterClient(connID)
		out.join(connID, ClientsGroup)

		devices := r.registry.ListDevices()
		out.toOne(connID, models.MessageTypeDeviceList, devices)
		for _, d := range devices {
			for _, p := range r.store.Recent(d.DeviceID, r.config.ClientBacklog) {
				out.toOne(connID, models.MessageTypeTelemetry, models.TelemetryEvent{
					DeviceID:  d.DeviceID,
					Data:      p.Data,
					Timestamp: p.Timestamp,
				})
			}
		}

		r.logger.Info().Str("conn_id", connID).Int("devices", len(devices)).Msg("Client registered")
		return nil
	})
}

// OnTelemetry accepts a telemetry payload from the device registered on connID
func (r *Router) OnTelemetry(connID string, raw json.RawMessage) error {
	return r.apply(func(out *outbox) error {
		d, ok := r.registry.FindDeviceByConnection(connID)
		if !ok {
			return fmt.Errorf("telemetry from %s: %w", connID, ErrUnresolvedSender)
		}

		data, err := models.ParseTelemetryData(raw)
		if err != nil {
			return fmt.Errorf("telemetry from %s: %w: %v", d.DeviceID, ErrMalformedPayload, err)
		}

		now := r.now()
		d.touch(now)
		d.TelemetryCount++
		point := r.store.Append(d.DeviceID, data, now)

		out.toGroup(ClientsGroup, models.MessageTypeTelemetry, models.TelemetryEvent{
			DeviceID:  d.DeviceID,
			Data:      point.Data,
			Timestamp: point.Timestamp,
		})
		out.record(d.DeviceID, point)

		r.logger.Debug().
			Str("device_id", d.DeviceID).
			Int64("count", d.TelemetryCount).
			Msg("Telemetry stored")
		return nil
	})
}

// OnControlDevice routes command to deviceID and updates its tracked
// actuator state. Unknown verbs are forwarded without touching the state.
func (r *Router) OnControlDevice(deviceID string, command json.RawMessage) error {
	return r.apply(func(out *outbox) error {
		d, ok := r.registry.Device(deviceID)
		if !ok {
			return fmt.Errorf("control for %q: %w", deviceID, ErrUnknownTarget)
		}

		cmd := models.ParseControlCommand(command)
		switch cmd.Cmd {
		case models.CommandOn:
			d.ControlState = true
		case models.CommandOff:
			d.ControlState = false
		case models.CommandToggle:
			d.ControlState = !d.ControlState
		}

		out.toGroup(DeviceGroup(deviceID), models.MessageTypeControl, command)
		out.toGroup(ClientsGroup, models.MessageTypeDeviceUpdate, d.Update())

		r.logger.Info().
			Str("device_id", deviceID).
			Str("cmd", cmd.Cmd).
			Bool("control_state", d.ControlState).
			Msg("Control sent")
		return nil
	})
}

// OnGetTelemetryHistory replies to connID with deviceID's recent history
func (r *Router) OnGetTelemetryHistory(connID, deviceID string, limit int) {
	_ = r.apply(func(out *outbox) error {
		out.toOne(connID, models.MessageTypeTelemetryHistory, models.HistoryReply{
			DeviceID: deviceID,
			History:  r.history(deviceID, limit),
		})
		return nil
	})
}

// OnGetStats replies to connID with a stats snapshot
func (r *Router) OnGetStats(connID string) {
	_ = r.apply(func(out *outbox) error {
		out.toOne(connID, models.MessageTypeDeviceStats, r.stats())
		return nil
	})
}

// OnHeartbeat refreshes the liveness of the device registered on connID
func (r *Router) OnHeartbeat(connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.registry.FindDeviceByConnection(connID)
	if !ok {
		return fmt.Errorf("heartbeat from %s: %w", connID, ErrUnresolvedSender)
	}
	d.touch(r.now())
	return nil
}

// OnDeviceOffline marks the device on connID offline without removing it.
// Devices send this before going to sleep; the entry is evicted by the
// liveness sweep unless the device comes back first.
func (r *Router) OnDeviceOffline(connID string) error {
	return r.apply(func(out *outbox) error {
		d, ok := r.registry.FindDeviceByConnection(connID)
		if !ok {
			return fmt.Errorf("offline marker from %s: %w", connID, ErrUnresolvedSender)
		}
		d.Online = false
		out.toGroup(ClientsGroup, models.MessageTypeDeviceUpdate, d.Update())

		r.logger.Info().Str("device_id", d.DeviceID).Msg("Device marked offline")
		return nil
	})
}

// OnDisconnect forgets connID. If it carried a device, clients get a new
// device list and a device_disconnected event.
func (r *Router) OnDisconnect(connID string) {
	_ = r.apply(func(out *outbox) error {
		deviceID, removed := r.registry.RemoveByConnection(connID)
		if !removed {
			return nil
		}
		r.notifyRemoved(out, deviceID)
		r.logger.Info().Str("device_id", deviceID).Str("conn_id", connID).Msg("Device removed")
		return nil
	})
}

// Sweep evicts every device with no activity for at least LivenessTimeout
// and returns the evicted ids.
func (r *Router) Sweep() []string {
	var evicted []string
	_ = r.apply(func(out *outbox) error {
		now := r.now()
		// ids are snapshotted before any entry is deleted
		for _, id := range r.registry.DeviceIDs() {
			d, ok := r.registry.Device(id)
			if !ok || now.Sub(d.LastSeen) < r.config.LivenessTimeout {
				continue
			}
			connID := d.ConnectionID
			r.registry.RemoveDevice(id)
			if connID != "" {
				out.leave(connID, DeviceGroup(id))
			}
			r.notifyRemoved(out, id)
			evicted = append(evicted, id)

			r.logger.Info().
				Str("device_id", id).
				Time("last_seen", d.LastSeen).
				Msg("Cleaning up inactive device")
		}
		return nil
	})
	return evicted
}

func (r *Router) notifyRemoved(out *outbox, deviceID string) {
	out.toGroup(ClientsGroup, models.MessageTypeDeviceList, r.registry.ListDevices())
	out.toGroup(ClientsGroup, models.MessageTypeDeviceDisconnected, deviceID)
}

// Devices returns the current device list
func (r *Router) Devices() []models.DeviceSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registry.ListDevices()
}

// History returns up to limit recent points for deviceID (default limit when <= 0)
func (r *Router) History(deviceID string, limit int) []models.TelemetryPoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.history(deviceID, limit)
}

// Stats returns a consistency snapshot computed by scanning
func (r *Router) Stats() models.DeviceStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats()
}

func (r *Router) history(deviceID string, limit int) []models.TelemetryPoint {
	if limit <= 0 {
		limit = r.config.HistoryLimit
	}
	return r.store.Recent(deviceID, limit)
}

func (r *Router) stats() models.DeviceStats {
	return models.DeviceStats{
		DeviceCount:          r.registry.DeviceCount(),
		OnlineCount:          r.registry.OnlineCount(),
		ClientCount:          r.registry.ClientCount(),
		TotalTelemetryPoints: r.store.TotalPoints(),
	}
}
