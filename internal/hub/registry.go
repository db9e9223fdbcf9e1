package hub

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/afroash/device-hub/internal/models"
)

// MaxDeviceIDLength bounds the deviceId accepted by RegisterDevice
const MaxDeviceIDLength = 128

// Device is one registered sensor endpoint
type Device struct {
	DeviceID       string
	ConnectionID   string
	LastSeen       time.Time
	Online         bool
	TelemetryCount int64
	ControlState   bool
	RegisteredAt   time.Time
}

// Summary returns the device_list view of the device
func (d *Device) Summary() models.DeviceSummary {
	return models.DeviceSummary{
		DeviceID:       d.DeviceID,
		IsOnline:       d.Online,
		LastSeen:       d.LastSeen,
		TelemetryCount: d.TelemetryCount,
		ControlState:   d.ControlState,
		RegisteredAt:   d.RegisteredAt,
	}
}

// Update returns the device_update view of the device
func (d *Device) Update() models.DeviceUpdate {
	return models.DeviceUpdate{
		DeviceID:     d.DeviceID,
		ControlState: d.ControlState,
		IsOnline:     d.Online,
		LastSeen:     d.LastSeen,
	}
}

// touch records qualifying activity
func (d *Device) touch(now time.Time) {
	d.LastSeen = now
	d.Online = true
}

// Registry is the authoritative map of devices and observer clients.
// It is not safe for concurrent use; the Router serializes access.
type Registry struct {
	devices map[string]*Device
	byConn  map[string]string // connectionID -> deviceID
	clients map[string]struct{}
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]*Device),
		byConn:  make(map[string]string),
		clients: make(map[string]struct{}),
	}
}

// ValidateDeviceID checks that id is usable as a device key
func ValidateDeviceID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: deviceId is required", ErrInvalidRegistration)
	}
	if len(id) > MaxDeviceIDLength {
		return fmt.Errorf("%w: deviceId longer than %d bytes", ErrInvalidRegistration, MaxDeviceIDLength)
	}
	if strings.IndexFunc(id, unicode.IsControl) >= 0 {
		return fmt.Errorf("%w: deviceId contains control characters", ErrInvalidRegistration)
	}
	return nil
}

// RegisterDevice creates or replaces the entry for deviceID. A replaced entry
// loses its counters and control state; its old connection is orphaned.
// When connID already carried another device, that device is left in place
// but offline and unbound until the sweep or a new registration.
func (r *Registry) RegisterDevice(connID, deviceID string, now time.Time) (*Device, error) {
	if err := ValidateDeviceID(deviceID); err != nil {
		return nil, err
	}

	if prev, ok := r.devices[deviceID]; ok {
		r.unbind(prev)
	}
	if oldID, ok := r.byConn[connID]; ok && oldID != deviceID {
		if old, ok := r.devices[oldID]; ok {
			old.Online = false
			old.ConnectionID = ""
		}
	}

	d := &Device{
		DeviceID:     deviceID,
		ConnectionID: connID,
		LastSeen:     now,
		Online:       true,
		RegisteredAt: now,
	}
	r.devices[deviceID] = d
	// A connection resolves to the device it registered last
	r.byConn[connID] = deviceID
	return d, nil
}

// RegisterClient adds connID to the observer set
func (r *Registry) RegisterClient(connID string) {
	r.clients[connID] = struct{}{}
}

// RemoveByConnection deletes the device bound to connID, if any, and always
// drops connID from the client set.
func (r *Registry) RemoveByConnection(connID string) (string, bool) {
	delete(r.clients, connID)

	deviceID, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	r.RemoveDevice(deviceID)
	return deviceID, true
}

// RemoveDevice deletes a device entry by id
func (r *Registry) RemoveDevice(deviceID string) bool {
	d, ok := r.devices[deviceID]
	if !ok {
		return false
	}
	r.unbind(d)
	delete(r.devices, deviceID)
	return true
}

// unbind drops the reverse index entry for d if it still points at d
func (r *Registry) unbind(d *Device) {
	if r.byConn[d.ConnectionID] == d.DeviceID {
		delete(r.byConn, d.ConnectionID)
	}
}

// FindDeviceByConnection resolves the device that registered on connID
func (r *Registry) FindDeviceByConnection(connID string) (*Device, bool) {
	deviceID, ok := r.byConn[connID]
	if !ok {
		return nil, false
	}
	d, ok := r.devices[deviceID]
	return d, ok
}

// Device returns the entry for deviceID
func (r *Registry) Device(deviceID string) (*Device, bool) {
	d, ok := r.devices[deviceID]
	return d, ok
}

// DeviceIDs returns a snapshot of the registered ids, sorted
func (r *Registry) DeviceIDs() []string {
	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ListDevices returns a snapshot of every device, sorted by id
func (r *Registry) ListDevices() []models.DeviceSummary {
	list := make([]models.DeviceSummary, 0, len(r.devices))
	for _, id := range r.DeviceIDs() {
		list = append(list, r.devices[id].Summary())
	}
	return list
}

// IsClient reports whether connID is a registered observer
func (r *Registry) IsClient(connID string) bool {
	_, ok := r.clients[connID]
	return ok
}

// DeviceCount returns the number of registered devices
func (r *Registry) DeviceCount() int {
	return len(r.devices)
}

// OnlineCount returns the number of devices currently marked online
func (r *Registry) OnlineCount() int {
	n := 0
	for _, d := range r.devices {
		if d.Online {
			n++
		}
	}
	return n
}

// ClientCount returns the number of registered observers
func (r *Registry) ClientCount() int {
	return len(r.clients)
}
