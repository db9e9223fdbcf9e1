// Package bridge mirrors hub broadcasts onto NATS and accepts device
// commands from NATS.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/afroash/device-hub/internal/config"
	"github.com/afroash/device-hub/internal/hub"
	"github.com/afroash/device-hub/internal/models"
)

// Compile-time interface check
var _ hub.Publisher = (*Bridge)(nil)

// natsConn is the subset of *nats.Conn the bridge uses
type natsConn interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
	Drain() error
}

// Controller routes a command to a device. hub.Router implements this.
type Controller interface {
	OnControlDevice(deviceID string, command json.RawMessage) error
}

// ControllerFunc adapts a function to Controller
type ControllerFunc func(deviceID string, command json.RawMessage) error

// OnControlDevice calls f
func (f ControllerFunc) OnControlDevice(deviceID string, command json.RawMessage) error {
	return f(deviceID, command)
}

// ControlReply answers a control request that carried a reply subject
type ControlReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Bridge publishes every client broadcast to <prefix>.events.<event> and
// routes {deviceId, command} requests from <prefix>.control.
type Bridge struct {
	nc         natsConn
	prefix     string
	controller Controller
	logger     zerolog.Logger

	mu        sync.Mutex
	published int64
	failed    int64
	commands  int64
}

// Stats contains counters of the bridge
type Stats struct {
	Published int64 `json:"published"`
	Failed    int64 `json:"failed"`
	Commands  int64 `json:"commands"`
}

// Connect dials NATS with reconnects that never give up
func Connect(cfg config.NATSSettings, logger zerolog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrlRedacted()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Info().Str("url", nc.ConnectedUrlRedacted()).Msg("Connected to NATS")
	return nc, nil
}

// New creates a bridge on an established connection
func New(nc natsConn, prefix string, controller Controller, logger zerolog.Logger) *Bridge {
	return &Bridge{
		nc:         nc,
		prefix:     strings.TrimSuffix(prefix, "."),
		controller: controller,
		logger:     logger,
	}
}

// EventSubject returns the subject an event is mirrored to
func (b *Bridge) EventSubject(event models.MessageType) string {
	return b.prefix + ".events." + string(event)
}

// ControlSubject returns the subject commands are read from
func (b *Bridge) ControlSubject() string {
	return b.prefix + ".control"
}

// Publish mirrors one broadcast event. Failures are logged, never returned:
// the bus is best effort.
func (b *Bridge) Publish(event models.MessageType, payload interface{}) {
	msg, err := models.NewMessage(event, payload)
	if err == nil {
		var data []byte
		data, err = json.Marshal(msg)
		if err == nil {
			err = b.nc.Publish(b.EventSubject(event), data)
		}
	}

	b.mu.Lock()
	if err != nil {
		b.failed++
	} else {
		b.published++
	}
	b.mu.Unlock()

	if err != nil {
		b.logger.Warn().Err(err).Str("event", string(event)).Msg("Failed to mirror event to NATS")
	}
}

// Run subscribes to the control subject and blocks until ctx is done, then
// drains the connection.
func (b *Bridge) Run(ctx context.Context) error {
	if _, err := b.nc.Subscribe(b.ControlSubject(), b.handleControl); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.ControlSubject(), err)
	}
	b.logger.Info().Str("subject", b.ControlSubject()).Msg("NATS control ingress ready")

	<-ctx.Done()

	if err := b.nc.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	b.logger.Info().Msg("NATS bridge stopped")
	return nil
}

func (b *Bridge) handleControl(msg *nats.Msg) {
	var req models.ControlRequest
	err := json.Unmarshal(msg.Data, &req)
	if err != nil {
		err = fmt.Errorf("malformed control request: %w", err)
	} else {
		err = b.controller.OnControlDevice(req.DeviceID, req.Command)
	}

	b.mu.Lock()
	b.commands++
	b.mu.Unlock()

	if err != nil {
		b.logger.Warn().Err(err).Str("device_id", req.DeviceID).Msg("NATS control rejected")
	} else {
		b.logger.Debug().Str("device_id", req.DeviceID).Msg("NATS control routed")
	}

	if msg.Reply == "" {
		return
	}
	reply := ControlReply{OK: err == nil}
	if err != nil {
		reply.Error = err.Error()
	}
	data, _ := json.Marshal(reply)
	if err := b.nc.Publish(msg.Reply, data); err != nil {
		b.logger.Warn().Err(err).Msg("Failed to answer NATS control request")
	}
}

// Stats returns bridge counters
func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{Published: b.published, Failed: b.failed, Commands: b.commands}
}
