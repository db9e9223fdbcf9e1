package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/device-hub/internal/models"
)

const (
	writeWait = 10 * time.Second

	// readings flushed per write burst after a reconnect
	flushBatchSize = 50
)

// ErrNotConnected is returned by sends while the hub is unreachable
var ErrNotConnected = errors.New("not connected")

// ConnectionState represents the current state of the connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (cs ConnectionState) String() string {
	switch cs {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// ConnectionConfig holds configuration for the device connection
type ConnectionConfig struct {
	URL                  string
	Binary               bool // CBOR frames instead of JSON text
	ConnectTimeout       time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
	PingInterval         time.Duration
	PongTimeout          time.Duration
}

// ControlHandler is called for every control command the hub delivers,
// after the local actuator state has been updated.
type ControlHandler func(cmd models.ControlCommand, state bool)

// ConnectionStats contains counters for the device connection
type ConnectionStats struct {
	TelemetrySent    int64
	ControlsReceived int64
	Reconnects       int64
	Registered       bool
}

// Connection is the device side of the hub protocol: it registers the
// device, streams telemetry, heartbeats, and applies control commands.
type Connection struct {
	config ConnectionConfig
	info   *models.DeviceInfo
	buffer *TelemetryBuffer
	logger zerolog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	// serializes telemetry so buffered readings leave before new ones
	sendMu sync.Mutex

	stateMu  sync.RWMutex
	state    ConnectionState
	lastPong time.Time
	stats    ConnectionStats
	control  bool
	backoff  time.Duration

	onControl ControlHandler
}

// NewConnection creates a device connection. buffer keeps readings taken
// while disconnected.
func NewConnection(config ConnectionConfig, info *models.DeviceInfo, buffer *TelemetryBuffer, logger zerolog.Logger) *Connection {
	return &Connection{
		config:  config,
		info:    info,
		buffer:  buffer,
		logger:  logger.With().Str("device_id", info.ID).Logger(),
		state:   StateDisconnected,
		backoff: config.ReconnectInterval,
	}
}

// OnControl installs a hook for delivered control commands
func (c *Connection) OnControl(h ControlHandler) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.onControl = h
}

func (c *Connection) setState(state ConnectionState) {
	c.stateMu.Lock()
	c.state = state
	c.stateMu.Unlock()
	c.logger.Info().Str("state", state.String()).Msg("Connection state updated")
}

// State returns the current connection state
func (c *Connection) State() ConnectionState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// IsConnected returns true if currently connected
func (c *Connection) IsConnected() bool {
	return c.State() == StateConnected
}

// ControlState returns the local actuator state
func (c *Connection) ControlState() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.control
}

// Stats returns a copy of the connection counters
func (c *Connection) Stats() ConnectionStats {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.stats
}

// Connect dials the hub and registers the device
func (c *Connection) Connect(ctx context.Context) error {
	c.setState(StateConnecting)
	c.logger.Info().Str("url", c.config.URL).Msg("Connecting to hub")

	dialer := websocket.Dialer{HandshakeTimeout: c.config.ConnectTimeout}
	conn, resp, err := dialer.DialContext(ctx, c.config.URL, nil)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("dial failed: %w", err)
	}
	resp.Body.Close()

	conn.SetPongHandler(func(string) error {
		c.touchPong()
		return nil
	})

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()

	c.stateMu.Lock()
	c.stats.Registered = false
	c.lastPong = time.Now()
	c.stateMu.Unlock()

	if err := c.send(models.MessageTypeRegisterDevice, models.RegistrationAck{DeviceID: c.info.ID}, time.Time{}); err != nil {
		conn.Close()
		c.setState(StateDisconnected)
		return fmt.Errorf("failed to send registration: %w", err)
	}

	c.backoff = c.config.ReconnectInterval
	c.setState(StateConnected)
	return nil
}

// Run keeps the device connected until ctx is cancelled. Every reading from
// readings is sent, or buffered while the hub is unreachable.
func (c *Connection) Run(ctx context.Context, readings <-chan *models.Reading) error {
	go c.publishLoop(ctx, readings)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := c.Connect(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Connection failed")
			c.waitBeforeReconnect(ctx)
			continue
		}

		c.flushBuffer()
		c.runMessageLoops(ctx)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.stateMu.Lock()
		c.stats.Reconnects++
		c.stateMu.Unlock()
		c.logger.Info().Msg("Connection lost, will reconnect")
		c.waitBeforeReconnect(ctx)
	}
}

// waitBeforeReconnect sleeps the current backoff and doubles it up to the max
func (c *Connection) waitBeforeReconnect(ctx context.Context) {
	c.logger.Info().Dur("delay", c.backoff).Msg("Waiting before reconnect")
	select {
	case <-time.After(c.backoff):
	case <-ctx.Done():
		return
	}
	c.backoff = min(c.backoff*2, c.config.MaxReconnectInterval)
}

func (c *Connection) publishLoop(ctx context.Context, readings <-chan *models.Reading) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-readings:
			if !ok {
				return
			}
			c.Publish(r)
		}
	}
}

// Publish sends a reading now, or buffers it when that is not possible
func (c *Connection) Publish(reading *models.Reading) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.IsConnected() || !c.buffer.IsEmpty() {
		c.buffer.Push(reading)
		c.flushLocked()
		return
	}
	if err := c.SendTelemetry(reading); err != nil {
		c.logger.Warn().Err(err).Msg("Send failed, buffering reading")
		c.buffer.Push(reading)
	}
}

// SendTelemetry sends one reading as a telemetry event
func (c *Connection) SendTelemetry(reading *models.Reading) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := c.send(models.MessageTypeTelemetry, reading.TelemetryData(), reading.Timestamp); err != nil {
		return err
	}
	c.stateMu.Lock()
	c.stats.TelemetrySent++
	c.stateMu.Unlock()
	return nil
}

// flushBuffer drains buffered readings, oldest first. Anything that fails
// to send goes back to the front of the buffer.
func (c *Connection) flushBuffer() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.flushLocked()
}

func (c *Connection) flushLocked() {
	sent := 0
	for c.IsConnected() {
		batch := c.buffer.PopBatch(flushBatchSize)
		if len(batch) == 0 {
			break
		}
		for i, r := range batch {
			if err := c.SendTelemetry(r); err != nil {
				c.buffer.Requeue(batch[i:])
				c.logger.Warn().Err(err).Int("pending", c.buffer.Size()).Msg("Buffer flush interrupted")
				return
			}
			sent++
		}
	}
	if sent > 0 {
		c.logger.Info().Int("count", sent).Msg("Flushed buffered telemetry")
	}
}

// runMessageLoops runs read and heartbeat loops until either fails or
// parent is cancelled. On cancellation the hub is told the device is leaving.
func (c *Connection) runMessageLoops(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		c.readLoop()
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		c.heartbeatLoop(ctx)
	}()

	<-ctx.Done()
	if parent.Err() != nil {
		c.goodbye()
	}
	c.disconnect()
	wg.Wait()
}

// disconnect closes the socket, which also ends the read loop
func (c *Connection) disconnect() {
	c.writeMu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.writeMu.Unlock()
	c.setState(StateDisconnected)
}

func (c *Connection) readLoop() {
	c.logger.Debug().Msg("Starting read loop")
	defer c.logger.Debug().Msg("Read loop stopped")

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn().Err(err).Msg("Read error")
			}
			return
		}

		var msg *models.Message
		if msgType == websocket.BinaryMessage {
			msg, err = models.DecodeCBOR(data)
		} else {
			msg = &models.Message{}
			err = json.Unmarshal(data, msg)
		}
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to decode frame")
			continue
		}
		c.handleMessage(msg)
	}
}

// handleMessage processes a message received from the hub
func (c *Connection) handleMessage(msg *models.Message) {
	switch msg.Type {
	case models.MessageTypeRegistrationSuccess:
		c.stateMu.Lock()
		c.stats.Registered = true
		c.stateMu.Unlock()
		c.logger.Info().Msg("Registered with hub")

	case models.MessageTypeRegistrationError:
		var e models.ErrorMessage
		_ = msg.UnmarshalPayload(&e)
		c.logger.Error().Str("msg", e.Message).Msg("Registration rejected")

	case models.MessageTypeControl:
		c.applyControl(models.ParseControlCommand(msg.Payload))

	default:
		c.logger.Debug().Str("type", string(msg.Type)).Msg("Ignoring message")
	}
}

func (c *Connection) applyControl(cmd models.ControlCommand) {
	c.stateMu.Lock()
	switch cmd.Cmd {
	case models.CommandOn:
		c.control = true
	case models.CommandOff:
		c.control = false
	case models.CommandToggle:
		c.control = !c.control
	}
	state := c.control
	c.stats.ControlsReceived++
	hook := c.onControl
	c.stateMu.Unlock()

	c.logger.Info().Str("cmd", cmd.Cmd).Bool("control_state", state).Msg("Control applied")
	if hook != nil {
		hook(cmd, state)
	}
}

func (c *Connection) touchPong() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.lastPong = time.Now()
}

func (c *Connection) sinceLastPong() time.Duration {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return time.Since(c.lastPong)
}

// heartbeatLoop refreshes liveness on the hub and watches for a dead socket
func (c *Connection) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hb := models.HeartbeatPayload{
				Uptime:     int64(c.info.Uptime().Seconds()),
				BufferSize: c.buffer.Size(),
			}
			if err := c.send(models.MessageTypeHeartbeat, hb, time.Time{}); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to send heartbeat")
				return
			}
			if err := c.ping(); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to send ping")
				return
			}
			if c.sinceLastPong() > c.config.PingInterval+c.config.PongTimeout {
				c.logger.Warn().Msg("No pong received, connection appears dead")
				return
			}
		}
	}
}

func (c *Connection) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// send encodes one envelope in the configured format. A zero ts means now.
func (c *Connection) send(event models.MessageType, payload interface{}, ts time.Time) error {
	msg, err := models.NewMessage(event, payload)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	if !ts.IsZero() {
		msg.Timestamp = ts
	}

	frameType := websocket.TextMessage
	var data []byte
	if c.config.Binary {
		frameType = websocket.BinaryMessage
		data, err = models.EncodeCBOR(msg)
	} else {
		data, err = json.Marshal(msg)
	}
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", event, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(frameType, data)
}

// goodbye sends device_offline and a close frame if still connected
func (c *Connection) goodbye() {
	if !c.IsConnected() {
		return
	}
	if err := c.send(models.MessageTypeDeviceOffline, nil, time.Time{}); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to send device_offline")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
}

// Close tells the hub the device is going offline and closes the socket
func (c *Connection) Close() error {
	c.goodbye()
	c.disconnect()
	c.logger.Info().Int("buffered", c.buffer.Size()).Msg("Connection closed")
	return nil
}
