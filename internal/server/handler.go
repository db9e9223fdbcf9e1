package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/afroash/device-hub/internal/hub"
	"github.com/afroash/device-hub/internal/models"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Handler accepts WebSocket connections from devices and observer clients
// and feeds their events into the router.
type Handler struct {
	upgrader       websocket.Upgrader
	router         EventRouter
	groups         *Groups
	logger         zerolog.Logger
	allowedOrigins []string
}

// NewHandler creates a new WebSocket handler
func NewHandler(router EventRouter, groups *Groups, logger zerolog.Logger, allowedOrigins ...string) *Handler {
	h := &Handler{
		router:         router,
		groups:         groups,
		logger:         logger,
		allowedOrigins: allowedOrigins,
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	return h
}

// checkOrigin validates the request's Origin against the configured allowlist.
// A missing Origin header means a same-origin or non-browser peer.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || origin == allowed {
			return true
		}
	}

	h.logger.Warn().Str("origin", origin).Msg("Rejected WebSocket connection: origin not in allowlist")
	return false
}

// ServeHTTP handles WebSocket connection requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	conn := newConn(ws, h.logger)
	h.groups.Add(conn)
	go conn.writePump()

	conn.logger.Info().Str("remote", r.RemoteAddr).Msg("Connection opened")
	h.readPump(conn)
}

// readPump reads frames until the peer goes away, then removes the
// connection from the hub.
func (h *Handler) readPump(c *Conn) {
	defer func() {
		h.groups.Drop(c.ID)
		h.router.OnDisconnect(c.ID)
		c.close()
		c.logger.Info().Dur("duration", time.Since(c.connectedAt)).Msg("Connection closed")
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := c.decodeFrame(msgType, data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Dropping undecodable frame")
			continue
		}
		h.handleMessage(c, msg)
	}
}

// handleMessage dispatches one inbound event
func (h *Handler) handleMessage(c *Conn, msg *models.Message) {
	c.logger.Debug().Str("type", string(msg.Type)).Msg("Received message")

	var err error
	switch msg.Type {
	case models.MessageTypeRegisterDevice:
		err = h.router.OnRegisterDevice(c.ID, parseDeviceID(msg))
	case models.MessageTypeRegisterClient:
		h.router.OnRegisterClient(c.ID)
	case models.MessageTypeTelemetry:
		err = h.router.OnTelemetry(c.ID, msg.Payload)
	case models.MessageTypeControlDevice:
		var req models.ControlRequest
		if err = msg.UnmarshalPayload(&req); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to unmarshal control request")
			return
		}
		err = h.router.OnControlDevice(req.DeviceID, req.Command)
	case models.MessageTypeGetTelemetryHistory:
		var req models.HistoryRequest
		if msg.HasPayload() {
			if err = msg.UnmarshalPayload(&req); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to unmarshal history request")
				return
			}
		}
		h.router.OnGetTelemetryHistory(c.ID, req.DeviceID, req.Limit)
	case models.MessageTypeGetDeviceStats:
		h.router.OnGetStats(c.ID)
	case models.MessageTypeHeartbeat:
		err = h.router.OnHeartbeat(c.ID)
	case models.MessageTypeDeviceOffline:
		err = h.router.OnDeviceOffline(c.ID)
	default:
		c.logger.Warn().Str("type", string(msg.Type)).Msg("Unknown message type")
		return
	}

	if err != nil {
		h.logRouteError(c, msg.Type, err)
	}
}

// logRouteError logs a rejected event at a level matching its cause
func (h *Handler) logRouteError(c *Conn, msgType models.MessageType, err error) {
	var evt *zerolog.Event
	switch {
	case errors.Is(err, hub.ErrUnresolvedSender):
		// heartbeats from observer clients land here routinely
		evt = c.logger.Debug()
	case errors.Is(err, hub.ErrInvalidRegistration),
		errors.Is(err, hub.ErrMalformedPayload),
		errors.Is(err, hub.ErrUnknownTarget):
		evt = c.logger.Warn()
	default:
		evt = c.logger.Error()
	}
	evt.Err(err).Str("type", string(msgType)).Msg("Event rejected")
}

// parseDeviceID accepts the deviceId as a bare string or as {"deviceId": ...}.
// Anything else yields "" and is rejected by the router.
func parseDeviceID(msg *models.Message) string {
	if !msg.HasPayload() {
		return ""
	}

	var id string
	if err := json.Unmarshal(msg.Payload, &id); err == nil {
		return id
	}

	var ack models.RegistrationAck
	if err := json.Unmarshal(msg.Payload, &ack); err == nil {
		return ack.DeviceID
	}
	return ""
}
