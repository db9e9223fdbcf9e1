package server

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/afroash/device-hub/internal/models"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Constants for WebSocket timeouts
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendQueueSize  = 256
)

// frame is an encoded outbound message
type frame struct {
	data   []byte
	binary bool
}

// Conn is one accepted WebSocket connection. Writes go through a buffered
// queue drained by writePump, so senders never block on a slow peer.
type Conn struct {
	ID          string
	ws          *websocket.Conn
	send        chan frame
	binary      atomic.Bool // peer speaks CBOR
	done        chan struct{}
	closeOnce   sync.Once
	connectedAt time.Time
	logger      zerolog.Logger
}

func newConn(ws *websocket.Conn, logger zerolog.Logger) *Conn {
	id := uuid.NewString()
	return &Conn{
		ID:          id,
		ws:          ws,
		send:        make(chan frame, sendQueueSize),
		done:        make(chan struct{}),
		connectedAt: time.Now(),
		logger:      logger.With().Str("conn_id", id).Logger(),
	}
}

// Binary reports whether replies to this connection are CBOR frames
func (c *Conn) Binary() bool {
	return c.binary.Load()
}

// enqueue queues a frame without blocking. Frames for a full or closed
// connection are dropped.
func (c *Conn) enqueue(f frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- f:
		return true
	default:
		c.logger.Warn().Int("queue", len(c.send)).Msg("Send queue full, dropping message")
		return false
	}
}

// close stops the write pump; the read pump exits when the socket closes
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// writePump drains the send queue and keeps the peer alive with pings
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case f := <-c.send:
			msgType := websocket.TextMessage
			if f.binary {
				msgType = websocket.BinaryMessage
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(msgType, f.data); err != nil {
				c.logger.Debug().Err(err).Msg("Write failed")
				c.close()
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}

		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// decodeFrame turns an inbound frame into a Message. Binary frames are CBOR
// and switch the connection's replies to CBOR too.
func (c *Conn) decodeFrame(msgType int, data []byte) (*models.Message, error) {
	switch msgType {
	case websocket.TextMessage:
		c.binary.Store(false)
		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("failed to decode JSON frame: %w", err)
		}
		return &msg, nil
	case websocket.BinaryMessage:
		c.binary.Store(true)
		return models.DecodeCBOR(data)
	default:
		return nil, fmt.Errorf("unsupported frame type %d", msgType)
	}
}

// encodeFrame encodes msg for the wire in the requested format
func encodeFrame(msg *models.Message, binary bool) (frame, error) {
	if binary {
		data, err := models.EncodeCBOR(msg)
		if err != nil {
			return frame{}, err
		}
		return frame{data: data, binary: true}, nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return frame{}, fmt.Errorf("failed to encode JSON frame: %w", err)
	}
	return frame{data: data}, nil
}
