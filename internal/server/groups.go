package server

import (
	"sync"

	"github.com/afroash/device-hub/internal/hub"
	"github.com/afroash/device-hub/internal/models"
	"github.com/rs/zerolog"
)

// Compile-time interface check
var _ hub.Transport = (*Groups)(nil)

// Groups tracks live connections and their delivery groups. It is the
// hub.Transport of the WebSocket server.
type Groups struct {
	mu      sync.RWMutex
	conns   map[string]*Conn
	members map[string]map[string]struct{} // group -> connection ids
	joined  map[string]map[string]struct{} // connection id -> groups
	logger  zerolog.Logger
}

// NewGroups creates an empty connection set
func NewGroups(logger zerolog.Logger) *Groups {
	return &Groups{
		conns:   make(map[string]*Conn),
		members: make(map[string]map[string]struct{}),
		joined:  make(map[string]map[string]struct{}),
		logger:  logger,
	}
}

// Add makes c reachable by id
func (g *Groups) Add(c *Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conns[c.ID] = c
}

// Drop forgets connID and removes it from every group
func (g *Groups) Drop(connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for group := range g.joined[connID] {
		g.removeMember(group, connID)
	}
	delete(g.joined, connID)
	delete(g.conns, connID)
}

// Join adds connID to group. Unknown connections are ignored.
func (g *Groups) Join(connID, group string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.conns[connID]; !ok {
		return
	}
	if g.members[group] == nil {
		g.members[group] = make(map[string]struct{})
	}
	g.members[group][connID] = struct{}{}
	if g.joined[connID] == nil {
		g.joined[connID] = make(map[string]struct{})
	}
	g.joined[connID][group] = struct{}{}
}

// Leave removes connID from group
func (g *Groups) Leave(connID, group string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.removeMember(group, connID)
	delete(g.joined[connID], group)
}

func (g *Groups) removeMember(group, connID string) {
	members := g.members[group]
	delete(members, connID)
	if len(members) == 0 {
		delete(g.members, group)
	}
}

// SendToOne delivers an event to a single connection
func (g *Groups) SendToOne(connID string, event models.MessageType, payload interface{}) {
	g.mu.RLock()
	c, ok := g.conns[connID]
	g.mu.RUnlock()
	if !ok {
		g.logger.Debug().Str("conn_id", connID).Str("event", string(event)).Msg("Send to unknown connection dropped")
		return
	}

	msg, err := models.NewMessage(event, payload)
	if err != nil {
		g.logger.Error().Err(err).Str("event", string(event)).Msg("Failed to create message")
		return
	}
	f, err := encodeFrame(msg, c.Binary())
	if err != nil {
		g.logger.Error().Err(err).Str("event", string(event)).Msg("Failed to encode message")
		return
	}
	c.enqueue(f)
}

// SendToGroup delivers an event to every member of group. The payload is
// encoded at most once per wire format.
func (g *Groups) SendToGroup(group string, event models.MessageType, payload interface{}) {
	g.mu.RLock()
	targets := make([]*Conn, 0, len(g.members[group]))
	for connID := range g.members[group] {
		if c, ok := g.conns[connID]; ok {
			targets = append(targets, c)
		}
	}
	g.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	msg, err := models.NewMessage(event, payload)
	if err != nil {
		g.logger.Error().Err(err).Str("event", string(event)).Msg("Failed to create message")
		return
	}

	var encoded [2]*frame // [json, cbor]
	for _, c := range targets {
		idx := 0
		if c.Binary() {
			idx = 1
		}
		if encoded[idx] == nil {
			f, err := encodeFrame(msg, idx == 1)
			if err != nil {
				g.logger.Error().Err(err).Str("event", string(event)).Msg("Failed to encode message")
				continue
			}
			encoded[idx] = &f
		}
		c.enqueue(*encoded[idx])
	}
}

// Members returns the number of connections in group
func (g *Groups) Members(group string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members[group])
}

// Count returns the number of live connections
func (g *Groups) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

// CloseAll sends a close frame to every live connection. Their read pumps
// then unregister them as usual.
func (g *Groups) CloseAll() int {
	g.mu.RLock()
	conns := make([]*Conn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.RUnlock()

	for _, c := range conns {
		c.close()
	}
	return len(conns)
}
