package hub

import (
	"sync"
	"time"

	"github.com/afroash/device-hub/internal/models"
	"github.com/rs/zerolog"
)

// received is one event as seen by a connection
type received struct {
	event   models.MessageType
	payload interface{}
}

// fakeTransport tracks group membership and records what every connection receives
type fakeTransport struct {
	mu      sync.Mutex
	groups  map[string]map[string]bool
	inboxes map[string][]received
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		groups:  make(map[string]map[string]bool),
		inboxes: make(map[string][]received),
	}
}

func (f *fakeTransport) SendToOne(connID string, event models.MessageType, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inboxes[connID] = append(f.inboxes[connID], received{event, payload})
}

func (f *fakeTransport) SendToGroup(group string, event models.MessageType, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for connID := range f.groups[group] {
		f.inboxes[connID] = append(f.inboxes[connID], received{event, payload})
	}
}

func (f *fakeTransport) Join(connID, group string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.groups[group] == nil {
		f.groups[group] = make(map[string]bool)
	}
	f.groups[group][connID] = true
}

func (f *fakeTransport) Leave(connID, group string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.groups[group], connID)
}

// drop simulates the transport forgetting a closed connection
func (f *fakeTransport) drop(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, members := range f.groups {
		delete(members, connID)
	}
}

func (f *fakeTransport) inbox(connID string) []received {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]received, len(f.inboxes[connID]))
	copy(out, f.inboxes[connID])
	return out
}

func (f *fakeTransport) events(connID string, event models.MessageType) []interface{} {
	var out []interface{}
	for _, r := range f.inbox(connID) {
		if r.event == event {
			out = append(out, r.payload)
		}
	}
	return out
}

func (f *fakeTransport) reset(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.inboxes, connID)
}

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRouter(opts ...Option) (*Router, *fakeTransport, *fakeClock) {
	transport := newFakeTransport()
	clock := newFakeClock()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewRouter(transport, DefaultConfig(), zerolog.Nop(), opts...), transport, clock
}
