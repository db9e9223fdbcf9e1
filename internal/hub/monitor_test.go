package hub

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type countingSweeper struct {
	mu      sync.Mutex
	calls   int
	evicted []string
}

func (s *countingSweeper) Sweep() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	out := s.evicted
	s.evicted = nil
	return out
}

func (s *countingSweeper) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestMonitor_RunNow(t *testing.T) {
	sweeper := &countingSweeper{evicted: []string{"D1", "D2"}}
	m := NewMonitor(sweeper, MonitorConfig{SweepInterval: time.Hour}, zerolog.Nop())
	defer m.Stop()

	assert.Equal(t, []string{"D1", "D2"}, m.RunNow())
	assert.Empty(t, m.RunNow())

	stats := m.Stats()
	assert.Equal(t, int64(2), stats.TotalSweeps)
	assert.Equal(t, int64(2), stats.TotalEvicted)
	assert.Equal(t, 0, stats.LastEvicted)
	assert.False(t, stats.LastSweep.IsZero())
}

func TestMonitor_SweepsPeriodically(t *testing.T) {
	sweeper := &countingSweeper{}
	m := NewMonitor(sweeper, MonitorConfig{SweepInterval: 10 * time.Millisecond}, zerolog.Nop())
	defer m.Stop()

	assert.Eventually(t, func() bool {
		return sweeper.callCount() >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestMonitor_StopIsIdempotent(t *testing.T) {
	sweeper := &countingSweeper{}
	m := NewMonitor(sweeper, MonitorConfig{SweepInterval: 10 * time.Millisecond}, zerolog.Nop())

	m.Stop()
	m.Stop()

	calls := sweeper.callCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, sweeper.callCount(), "no sweeps after Stop")
}

func TestMonitor_InvalidIntervalUsesDefault(t *testing.T) {
	m := NewMonitor(&countingSweeper{}, MonitorConfig{}, zerolog.Nop())
	defer m.Stop()

	assert.Equal(t, DefaultMonitorConfig().SweepInterval, m.sweepInterval)
}

func TestMonitor_EvictsThroughRouter(t *testing.T) {
	router, transport, clock := newTestRouter()
	router.OnRegisterClient("web-1")
	if err := router.OnRegisterDevice("esp-1", "D1"); err != nil {
		t.Fatal(err)
	}

	m := NewMonitor(router, MonitorConfig{SweepInterval: time.Hour}, zerolog.Nop())
	defer m.Stop()

	clock.Advance(30 * time.Second)
	assert.Empty(t, m.RunNow())

	clock.Advance(31 * time.Second)
	assert.Equal(t, []string{"D1"}, m.RunNow())
	assert.Len(t, transport.events("web-1", "device_disconnected"), 1)
}
