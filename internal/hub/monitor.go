package hub

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper evicts stale devices and reports which ones it removed
type Sweeper interface {
	Sweep() []string
}

// Monitor periodically sweeps the registry for devices that stopped talking
type Monitor struct {
	sweeper       Sweeper
	logger        zerolog.Logger
	sweepInterval time.Duration
	stopChan      chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup

	// Stats
	mu           sync.RWMutex
	totalSweeps  int64
	totalEvicted int64
	lastSweep    time.Time
	lastEvicted  int
}

// MonitorConfig holds configuration for the liveness monitor
type MonitorConfig struct {
	SweepInterval time.Duration // How often to sweep (default: 30s)
}

// DefaultMonitorConfig returns sensible defaults
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		SweepInterval: 30 * time.Second,
	}
}

// MonitorStats contains statistics about the monitor
type MonitorStats struct {
	TotalSweeps  int64     `json:"total_sweeps"`
	TotalEvicted int64     `json:"total_evicted"`
	LastSweep    time.Time `json:"last_sweep,omitempty"`
	LastEvicted  int       `json:"last_evicted"`
}

// NewMonitor creates and starts a liveness monitor. Stop must be called on shutdown.
func NewMonitor(sweeper Sweeper, config MonitorConfig, logger zerolog.Logger) *Monitor {
	interval := config.SweepInterval
	if interval <= 0 {
		defaultInterval := DefaultMonitorConfig().SweepInterval
		logger.Warn().
			Dur("provided_interval", interval).
			Dur("default_interval", defaultInterval).
			Msg("Invalid SweepInterval provided (zero or negative), using default")
		interval = defaultInterval
	}

	m := &Monitor{
		sweeper:       sweeper,
		logger:        logger,
		sweepInterval: interval,
		stopChan:      make(chan struct{}),
	}

	m.wg.Add(1)
	go m.sweepLoop()

	logger.Info().Dur("sweep_interval", interval).Msg("Liveness monitor started")
	return m
}

func (m *Monitor) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.runSweep()
		case <-m.stopChan:
			m.logger.Info().Msg("Liveness monitor stopped")
			return
		}
	}
}

func (m *Monitor) runSweep() []string {
	evicted := m.sweeper.Sweep()

	m.mu.Lock()
	m.totalSweeps++
	m.totalEvicted += int64(len(evicted))
	m.lastSweep = time.Now()
	m.lastEvicted = len(evicted)
	m.mu.Unlock()

	if len(evicted) > 0 {
		m.logger.Info().Strs("device_ids", evicted).Msg("Liveness sweep evicted devices")
	} else {
		m.logger.Debug().Msg("Liveness sweep completed, no stale devices")
	}
	return evicted
}

// RunNow triggers an immediate sweep and returns the evicted ids
func (m *Monitor) RunNow() []string {
	return m.runSweep()
}

// Stop cancels the schedule and waits for the loop to exit
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
		m.wg.Wait()
	})
}

// Stats returns current monitor statistics
func (m *Monitor) Stats() MonitorStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return MonitorStats{
		TotalSweeps:  m.totalSweeps,
		TotalEvicted: m.totalEvicted,
		LastSweep:    m.lastSweep,
		LastEvicted:  m.lastEvicted,
	}
}
