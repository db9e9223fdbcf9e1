package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// expirer is the part of the archive the cleaner needs
type expirer interface {
	DeleteOlderThan(days int) (int64, error)
}

// RetentionCleanerConfig bounds how long archived telemetry is kept
type RetentionCleanerConfig struct {
	RetentionDays int
	CleanupPeriod time.Duration
}

// DefaultRetentionCleanerConfig keeps a month of history, swept hourly
func DefaultRetentionCleanerConfig() RetentionCleanerConfig {
	return RetentionCleanerConfig{RetentionDays: 30, CleanupPeriod: time.Hour}
}

// RetentionCleanerStats summarises the sweeps run so far
type RetentionCleanerStats struct {
	TotalDeleted    int64     `json:"total_deleted"`
	TotalCleanups   int64     `json:"total_cleanups"`
	LastCleanup     time.Time `json:"last_cleanup,omitempty"`
	LastDeleteCount int64     `json:"last_delete_count"`
	RetentionDays   int       `json:"retention_days"`
}

// RetentionCleaner sweeps telemetry rows older than the retention window
// out of the archive. It sweeps once on start and then every CleanupPeriod.
type RetentionCleaner struct {
	store  expirer
	logger zerolog.Logger
	cfg    RetentionCleanerConfig

	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	stats RetentionCleanerStats
}

// NewRetentionCleaner starts the sweeper goroutine. Non-positive settings
// fall back to the defaults.
func NewRetentionCleaner(store expirer, cfg RetentionCleanerConfig, logger zerolog.Logger) *RetentionCleaner {
	def := DefaultRetentionCleanerConfig()
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = def.RetentionDays
	}
	if cfg.CleanupPeriod <= 0 {
		logger.Warn().Dur("cleanup_period", cfg.CleanupPeriod).Msg("Non-positive archive sweep period, using default")
		cfg.CleanupPeriod = def.CleanupPeriod
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &RetentionCleaner{
		store:  store,
		logger: logger.With().Str("worker", "retention").Logger(),
		cfg:    cfg,
		cancel: cancel,
		done:   make(chan struct{}),
		stats:  RetentionCleanerStats{RetentionDays: cfg.RetentionDays},
	}
	go c.loop(ctx)

	c.logger.Info().
		Int("retention_days", cfg.RetentionDays).
		Dur("every", cfg.CleanupPeriod).
		Msg("Archive retention sweeper started")
	return c
}

func (c *RetentionCleaner) loop(ctx context.Context) {
	defer close(c.done)

	c.sweep()
	tick := time.NewTicker(c.cfg.CleanupPeriod)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			c.sweep()
		}
	}
}

func (c *RetentionCleaner) sweep() {
	n, err := c.store.DeleteOlderThan(c.cfg.RetentionDays)

	c.mu.Lock()
	c.stats.TotalCleanups++
	c.stats.LastCleanup = time.Now()
	if err == nil {
		c.stats.TotalDeleted += n
		c.stats.LastDeleteCount = n
	}
	c.mu.Unlock()

	switch {
	case err != nil:
		c.logger.Error().Err(err).Msg("Archive sweep failed")
	case n > 0:
		c.logger.Info().Int64("rows", n).Msg("Expired telemetry removed from archive")
	default:
		c.logger.Debug().Msg("Archive sweep found nothing to expire")
	}
}

// Stop halts the sweeper and waits for an in-flight sweep. Safe to call twice.
func (c *RetentionCleaner) Stop() {
	c.cancel()
	<-c.done
}

// Stats returns a snapshot of the sweep counters
func (c *RetentionCleaner) Stats() RetentionCleanerStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// RunNow sweeps synchronously, outside the schedule
func (c *RetentionCleaner) RunNow() {
	c.sweep()
}
