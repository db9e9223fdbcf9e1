package storage

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/device-hub/internal/models"
)

// batchInserter is the part of the archive the writer needs
type batchInserter interface {
	InsertBatch(records []*TelemetryRecord) error
}

// DBWriterConfig sizes the archive write queue
type DBWriterConfig struct {
	BatchSize   int           // rows per INSERT transaction
	FlushPeriod time.Duration // upper bound on how long a partial batch waits
	ChannelSize int           // queued rows before new ones are dropped
}

// DefaultDBWriterConfig returns the writer defaults
func DefaultDBWriterConfig() DBWriterConfig {
	return DBWriterConfig{BatchSize: 100, FlushPeriod: 5 * time.Second, ChannelSize: 1000}
}

// DBWriterStats counts archive writes
type DBWriterStats struct {
	TotalWritten  int64     `json:"totalWritten"`
	TotalBatches  int64     `json:"totalBatches"`
	TotalErrors   int64     `json:"totalErrors"`
	TotalDropped  int64     `json:"totalDropped"`
	LastWriteTime time.Time `json:"lastWriteTime,omitempty"`
	QueueLength   int       `json:"queueLength"`
}

// DBWriter archives accepted telemetry off the routing path. It implements
// hub.Recorder: RecordTelemetry only enqueues, and a single goroutine turns
// the queue into batched inserts.
type DBWriter struct {
	store  batchInserter
	logger zerolog.Logger
	cfg    DBWriterConfig

	queue    chan *TelemetryRecord
	quit     chan struct{}
	done     chan struct{}
	quitOnce sync.Once

	mu    sync.Mutex
	stats DBWriterStats
}

// NewDBWriter starts the archive writer. Non-positive settings fall back to
// the defaults.
func NewDBWriter(store batchInserter, cfg DBWriterConfig, logger zerolog.Logger) *DBWriter {
	def := DefaultDBWriterConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushPeriod <= 0 {
		cfg.FlushPeriod = def.FlushPeriod
	}
	if cfg.ChannelSize <= 0 {
		cfg.ChannelSize = def.ChannelSize
	}

	w := &DBWriter{
		store:  store,
		logger: logger.With().Str("worker", "archive").Logger(),
		cfg:    cfg,
		queue:  make(chan *TelemetryRecord, cfg.ChannelSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go w.run()

	w.logger.Info().
		Int("batch", cfg.BatchSize).
		Dur("flush_every", cfg.FlushPeriod).
		Int("queue", cfg.ChannelSize).
		Msg("Telemetry archive writer started")
	return w
}

// RecordTelemetry queues an accepted telemetry point for archiving
func (w *DBWriter) RecordTelemetry(deviceID string, point models.TelemetryPoint) {
	data, err := json.Marshal(point.Data)
	if err != nil {
		w.logger.Error().Err(err).Str("device_id", deviceID).Msg("Telemetry payload not archivable")
		return
	}
	w.Write(&TelemetryRecord{DeviceID: deviceID, Data: data, RecordedAt: point.Timestamp})
}

// Write enqueues one record. It reports false when the queue is full or the
// writer has stopped; the record is then lost.
func (w *DBWriter) Write(record *TelemetryRecord) bool {
	select {
	case <-w.quit:
		return false
	default:
	}

	select {
	case w.queue <- record:
		return true
	default:
	}

	w.mu.Lock()
	w.stats.TotalDropped++
	w.mu.Unlock()
	w.logger.Warn().Str("device_id", record.DeviceID).Msg("Archive queue full, telemetry dropped")
	return false
}

func (w *DBWriter) run() {
	defer close(w.done)

	pending := make([]*TelemetryRecord, 0, w.cfg.BatchSize)
	commit := func() {
		if len(pending) == 0 {
			return
		}
		w.insert(pending)
		pending = make([]*TelemetryRecord, 0, w.cfg.BatchSize)
	}

	tick := time.NewTicker(w.cfg.FlushPeriod)
	defer tick.Stop()

	for {
		select {
		case rec := <-w.queue:
			pending = append(pending, rec)
			if len(pending) >= w.cfg.BatchSize {
				commit()
			}
		case <-tick.C:
			commit()
		case <-w.quit:
		drain:
			for {
				select {
				case rec := <-w.queue:
					pending = append(pending, rec)
				default:
					break drain
				}
			}
			commit()
			w.logger.Info().Msg("Telemetry archive writer stopped")
			return
		}
	}
}

func (w *DBWriter) insert(batch []*TelemetryRecord) {
	err := w.store.InsertBatch(batch)

	w.mu.Lock()
	if err != nil {
		w.stats.TotalErrors++
	} else {
		w.stats.TotalWritten += int64(len(batch))
		w.stats.TotalBatches++
		w.stats.LastWriteTime = time.Now()
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Error().Err(err).Int("rows", len(batch)).Msg("Archive insert failed")
		return
	}
	w.logger.Debug().Int("rows", len(batch)).Msg("Archived telemetry batch")
}

// Stop stops accepting records, commits whatever is queued and waits for
// the writer goroutine to exit.
func (w *DBWriter) Stop() {
	w.quitOnce.Do(func() { close(w.quit) })
	<-w.done
}

// Stats returns a snapshot of the write counters
func (w *DBWriter) Stats() DBWriterStats {
	w.mu.Lock()
	s := w.stats
	w.mu.Unlock()
	s.QueueLength = len(w.queue)
	return s
}
