package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/afroash/device-hub/internal/models"
)

// TelemetryBuffer holds readings taken while the hub is unreachable.
// It is bounded; when full it drops either the oldest or the incoming reading.
type TelemetryBuffer struct {
	mu         sync.RWMutex
	readings   []*models.Reading
	capacity   int
	dropOldest bool
	stats      BufferStats
}

// BufferStats tracks buffer usage
type BufferStats struct {
	TotalPushed   int64
	TotalDropped  int64
	HighWaterMark int
	LastPushTime  time.Time
	LastDropTime  time.Time
}

// NewTelemetryBuffer creates a buffer holding at most capacity readings
func NewTelemetryBuffer(capacity int, dropOldest bool) *TelemetryBuffer {
	return &TelemetryBuffer{
		readings:   make([]*models.Reading, 0, capacity),
		capacity:   capacity,
		dropOldest: dropOldest,
	}
}

// Push appends a reading. It returns false when the reading itself was dropped.
func (b *TelemetryBuffer) Push(reading *models.Reading) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if len(b.readings) >= b.capacity {
		b.stats.TotalDropped++
		b.stats.LastDropTime = now
		if !b.dropOldest {
			return false
		}
		b.readings = b.readings[1:]
	}

	b.readings = append(b.readings, reading)
	b.stats.TotalPushed++
	b.stats.LastPushTime = now
	b.stats.HighWaterMark = max(b.stats.HighWaterMark, len(b.readings))
	return true
}

// PopBatch removes and returns up to n readings, oldest first
func (b *TelemetryBuffer) PopBatch(n int) []*models.Reading {
	b.mu.Lock()
	defer b.mu.Unlock()

	count := min(n, len(b.readings))
	if count == 0 {
		return nil
	}
	out := make([]*models.Reading, count)
	copy(out, b.readings[:count])
	b.readings = b.readings[count:]
	return out
}

// Requeue puts unsent readings back at the front, keeping their order.
// Readings that no longer fit are dropped from the front.
func (b *TelemetryBuffer) Requeue(readings []*models.Reading) {
	if len(readings) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	merged := make([]*models.Reading, 0, len(readings)+len(b.readings))
	merged = append(merged, readings...)
	merged = append(merged, b.readings...)
	if over := len(merged) - b.capacity; over > 0 {
		merged = merged[over:]
		b.stats.TotalDropped += int64(over)
		b.stats.LastDropTime = time.Now()
	}
	b.readings = merged
}

// Peek returns up to n readings without removing them
func (b *TelemetryBuffer) Peek(n int) []*models.Reading {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := min(n, len(b.readings))
	if count == 0 {
		return nil
	}
	out := make([]*models.Reading, count)
	copy(out, b.readings[:count])
	return out
}

// Size returns the number of buffered readings
func (b *TelemetryBuffer) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.readings)
}

// IsFull reports whether the buffer is at capacity
func (b *TelemetryBuffer) IsFull() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.readings) >= b.capacity
}

// IsEmpty reports whether the buffer holds nothing
func (b *TelemetryBuffer) IsEmpty() bool {
	return b.Size() == 0
}

// Clear discards all readings and resets the counters
func (b *TelemetryBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readings = make([]*models.Reading, 0, b.capacity)
	b.stats = BufferStats{}
}

// Capacity returns the maximum number of readings
func (b *TelemetryBuffer) Capacity() int {
	return b.capacity
}

// Stats returns a copy of the counters
func (b *TelemetryBuffer) Stats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stats
}

func (b *TelemetryBuffer) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	mode := "drop-newest"
	if b.dropOldest {
		mode = "drop-oldest"
	}
	return fmt.Sprintf("TelemetryBuffer[%d/%d, dropped: %d, mode: %s]",
		len(b.readings), b.capacity, b.stats.TotalDropped, mode)
}
