package client

import (
	"slices"
	"sync"
	"testing"

	"github.com/afroash/device-hub/internal/models"
)

// fill pushes one reading per temperature
func fill(buf *TelemetryBuffer, values ...float64) {
	for _, temp := range values {
		buf.Push(models.NewReading("esp32-01", temp, 45.0))
	}
}

func temps(readings []*models.Reading) []float64 {
	out := make([]float64, len(readings))
	for i, r := range readings {
		out[i] = r.Temperature
	}
	return out
}

func TestTelemetryBuffer_Empty(t *testing.T) {
	buf := NewTelemetryBuffer(100, true)

	if buf.Capacity() != 100 || buf.Size() != 0 || !buf.IsEmpty() || buf.IsFull() {
		t.Fatalf("fresh buffer = %s", buf)
	}
	if got := buf.PopBatch(5); got != nil {
		t.Errorf("PopBatch on empty = %v, want nil", got)
	}
	if got := buf.Peek(5); got != nil {
		t.Errorf("Peek on empty = %v, want nil", got)
	}
}

func TestTelemetryBuffer_PopBatchIsFIFO(t *testing.T) {
	buf := NewTelemetryBuffer(10, true)
	fill(buf, 20, 21, 22, 23, 24)

	if got := temps(buf.PopBatch(3)); !slices.Equal(got, []float64{20, 21, 22}) {
		t.Errorf("first batch = %v", got)
	}
	if got := temps(buf.PopBatch(10)); !slices.Equal(got, []float64{23, 24}) {
		t.Errorf("second batch = %v", got)
	}
	if !buf.IsEmpty() {
		t.Errorf("Size = %d after draining", buf.Size())
	}
}

func TestTelemetryBuffer_PeekKeepsReadings(t *testing.T) {
	buf := NewTelemetryBuffer(10, true)
	fill(buf, 20, 21, 22, 23, 24)

	if got := temps(buf.Peek(2)); !slices.Equal(got, []float64{20, 21}) {
		t.Errorf("Peek(2) = %v", got)
	}
	if buf.Size() != 5 {
		t.Errorf("Size = %d after Peek, want 5", buf.Size())
	}
}

func TestTelemetryBuffer_Overflow(t *testing.T) {
	tests := []struct {
		name       string
		dropOldest bool
		wantOK     bool
		want       []float64
	}{
		{"drop oldest", true, true, []float64{21, 22, 99}},
		{"drop newest", false, false, []float64{20, 21, 22}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := NewTelemetryBuffer(3, tt.dropOldest)
			fill(buf, 20, 21, 22)
			if !buf.IsFull() {
				t.Fatal("buffer not full after 3 pushes")
			}

			ok := buf.Push(models.NewReading("esp32-01", 99, 45.0))
			if ok != tt.wantOK {
				t.Errorf("Push on full = %v, want %v", ok, tt.wantOK)
			}
			if got := temps(buf.PopBatch(3)); !slices.Equal(got, tt.want) {
				t.Errorf("contents = %v, want %v", got, tt.want)
			}
			if buf.Stats().TotalDropped != 1 {
				t.Errorf("TotalDropped = %d, want 1", buf.Stats().TotalDropped)
			}
		})
	}
}

func TestTelemetryBuffer_Stats(t *testing.T) {
	buf := NewTelemetryBuffer(3, true)
	fill(buf, 1, 2, 3, 4, 5)

	s := buf.Stats()
	if s.TotalPushed != 5 || s.TotalDropped != 2 || s.HighWaterMark != 3 {
		t.Errorf("stats = %+v", s)
	}
	if s.LastPushTime.IsZero() || s.LastDropTime.IsZero() {
		t.Errorf("timestamps not set: %+v", s)
	}

	buf.Clear()
	if !buf.IsEmpty() {
		t.Errorf("Size = %d after Clear", buf.Size())
	}
}

func TestTelemetryBuffer_Requeue(t *testing.T) {
	buf := NewTelemetryBuffer(10, true)
	fill(buf, 0, 1, 2, 3)

	unsent := buf.PopBatch(2)
	fill(buf, 99)
	buf.Requeue(unsent)

	if got := temps(buf.PopBatch(10)); !slices.Equal(got, []float64{0, 1, 2, 3, 99}) {
		t.Errorf("after requeue = %v", got)
	}
}

func TestTelemetryBuffer_RequeueOverflowDropsFront(t *testing.T) {
	buf := NewTelemetryBuffer(3, true)
	fill(buf, 0, 1, 2)

	unsent := buf.PopBatch(2)
	fill(buf, 10, 11)
	buf.Requeue(unsent)

	if got := temps(buf.Peek(3)); !slices.Equal(got, []float64{2, 10, 11}) {
		t.Errorf("after overflowing requeue = %v", got)
	}
	if buf.Stats().TotalDropped != 2 {
		t.Errorf("TotalDropped = %d, want 2", buf.Stats().TotalDropped)
	}
}

func TestTelemetryBuffer_Concurrent(t *testing.T) {
	buf := NewTelemetryBuffer(1000, true)

	var wg sync.WaitGroup
	var popped sync.Map
	for p := 0; p < 8; p++ {
		wg.Add(2)
		go func(p int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				fill(buf, float64(p*100+j))
			}
		}(p)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				for _, r := range buf.PopBatch(5) {
					popped.Store(r.Temperature, true)
				}
				_ = buf.Stats()
				_ = buf.String()
			}
		}()
	}
	wg.Wait()

	total := buf.Size()
	popped.Range(func(_, _ any) bool { total++; return true })
	if total != 800 {
		t.Errorf("popped + remaining = %d, want 800", total)
	}
}

func BenchmarkTelemetryBuffer_Push(b *testing.B) {
	buf := NewTelemetryBuffer(10000, true)
	reading := models.NewReading("esp32-01", 22.5, 45.0)

	for i := 0; i < b.N; i++ {
		buf.Push(reading)
	}
}
