package sensor

import (
	"math/rand/v2"
	"sync"
)

// SyntheticSensor is a Source that random-walks around a base climate.
// It lets the simulator run on hosts without GPIO.
type SyntheticSensor struct {
	mu          sync.Mutex
	rng         *rand.Rand
	temperature float64
	humidity    float64
	step        float64
}

// NewSyntheticSensor starts the walk at 22°C / 45%. Equal seeds give equal sequences.
func NewSyntheticSensor(seed uint64) *SyntheticSensor {
	return &SyntheticSensor{
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		temperature: 22.0,
		humidity:    45.0,
		step:        0.5,
	}
}

// Read advances the walk one step and returns the new values, rounded to
// one decimal like a DHT11.
func (s *SyntheticSensor) Read() (float64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.temperature = clamp(s.temperature+(s.rng.Float64()*2-1)*s.step, 5, 40)
	s.humidity = clamp(s.humidity+(s.rng.Float64()*2-1)*s.step*2, 20, 90)

	return round1(s.temperature), round1(s.humidity), nil
}

// Close is a no-op
func (s *SyntheticSensor) Close() error {
	return nil
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
