package simulator

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Randomizer is the single source of chance in the simulator.
type Randomizer interface {
	// Float64 returns a value in [0, 1).
	Float64() float64
	// Between returns a duration in [min, max].
	Between(min, max time.Duration) time.Duration
	// Intn returns a value in [0, n).
	Intn(n int) int
}

type seededRandomizer struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSeededRandomizer returns a reproducible randomizer for a given seed.
func NewSeededRandomizer(seed uint64) Randomizer {
	return &seededRandomizer{rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (r *seededRandomizer) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Float64()
}

func (r *seededRandomizer) Between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return min + time.Duration(r.rnd.Int64N(int64(max-min)+1))
}

func (r *seededRandomizer) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.IntN(n)
}

type fixedRandomizer struct {
	value float64
}

// NewFixedRandomizer always rolls f, picks the shortest interval and the first pool entry.
func NewFixedRandomizer(f float64) Randomizer {
	return fixedRandomizer{value: f}
}

func (r fixedRandomizer) Float64() float64 { return r.value }

func (r fixedRandomizer) Between(min, _ time.Duration) time.Duration { return min }

func (r fixedRandomizer) Intn(int) int { return 0 }
