package decode

import (
	"math/rand"
	"sync"
)

const (
	HeartRateBaseline = 70
	HeartRateMin      = 65
	HeartRateMax      = 75
)

// StepSource yields signed unit steps (-1, 0 or +1).
type StepSource interface {
	Step() int
}

// FixedSteps replays a step sequence, cycling when exhausted.
type FixedSteps struct {
	steps []int
	next  int
}

// NewFixedSteps returns a StepSource that replays steps in order.
func NewFixedSteps(steps ...int) *FixedSteps {
	return &FixedSteps{steps: steps}
}

func (f *FixedSteps) Step() int {
	if len(f.steps) == 0 {
		return 0
	}
	s := f.steps[f.next%len(f.steps)]
	f.next++
	return clampStep(s)
}

type randomSteps struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// RandomSteps returns a seeded uniform choice over {-1, 0, +1}.
func RandomSteps(seed int64) StepSource {
	return &randomSteps{rng: rand.New(rand.NewSource(seed))}
}

func (r *randomSteps) Step() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Intn(3) - 1
}

// HeartRate synthesizes a plausible heart rate: the first call returns the
// baseline and every later call nudges it by one step, clamped to the band.
type HeartRate struct {
	steps  StepSource
	bpm    int
	seeded bool
}

// NewHeartRate returns an unseeded synthesizer.
func NewHeartRate(steps StepSource) *HeartRate {
	if steps == nil {
		steps = NewFixedSteps()
	}
	return &HeartRate{steps: steps, bpm: HeartRateBaseline}
}

// Next advances the synthesizer by one valid payload.
func (h *HeartRate) Next() int {
	if !h.seeded {
		h.seeded = true
		h.bpm = HeartRateBaseline
		return h.bpm
	}
	h.bpm = clamp(h.bpm+clampStep(h.steps.Step()), HeartRateMin, HeartRateMax)
	return h.bpm
}

func clampStep(s int) int {
	return clamp(s, -1, 1)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
