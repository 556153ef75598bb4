// Package simulator provides the pluggable data sources that stand in
// for real market feeds. The engine and the simulated stream transport
// are driven through the Source interface so tests can substitute a
// deterministic series for the random walk.
package simulator

import (
	"math/rand"
)

// Source produces the next value of a simulated series from the
// previous one. Implementations must be safe for use from a single
// goroutine; callers own the serialization.
type Source interface {
	Next(prev float64) float64
}

// RandomWalk perturbs a value with a bounded random step. Each call
// moves the value by at most Step in either direction and clamps the
// result to [Min, Max].
type RandomWalk struct {
	Min  float64
	Max  float64
	Step float64
	rng  *rand.Rand
}

// NewRandomWalk creates a bounded random walk seeded deterministically
func NewRandomWalk(min, max, step float64, seed int64) *RandomWalk {
	return &RandomWalk{
		Min:  min,
		Max:  max,
		Step: step,
		rng:  rand.New(rand.NewSource(seed)),
	}
}

// Next returns the perturbed value, clamped to the walk's bounds
func (w *RandomWalk) Next(prev float64) float64 {
	v := prev + (w.rng.Float64()*2-1)*w.Step
	if v < w.Min {
		v = w.Min
	}
	if v > w.Max {
		v = w.Max
	}
	return v
}

// Ramp is a monotone non-decreasing series: each call advances the
// value by a random increment in [0, Step], saturating at Max. Used for
// backtest progress, which may never move backwards.
type Ramp struct {
	Max  float64
	Step float64
	rng  *rand.Rand
}

// NewRamp creates a saturating random ramp seeded deterministically
func NewRamp(max, step float64, seed int64) *Ramp {
	return &Ramp{Max: max, Step: step, rng: rand.New(rand.NewSource(seed))}
}

// Next returns the advanced value, never below prev nor above Max
func (r *Ramp) Next(prev float64) float64 {
	v := prev + r.rng.Float64()*r.Step
	if v > r.Max {
		v = r.Max
	}
	if v < prev {
		v = prev
	}
	return v
}

// Sequence replays a fixed series of values and then holds the last
// one. It is the deterministic test double for RandomWalk.
type Sequence struct {
	values []float64
	next   int
}

// NewSequence creates a sequence source over the given values
func NewSequence(values ...float64) *Sequence {
	return &Sequence{values: values}
}

// Next returns the next value in the series. Once the series is
// exhausted the previous value is returned unchanged.
func (s *Sequence) Next(prev float64) float64 {
	if s.next >= len(s.values) {
		return prev
	}
	v := s.values[s.next]
	s.next++
	return v
}
