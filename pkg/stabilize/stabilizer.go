// Package stabilize bounds raw model outputs so a recursive forecast cannot
// drift away from the range the line has actually produced.
//
// Two clamps are applied in order:
//  1. Historical bounds: [max(0, 0.5*min), 1.2*max], then [mean-3*std, mean+3*std]
//  2. Step change: within ±20% of the previous stabilized value
//
// The first stabilized value of a run only passes the historical clamps; it then
// seeds the step-change clamp for every following step. Clamping is the
// recovery mechanism for a misbehaving model and never returns an error.
package stabilize

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	// LowerFactor scales the historical minimum into the lower bound.
	LowerFactor = 0.5
	// UpperFactor scales the historical maximum into the upper bound.
	UpperFactor = 1.2
	// Sigmas is the width of the mean/std envelope.
	Sigmas = 3.0
	// MaxStepChange is the largest relative change allowed between steps.
	MaxStepChange = 0.2
)

// Stats summarizes the pre-forecast target values.
type Stats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Count int     `json:"count"`
}

// Describe computes Stats over values. Std is the sample standard deviation
// (n-1 denominator); it is 0 for fewer than two values.
func Describe(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	mean, std := stat.MeanStdDev(values, nil)
	if len(values) < 2 {
		std = 0
	}
	return Stats{
		Min:   floats.Min(values),
		Max:   floats.Max(values),
		Mean:  mean,
		Std:   std,
		Count: len(values),
	}
}

// Bounds returns the min/max envelope [max(0, 0.5*min), 1.2*max].
func (s Stats) Bounds() (lo, hi float64) {
	return math.Max(0, LowerFactor*s.Min), UpperFactor * s.Max
}

// Envelope returns the mean/std envelope [mean-3*std, mean+3*std].
func (s Stats) Envelope() (lo, hi float64) {
	return s.Mean - Sigmas*s.Std, s.Mean + Sigmas*s.Std
}

// Counts records how often each clamp changed a value during a run.
type Counts struct {
	Steps     int `json:"steps"`
	Bounds    int `json:"bounds"`
	Envelope  int `json:"envelope"`
	Step      int `json:"step"`
	NonFinite int `json:"nonFinite"`
}

// Stabilizer applies the clamps and remembers the last stabilized value.
// It is owned by a single run.
type Stabilizer struct {
	stats  Stats
	last   float64
	primed bool
	counts Counts
}

// New creates a Stabilizer for the given historical statistics.
func New(stats Stats) *Stabilizer {
	return &Stabilizer{stats: stats}
}

// Stats returns the historical statistics the stabilizer clamps against.
func (s *Stabilizer) Stats() Stats {
	return s.stats
}

// Last returns the previous stabilized value and whether one exists.
func (s *Stabilizer) Last() (float64, bool) {
	return s.last, s.primed
}

// Counts returns the clamp counters accumulated so far.
func (s *Stabilizer) Counts() Counts {
	return s.counts
}

// Apply stabilizes raw and records the result as the new last value.
func (s *Stabilizer) Apply(raw float64) float64 {
	s.counts.Steps++

	v := raw
	if math.IsNaN(v) || math.IsInf(v, 0) {
		s.counts.NonFinite++
		if s.primed {
			v = s.last
		} else {
			v = s.stats.Mean
		}
	}

	lo, hi := s.stats.Bounds()
	if c := clamp(v, lo, hi); c != v {
		s.counts.Bounds++
		v = c
	}

	lo, hi = s.stats.Envelope()
	if c := clamp(v, lo, hi); c != v {
		s.counts.Envelope++
		v = c
	}

	if s.primed {
		if c := ClampStep(s.last, v); c != v {
			s.counts.Step++
			v = c
		}
	}

	s.last = v
	s.primed = true
	return v
}

// ClampHistorical applies both historical clamps to v.
func ClampHistorical(v float64, stats Stats) float64 {
	lo, hi := stats.Bounds()
	v = clamp(v, lo, hi)
	lo, hi = stats.Envelope()
	return clamp(v, lo, hi)
}

// ClampStep limits next to within ±20% of prev.
func ClampStep(prev, next float64) float64 {
	a := prev * (1 - MaxStepChange)
	b := prev * (1 + MaxStepChange)
	if a > b {
		a, b = b, a
	}
	return clamp(next, a, b)
}

func clamp(x, lo, hi float64) float64 {
	if x > hi {
		return hi
	}
	if x < lo {
		return lo
	}
	return x
}
