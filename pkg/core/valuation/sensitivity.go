package valuation

import (
	"errors"
	"fmt"
	"math"

	"dcf_valuation/pkg/core/assumption"
	"dcf_valuation/pkg/core/projection"
)

// Range is an evenly spaced set of discount rates, Min and Max inclusive.
type Range struct {
	Min   float64 `json:"min" yaml:"min"`
	Max   float64 `json:"max" yaml:"max"`
	Steps int     `json:"steps" yaml:"steps"`
}

// MaxSweepSteps caps the number of rates one sweep may sample.
const MaxSweepSteps = 1000

// ErrBadRange is matched by every rejected sweep range.
var ErrBadRange = errors.New("invalid sensitivity range")

// Default sweep: WACC +/- sweepHalfWidth in sweepStep increments, clamped.
const (
	sweepHalfWidth = 0.04
	sweepStep      = 0.005
	sweepFloor     = 0.02
	sweepCeiling   = 0.30
)

// DefaultRange centres a sweep on the scenario's own discount rate. The lower
// end is nudged above the terminal growth rate so every sample is valid.
func DefaultRange(a assumption.Assumptions) Range {
	lo := math.Max(sweepFloor, a.DiscountRate-sweepHalfWidth)
	hi := math.Min(sweepCeiling, a.DiscountRate+sweepHalfWidth)
	if lo <= a.TerminalGrowthRate {
		lo = a.TerminalGrowthRate + sweepStep
	}
	lo = roundTo(lo, 3)
	hi = roundTo(hi, 3)
	if hi < lo {
		hi = lo
	}
	steps := int(math.Round((hi-lo)/sweepStep)) + 1
	return Range{Min: lo, Max: hi, Steps: steps}
}

// Rates returns the sampled discount rates in increasing order.
func (r Range) Rates() ([]float64, error) {
	if math.IsNaN(r.Min) || math.IsNaN(r.Max) || math.IsInf(r.Min, 0) || math.IsInf(r.Max, 0) {
		return nil, fmt.Errorf("%w: bounds must be finite", ErrBadRange)
	}
	if r.Max < r.Min {
		return nil, fmt.Errorf("%w: max %g is below min %g", ErrBadRange, r.Max, r.Min)
	}
	switch {
	case r.Steps < 1:
		return nil, fmt.Errorf("%w: needs at least one step, got %d", ErrBadRange, r.Steps)
	case r.Steps > MaxSweepSteps:
		return nil, fmt.Errorf("%w: %d steps exceeds the limit of %d", ErrBadRange, r.Steps, MaxSweepSteps)
	case r.Steps == 1:
		if r.Min != r.Max {
			return nil, fmt.Errorf("%w: a single-step sweep needs min == max", ErrBadRange)
		}
		return []float64{r.Min}, nil
	}
	rates := make([]float64, r.Steps)
	width := (r.Max - r.Min) / float64(r.Steps-1)
	for i := range rates {
		rates[i] = roundTo(r.Min+float64(i)*width, 10)
	}
	rates[len(rates)-1] = r.Max
	return rates, nil
}

// Sweep recomputes the NPV of a fixed projection at every rate in rng.
func Sweep(name string, a assumption.Assumptions, table *projection.Table, rng Range) (SensitivityTable, error) {
	rates, err := rng.Rates()
	if err != nil {
		return SensitivityTable{}, err
	}
	out := SensitivityTable{Scenario: name, Points: make([]SensitivityPoint, 0, len(rates))}
	for _, rate := range rates {
		b, err := NPVAt(table, rate, a.TerminalGrowthRate)
		if err != nil {
			return SensitivityTable{}, fmt.Errorf("%w: sweep at %g: %w", ErrBadRange, rate, err)
		}
		out.Points = append(out.Points, SensitivityPoint{DiscountRate: rate, NPV: b.NPV})
	}
	return out, nil
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
