package ingest

import (
	"fmt"
	"math"
	"math/rand"

	"dcf_valuation/pkg/core/assumption"
)

// DefaultSeed keeps synthetic series reproducible across runs.
const DefaultSeed int64 = 42

// DefaultSyntheticPeriods is the length of a generated history.
const DefaultSyntheticPeriods = 5

// syntheticNoise is the standard deviation of the yearly growth shock.
const syntheticNoise = 0.02

// GenerateSynthetic builds a revenue history consistent with the assumptions:
// it starts one growth step below base revenue and compounds growth plus a
// normally distributed shock each year. The same seed gives the same series.
// Years run from -periods+1 to 0.
func GenerateSynthetic(a assumption.Assumptions, periods int, seed int64) (*Series, error) {
	if periods < 1 {
		return nil, fmt.Errorf("synthetic series needs at least one period, got %d", periods)
	}
	if a.BaseRevenue <= 0 {
		return nil, fmt.Errorf("base revenue must be positive, got %g", a.BaseRevenue)
	}
	if a.RevenueGrowthRate <= -1 {
		return nil, fmt.Errorf("growth rate must be above -100%%, got %g", a.RevenueGrowthRate)
	}

	rng := rand.New(rand.NewSource(seed))
	current := a.BaseRevenue / (1 + a.RevenueGrowthRate)

	s := &Series{Years: defaultYears(periods), Revenues: make([]float64, periods)}
	for i := 0; i < periods; i++ {
		shock := rng.NormFloat64() * syntheticNoise
		current *= 1 + a.RevenueGrowthRate + shock
		// Keep the series strictly positive so it always validates.
		s.Revenues[i] = math.Max(current, math.SmallestNonzeroFloat64)
	}
	return s, nil
}
