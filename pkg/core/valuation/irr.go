package valuation

import "math"

// IRR search bounds. Rates at or below -100% are meaningless; 1000% is far
// beyond any plausible return for a going concern.
const (
	IRRLowerBound = -0.99
	IRRUpperBound = 10.0

	irrScanCells     = 1000
	irrMaxIterations = 200
	irrTolerance     = 1e-12
)

// NPVOfFlows discounts flows[t] by (1+rate)^t, so flows[0] is undiscounted.
func NPVOfFlows(flows []float64, rate float64) float64 {
	npv := 0.0
	factor := 1.0
	for t, f := range flows {
		if t > 0 {
			factor /= 1 + rate
		}
		npv += f * factor
	}
	return npv
}

// IRR returns the lowest rate in [IRRLowerBound, IRRUpperBound] at which the
// NPV of flows is zero, or nil when no sign change is found. The range is
// scanned in fixed cells for the first bracket, which is then bisected, so
// the result is fully deterministic.
func IRR(flows []float64) *float64 {
	if len(flows) < 2 {
		return nil
	}
	var pos, neg bool
	for _, f := range flows {
		if f > 0 {
			pos = true
		} else if f < 0 {
			neg = true
		}
	}
	if !pos || !neg {
		return nil
	}

	step := (IRRUpperBound - IRRLowerBound) / irrScanCells
	lo := IRRLowerBound
	fLo := NPVOfFlows(flows, lo)
	for i := 1; i <= irrScanCells; i++ {
		hi := IRRLowerBound + float64(i)*step
		fHi := NPVOfFlows(flows, hi)
		if fLo == 0 {
			return ptr(lo)
		}
		if math.Signbit(fLo) != math.Signbit(fHi) || fHi == 0 {
			return ptr(bisect(flows, lo, hi, fLo))
		}
		lo, fLo = hi, fHi
	}
	return nil
}

func bisect(flows []float64, lo, hi, fLo float64) float64 {
	for i := 0; i < irrMaxIterations && hi-lo > irrTolerance; i++ {
		mid := lo + (hi-lo)/2
		fMid := NPVOfFlows(flows, mid)
		if fMid == 0 {
			return mid
		}
		if math.Signbit(fMid) == math.Signbit(fLo) {
			lo, fLo = mid, fMid
		} else {
			hi = mid
		}
	}
	return lo + (hi-lo)/2
}

func ptr(v float64) *float64 { return &v }
