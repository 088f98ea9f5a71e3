package valuation

import (
	"errors"
	"fmt"
	"math"

	"dcf_valuation/pkg/core/assumption"
	"dcf_valuation/pkg/core/projection"
)

// ErrTerminalGrowth is returned when the discount rate does not exceed the
// terminal growth rate, which would make the Gordon terminal value infinite
// or negative.
var ErrTerminalGrowth = errors.New("discount rate must exceed terminal growth rate")

// TerminalValue applies the Gordon growth formula to the final explicit FCFF:
// TV = FCFF_N * (1 + g) / (r - g).
func TerminalValue(lastFCFF, rate, terminalGrowth float64) (float64, error) {
	if rate <= terminalGrowth {
		return 0, fmt.Errorf("%w (rate %g, terminal growth %g)", ErrTerminalGrowth, rate, terminalGrowth)
	}
	return lastFCFF * (1 + terminalGrowth) / (rate - terminalGrowth), nil
}

// PresentValue discounts flows[i] as received at the end of year i+1.
func PresentValue(flows []float64, rate float64) float64 {
	pv := 0.0
	factor := 1.0
	for _, f := range flows {
		factor /= 1 + rate
		pv += f * factor
	}
	return pv
}

// Breakdown is the NPV split into its explicit-horizon and terminal parts.
type Breakdown struct {
	TerminalValue   float64
	PVExplicitFCFF  float64
	PVTerminalValue float64
	NPV             float64
}

// NPVAt values a projection table at the given discount rate, holding the
// FCFF stream fixed. The terminal value is discounted by the full horizon.
func NPVAt(table *projection.Table, rate, terminalGrowth float64) (Breakdown, error) {
	if rate <= -1 {
		return Breakdown{}, fmt.Errorf("discount rate must be greater than -1, got %g", rate)
	}
	tv, err := TerminalValue(table.TerminalBaseFCFF, rate, terminalGrowth)
	if err != nil {
		return Breakdown{}, err
	}
	pvExplicit := PresentValue(table.FCFF(), rate)
	pvTerminal := tv / math.Pow(1+rate, float64(table.Years()))
	return Breakdown{
		TerminalValue:   tv,
		PVExplicitFCFF:  pvExplicit,
		PVTerminalValue: pvTerminal,
		NPV:             pvExplicit + pvTerminal,
	}, nil
}

// IRRCashFlows is the stream the IRR is solved on: the year-0 outlay, the
// explicit FCFF, and the terminal value added to the final period.
func IRRCashFlows(initialInvestment float64, table *projection.Table, terminalValue float64) []float64 {
	flows := make([]float64, 0, table.Years()+1)
	flows = append(flows, -initialInvestment)
	flows = append(flows, table.FCFF()...)
	flows[len(flows)-1] += terminalValue
	return flows
}

// Evaluate values one scenario's projection at its own discount rate.
func Evaluate(name string, a assumption.Assumptions, table *projection.Table) (ScenarioResult, error) {
	b, err := NPVAt(table, a.DiscountRate, a.TerminalGrowthRate)
	if err != nil {
		return ScenarioResult{}, fmt.Errorf("scenario %q: %w", name, err)
	}

	rows := make([]projection.Row, len(table.Rows))
	copy(rows, table.Rows)

	return ScenarioResult{
		Name:            name,
		Assumptions:     a,
		Rows:            rows,
		TerminalValue:   b.TerminalValue,
		PVExplicitFCFF:  b.PVExplicitFCFF,
		PVTerminalValue: b.PVTerminalValue,
		NPV:             b.NPV,
		IRR:             IRR(IRRCashFlows(a.InitialInvestment, table, b.TerminalValue)),
	}, nil
}

// Run projects and values a scenario in one call.
func Run(s assumption.Scenario) (ScenarioResult, error) {
	table, err := projection.Project(s.Assumptions)
	if err != nil {
		return ScenarioResult{}, fmt.Errorf("scenario %q: %w", s.Name, err)
	}
	return Evaluate(s.Name, s.Assumptions, table)
}
