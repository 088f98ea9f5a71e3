package valuation

import (
	"dcf_valuation/pkg/core/assumption"
	"dcf_valuation/pkg/core/projection"
)

// ScenarioResult is the valuation of one scenario. It is not modified after
// Evaluate returns it.
type ScenarioResult struct {
	Name        string                 `json:"name"`
	Assumptions assumption.Assumptions `json:"assumptions"`
	Rows        []projection.Row       `json:"rows"`

	TerminalValue   float64 `json:"terminal_value"`
	PVExplicitFCFF  float64 `json:"pv_explicit_fcff"`
	PVTerminalValue float64 `json:"pv_terminal_value"`
	NPV             float64 `json:"npv"`

	// IRR is nil when the cash flows never change sign in the search range.
	IRR *float64 `json:"irr"`
}

// DiscountRate is the rate the scenario was valued at.
func (r ScenarioResult) DiscountRate() float64 { return r.Assumptions.DiscountRate }

// SensitivityPoint is one sample of the discount-rate sweep.
type SensitivityPoint struct {
	DiscountRate float64 `json:"discount_rate"`
	NPV          float64 `json:"npv"`
}

// SensitivityTable is the ordered sweep for one scenario.
type SensitivityTable struct {
	Scenario string             `json:"scenario"`
	Points   []SensitivityPoint `json:"points"`
}
