// Package assumption holds the validated inputs of a DCF run: the base
// assumption set and the named scenario deltas applied on top of it.
package assumption

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// BaseScenario is the name of the scenario built from the unmodified inputs.
const BaseScenario = "base"

// MaxProjectionYears caps the explicit forecast horizon.
const MaxProjectionYears = 50

// =============================================================================
// ASSUMPTIONS
// =============================================================================

// Assumptions is one complete set of financial drivers.
// Every ratio is expressed as a fraction of revenue (0.05 = 5%).
type Assumptions struct {
	BaseRevenue                 float64 `json:"base_revenue" yaml:"base_revenue"`
	RevenueGrowthRate           float64 `json:"revenue_growth_rate" yaml:"revenue_growth_rate"`
	GrossMargin                 float64 `json:"gross_margin" yaml:"gross_margin"`
	OperatingExpenseRatio       float64 `json:"operating_expense_ratio" yaml:"operating_expense_ratio"`
	TaxRate                     float64 `json:"tax_rate" yaml:"tax_rate"`
	DepreciationRatio           float64 `json:"depreciation_ratio" yaml:"depreciation_ratio"`
	CapexRatio                  float64 `json:"capex_ratio" yaml:"capex_ratio"`
	ChangeInWorkingCapitalRatio float64 `json:"change_in_working_capital_ratio" yaml:"change_in_working_capital_ratio"`
	TerminalGrowthRate          float64 `json:"terminal_growth_rate" yaml:"terminal_growth_rate"`
	DiscountRate                float64 `json:"discount_rate" yaml:"discount_rate"` // WACC
	ProjectionYears             int     `json:"projection_years" yaml:"projection_years"`

	// InitialInvestment is the year-0 outlay used only for IRR. Zero means no outlay.
	InitialInvestment float64 `json:"initial_investment,omitempty" yaml:"initial_investment,omitempty"`
}

// FCFFMargin is FCFF as a fraction of revenue for these drivers.
func (a Assumptions) FCFFMargin() float64 {
	ebit := a.GrossMargin - a.OperatingExpenseRatio
	nopat := ebit * (1 - a.TaxRate)
	return nopat + a.DepreciationRatio - a.CapexRatio - a.ChangeInWorkingCapitalRatio
}

// =============================================================================
// VALIDATION ERRORS
// =============================================================================

// ErrInvalid is matched by every validation failure via errors.Is.
var ErrInvalid = errors.New("invalid assumptions")

// Issue is a single violated constraint.
type Issue struct {
	Field   string  `json:"field"`
	Value   float64 `json:"value"`
	Message string  `json:"message"`
}

// ValidationError collects every issue found in one assumption set.
type ValidationError struct {
	Scenario string  `json:"scenario,omitempty"`
	Issues   []Issue `json:"issues"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		parts = append(parts, fmt.Sprintf("%s: %s", is.Field, is.Message))
	}
	prefix := "invalid assumptions"
	if e.Scenario != "" {
		prefix = fmt.Sprintf("invalid assumptions for scenario %q", e.Scenario)
	}
	return prefix + ": " + strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrInvalid) match.
func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

// =============================================================================
// BOUNDS
// =============================================================================

type bound struct {
	field    string
	lo, hi   float64
	loIncl   bool
	hiIncl   bool
	valueFor func(Assumptions) float64
}

func (b bound) check(a Assumptions) *Issue {
	v := b.valueFor(a)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return &Issue{Field: b.field, Value: v, Message: "must be a finite number"}
	}
	tooLow := v < b.lo || (!b.loIncl && v == b.lo)
	tooHigh := v > b.hi || (!b.hiIncl && v == b.hi)
	if !tooLow && !tooHigh {
		return nil
	}
	lb, rb := "(", ")"
	if b.loIncl {
		lb = "["
	}
	if b.hiIncl {
		rb = "]"
	}
	return &Issue{
		Field:   b.field,
		Value:   v,
		Message: fmt.Sprintf("must be within %s%g, %g%s", lb, b.lo, b.hi, rb),
	}
}

var bounds = []bound{
	{"revenue_growth_rate", -0.5, 1.0, true, true, func(a Assumptions) float64 { return a.RevenueGrowthRate }},
	{"gross_margin", 0, 1, false, false, func(a Assumptions) float64 { return a.GrossMargin }},
	{"operating_expense_ratio", 0, 1, true, false, func(a Assumptions) float64 { return a.OperatingExpenseRatio }},
	{"tax_rate", 0, 1, true, false, func(a Assumptions) float64 { return a.TaxRate }},
	{"depreciation_ratio", 0, 1, true, false, func(a Assumptions) float64 { return a.DepreciationRatio }},
	{"capex_ratio", 0, 1, true, false, func(a Assumptions) float64 { return a.CapexRatio }},
	{"change_in_working_capital_ratio", -1, 1, true, false, func(a Assumptions) float64 { return a.ChangeInWorkingCapitalRatio }},
	{"terminal_growth_rate", -0.05, 0.2, true, false, func(a Assumptions) float64 { return a.TerminalGrowthRate }},
	{"discount_rate", 0, 1, false, false, func(a Assumptions) float64 { return a.DiscountRate }},
}

// Validate checks every field and returns a *ValidationError listing all
// violations, or nil.
func (a Assumptions) Validate() error {
	var issues []Issue

	if math.IsNaN(a.BaseRevenue) || math.IsInf(a.BaseRevenue, 0) || a.BaseRevenue <= 0 {
		issues = append(issues, Issue{Field: "base_revenue", Value: a.BaseRevenue, Message: "must be a positive number"})
	}
	for _, b := range bounds {
		if is := b.check(a); is != nil {
			issues = append(issues, *is)
		}
	}
	if a.ProjectionYears < 1 || a.ProjectionYears > MaxProjectionYears {
		issues = append(issues, Issue{
			Field:   "projection_years",
			Value:   float64(a.ProjectionYears),
			Message: fmt.Sprintf("must be an integer within [1, %d]", MaxProjectionYears),
		})
	}
	if math.IsNaN(a.InitialInvestment) || math.IsInf(a.InitialInvestment, 0) || a.InitialInvestment < 0 {
		issues = append(issues, Issue{Field: "initial_investment", Value: a.InitialInvestment, Message: "must be zero or positive"})
	}
	if m := a.GrossMargin - a.OperatingExpenseRatio; !math.IsNaN(m) && m <= -1 {
		issues = append(issues, Issue{
			Field:   "operating_expense_ratio",
			Value:   a.OperatingExpenseRatio,
			Message: fmt.Sprintf("EBIT margin %g must be above -1", m),
		})
	}
	// Gordon growth needs r > g.
	if a.DiscountRate <= a.TerminalGrowthRate {
		issues = append(issues, Issue{
			Field:   "discount_rate",
			Value:   a.DiscountRate,
			Message: fmt.Sprintf("must be greater than terminal_growth_rate (%g)", a.TerminalGrowthRate),
		})
	}

	if len(issues) == 0 {
		return nil
	}
	return &ValidationError{Issues: issues}
}

// ValidateHistory checks a historical revenue series against the assumptions:
// every value must be positive and the base revenue must be in line with the
// latest observation (at least half of it).
func ValidateHistory(a Assumptions, history []float64) error {
	if len(history) == 0 {
		return nil
	}
	var issues []Issue
	for i, v := range history {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			issues = append(issues, Issue{
				Field:   fmt.Sprintf("history[%d]", i),
				Value:   v,
				Message: "historical revenues must be positive",
			})
		}
	}
	latest := history[len(history)-1]
	if latest > 0 && a.BaseRevenue < latest*0.5 {
		issues = append(issues, Issue{
			Field:   "base_revenue",
			Value:   a.BaseRevenue,
			Message: fmt.Sprintf("should be in line with recent history (latest %.2f)", latest),
		})
	}
	if len(issues) == 0 {
		return nil
	}
	return &ValidationError{Issues: issues}
}
