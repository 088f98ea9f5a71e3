package assumption

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Field names a single Assumptions field, using its wire (json/yaml) name.
type Field string

const (
	FieldBaseRevenue                 Field = "base_revenue"
	FieldRevenueGrowthRate           Field = "revenue_growth_rate"
	FieldGrossMargin                 Field = "gross_margin"
	FieldOperatingExpenseRatio       Field = "operating_expense_ratio"
	FieldTaxRate                     Field = "tax_rate"
	FieldDepreciationRatio           Field = "depreciation_ratio"
	FieldCapexRatio                  Field = "capex_ratio"
	FieldChangeInWorkingCapitalRatio Field = "change_in_working_capital_ratio"
	FieldTerminalGrowthRate          Field = "terminal_growth_rate"
	FieldDiscountRate                Field = "discount_rate"
	FieldProjectionYears             Field = "projection_years"
	FieldInitialInvestment           Field = "initial_investment"
)

// Mode selects how an override combines with the base value.
type Mode string

const (
	ModeAdd Mode = "add" // base + value
	ModeSet Mode = "set" // value replaces base
)

// Override is a partial change to one field. Min and Max, when set, clamp
// the combined value.
type Override struct {
	Mode  Mode     `json:"mode" yaml:"mode"`
	Value float64  `json:"value" yaml:"value"`
	Min   *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max   *float64 `json:"max,omitempty" yaml:"max,omitempty"`
}

// ScenarioDelta is a named set of overrides applied on top of the base case.
type ScenarioDelta struct {
	Name      string             `json:"name" yaml:"name"`
	Overrides map[Field]Override `json:"overrides" yaml:"overrides"`
}

// Scenario is a concrete, validated assumption set.
type Scenario struct {
	Name        string      `json:"name"`
	Assumptions Assumptions `json:"assumptions"`
}

// Add returns an additive override.
func Add(v float64) Override { return Override{Mode: ModeAdd, Value: v} }

// Set returns a replacement override.
func Set(v float64) Override { return Override{Mode: ModeSet, Value: v} }

// AtLeast returns o with its result clamped from below.
func (o Override) AtLeast(lo float64) Override {
	o.Min = &lo
	return o
}

// AtMost returns o with its result clamped from above.
func (o Override) AtMost(hi float64) Override {
	o.Max = &hi
	return o
}

func (o Override) clamp(v float64) float64 {
	if o.Min != nil && v < *o.Min {
		v = *o.Min
	}
	if o.Max != nil && v > *o.Max {
		v = *o.Max
	}
	return v
}

func floatField(a *Assumptions, f Field) (*float64, bool) {
	switch f {
	case FieldBaseRevenue:
		return &a.BaseRevenue, true
	case FieldRevenueGrowthRate:
		return &a.RevenueGrowthRate, true
	case FieldGrossMargin:
		return &a.GrossMargin, true
	case FieldOperatingExpenseRatio:
		return &a.OperatingExpenseRatio, true
	case FieldTaxRate:
		return &a.TaxRate, true
	case FieldDepreciationRatio:
		return &a.DepreciationRatio, true
	case FieldCapexRatio:
		return &a.CapexRatio, true
	case FieldChangeInWorkingCapitalRatio:
		return &a.ChangeInWorkingCapitalRatio, true
	case FieldTerminalGrowthRate:
		return &a.TerminalGrowthRate, true
	case FieldDiscountRate:
		return &a.DiscountRate, true
	case FieldInitialInvestment:
		return &a.InitialInvestment, true
	}
	return nil, false
}

// Apply returns a copy of base with the delta's overrides applied. It does not
// validate the result.
func (d ScenarioDelta) Apply(base Assumptions) (Assumptions, error) {
	out := base

	// Sorted for stable error messages.
	fields := make([]string, 0, len(d.Overrides))
	for f := range d.Overrides {
		fields = append(fields, string(f))
	}
	sort.Strings(fields)

	for _, name := range fields {
		f := Field(name)
		ov := d.Overrides[f]
		if math.IsNaN(ov.Value) || math.IsInf(ov.Value, 0) {
			return out, scenarioErrorf(d.Name, "override for %s is not a finite number", f)
		}
		if ov.Min != nil && ov.Max != nil && *ov.Min > *ov.Max {
			return out, scenarioErrorf(d.Name, "override for %s has min %g above max %g", f, *ov.Min, *ov.Max)
		}

		if f == FieldProjectionYears {
			if ov.Mode != ModeSet {
				return out, scenarioErrorf(d.Name, "projection_years only supports mode %q", ModeSet)
			}
			if ov.Value != math.Trunc(ov.Value) {
				return out, scenarioErrorf(d.Name, "projection_years must be a whole number, got %g", ov.Value)
			}
			out.ProjectionYears = int(ov.Value)
			continue
		}

		ptr, ok := floatField(&out, f)
		if !ok {
			return out, scenarioErrorf(d.Name, "unknown field %q", f)
		}
		switch ov.Mode {
		case ModeAdd:
			*ptr = ov.clamp(*ptr + ov.Value)
		case ModeSet:
			*ptr = ov.clamp(ov.Value)
		default:
			return out, scenarioErrorf(d.Name, "unknown override mode %q for %s", ov.Mode, f)
		}
	}
	return out, nil
}

// Expand turns a base assumption set and a list of deltas into concrete
// scenarios. The base scenario always comes first and equals the input;
// the remaining scenarios follow the order of deltas.
func Expand(base Assumptions, deltas []ScenarioDelta) ([]Scenario, error) {
	if err := base.Validate(); err != nil {
		return nil, withScenario(err, BaseScenario)
	}

	scenarios := make([]Scenario, 0, len(deltas)+1)
	scenarios = append(scenarios, Scenario{Name: BaseScenario, Assumptions: base})

	seen := map[string]bool{BaseScenario: true}
	for i, d := range deltas {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return nil, scenarioErrorf("", "delta #%d has no name", i+1)
		}
		key := strings.ToLower(name)
		if seen[key] {
			return nil, scenarioErrorf(name, "duplicate scenario name")
		}
		seen[key] = true

		concrete, err := d.Apply(base)
		if err != nil {
			return nil, err
		}
		if err := concrete.Validate(); err != nil {
			return nil, withScenario(err, name)
		}
		scenarios = append(scenarios, Scenario{Name: name, Assumptions: concrete})
	}
	return scenarios, nil
}

// ErrBadScenario is matched by every malformed scenario delta via errors.Is.
var ErrBadScenario = errors.New("invalid scenario delta")

// ScenarioError reports a delta that cannot be applied at all, as opposed to
// one that applies but yields out-of-range assumptions (*ValidationError).
type ScenarioError struct {
	Scenario string
	Reason   string
}

func (e *ScenarioError) Error() string {
	if e.Scenario == "" {
		return "scenario " + e.Reason
	}
	return fmt.Sprintf("scenario %q: %s", e.Scenario, e.Reason)
}

// Is lets errors.Is(err, ErrBadScenario) match.
func (e *ScenarioError) Is(target error) bool { return target == ErrBadScenario }

func scenarioErrorf(name, format string, args ...interface{}) error {
	return &ScenarioError{Scenario: name, Reason: fmt.Sprintf(format, args...)}
}

func withScenario(err error, name string) error {
	var ve *ValidationError
	if errors.As(err, &ve) {
		ve.Scenario = name
		return ve
	}
	return err
}

// Spread configures the default optimistic / pessimistic pair.
type Spread struct {
	OptimisticGrowth  float64 `json:"optimistic_growth_delta" yaml:"optimistic_growth_delta"`
	PessimisticGrowth float64 `json:"pessimistic_growth_delta" yaml:"pessimistic_growth_delta"`
	OptimisticWACC    float64 `json:"optimistic_wacc_delta" yaml:"optimistic_wacc_delta"`
	PessimisticWACC   float64 `json:"pessimistic_wacc_delta" yaml:"pessimistic_wacc_delta"`
}

// DefaultSpread matches the demo's stock deltas.
var DefaultSpread = Spread{
	OptimisticGrowth:  0.03,
	PessimisticGrowth: 0.02,
	OptimisticWACC:    0.01,
	PessimisticWACC:   0.01,
}

// Scenario WACC is kept within [MinScenarioWACC, MaxScenarioWACC].
const (
	MinScenarioWACC = 0.01
	MaxScenarioWACC = 0.99
)

// DefaultDeltas builds the optimistic (faster growth, cheaper capital) and
// pessimistic (slower growth, dearer capital) deltas. The shifted WACC is
// clamped rather than rejected.
func DefaultDeltas(s Spread) []ScenarioDelta {
	return []ScenarioDelta{
		{
			Name: "optimistic",
			Overrides: map[Field]Override{
				FieldRevenueGrowthRate: Add(s.OptimisticGrowth),
				FieldDiscountRate:      Add(-s.OptimisticWACC).AtLeast(MinScenarioWACC),
			},
		},
		{
			Name: "pessimistic",
			Overrides: map[Field]Override{
				FieldRevenueGrowthRate: Add(-s.PessimisticGrowth),
				FieldDiscountRate:      Add(s.PessimisticWACC).AtMost(MaxScenarioWACC),
			},
		},
	}
}
