package assumption

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() Assumptions {
	return Assumptions{
		BaseRevenue:                 1_000_000,
		RevenueGrowthRate:           0.05,
		GrossMargin:                 0.4,
		OperatingExpenseRatio:       0.15,
		TaxRate:                     0.21,
		DepreciationRatio:           0.03,
		CapexRatio:                  0.04,
		ChangeInWorkingCapitalRatio: 0.01,
		TerminalGrowthRate:          0.02,
		DiscountRate:                0.10,
		ProjectionYears:             5,
	}
}

func TestValidate_Valid(t *testing.T) {
	require.NoError(t, sample().Validate())
}

func TestValidate_CollectsEveryIssue(t *testing.T) {
	a := sample()
	a.BaseRevenue = -5
	a.TaxRate = 1.2
	a.ProjectionYears = 0

	err := a.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	fields := map[string]bool{}
	for _, is := range ve.Issues {
		fields[is.Field] = true
	}
	assert.True(t, fields["base_revenue"])
	assert.True(t, fields["tax_rate"])
	assert.True(t, fields["projection_years"])
	assert.Len(t, ve.Issues, 3)
}

func TestValidate_DiscountRateMustExceedTerminalGrowth(t *testing.T) {
	a := sample()
	a.DiscountRate = 0.02
	a.TerminalGrowthRate = 0.02

	err := a.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminal_growth_rate")
}

func TestValidate_Bounds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Assumptions)
		field  string
	}{
		{"gross margin zero", func(a *Assumptions) { a.GrossMargin = 0 }, "gross_margin"},
		{"gross margin one", func(a *Assumptions) { a.GrossMargin = 1 }, "gross_margin"},
		{"growth below floor", func(a *Assumptions) { a.RevenueGrowthRate = -0.6 }, "revenue_growth_rate"},
		{"capex negative", func(a *Assumptions) { a.CapexRatio = -0.01 }, "capex_ratio"},
		{"nwc at one", func(a *Assumptions) { a.ChangeInWorkingCapitalRatio = 1 }, "change_in_working_capital_ratio"},
		{"too many years", func(a *Assumptions) { a.ProjectionYears = MaxProjectionYears + 1 }, "projection_years"},
		{"negative outlay", func(a *Assumptions) { a.InitialInvestment = -1 }, "initial_investment"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := sample()
			tt.mutate(&a)
			var ve *ValidationError
			require.ErrorAs(t, a.Validate(), &ve)
			assert.Equal(t, tt.field, ve.Issues[0].Field)
		})
	}
}

func TestValidateHistory(t *testing.T) {
	a := sample()
	assert.NoError(t, ValidateHistory(a, nil))
	assert.NoError(t, ValidateHistory(a, []float64{800_000, 900_000, 1_100_000}))
	assert.Error(t, ValidateHistory(a, []float64{900_000, 0}))
	// base revenue far below the latest observation
	assert.Error(t, ValidateHistory(a, []float64{3_000_000}))
}

func TestExpand_BaseFirstAndOrderPreserved(t *testing.T) {
	base := sample()
	deltas := []ScenarioDelta{
		{Name: "zeta", Overrides: map[Field]Override{FieldRevenueGrowthRate: Add(0.01)}},
		{Name: "alpha", Overrides: map[Field]Override{FieldDiscountRate: Set(0.12)}},
		{Name: "mid", Overrides: map[Field]Override{FieldProjectionYears: Set(7)}},
	}

	scenarios, err := Expand(base, deltas)
	require.NoError(t, err)
	require.Len(t, scenarios, 4)

	assert.Equal(t, BaseScenario, scenarios[0].Name)
	assert.Equal(t, base, scenarios[0].Assumptions)
	assert.Equal(t, []string{"base", "zeta", "alpha", "mid"}, names(scenarios))

	assert.InDelta(t, 0.06, scenarios[1].Assumptions.RevenueGrowthRate, 1e-12)
	assert.Equal(t, 0.12, scenarios[2].Assumptions.DiscountRate)
	assert.Equal(t, 7, scenarios[3].Assumptions.ProjectionYears)

	// base input is untouched
	assert.Equal(t, sample(), base)
}

func TestExpand_NoDeltas(t *testing.T) {
	scenarios, err := Expand(sample(), nil)
	require.NoError(t, err)
	require.Len(t, scenarios, 1)
	assert.Equal(t, BaseScenario, scenarios[0].Name)
}

func TestExpand_InvalidOverrideFails(t *testing.T) {
	deltas := []ScenarioDelta{
		{Name: "flat", Overrides: map[Field]Override{FieldDiscountRate: Set(0.02)}},
	}
	_, err := Expand(sample(), deltas)
	require.Error(t, err)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "flat", ve.Scenario)
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestExpand_InvalidBaseFails(t *testing.T) {
	a := sample()
	a.DiscountRate = 0.02
	_, err := Expand(a, nil)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, BaseScenario, ve.Scenario)
}

func TestExpand_RejectsBadNames(t *testing.T) {
	ov := map[Field]Override{FieldRevenueGrowthRate: Add(0.01)}
	tests := map[string][]ScenarioDelta{
		"empty":     {{Name: " ", Overrides: ov}},
		"base":      {{Name: "Base", Overrides: ov}},
		"duplicate": {{Name: "up", Overrides: ov}, {Name: "UP", Overrides: ov}},
	}
	for name, deltas := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Expand(sample(), deltas)
			assert.ErrorIs(t, err, ErrBadScenario)
			assert.False(t, errors.Is(err, ErrInvalid))
		})
	}
}

func TestApply_Errors(t *testing.T) {
	tests := []struct {
		name string
		ov   map[Field]Override
	}{
		{"unknown field", map[Field]Override{"ebitda_margin": Set(0.1)}},
		{"unknown mode", map[Field]Override{FieldTaxRate: {Mode: "multiply", Value: 2}}},
		{"additive years", map[Field]Override{FieldProjectionYears: Add(1)}},
		{"fractional years", map[Field]Override{FieldProjectionYears: Set(2.5)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ScenarioDelta{Name: "x", Overrides: tt.ov}.Apply(sample())
			assert.ErrorIs(t, err, ErrBadScenario)
			assert.Contains(t, err.Error(), `scenario "x"`)
		})
	}
}

func TestDefaultDeltas(t *testing.T) {
	base := sample()
	scenarios, err := Expand(base, DefaultDeltas(DefaultSpread))
	require.NoError(t, err)
	require.Len(t, scenarios, 3)

	opt, pess := scenarios[1].Assumptions, scenarios[2].Assumptions
	assert.Greater(t, opt.RevenueGrowthRate, base.RevenueGrowthRate)
	assert.Less(t, pess.RevenueGrowthRate, base.RevenueGrowthRate)
	assert.Less(t, opt.DiscountRate, base.DiscountRate)
	assert.Greater(t, pess.DiscountRate, base.DiscountRate)
}

func TestDefaultDeltas_ClampWACC(t *testing.T) {
	base := sample()
	base.DiscountRate = 0.05
	base.TerminalGrowthRate = 0.0
	spread := Spread{OptimisticWACC: 0.2, PessimisticWACC: 2}

	scenarios, err := Expand(base, DefaultDeltas(spread))
	require.NoError(t, err)
	assert.Equal(t, MinScenarioWACC, scenarios[1].Assumptions.DiscountRate)
	assert.Equal(t, MaxScenarioWACC, scenarios[2].Assumptions.DiscountRate)
}

func TestOverride_Clamp(t *testing.T) {
	a := sample()
	got, err := ScenarioDelta{Name: "x", Overrides: map[Field]Override{
		FieldTaxRate:           Set(0.9).AtMost(0.5),
		FieldRevenueGrowthRate: Add(-1).AtLeast(-0.1),
	}}.Apply(a)
	require.NoError(t, err)
	assert.Equal(t, 0.5, got.TaxRate)
	assert.Equal(t, -0.1, got.RevenueGrowthRate)

	_, err = ScenarioDelta{Name: "x", Overrides: map[Field]Override{
		FieldTaxRate: Set(0.3).AtLeast(0.4).AtMost(0.2),
	}}.Apply(a)
	assert.ErrorIs(t, err, ErrBadScenario)
}

func TestValidate_EBITMarginFloor(t *testing.T) {
	a := sample()
	a.GrossMargin = -0.5
	a.OperatingExpenseRatio = 0.9

	var ve *ValidationError
	require.ErrorAs(t, a.Validate(), &ve)
	fields := map[string]bool{}
	for _, is := range ve.Issues {
		fields[is.Field] = true
	}
	assert.True(t, fields["gross_margin"])
	assert.True(t, fields["operating_expense_ratio"])
}

func TestLoadFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "case.yaml")
	body := `
assumptions:
  base_revenue: 1000000
  revenue_growth_rate: 0.05
  gross_margin: 0.4
  operating_expense_ratio: 0.15
  tax_rate: 0.21
  depreciation_ratio: 0.03
  capex_ratio: 0.04
  change_in_working_capital_ratio: 0.01
  terminal_growth_rate: 0.02
  discount_rate: 0.10
  projection_years: 5
scenarios:
  - name: upside
    overrides:
      revenue_growth_rate: {mode: add, value: 0.02}
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	f, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, sample(), f.Assumptions)
	require.Len(t, f.Deltas(), 1)
	assert.Equal(t, Add(0.02), f.Deltas()[0].Overrides[FieldRevenueGrowthRate])
}

func TestLoadFile_HJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "case.hjson")
	body := `{
  # hand-edited case
  assumptions: {
    base_revenue: 500000
    revenue_growth_rate: 0.03
    gross_margin: 0.5
    operating_expense_ratio: 0.2
    tax_rate: 0.25
    terminal_growth_rate: 0.02
    discount_rate: 0.09
    projection_years: 3
  }
  spread: {
    optimistic_growth_delta: 0.01
    pessimistic_growth_delta: 0.01
    optimistic_wacc_delta: 0.005
    pessimistic_wacc_delta: 0.005
  }
}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	f, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 500000.0, f.Assumptions.BaseRevenue)
	assert.Equal(t, 3, f.Assumptions.ProjectionYears)
	deltas := f.Deltas()
	require.Len(t, deltas, 2)
	assert.Equal(t, Add(0.01), deltas[0].Overrides[FieldRevenueGrowthRate])
}

func TestParse_UnknownFormat(t *testing.T) {
	_, err := Parse([]byte("{}"), "toml")
	assert.Error(t, err)
}

func names(s []Scenario) []string {
	out := make([]string, len(s))
	for i := range s {
		out[i] = s[i].Name
	}
	return out
}
