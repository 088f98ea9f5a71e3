// Package projection builds year-by-year FCFF tables from an assumption set.
// All drivers are ratios of revenue; revenue grows geometrically.
package projection

import (
	"fmt"
	"math"

	"dcf_valuation/pkg/core/assumption"
)

// Project builds the FCFF table for a.ProjectionYears years, growing from
// a.BaseRevenue. Historical revenue never moves the anchor: it is checked
// against base revenue by assumption.ValidateHistory instead, so a scenario
// that overrides base_revenue always projects from its own value. Zero years
// yields an empty table whose TerminalBaseFCFF is the anchor-year FCFF.
//
// Project does not run a.Validate; callers expand scenarios first.
func Project(a assumption.Assumptions) (*Table, error) {
	if a.ProjectionYears < 0 {
		return nil, fmt.Errorf("projection years must not be negative, got %d", a.ProjectionYears)
	}

	anchor := a.BaseRevenue
	if math.IsNaN(anchor) || math.IsInf(anchor, 0) || anchor <= 0 {
		return nil, fmt.Errorf("base revenue must be positive, got %g", anchor)
	}

	table := &Table{
		AnchorRevenue:    anchor,
		Rows:             make([]Row, 0, a.ProjectionYears),
		TerminalBaseFCFF: buildRow(a, 0, anchor).FCFF,
	}

	revenue := anchor
	for year := 1; year <= a.ProjectionYears; year++ {
		revenue *= 1 + a.RevenueGrowthRate
		row := buildRow(a, year, revenue)
		table.Rows = append(table.Rows, row)
		table.TerminalBaseFCFF = row.FCFF
	}
	return table, nil
}

func buildRow(a assumption.Assumptions, year int, revenue float64) Row {
	grossProfit := revenue * a.GrossMargin
	opex := revenue * a.OperatingExpenseRatio
	ebit := grossProfit - opex
	taxes := ebit * a.TaxRate
	nopat := ebit - taxes

	depreciation := revenue * a.DepreciationRatio
	capex := revenue * a.CapexRatio
	deltaNWC := revenue * a.ChangeInWorkingCapitalRatio

	return Row{
		Year:                   year,
		Revenue:                revenue,
		GrossProfit:            grossProfit,
		OperatingExpenses:      opex,
		EBIT:                   ebit,
		Taxes:                  taxes,
		NOPAT:                  nopat,
		Depreciation:           depreciation,
		Capex:                  capex,
		ChangeInWorkingCapital: deltaNWC,
		FCFF:                   nopat + depreciation - capex - deltaNWC,
	}
}
