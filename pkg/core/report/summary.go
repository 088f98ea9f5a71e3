package report

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"dcf_valuation/pkg/core/utils"
)

// Summary renders the run as a Markdown document.
func Summary(run Run) string {
	var b strings.Builder
	b.WriteString("# DCF Valuation Summary\n\n")
	if run.RunID != "" {
		fmt.Fprintf(&b, "Run `%s`", run.RunID)
		if !run.CreatedAt.IsZero() {
			fmt.Fprintf(&b, " at %s", run.CreatedAt.UTC().Format("2006-01-02 15:04:05 MST"))
		}
		b.WriteString("\n\n")
	}

	b.WriteString("## Scenarios\n\n")
	rows := make([][]string, 0, len(run.Scenarios))
	for _, r := range run.Scenarios {
		irr := "n/a"
		if r.IRR != nil {
			irr = Percent(*r.IRR)
		}
		rows = append(rows, []string{
			r.Name,
			Percent(r.DiscountRate()),
			Percent(r.Assumptions.RevenueGrowthRate),
			Money(r.PVExplicitFCFF),
			Money(r.PVTerminalValue),
			Money(r.NPV),
			irr,
		})
	}
	b.WriteString(utils.MarkdownTable(
		[]string{"Scenario", "WACC", "Growth", "PV of FCFF", "PV of TV", "NPV", "IRR"}, rows))

	if len(run.Scenarios) > 0 {
		base := run.Scenarios[0]
		a := base.Assumptions
		fmt.Fprintf(&b, "\n## Assumptions (%s)\n\n", base.Name)
		b.WriteString(utils.MarkdownTable([]string{"Driver", "Value"}, [][]string{
			{"Base revenue", Money(a.BaseRevenue)},
			{"Revenue growth", Percent(a.RevenueGrowthRate)},
			{"Gross margin", Percent(a.GrossMargin)},
			{"Operating expenses", Percent(a.OperatingExpenseRatio)},
			{"Tax rate", Percent(a.TaxRate)},
			{"Depreciation", Percent(a.DepreciationRatio)},
			{"Capex", Percent(a.CapexRatio)},
			{"Change in working capital", Percent(a.ChangeInWorkingCapitalRatio)},
			{"Terminal growth", Percent(a.TerminalGrowthRate)},
			{"Discount rate (WACC)", Percent(a.DiscountRate)},
			{"Projection years", strconv.Itoa(a.ProjectionYears)},
		}))

		if len(base.Rows) > 0 {
			fmt.Fprintf(&b, "\n## Free cash flow (%s)\n\n", base.Name)
			fcff := make([][]string, 0, len(base.Rows))
			for _, row := range base.Rows {
				fcff = append(fcff, []string{
					strconv.Itoa(row.Year), Money(row.Revenue), Money(row.EBIT), Money(row.NOPAT), Money(row.FCFF),
				})
			}
			b.WriteString(utils.MarkdownTable([]string{"Year", "Revenue", "EBIT", "NOPAT", "FCFF"}, fcff))
			fmt.Fprintf(&b, "\nTerminal value: %s\n", Money(base.TerminalValue))
		}
	}

	if pts := run.Sensitivity.Points; len(pts) > 0 {
		fmt.Fprintf(&b, "\n## Sensitivity (%s)\n\n", run.Sensitivity.Scenario)
		lo, hi := pts[0], pts[len(pts)-1]
		fmt.Fprintf(&b, "NPV ranges from %s at %s WACC to %s at %s WACC over %d points.\n",
			Money(lo.NPV), Percent(lo.DiscountRate), Money(hi.NPV), Percent(hi.DiscountRate), len(pts))
	}

	if run.History.Len() > 0 {
		fmt.Fprintf(&b, "\n## Historical data\n\n%d observations, latest revenue %s.\n",
			run.History.Len(), Money(run.History.Latest()))
	}
	return b.String()
}

// Percent formats a fraction as a percentage with two decimals.
func Percent(v float64) string {
	return strconv.FormatFloat(v*100, 'f', 2, 64) + "%"
}

// Money formats v with two decimals and thousands separators.
func Money(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	s := strconv.FormatFloat(math.Abs(v), 'f', 2, 64)
	intPart, frac := s[:len(s)-3], s[len(s)-3:]

	var b strings.Builder
	if v < 0 && s != "0.00" {
		b.WriteByte('-')
	}
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	b.WriteString(frac)
	return b.String()
}
