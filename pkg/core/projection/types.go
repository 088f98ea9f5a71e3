package projection

// Row is one projected year of the free-cash-flow build.
// Expenses (operating expenses, taxes, capex, change in working capital) are
// stored as positive magnitudes and subtracted in the FCFF formula.
type Row struct {
	Year                   int     `json:"year"`
	Revenue                float64 `json:"revenue"`
	GrossProfit            float64 `json:"gross_profit"`
	OperatingExpenses      float64 `json:"operating_expenses"`
	EBIT                   float64 `json:"ebit"`
	Taxes                  float64 `json:"taxes"`
	NOPAT                  float64 `json:"nopat"`
	Depreciation           float64 `json:"depreciation"`
	Capex                  float64 `json:"capex"`
	ChangeInWorkingCapital float64 `json:"change_in_working_capital"`
	FCFF                   float64 `json:"fcff"`
}

// Table is the explicit-horizon projection for one assumption set.
type Table struct {
	// AnchorRevenue is the year-0 revenue the projection grows from.
	AnchorRevenue float64 `json:"anchor_revenue"`
	Rows          []Row   `json:"rows"`

	// TerminalBaseFCFF is the FCFF of the final explicit year (year 0 when
	// no years are projected); the terminal value grows from it.
	TerminalBaseFCFF float64 `json:"terminal_base_fcff"`
}

// Years is the number of projected rows.
func (t *Table) Years() int { return len(t.Rows) }

// FCFF returns the FCFF column in year order.
func (t *Table) FCFF() []float64 {
	out := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.FCFF
	}
	return out
}

// Revenues returns the revenue column in year order.
func (t *Table) Revenues() []float64 {
	out := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Revenue
	}
	return out
}
