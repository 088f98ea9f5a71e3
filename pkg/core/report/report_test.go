package report

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dcf_valuation/pkg/core/assumption"
	"dcf_valuation/pkg/core/ingest"
	"dcf_valuation/pkg/core/projection"
	"dcf_valuation/pkg/core/valuation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func base() assumption.Assumptions {
	return assumption.Assumptions{
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
		InitialInvestment:           1_000_000,
	}
}

func sampleRun(t *testing.T) Run {
	t.Helper()
	scenarios, err := assumption.Expand(base(), assumption.DefaultDeltas(assumption.DefaultSpread))
	require.NoError(t, err)

	var results []valuation.ScenarioResult
	for _, s := range scenarios {
		r, err := valuation.Run(s)
		require.NoError(t, err)
		results = append(results, r)
	}
	table, err := projection.Project(base())
	require.NoError(t, err)
	sweep, err := valuation.Sweep(assumption.BaseScenario, base(), table, valuation.DefaultRange(base()))
	require.NoError(t, err)

	return Run{
		RunID:       "run-1",
		CreatedAt:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Scenarios:   results,
		Sensitivity: sweep,
		History:     &ingest.Series{Years: []int{-1, 0}, Revenues: []float64{950_000, 1_000_000}},
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestSave_WritesEveryArtifact(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	w := NewWriter(dir, nil)
	run := sampleRun(t)

	paths, err := w.Save(run)
	require.NoError(t, err)

	for _, label := range []string{
		LabelScenarioSummary, LabelSensitivityCSV, LabelSensitivityChart,
		LabelHistoryPreview, LabelSummary, LabelManifest,
		FCFFLabel("base"), FCFFLabel("optimistic"), FCFFLabel("pessimistic"),
	} {
		p, ok := paths[label]
		require.True(t, ok, "missing artifact %s", label)
		assert.FileExists(t, p)
	}

	summary := readCSV(t, paths[LabelScenarioSummary])
	require.Len(t, summary, 4)
	assert.Equal(t, "scenario", summary[0][0])
	assert.Equal(t, []string{"base", "optimistic", "pessimistic"},
		[]string{summary[1][0], summary[2][0], summary[3][0]})
	assert.NotEmpty(t, summary[1][6], "irr with an outlay is defined")

	fcff := readCSV(t, paths[FCFFLabel("base")])
	require.Len(t, fcff, 6)
	assert.Equal(t, fcffHeader, fcff[0])
	assert.Equal(t, "1", fcff[1][0])

	sens := readCSV(t, paths[LabelSensitivityCSV])
	assert.Len(t, sens, len(run.Sensitivity.Points)+1)

	png, err := os.ReadFile(paths[LabelSensitivityChart])
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

	m, err := ReadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, "run-1", m.RunID)
	assert.Equal(t, []string{"base", "optimistic", "pessimistic"}, m.Scenarios)
	assert.Equal(t, ScenarioSummaryFile, m.Artifacts[LabelScenarioSummary])
	assert.Equal(t, "fcff_optimistic.csv", m.Artifacts[FCFFLabel("optimistic")])
}

func TestSave_EmptyIRRAndNoHistory(t *testing.T) {
	a := base()
	a.InitialInvestment = 0
	r, err := valuation.Run(assumption.Scenario{Name: "base", Assumptions: a})
	require.NoError(t, err)
	require.Nil(t, r.IRR)

	paths, err := NewWriter(t.TempDir(), nil).Save(Run{RunID: "x", Scenarios: []valuation.ScenarioResult{r}})
	require.NoError(t, err)

	summary := readCSV(t, paths[LabelScenarioSummary])
	assert.Equal(t, "", summary[1][6])
	assert.NotContains(t, paths, LabelHistoryPreview)
	assert.NotContains(t, paths, LabelSensitivityChart)
}

func TestSave_RequiresScenarios(t *testing.T) {
	_, err := NewWriter(t.TempDir(), nil).Save(Run{})
	assert.Error(t, err)
}

func TestSummary_Markdown(t *testing.T) {
	md := Summary(sampleRun(t))
	assert.True(t, strings.HasPrefix(md, "# DCF Valuation Summary"))
	assert.Contains(t, md, "| Scenario | WACC |")
	assert.Contains(t, md, "| optimistic | 9.00% |")
	assert.Contains(t, md, "## Sensitivity (base)")
	assert.Contains(t, md, "2 observations")
}

func TestSensitivityChart_NeedsTwoPoints(t *testing.T) {
	_, err := SensitivityChart(valuation.SensitivityTable{Points: []valuation.SensitivityPoint{{DiscountRate: 0.1, NPV: 1}}})
	assert.Error(t, err)
}

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"base":          "base",
		"Bull Case":     "bull_case",
		"  high/low  ":  "high_low",
		"rate-shock":    "rate-shock",
		"!!!":           "scenario",
		"Déjà vu":       "d_j_vu",
		"trailing   !!": "trailing",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slug(in), in)
	}

	slugs := scenarioSlugs([]valuation.ScenarioResult{{Name: "Bull Case"}, {Name: "bull_case"}, {Name: "bull case 2"}})
	assert.Equal(t, []string{"bull_case", "bull_case_2", "bull_case_2_2"}, slugs)
}

func TestMoneyAndPercent(t *testing.T) {
	assert.Equal(t, "1,234,567.89", Money(1234567.891))
	assert.Equal(t, "-1,000.00", Money(-1000))
	assert.Equal(t, "999.00", Money(999))
	assert.Equal(t, "0.00", Money(-0.001))
	assert.Equal(t, "5.00%", Percent(0.05))
}
