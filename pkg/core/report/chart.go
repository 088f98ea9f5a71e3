package report

import (
	"fmt"
	"math"

	"dcf_valuation/pkg/core/valuation"

	"github.com/vicanso/go-charts/v2"
)

const (
	chartWidth  = 900
	chartHeight = 500
)

// SensitivityChart renders NPV against discount rate as a PNG line chart.
func SensitivityChart(t valuation.SensitivityTable) ([]byte, error) {
	if len(t.Points) < 2 {
		return nil, fmt.Errorf("sensitivity chart needs at least 2 points, got %d", len(t.Points))
	}

	labels := make([]string, len(t.Points))
	values := make([]float64, len(t.Points))
	yMin, yMax := math.Inf(1), math.Inf(-1)
	for i, p := range t.Points {
		labels[i] = fmt.Sprintf("%.1f%%", p.DiscountRate*100)
		values[i] = p.NPV
		yMin = math.Min(yMin, p.NPV)
		yMax = math.Max(yMax, p.NPV)
	}
	// Pad so the line does not sit on the frame; a flat line still gets a band.
	pad := (yMax - yMin) * 0.05
	if pad == 0 {
		pad = math.Max(math.Abs(yMax)*0.05, 1)
	}
	yMin -= pad
	yMax += pad

	splitNum := len(labels)
	if splitNum > 10 {
		splitNum = 10
	}

	title := "NPV sensitivity to WACC"
	if t.Scenario != "" {
		title += " (" + t.Scenario + ")"
	}

	p, err := charts.LineRender(
		[][]float64{values},
		charts.TitleTextOptionFunc(title),
		charts.XAxisOptionFunc(charts.XAxisOption{
			Data:        labels,
			SplitNumber: splitNum,
			BoundaryGap: charts.FalseFlag(),
		}),
		charts.YAxisOptionFunc(charts.YAxisOption{
			Min:         &yMin,
			Max:         &yMax,
			DivideCount: 5,
		}),
		charts.LegendOptionFunc(charts.LegendOption{
			Data: []string{"NPV"},
			Top:  charts.PositionTop,
		}),
		charts.ThemeOptionFunc(charts.ThemeLight),
		charts.WidthOptionFunc(chartWidth),
		charts.HeightOptionFunc(chartHeight),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to render chart: %w", err)
	}

	buf, err := p.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to generate chart bytes: %w", err)
	}
	return buf, nil
}
