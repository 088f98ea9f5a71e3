// Package report persists the artifacts of a valuation run: per-scenario FCFF
// tables, the scenario summary, the discount-rate sweep (CSV and PNG), a
// Markdown summary and a JSON manifest.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"dcf_valuation/pkg/core/ingest"
	"dcf_valuation/pkg/core/valuation"

	"go.uber.org/zap"
)

// Artifact file names.
const (
	ScenarioSummaryFile = "scenario_summary.csv"
	SensitivityCSVFile  = "sensitivity_wacc.csv"
	SensitivityPNGFile  = "sensitivity_wacc.png"
	HistoryPreviewFile  = "historical_data_preview.csv"
	SummaryFile         = "summary.md"
	ManifestFile        = "manifest.json"
)

// Artifact labels used as keys in the map returned by Save.
const (
	LabelScenarioSummary  = "scenario_summary"
	LabelSensitivityCSV   = "sensitivity_csv"
	LabelSensitivityChart = "sensitivity_chart"
	LabelHistoryPreview   = "historical_data_preview"
	LabelSummary          = "summary"
	LabelManifest         = "manifest"
)

// FCFFLabel is the artifact label of a scenario's FCFF table.
func FCFFLabel(scenario string) string { return "fcff_" + scenario }

// Run is everything a report is built from.
type Run struct {
	RunID       string
	CreatedAt   time.Time
	Scenarios   []valuation.ScenarioResult
	Sensitivity valuation.SensitivityTable
	History     *ingest.Series // optional
}

// Manifest is the content of manifest.json.
type Manifest struct {
	RunID     string            `json:"run_id"`
	CreatedAt time.Time         `json:"created_at"`
	Scenarios []string          `json:"scenarios"`
	Artifacts map[string]string `json:"artifacts"` // label -> file name relative to the output dir
}

// Writer saves reports under one output directory. Concurrent saves are
// serialized so one run's artifacts are never mixed with another's.
type Writer struct {
	mu        sync.Mutex
	outputDir string
	log       *zap.Logger
}

// NewWriter creates a writer. A nil logger is replaced by a no-op.
func NewWriter(outputDir string, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{outputDir: outputDir, log: log.Named("report")}
}

// OutputDir is where artifacts are written.
func (w *Writer) OutputDir() string { return w.outputDir }

// Save writes every artifact and returns label -> absolute-or-relative path
// (joined onto the output dir). Existing files of the same name are replaced.
func (w *Writer) Save(run Run) (map[string]string, error) {
	if len(run.Scenarios) == 0 {
		return nil, fmt.Errorf("report needs at least one scenario")
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.outputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	files := map[string]string{}
	put := func(label, name string, write func(io.Writer) error) error {
		path := filepath.Join(w.outputDir, name)
		if err := writeFile(path, write); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		files[label] = name
		w.log.Debug("artifact written", zap.String("run_id", run.RunID), zap.String("artifact", name))
		return nil
	}

	if err := put(LabelScenarioSummary, ScenarioSummaryFile, func(out io.Writer) error {
		return writeScenarioSummary(out, run.Scenarios)
	}); err != nil {
		return nil, err
	}

	slugs := scenarioSlugs(run.Scenarios)
	for i, s := range run.Scenarios {
		s := s
		if err := put(FCFFLabel(slugs[i]), "fcff_"+slugs[i]+".csv", func(out io.Writer) error {
			return writeFCFF(out, s)
		}); err != nil {
			return nil, err
		}
	}

	if len(run.Sensitivity.Points) > 0 {
		if err := put(LabelSensitivityCSV, SensitivityCSVFile, func(out io.Writer) error {
			return writeSensitivity(out, run.Sensitivity)
		}); err != nil {
			return nil, err
		}
	}
	// A line needs two points.
	if len(run.Sensitivity.Points) > 1 {
		png, err := SensitivityChart(run.Sensitivity)
		if err != nil {
			return nil, fmt.Errorf("render sensitivity chart: %w", err)
		}
		if err := put(LabelSensitivityChart, SensitivityPNGFile, func(out io.Writer) error {
			_, err := out.Write(png)
			return err
		}); err != nil {
			return nil, err
		}
	}

	if run.History.Len() > 0 {
		if err := put(LabelHistoryPreview, HistoryPreviewFile, func(out io.Writer) error {
			return ingest.WriteCSV(out, run.History)
		}); err != nil {
			return nil, err
		}
	}

	if err := put(LabelSummary, SummaryFile, func(out io.Writer) error {
		_, err := io.WriteString(out, Summary(run))
		return err
	}); err != nil {
		return nil, err
	}

	manifest := Manifest{
		RunID:     run.RunID,
		CreatedAt: run.CreatedAt,
		Scenarios: make([]string, 0, len(run.Scenarios)),
		Artifacts: files,
	}
	for _, s := range run.Scenarios {
		manifest.Scenarios = append(manifest.Scenarios, s.Name)
	}
	if err := put(LabelManifest, ManifestFile, func(out io.Writer) error {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(manifest)
	}); err != nil {
		return nil, err
	}

	paths := make(map[string]string, len(files))
	for label, name := range files {
		paths[label] = filepath.Join(w.outputDir, name)
	}
	w.log.Info("report saved",
		zap.String("run_id", run.RunID),
		zap.String("dir", w.outputDir),
		zap.Int("artifacts", len(paths)))
	return paths, nil
}

// ReadManifest loads manifest.json from dir.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// SortedLabels returns the artifact labels in lexical order.
func SortedLabels(artifacts map[string]string) []string {
	labels := make([]string, 0, len(artifacts))
	for l := range artifacts {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// =============================================================================
// CSV
// =============================================================================

func num(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func writeScenarioSummary(out io.Writer, results []valuation.ScenarioResult) error {
	cw := csv.NewWriter(out)
	if err := cw.Write([]string{"scenario", "discount_rate", "terminal_value", "pv_explicit_fcff", "pv_terminal_value", "npv", "irr"}); err != nil {
		return err
	}
	for _, r := range results {
		irr := ""
		if r.IRR != nil {
			irr = num(*r.IRR)
		}
		if err := cw.Write([]string{
			r.Name,
			num(r.DiscountRate()),
			num(r.TerminalValue),
			num(r.PVExplicitFCFF),
			num(r.PVTerminalValue),
			num(r.NPV),
			irr,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var fcffHeader = []string{
	"year", "revenue", "gross_profit", "operating_expenses", "ebit", "taxes",
	"nopat", "depreciation", "capex", "change_in_working_capital", "fcff",
}

func writeFCFF(out io.Writer, r valuation.ScenarioResult) error {
	cw := csv.NewWriter(out)
	if err := cw.Write(fcffHeader); err != nil {
		return err
	}
	for _, row := range r.Rows {
		if err := cw.Write([]string{
			strconv.Itoa(row.Year),
			num(row.Revenue),
			num(row.GrossProfit),
			num(row.OperatingExpenses),
			num(row.EBIT),
			num(row.Taxes),
			num(row.NOPAT),
			num(row.Depreciation),
			num(row.Capex),
			num(row.ChangeInWorkingCapital),
			num(row.FCFF),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeSensitivity(out io.Writer, t valuation.SensitivityTable) error {
	cw := csv.NewWriter(out)
	if err := cw.Write([]string{"scenario", "discount_rate", "npv"}); err != nil {
		return err
	}
	for _, p := range t.Points {
		if err := cw.Write([]string{t.Scenario, num(p.DiscountRate), num(p.NPV)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// =============================================================================
// FILE NAMES
// =============================================================================

// Slug turns a scenario name into a file-name-safe token.
func Slug(name string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	s := strings.TrimSuffix(b.String(), "_")
	if s == "" {
		s = "scenario"
	}
	return s
}

// scenarioSlugs slugs every name, suffixing collisions with _2, _3, ...
func scenarioSlugs(results []valuation.ScenarioResult) []string {
	used := map[string]bool{}
	out := make([]string, len(results))
	for i, r := range results {
		base := Slug(r.Name)
		s := base
		for n := 2; used[s]; n++ {
			s = fmt.Sprintf("%s_%d", base, n)
		}
		used[s] = true
		out[i] = s
	}
	return out
}
