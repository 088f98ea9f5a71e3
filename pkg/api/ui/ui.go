// Package ui serves the browser front end: a single page with Data,
// Assumptions and Run & Results tabs, rendered on the server.
package ui

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	apivaluation "dcf_valuation/pkg/api/valuation"
	"dcf_valuation/pkg/core/assumption"
	"dcf_valuation/pkg/core/ingest"
	"dcf_valuation/pkg/core/pipeline"
	"dcf_valuation/pkg/core/report"
	"dcf_valuation/pkg/core/utils"

	"go.uber.org/zap"
)

//go:embed templates/index.html
var templateFS embed.FS

// Tabs.
const (
	TabData        = "data"
	TabAssumptions = "assumptions"
	TabResults     = "results"
)

var funcs = template.FuncMap{
	"money": report.Money,
	"pct":   report.Percent,
	"deref": func(v *float64) float64 { return *v },
	"fcff": func(row pipeline.FCFFRow, scenario string) string {
		v, ok := row.FCFF[scenario]
		if !ok {
			return ""
		}
		return report.Money(v)
	},
}

var pageTemplate = template.Must(template.New("index.html").Funcs(funcs).ParseFS(templateFS, "templates/index.html"))

// formField is one assumption input.
type formField struct {
	Name  string
	Label string
	Value string
}

type artifactLink struct {
	Label string
	URL   string
}

type page struct {
	Tab         string
	Fields      []formField
	Spread      []formField
	Periods     int
	Seed        int64
	Dataset     *ingest.Dataset
	Results     *pipeline.Results
	ChartURL    string
	SummaryHTML template.HTML
	Artifacts   []artifactLink
	Error       string
	Issues      []assumption.Issue
	Message     string
}

// fields lists the form inputs in display order.
var fields = []struct {
	field assumption.Field
	label string
}{
	{assumption.FieldBaseRevenue, "Base revenue"},
	{assumption.FieldRevenueGrowthRate, "Revenue growth rate"},
	{assumption.FieldGrossMargin, "Gross margin"},
	{assumption.FieldOperatingExpenseRatio, "Operating expense ratio"},
	{assumption.FieldTaxRate, "Tax rate"},
	{assumption.FieldDepreciationRatio, "Depreciation ratio"},
	{assumption.FieldCapexRatio, "Capex ratio"},
	{assumption.FieldChangeInWorkingCapitalRatio, "Change in working capital ratio"},
	{assumption.FieldTerminalGrowthRate, "Terminal growth rate"},
	{assumption.FieldDiscountRate, "Discount rate (WACC)"},
	{assumption.FieldProjectionYears, "Projection years"},
	{assumption.FieldInitialInvestment, "Initial investment (IRR)"},
}

// spreadFields are the scenario delta inputs. Each maps to one field of
// assumption.Spread.
var spreadFields = []struct {
	name  string
	label string
	value func(*assumption.Spread) *float64
}{
	{"optimistic_growth_delta", "Optimistic growth delta", func(s *assumption.Spread) *float64 { return &s.OptimisticGrowth }},
	{"optimistic_wacc_delta", "Optimistic WACC delta", func(s *assumption.Spread) *float64 { return &s.OptimisticWACC }},
	{"pessimistic_growth_delta", "Pessimistic growth delta", func(s *assumption.Spread) *float64 { return &s.PessimisticGrowth }},
	{"pessimistic_wacc_delta", "Pessimistic WACC delta", func(s *assumption.Spread) *float64 { return &s.PessimisticWACC }},
}

// Handler renders the UI. The last submitted assumptions, scenario spread and
// run are kept in memory; the dataset store is shared with the JSON API.
type Handler struct {
	planner   *pipeline.Planner
	loader    *ingest.Loader
	store     *ingest.Store
	outputDir string
	log       *zap.Logger

	mu          sync.Mutex
	assumptions assumption.Assumptions
	spread      assumption.Spread
	lastRun     *pipeline.Results
}

// NewHandler creates the UI handler. Artifacts are served from outputDir.
func NewHandler(planner *pipeline.Planner, loader *ingest.Loader, store *ingest.Store, defaults *assumption.File, outputDir string, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	spread := assumption.DefaultSpread
	if defaults.Spread != nil {
		spread = *defaults.Spread
	}
	return &Handler{
		planner:     planner,
		loader:      loader,
		store:       store,
		outputDir:   outputDir,
		log:         log.Named("ui"),
		assumptions: defaults.Assumptions,
		spread:      spread,
	}
}

// Register mounts the UI routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/", h.HandleIndex)
	mux.HandleFunc("/ui/upload", post(h.HandleUpload))
	mux.HandleFunc("/ui/synthetic", post(h.HandleSynthetic))
	mux.HandleFunc("/ui/run", post(h.HandleRun))
	mux.HandleFunc(apivaluation.ArtifactPrefix, h.HandleArtifact)
}

func post(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

// HandleIndex renders the page. ?tab= selects the visible tab.
func (h *Handler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p := h.view(r.URL.Query().Get("tab"))
	h.render(w, http.StatusOK, p)
}

// HandleUpload stores an uploaded CSV as the current dataset.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	series, name, err := apivaluation.ReadUpload(w, r)
	if err != nil {
		h.fail(w, TabData, err)
		return
	}
	h.store.Set(series, name, "")
	h.log.Info("revenue data uploaded", zap.String("source", name), zap.Int("rows", series.Len()))

	p := h.view(TabData)
	p.Message = fmt.Sprintf("Loaded %d rows from %s.", series.Len(), name)
	h.render(w, http.StatusOK, p)
}

// HandleSynthetic generates a seeded series from the current assumptions.
func (h *Handler) HandleSynthetic(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.fail(w, TabData, badForm(err))
		return
	}
	periods, err := formInt(r, "periods", ingest.DefaultSyntheticPeriods)
	if err != nil {
		h.fail(w, TabData, err)
		return
	}
	seed, err := formInt(r, "seed", int(ingest.DefaultSeed))
	if err != nil {
		h.fail(w, TabData, err)
		return
	}

	h.mu.Lock()
	a := h.assumptions
	h.mu.Unlock()

	d, err := apivaluation.Synthesize(h.loader, h.store, a, periods, int64(seed))
	if err != nil {
		h.fail(w, TabData, err)
		return
	}
	p := h.view(TabData)
	p.Message = fmt.Sprintf("Generated %d synthetic periods (seed %d).", d.Series.Len(), seed)
	h.render(w, http.StatusOK, p)
}

// HandleRun parses the assumption form and runs the pipeline. The optimistic
// and pessimistic scenarios always come from the submitted spread.
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.fail(w, TabAssumptions, badForm(err))
		return
	}
	a, err := parseAssumptions(r)
	if err != nil {
		h.fail(w, TabAssumptions, err)
		return
	}
	h.mu.Lock()
	spread, err := parseSpread(r, h.spread)
	if err == nil {
		h.spread = spread
	}
	h.assumptions = a
	h.mu.Unlock()
	if err != nil {
		h.fail(w, TabAssumptions, err)
		return
	}

	req := pipeline.Request{Assumptions: a, Deltas: assumption.DefaultDeltas(spread)}
	switch r.PostForm.Get("data") {
	case "", apivaluation.DataNone:
	case apivaluation.DataUploaded:
		d, ok := h.store.Current()
		if !ok {
			h.fail(w, TabAssumptions, badForm(errors.New("no dataset has been loaded")))
			return
		}
		req.History = d.Series
	case apivaluation.DataSynthetic:
		req.Synthetic = true
	default:
		h.fail(w, TabAssumptions, badForm(fmt.Errorf("unknown data source %q", r.PostForm.Get("data"))))
		return
	}

	res, err := h.planner.Run(r.Context(), req)
	if err != nil {
		h.fail(w, TabAssumptions, err)
		return
	}
	h.mu.Lock()
	h.lastRun = res
	h.mu.Unlock()

	h.render(w, http.StatusOK, h.view(TabResults))
}

// HandleArtifact serves a file from the output directory. Only plain,
// top-level file names are accepted.
func (h *Handler) HandleArtifact(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, apivaluation.ArtifactPrefix)
	if name == "" || name != filepath.Base(name) || !filepath.IsLocal(name) {
		http.NotFound(w, r)
		return
	}
	path := filepath.Join(h.outputDir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, path)
}

// =============================================================================
// RENDERING
// =============================================================================

func (h *Handler) view(tab string) page {
	switch tab {
	case TabData, TabAssumptions, TabResults:
	default:
		tab = TabData
	}

	h.mu.Lock()
	a := h.assumptions
	spread := h.spread
	last := h.lastRun
	h.mu.Unlock()

	p := page{
		Tab:     tab,
		Fields:  formFields(a),
		Spread:  formSpread(spread),
		Periods: ingest.DefaultSyntheticPeriods,
		Seed:    ingest.DefaultSeed,
		Results: last,
	}
	if d, ok := h.store.Current(); ok {
		p.Dataset = &d
	}
	if last != nil {
		urls := apivaluation.ArtifactURLs(last.Artifacts)
		p.ChartURL = urls[report.LabelSensitivityChart]
		for _, label := range report.SortedLabels(urls) {
			p.Artifacts = append(p.Artifacts, artifactLink{Label: label, URL: urls[label]})
		}
		if path, ok := last.Artifacts[report.LabelSummary]; ok {
			p.SummaryHTML = h.summaryHTML(path)
		}
	}
	return p
}

func (h *Handler) summaryHTML(path string) template.HTML {
	src, err := os.ReadFile(path)
	if err != nil {
		h.log.Warn("summary unavailable", zap.String("artifact", path), zap.Error(err))
		return ""
	}
	out, err := utils.RenderMarkdown(string(src))
	if err != nil {
		h.log.Warn("summary render failed", zap.String("artifact", path), zap.Error(err))
		return ""
	}
	// goldmark drops raw HTML from the source, so the output is safe to inline.
	return template.HTML(out)
}

func (h *Handler) fail(w http.ResponseWriter, tab string, err error) {
	status := apivaluation.StatusFor(err)
	if errors.Is(err, errBadForm) {
		status = http.StatusBadRequest
	}
	p := h.view(tab)
	p.Error = err.Error()
	var ve *assumption.ValidationError
	if errors.As(err, &ve) {
		p.Issues = ve.Issues
	}
	h.render(w, status, p)
}

func (h *Handler) render(w http.ResponseWriter, status int, p page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTemplate.Execute(w, p); err != nil {
		h.log.Error("render page", zap.Error(err))
	}
}

// =============================================================================
// FORMS
// =============================================================================

var errBadForm = errors.New("invalid form")

func badForm(err error) error { return fmt.Errorf("%w: %w", errBadForm, err) }

func formFields(a assumption.Assumptions) []formField {
	values := map[assumption.Field]string{
		assumption.FieldBaseRevenue:                 num(a.BaseRevenue),
		assumption.FieldRevenueGrowthRate:           num(a.RevenueGrowthRate),
		assumption.FieldGrossMargin:                 num(a.GrossMargin),
		assumption.FieldOperatingExpenseRatio:       num(a.OperatingExpenseRatio),
		assumption.FieldTaxRate:                     num(a.TaxRate),
		assumption.FieldDepreciationRatio:           num(a.DepreciationRatio),
		assumption.FieldCapexRatio:                  num(a.CapexRatio),
		assumption.FieldChangeInWorkingCapitalRatio: num(a.ChangeInWorkingCapitalRatio),
		assumption.FieldTerminalGrowthRate:          num(a.TerminalGrowthRate),
		assumption.FieldDiscountRate:                num(a.DiscountRate),
		assumption.FieldProjectionYears:             strconv.Itoa(a.ProjectionYears),
		assumption.FieldInitialInvestment:           num(a.InitialInvestment),
	}
	out := make([]formField, 0, len(fields))
	for _, f := range fields {
		out = append(out, formField{Name: string(f.field), Label: f.label, Value: values[f.field]})
	}
	return out
}

func formSpread(s assumption.Spread) []formField {
	out := make([]formField, 0, len(spreadFields))
	for _, f := range spreadFields {
		out = append(out, formField{Name: f.name, Label: f.label, Value: num(*f.value(&s))})
	}
	return out
}

func num(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// parseAssumptions reads every assumption input. Thousands separators are
// accepted; a blank initial investment means none.
func parseAssumptions(r *http.Request) (assumption.Assumptions, error) {
	var a assumption.Assumptions
	floats := []struct {
		field assumption.Field
		dst   *float64
	}{
		{assumption.FieldBaseRevenue, &a.BaseRevenue},
		{assumption.FieldRevenueGrowthRate, &a.RevenueGrowthRate},
		{assumption.FieldGrossMargin, &a.GrossMargin},
		{assumption.FieldOperatingExpenseRatio, &a.OperatingExpenseRatio},
		{assumption.FieldTaxRate, &a.TaxRate},
		{assumption.FieldDepreciationRatio, &a.DepreciationRatio},
		{assumption.FieldCapexRatio, &a.CapexRatio},
		{assumption.FieldChangeInWorkingCapitalRatio, &a.ChangeInWorkingCapitalRatio},
		{assumption.FieldTerminalGrowthRate, &a.TerminalGrowthRate},
		{assumption.FieldDiscountRate, &a.DiscountRate},
	}
	for _, f := range floats {
		raw := strings.ReplaceAll(strings.TrimSpace(r.PostForm.Get(string(f.field))), ",", "")
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return a, badForm(fmt.Errorf("%s: %q is not a number", f.field, raw))
		}
		*f.dst = v
	}

	years, err := strconv.Atoi(strings.TrimSpace(r.PostForm.Get(string(assumption.FieldProjectionYears))))
	if err != nil {
		return a, badForm(errors.New("projection_years must be a whole number"))
	}
	a.ProjectionYears = years

	if raw := strings.ReplaceAll(strings.TrimSpace(r.PostForm.Get(string(assumption.FieldInitialInvestment))), ",", ""); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return a, badForm(fmt.Errorf("initial_investment: %q is not a number", raw))
		}
		a.InitialInvestment = v
	}
	return a, nil
}

// parseSpread reads the scenario delta inputs. A blank input keeps the value
// from cur. Deltas are magnitudes: the sign is fixed by the scenario.
func parseSpread(r *http.Request, cur assumption.Spread) (assumption.Spread, error) {
	s := cur
	for _, f := range spreadFields {
		raw := strings.TrimSpace(r.PostForm.Get(f.name))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return cur, badForm(fmt.Errorf("%s: %q is not a number", f.name, raw))
		}
		if v < 0 {
			return cur, badForm(fmt.Errorf("%s must not be negative, got %g", f.name, v))
		}
		*f.value(&s) = v
	}
	return s, nil
}

func formInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.PostForm.Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badForm(fmt.Errorf("%s must be a whole number", name))
	}
	return v, nil
}
