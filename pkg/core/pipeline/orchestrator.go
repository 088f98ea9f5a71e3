// Package pipeline runs a complete valuation: it resolves the revenue history,
// validates and expands the scenarios, projects and values each one, sweeps
// the base case across discount rates and hands the results to a reporter.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"dcf_valuation/pkg/core/assumption"
	"dcf_valuation/pkg/core/ingest"
	"dcf_valuation/pkg/core/metrics"
	"dcf_valuation/pkg/core/projection"
	"dcf_valuation/pkg/core/report"
	"dcf_valuation/pkg/core/valuation"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PreviewRows is how many of the most recent history rows Results carries.
const PreviewRows = 10

// DataSource resolves revenue history. *ingest.Loader implements it.
type DataSource interface {
	Load(path string) (*ingest.Series, error)
	Synthesize(a assumption.Assumptions, periods int, seed int64) (*ingest.Series, string, error)
}

// Reporter persists a finished run. *report.Writer implements it.
type Reporter interface {
	Save(run report.Run) (map[string]string, error)
}

// ValidationConfig controls how the history check is enforced.
type ValidationConfig struct {
	// StrictHistory fails the run when the history disagrees with the
	// assumptions. When false the mismatch is logged and the run proceeds.
	StrictHistory bool
}

// Where the history of a run came from.
const (
	SourceNone      = "none"
	SourceRequest   = "request"
	SourceCSV       = "csv"
	SourceSynthetic = "synthetic"
)

// Request describes one run. At most one of History, CSVPath and Synthetic
// is used, in that order of precedence; with none the projection grows from
// base revenue.
type Request struct {
	Assumptions assumption.Assumptions

	// Deltas are applied on top of the base case. nil selects the default
	// optimistic / pessimistic pair; an empty non-nil slice values the base
	// case alone.
	Deltas []assumption.ScenarioDelta

	History          *ingest.Series
	CSVPath          string
	Synthetic        bool
	SyntheticPeriods int   // 0 means ingest.DefaultSyntheticPeriods
	Seed             int64 // 0 means ingest.DefaultSeed

	// Sweep overrides the default discount-rate range around the base WACC.
	Sweep *valuation.Range
}

// FCFFRow is one year of the pivoted FCFF table. Scenarios with a shorter
// horizon have no entry for the later years.
type FCFFRow struct {
	Year int                `json:"year"`
	FCFF map[string]float64 `json:"fcff"`
}

// Results is the outcome of a successful run.
type Results struct {
	RunID       string                     `json:"run_id"`
	Scenarios   []valuation.ScenarioResult `json:"scenarios"`
	Sensitivity valuation.SensitivityTable `json:"sensitivity"`
	FCFFTable   []FCFFRow                  `json:"fcff_table"`
	Artifacts   map[string]string          `json:"artifacts,omitempty"`
	DataSource  string                     `json:"data_source"`
	DataPath    string                     `json:"data_path,omitempty"`
	DataPreview *ingest.Series             `json:"data_preview,omitempty"`
}

// Scenario returns the named scenario result.
func (r *Results) Scenario(name string) (valuation.ScenarioResult, bool) {
	for _, s := range r.Scenarios {
		if s.Name == name {
			return s, true
		}
	}
	return valuation.ScenarioResult{}, false
}

// Planner wires the stages of a run together.
type Planner struct {
	data             DataSource
	reporter         Reporter
	metrics          *metrics.Metrics
	log              *zap.Logger
	validationConfig ValidationConfig
	newRunID         func() string
	now              func() time.Time
}

// NewPlanner creates a planner. data may be nil when every request carries its
// own history; reporter may be nil to skip writing artifacts.
func NewPlanner(data DataSource, reporter Reporter, log *zap.Logger) *Planner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Planner{
		data:             data,
		reporter:         reporter,
		log:              log.Named("pipeline"),
		validationConfig: ValidationConfig{StrictHistory: true},
		newRunID:         uuid.NewString,
		now:              time.Now,
	}
}

// SetMetrics enables run metrics.
func (p *Planner) SetMetrics(m *metrics.Metrics) { p.metrics = m }

// SetReporter replaces the reporter (e.g., for testing).
func (p *Planner) SetReporter(r Reporter) { p.reporter = r }

// SetValidationConfig updates the validation configuration.
func (p *Planner) SetValidationConfig(cfg ValidationConfig) { p.validationConfig = cfg }

// Run executes every stage in order. The context is checked between stages;
// a canceled run returns ctx.Err() wrapped with the stage it stopped at.
func (p *Planner) Run(ctx context.Context, req Request) (res *Results, err error) {
	start := p.now()
	runID := p.newRunID()
	log := p.log.With(zap.String("run_id", runID))

	scenarioCount := 0
	defer func() {
		outcome := outcomeOf(err)
		p.metrics.ObserveRun(outcome, scenarioCount, p.now().Sub(start))
		if err != nil {
			log.Warn("run failed", zap.String("outcome", outcome), zap.Error(err))
			return
		}
		log.Info("run complete",
			zap.Int("scenarios", scenarioCount),
			zap.Duration("elapsed", p.now().Sub(start)))
	}()

	// 1. Data
	if err := checkpoint(ctx, "data"); err != nil {
		return nil, err
	}
	history, source, path, err := p.resolveData(req)
	if err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}
	log.Debug("data resolved", zap.String("stage", "data"), zap.String("source", source), zap.Int("rows", history.Len()))

	// 2. Validation
	if err := checkpoint(ctx, "validate"); err != nil {
		return nil, err
	}
	if err := req.Assumptions.Validate(); err != nil {
		var ve *assumption.ValidationError
		if errors.As(err, &ve) {
			ve.Scenario = assumption.BaseScenario
		}
		return nil, err
	}
	var revenues []float64
	if history != nil {
		revenues = history.Revenues
	}
	if err := assumption.ValidateHistory(req.Assumptions, revenues); err != nil {
		if p.validationConfig.StrictHistory {
			return nil, err
		}
		log.Warn("history disagrees with assumptions", zap.String("stage", "validate"), zap.Error(err))
	}

	// 3. Expansion
	if err := checkpoint(ctx, "expand"); err != nil {
		return nil, err
	}
	deltas := req.Deltas
	if deltas == nil {
		deltas = assumption.DefaultDeltas(assumption.DefaultSpread)
	}
	scenarios, err := assumption.Expand(req.Assumptions, deltas)
	if err != nil {
		return nil, err
	}

	// 4. Projection + valuation, in scenario order
	results := make([]valuation.ScenarioResult, 0, len(scenarios))
	var baseTable *projection.Table
	for _, s := range scenarios {
		if err := checkpoint(ctx, "value"); err != nil {
			return nil, err
		}
		table, err := projection.Project(s.Assumptions)
		if err != nil {
			return nil, fmt.Errorf("project scenario %q: %w", s.Name, err)
		}
		r, err := valuation.Evaluate(s.Name, s.Assumptions, table)
		if err != nil {
			return nil, err
		}
		if s.Name == assumption.BaseScenario {
			baseTable = table
		}
		results = append(results, r)
		log.Debug("scenario valued",
			zap.String("stage", "value"),
			zap.String("scenario", s.Name),
			zap.Float64("npv", r.NPV))
	}
	scenarioCount = len(results)

	// 5. Sensitivity on the base case
	if err := checkpoint(ctx, "sweep"); err != nil {
		return nil, err
	}
	rng := valuation.DefaultRange(req.Assumptions)
	if req.Sweep != nil {
		rng = *req.Sweep
	}
	sweep, err := valuation.Sweep(assumption.BaseScenario, req.Assumptions, baseTable, rng)
	if err != nil {
		return nil, fmt.Errorf("sensitivity: %w", err)
	}

	res = &Results{
		RunID:       runID,
		Scenarios:   results,
		Sensitivity: sweep,
		FCFFTable:   PivotFCFF(results),
		DataSource:  source,
		DataPath:    path,
	}
	if history.Len() > 0 {
		res.DataPreview = history.Tail(PreviewRows)
	}

	// 6. Report
	if p.reporter != nil {
		if err := checkpoint(ctx, "report"); err != nil {
			return nil, err
		}
		artifacts, err := p.reporter.Save(report.Run{
			RunID:       runID,
			CreatedAt:   start.UTC(),
			Scenarios:   results,
			Sensitivity: sweep,
			History:     history,
		})
		if err != nil {
			return nil, fmt.Errorf("report: %w", err)
		}
		res.Artifacts = artifacts
	}
	return res, nil
}

func (p *Planner) resolveData(req Request) (*ingest.Series, string, string, error) {
	switch {
	case req.History != nil:
		if err := req.History.Validate(); err != nil {
			return nil, "", "", err
		}
		return req.History, SourceRequest, "", nil

	case req.CSVPath != "":
		if p.data == nil {
			return nil, "", "", errors.New("no data source configured for CSV input")
		}
		s, err := p.data.Load(req.CSVPath)
		if err != nil {
			return nil, "", "", err
		}
		return s, SourceCSV, req.CSVPath, nil

	case req.Synthetic:
		if p.data == nil {
			return nil, "", "", errors.New("no data source configured for synthetic input")
		}
		periods := req.SyntheticPeriods
		if periods == 0 {
			periods = ingest.DefaultSyntheticPeriods
		}
		seed := req.Seed
		if seed == 0 {
			seed = ingest.DefaultSeed
		}
		s, path, err := p.data.Synthesize(req.Assumptions, periods, seed)
		if err != nil {
			return nil, "", "", err
		}
		return s, SourceSynthetic, path, nil
	}
	return nil, SourceNone, "", nil
}

// PivotFCFF lays the per-scenario FCFF columns side by side by year.
func PivotFCFF(results []valuation.ScenarioResult) []FCFFRow {
	byYear := map[int]map[string]float64{}
	for _, r := range results {
		for _, row := range r.Rows {
			m, ok := byYear[row.Year]
			if !ok {
				m = map[string]float64{}
				byYear[row.Year] = m
			}
			m[r.Name] = row.FCFF
		}
	}
	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Ints(years)

	out := make([]FCFFRow, 0, len(years))
	for _, y := range years {
		out = append(out, FCFFRow{Year: y, FCFF: byYear[y]})
	}
	return out
}

func checkpoint(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", stage, err)
	}
	return nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, assumption.ErrInvalid), errors.Is(err, assumption.ErrBadScenario):
		return metrics.OutcomeInvalid
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeCanceled
	}
	return metrics.OutcomeError
}
