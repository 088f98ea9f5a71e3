// Package valuation serves the JSON API: assumption defaults, valuation runs
// and revenue data upload / generation.
package valuation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"dcf_valuation/pkg/core/assumption"
	"dcf_valuation/pkg/core/ingest"
	"dcf_valuation/pkg/core/metrics"
	"dcf_valuation/pkg/core/pipeline"
	"dcf_valuation/pkg/core/utils"
	coreValuation "dcf_valuation/pkg/core/valuation"

	"go.uber.org/zap"
)

// Request body limits.
const (
	MaxJSONBody   = 1 << 20
	MaxUploadBody = 10 << 20
)

// ArtifactPrefix is the URL prefix artifacts are served under.
const ArtifactPrefix = "/artifacts/"

// Data source selectors accepted by RunRequest.Data.
const (
	DataNone      = "none"
	DataUploaded  = "uploaded"
	DataSynthetic = "synthetic"
	DataCSV       = "csv"
)

// RunRequest is the body of POST /api/valuation/run. Every field is optional:
// assumption fields missing from the body keep the server defaults; Scenarios, when
// present (even empty), replaces the default deltas; otherwise Spread builds
// the optimistic / pessimistic pair.
type RunRequest struct {
	Assumptions *assumption.Assumptions    `json:"assumptions"`
	Scenarios   []assumption.ScenarioDelta `json:"scenarios"`
	Spread      *assumption.Spread         `json:"spread"`
	Sweep       *coreValuation.Range       `json:"sweep"`

	Data     string    `json:"data"` // "", none, uploaded, synthetic, csv
	CSVPath  string    `json:"csv_path"`
	Revenues []float64 `json:"revenues"`
	Periods  int       `json:"periods"`
	Seed     int64     `json:"seed"`
}

// RunResponse is a finished run plus URLs of its artifacts.
type RunResponse struct {
	*pipeline.Results
	ArtifactURLs map[string]string `json:"artifact_urls,omitempty"`
}

// SyntheticRequest is the body of POST /api/data/synthetic.
type SyntheticRequest struct {
	Assumptions *assumption.Assumptions `json:"assumptions"`
	Periods     int                     `json:"periods"`
	Seed        int64                   `json:"seed"`
}

// DatasetResponse describes the dataset held by the server.
type DatasetResponse struct {
	Source  string         `json:"source"`
	Path    string         `json:"path,omitempty"`
	Rows    int            `json:"rows"`
	Latest  float64        `json:"latest"`
	Preview *ingest.Series `json:"preview"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error    string             `json:"error"`
	Scenario string             `json:"scenario,omitempty"`
	Issues   []assumption.Issue `json:"issues,omitempty"`
}

// Handler holds dependencies for the valuation endpoints.
type Handler struct {
	planner  *pipeline.Planner
	loader   *ingest.Loader
	store    *ingest.Store
	defaults *assumption.File
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// NewHandler creates a handler. store is shared with the web UI so a dataset
// uploaded through either is visible to both.
func NewHandler(planner *pipeline.Planner, loader *ingest.Loader, store *ingest.Store, defaults *assumption.File, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if store == nil {
		store = ingest.NewStore()
	}
	return &Handler{
		planner:  planner,
		loader:   loader,
		store:    store,
		defaults: defaults,
		log:      log.Named("api"),
	}
}

// SetMetrics enables per-route request counting.
func (h *Handler) SetMetrics(m *metrics.Metrics) { h.metrics = m }

// Register mounts every endpoint on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/valuation/defaults", h.route("/api/valuation/defaults", http.MethodGet, h.HandleDefaults))
	mux.HandleFunc("/api/valuation/run", h.route("/api/valuation/run", http.MethodPost, h.HandleRun))
	mux.HandleFunc("/api/data/upload", h.route("/api/data/upload", http.MethodPost, h.HandleUpload))
	mux.HandleFunc("/api/data/synthetic", h.route("/api/data/synthetic", http.MethodPost, h.HandleSynthetic))
	mux.HandleFunc("/healthz", h.route("/healthz", http.MethodGet, h.HandleHealth))
}

// statusRecorder captures the status code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// route adds CORS headers, answers preflight requests and enforces the method.
func (h *Handler) route(name, method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		defer func() { h.metrics.ObserveRequest(name, rec.code) }()

		rec.Header().Set("Access-Control-Allow-Origin", "*")
		rec.Header().Set("Access-Control-Allow-Methods", method+", OPTIONS")
		rec.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			rec.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != method {
			rec.Header().Set("Allow", method)
			WriteError(rec, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
			return
		}
		next(rec, r)
	}
}

// HandleHealth reports liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleDefaults returns the assumption file the server starts from, with the
// default deltas spelled out.
func (h *Handler) HandleDefaults(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, assumption.File{
		Assumptions: h.defaults.Assumptions,
		Scenarios:   h.defaults.Deltas(),
		Spread:      h.defaults.Spread,
	})
}

// HandleRun executes a valuation.
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	// Fields missing from the body keep their default values.
	defaults := h.defaults.Assumptions
	body := RunRequest{Assumptions: &defaults}
	if err := decodeBody(w, r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, err)
		return
	}
	req, err := h.buildRequest(body)
	if err != nil {
		WriteError(w, StatusFor(err), err)
		return
	}

	res, err := h.planner.Run(r.Context(), req)
	if err != nil {
		h.log.Info("valuation rejected", zap.Error(err))
		WriteError(w, StatusFor(err), err)
		return
	}
	WriteJSON(w, http.StatusOK, RunResponse{Results: res, ArtifactURLs: ArtifactURLs(res.Artifacts)})
}

func (h *Handler) buildRequest(body RunRequest) (pipeline.Request, error) {
	req := pipeline.Request{Sweep: body.Sweep}

	req.Assumptions = h.defaults.Assumptions
	if body.Assumptions != nil {
		req.Assumptions = *body.Assumptions
	}

	switch {
	case body.Scenarios != nil:
		req.Deltas = body.Scenarios
	case body.Spread != nil:
		req.Deltas = assumption.DefaultDeltas(*body.Spread)
	default:
		req.Deltas = h.defaults.Deltas()
	}

	data := strings.ToLower(strings.TrimSpace(body.Data))
	if data == "" && len(body.Revenues) > 0 {
		req.History = seriesOf(body.Revenues)
		return req, nil
	}
	switch data {
	case "", DataNone:
	case DataUploaded:
		d, ok := h.store.Current()
		if !ok {
			return req, badRequest(errors.New("no dataset has been uploaded"))
		}
		req.History = d.Series
	case DataSynthetic:
		req.Synthetic = true
		req.SyntheticPeriods = body.Periods
		req.Seed = body.Seed
	case DataCSV:
		if !filepath.IsLocal(body.CSVPath) {
			return req, badRequest(fmt.Errorf("csv_path %q must be a relative path inside the data directory", body.CSVPath))
		}
		req.CSVPath = body.CSVPath
	default:
		return req, badRequest(fmt.Errorf("unknown data source %q", body.Data))
	}
	return req, nil
}

// HandleUpload accepts a revenue CSV, either as the "file" field of a
// multipart form or as the raw request body.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	series, name, err := ReadUpload(w, r)
	if err != nil {
		WriteError(w, StatusFor(err), err)
		return
	}
	d := h.store.Set(series, name, "")
	h.log.Info("revenue data uploaded", zap.String("source", name), zap.Int("rows", series.Len()))
	WriteJSON(w, http.StatusOK, datasetResponse(d))
}

// HandleSynthetic generates a seeded revenue series and makes it current.
func (h *Handler) HandleSynthetic(w http.ResponseWriter, r *http.Request) {
	defaults := h.defaults.Assumptions
	body := SyntheticRequest{Assumptions: &defaults}
	if err := decodeBody(w, r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, err)
		return
	}
	a := h.defaults.Assumptions
	if body.Assumptions != nil {
		a = *body.Assumptions
	}
	d, err := Synthesize(h.loader, h.store, a, body.Periods, body.Seed)
	if err != nil {
		WriteError(w, StatusFor(err), err)
		return
	}
	WriteJSON(w, http.StatusOK, datasetResponse(d))
}

// Synthesize generates a series through loader and stores it. Zero periods or
// seed select the defaults.
func Synthesize(loader *ingest.Loader, store *ingest.Store, a assumption.Assumptions, periods int, seed int64) (ingest.Dataset, error) {
	if periods == 0 {
		periods = ingest.DefaultSyntheticPeriods
	}
	if seed == 0 {
		seed = ingest.DefaultSeed
	}
	if periods < 1 || periods > 100 {
		return ingest.Dataset{}, badRequest(fmt.Errorf("periods must be within [1, 100], got %d", periods))
	}
	if err := a.Validate(); err != nil {
		return ingest.Dataset{}, err
	}
	series, path, err := loader.Synthesize(a, periods, seed)
	if err != nil {
		return ingest.Dataset{}, err
	}
	return store.Set(series, DataSynthetic, path), nil
}

// ReadUpload parses an uploaded revenue CSV and returns it with its file name.
func ReadUpload(w http.ResponseWriter, r *http.Request) (*ingest.Series, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBody)

	var (
		src  io.Reader = r.Body
		name           = "upload.csv"
	)
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "multipart/form-data" {
		file, hdr, err := r.FormFile("file")
		if err != nil {
			return nil, "", badRequest(fmt.Errorf("read upload: %w", err))
		}
		defer file.Close()
		src = file
		if hdr.Filename != "" {
			name = filepath.Base(hdr.Filename)
		}
	}

	series, err := ingest.ParseCSV(src)
	if err != nil {
		return nil, "", err
	}
	return series, name, nil
}

func datasetResponse(d ingest.Dataset) DatasetResponse {
	return DatasetResponse{
		Source:  d.Source,
		Path:    d.Path,
		Rows:    d.Series.Len(),
		Latest:  d.Series.Latest(),
		Preview: d.Series.Tail(pipeline.PreviewRows),
	}
}

func seriesOf(revenues []float64) *ingest.Series {
	s := &ingest.Series{Years: make([]int, len(revenues)), Revenues: revenues}
	for i := range revenues {
		s.Years[i] = i - len(revenues) + 1
	}
	return s
}

// ArtifactURLs maps artifact labels to the URLs they are served at.
func ArtifactURLs(paths map[string]string) map[string]string {
	if len(paths) == 0 {
		return nil
	}
	out := make(map[string]string, len(paths))
	for label, p := range paths {
		out[label] = ArtifactPrefix + filepath.Base(p)
	}
	return out
}

// =============================================================================
// ENCODING & ERRORS
// =============================================================================

// decodeBody reads a JSON body (Hjson and hand-edited JSON are tolerated).
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxJSONBody))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	if err := utils.DecodeLenient(data, v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

type badRequestError struct{ err error }

func (e *badRequestError) Error() string { return e.err.Error() }
func (e *badRequestError) Unwrap() error { return e.err }

func badRequest(err error) error { return &badRequestError{err: err} }

// StatusFor maps an error to an HTTP status: 422 for assumptions or scenarios
// that fail validation, 400 for malformed input, 404 for missing data files,
// 503 for canceled requests and 500 otherwise.
func StatusFor(err error) int {
	var bre *badRequestError
	var mbe *http.MaxBytesError
	switch {
	case errors.Is(err, assumption.ErrInvalid), errors.Is(err, assumption.ErrBadScenario):
		return http.StatusUnprocessableEntity
	case errors.As(err, &bre), errors.As(err, &mbe), errors.Is(err, ingest.ErrBadData), errors.Is(err, coreValuation.ErrBadRange):
		return http.StatusBadRequest
	case errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes an ErrorResponse, including validation issues when err
// carries them.
func WriteError(w http.ResponseWriter, status int, err error) {
	resp := ErrorResponse{Error: err.Error()}
	var ve *assumption.ValidationError
	if errors.As(err, &ve) {
		resp.Scenario = ve.Scenario
		resp.Issues = ve.Issues
	}
	var se *assumption.ScenarioError
	if errors.As(err, &se) {
		resp.Scenario = se.Scenario
	}
	WriteJSON(w, status, resp)
}
