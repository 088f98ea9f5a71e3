package ui

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"dcf_valuation/pkg/core/assumption"
	"dcf_valuation/pkg/core/config"
	"dcf_valuation/pkg/core/ingest"
	"dcf_valuation/pkg/core/pipeline"
	"dcf_valuation/pkg/core/report"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	mux   *http.ServeMux
	store *ingest.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{mux: http.NewServeMux(), store: ingest.NewStore()}
	outDir := t.TempDir()
	loader := ingest.NewLoader(t.TempDir(), nil)
	planner := pipeline.NewPlanner(loader, report.NewWriter(outDir, nil), nil)
	NewHandler(planner, loader, f.store, config.BuiltinDefaults(), outDir, nil).Register(f.mux)
	return f
}

func (f *fixture) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	return f.serve(httptest.NewRequest(http.MethodGet, path, nil))
}

func (f *fixture) postForm(t *testing.T, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return f.serve(req)
}

func parse(t *testing.T, rec *httptest.ResponseRecorder) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	return doc
}

// defaultForm is the assumption form as first rendered.
func defaultForm() url.Values {
	form := url.Values{}
	defaults := config.BuiltinDefaults()
	for _, fld := range append(formFields(defaults.Assumptions), formSpread(*defaults.Spread)...) {
		form.Set(fld.Name, fld.Value)
	}
	return form
}

// waccByScenario reads the WACC column of the results table.
func waccByScenario(doc *goquery.Document) map[string]string {
	out := map[string]string{}
	doc.Find("#scenarios tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		out[cells.Eq(0).Text()] = cells.Eq(1).Text()
	})
	return out
}

func TestIndex_Tabs(t *testing.T) {
	f := newFixture(t)

	doc := parse(t, f.get(t, "/"))
	assert.True(t, doc.Find("section#data").HasClass("active"))
	assert.Equal(t, 1, doc.Find("#no-dataset").Length())
	assert.Equal(t, 1, doc.Find("#no-results").Length())

	doc = parse(t, f.get(t, "/?tab=assumptions"))
	assert.True(t, doc.Find("section#assumptions").HasClass("active"))
	assert.False(t, doc.Find("section#data").HasClass("active"))
	assert.Equal(t, len(fields)+len(spreadFields), doc.Find("#run-form input").Length())
	assert.Equal(t, len(spreadFields), doc.Find("#spread input").Length())
	val, ok := doc.Find("input#optimistic_wacc_delta").Attr("value")
	require.True(t, ok)
	assert.Equal(t, num(assumption.DefaultSpread.OptimisticWACC), val)

	val, ok = doc.Find("input#discount_rate").Attr("value")
	require.True(t, ok)
	assert.Equal(t, num(config.BuiltinDefaults().Assumptions.DiscountRate), val)

	// unknown tabs fall back to data
	doc = parse(t, f.get(t, "/?tab=bogus"))
	assert.True(t, doc.Find("section#data").HasClass("active"))
}

func TestIndex_NotFoundAndMethod(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/nope").Code)

	rec := f.serve(httptest.NewRequest(http.MethodGet, "/ui/run", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
}

func TestRun_RendersResults(t *testing.T) {
	f := newFixture(t)

	rec := f.postForm(t, "/ui/run", defaultForm())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	doc := parse(t, rec)

	assert.True(t, doc.Find("section#results").HasClass("active"))
	assert.NotEmpty(t, strings.TrimSpace(doc.Find("#run-id").Text()))

	var names []string
	doc.Find("#scenarios tr td:first-child").Each(func(_ int, s *goquery.Selection) {
		names = append(names, s.Text())
	})
	assert.Equal(t, []string{"base", "optimistic", "pessimistic"}, names)
	assert.Equal(t, 3, doc.Find("#scenarios td.npv").Length())

	years := config.BuiltinDefaults().Assumptions.ProjectionYears
	assert.Equal(t, years+1, doc.Find("#fcff tr").Length())
	assert.Greater(t, doc.Find("#sensitivity tr").Length(), 2)

	src, ok := doc.Find("img#chart").Attr("src")
	require.True(t, ok)
	assert.Equal(t, "/artifacts/"+report.SensitivityPNGFile, src)

	assert.Contains(t, doc.Find("#summary h1").Text(), "DCF Valuation Summary")
	assert.Greater(t, doc.Find("#artifacts a").Length(), 4)

	// the chart link resolves
	img := f.get(t, src)
	assert.Equal(t, http.StatusOK, img.Code)
	assert.Equal(t, "image/png", img.Header().Get("Content-Type"))

	// the results stay on the page
	doc = parse(t, f.get(t, "/?tab=results"))
	assert.Equal(t, 0, doc.Find("#no-results").Length())
}

func TestRun_InvalidAssumptions(t *testing.T) {
	f := newFixture(t)
	form := defaultForm()
	form.Set(string(assumption.FieldDiscountRate), "0.01")
	form.Set(string(assumption.FieldTerminalGrowthRate), "0.05")

	rec := f.postForm(t, "/ui/run", form)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	doc := parse(t, rec)
	assert.True(t, doc.Find("section#assumptions").HasClass("active"))
	assert.NotEmpty(t, doc.Find("#error").Text())
	assert.Greater(t, doc.Find("#error li").Length(), 0)

	// submitted values are kept in the form
	val, _ := doc.Find("input#discount_rate").Attr("value")
	assert.Equal(t, "0.01", val)
}

func TestRun_BadForm(t *testing.T) {
	f := newFixture(t)

	form := defaultForm()
	form.Set(string(assumption.FieldTaxRate), "a lot")
	assert.Equal(t, http.StatusBadRequest, f.postForm(t, "/ui/run", form).Code)

	form = defaultForm()
	form.Set("data", "uploaded")
	rec := f.postForm(t, "/ui/run", form)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, parse(t, rec).Find("#error").Text(), "no dataset")
}

func TestRun_SpreadDrivesScenarios(t *testing.T) {
	f := newFixture(t)

	rec := f.postForm(t, "/ui/run", defaultForm())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]string{
		"base":        "10.00%",
		"optimistic":  "9.00%",
		"pessimistic": "11.00%",
	}, waccByScenario(parse(t, rec)))

	form := defaultForm()
	form.Set("optimistic_wacc_delta", "0.03")
	form.Set("pessimistic_wacc_delta", "0.04")
	form.Set("optimistic_growth_delta", "0")
	rec = f.postForm(t, "/ui/run", form)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]string{
		"base":        "10.00%",
		"optimistic":  "7.00%",
		"pessimistic": "14.00%",
	}, waccByScenario(parse(t, rec)))

	// the edited deltas are shown on the next render
	doc := parse(t, f.get(t, "/?tab=assumptions"))
	val, _ := doc.Find("input#pessimistic_wacc_delta").Attr("value")
	assert.Equal(t, "0.04", val)
	val, _ = doc.Find("input#optimistic_growth_delta").Attr("value")
	assert.Equal(t, "0", val)
}

func TestRun_BadSpread(t *testing.T) {
	f := newFixture(t)
	for name, v := range map[string]string{"negative": "-0.01", "text": "wide", "nan": "NaN"} {
		t.Run(name, func(t *testing.T) {
			form := defaultForm()
			form.Set("optimistic_wacc_delta", v)
			rec := f.postForm(t, "/ui/run", form)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, parse(t, rec).Find("#error").Text(), "optimistic_wacc_delta")
		})
	}
}

func TestParseSpread_BlankKeepsCurrent(t *testing.T) {
	cur := assumption.Spread{OptimisticGrowth: 0.01, PessimisticGrowth: 0.02, OptimisticWACC: 0.03, PessimisticWACC: 0.04}
	got, err := parseSpread(&http.Request{PostForm: url.Values{"pessimistic_wacc_delta": {" 0.05 "}}}, cur)
	require.NoError(t, err)
	want := cur
	want.PessimisticWACC = 0.05
	assert.Equal(t, want, got)
}

func TestRun_ThousandsSeparators(t *testing.T) {
	got, err := parseAssumptions(&http.Request{PostForm: func() url.Values {
		form := defaultForm()
		form.Set(string(assumption.FieldBaseRevenue), "1,250,000")
		form.Set(string(assumption.FieldInitialInvestment), "")
		return form
	}()})
	require.NoError(t, err)
	assert.Equal(t, 1250000.0, got.BaseRevenue)
	assert.Zero(t, got.InitialInvestment)
}

func TestUpload_ThenRun(t *testing.T) {
	f := newFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "history.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("year,revenue\n2022,850000\n2023,920000\n2024,1000000\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/ui/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := f.serve(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	doc := parse(t, rec)
	assert.Contains(t, doc.Find("#message").Text(), "Loaded 3 rows from history.csv")
	assert.Equal(t, 4, doc.Find("#dataset tr").Length())
	assert.Equal(t, "1,000,000.00", doc.Find("#dataset tr").Last().Find("td").Last().Text())

	_, selected := doc.Find(`#data-source option[value="uploaded"]`).Attr("selected")
	assert.True(t, selected)

	form := defaultForm()
	form.Set("data", "uploaded")
	rec = f.postForm(t, "/ui/run", form)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, parse(t, rec).Find("#summary").Text(), "3 observations")
}

func TestUpload_BadCSV(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/ui/upload", strings.NewReader("year,sales\n2024,1\n"))
	req.Header.Set("Content-Type", "text/csv")
	rec := f.serve(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, parse(t, rec).Find("#error").Text())
	_, ok := f.store.Current()
	assert.False(t, ok)
}

func TestSynthetic(t *testing.T) {
	f := newFixture(t)

	rec := f.postForm(t, "/ui/synthetic", url.Values{"periods": {"7"}, "seed": {"9"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, parse(t, rec).Find("#message").Text(), "Generated 7 synthetic periods (seed 9)")

	d, ok := f.store.Current()
	require.True(t, ok)
	assert.Equal(t, 7, d.Series.Len())

	rec = f.postForm(t, "/ui/synthetic", url.Values{"periods": {"0.5"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.postForm(t, "/ui/synthetic", url.Values{"periods": {"500"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestArtifact_RejectsTraversal(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/artifacts/", "/artifacts/sub/file.csv", "/artifacts/missing.csv"} {
		assert.Equal(t, http.StatusNotFound, f.get(t, path).Code, path)
	}
}
