package ingest

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/edinet-cli/internal/edinet"
	"github.com/sells-group/edinet-cli/internal/xbrl"
)

const engineInstance = `<?xml version="1.0" encoding="UTF-8"?>
<xbrli:xbrl xmlns:xbrli="http://www.xbrl.org/2003/instance"
            xmlns:jppfs_cor="http://disclosure.edinet-fsa.go.jp/taxonomy/jppfs/2023-12-01/jppfs_cor"
            xmlns:jpcrp_cor="http://disclosure.edinet-fsa.go.jp/taxonomy/jpcrp/2023-12-01/jpcrp_cor">
  <xbrli:context id="FilingDateInstant">
    <xbrli:entity><xbrli:identifier scheme="http://disclosure.edinet-fsa.go.jp">E01234</xbrli:identifier></xbrli:entity>
    <xbrli:period><xbrli:instant>2024-06-25</xbrli:instant></xbrli:period>
  </xbrli:context>
  <xbrli:context id="CurrentYearInstant">
    <xbrli:entity><xbrli:identifier scheme="http://disclosure.edinet-fsa.go.jp">E01234</xbrli:identifier></xbrli:entity>
    <xbrli:period><xbrli:instant>2024-03-31</xbrli:instant></xbrli:period>
  </xbrli:context>
  <xbrli:context id="CurrentYearDuration">
    <xbrli:entity><xbrli:identifier scheme="http://disclosure.edinet-fsa.go.jp">E01234</xbrli:identifier></xbrli:entity>
    <xbrli:period><xbrli:startDate>2023-04-01</xbrli:startDate><xbrli:endDate>2024-03-31</xbrli:endDate></xbrli:period>
  </xbrli:context>
  <xbrli:unit id="JPY"><xbrli:measure>iso4217:JPY</xbrli:measure></xbrli:unit>
  <jpcrp_cor:CompanyNameCoverPage contextRef="FilingDateInstant">株式会社サンプル</jpcrp_cor:CompanyNameCoverPage>
  <jpcrp_cor:SecurityCodeCoverPage contextRef="FilingDateInstant">79830</jpcrp_cor:SecurityCodeCoverPage>
  <jppfs_cor:Assets contextRef="CurrentYearInstant" unitRef="JPY" decimals="-3">1234500000</jppfs_cor:Assets>
  <jppfs_cor:NetAssets contextRef="CurrentYearInstant" unitRef="JPY" decimals="-3">400000000</jppfs_cor:NetAssets>
  <jppfs_cor:NetSales contextRef="CurrentYearDuration" unitRef="JPY" decimals="-3">987000000</jppfs_cor:NetSales>
</xbrli:xbrl>`

// fakeSource serves canned filings and writes packages to disk.
type fakeSource struct {
	filings  map[string][]edinet.Filing
	packages map[string][]byte
	listErr  error
	fetchErr map[string]error
	dir      string
	listed   []string
}

func (s *fakeSource) ListFilings(_ context.Context, date time.Time) ([]edinet.Filing, error) {
	day := date.Format("2006-01-02")
	s.listed = append(s.listed, day)
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.filings[day], nil
}

func (s *fakeSource) FetchDocument(_ context.Context, docID string) (string, error) {
	if err := s.fetchErr[docID]; err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, docID+".zip")
	if err := os.WriteFile(path, s.packages[docID], 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// fakePersister records saved filings.
type fakePersister struct {
	saved     []FilingRecord
	saveErr   map[string]error
	existing  map[string]bool
	existsErr error
}

func (p *fakePersister) SaveFiling(_ context.Context, _ Company, f FilingRecord, _ []xbrl.Statement) (int64, error) {
	if err := p.saveErr[f.DocID]; err != nil {
		return 0, err
	}
	p.saved = append(p.saved, f)
	return int64(len(p.saved)), nil
}

func (p *fakePersister) FilingExists(_ context.Context, _ string, docID string) (bool, error) {
	if p.existsErr != nil {
		return false, p.existsErr
	}
	return p.existing[docID], nil
}

func instancePackage(t *testing.T, body string) []byte {
	t.Helper()
	return zipBytes(t, map[string]string{
		"S100XXXX/XBRL/PublicDoc/jpcrp030000-asr-001.xbrl": body,
	})
}

func zipBytes(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf []byte
	tmp := filepath.Join(t.TempDir(), "pkg.zip")
	f, err := os.Create(tmp)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	buf, err = os.ReadFile(tmp)
	require.NoError(t, err)
	return buf
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func annualFiling(docID string) edinet.Filing {
	end := day("2024-03-31")
	start := day("2023-04-01")
	return edinet.Filing{
		DocID:       docID,
		EdinetCode:  "E01234",
		SecCode:     "79830",
		FilerName:   "株式会社サンプル",
		DocTypeCode: edinet.DocTypeAnnualReport,
		PeriodStart: &start,
		PeriodEnd:   &end,
		SubmittedAt: time.Date(2024, 6, 25, 9, 0, 0, 0, time.UTC),
		HasXBRL:     true,
	}
}

func newTestEngine(t *testing.T, src *fakeSource, store *fakePersister, opts EngineOpts) *Engine {
	t.Helper()
	src.dir = t.TempDir()
	if opts.FetchConcurrency == 0 {
		opts.FetchConcurrency = 2
	}
	return NewEngine(src, store, xbrl.DefaultTaxonomy(), opts)
}

func TestEngineRun(t *testing.T) {
	quarterly := annualFiling("S100QQQQ")
	quarterly.DocTypeCode = "140"

	src := &fakeSource{
		filings: map[string][]edinet.Filing{
			"2024-06-25": {annualFiling("S100AAAA"), quarterly},
		},
		packages: map[string][]byte{
			"S100AAAA": instancePackage(t, engineInstance),
		},
	}
	store := &fakePersister{}

	e := newTestEngine(t, src, store, EngineOpts{DocTypes: []string{"120", "130"}})
	summary, err := e.Run(context.Background(), day("2024-06-25"), day("2024-06-25"))
	require.NoError(t, err)

	// The quarterly filing is filtered before fetch.
	assert.Equal(t, 1, summary.Listed)
	assert.Equal(t, 1, summary.Ingested)
	assert.Equal(t, 0, summary.Skipped)
	assert.Empty(t, summary.Failures)

	require.Len(t, store.saved, 1)
	rec := store.saved[0]
	assert.Equal(t, "S100AAAA", rec.DocID)
	assert.Equal(t, 2024, rec.FiscalYear)
	assert.Equal(t, "FY", rec.FiscalPeriod)
	assert.NotEmpty(t, rec.SourceZipPath)
}

func TestEngineRunDateRange(t *testing.T) {
	src := &fakeSource{filings: map[string][]edinet.Filing{}}
	store := &fakePersister{}

	e := newTestEngine(t, src, store, EngineOpts{})
	summary, err := e.Run(context.Background(), day("2024-06-01"), day("2024-06-03"))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Listed)
	// Every date in the inclusive range is listed exactly once.
	assert.Equal(t, []string{"2024-06-01", "2024-06-02", "2024-06-03"}, src.listed)
}

func TestEngineRunInvalidRange(t *testing.T) {
	e := newTestEngine(t, &fakeSource{}, &fakePersister{}, EngineOpts{})
	_, err := e.Run(context.Background(), day("2024-06-30"), day("2024-06-01"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "date range")
}

func TestEngineRunListFailureIsFatal(t *testing.T) {
	src := &fakeSource{listErr: errors.New("api down")}
	e := newTestEngine(t, src, &fakePersister{}, EngineOpts{})

	_, err := e.Run(context.Background(), day("2024-06-25"), day("2024-06-25"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list filings")
}

func TestEngineRunBadFilingDoesNotAbortBatch(t *testing.T) {
	src := &fakeSource{
		filings: map[string][]edinet.Filing{
			"2024-06-25": {annualFiling("S100BAD1"), annualFiling("S100AAAA")},
		},
		packages: map[string][]byte{
			"S100BAD1": []byte("not a zip"),
			"S100AAAA": instancePackage(t, engineInstance),
		},
	}
	store := &fakePersister{}

	e := newTestEngine(t, src, store, EngineOpts{})
	summary, err := e.Run(context.Background(), day("2024-06-25"), day("2024-06-25"))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Ingested)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "S100BAD1", summary.Failures[0].DocID)
	assert.Equal(t, StageExtract, summary.Failures[0].Stage)
}

func TestEngineRunFetchFailure(t *testing.T) {
	src := &fakeSource{
		filings: map[string][]edinet.Filing{
			"2024-06-25": {annualFiling("S100AAAA")},
		},
		fetchErr: map[string]error{"S100AAAA": errors.New("429 exhausted")},
	}
	store := &fakePersister{}

	e := newTestEngine(t, src, store, EngineOpts{})
	summary, err := e.Run(context.Background(), day("2024-06-25"), day("2024-06-25"))
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Ingested)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, StageFetch, summary.Failures[0].Stage)
	assert.Empty(t, store.saved)
}

func TestEngineRunParseFailure(t *testing.T) {
	src := &fakeSource{
		filings: map[string][]edinet.Filing{
			"2024-06-25": {annualFiling("S100AAAA")},
		},
		packages: map[string][]byte{
			"S100AAAA": instancePackage(t, "<html>not xbrl</html>"),
		},
	}
	store := &fakePersister{}

	e := newTestEngine(t, src, store, EngineOpts{})
	summary, err := e.Run(context.Background(), day("2024-06-25"), day("2024-06-25"))
	require.NoError(t, err)

	require.Len(t, summary.Failures, 1)
	assert.Equal(t, StageParse, summary.Failures[0].Stage)
}

func TestEngineRunNoMappedFacts(t *testing.T) {
	empty := `<?xml version="1.0"?>
<xbrli:xbrl xmlns:xbrli="http://www.xbrl.org/2003/instance">
  <xbrli:context id="CurrentYearInstant">
    <xbrli:entity><xbrli:identifier scheme="s">E01234</xbrli:identifier></xbrli:entity>
    <xbrli:period><xbrli:instant>2024-03-31</xbrli:instant></xbrli:period>
  </xbrli:context>
</xbrli:xbrl>`

	src := &fakeSource{
		filings: map[string][]edinet.Filing{
			"2024-06-25": {annualFiling("S100AAAA")},
		},
		packages: map[string][]byte{
			"S100AAAA": instancePackage(t, empty),
		},
	}
	store := &fakePersister{}

	e := newTestEngine(t, src, store, EngineOpts{})
	summary, err := e.Run(context.Background(), day("2024-06-25"), day("2024-06-25"))
	require.NoError(t, err)

	require.Len(t, summary.Failures, 1)
	assert.Equal(t, StageParse, summary.Failures[0].Stage)
	assert.Contains(t, summary.Failures[0].Reason, "no statement items")
}

func TestEngineRunAlreadyIngestedSkips(t *testing.T) {
	src := &fakeSource{
		filings: map[string][]edinet.Filing{
			"2024-06-25": {annualFiling("S100AAAA")},
		},
		packages: map[string][]byte{
			"S100AAAA": instancePackage(t, engineInstance),
		},
	}
	store := &fakePersister{
		saveErr: map[string]error{"S100AAAA": eris.Wrap(ErrAlreadyIngested, "doc S100AAAA")},
	}

	e := newTestEngine(t, src, store, EngineOpts{})
	summary, err := e.Run(context.Background(), day("2024-06-25"), day("2024-06-25"))
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Ingested)
	assert.Equal(t, 1, summary.Skipped)
	assert.Empty(t, summary.Failures)
}

func TestEngineRunExistingFilingSkipsWithoutParsing(t *testing.T) {
	// The package is deliberately not a valid ZIP: a skipped filing must
	// never reach the extract stage.
	src := &fakeSource{
		filings: map[string][]edinet.Filing{
			"2024-06-25": {annualFiling("S100AAAA")},
		},
		packages: map[string][]byte{
			"S100AAAA": []byte("not a zip"),
		},
	}
	store := &fakePersister{existing: map[string]bool{"S100AAAA": true}}

	e := newTestEngine(t, src, store, EngineOpts{})
	summary, err := e.Run(context.Background(), day("2024-06-25"), day("2024-06-25"))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Ingested)
	assert.Empty(t, summary.Failures)
	assert.Empty(t, store.saved)
}

func TestEngineRunExistenceCheckErrorFallsThrough(t *testing.T) {
	src := &fakeSource{
		filings: map[string][]edinet.Filing{
			"2024-06-25": {annualFiling("S100AAAA")},
		},
		packages: map[string][]byte{
			"S100AAAA": instancePackage(t, engineInstance),
		},
	}
	store := &fakePersister{existsErr: errors.New("db unreachable")}

	e := newTestEngine(t, src, store, EngineOpts{})
	summary, err := e.Run(context.Background(), day("2024-06-25"), day("2024-06-25"))
	require.NoError(t, err)

	// The check failing must not lose the filing.
	assert.Equal(t, 1, summary.Ingested)
	assert.Empty(t, summary.Failures)
}

func TestEngineRunPersistFailure(t *testing.T) {
	src := &fakeSource{
		filings: map[string][]edinet.Filing{
			"2024-06-25": {annualFiling("S100AAAA")},
		},
		packages: map[string][]byte{
			"S100AAAA": instancePackage(t, engineInstance),
		},
	}
	store := &fakePersister{
		saveErr: map[string]error{"S100AAAA": errors.New("disk full")},
	}

	e := newTestEngine(t, src, store, EngineOpts{})
	summary, err := e.Run(context.Background(), day("2024-06-25"), day("2024-06-25"))
	require.NoError(t, err)

	require.Len(t, summary.Failures, 1)
	assert.Equal(t, StagePersist, summary.Failures[0].Stage)
}

func TestTickerFromSecCode(t *testing.T) {
	assert.Equal(t, "7203", tickerFromSecCode("72030"))
	assert.Equal(t, "7983", tickerFromSecCode("79830"))
	assert.Equal(t, "1234", tickerFromSecCode("12340"))
	assert.Equal(t, "1234A", tickerFromSecCode("1234A"))
	assert.Equal(t, "", tickerFromSecCode(""))
}

func TestBuildRecordsMergesMeta(t *testing.T) {
	e := newTestEngine(t, &fakeSource{}, &fakePersister{}, EngineOpts{})

	inst, err := xbrl.ParseInstance(strings.NewReader(engineInstance))
	require.NoError(t, err)

	// List metadata missing everything but the doc id; the instance
	// document fills the gaps.
	f := edinet.Filing{DocID: "S100AAAA", DocTypeCode: "120"}
	company, record := e.buildRecords(f, inst, true, "/tmp/S100AAAA.zip")

	assert.Equal(t, "E01234", company.EdinetCode)
	assert.Equal(t, "株式会社サンプル", company.NameJP)
	assert.Equal(t, "7983", company.Ticker)
	assert.True(t, record.Consolidated)
	require.NotNil(t, record.PeriodEnd)
	assert.Equal(t, 2024, record.FiscalYear)
	assert.Equal(t, "FY", record.FiscalPeriod)
}
