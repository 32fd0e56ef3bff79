package ingest

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/edinet-cli/internal/edinet"
	"github.com/sells-group/edinet-cli/internal/xbrl"
)

// Source lists and fetches filings from the disclosure API.
type Source interface {
	ListFilings(ctx context.Context, date time.Time) ([]edinet.Filing, error)
	FetchDocument(ctx context.Context, docID string) (string, error)
}

// Persister writes one parsed filing. *Store satisfies it.
type Persister interface {
	SaveFiling(ctx context.Context, company Company, filing FilingRecord, statements []xbrl.Statement) (int64, error)
	FilingExists(ctx context.Context, edinetCode, docID string) (bool, error)
}

// Stages a filing moves through, recorded on failure.
const (
	StageFetch   = "fetch"
	StageExtract = "extract"
	StageParse   = "parse"
	StagePersist = "persist"
)

// Failure records one filing that could not be ingested.
type Failure struct {
	DocID  string `json:"doc_id"`
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// RunSummary is the outcome of one date-range ingestion run.
type RunSummary struct {
	From             time.Time
	To               time.Time
	Listed           int
	Ingested         int
	Skipped          int
	Failures         []Failure
	UnmappedElements int
}

// Engine runs the fetch, extract, parse, persist pipeline over a date
// range. A bad filing is recorded and never aborts the batch; only
// listing failures and context cancellation are fatal.
type Engine struct {
	source      Source
	store       Persister
	taxonomy    *xbrl.Taxonomy
	docTypes    map[string]bool
	concurrency int
}

// EngineOpts configures an Engine.
type EngineOpts struct {
	// DocTypes restricts ingestion to these docTypeCode values. Empty
	// means all types.
	DocTypes []string
	// FetchConcurrency bounds parallel document downloads within a
	// date. Parsing and persistence stay sequential.
	FetchConcurrency int
}

// NewEngine creates an ingestion engine.
func NewEngine(source Source, store Persister, tax *xbrl.Taxonomy, opts EngineOpts) *Engine {
	docTypes := make(map[string]bool, len(opts.DocTypes))
	for _, dt := range opts.DocTypes {
		docTypes[dt] = true
	}
	concurrency := opts.FetchConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Engine{
		source:      source,
		store:       store,
		taxonomy:    tax,
		docTypes:    docTypes,
		concurrency: concurrency,
	}
}

// Run ingests every filing submitted in the inclusive date range.
func (e *Engine) Run(ctx context.Context, from, to time.Time) (*RunSummary, error) {
	if to.Before(from) {
		return nil, eris.Errorf("engine: date range end %s before start %s",
			to.Format("2006-01-02"), from.Format("2006-01-02"))
	}

	log := zap.L().With(zap.String("component", "ingest.engine"))
	summary := &RunSummary{From: from, To: to}

	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		filings, err := e.source.ListFilings(ctx, day)
		if err != nil {
			return summary, eris.Wrapf(err, "engine: list filings for %s", day.Format("2006-01-02"))
		}

		selected := make([]edinet.Filing, 0, len(filings))
		for _, f := range filings {
			if len(e.docTypes) > 0 && !e.docTypes[f.DocTypeCode] {
				continue
			}
			selected = append(selected, f)
		}
		summary.Listed += len(selected)

		log.Info("processing date",
			zap.String("date", day.Format("2006-01-02")),
			zap.Int("filings", len(selected)),
		)

		paths := e.fetchAll(ctx, selected, summary)

		for _, f := range selected {
			path, ok := paths[f.DocID]
			if !ok {
				continue
			}
			e.processFiling(ctx, f, path, summary)
		}
	}

	log.Info("run complete",
		zap.Int("listed", summary.Listed),
		zap.Int("ingested", summary.Ingested),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", len(summary.Failures)),
		zap.Int("unmapped_elements", summary.UnmappedElements),
	)
	return summary, nil
}

// fetchAll downloads one date's documents in parallel and returns the
// local path per doc id. Fetch failures are recorded on the summary.
func (e *Engine) fetchAll(ctx context.Context, filings []edinet.Filing, summary *RunSummary) map[string]string {
	type fetched struct {
		docID string
		path  string
		err   error
	}

	results := make([]fetched, len(filings))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i, f := range filings {
		g.Go(func() error {
			path, err := e.source.FetchDocument(gctx, f.DocID)
			results[i] = fetched{docID: f.DocID, path: path, err: err}
			return nil
		})
	}
	// Goroutines always return nil; per-filing errors land in results.
	_ = g.Wait()

	paths := make(map[string]string, len(filings))
	for _, r := range results {
		if r.err != nil {
			e.recordFailure(summary, r.docID, StageFetch, r.err)
			continue
		}
		paths[r.docID] = r.path
	}
	return paths
}

func (e *Engine) processFiling(ctx context.Context, f edinet.Filing, zipPath string, summary *RunSummary) {
	// When the list row identifies the filer, an already ingested filing
	// is skipped without unpacking or parsing anything. Filings whose
	// identity only the instance knows fall through to the conflict
	// check in the store.
	if f.EdinetCode != "" {
		exists, err := e.store.FilingExists(ctx, f.EdinetCode, f.DocID)
		if err != nil {
			zap.L().Warn("filing existence check failed, processing anyway",
				zap.String("doc_id", f.DocID),
				zap.Error(err),
			)
		} else if exists {
			summary.Skipped++
			zap.L().Debug("filing already ingested", zap.String("doc_id", f.DocID))
			return
		}
	}

	instances, err := edinet.ExtractInstances(zipPath)
	if err != nil {
		e.recordFailure(summary, f.DocID, StageExtract, err)
		return
	}
	// Packages normally hold a single PublicDoc instance; take the
	// first by name when there are more.
	sort.Slice(instances, func(i, j int) bool { return instances[i].Name < instances[j].Name })
	instance := instances[0]

	inst, err := xbrl.ParseInstance(bytes.NewReader(instance.Data))
	if err != nil {
		e.recordFailure(summary, f.DocID, StageParse, err)
		return
	}

	statements, consolidated, stats := xbrl.ExtractStatements(inst, e.taxonomy)
	summary.UnmappedElements += stats.UnmappedElements
	if len(statements) == 0 {
		e.recordFailure(summary, f.DocID, StageParse,
			eris.New("no statement items mapped"))
		return
	}

	company, record := e.buildRecords(f, inst, consolidated, zipPath)

	if _, err := e.store.SaveFiling(ctx, company, record, statements); err != nil {
		if eris.Is(err, ErrAlreadyIngested) {
			summary.Skipped++
			zap.L().Debug("filing already ingested", zap.String("doc_id", f.DocID))
			return
		}
		e.recordFailure(summary, f.DocID, StagePersist, err)
		return
	}
	summary.Ingested++
}

// buildRecords merges list-API metadata with what the instance document
// reports about itself. The document wins for identity fields it
// carries; the list fills the gaps.
func (e *Engine) buildRecords(f edinet.Filing, inst *xbrl.Instance, consolidated bool, zipPath string) (Company, FilingRecord) {
	meta := inst.Meta()

	edinetCode := meta.EDINETCode
	if edinetCode == "" {
		edinetCode = f.EdinetCode
	}
	nameJP := meta.CompanyName
	if nameJP == "" {
		nameJP = f.FilerName
	}
	secCode := meta.SecurityCode
	if secCode == "" {
		secCode = f.SecCode
	}

	company := Company{
		EdinetCode: edinetCode,
		Ticker:     tickerFromSecCode(secCode),
		NameJP:     nameJP,
		NameEN:     inst.CompanyNameEN(),
	}

	record := FilingRecord{
		DocID:         f.DocID,
		DocumentType:  f.DocTypeCode,
		FiscalYear:    f.FiscalYear(),
		FiscalPeriod:  f.FiscalPeriod(),
		PeriodStart:   f.PeriodStart,
		PeriodEnd:     f.PeriodEnd,
		Consolidated:  consolidated,
		SubmittedAt:   f.SubmittedAt,
		SourceZipPath: zipPath,
	}
	if record.PeriodStart == nil {
		record.PeriodStart = parseISODate(meta.PeriodStart)
	}
	if record.PeriodEnd == nil {
		record.PeriodEnd = parseISODate(meta.PeriodEnd)
		if record.PeriodEnd != nil {
			patched := f
			patched.PeriodEnd = record.PeriodEnd
			record.FiscalYear = patched.FiscalYear()
			record.FiscalPeriod = patched.FiscalPeriod()
		}
	}
	return company, record
}

func (e *Engine) recordFailure(summary *RunSummary, docID, stage string, err error) {
	summary.Failures = append(summary.Failures, Failure{
		DocID:  docID,
		Stage:  stage,
		Reason: err.Error(),
	})
	zap.L().Warn("filing failed",
		zap.String("doc_id", docID),
		zap.String("stage", stage),
		zap.Error(err),
	)
}

// tickerFromSecCode converts the 5-digit securities code the API
// reports into the common 4-digit ticker. Codes ending in a letter or
// nonzero digit are kept as-is.
func tickerFromSecCode(secCode string) string {
	if len(secCode) == 5 && strings.HasSuffix(secCode, "0") {
		return secCode[:4]
	}
	return secCode
}

func parseISODate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}
