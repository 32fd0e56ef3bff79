package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/edinet-cli/internal/db"
	"github.com/sells-group/edinet-cli/internal/xbrl"
)

// Company is the identity record upserted per filing.
type Company struct {
	EdinetCode string
	Ticker     string
	NameJP     string
	NameEN     string
}

// FilingRecord is the filing-level metadata persisted alongside the
// parsed statements.
type FilingRecord struct {
	DocID         string
	DocumentType  string
	FiscalYear    int
	FiscalPeriod  string
	PeriodStart   *time.Time
	PeriodEnd     *time.Time
	Consolidated  bool
	SubmittedAt   time.Time
	SourceZipPath string
}

// Store writes parsed filings into Postgres.
type Store struct {
	pool db.Pool
}

func NewStore(pool db.Pool) *Store {
	return &Store{pool: pool}
}

// SaveFiling persists one filing atomically: company upsert, filing
// insert, statements and items, all in a single transaction. A filing
// the company already has returns the existing id and
// ErrAlreadyIngested with nothing written.
func (s *Store) SaveFiling(ctx context.Context, company Company, filing FilingRecord, statements []xbrl.Statement) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "store: begin")
	}
	defer tx.Rollback(ctx)

	companyID, err := upsertCompany(ctx, tx, company)
	if err != nil {
		return 0, err
	}

	filingID, inserted, err := insertFiling(ctx, tx, companyID, filing)
	if err != nil {
		return 0, err
	}
	if !inserted {
		return filingID, eris.Wrapf(ErrAlreadyIngested, "doc %s", filing.DocID)
	}

	if err := writeStatements(ctx, tx, filingID, statements); err != nil {
		if isUniqueViolation(err) {
			// A racing worker got there first between our insert and
			// its commit.
			return filingID, eris.Wrapf(ErrAlreadyIngested, "doc %s", filing.DocID)
		}
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return filingID, eris.Wrapf(ErrAlreadyIngested, "doc %s", filing.DocID)
		}
		return 0, eris.Wrapf(err, "store: commit filing %s", filing.DocID)
	}

	zap.L().Debug("filing persisted",
		zap.String("doc_id", filing.DocID),
		zap.Int64("filing_id", filingID),
		zap.Int("statements", len(statements)),
	)
	return filingID, nil
}

// FilingExists reports whether the company already has the filing on
// record. Overlapping re-runs use it to skip re-parsing packages whose
// statements are already persisted.
func (s *Store) FilingExists(ctx context.Context, edinetCode, docID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM edinet.filings f
			JOIN edinet.companies c ON c.id = f.company_id
			WHERE c.edinet_code = $1 AND f.edinet_doc_id = $2
		 )`,
		edinetCode, docID,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "store: check filing %s", docID)
	}
	return exists, nil
}

func upsertCompany(ctx context.Context, tx pgx.Tx, c Company) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx,
		`INSERT INTO edinet.companies (edinet_code, ticker, name_jp, name_en)
		 VALUES ($1, NULLIF($2, ''), $3, NULLIF($4, ''))
		 ON CONFLICT (edinet_code) DO UPDATE SET
			ticker = COALESCE(NULLIF(EXCLUDED.ticker, ''), edinet.companies.ticker),
			name_jp = COALESCE(NULLIF(EXCLUDED.name_jp, ''), edinet.companies.name_jp),
			name_en = COALESCE(EXCLUDED.name_en, edinet.companies.name_en),
			updated_at = now()
		 RETURNING id`,
		c.EdinetCode, c.Ticker, c.NameJP, c.NameEN,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "store: upsert company %s", c.EdinetCode)
	}
	return id, nil
}

// insertFiling inserts a filing row, reporting inserted=false when the
// (company, document) pair already exists.
func insertFiling(ctx context.Context, tx pgx.Tx, companyID int64, f FilingRecord) (int64, bool, error) {
	var id int64
	err := tx.QueryRow(ctx,
		`INSERT INTO edinet.filings
			(company_id, edinet_doc_id, document_type, fiscal_year, fiscal_period,
			 period_start, period_end, is_consolidated, submitted_at, source_zip_path)
		 VALUES ($1, $2, $3, NULLIF($4, 0), NULLIF($5, ''), $6, $7, $8, $9, NULLIF($10, ''))
		 ON CONFLICT (company_id, edinet_doc_id) DO NOTHING
		 RETURNING id`,
		companyID, f.DocID, f.DocumentType, f.FiscalYear, f.FiscalPeriod,
		f.PeriodStart, f.PeriodEnd, f.Consolidated, f.SubmittedAt, f.SourceZipPath,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, eris.Wrapf(err, "store: insert filing %s", f.DocID)
	}

	// Conflict: re-read the existing row.
	err = tx.QueryRow(ctx,
		`SELECT id FROM edinet.filings WHERE company_id = $1 AND edinet_doc_id = $2`,
		companyID, f.DocID,
	).Scan(&id)
	if err != nil {
		return 0, false, eris.Wrapf(err, "store: read existing filing %s", f.DocID)
	}
	return id, false, nil
}

var statementItemColumns = []string{
	"statement_id", "item_key", "label_ja", "label_en",
	"value_numeric", "value_text", "parse_failed", "order_index",
	"context_ref", "unit_ref",
}

func writeStatements(ctx context.Context, tx pgx.Tx, filingID int64, statements []xbrl.Statement) error {
	var itemRows [][]any

	for _, st := range statements {
		var statementID int64
		err := tx.QueryRow(ctx,
			`INSERT INTO edinet.statements (filing_id, statement_type, currency, unit)
			 VALUES ($1, $2, $3, NULLIF($4, ''))
			 RETURNING id`,
			filingID, string(st.Type), st.Currency, st.Unit,
		).Scan(&statementID)
		if err != nil {
			return eris.Wrapf(err, "store: insert %s statement", st.Type)
		}

		for _, item := range st.Items {
			num, err := numericValue(item.Numeric)
			if err != nil {
				return eris.Wrapf(err, "store: item %s", item.Key)
			}
			itemRows = append(itemRows, []any{
				statementID, item.Key, item.LabelJA, item.LabelEN,
				num, item.Text, item.ParseFailed, item.OrderIndex,
				nullableText(item.ContextRef), nullableText(item.UnitRef),
			})
		}
	}

	if len(itemRows) == 0 {
		return nil
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"edinet", "statement_items"},
		statementItemColumns,
		pgx.CopyFromRows(itemRows),
	)
	return eris.Wrap(err, "store: copy statement items")
}

func nullableText(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// numericValue converts an exact decimal to the pgx numeric type so
// COPY keeps full precision. Nil stays nil.
func numericValue(d *decimal.Decimal) (any, error) {
	if d == nil {
		return nil, nil
	}
	var n pgtype.Numeric
	if err := n.Scan(d.String()); err != nil {
		return nil, eris.Wrapf(err, "store: numeric %s", d.String())
	}
	return n, nil
}
