package edinet

import (
	"time"
)

// Document type codes used by the disclosure API. Annual securities
// reports are 120; quarterly reports are 140/150 but the upstream feed
// groups the quarterly set under 130 together with amended annuals.
const (
	DocTypeAnnualReport = "120"
	DocTypeAmendedSet   = "130"
)

// Filing is one row of the daily document list, trimmed to the fields
// the ingestion pipeline uses.
type Filing struct {
	DocID       string
	EdinetCode  string
	SecCode     string
	FilerName   string
	DocTypeCode string
	Description string
	PeriodStart *time.Time
	PeriodEnd   *time.Time
	SubmittedAt time.Time
	HasXBRL     bool
	Withdrawn   bool
}

// FiscalYear returns the fiscal year of the filing, taken from the
// reporting period end. Zero when the period end is unknown.
func (f Filing) FiscalYear() int {
	if f.PeriodEnd == nil {
		return 0
	}
	return f.PeriodEnd.Year()
}

// FiscalPeriod infers the fiscal period label from the period end month.
// Japanese fiscal years overwhelmingly end in March, so a period ending
// Mar-May is a full year, Jun-Aug is Q1, Sep-Nov is Q2, and the rest Q3.
func (f Filing) FiscalPeriod() string {
	if f.PeriodEnd == nil {
		return ""
	}
	switch m := f.PeriodEnd.Month(); {
	case m >= time.March && m <= time.May:
		return "FY"
	case m >= time.June && m <= time.August:
		return "Q1"
	case m >= time.September && m <= time.November:
		return "Q2"
	default:
		return "Q3"
	}
}

// listResponse is the wire shape of GET /documents.json.
type listResponse struct {
	Metadata struct {
		Title     string `json:"title"`
		Parameter struct {
			Date string `json:"date"`
			Type string `json:"type"`
		} `json:"parameter"`
		Resultset struct {
			Count int `json:"count"`
		} `json:"resultset"`
		ProcessDateTime string `json:"processDateTime"`
		Status          string `json:"status"`
		Message         string `json:"message"`
	} `json:"metadata"`
	Results []documentResult `json:"results"`
}

type documentResult struct {
	SeqNumber        int    `json:"seqNumber"`
	DocID            string `json:"docID"`
	EdinetCode       string `json:"edinetCode"`
	SecCode          string `json:"secCode"`
	JCN              string `json:"JCN"`
	FilerName        string `json:"filerName"`
	FundCode         string `json:"fundCode"`
	OrdinanceCode    string `json:"ordinanceCode"`
	FormCode         string `json:"formCode"`
	DocTypeCode      string `json:"docTypeCode"`
	PeriodStart      string `json:"periodStart"`
	PeriodEnd        string `json:"periodEnd"`
	SubmitDateTime   string `json:"submitDateTime"`
	DocDescription   string `json:"docDescription"`
	WithdrawalStatus string `json:"withdrawalStatus"`
	XBRLFlag         string `json:"xbrlFlag"`
	PDFFlag          string `json:"pdfFlag"`
	CSVFlag          string `json:"csvFlag"`
}

func (r documentResult) toFiling() Filing {
	return Filing{
		DocID:       r.DocID,
		EdinetCode:  r.EdinetCode,
		SecCode:     r.SecCode,
		FilerName:   r.FilerName,
		DocTypeCode: r.DocTypeCode,
		Description: r.DocDescription,
		PeriodStart: parseDate(r.PeriodStart),
		PeriodEnd:   parseDate(r.PeriodEnd),
		SubmittedAt: parseDateTime(r.SubmitDateTime),
		HasXBRL:     r.XBRLFlag == "1",
		Withdrawn:   r.WithdrawalStatus == "1",
	}
}

// parseDate parses a YYYY-MM-DD date, returning nil for empty or
// malformed values. The list API nulls out period bounds for documents
// that have no reporting period (fund reports, notices).
func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}

// parseDateTime parses the submit timestamp format used by the list API.
func parseDateTime(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", s)
	if err != nil {
		return time.Time{}
	}
	return t
}
