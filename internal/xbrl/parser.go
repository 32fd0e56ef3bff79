package xbrl

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// Context is the dimensional context a fact refers to: reporting period and
// consolidation scope, plus the reporting entity identifier.
type Context struct {
	ID         string
	EntityID   string
	Instant    string
	StartDate  string
	EndDate    string
}

// Unit is a measurement unit referenced by numeric facts (e.g. iso4217:JPY).
type Unit struct {
	ID      string
	Measure string
}

// RawFact is a single reported fact as it appears in the instance document.
type RawFact struct {
	LocalName  string
	Namespace  string
	ContextRef string
	UnitRef    string
	Decimals   string
	Raw        string
}

// Instance is a parsed XBRL instance document.
type Instance struct {
	Contexts map[string]Context
	Units    map[string]Unit
	// Facts preserves document order, which drives dedup precedence.
	Facts []RawFact
}

type contextXML struct {
	ID     string `xml:"id,attr"`
	Entity struct {
		Identifier string `xml:"identifier"`
	} `xml:"entity"`
	Period struct {
		Instant   string `xml:"instant"`
		StartDate string `xml:"startDate"`
		EndDate   string `xml:"endDate"`
	} `xml:"period"`
}

type unitXML struct {
	ID      string `xml:"id,attr"`
	Measure string `xml:"measure"`
}

// ParseInstance parses an XBRL instance document into contexts, units, and
// raw facts. Fact elements are recognized by the presence of a contextRef
// attribute; everything else (schemaRef, footnotes, tuples) is skipped.
func ParseInstance(r io.Reader) (*Instance, error) {
	decoder := xml.NewDecoder(r)
	decoder.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "xbrl: unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	}

	inst := &Instance{
		Contexts: make(map[string]Context),
		Units:    make(map[string]Unit),
	}

	sawRoot := false
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "xbrl: read token")
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		if !sawRoot {
			if se.Name.Local != "xbrl" {
				return nil, eris.Errorf("xbrl: unexpected root element %q", se.Name.Local)
			}
			sawRoot = true
			continue
		}

		switch se.Name.Local {
		case "context":
			var cx contextXML
			if err := decoder.DecodeElement(&cx, &se); err != nil {
				return nil, eris.Wrap(err, "xbrl: decode context")
			}
			inst.Contexts[cx.ID] = Context{
				ID:        cx.ID,
				EntityID:  strings.TrimSpace(cx.Entity.Identifier),
				Instant:   strings.TrimSpace(cx.Period.Instant),
				StartDate: strings.TrimSpace(cx.Period.StartDate),
				EndDate:   strings.TrimSpace(cx.Period.EndDate),
			}
			continue
		case "unit":
			var ux unitXML
			if err := decoder.DecodeElement(&ux, &se); err != nil {
				return nil, eris.Wrap(err, "xbrl: decode unit")
			}
			inst.Units[ux.ID] = Unit{ID: ux.ID, Measure: strings.TrimSpace(ux.Measure)}
			continue
		}

		contextRef := attrValue(se.Attr, "contextRef")
		if contextRef == "" {
			// Containers without contextRef may still hold facts; do not
			// skip their subtree.
			continue
		}

		var value string
		if err := decoder.DecodeElement(&value, &se); err != nil {
			return nil, eris.Wrapf(err, "xbrl: decode fact %s", se.Name.Local)
		}

		inst.Facts = append(inst.Facts, RawFact{
			LocalName:  se.Name.Local,
			Namespace:  se.Name.Space,
			ContextRef: contextRef,
			UnitRef:    attrValue(se.Attr, "unitRef"),
			Decimals:   attrValue(se.Attr, "decimals"),
			Raw:        strings.TrimSpace(value),
		})
	}

	if !sawRoot {
		return nil, eris.New("xbrl: document has no xbrl root element")
	}

	return inst, nil
}

func attrValue(attrs []xml.Attr, name string) string {
	for _, a := range attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// primaryContext reports whether a context id belongs to the filing's
// current reporting period, and whether it is consolidated scope.
// EDINET context ids follow a fixed naming convention: CurrentYearInstant,
// CurrentYearDuration, and their _NonConsolidatedMember variants. Prior-year
// comparison contexts (Prior1YearInstant, ...) are not primary: only
// current-period facts populate the canonical row set.
func primaryContext(id string) (consolidated bool, ok bool) {
	switch id {
	case "CurrentYearInstant", "CurrentYearDuration":
		return true, true
	case "CurrentYearInstant_NonConsolidatedMember", "CurrentYearDuration_NonConsolidatedMember":
		return false, true
	default:
		return false, false
	}
}

// DocumentMeta is company and period metadata read off the instance document.
type DocumentMeta struct {
	EDINETCode   string
	CompanyName  string
	SecurityCode string
	PeriodStart  string
	PeriodEnd    string
}

// Meta extracts company identity and reporting period bounds from the
// instance. The entity identifier of a current-period context carries the
// EDINET code; cover-page elements carry name and security code.
func (inst *Instance) Meta() DocumentMeta {
	var meta DocumentMeta

	for _, id := range []string{
		"CurrentYearDuration",
		"CurrentYearDuration_NonConsolidatedMember",
		"CurrentYearInstant",
		"CurrentYearInstant_NonConsolidatedMember",
	} {
		cx, ok := inst.Contexts[id]
		if !ok {
			continue
		}
		if meta.EDINETCode == "" {
			meta.EDINETCode = cx.EntityID
		}
		if meta.PeriodStart == "" {
			meta.PeriodStart = cx.StartDate
		}
		if meta.PeriodEnd == "" {
			if cx.EndDate != "" {
				meta.PeriodEnd = cx.EndDate
			} else {
				meta.PeriodEnd = cx.Instant
			}
		}
	}

	for _, f := range inst.Facts {
		if f.Raw == "" {
			continue
		}
		switch f.LocalName {
		case "CompanyNameCoverPage", "CompanyName":
			if meta.CompanyName == "" {
				meta.CompanyName = f.Raw
			}
		case "CompanyNameInEnglishCoverPage":
			// Kept out of CompanyName; the store records it separately.
		case "SecurityCode", "SecurityCodeCoverPage":
			if meta.SecurityCode == "" {
				meta.SecurityCode = f.Raw
			}
		}
		if meta.CompanyName != "" && meta.SecurityCode != "" {
			break
		}
	}

	return meta
}

// CompanyNameEN returns the English cover-page company name, if reported.
func (inst *Instance) CompanyNameEN() string {
	for _, f := range inst.Facts {
		if f.LocalName == "CompanyNameInEnglishCoverPage" && f.Raw != "" {
			return f.Raw
		}
	}
	return ""
}
