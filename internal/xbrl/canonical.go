package xbrl

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// CanonicalFact is a raw fact resolved against the taxonomy: mapped to an
// item key, scoped to the primary reporting period, with its value parsed.
type CanonicalFact struct {
	Mapping      Mapping
	ContextRef   string
	UnitRef      string
	Consolidated bool

	// Numeric and Text are mutually exclusive; both nil means the fact was
	// reported empty. ParseFailed marks numeric-typed facts whose value
	// could not be parsed; the raw text is retained so the loss is visible
	// downstream instead of silently dropped.
	Numeric     *decimal.Decimal
	Text        *string
	ParseFailed bool
}

// Item is one canonical financial statement line ready for persistence.
type Item struct {
	Key         string
	LabelJA     string
	LabelEN     string
	OrderIndex  int
	Numeric     *decimal.Decimal
	Text        *string
	ParseFailed bool
	ContextRef  string
	UnitRef     string
}

// Statement is one financial statement extracted from a filing.
type Statement struct {
	Type     StatementType
	LabelJA  string
	Currency string
	Unit     string
	Items    []Item
}

var statementLabels = map[StatementType]string{
	BalanceSheet:    "貸借対照表",
	IncomeStatement: "損益計算書",
	CashFlow:        "キャッシュ・フロー計算書",
}

// ExtractStats counts facts dropped during extraction, surfaced in the run
// summary so taxonomy gaps are observable without failing the parse.
type ExtractStats struct {
	UnmappedElements  int
	NonPrimaryPeriods int
}

// ExtractStatements resolves an instance's facts against the taxonomy and
// produces the BS/PL/CF statements for the filing's primary reporting
// period. The returned consolidated flag reports the scope the selected
// facts were drawn from.
func ExtractStatements(inst *Instance, tax *Taxonomy) ([]Statement, bool, ExtractStats) {
	var stats ExtractStats

	byStatement := make(map[StatementType][]CanonicalFact, len(StatementTypes))
	consolidated := false

	for _, f := range inst.Facts {
		mapping, mapped := tax.Lookup(f.LocalName)
		if !mapped {
			// Only numeric financial facts count as unmapped; cover-page
			// text elements are not taxonomy gaps.
			if f.UnitRef != "" {
				stats.UnmappedElements++
			}
			continue
		}

		isConsolidated, primary := primaryContext(f.ContextRef)
		if !primary {
			stats.NonPrimaryPeriods++
			continue
		}
		if isConsolidated {
			consolidated = true
		}

		num, text, failed := parseValue(f)
		byStatement[mapping.Statement] = append(byStatement[mapping.Statement], CanonicalFact{
			Mapping:      mapping,
			ContextRef:   f.ContextRef,
			UnitRef:      f.UnitRef,
			Consolidated: isConsolidated,
			Numeric:      num,
			Text:         text,
			ParseFailed:  failed,
		})
	}

	statements := make([]Statement, 0, len(StatementTypes))
	for _, st := range StatementTypes {
		facts := byStatement[st]
		if st == BalanceSheet {
			facts = deriveTotalLiabilities(facts, tax)
		}
		items := Normalize(facts)
		if len(items) == 0 {
			continue
		}
		currency, unit := statementUnit(inst, items)
		statements = append(statements, Statement{
			Type:     st,
			LabelJA:  statementLabels[st],
			Currency: currency,
			Unit:     unit,
			Items:    items,
		})
	}

	return statements, consolidated, stats
}

// parseValue parses a fact's reported value. Facts carrying a unitRef are
// numeric-typed; monetary figures parse as exact decimals, never floats.
// Malformed numeric text is retained as a text value with ParseFailed set.
func parseValue(f RawFact) (*decimal.Decimal, *string, bool) {
	raw := f.Raw
	if raw == "" {
		return nil, nil, false
	}

	if f.UnitRef == "" {
		text := raw
		return nil, &text, false
	}

	cleaned := strings.ReplaceAll(raw, ",", "")
	// Japanese filings mark negatives with △ or a full-width minus.
	cleaned = strings.ReplaceAll(cleaned, "△", "-")
	cleaned = strings.ReplaceAll(cleaned, "−", "-")
	cleaned = strings.TrimSpace(cleaned)

	num, err := decimal.NewFromString(cleaned)
	if err != nil {
		text := raw
		return nil, &text, true
	}
	return &num, nil, false
}

// deriveTotalLiabilities fills in total_liabilities as assets minus net
// assets when the filing does not tag it directly. Some filers only report
// the two sides of the balance sheet equation.
func deriveTotalLiabilities(facts []CanonicalFact, tax *Taxonomy) []CanonicalFact {
	var assets, netAssets *CanonicalFact
	for i := range facts {
		switch facts[i].Mapping.Key {
		case "total_liabilities":
			return facts
		case "total_assets":
			if assets == nil && facts[i].Numeric != nil {
				assets = &facts[i]
			}
		case "net_assets":
			if netAssets == nil && facts[i].Numeric != nil {
				netAssets = &facts[i]
			}
		}
	}
	if assets == nil || netAssets == nil {
		return facts
	}

	mapping, ok := tax.LookupKey("total_liabilities")
	if !ok {
		return facts
	}
	derived := assets.Numeric.Sub(*netAssets.Numeric)
	return append(facts, CanonicalFact{
		Mapping:      mapping,
		ContextRef:   assets.ContextRef,
		UnitRef:      assets.UnitRef,
		Consolidated: assets.Consolidated,
		Numeric:      &derived,
	})
}

// statementUnit derives currency and unit-of-measure metadata from the unit
// referenced by the majority of the statement's items. Ties prefer iso4217
// measures, then the lexicographically smallest, so the result is stable
// across runs.
func statementUnit(inst *Instance, items []Item) (currency, unit string) {
	counts := make(map[string]int)
	for _, it := range items {
		if it.UnitRef == "" {
			continue
		}
		if u, ok := inst.Units[it.UnitRef]; ok && u.Measure != "" {
			counts[u.Measure]++
		}
	}
	if len(counts) == 0 {
		return "JPY", "JPY"
	}

	measures := make([]string, 0, len(counts))
	for m := range counts {
		measures = append(measures, m)
	}
	sort.Slice(measures, func(i, j int) bool {
		mi, mj := measures[i], measures[j]
		if counts[mi] != counts[mj] {
			return counts[mi] > counts[mj]
		}
		ci, cj := strings.HasPrefix(mi, "iso4217:"), strings.HasPrefix(mj, "iso4217:")
		if ci != cj {
			return ci
		}
		return mi < mj
	})
	best := measures[0]

	unit = best
	if i := strings.LastIndex(best, ":"); i >= 0 {
		unit = best[i+1:]
	}
	currency = unit
	if !strings.HasPrefix(best, "iso4217:") {
		currency = "JPY"
	}
	return currency, unit
}
