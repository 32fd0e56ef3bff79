package xbrl

import "sort"

// Normalize deduplicates canonical facts and assigns display ordering.
//
// Documents should not report the same concept twice for one period, but a
// broken filing must not produce duplicate item keys downstream: the first
// fact in document order wins, except that a consolidated-scope fact
// replaces a non-consolidated one for the same key. Ordering follows the
// taxonomy's canonical order, re-numbered 1..n so order_index is strictly
// increasing with no gaps regardless of which items a filing reports.
func Normalize(facts []CanonicalFact) []Item {
	chosen := make(map[string]CanonicalFact, len(facts))
	for _, f := range facts {
		prev, seen := chosen[f.Mapping.Key]
		if !seen {
			chosen[f.Mapping.Key] = f
			continue
		}
		if !prev.Consolidated && f.Consolidated {
			chosen[f.Mapping.Key] = f
		}
	}

	ordered := make([]CanonicalFact, 0, len(chosen))
	for _, f := range chosen {
		ordered = append(ordered, f)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Mapping.Order < ordered[j].Mapping.Order
	})

	items := make([]Item, 0, len(ordered))
	for i, f := range ordered {
		items = append(items, Item{
			Key:         f.Mapping.Key,
			LabelJA:     f.Mapping.LabelJA,
			LabelEN:     f.Mapping.LabelEN,
			OrderIndex:  i + 1,
			Numeric:     f.Numeric,
			Text:        f.Text,
			ParseFailed: f.ParseFailed,
			ContextRef:  f.ContextRef,
			UnitRef:     f.UnitRef,
		})
	}
	return items
}
