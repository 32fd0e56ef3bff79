// Package xbrl parses EDINET XBRL instance documents and resolves reported
// facts to canonical financial statement items.
package xbrl

import (
	_ "embed"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// StatementType identifies one of the three financial statements.
type StatementType string

const (
	BalanceSheet    StatementType = "BS"
	IncomeStatement StatementType = "PL"
	CashFlow        StatementType = "CF"
)

// StatementTypes lists the canonical statement types in persistence order.
var StatementTypes = []StatementType{BalanceSheet, IncomeStatement, CashFlow}

//go:embed taxonomy.yaml
var taxonomyYAML []byte

// Mapping resolves one taxonomy element local name to an application item.
type Mapping struct {
	Key       string
	LabelJA   string
	LabelEN   string
	Statement StatementType
	// Order is the canonical display position of the item within its
	// statement, starting at 1. Stable for a given taxonomy version.
	Order int
}

// Taxonomy is the versioned lookup table from taxonomy element local names
// to canonical item keys.
type Taxonomy struct {
	Version string
	byName  map[string]Mapping
	byKey   map[string]Mapping
}

type taxonomyFile struct {
	Version    string                     `yaml:"version"`
	Statements map[string][]taxonomyEntry `yaml:"statements"`
}

type taxonomyEntry struct {
	Key        string   `yaml:"key"`
	LabelJA    string   `yaml:"label_ja"`
	LabelEN    string   `yaml:"label_en"`
	LocalNames []string `yaml:"local_names"`
}

// ParseTaxonomy builds a Taxonomy from YAML mapping data.
func ParseTaxonomy(data []byte) (*Taxonomy, error) {
	var file taxonomyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrap(err, "taxonomy: unmarshal yaml")
	}

	tax := &Taxonomy{
		Version: file.Version,
		byName:  make(map[string]Mapping),
		byKey:   make(map[string]Mapping),
	}

	for _, st := range StatementTypes {
		entries, ok := file.Statements[string(st)]
		if !ok {
			return nil, eris.Errorf("taxonomy: missing statement section %s", st)
		}
		for i, e := range entries {
			if e.Key == "" || len(e.LocalNames) == 0 {
				return nil, eris.Errorf("taxonomy: %s entry %d missing key or local_names", st, i)
			}
			m := Mapping{
				Key:       e.Key,
				LabelJA:   e.LabelJA,
				LabelEN:   e.LabelEN,
				Statement: st,
				Order:     i + 1,
			}
			if prev, dup := tax.byKey[e.Key]; dup {
				return nil, eris.Errorf("taxonomy: item key %q defined in both %s and %s", e.Key, prev.Statement, st)
			}
			tax.byKey[e.Key] = m
			for _, name := range e.LocalNames {
				if prev, dup := tax.byName[name]; dup {
					return nil, eris.Errorf("taxonomy: element %q mapped to both %q and %q", name, prev.Key, e.Key)
				}
				tax.byName[name] = m
			}
		}
	}

	return tax, nil
}

var (
	defaultTaxonomy     *Taxonomy
	defaultTaxonomyOnce sync.Once
)

// DefaultTaxonomy returns the taxonomy embedded in the binary.
// The embedded file is validated at build time by tests, so a parse failure
// here is a programming error.
func DefaultTaxonomy() *Taxonomy {
	defaultTaxonomyOnce.Do(func() {
		tax, err := ParseTaxonomy(taxonomyYAML)
		if err != nil {
			panic(err)
		}
		defaultTaxonomy = tax
	})
	return defaultTaxonomy
}

// Lookup resolves a taxonomy element local name to its canonical mapping.
func (t *Taxonomy) Lookup(localName string) (Mapping, bool) {
	m, ok := t.byName[localName]
	return m, ok
}

// LookupKey resolves a canonical item key to its mapping.
func (t *Taxonomy) LookupKey(key string) (Mapping, bool) {
	m, ok := t.byKey[key]
	return m, ok
}

// Keys returns the canonical item keys for a statement in display order.
func (t *Taxonomy) Keys(st StatementType) []string {
	ordered := make([]string, 0, len(t.byKey))
	for key, m := range t.byKey {
		if m.Statement == st {
			ordered = append(ordered, key)
		}
	}
	// Insertion sort by canonical order; statement item lists are short.
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && t.byKey[ordered[j]].Order < t.byKey[ordered[j-1]].Order; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}
	return ordered
}
