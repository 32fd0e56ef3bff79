package xbrl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleInstance = `<?xml version="1.0" encoding="UTF-8"?>
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
  <xbrli:context id="Prior1YearInstant">
    <xbrli:entity><xbrli:identifier scheme="http://disclosure.edinet-fsa.go.jp">E01234</xbrli:identifier></xbrli:entity>
    <xbrli:period><xbrli:instant>2023-03-31</xbrli:instant></xbrli:period>
  </xbrli:context>
  <xbrli:unit id="JPY"><xbrli:measure>iso4217:JPY</xbrli:measure></xbrli:unit>
  <jpcrp_cor:CompanyNameCoverPage contextRef="FilingDateInstant">株式会社サンプル</jpcrp_cor:CompanyNameCoverPage>
  <jpcrp_cor:CompanyNameInEnglishCoverPage contextRef="FilingDateInstant">Sample Co., Ltd.</jpcrp_cor:CompanyNameInEnglishCoverPage>
  <jpcrp_cor:SecurityCodeCoverPage contextRef="FilingDateInstant">79830</jpcrp_cor:SecurityCodeCoverPage>
  <jppfs_cor:Assets contextRef="CurrentYearInstant" unitRef="JPY" decimals="-3">1234500000</jppfs_cor:Assets>
  <jppfs_cor:Assets contextRef="Prior1YearInstant" unitRef="JPY" decimals="-3">1100000000</jppfs_cor:Assets>
  <jppfs_cor:NetAssets contextRef="CurrentYearInstant" unitRef="JPY" decimals="-3">400000000</jppfs_cor:NetAssets>
  <jppfs_cor:NetSales contextRef="CurrentYearDuration" unitRef="JPY" decimals="-3">987000000</jppfs_cor:NetSales>
  <jppfs_cor:OperatingIncome contextRef="CurrentYearDuration" unitRef="JPY" decimals="-3">-12000000</jppfs_cor:OperatingIncome>
  <jppfs_cor:NetCashProvidedByUsedInOperatingActivities contextRef="CurrentYearDuration" unitRef="JPY" decimals="-3">55000000</jppfs_cor:NetCashProvidedByUsedInOperatingActivities>
  <jppfs_cor:SomeNovelElement contextRef="CurrentYearInstant" unitRef="JPY" decimals="0">42</jppfs_cor:SomeNovelElement>
</xbrli:xbrl>`

func parseSample(t *testing.T) *Instance {
	t.Helper()
	inst, err := ParseInstance(strings.NewReader(sampleInstance))
	require.NoError(t, err)
	return inst
}

func TestParseInstance(t *testing.T) {
	inst := parseSample(t)

	assert.Len(t, inst.Contexts, 4)
	assert.Len(t, inst.Units, 1)
	assert.Equal(t, "iso4217:JPY", inst.Units["JPY"].Measure)

	cx := inst.Contexts["CurrentYearDuration"]
	assert.Equal(t, "E01234", cx.EntityID)
	assert.Equal(t, "2023-04-01", cx.StartDate)
	assert.Equal(t, "2024-03-31", cx.EndDate)

	// 3 cover-page facts + 7 financial facts.
	assert.Len(t, inst.Facts, 10)
	assert.Equal(t, "Assets", inst.Facts[3].LocalName)
	assert.Equal(t, "CurrentYearInstant", inst.Facts[3].ContextRef)
	assert.Equal(t, "JPY", inst.Facts[3].UnitRef)
	assert.Equal(t, "-3", inst.Facts[3].Decimals)
	assert.Equal(t, "1234500000", inst.Facts[3].Raw)
}

func TestParseInstance_NotXML(t *testing.T) {
	_, err := ParseInstance(strings.NewReader("this is not xml at all"))
	require.Error(t, err)
}

func TestParseInstance_WrongRoot(t *testing.T) {
	_, err := ParseInstance(strings.NewReader(`<?xml version="1.0"?><html><body/></html>`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected root element")
}

func TestParseInstance_Empty(t *testing.T) {
	_, err := ParseInstance(strings.NewReader(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no xbrl root element")
}

func TestMeta(t *testing.T) {
	inst := parseSample(t)
	meta := inst.Meta()

	assert.Equal(t, "E01234", meta.EDINETCode)
	assert.Equal(t, "株式会社サンプル", meta.CompanyName)
	assert.Equal(t, "79830", meta.SecurityCode)
	assert.Equal(t, "2023-04-01", meta.PeriodStart)
	assert.Equal(t, "2024-03-31", meta.PeriodEnd)
	assert.Equal(t, "Sample Co., Ltd.", inst.CompanyNameEN())
}

func TestMeta_InstantOnly(t *testing.T) {
	doc := `<?xml version="1.0"?>
<xbrli:xbrl xmlns:xbrli="http://www.xbrl.org/2003/instance">
  <xbrli:context id="CurrentYearInstant">
    <xbrli:entity><xbrli:identifier scheme="s">E99999</xbrli:identifier></xbrli:entity>
    <xbrli:period><xbrli:instant>2024-12-31</xbrli:instant></xbrli:period>
  </xbrli:context>
</xbrli:xbrl>`
	inst, err := ParseInstance(strings.NewReader(doc))
	require.NoError(t, err)

	meta := inst.Meta()
	assert.Equal(t, "E99999", meta.EDINETCode)
	assert.Empty(t, meta.PeriodStart)
	assert.Equal(t, "2024-12-31", meta.PeriodEnd)
}

func TestPrimaryContext(t *testing.T) {
	tests := []struct {
		id           string
		consolidated bool
		primary      bool
	}{
		{"CurrentYearInstant", true, true},
		{"CurrentYearDuration", true, true},
		{"CurrentYearInstant_NonConsolidatedMember", false, true},
		{"CurrentYearDuration_NonConsolidatedMember", false, true},
		{"Prior1YearInstant", false, false},
		{"Prior1YearDuration", false, false},
		{"FilingDateInstant", false, false},
		{"", false, false},
	}
	for _, tt := range tests {
		consolidated, primary := primaryContext(tt.id)
		assert.Equal(t, tt.primary, primary, tt.id)
		assert.Equal(t, tt.consolidated, consolidated, tt.id)
	}
}
