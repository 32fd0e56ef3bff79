package edinet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePackage(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.zip")
	require.NoError(t, os.WriteFile(path, packageBytes(t, entries), 0o644))
	return path
}

func TestExtractInstances(t *testing.T) {
	path := writePackage(t, map[string]string{
		"XBRL/PublicDoc/jpcrp030000-asr-001_E02144-000_2024-03-31_01_2024-06-28.xbrl": "<xbrl>public</xbrl>",
		"XBRL/PublicDoc/manifest_PublicDoc.xml":                                       "<manifest/>",
		"XBRL/AuditDoc/jpaud-aar-cn-001_E02144-000_2024-03-31_01_2024-06-28.xbrl":     "<xbrl>audit</xbrl>",
		"PublicDoc/0101010_honbun.htm":                                                "<html/>",
	})

	instances, err := ExtractInstances(path)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "jpcrp030000-asr-001_E02144-000_2024-03-31_01_2024-06-28.xbrl", instances[0].Name)
	assert.Equal(t, "<xbrl>public</xbrl>", string(instances[0].Data))
}

func TestExtractInstancesBackslashPaths(t *testing.T) {
	path := writePackage(t, map[string]string{
		`XBRL\PublicDoc\jpcrp030000-asr-001.xbrl`: "<xbrl/>",
	})

	instances, err := ExtractInstances(path)
	require.NoError(t, err)
	require.Len(t, instances, 1)
}

func TestExtractInstancesMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-zip.zip")
	require.NoError(t, os.WriteFile(path, []byte("this is not a zip archive"), 0o644))

	_, err := ExtractInstances(path)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrMalformedPackage))
}

func TestExtractInstancesEmpty(t *testing.T) {
	path := writePackage(t, map[string]string{
		"XBRL/PublicDoc/manifest_PublicDoc.xml": "<manifest/>",
	})

	_, err := ExtractInstances(path)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNoInstanceDocument))
}
