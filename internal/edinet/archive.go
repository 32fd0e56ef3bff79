package edinet

import (
	"archive/zip"
	"io"
	"path"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrMalformedPackage marks a document ZIP that cannot be opened or
// read. It is a per-filing failure, never fatal to a run.
var ErrMalformedPackage = eris.New("edinet: malformed document package")

// ErrNoInstanceDocument marks a package that opened fine but contains
// no XBRL instance document.
var ErrNoInstanceDocument = eris.New("edinet: no instance document in package")

// InstanceFile is one XBRL instance document extracted from a package.
type InstanceFile struct {
	Name string
	Data []byte
}

// ExtractInstances opens a document package and returns the raw bytes
// of every XBRL instance document under the PublicDoc directory. The
// package layout puts the filer's main instance at
// XBRL/PublicDoc/<prefix>.xbrl; AuditDoc instances are ignored.
func ExtractInstances(zipPath string) ([]InstanceFile, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrapf(ErrMalformedPackage, "open %s: %v", zipPath, err)
	}
	defer zr.Close()

	var instances []InstanceFile
	for _, f := range zr.File {
		if !isInstanceEntry(f.Name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, eris.Wrapf(ErrMalformedPackage, "open entry %s: %v", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, eris.Wrapf(ErrMalformedPackage, "read entry %s: %v", f.Name, err)
		}
		instances = append(instances, InstanceFile{Name: path.Base(f.Name), Data: data})
	}

	if len(instances) == 0 {
		return nil, eris.Wrapf(ErrNoInstanceDocument, "package %s", zipPath)
	}
	return instances, nil
}

func isInstanceEntry(name string) bool {
	name = strings.ReplaceAll(name, "\\", "/")
	return strings.Contains(name, "XBRL/PublicDoc/") && strings.HasSuffix(name, ".xbrl")
}
