package edinet

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// DocStore is a document-id-addressed store for raw XBRL packages.
// ZIPs live on disk under one directory; a SQLite catalog alongside
// them records what has been fetched so re-runs skip the download
// without scanning the filesystem.
type DocStore struct {
	dir string
	db  *sql.DB
}

const docStoreMigration = `
CREATE TABLE IF NOT EXISTS documents (
	doc_id     TEXT PRIMARY KEY,
	path       TEXT NOT NULL,
	size_bytes INTEGER NOT NULL,
	fetched_at DATETIME NOT NULL
);
`

// OpenDocStore creates the directory if needed and opens the catalog.
func OpenDocStore(dir string) (*DocStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "docstore: create dir %s", dir)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "catalog.db"))
	if err != nil {
		return nil, eris.Wrap(err, "docstore: open catalog")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "docstore: exec %s", pragma)
		}
	}
	if _, err := db.Exec(docStoreMigration); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "docstore: migrate catalog")
	}
	return &DocStore{dir: dir, db: db}, nil
}

func (s *DocStore) Close() error {
	return s.db.Close()
}

// PathFor returns the on-disk path a document's ZIP is stored at.
func (s *DocStore) PathFor(docID string) string {
	return filepath.Join(s.dir, docID+".zip")
}

// Lookup reports whether a document is present. A catalog row whose
// file has gone missing counts as absent so the caller re-fetches.
func (s *DocStore) Lookup(ctx context.Context, docID string) (string, bool, error) {
	var path string
	err := s.db.QueryRowContext(ctx,
		`SELECT path FROM documents WHERE doc_id = ?`, docID,
	).Scan(&path)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrapf(err, "docstore: lookup %s", docID)
	}
	if _, err := os.Stat(path); err != nil {
		return "", false, nil
	}
	return path, true, nil
}

// Record registers a fetched document in the catalog.
func (s *DocStore) Record(ctx context.Context, docID, path string, size int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (doc_id, path, size_bytes, fetched_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (doc_id) DO UPDATE SET path = excluded.path,
			size_bytes = excluded.size_bytes, fetched_at = excluded.fetched_at`,
		docID, path, size, time.Now().UTC(),
	)
	return eris.Wrapf(err, "docstore: record %s", docID)
}
