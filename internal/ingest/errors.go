package ingest

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
)

// ErrAlreadyIngested marks a filing that is already present for the
// company. Re-runs and racing workers both resolve to this, never to a
// surfaced unique violation.
var ErrAlreadyIngested = eris.New("ingest: filing already ingested")

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
