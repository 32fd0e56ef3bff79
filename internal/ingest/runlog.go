package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/edinet-cli/internal/db"
)

// RunEntry is one row of edinet.ingest_runs.
type RunEntry struct {
	ID               uuid.UUID  `json:"id"`
	DateFrom         time.Time  `json:"date_from"`
	DateTo           time.Time  `json:"date_to"`
	Status           string     `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	Listed           int        `json:"listed"`
	Ingested         int        `json:"ingested"`
	Skipped          int        `json:"skipped"`
	Failed           int        `json:"failed"`
	UnmappedElements int        `json:"unmapped_elements"`
	Failures         []Failure  `json:"failures,omitempty"`
	Error            string     `json:"error,omitempty"`
}

// RunLog records ingestion runs in edinet.ingest_runs.
type RunLog struct {
	pool db.Pool
}

func NewRunLog(pool db.Pool) *RunLog {
	return &RunLog{pool: pool}
}

// Start records the beginning of a run and returns its id.
func (l *RunLog) Start(ctx context.Context, from, to time.Time) (uuid.UUID, error) {
	id := uuid.New()
	_, err := l.pool.Exec(ctx,
		`INSERT INTO edinet.ingest_runs (id, date_from, date_to, status, started_at)
		 VALUES ($1, $2, $3, 'running', now())`,
		id, from, to,
	)
	if err != nil {
		return uuid.Nil, eris.Wrap(err, "runlog: start run")
	}
	return id, nil
}

// Complete marks a run as finished with its summary counts.
func (l *RunLog) Complete(ctx context.Context, id uuid.UUID, summary *RunSummary) error {
	var failuresJSON []byte
	if len(summary.Failures) > 0 {
		var err error
		failuresJSON, err = json.Marshal(summary.Failures)
		if err != nil {
			return eris.Wrap(err, "runlog: marshal failures")
		}
	}

	_, err := l.pool.Exec(ctx,
		`UPDATE edinet.ingest_runs
		 SET status = 'complete', completed_at = now(),
			 listed = $1, ingested = $2, skipped = $3, failed = $4,
			 unmapped_elements = $5, failures = $6
		 WHERE id = $7`,
		summary.Listed, summary.Ingested, summary.Skipped, len(summary.Failures),
		summary.UnmappedElements, failuresJSON, id,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: complete run %s", id)
	}
	return nil
}

// Fail marks a run as aborted with an error message.
func (l *RunLog) Fail(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := l.pool.Exec(ctx,
		`UPDATE edinet.ingest_runs
		 SET status = 'failed', completed_at = now(), error = $1
		 WHERE id = $2`,
		errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: fail run %s", id)
	}
	return nil
}

// List returns recent runs, most recent first.
func (l *RunLog) List(ctx context.Context, limit int) ([]RunEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.pool.Query(ctx,
		`SELECT id, date_from, date_to, status, started_at, completed_at,
				listed, ingested, skipped, failed, unmapped_elements, failures, error
		 FROM edinet.ingest_runs
		 ORDER BY started_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list runs")
	}
	defer rows.Close()

	var entries []RunEntry
	for rows.Next() {
		var e RunEntry
		var errStr *string
		var failuresJSON []byte
		if err := rows.Scan(
			&e.ID, &e.DateFrom, &e.DateTo, &e.Status, &e.StartedAt, &e.CompletedAt,
			&e.Listed, &e.Ingested, &e.Skipped, &e.Failed, &e.UnmappedElements,
			&failuresJSON, &errStr,
		); err != nil {
			return nil, eris.Wrap(err, "runlog: scan run")
		}
		if errStr != nil {
			e.Error = *errStr
		}
		if failuresJSON != nil {
			_ = json.Unmarshal(failuresJSON, &e.Failures)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
