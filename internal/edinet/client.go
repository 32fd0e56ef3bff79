package edinet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/edinet-cli/internal/fetcher"
)

// Client talks to the EDINET disclosure API v2. All HTTP traffic goes
// through the shared fetcher, which owns retry and rate limiting, so
// every Client in the process competes for the same per-host budget.
type Client struct {
	baseURL string
	apiKey  string
	fetcher fetcher.Fetcher
	store   *DocStore
}

// NewClient builds a client for the given API base URL. The store may
// be nil when the caller only lists documents.
func NewClient(baseURL, apiKey string, f fetcher.Fetcher, store *DocStore) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		fetcher: f,
		store:   store,
	}
}

// ListFilings returns the documents submitted on the given date.
// Dates outside the API's retention window yield an empty list, not
// an error. Withdrawn documents and documents without XBRL are
// filtered out.
func (c *Client) ListFilings(ctx context.Context, date time.Time) ([]Filing, error) {
	day := date.Format("2006-01-02")
	u := fmt.Sprintf("%s/documents.json?date=%s&type=2&Subscription-Key=%s",
		c.baseURL, day, url.QueryEscape(c.apiKey))

	body, err := c.fetcher.Download(ctx, u)
	if err != nil {
		return nil, eris.Wrapf(err, "edinet: list documents for %s", day)
	}
	defer body.Close()

	var resp listResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, eris.Wrapf(err, "edinet: decode document list for %s", day)
	}

	switch resp.Metadata.Status {
	case "200":
	case "404":
		// The API reports out-of-range dates as a 404 status inside a
		// 200 response body.
		zap.L().Debug("no documents for date", zap.String("date", day))
		return nil, nil
	default:
		return nil, eris.Errorf("edinet: list documents for %s: status %s (%s)",
			day, resp.Metadata.Status, resp.Metadata.Message)
	}

	filings := make([]Filing, 0, len(resp.Results))
	for _, r := range resp.Results {
		f := r.toFiling()
		if f.Withdrawn || !f.HasXBRL {
			continue
		}
		filings = append(filings, f)
	}

	zap.L().Debug("listed documents",
		zap.String("date", day),
		zap.Int("total", resp.Metadata.Resultset.Count),
		zap.Int("usable", len(filings)),
	)
	return filings, nil
}

// FetchDocument downloads the XBRL package for a document into the
// local store and returns its path. A document already present in the
// store is returned without touching the network.
func (c *Client) FetchDocument(ctx context.Context, docID string) (string, error) {
	if c.store == nil {
		return "", eris.New("edinet: client has no document store")
	}

	if path, ok, err := c.store.Lookup(ctx, docID); err != nil {
		return "", err
	} else if ok {
		zap.L().Debug("document already in store", zap.String("doc_id", docID))
		return path, nil
	}

	dest := c.store.PathFor(docID)
	u := fmt.Sprintf("%s/documents/%s?type=1&Subscription-Key=%s",
		c.baseURL, url.PathEscape(docID), url.QueryEscape(c.apiKey))

	size, err := c.fetcher.DownloadToFile(ctx, u, dest)
	if err != nil {
		return "", eris.Wrapf(err, "edinet: fetch document %s", docID)
	}
	if err := c.store.Record(ctx, docID, dest, size); err != nil {
		return "", err
	}

	zap.L().Debug("fetched document",
		zap.String("doc_id", docID),
		zap.Int64("bytes", size),
	)
	return dest, nil
}
