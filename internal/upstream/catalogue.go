package upstream

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"git.home.luguber.info/inful/exchangeset/internal/jobs"
)

// CatalogueClient is the HTTP client for the catalogue service.
type CatalogueClient struct {
	base *baseClient
}

// NewCatalogueClient creates a catalogue client. httpClient may be nil.
func NewCatalogueClient(baseURL, token string, timeout time.Duration, httpClient *http.Client) *CatalogueClient {
	return &CatalogueClient{base: newBaseClient("catalogue", baseURL, token, timeout, httpClient)}
}

type latestResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Products  []Product `json:"products"`
}

// LatestTimestamp calls GET /v1/catalogue/{standard}/latest. When since is set it is sent
// as a query parameter and a 304 response yields a NotModified snapshot stamped with since.
func (c *CatalogueClient) LatestTimestamp(ctx context.Context, ds jobs.DataStandard, since *time.Time) (*Snapshot, error) {
	query := url.Values{}
	if since != nil {
		query.Set("since", since.UTC().Format(time.RFC3339Nano))
	}
	req, err := c.base.newRequest(ctx, http.MethodGet, "/v1/catalogue/"+ds.Slug()+"/latest", query, nil)
	if err != nil {
		return nil, err
	}

	var body latestResponse
	status, err := c.base.do(req, &body)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotModified {
		snap := &Snapshot{DataStandard: ds, NotModified: true}
		if since != nil {
			snap.Timestamp = since.UTC()
		}
		return snap, nil
	}
	return &Snapshot{DataStandard: ds, Timestamp: body.Timestamp.UTC(), Products: body.Products}, nil
}
