package upstream

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"git.home.luguber.info/inful/exchangeset/internal/jobs"
)

// FileServiceClient is the HTTP client for the file service.
type FileServiceClient struct {
	base *baseClient
}

// NewFileServiceClient creates a file service client. httpClient may be nil.
func NewFileServiceClient(baseURL, token string, timeout time.Duration, httpClient *http.Client) *FileServiceClient {
	return &FileServiceClient{base: newBaseClient("file service", baseURL, token, timeout, httpClient)}
}

type createBatchRequest struct {
	DataStandard  jobs.DataStandard `json:"data_standard"`
	Discriminator string            `json:"discriminator"`
}

// CreateBatch calls POST /v1/batches.
func (c *FileServiceClient) CreateBatch(ctx context.Context, ds jobs.DataStandard, discriminator string) (*Batch, error) {
	req, err := c.base.newRequest(ctx, http.MethodPost, "/v1/batches", nil, createBatchRequest{DataStandard: ds, Discriminator: discriminator})
	if err != nil {
		return nil, err
	}
	var batch Batch
	if _, err := c.base.do(req, &batch); err != nil {
		return nil, err
	}
	if batch.DataStandard == "" {
		batch.DataStandard = ds
	}
	return &batch, nil
}

// CommitBatch calls PUT /v1/batches/{id}/commit.
func (c *FileServiceClient) CommitBatch(ctx context.Context, batchID string) error {
	req, err := c.base.newRequest(ctx, http.MethodPut, "/v1/batches/"+url.PathEscape(batchID)+"/commit", nil, nil)
	if err != nil {
		return err
	}
	_, err = c.base.do(req, nil)
	return err
}

// SearchOtherBatches calls GET /v1/batches?data_standard=... and drops excludingID.
func (c *FileServiceClient) SearchOtherBatches(ctx context.Context, ds jobs.DataStandard, excludingID string) ([]Batch, error) {
	req, err := c.base.newRequest(ctx, http.MethodGet, "/v1/batches", url.Values{"data_standard": {string(ds)}}, nil)
	if err != nil {
		return nil, err
	}
	var all []Batch
	if _, err := c.base.do(req, &all); err != nil {
		return nil, err
	}
	out := all[:0]
	for _, b := range all {
		if b.ID != excludingID {
			out = append(out, b)
		}
	}
	return out, nil
}

type expiryRequest struct {
	BatchIDs  []string  `json:"batch_ids"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SetExpiry calls PUT /v1/batches/expiry. An empty id list is a no-op.
func (c *FileServiceClient) SetExpiry(ctx context.Context, batchIDs []string, at time.Time) error {
	if len(batchIDs) == 0 {
		return nil
	}
	req, err := c.base.newRequest(ctx, http.MethodPut, "/v1/batches/expiry", nil, expiryRequest{BatchIDs: batchIDs, ExpiresAt: at.UTC()})
	if err != nil {
		return err
	}
	_, err = c.base.do(req, nil)
	return err
}
