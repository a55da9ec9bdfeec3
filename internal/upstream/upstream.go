// Package upstream contains the contracts and HTTP clients for the two services
// the orchestrator depends on: the catalogue, which reports the latest data
// timestamp per data standard, and the file service, which holds output batches.
package upstream

import (
	"context"
	"time"

	"git.home.luguber.info/inful/exchangeset/internal/jobs"
)

// Product is one catalogue entry available for an exchange set.
type Product struct {
	Name      string `json:"name"`
	Edition   int    `json:"edition,omitempty"`
	Update    int    `json:"update,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

// Snapshot is the catalogue state for a data standard at its latest timestamp.
type Snapshot struct {
	DataStandard jobs.DataStandard `json:"data_standard"`
	Timestamp    time.Time         `json:"timestamp"`
	Products     []Product         `json:"products"`
	// NotModified is set when the catalogue reported no change since the requested time.
	NotModified bool `json:"-"`
}

// ProductNames lists the product names in catalogue order.
func (s *Snapshot) ProductNames() []string {
	out := make([]string, 0, len(s.Products))
	for _, p := range s.Products {
		out = append(out, p.Name)
	}
	return out
}

// CatalogueService reports the latest upstream data for a data standard.
type CatalogueService interface {
	LatestTimestamp(ctx context.Context, ds jobs.DataStandard, since *time.Time) (*Snapshot, error)
}

// Batch is a file service container for exchange set output.
type Batch struct {
	ID           string            `json:"batch_id"`
	DataStandard jobs.DataStandard `json:"data_standard"`
	Committed    bool              `json:"committed"`
	CreatedAt    time.Time         `json:"created_at"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
}

// FileService manages output batches.
type FileService interface {
	CreateBatch(ctx context.Context, ds jobs.DataStandard, discriminator string) (*Batch, error)
	CommitBatch(ctx context.Context, batchID string) error
	SearchOtherBatches(ctx context.Context, ds jobs.DataStandard, excludingID string) ([]Batch, error)
	SetExpiry(ctx context.Context, batchIDs []string, at time.Time) error
}
