// Package testupstream provides in-memory catalogue and file services with
// failure injection for tests.
package testupstream

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"git.home.luguber.info/inful/exchangeset/internal/jobs"
	"git.home.luguber.info/inful/exchangeset/internal/upstream"
)

// Catalogue is a fake upstream.CatalogueService.
type Catalogue struct {
	mu        sync.Mutex
	snapshots map[jobs.DataStandard]upstream.Snapshot
	failures  []error
	calls     int
}

// NewCatalogue creates an empty fake catalogue.
func NewCatalogue() *Catalogue {
	return &Catalogue{snapshots: make(map[jobs.DataStandard]upstream.Snapshot)}
}

// Set publishes a timestamp and product list for ds.
func (c *Catalogue) Set(ds jobs.DataStandard, ts time.Time, products ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := upstream.Snapshot{DataStandard: ds, Timestamp: ts.UTC()}
	for _, p := range products {
		snap.Products = append(snap.Products, upstream.Product{Name: p, SizeBytes: 1024})
	}
	c.snapshots[ds] = snap
}

// FailNext queues errors returned by the next calls, in order.
func (c *Catalogue) FailNext(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, errs...)
}

// Calls reports how many times LatestTimestamp was called.
func (c *Catalogue) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *Catalogue) LatestTimestamp(ctx context.Context, ds jobs.DataStandard, _ *time.Time) (*upstream.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if len(c.failures) > 0 {
		err := c.failures[0]
		c.failures = c.failures[1:]
		return nil, err
	}
	snap, ok := c.snapshots[ds]
	if !ok {
		return &upstream.Snapshot{DataStandard: ds}, nil
	}
	cp := snap
	cp.Products = append([]upstream.Product(nil), snap.Products...)
	return &cp, nil
}

// FileService is a fake upstream.FileService.
type FileService struct {
	mu       sync.Mutex
	seq      int
	batches  map[string]*upstream.Batch
	failures map[string][]error
	now      func() time.Time
}

// NewFileService creates an empty fake file service.
func NewFileService() *FileService {
	return &FileService{
		batches:  make(map[string]*upstream.Batch),
		failures: make(map[string][]error),
		now:      time.Now,
	}
}

// FailNext queues errors for the named operation ("create", "commit", "search", "expiry").
func (f *FileService) FailNext(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], errs...)
}

// Add registers an existing batch.
func (f *FileService) Add(b upstream.Batch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := b
	f.batches[b.ID] = &cp
}

// Batch returns a copy of the batch with id.
func (f *FileService) Batch(id string) (upstream.Batch, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[id]
	if !ok {
		return upstream.Batch{}, false
	}
	return *b, true
}

func (f *FileService) popFailure(op string) error {
	if errs := f.failures[op]; len(errs) > 0 {
		f.failures[op] = errs[1:]
		return errs[0]
	}
	return nil
}

func (f *FileService) CreateBatch(ctx context.Context, ds jobs.DataStandard, _ string) (*upstream.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.popFailure("create"); err != nil {
		return nil, err
	}
	f.seq++
	b := &upstream.Batch{ID: fmt.Sprintf("batch-%d", f.seq), DataStandard: ds, CreatedAt: f.now().UTC()}
	f.batches[b.ID] = b
	cp := *b
	return &cp, nil
}

func (f *FileService) CommitBatch(ctx context.Context, batchID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.popFailure("commit"); err != nil {
		return err
	}
	b, ok := f.batches[batchID]
	if !ok {
		return fmt.Errorf("batch %s not found", batchID)
	}
	b.Committed = true
	return nil
}

func (f *FileService) SearchOtherBatches(ctx context.Context, ds jobs.DataStandard, excludingID string) ([]upstream.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.popFailure("search"); err != nil {
		return nil, err
	}
	var out []upstream.Batch
	for id, b := range f.batches {
		if id != excludingID && b.DataStandard == ds {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *FileService) SetExpiry(ctx context.Context, batchIDs []string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.popFailure("expiry"); err != nil {
		return err
	}
	for _, id := range batchIDs {
		if b, ok := f.batches[id]; ok {
			t := at.UTC()
			b.ExpiresAt = &t
		}
	}
	return nil
}
