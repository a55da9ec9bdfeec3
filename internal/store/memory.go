package store

import (
	"context"
	"sort"
	"sync"

	"git.home.luguber.info/inful/exchangeset/internal/jobs"
)

// MemoryStore is an in-process Store. Values are cloned on the way in and out.
type MemoryStore struct {
	mu         sync.RWMutex
	jobs       map[string]*jobs.Job
	builds     map[string]*jobs.Build
	timestamps map[jobs.DataStandard]*jobs.DataStandardTimestamp
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:       make(map[string]*jobs.Job),
		builds:     make(map[string]*jobs.Build),
		timestamps: make(map[jobs.DataStandard]*jobs.DataStandardTimestamp),
	}
}

func (m *MemoryStore) GetJob(ctx context.Context, id string) (*jobs.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound.WithContext("job_id", id)
	}
	return j.Clone(), nil
}

func (m *MemoryStore) UpsertJob(ctx context.Context, job *jobs.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkVersion(m.jobs[job.ID] != nil, storedVersion(m.jobs[job.ID]), job.Version); err != nil {
		return err.WithContext("job_id", job.ID)
	}
	job.Version++
	m.jobs[job.ID] = job.Clone()
	return nil
}

func (m *MemoryStore) ListJobs(ctx context.Context, opts ListOptions) ([]*jobs.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]*jobs.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if opts.matches(j) {
			out = append(out, j.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID > out[b].ID
		}
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *MemoryStore) GetBuild(ctx context.Context, jobID string) (*jobs.Build, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.builds[jobID]
	if !ok {
		return nil, ErrNotFound.WithContext("job_id", jobID)
	}
	return b.Clone(), nil
}

func (m *MemoryStore) UpsertBuild(ctx context.Context, build *jobs.Build) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[build.JobID]; !ok {
		return ErrNotFound.WithContext("job_id", build.JobID)
	}
	existing := m.builds[build.JobID]
	var current int64
	if existing != nil {
		current = existing.Version
	}
	if err := checkVersion(existing != nil, current, build.Version); err != nil {
		return err.WithContext("job_id", build.JobID)
	}
	build.Version++
	m.builds[build.JobID] = build.Clone()
	return nil
}

func (m *MemoryStore) GetTimestamp(ctx context.Context, ds jobs.DataStandard) (*jobs.DataStandardTimestamp, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ts, ok := m.timestamps[ds]
	if !ok {
		return nil, ErrNotFound.WithContext("data_standard", string(ds))
	}
	cp := *ts
	return &cp, nil
}

func (m *MemoryStore) UpsertTimestamp(ctx context.Context, ts *jobs.DataStandardTimestamp) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.timestamps[ts.DataStandard]
	var current int64
	if existing != nil {
		current = existing.Version
	}
	if err := checkVersion(existing != nil, current, ts.Version); err != nil {
		return err.WithContext("data_standard", string(ts.DataStandard))
	}
	ts.Version++
	cp := *ts
	m.timestamps[ts.DataStandard] = &cp
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

func storedVersion(j *jobs.Job) int64 {
	if j == nil {
		return 0
	}
	return j.Version
}
