// Package store defines the repositories for jobs, builds and data standard
// timestamps, with in-memory and SQLite implementations.
//
// Every record carries a Version used for optimistic concurrency. Upserting a
// record with Version 0 inserts it and fails with ErrConflict if it already
// exists; any other Version updates the record only if the stored version still
// matches. A successful upsert increments Version on the caller's value.
package store

import (
	"context"

	"git.home.luguber.info/inful/exchangeset/internal/foundation/errors"
	"git.home.luguber.info/inful/exchangeset/internal/jobs"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.NotFoundError("record not found").Build()
	// ErrConflict is returned when a record changed since it was read.
	ErrConflict = errors.ConflictError("record version conflict").Build()
)

// JobRepository persists jobs.
type JobRepository interface {
	GetJob(ctx context.Context, id string) (*jobs.Job, error)
	UpsertJob(ctx context.Context, job *jobs.Job) error
	ListJobs(ctx context.Context, opts ListOptions) ([]*jobs.Job, error)
}

// BuildRepository persists builds keyed by job id.
type BuildRepository interface {
	GetBuild(ctx context.Context, jobID string) (*jobs.Build, error)
	UpsertBuild(ctx context.Context, build *jobs.Build) error
}

// TimestampRepository persists the per data standard timestamp baseline.
type TimestampRepository interface {
	GetTimestamp(ctx context.Context, ds jobs.DataStandard) (*jobs.DataStandardTimestamp, error)
	UpsertTimestamp(ctx context.Context, ts *jobs.DataStandardTimestamp) error
}

// Store bundles all repositories behind one backend.
type Store interface {
	JobRepository
	BuildRepository
	TimestampRepository
	Close() error
}

// ListOptions filters ListJobs. Zero values match everything.
type ListOptions struct {
	DataStandard jobs.DataStandard
	State        jobs.State
	Limit        int
}

func (o ListOptions) matches(j *jobs.Job) bool {
	if o.DataStandard != "" && j.DataStandard != o.DataStandard {
		return false
	}
	if o.State != "" && j.State != o.State {
		return false
	}
	return true
}
