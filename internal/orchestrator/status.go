package orchestrator

import (
	"context"
	stdErrors "errors"
	"log/slog"

	"git.home.luguber.info/inful/exchangeset/internal/jobs"
	"git.home.luguber.info/inful/exchangeset/internal/logfields"
	"git.home.luguber.info/inful/exchangeset/internal/store"
)

// Status is a point-in-time view of a job and its build.
type Status struct {
	Job        *jobs.Job   `json:"job"`
	Build      *jobs.Build `json:"build,omitempty"`
	Consistent bool        `json:"consistent"`
}

// consistent reports whether job and build agree. Responses write the build before
// the job, so a finished build next to a dispatched job is a write in progress.
func (st *Status) consistent() bool {
	if st.Build == nil {
		return st.Job.State != jobs.StateSucceeded
	}
	switch st.Build.Result {
	case jobs.BuildSucceeded:
		return st.Job.State == jobs.StateSucceeded
	case jobs.BuildFailed:
		return st.Job.State == jobs.StateFailed
	default:
		return st.Job.State != jobs.StateSucceeded
	}
}

// Status reads a job and its build, re-reading until both agree or the configured
// attempts run out. The last view is returned either way with Consistent set accordingly.
func (s *Service) Status(ctx context.Context, jobID string) (*Status, error) {
	var st *Status
	for attempt := 1; ; attempt++ {
		job, err := s.store.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		build, err := s.store.GetBuild(ctx, jobID)
		if err != nil && !stdErrors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		st = &Status{Job: job, Build: build}
		st.Consistent = st.consistent()
		if st.Consistent || attempt >= s.opts.ConsistencyAttempts {
			break
		}
		slog.Debug("Job and build disagree, re-reading", logfields.JobID(jobID), logfields.Attempt(attempt))
		if err := s.sleep(ctx, s.opts.ConsistencyDelay); err != nil {
			return nil, err
		}
	}
	if !st.Consistent {
		slog.Warn("Status read did not converge", logfields.JobID(jobID), logfields.JobState(string(st.Job.State)))
	}
	return st, nil
}
