// Package gate decides whether new upstream data warrants building a job.
package gate

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/exchangeset/internal/jobs"
	"git.home.luguber.info/inful/exchangeset/internal/logfields"
	"git.home.luguber.info/inful/exchangeset/internal/metrics"
	"git.home.luguber.info/inful/exchangeset/internal/retry"
	"git.home.luguber.info/inful/exchangeset/internal/store"
	"git.home.luguber.info/inful/exchangeset/internal/upstream"
)

// Outcome is the gate's verdict for a job.
type Outcome string

const (
	OutcomeBuild    Outcome = "build"
	OutcomeUpToDate Outcome = "up_to_date"
	OutcomeFailed   Outcome = "failed"
)

// Decision explains a gate verdict.
type Decision struct {
	Outcome  Outcome
	Forced   bool
	Baseline time.Time
	Upstream time.Time
	Snapshot *upstream.Snapshot
	// Err is the upstream failure that made the outcome Failed.
	Err error
}

// Gate compares the stored timestamp baseline with the catalogue's latest timestamp.
type Gate struct {
	timestamps store.TimestampRepository
	jobs       store.JobRepository
	catalogue  upstream.CatalogueService
	policy     *retry.Source
	recorder   metrics.Recorder
	retryOpts  []retry.Option
	now        func() time.Time
}

// New creates a gate.
func New(timestamps store.TimestampRepository, jobRepo store.JobRepository, catalogue upstream.CatalogueService, policy retry.Policy) *Gate {
	return &Gate{
		timestamps: timestamps,
		jobs:       jobRepo,
		catalogue:  catalogue,
		policy:     retry.NewSource(policy),
		recorder:   metrics.NoopRecorder{},
		now:        time.Now,
	}
}

// WithRecorder sets the metrics recorder.
func (g *Gate) WithRecorder(r metrics.Recorder) *Gate {
	g.recorder = metrics.OrNoop(r)
	return g
}

// WithRetryOptions appends options used for every catalogue call.
func (g *Gate) WithRetryOptions(opts ...retry.Option) *Gate {
	g.retryOpts = append(g.retryOpts, opts...)
	return g
}

// SetPolicy replaces the retry policy used for catalogue calls.
func (g *Gate) SetPolicy(p retry.Policy) { g.policy.Set(p) }

// Evaluate computes a decision without touching the job. A caller supplied since replaces
// the stored baseline; force builds regardless of timestamps. Equal timestamps mean no new data.
func (g *Gate) Evaluate(ctx context.Context, ds jobs.DataStandard, since *time.Time, force bool) (*Decision, error) {
	baseline, err := g.baseline(ctx, ds, since)
	if err != nil {
		return nil, err
	}

	var sinceArg *time.Time
	if !baseline.IsZero() && !force {
		sinceArg = &baseline
	}
	opts := append([]retry.Option{retry.WithRecorder(g.recorder)}, g.retryOpts...)
	snap, err := retry.Call(ctx, g.policy.Policy(), "catalogue.latest_timestamp", func(ctx context.Context) (*upstream.Snapshot, error) {
		return g.catalogue.LatestTimestamp(ctx, ds, sinceArg)
	}, opts...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &Decision{Outcome: OutcomeFailed, Forced: force, Baseline: baseline, Err: err}, nil
	}

	d := &Decision{Forced: force, Baseline: baseline, Upstream: snap.Timestamp, Snapshot: snap}
	switch {
	case force:
		d.Outcome = OutcomeBuild
	case !snap.NotModified && snap.Timestamp.After(baseline):
		d.Outcome = OutcomeBuild
	default:
		d.Outcome = OutcomeUpToDate
	}
	return d, nil
}

// Check gates a created job, moving it to needs_build, up_to_date or failed and persisting it.
// The returned error reports persistence or cancellation problems; upstream failures are
// recorded on the job and reported through Decision.Err.
func (g *Gate) Check(ctx context.Context, job *jobs.Job) (*Decision, error) {
	d, err := g.Evaluate(ctx, job.DataStandard, job.Since, job.Force)
	if err != nil {
		return nil, err
	}

	now := g.now()
	switch d.Outcome {
	case OutcomeBuild:
		job.RecordSnapshot(d.Upstream)
		err = job.Transition(jobs.StateNeedsBuild, now)
	case OutcomeUpToDate:
		err = job.Transition(jobs.StateUpToDate, now)
	default:
		err = job.Fail(d.Err, now)
	}
	if err != nil {
		return nil, err
	}
	if err := g.jobs.UpsertJob(ctx, job); err != nil {
		return nil, err
	}

	g.recorder.IncGateDecision(string(job.DataStandard), gateLabel(d))
	g.recorder.IncJobState(string(job.DataStandard), string(job.State))

	attrs := []any{
		logfields.JobID(job.ID),
		logfields.DataStandard(string(job.DataStandard)),
		slog.String("outcome", string(d.Outcome)),
		slog.Time("baseline", d.Baseline),
		slog.Time("upstream", d.Upstream),
		slog.Bool("forced", d.Forced),
	}
	if d.Outcome == OutcomeFailed {
		slog.Warn("Gate failed to reach catalogue", append(attrs, logfields.Error(d.Err))...)
	} else {
		slog.Info("Gate decision", attrs...)
	}
	return d, nil
}

func (g *Gate) baseline(ctx context.Context, ds jobs.DataStandard, since *time.Time) (time.Time, error) {
	if since != nil {
		return since.UTC(), nil
	}
	return store.Baseline(ctx, g.timestamps, ds)
}

func gateLabel(d *Decision) metrics.GateDecision {
	switch {
	case d.Outcome == OutcomeFailed:
		return metrics.GateError
	case d.Forced:
		return metrics.GateForced
	case d.Outcome == OutcomeBuild:
		return metrics.GateBuild
	default:
		return metrics.GateUpToDate
	}
}
